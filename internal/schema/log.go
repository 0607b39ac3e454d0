package schema

import (
	"encoding/json"
	"fmt"

	"github.com/fleetwire/ingestd/internal/ingesterr"
	"github.com/fleetwire/ingestd/internal/regtypes"
)

type wireLog struct {
	Severity string `json:"severity"`
	Text     string `json:"text"`
}

// ParseLog validates a system/log or app/log payload.
func ParseLog(payload []byte) (*regtypes.LogRecord, error) {
	var w wireLog
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ingesterr.ErrPayloadJSONInvalid, err)
	}

	level := regtypes.LogLevel(w.Severity)
	if !level.Valid() {
		return nil, fmt.Errorf("%w: severity %q is not a known log level", ingesterr.ErrPayloadSchemaInvalid, w.Severity)
	}

	if w.Text == "" {
		return nil, fmt.Errorf("%w: text is required", ingesterr.ErrPayloadSchemaInvalid)
	}

	return &regtypes.LogRecord{
		Severity: level,
		Text:     w.Text,
	}, nil
}
