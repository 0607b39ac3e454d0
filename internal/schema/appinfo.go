package schema

import (
	"encoding/json"
	"fmt"

	"github.com/fleetwire/ingestd/internal/ingesterr"
	"github.com/fleetwire/ingestd/internal/regtypes"
)

type wireApplicationInfo struct {
	FileName string `json:"file_name"`
	Ver      string `json:"ver"`
	GBPkgVer string `json:"gb_pkg_ver"`
	NumProps *int   `json:"num_props"`
}

// ParseApplicationInfo validates an app/info payload.
func ParseApplicationInfo(payload []byte) (*regtypes.ApplicationInfo, error) {
	var w wireApplicationInfo
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ingesterr.ErrPayloadJSONInvalid, err)
	}

	if w.NumProps == nil || *w.NumProps < 0 {
		return nil, fmt.Errorf("%w: num_props must be a non-negative integer", ingesterr.ErrPayloadSchemaInvalid)
	}

	return &regtypes.ApplicationInfo{
		FileName: w.FileName,
		Ver:      w.Ver,
		GBPkgVer: w.GBPkgVer,
		NumProps: *w.NumProps,
	}, nil
}
