package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fleetwire/ingestd/internal/codec"
	"github.com/fleetwire/ingestd/internal/ingesterr"
	"github.com/fleetwire/ingestd/internal/regtypes"
)

type wirePropertyRegistration struct {
	Path     string   `json:"path"`
	Index    *int     `json:"index"`
	Desc     string   `json:"desc"`
	Type     string   `json:"type"`
	Format   string   `json:"format"`
	Length   *int     `json:"length"`
	Settable bool     `json:"settable"`
	Gettable bool     `json:"gettable"`
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
	Step     *float64 `json:"step"`
	UIHidden *bool    `json:"ui_hidden"`
}

// ParsePropertyRegistration validates a register/prop payload.
func ParsePropertyRegistration(payload []byte) (*regtypes.PropertyRegistration, error) {
	var w wirePropertyRegistration
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ingesterr.ErrPayloadJSONInvalid, err)
	}

	if err := validatePath(w.Path); err != nil {
		return nil, err
	}

	if w.Index == nil || *w.Index < 0 {
		return nil, fmt.Errorf("%w: index must be a non-negative integer", ingesterr.ErrPayloadSchemaInvalid)
	}

	ptype := regtypes.PropertyType(w.Type)
	if !ptype.Valid() {
		return nil, fmt.Errorf("%w: type %q is not a known property type", ingesterr.ErrPayloadSchemaInvalid, w.Type)
	}

	if w.Length == nil || *w.Length < 0 {
		return nil, fmt.Errorf("%w: length must be a non-negative integer", ingesterr.ErrPayloadSchemaInvalid)
	}

	if w.Format == "" {
		if *w.Length != 0 {
			return nil, fmt.Errorf("%w: length must be 0 when format is empty", ingesterr.ErrPayloadSchemaInvalid)
		}
	} else if _, err := codec.ParseFormat(w.Format); err != nil {
		return nil, fmt.Errorf("%w: format %q is invalid: %v", ingesterr.ErrPayloadSchemaInvalid, w.Format, err)
	}

	return &regtypes.PropertyRegistration{
		Path:     w.Path,
		Index:    *w.Index,
		Desc:     w.Desc,
		Type:     ptype,
		Format:   w.Format,
		Length:   *w.Length,
		Settable: w.Settable,
		Gettable: w.Gettable,
		Min:      w.Min,
		Max:      w.Max,
		Step:     w.Step,
		UIHidden: w.UIHidden,
	}, nil
}

// validatePath enforces PropertyRegistration.path rule:
// slash-separated, no empty segments, printable ASCII minus '#', '$',
// '+', and DEL.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: path is required", ingesterr.ErrPayloadSchemaInvalid)
	}
	segments := strings.Split(path, "/")
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("%w: path %q has an empty segment", ingesterr.ErrPayloadSchemaInvalid, path)
		}
	}
	for _, r := range path {
		if r < 0x20 || r == 0x7F {
			return fmt.Errorf("%w: path %q contains a non-printable character", ingesterr.ErrPayloadSchemaInvalid, path)
		}
		if r > 0x7E {
			return fmt.Errorf("%w: path %q must be printable ASCII", ingesterr.ErrPayloadSchemaInvalid, path)
		}
		switch r {
		case '#', '$', '+':
			return fmt.Errorf("%w: path %q contains reserved character %q", ingesterr.ErrPayloadSchemaInvalid, path, string(r))
		}
	}
	return nil
}
