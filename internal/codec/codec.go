// Package codec implements the Value Codec: packing and
// unpacking property values between a binary buffer and a structured
// representation, per-type bounds validation, and JSON-formatting of
// composite values.
//
// There is no reflection-based struct.pack equivalent in the retrieval
// pack (see DESIGN.md), so the scalar codec here is hand-rolled on top of
// encoding/binary, grounded on the fixed-width field decoding style used
// by the wire-protocol packet types in the retrieval pack's binary
// codecs (length-prefixed/fixed-width fields decoded field-by-field into
// a typed struct).
package codec

import (
	"fmt"
	"strings"

	"github.com/fleetwire/ingestd/internal/ingesterr"
	"github.com/fleetwire/ingestd/internal/regtypes"
)

// errTypeMismatch aliases ErrPropertyFormat for scalar-type mismatches
// encountered while packing.
var errTypeMismatch = ingesterr.ErrPropertyFormat

// Record is one ordered sequence of scalars: a numeric, boolean, or
// string element. 64-bit struct-pack codes decode to int64/uint64 — never
// narrowed to a native int32.
type Record []any

// Value is the decoded representation of a property payload: an ordered
// sequence of Records.
type Value []Record

// TruncatePolicy controls UnpackFromJSON's behavior when a primitive
// numeric JSON array carries more entries than the registration's
// declared length.
type TruncatePolicy int

const (
	// PolicyError rejects excess entries with ErrPropertyFormat. Default.
	PolicyError TruncatePolicy = iota
	// PolicyTruncate silently drops excess entries. Opt-in only.
	PolicyTruncate
)

// Unpack decodes raw bytes into a Value per a property's registration,
// validating bounds along the way.
func Unpack(payload []byte, reg *regtypes.PropertyRegistration) (Value, error) {
	if reg.Type == regtypes.PropertyTypePrimitive && strings.ContainsRune(reg.Format, 's') {
		if len(payload) == 0 {
			return Value{{""}}, nil
		}
		effectiveLen := reg.Length
		if len(payload) < effectiveLen {
			effectiveLen = len(payload)
		}
		return Value{{string(payload[:effectiveLen])}}, nil
	}

	f, err := ParseFormat(reg.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ingesterr.ErrPropertyFormat, err)
	}

	var out Value
	if f.ItemSize == 0 {
		return out, nil
	}

	buf := payload
	for len(out) < reg.Length && len(buf) >= f.ItemSize {
		rec, err := decodeRecord(f, buf[:f.ItemSize])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ingesterr.ErrPropertyFormat, err)
		}
		if err := validateBounds(reg, rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
		buf = buf[f.ItemSize:]
	}
	// Trailing bytes that do not form a full item are discarded.
	return out, nil
}

// validateBounds applies step 3: registration min/max for
// gmbnd_primitive, fixed per-position ranges for composite types.
// Non-numeric scalars (strings, booleans) pass through unchecked.
func validateBounds(reg *regtypes.PropertyRegistration, rec Record) error {
	switch reg.Type {
	case regtypes.PropertyTypePrimitive:
		for _, scalar := range rec {
			v, ok := numericValue(scalar)
			if !ok {
				continue
			}
			if reg.Min != nil && v < *reg.Min {
				return fmt.Errorf("%w: value %v below min %v", ingesterr.ErrPropertyFormat, v, *reg.Min)
			}
			if reg.Max != nil && v > *reg.Max {
				return fmt.Errorf("%w: value %v above max %v", ingesterr.ErrPropertyFormat, v, *reg.Max)
			}
		}
		return nil
	case regtypes.PropertyTypeColor, regtypes.PropertyTypeLED:
		want := reg.Type.FieldCount()
		if len(rec) != want {
			return fmt.Errorf("%w: composite record has %d fields, want %d", ingesterr.ErrIncorrectValueCount, len(rec), want)
		}
		for i, scalar := range rec {
			v, ok := numericValue(scalar)
			if !ok {
				continue
			}
			min, max, _ := reg.Type.FieldRange(i)
			if v < min || v > max {
				return fmt.Errorf("%w: field %d value %v outside [%v,%v]", ingesterr.ErrPropertyFormat, i, v, min, max)
			}
		}
		return nil
	default:
		return nil
	}
}

func numericValue(scalar any) (float64, bool) {
	switch v := scalar.(type) {
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint32:
		return float64(v), true
	default:
		return 0, false
	}
}

// JSONFormat maps a decoded Value to its display form: gmbnd_primitive flattens to one ordered
// sequence of scalars, composites become an ordered sequence of
// field-name-keyed records.
func JSONFormat(v Value, reg *regtypes.PropertyRegistration) (any, error) {
	switch reg.Type {
	case regtypes.PropertyTypePrimitive:
		flat := make([]any, 0, len(v))
		for _, rec := range v {
			flat = append(flat, rec...)
		}
		return flat, nil
	case regtypes.PropertyTypeColor, regtypes.PropertyTypeLED:
		fields := fieldNames(reg.Type)
		out := make([]map[string]any, 0, len(v))
		for _, rec := range v {
			if len(rec) != len(fields) {
				return nil, fmt.Errorf("%w: composite record has %d fields, want %d", ingesterr.ErrIncorrectValueCount, len(rec), len(fields))
			}
			obj := make(map[string]any, len(fields))
			for i, name := range fields {
				obj[name] = rec[i]
			}
			out = append(out, obj)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown property type %q", ingesterr.ErrPropertyFormat, reg.Type)
	}
}

func fieldNames(t regtypes.PropertyType) []string {
	switch t {
	case regtypes.PropertyTypeColor:
		return regtypes.ColorFields
	case regtypes.PropertyTypeLED:
		return regtypes.LEDFields
	default:
		return nil
	}
}

// UnpackFromJSON is the inverse of JSONFormat: it takes a JSON-shaped
// display value (already decoded from JSON into Go values by the caller)
// and reconstructs a Value ready for Pack.
func UnpackFromJSON(in any, reg *regtypes.PropertyRegistration, policy TruncatePolicy) (Value, error) {
	if reg.Type == regtypes.PropertyTypePrimitive && strings.ContainsRune(reg.Format, 's') {
		s, ok := in.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected a string for format %q", ingesterr.ErrPropertyFormat, reg.Format)
		}
		if len(s) > reg.Length {
			s = s[:reg.Length]
		}
		return Value{{s}}, nil
	}

	switch reg.Type {
	case regtypes.PropertyTypePrimitive:
		flat, ok := in.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected an array for primitive format %q", ingesterr.ErrPropertyFormat, reg.Format)
		}
		f, err := ParseFormat(reg.Format)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ingesterr.ErrPropertyFormat, err)
		}
		chunk := scalarsPerRecord(f)
		if chunk == 0 {
			return Value{}, nil
		}
		maxScalars := reg.Length * chunk
		if len(flat) > maxScalars {
			if policy == PolicyError {
				return nil, fmt.Errorf("%w: %d values exceed registered length %d", ingesterr.ErrPropertyFormat, len(flat), reg.Length)
			}
			flat = flat[:maxScalars]
		}
		var out Value
		for i := 0; i < len(flat); i += chunk {
			end := i + chunk
			if end > len(flat) {
				end = len(flat)
			}
			rec := Record(append([]any{}, flat[i:end]...))
			if err := validateBounds(reg, rec); err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil

	case regtypes.PropertyTypeColor, regtypes.PropertyTypeLED:
		items, ok := in.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected an array of objects for %q", ingesterr.ErrPropertyFormat, reg.Type)
		}
		fields := fieldNames(reg.Type)
		out := make(Value, 0, len(items))
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: composite entry is not an object", ingesterr.ErrPropertyFormat)
			}
			if len(obj) != len(fields) {
				return nil, fmt.Errorf("%w: composite entry has %d fields, want %d", ingesterr.ErrPropertyFormat, len(obj), len(fields))
			}
			rec := make(Record, len(fields))
			for i, name := range fields {
				v, ok := obj[name]
				if !ok {
					return nil, fmt.Errorf("%w: composite entry missing field %q", ingesterr.ErrPropertyFormat, name)
				}
				rec[i] = v
			}
			if err := validateBounds(reg, rec); err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown property type %q", ingesterr.ErrPropertyFormat, reg.Type)
	}
}

// scalarsPerRecord returns how many scalars one decoded record holds for
// a parsed non-string format (the sum of each field's repeat count,
// excluding pad bytes).
func scalarsPerRecord(f *Format) int {
	n := 0
	for _, fl := range f.Fields {
		if fl.code == 'x' {
			continue
		}
		n += fl.count
	}
	return n
}

// Pack encodes a Value into raw bytes per a property's registration.
// The 's' format is special-cased: the format is rewritten to "<n>s"
// where n is the first record's first scalar's UTF-8 byte length.
func Pack(v Value, reg *regtypes.PropertyRegistration) ([]byte, error) {
	if reg.Type == regtypes.PropertyTypePrimitive && strings.ContainsRune(reg.Format, 's') {
		if len(v) == 0 || len(v[0]) == 0 {
			return nil, fmt.Errorf("%w: string format requires at least one scalar", ingesterr.ErrPropertyFormat)
		}
		s, ok := v[0][0].(string)
		if !ok {
			return nil, fmt.Errorf("%w: first scalar must be a string for format %q", ingesterr.ErrPropertyFormat, reg.Format)
		}
		byteLen := len(s)
		f := &Format{Fields: []field{{code: 's', count: 1, size: byteLen}}, ItemSize: byteLen}
		return encodeRecord(f, Record{s})
	}

	f, err := ParseFormat(reg.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ingesterr.ErrPropertyFormat, err)
	}

	var out []byte
	for _, rec := range v {
		b, err := encodeRecord(f, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}
