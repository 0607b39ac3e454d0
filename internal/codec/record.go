package codec

import (
	"fmt"
	"math"
)

// decodeRecord decodes exactly f.ItemSize bytes (buf must be that long)
// into one Record per f's field list.
func decodeRecord(f *Format, buf []byte) (Record, error) {
	var rec Record
	off := 0

	for _, fl := range f.Fields {
		switch fl.code {
		case 'x':
			off += fl.size

		case 's':
			rec = append(rec, string(buf[off:off+fl.size]))
			off += fl.size

		case 'p':
			if fl.size == 0 {
				rec = append(rec, "")
				continue
			}
			n := int(buf[off])
			avail := fl.size - 1
			if n > avail {
				n = avail
			}
			rec = append(rec, string(buf[off+1:off+1+n]))
			off += fl.size

		case 'c':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, string(buf[off:off+1]))
				off++
			}

		case '?':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, buf[off] != 0)
				off++
			}

		case 'b':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, int64(int8(buf[off])))
				off++
			}
		case 'B':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, uint64(buf[off]))
				off++
			}
		case 'h':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, int64(int16(f.Order.Uint16(buf[off:off+2]))))
				off += 2
			}
		case 'H':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, uint64(f.Order.Uint16(buf[off:off+2])))
				off += 2
			}
		case 'i', 'l':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, int64(int32(f.Order.Uint32(buf[off:off+4]))))
				off += 4
			}
		case 'I', 'L':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, uint64(f.Order.Uint32(buf[off:off+4])))
				off += 4
			}
		case 'f':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, float64(math.Float32frombits(f.Order.Uint32(buf[off:off+4]))))
				off += 4
			}
		case 'd':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, math.Float64frombits(f.Order.Uint64(buf[off:off+8])))
				off += 8
			}
		case 'q':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, int64(f.Order.Uint64(buf[off:off+8])))
				off += 8
			}
		case 'Q':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, f.Order.Uint64(buf[off:off+8]))
				off += 8
			}
		case 'P':
			for i := 0; i < fl.count; i++ {
				rec = append(rec, f.Order.Uint64(buf[off:off+8]))
				off += 8
			}
		default:
			return nil, fmt.Errorf("codec: unsupported field code %q", string(fl.code))
		}
	}

	return rec, nil
}

// encodeRecord encodes one Record per f's field list, consuming scalars
// from rec in order.
func encodeRecord(f *Format, rec Record) ([]byte, error) {
	buf := make([]byte, f.ItemSize)
	off := 0
	idx := 0

	next := func() (any, error) {
		if idx >= len(rec) {
			return nil, fmt.Errorf("codec: record has too few scalars for format %q", f.Raw)
		}
		v := rec[idx]
		idx++
		return v, nil
	}

	for _, fl := range f.Fields {
		switch fl.code {
		case 'x':
			off += fl.size
			continue
		case 's':
			s, err := asString(&idx, rec)
			if err != nil {
				return nil, err
			}
			copy(buf[off:off+fl.size], []byte(s))
			off += fl.size
			continue
		case 'p':
			s, err := asString(&idx, rec)
			if err != nil {
				return nil, err
			}
			avail := fl.size - 1
			if avail < 0 {
				avail = 0
			}
			n := len(s)
			if n > avail {
				n = avail
			}
			if fl.size > 0 {
				buf[off] = byte(n)
				copy(buf[off+1:off+1+n], []byte(s)[:n])
			}
			off += fl.size
			continue
		case 'c':
			for i := 0; i < fl.count; i++ {
				s, err := asString(&idx, rec)
				if err != nil {
					return nil, err
				}
				if len(s) > 0 {
					buf[off] = s[0]
				}
				off++
			}
			continue
		}

		for i := 0; i < fl.count; i++ {
			v, err := next()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errTypeMismatch, err)
			}
			if err := encodeScalar(f, buf, &off, fl.code, v); err != nil {
				return nil, err
			}
		}
	}

	return buf, nil
}

func asString(idx *int, rec Record) (string, error) {
	if *idx >= len(rec) {
		return "", fmt.Errorf("codec: record has too few scalars")
	}
	v := rec[*idx]
	*idx++
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected a string scalar, got %T", errTypeMismatch, v)
	}
	return s, nil
}

func encodeScalar(f *Format, buf []byte, off *int, code byte, v any) error {
	switch code {
	case '?':
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: expected a bool for code '?', got %T", errTypeMismatch, v)
		}
		if b {
			buf[*off] = 1
		} else {
			buf[*off] = 0
		}
		*off++
	case 'b', 'B':
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		buf[*off] = byte(n)
		*off++
	case 'h', 'H':
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		f.Order.PutUint16(buf[*off:*off+2], uint16(n))
		*off += 2
	case 'i', 'I', 'l', 'L':
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		f.Order.PutUint32(buf[*off:*off+4], uint32(n))
		*off += 4
	case 'f':
		n, err := asFloat64(v)
		if err != nil {
			return err
		}
		f.Order.PutUint32(buf[*off:*off+4], math.Float32bits(float32(n)))
		*off += 4
	case 'd':
		n, err := asFloat64(v)
		if err != nil {
			return err
		}
		f.Order.PutUint64(buf[*off:*off+8], math.Float64bits(n))
		*off += 8
	case 'q', 'Q', 'P':
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		f.Order.PutUint64(buf[*off:*off+8], uint64(n))
		*off += 8
	default:
		return fmt.Errorf("codec: unsupported field code %q", string(code))
	}
	return nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: expected a numeric scalar, got %T", errTypeMismatch, v)
	}
}

func asFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: expected a numeric scalar, got %T", errTypeMismatch, v)
	}
}
