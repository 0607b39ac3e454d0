package codec

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// field describes one element of a parsed struct-pack format: a type
// code and, for numeric/char codes, a repeat count (the number of
// consecutive scalars of that code); for 's'/'p' the count is 1 and size
// holds the byte width of the string field.
type field struct {
	code  byte
	count int
	size  int // total bytes this field occupies
}

// Format is a parsed struct-pack descriptor: an optional byte-order marker followed by one or more
// (count?, code) groups.
type Format struct {
	Raw      string
	Order    binary.ByteOrder
	Fields   []field
	ItemSize int // bytes consumed by one record
	HasS     bool
	HasP     bool
}

const formatCodes = "xcbBhHiIlLfdspPqQ?"

func codeSize(code byte) int {
	switch code {
	case 'x', 'c', 'b', 'B', '?':
		return 1
	case 'h', 'H':
		return 2
	case 'i', 'I', 'l', 'L', 'f':
		return 4
	case 'q', 'Q', 'd', 'P':
		return 8
	default:
		return 0
	}
}

// ParseFormat parses a struct-pack format string. An empty format
// yields a zero-field, zero-size Format (valid only when paired with
// length == 0 or the 's'-format string path, both handled by the
// caller).
func ParseFormat(format string) (*Format, error) {
	f := &Format{Raw: format, Order: binary.BigEndian}

	if format == "" {
		return f, nil
	}

	i := 0
	switch format[0] {
	case '<':
		f.Order = binary.LittleEndian
		i++
	case '>', '!':
		f.Order = binary.BigEndian
		i++
	case '@', '=':
		f.Order = binary.BigEndian
		i++
	}

	for i < len(format) {
		start := i
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			i++
		}
		count := 1
		explicitCount := false
		if i > start {
			n, err := strconv.Atoi(format[start:i])
			if err != nil {
				return nil, fmt.Errorf("codec: invalid repeat count in format %q: %w", format, err)
			}
			count = n
			explicitCount = true
		}

		if i >= len(format) {
			return nil, fmt.Errorf("codec: format %q ends with a dangling repeat count", format)
		}

		code := format[i]
		i++

		size := codeSize(code)
		if size == 0 && code != 's' && code != 'p' {
			return nil, fmt.Errorf("codec: format %q uses unsupported type code %q", format, string(code))
		}

		switch code {
		case 's', 'p':
			width := count
			if !explicitCount {
				width = 1
			}
			f.Fields = append(f.Fields, field{code: code, count: 1, size: width})
			f.ItemSize += width
			if code == 's' {
				f.HasS = true
			} else {
				f.HasP = true
			}
		case 'x':
			f.Fields = append(f.Fields, field{code: code, count: count, size: count})
			f.ItemSize += count
		default:
			f.Fields = append(f.Fields, field{code: code, count: count, size: size})
			f.ItemSize += size * count
		}
	}

	return f, nil
}
