package serializer

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// typedArraySizes maps compact-array dtype codes to their element width in
// bytes. The raw bytes are little-endian, matching the producing runtimes.
var typedArraySizes = map[string]int{
	"i1": 1, "u1": 1,
	"i2": 2, "u2": 2,
	"i4": 4, "u4": 4,
	"i8": 8, "u8": 8,
	"f4": 4, "f8": 8,
}

// decodeTypedArray expands a {dtype, bdata, shape?} compact array into plain
// nested arrays of JSON-safe values.
func decodeTypedArray(dtype, bdata string, shape any) (any, error) {
	size, ok := typedArraySizes[dtype]
	if !ok {
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	raw, err := base64.StdEncoding.DecodeString(bdata)
	if err != nil {
		return nil, fmt.Errorf("decode bdata: %w", err)
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("bdata length %d is not a multiple of %d", len(raw), size)
	}

	count := len(raw) / size
	values := make([]any, count)
	for i := 0; i < count; i++ {
		chunk := raw[i*size:]
		switch dtype {
		case "i1":
			values[i] = int64(int8(chunk[0]))
		case "u1":
			values[i] = int64(chunk[0])
		case "i2":
			values[i] = int64(int16(binary.LittleEndian.Uint16(chunk)))
		case "u2":
			values[i] = int64(binary.LittleEndian.Uint16(chunk))
		case "i4":
			values[i] = int64(int32(binary.LittleEndian.Uint32(chunk)))
		case "u4":
			values[i] = int64(binary.LittleEndian.Uint32(chunk))
		case "i8":
			values[i] = int64(binary.LittleEndian.Uint64(chunk))
		case "u8":
			// Stays unsigned: values above MaxInt64 must not wrap negative.
			values[i] = binary.LittleEndian.Uint64(chunk)
		case "f4":
			values[i] = serializeFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk))))
		case "f8":
			values[i] = serializeFloat(math.Float64frombits(binary.LittleEndian.Uint64(chunk)))
		}
	}

	// An invalid shape is ignored rather than failing the decode; the flat
	// array is still correct output.
	if dims, ok := toIntSlice(shape); ok && len(dims) > 1 && product(dims) == count {
		return reshape(values, dims), nil
	}
	return values, nil
}

func reshape(values []any, dims []int) []any {
	if len(dims) <= 1 {
		return values
	}
	rows := dims[0]
	chunk := len(values) / rows
	out := make([]any, rows)
	for i := 0; i < rows; i++ {
		out[i] = reshape(values[i*chunk:(i+1)*chunk], dims[1:])
	}
	return out
}

func toIntSlice(v any) ([]int, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	dims := make([]int, len(list))
	for i, item := range list {
		switch n := item.(type) {
		case int:
			dims[i] = n
		case int64:
			dims[i] = int(n)
		case float64:
			dims[i] = int(n)
		default:
			return nil, false
		}
		if dims[i] <= 0 {
			return nil, false
		}
	}
	return dims, true
}

func product(dims []int) int {
	p := 1
	for _, d := range dims {
		p *= d
	}
	return p
}
