package serializer

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/isdmx/databox/dataset"
	"github.com/isdmx/databox/figure"
)

const (
	// MaxTableRows caps how many rows of a tabular value are emitted.
	MaxTableRows = 50
	// MaxFigureJSONSize caps an exported figure payload at 2 MiB.
	MaxFigureJSONSize = 2 * 1024 * 1024
)

// circularMarker replaces a container that contains itself.
const circularMarker = "<circular reference>"

// Serialize converts an arbitrary runtime value into a JSON-safe structure.
// It never fails: unsupported values degrade to their string form, NaN
// becomes null, infinities become the strings "Infinity"/"-Infinity",
// cyclic containers terminate at the marker string, and tabular values are
// truncated with explicit accounting.
func Serialize(v any) any {
	return serialize(v, map[uintptr]bool{})
}

func serialize(v any, seen map[uintptr]bool) any {
	if v == nil {
		return nil
	}

	switch val := v.(type) {
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val
	case float64:
		return serializeFloat(val)
	case float32:
		return serializeFloat(float64(val))
	case time.Time:
		return val.Format(time.RFC3339)
	case *dataset.Dataset:
		if val == nil {
			return nil
		}
		return serializeTable(val)
	case figure.Chart:
		return figureMap(EncodeFigure(val))
	case error:
		return val.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return circularMarker
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return serialize(rv.Elem().Interface(), seen)

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Cap() > 0 {
			ptr := rv.Pointer()
			if seen[ptr] {
				return circularMarker
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		return serializeList(rv, seen)

	case reflect.Array:
		return serializeList(rv, seen)

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return circularMarker
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().Interface()
			keyStr, ok := key.(string)
			if !ok {
				keyStr = fmt.Sprint(key)
			}
			out[keyStr] = serialize(iter.Value().Interface(), seen)
		}
		return out

	case reflect.Func, reflect.Chan:
		return fmt.Sprintf("<%s>", rv.Type())

	default:
		return fmt.Sprint(v)
	}
}

func serializeList(rv reflect.Value, seen map[uintptr]bool) []any {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = serialize(rv.Index(i).Interface(), seen)
	}
	return out
}

func serializeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return nil
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}

// serializeTable emits the tabular wire form: shape, columns, dtypes, and
// at most MaxTableRows leading rows with truncation accounting.
func serializeTable(ds *dataset.Dataset) map[string]any {
	total := ds.NumRows()
	display := total
	if display > MaxTableRows {
		display = MaxTableRows
	}

	records := ds.Records(display)
	head := make([]any, len(records))
	for i, record := range records {
		row := make(map[string]any, len(record))
		for col, val := range record {
			row[col] = Serialize(val)
		}
		head[i] = row
	}

	return map[string]any{
		"type":           "dataframe",
		"shape":          []any{total, len(ds.Columns)},
		"columns":        append([]string(nil), ds.Columns...),
		"dtypes":         ds.Dtypes(),
		"head":           head,
		"total_rows":     total,
		"displayed_rows": display,
		"truncated":      total > MaxTableRows,
	}
}
