package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja"

	"github.com/isdmx/databox/dataset"
)

// enginePassthrough are property names the interpreter (or common script
// idioms) probe on arbitrary objects. A frame must answer these with
// undefined instead of raising a column error, or printing and awaiting a
// frame would blow up.
var enginePassthrough = map[string]bool{
	"then":                 true,
	"valueOf":              true,
	"constructor":          true,
	"prototype":            true,
	"__proto__":            true,
	"hasOwnProperty":       true,
	"propertyIsEnumerable": true,
	"isPrototypeOf":        true,
	"toLocaleString":       true,
	"inspect":              true,
	"nodeType":             true,
}

// frameObject adapts a dataset to a script-visible object. Column access
// goes through Get: known columns return their value arrays, a fixed method
// set provides the tabular operations, and any other name raises a
// ColumnError carrying the available columns.
type frameObject struct {
	env  *runEnv
	name string
	ds   *dataset.Dataset

	// extra holds script-assigned properties; they shadow columns and
	// methods on lookup but never touch the dataset.
	extra map[string]goja.Value
}

// newFrameValue binds a dataset into the VM and registers the object so
// result extraction can recover the dataset behind it.
func newFrameValue(env *runEnv, name string, ds *dataset.Dataset) *goja.Object {
	fr := &frameObject{env: env, name: name, ds: ds}
	obj := env.vm.NewDynamicObject(fr)
	env.frames[obj] = ds
	return obj
}

func (f *frameObject) Get(key string) goja.Value {
	if f.extra != nil {
		if v, ok := f.extra[key]; ok {
			return v
		}
	}

	switch key {
	case "columns":
		return f.env.vm.ToValue(append([]string(nil), f.ds.Columns...))
	case "length", "rows":
		return f.env.vm.ToValue(f.ds.NumRows())
	case "dtypes":
		return f.env.vm.ToValue(f.ds.Dtypes())
	case "col":
		return f.method(f.colMethod)
	case "head":
		return f.method(f.headMethod)
	case "tail":
		return f.method(f.tailMethod)
	case "select":
		return f.method(f.selectMethod)
	case "describe":
		return f.method(f.describeMethod)
	case "sum", "mean", "median", "min", "max":
		return f.method(f.aggregateMethod(key))
	case "count":
		return f.method(f.countMethod)
	case "unique":
		return f.method(f.uniqueMethod)
	case "sort":
		return f.method(f.sortMethod)
	case "filter":
		return f.method(f.filterMethod)
	case "toString":
		return f.method(func(goja.FunctionCall) goja.Value {
			return f.env.vm.ToValue(f.ds.String())
		})
	case "toJSON":
		return f.method(func(goja.FunctionCall) goja.Value {
			return f.env.vm.ToValue(f.ds.Records(f.ds.NumRows()))
		})
	}

	if col, ok := f.ds.Column(key); ok {
		return f.env.vm.ToValue(col)
	}
	if enginePassthrough[key] {
		return goja.Undefined()
	}

	f.env.throwColumnError(fmt.Sprintf("Column '%s' not found in '%s'. Available columns: [%s]",
		key, f.name, strings.Join(f.ds.Columns, ", ")))
	return goja.Undefined()
}

func (f *frameObject) Set(key string, val goja.Value) bool {
	if f.extra == nil {
		f.extra = make(map[string]goja.Value)
	}
	f.extra[key] = val
	return true
}

func (f *frameObject) Has(key string) bool {
	if f.extra != nil {
		if _, ok := f.extra[key]; ok {
			return true
		}
	}
	return f.ds.HasColumn(key)
}

func (f *frameObject) Delete(key string) bool {
	if f.extra != nil {
		delete(f.extra, key)
	}
	return true
}

func (f *frameObject) Keys() []string {
	keys := append([]string(nil), f.ds.Columns...)
	for k := range f.extra {
		keys = append(keys, k)
	}
	return keys
}

func (f *frameObject) method(fn func(goja.FunctionCall) goja.Value) goja.Value {
	return f.env.vm.ToValue(fn)
}

// column resolves a column argument or raises a ColumnError.
func (f *frameObject) column(v goja.Value) []any {
	name := v.String()
	col, ok := f.ds.Column(name)
	if !ok {
		f.env.throwColumnError(fmt.Sprintf("Column '%s' not found in '%s'. Available columns: [%s]",
			name, f.name, strings.Join(f.ds.Columns, ", ")))
	}
	return col
}

func (f *frameObject) colMethod(call goja.FunctionCall) goja.Value {
	return f.env.vm.ToValue(f.column(call.Argument(0)))
}

func (f *frameObject) headMethod(call goja.FunctionCall) goja.Value {
	n := argCount(call, 5)
	return newFrameValue(f.env, f.name, f.ds.Head(n))
}

func (f *frameObject) tailMethod(call goja.FunctionCall) goja.Value {
	n := argCount(call, 5)
	return newFrameValue(f.env, f.name, f.ds.Tail(n))
}

func (f *frameObject) selectMethod(call goja.FunctionCall) goja.Value {
	var names []string
	switch arg := exportAny(call.Argument(0)).(type) {
	case []any:
		for _, item := range arg {
			names = append(names, fmt.Sprint(item))
		}
	case string:
		names = []string{arg}
	}
	subset, err := f.ds.Select(names)
	if err != nil {
		f.env.throwColumnError(err.Error())
	}
	return newFrameValue(f.env, f.name, subset)
}

func (f *frameObject) describeMethod(goja.FunctionCall) goja.Value {
	return f.env.vm.ToValue(f.ds.Describe())
}

func (f *frameObject) aggregateMethod(name string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		xs := toFloats(f.column(call.Argument(0)))
		if len(xs) == 0 {
			return goja.Null()
		}
		switch name {
		case "sum":
			return f.env.vm.ToValue(sum(xs))
		case "mean":
			return f.env.vm.ToValue(mean(xs))
		case "median":
			return f.env.vm.ToValue(median(xs))
		case "min":
			return f.env.vm.ToValue(minOf(xs))
		default:
			return f.env.vm.ToValue(maxOf(xs))
		}
	}
}

// countMethod returns the non-null count of a column, or the row count when
// called without an argument.
func (f *frameObject) countMethod(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		return f.env.vm.ToValue(f.ds.NumRows())
	}
	col := f.column(call.Argument(0))
	n := 0
	for _, v := range col {
		if v != nil {
			n++
		}
	}
	return f.env.vm.ToValue(n)
}

func (f *frameObject) uniqueMethod(call goja.FunctionCall) goja.Value {
	col := f.column(call.Argument(0))
	seen := make(map[any]bool, len(col))
	var out []any
	for _, v := range col {
		key := v
		if !comparableValue(v) {
			key = fmt.Sprint(v)
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return f.env.vm.ToValue(out)
}

// sortMethod returns a new frame ordered by one column. Nulls sort last.
func (f *frameObject) sortMethod(call goja.FunctionCall) goja.Value {
	col := f.column(call.Argument(0))
	descending := call.Argument(1).ToBoolean()

	order := make([]int, len(col))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		va, vb := col[order[a]], col[order[b]]
		if va == nil {
			return false
		}
		if vb == nil {
			return true
		}
		less := lessValue(va, vb)
		if descending {
			return lessValue(vb, va)
		}
		return less
	})
	return newFrameValue(f.env, f.name, f.reorder(order))
}

// filterMethod keeps rows for which the predicate returns truthy. The
// predicate receives (record, index).
func (f *frameObject) filterMethod(call goja.FunctionCall) goja.Value {
	pred, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(f.env.vm.NewGoError(fmt.Errorf("filter expects a function argument")))
	}

	records := f.ds.Records(f.ds.NumRows())
	var keep []int
	for i, record := range records {
		v, err := pred(goja.Undefined(), f.env.vm.ToValue(record), f.env.vm.ToValue(i))
		if err != nil {
			panic(f.env.vm.NewGoError(err))
		}
		if v.ToBoolean() {
			keep = append(keep, i)
		}
	}
	return newFrameValue(f.env, f.name, f.reorder(keep))
}

// reorder builds a row-subset dataset following the given row indices.
func (f *frameObject) reorder(rows []int) *dataset.Dataset {
	types := make(map[string]dataset.Type, len(f.ds.Columns))
	values := make(map[string][]any, len(f.ds.Columns))
	for _, name := range f.ds.Columns {
		t, _ := f.ds.Type(name)
		types[name] = t
		col, _ := f.ds.Column(name)
		out := make([]any, len(rows))
		for i, idx := range rows {
			out[i] = col[idx]
		}
		values[name] = out
	}
	subset, err := dataset.New(append([]string(nil), f.ds.Columns...), types, values)
	if err != nil {
		panic(f.env.vm.NewGoError(err))
	}
	return subset
}

func argCount(call goja.FunctionCall, fallback int) int {
	if len(call.Arguments) == 0 || goja.IsUndefined(call.Argument(0)) {
		return fallback
	}
	return int(call.Argument(0).ToInteger())
}

func comparableValue(v any) bool {
	switch v.(type) {
	case nil, bool, string, int64, float64:
		return true
	default:
		return false
	}
}

func lessValue(a, b any) bool {
	af, aok := numericValue(a)
	bf, bok := numericValue(b)
	if aok && bok {
		return af < bf
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
