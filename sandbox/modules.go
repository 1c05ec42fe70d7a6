package sandbox

import (
	"fmt"
	"math"
	"sort"

	"github.com/dop251/goja"

	"github.com/isdmx/databox/figure"
)

// plotModule exposes the chart constructors. Every constructor returns a
// *figure.Figure so scripts can chain layout updates and the extraction
// pass can recognize the value as a chart.
func (e *runEnv) plotModule() goja.Value {
	mod := e.vm.NewObject()

	trace := func(traceType string, fields map[string]any, opts map[string]any) *figure.Figure {
		fig := figure.New(nil, nil)
		t := map[string]any{"type": traceType}
		for k, v := range fields {
			t[k] = v
		}
		var title any
		for k, v := range opts {
			if k == "title" {
				title = v
				continue
			}
			t[k] = v
		}
		fig.AddTrace(t)
		if s, ok := title.(string); ok && s != "" {
			fig.Title(s)
		}
		return fig
	}

	_ = mod.Set("bar", func(call goja.FunctionCall) goja.Value {
		return e.vm.ToValue(trace("bar", map[string]any{
			"x": exportAny(call.Argument(0)),
			"y": exportAny(call.Argument(1)),
		}, exportMap(call.Argument(2))))
	})
	_ = mod.Set("line", func(call goja.FunctionCall) goja.Value {
		return e.vm.ToValue(trace("scatter", map[string]any{
			"mode": "lines",
			"x":    exportAny(call.Argument(0)),
			"y":    exportAny(call.Argument(1)),
		}, exportMap(call.Argument(2))))
	})
	_ = mod.Set("scatter", func(call goja.FunctionCall) goja.Value {
		return e.vm.ToValue(trace("scatter", map[string]any{
			"mode": "markers",
			"x":    exportAny(call.Argument(0)),
			"y":    exportAny(call.Argument(1)),
		}, exportMap(call.Argument(2))))
	})
	_ = mod.Set("pie", func(call goja.FunctionCall) goja.Value {
		return e.vm.ToValue(trace("pie", map[string]any{
			"labels": exportAny(call.Argument(0)),
			"values": exportAny(call.Argument(1)),
		}, exportMap(call.Argument(2))))
	})
	_ = mod.Set("histogram", func(call goja.FunctionCall) goja.Value {
		return e.vm.ToValue(trace("histogram", map[string]any{
			"x": exportAny(call.Argument(0)),
		}, exportMap(call.Argument(1))))
	})
	_ = mod.Set("figure", func(call goja.FunctionCall) goja.Value {
		spec := exportMap(call.Argument(0))
		fig := figure.New(nil, nil)
		if data, ok := spec["data"].([]any); ok {
			for _, item := range data {
				if t, ok := item.(map[string]any); ok {
					fig.AddTrace(t)
				}
			}
		}
		if layout, ok := spec["layout"].(map[string]any); ok {
			fig.UpdateLayout(layout)
		}
		return e.vm.ToValue(fig)
	})

	return mod
}

// numModule exposes array construction and elementwise helpers. Allocation
// sizes are hard-capped; the static gate rejects the obvious bomb shapes
// and this cap backs it for anything that slipped through.
func (e *runEnv) numModule() goja.Value {
	mod := e.vm.NewObject()

	reduce := func(name string, f func([]float64) float64) {
		_ = mod.Set(name, func(call goja.FunctionCall) goja.Value {
			xs := e.floatsArg(call.Argument(0), name)
			if len(xs) == 0 {
				return goja.Null()
			}
			return e.vm.ToValue(f(xs))
		})
	}

	_ = mod.Set("range", func(call goja.FunctionCall) goja.Value {
		n := call.Argument(0).ToInteger()
		e.checkAlloc(n, "range")
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(i)
		}
		return e.vm.ToValue(out)
	})
	_ = mod.Set("zeros", func(call goja.FunctionCall) goja.Value {
		n := call.Argument(0).ToInteger()
		e.checkAlloc(n, "zeros")
		return e.vm.ToValue(make([]float64, n))
	})
	_ = mod.Set("ones", func(call goja.FunctionCall) goja.Value {
		n := call.Argument(0).ToInteger()
		e.checkAlloc(n, "ones")
		out := make([]float64, n)
		for i := range out {
			out[i] = 1
		}
		return e.vm.ToValue(out)
	})
	_ = mod.Set("linspace", func(call goja.FunctionCall) goja.Value {
		start := call.Argument(0).ToFloat()
		stop := call.Argument(1).ToFloat()
		n := call.Argument(2).ToInteger()
		e.checkAlloc(n, "linspace")
		out := make([]float64, n)
		if n == 1 {
			out[0] = start
		} else {
			step := (stop - start) / float64(n-1)
			for i := range out {
				out[i] = start + float64(i)*step
			}
		}
		return e.vm.ToValue(out)
	})

	reduce("sum", sum)
	reduce("mean", mean)
	reduce("min", minOf)
	reduce("max", maxOf)
	reduce("std", stddev)

	_ = mod.Set("abs", func(call goja.FunctionCall) goja.Value {
		return e.vm.ToValue(math.Abs(call.Argument(0).ToFloat()))
	})
	_ = mod.Set("sqrt", func(call goja.FunctionCall) goja.Value {
		return e.vm.ToValue(math.Sqrt(call.Argument(0).ToFloat()))
	})
	_ = mod.Set("round", func(call goja.FunctionCall) goja.Value {
		x := call.Argument(0).ToFloat()
		digits := call.Argument(1).ToInteger()
		scale := math.Pow(10, float64(digits))
		return e.vm.ToValue(math.Round(x*scale) / scale)
	})

	return mod
}

// statsModule exposes descriptive statistics over numeric arrays.
func (e *runEnv) statsModule() goja.Value {
	mod := e.vm.NewObject()

	reduce := func(name string, f func([]float64) float64) {
		_ = mod.Set(name, func(call goja.FunctionCall) goja.Value {
			xs := e.floatsArg(call.Argument(0), name)
			if len(xs) == 0 {
				return goja.Null()
			}
			return e.vm.ToValue(f(xs))
		})
	}

	reduce("mean", mean)
	reduce("median", median)
	reduce("std", stddev)
	reduce("variance", variance)
	reduce("min", minOf)
	reduce("max", maxOf)
	reduce("sum", sum)

	_ = mod.Set("quantile", func(call goja.FunctionCall) goja.Value {
		xs := e.floatsArg(call.Argument(0), "quantile")
		q := call.Argument(1).ToFloat()
		if len(xs) == 0 || q < 0 || q > 1 {
			return goja.Null()
		}
		return e.vm.ToValue(quantile(xs, q))
	})
	_ = mod.Set("corr", func(call goja.FunctionCall) goja.Value {
		xs := e.floatsArg(call.Argument(0), "corr")
		ys := e.floatsArg(call.Argument(1), "corr")
		if len(xs) < 2 || len(xs) != len(ys) {
			return goja.Null()
		}
		return e.vm.ToValue(pearson(xs, ys))
	})

	return mod
}

// floatsArg converts an array argument to floats, skipping nulls and
// non-numeric entries the way column aggregates do.
func (e *runEnv) floatsArg(v goja.Value, what string) []float64 {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		panic(e.vm.NewGoError(fmt.Errorf("%s expects an array argument", what)))
	}
	return toFloats(v.Export())
}

func toFloats(v any) []float64 {
	switch vals := v.(type) {
	case []float64:
		return vals
	case []int64:
		out := make([]float64, len(vals))
		for i, n := range vals {
			out[i] = float64(n)
		}
		return out
	case []any:
		out := make([]float64, 0, len(vals))
		for _, item := range vals {
			switch n := item.(type) {
			case float64:
				out = append(out, n)
			case int64:
				out = append(out, float64(n))
			case int:
				out = append(out, float64(n))
			case bool:
				if n {
					out = append(out, 1)
				} else {
					out = append(out, 0)
				}
			}
		}
		return out
	default:
		return nil
	}
}

func exportAny(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func exportMap(v goja.Value) map[string]any {
	if m, ok := exportAny(v).(map[string]any); ok {
		return m
	}
	return nil
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func mean(xs []float64) float64 {
	return sum(xs) / float64(len(xs))
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// variance is the sample variance (n-1 denominator).
func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	total := 0.0
	for _, x := range xs {
		d := x - m
		total += d * d
	}
	return total / float64(len(xs)-1)
}

func stddev(xs []float64) float64 {
	return math.Sqrt(variance(xs))
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// quantile interpolates linearly between order statistics.
func quantile(xs []float64, q float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func pearson(xs, ys []float64) float64 {
	mx, my := mean(xs), mean(ys)
	var cov, vx, vy float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}
