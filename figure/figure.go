// Package figure defines the chart artifact produced by analysis scripts.
//
// A Figure is a plotly-style description (a list of traces plus a layout)
// built by the sandbox's plot module. The Chart interface is the capability
// checked during artifact extraction; it is implemented only by *Figure, so
// extraction is an interface assertion rather than attribute probing.
package figure

// Margin holds per-side margins in pixels.
type Margin struct {
	L int
	R int
	T int
	B int
}

// MinMargins is the minimum margin applied to every extracted figure so
// axis labels and titles are not clipped by downstream renderers.
var MinMargins = Margin{L: 80, R: 80, T: 100, B: 100}

// Chart is the capability implemented by renderable chart objects.
type Chart interface {
	TraceData() []map[string]any
	LayoutData() map[string]any
	EnsureMinMargins(min Margin)
}

// Figure is a chart built from traces and a layout.
type Figure struct {
	Traces []map[string]any
	Layout map[string]any
}

// New creates a Figure. Nil traces and layout are normalized to empty values
// so script-side mutation helpers never hit a nil map.
func New(traces []map[string]any, layout map[string]any) *Figure {
	if traces == nil {
		traces = []map[string]any{}
	}
	if layout == nil {
		layout = map[string]any{}
	}
	return &Figure{Traces: traces, Layout: layout}
}

// TraceData returns the figure's traces.
func (f *Figure) TraceData() []map[string]any { return f.Traces }

// LayoutData returns the figure's layout.
func (f *Figure) LayoutData() map[string]any { return f.Layout }

// Title sets the layout title and returns the figure for chaining.
func (f *Figure) Title(title string) *Figure {
	f.Layout["title"] = title
	return f
}

// UpdateLayout shallow-merges patch into the layout.
func (f *Figure) UpdateLayout(patch map[string]any) *Figure {
	for k, v := range patch {
		f.Layout[k] = v
	}
	return f
}

// UpdateXAxes merges patch into the layout's xaxis settings.
func (f *Figure) UpdateXAxes(patch map[string]any) *Figure {
	f.mergeLayoutSection("xaxis", patch)
	return f
}

// UpdateYAxes merges patch into the layout's yaxis settings.
func (f *Figure) UpdateYAxes(patch map[string]any) *Figure {
	f.mergeLayoutSection("yaxis", patch)
	return f
}

// UpdateTraces merges patch into every trace.
func (f *Figure) UpdateTraces(patch map[string]any) *Figure {
	for _, trace := range f.Traces {
		for k, v := range patch {
			trace[k] = v
		}
	}
	return f
}

// UpdateAnnotations merges patch into every annotation in the layout.
func (f *Figure) UpdateAnnotations(patch map[string]any) *Figure {
	anns, ok := f.Layout["annotations"].([]any)
	if !ok {
		return f
	}
	for _, a := range anns {
		ann, ok := a.(map[string]any)
		if !ok {
			continue
		}
		for k, v := range patch {
			ann[k] = v
		}
	}
	return f
}

// AddAnnotation appends an annotation to the layout.
func (f *Figure) AddAnnotation(ann map[string]any) *Figure {
	anns, _ := f.Layout["annotations"].([]any)
	f.Layout["annotations"] = append(anns, any(ann))
	return f
}

// AddTrace appends a trace to the figure.
func (f *Figure) AddTrace(trace map[string]any) *Figure {
	if trace != nil {
		f.Traces = append(f.Traces, trace)
	}
	return f
}

// EnsureMinMargins raises the layout margins to at least min on every side
// and enables autosize. Margins are only ever increased.
func (f *Figure) EnsureMinMargins(min Margin) {
	current, _ := f.Layout["margin"].(map[string]any)
	margin := map[string]any{
		"l": maxMargin(current, "l", min.L),
		"r": maxMargin(current, "r", min.R),
		"t": maxMargin(current, "t", min.T),
		"b": maxMargin(current, "b", min.B),
	}
	f.Layout["margin"] = margin
	f.Layout["autosize"] = true
}

func (f *Figure) mergeLayoutSection(key string, patch map[string]any) {
	section, ok := f.Layout[key].(map[string]any)
	if !ok {
		section = map[string]any{}
		f.Layout[key] = section
	}
	for k, v := range patch {
		section[k] = v
	}
}

func maxMargin(current map[string]any, side string, min int) int {
	if current == nil {
		return min
	}
	if v, ok := asInt(current[side]); ok && v > min {
		return v
	}
	return min
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
