package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/isdmx/databox/figure"
)

// FigurePayload is an exported chart: either a compact JSON document or an
// error describing why the payload was dropped. The figure itself is never
// lost; an oversized or unencodable chart keeps its slot with Error set.
type FigurePayload struct {
	JSON      string
	SizeBytes int
	Error     string
	Truncated bool
}

// EncodeFigure exports a chart to its JSON wire form. Typed-array payloads
// ({dtype, bdata, shape?}) are expanded to plain nested arrays because
// downstream renderers cannot consume the compact encoding, and payloads
// above MaxFigureJSONSize are replaced by a size error.
func EncodeFigure(c figure.Chart) FigurePayload {
	payload := map[string]any{
		"data":   c.TraceData(),
		"layout": c.LayoutData(),
	}
	normalized := normalizePayload(payload, map[uintptr]bool{})

	encoded, err := json.Marshal(normalized)
	if err != nil {
		return FigurePayload{Error: err.Error()}
	}
	if len(encoded) > MaxFigureJSONSize {
		sizeMB := float64(len(encoded)) / (1024 * 1024)
		return FigurePayload{
			SizeBytes: len(encoded),
			Error:     fmt.Sprintf("Figure too large (%.1fMB). Max is %dMB.", sizeMB, MaxFigureJSONSize/(1024*1024)),
			Truncated: true,
		}
	}
	return FigurePayload{JSON: string(encoded), SizeBytes: len(encoded)}
}

// normalizePayload walks a figure payload, expanding typed arrays and
// passing every scalar through the loss-aware serializer. A typed array
// that fails to decode falls back to structural normalization of the
// container instead of failing the chart.
func normalizePayload(v any, seen map[uintptr]bool) any {
	switch val := v.(type) {
	case map[string]any:
		dtype, hasDtype := val["dtype"].(string)
		bdata, hasBdata := val["bdata"].(string)
		if hasDtype && hasBdata {
			if expanded, err := decodeTypedArray(dtype, bdata, val["shape"]); err == nil {
				return expanded
			}
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizePayload(item, seen)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizePayload(item, seen)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizePayload(item, seen)
		}
		return out
	default:
		return serialize(v, seen)
	}
}

func figureMap(p FigurePayload) map[string]any {
	out := map[string]any{"type": "figure"}
	if p.Error != "" {
		out["json"] = nil
		out["error"] = p.Error
		if p.SizeBytes > 0 {
			out["size_bytes"] = p.SizeBytes
		}
		if p.Truncated {
			out["truncated"] = true
		}
		return out
	}
	out["json"] = p.JSON
	out["size_bytes"] = p.SizeBytes
	return out
}
