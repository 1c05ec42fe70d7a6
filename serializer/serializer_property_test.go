package serializer

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// anyValue draws an arbitrary nested value of the kinds script results
// actually contain, deliberately including non-finite floats.
func anyValue(t *rapid.T, depth int) any {
	max := 6
	if depth >= 2 {
		max = 4
	}
	switch rapid.IntRange(0, max).Draw(t, "kind") {
	case 0:
		return rapid.Float64().Draw(t, "float")
	case 1:
		return rapid.Int64().Draw(t, "int")
	case 2:
		return rapid.String().Draw(t, "string")
	case 3:
		return rapid.SampledFrom([]any{nil, true, false, math.NaN(), math.Inf(1), math.Inf(-1)}).Draw(t, "special")
	case 4:
		return rapid.Bool().Draw(t, "bool")
	case 5:
		n := rapid.IntRange(0, 4).Draw(t, "len")
		out := make([]any, n)
		for i := range out {
			out[i] = anyValue(t, depth+1)
		}
		return out
	default:
		n := rapid.IntRange(0, 4).Draw(t, "size")
		out := make(map[string]any, n)
		for i := 0; i < n; i++ {
			out[rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "key")] = anyValue(t, depth+1)
		}
		return out
	}
}

// Whatever a script produces, the serialized form must marshal to JSON
// without error: that is the serializer's one hard contract.
func TestSerializeAlwaysJSONSafe(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := anyValue(t, 0)
		out := Serialize(v)
		_, err := json.Marshal(out)
		require.NoError(t, err)
	})
}

// Serialization is idempotent: a value already in wire form does not
// change when serialized again.
func TestSerializeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		once := Serialize(anyValue(t, 0))
		twice := Serialize(once)

		a, err := json.Marshal(once)
		require.NoError(t, err)
		b, err := json.Marshal(twice)
		require.NoError(t, err)
		require.JSONEq(t, string(a), string(b))
	})
}
