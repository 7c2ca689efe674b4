package subagent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/value"
)

func TestValueToJSON(t *testing.T) {
	m := value.NewMap(value.Keyword("name"), "rust", value.Keyword("count"), int64(3))
	got, ok := valueToJSON(m).(map[string]any)
	require.True(t, ok, "got %T", valueToJSON(m))
	require.Equal(t, "rust", got["name"])
	require.Equal(t, int64(3), got["count"])

	vec := value.NewVector(value.Keyword("a"), value.Keyword("b"))
	gotVec, ok := valueToJSON(vec).([]any)
	require.True(t, ok)
	require.Equal(t, []any{"a", "b"}, gotVec)
}

func TestJSONToValueTyped(t *testing.T) {
	intType := &signature.Type{Kind: signature.KInt}
	require.Equal(t, int64(3), jsonToValue(float64(3), intType))

	kwType := &signature.Type{Kind: signature.KKeyword}
	require.Equal(t, value.Keyword("done"), jsonToValue("done", kwType))

	listType := &signature.Type{Kind: signature.KList, Elem: intType}
	got := jsonToValue([]any{float64(1), float64(2)}, listType)
	vec, ok := got.(*value.Vector)
	require.True(t, ok)
	require.Equal(t, []any{int64(1), int64(2)}, vec.Items)
}

func TestJSONToValueMap(t *testing.T) {
	mapType := &signature.Type{Kind: signature.KMap, Fields: []signature.Field{
		{Name: "count", Type: &signature.Type{Kind: signature.KInt}},
	}}
	got := jsonToValue(map[string]any{"count": float64(5)}, mapType)
	m, ok := got.(*value.Map)
	require.True(t, ok)
	v, present := m.Get(value.Keyword("count"))
	require.True(t, present)
	require.Equal(t, int64(5), v)
}

func TestJSONToValueUntypedRoundTrip(t *testing.T) {
	got := jsonToValue(map[string]any{"a": []any{float64(1), "b"}}, nil)
	m, ok := got.(*value.Map)
	require.True(t, ok)
	v, present := m.Get(value.Keyword("a"))
	require.True(t, present)
	vec, ok := v.(*value.Vector)
	require.True(t, ok)
	require.Equal(t, []any{float64(1), "b"}, vec.Items)
}
