package signature

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeJSONSchemaPrimitives(t *testing.T) {
	cases := []struct {
		kind Kind
		want string
	}{
		{KString, "string"},
		{KKeyword, "string"},
		{KInt, "integer"},
		{KFloat, "number"},
		{KBool, "boolean"},
	}
	for _, c := range cases {
		schema := (&Type{Kind: c.kind}).JSONSchema()
		require.Equal(t, c.want, schema["type"], "kind %v", c.kind)
	}

	any := (&Type{Kind: KAny}).JSONSchema()
	_, hasType := any["type"]
	require.False(t, hasType, "KAny must not constrain type")
}

func TestTypeJSONSchemaList(t *testing.T) {
	schema := (&Type{Kind: KList, Elem: &Type{Kind: KInt}}).JSONSchema()
	require.Equal(t, "array", schema["type"])
	items, ok := schema["items"].(map[string]any)
	require.True(t, ok, "items: %#v", schema["items"])
	require.Equal(t, "integer", items["type"])
}

func TestTypeJSONSchemaMapRequiredSorted(t *testing.T) {
	m := &Type{Kind: KMap, Fields: []Field{
		{Name: "zeta", Type: &Type{Kind: KString}},
		{Name: "alpha", Type: &Type{Kind: KInt}},
		{Name: "maybe", Type: &Type{Kind: KBool, Optional: true}},
	}}
	schema := m.JSONSchema()
	require.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "properties: %#v", schema["properties"])
	require.Len(t, props, 3)
	require.Equal(t, []any{"alpha", "zeta"}, schema["required"])
}

func TestSignatureJSONSchemaWrapsParams(t *testing.T) {
	sig := &Signature{
		Params: []Param{
			{Name: "query", Type: &Type{Kind: KString}},
			{Name: "limit", Type: &Type{Kind: KInt, Optional: true}},
		},
		Return: &Type{Kind: KList, Elem: &Type{Kind: KString}},
	}
	params := sig.JSONSchema()
	require.Equal(t, "object", params["type"])
	require.Equal(t, []any{"query"}, params["required"])

	ret := sig.ReturnJSONSchema()
	require.Equal(t, "array", ret["type"])
}
