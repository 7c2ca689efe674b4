package subagent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subagentrun/subagent/value"
)

func TestRenderMustacheVar(t *testing.T) {
	root := value.NewMap(value.Keyword("name"), "rust")
	got := renderMustache("topic: {{name}}", root)
	require.Equal(t, "topic: rust", got)
}

func TestRenderMustacheMissingVar(t *testing.T) {
	root := value.NewMap()
	got := renderMustache("x={{missing}}", root)
	require.Equal(t, "x=", got)
}

func TestRenderMustacheTruthySection(t *testing.T) {
	root := value.NewMap(value.Keyword("show"), true, value.Keyword("label"), "hi")
	got := renderMustache("{{#show}}[{{label}}]{{/show}}", root)
	require.Equal(t, "[hi]", got)
}

func TestRenderMustacheFalsySectionSkipped(t *testing.T) {
	root := value.NewMap(value.Keyword("show"), false, value.Keyword("label"), "hi")
	got := renderMustache("{{#show}}[{{label}}]{{/show}}", root)
	require.Equal(t, "", got)
}

func TestRenderMustacheInvertedSection(t *testing.T) {
	root := value.NewMap(value.Keyword("missing"), false)
	got := renderMustache("{{^missing}}fallback{{/missing}}", root)
	require.Equal(t, "fallback", got)
}

func TestRenderMustacheVectorSectionIteratesItems(t *testing.T) {
	items := &value.Vector{Items: []any{
		value.NewMap(value.Keyword("name"), "a"),
		value.NewMap(value.Keyword("name"), "b"),
	}}
	root := value.NewMap(value.Keyword("items"), items)
	got := renderMustache("{{#items}}({{name}}){{/items}}", root)
	require.Equal(t, "(a)(b)", got)
}

func TestRenderMustacheEmptyVectorSectionSkipped(t *testing.T) {
	root := value.NewMap(value.Keyword("items"), &value.Vector{})
	got := renderMustache("{{#items}}x{{/items}}", root)
	require.Equal(t, "", got)
}

func TestRenderMustacheDotInSection(t *testing.T) {
	items := &value.Vector{Items: []any{"a", "b", "c"}}
	root := value.NewMap(value.Keyword("items"), items)
	got := renderMustache("{{#items}}{{.}},{{/items}}", root)
	require.Equal(t, "a,b,c,", got)
}

func TestRenderMustacheNestedPath(t *testing.T) {
	inner := value.NewMap(value.Keyword("city"), "nyc")
	root := value.NewMap(value.Keyword("address"), inner)
	got := renderMustache("{{address.city}}", root)
	require.Equal(t, "nyc", got)
}

func TestRenderMustacheNestedSection(t *testing.T) {
	root := value.NewMap(
		value.Keyword("outer"), true,
		value.Keyword("inner"), true,
		value.Keyword("label"), "deep",
	)
	got := renderMustache("{{#outer}}{{#inner}}{{label}}{{/inner}}{{/outer}}", root)
	require.Equal(t, "deep", got)
}
