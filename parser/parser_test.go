package parser

import (
	"testing"

	"github.com/subagentrun/subagent/ast"
)

func TestParseAtoms(t *testing.T) {
	cases := []struct {
		src  string
		want ast.Node
	}{
		{"nil", ast.Nil{}},
		{"true", ast.Bool{Value: true}},
		{"false", ast.Bool{Value: false}},
		{"42", ast.Int{Value: 42}},
		{"-7", ast.Int{Value: -7}},
		{"3.5", ast.Float{Value: 3.5}},
		{"foo", ast.Sym{Name: "foo"}},
		{"data/topic", ast.Sym{Namespace: "data", Name: "topic"}},
		{":keyword", ast.Kw{Name: "keyword"}},
		{`"hello"`, ast.Str{Value: "hello"}},
	}
	for _, c := range cases {
		got, err := Parse(c.src)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.src, err)
		}
		gotPos := stripPos(got)
		wantPos := stripPos(c.want)
		if gotPos != wantPos {
			t.Errorf("Parse(%q) = %#v, want %#v", c.src, gotPos, wantPos)
		}
	}
}

// stripPos zeroes Pos fields so equality checks ignore source location.
func stripPos(n ast.Node) ast.Node {
	switch v := n.(type) {
	case ast.Nil:
		return ast.Nil{}
	case ast.Bool:
		return ast.Bool{Value: v.Value}
	case ast.Int:
		return ast.Int{Value: v.Value}
	case ast.Float:
		return ast.Float{Value: v.Value}
	case ast.Str:
		return ast.Str{Value: v.Value}
	case ast.Kw:
		return ast.Kw{Name: v.Name}
	case ast.Sym:
		return ast.Sym{Namespace: v.Namespace, Name: v.Name}
	default:
		return n
	}
}

func TestParseList(t *testing.T) {
	got, err := Parse(`(+ 1 2)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	list, ok := got.(ast.List)
	if !ok {
		t.Fatalf("got %T, want ast.List", got)
	}
	if len(list.Items) != 3 {
		t.Fatalf("got %d items, want 3", len(list.Items))
	}
	if sym, ok := list.Items[0].(ast.Sym); !ok || sym.Name != "+" {
		t.Errorf("first item = %#v, want symbol +", list.Items[0])
	}
}

func TestParseVecMapSet(t *testing.T) {
	if got, err := Parse(`[1 2 3]`); err != nil {
		t.Fatalf("vec: %v", err)
	} else if v, ok := got.(ast.Vec); !ok || len(v.Items) != 3 {
		t.Errorf("vec = %#v", got)
	}

	if got, err := Parse(`{:a 1 :b 2}`); err != nil {
		t.Fatalf("map: %v", err)
	} else if m, ok := got.(ast.MapLit); !ok || len(m.Keys) != 2 || len(m.Vals) != 2 {
		t.Errorf("map = %#v", got)
	}

	if got, err := Parse(`#{1 2 3}`); err != nil {
		t.Fatalf("set: %v", err)
	} else if s, ok := got.(ast.SetLit); !ok || len(s.Items) != 3 {
		t.Errorf("set = %#v", got)
	}
}

func TestParseStringEscapes(t *testing.T) {
	got, err := Parse(`"a\nb\t\"c\""`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	str, ok := got.(ast.Str)
	if !ok {
		t.Fatalf("got %T, want ast.Str", got)
	}
	want := "a\nb\t\"c\""
	if str.Value != want {
		t.Errorf("got %q, want %q", str.Value, want)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"",
		"(+ 1 2",
		"[1 2",
		"#{1 2",
		"{:a}",
		`"unterminated`,
		"(+ 1 2) trailing",
	}
	for _, src := range cases {
		if _, err := Parse(src); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", src)
		}
	}
}

func TestParseComments(t *testing.T) {
	got, err := Parse("; a leading comment\n(+ 1 2) ; trailing comment")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := got.(ast.List); !ok {
		t.Fatalf("got %T, want ast.List", got)
	}
}

func TestParseNamespacedSymbol(t *testing.T) {
	got, err := Parse("tool/search")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sym, ok := got.(ast.Sym)
	if !ok {
		t.Fatalf("got %T, want ast.Sym", got)
	}
	if sym.Namespace != "tool" || sym.Name != "search" {
		t.Errorf("got %+v, want tool/search", sym)
	}
	if sym.Full() != "tool/search" {
		t.Errorf("Full() = %q, want tool/search", sym.Full())
	}
}
