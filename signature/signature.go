// Package signature implements the Signature System: a
// compact type grammar for describing an agent's inputs and return
// value, plus validation, JSON Schema projection (via
// github.com/invopop/jsonschema's Schema type), and round-trip
// rendering back to source form.
package signature

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/subagentrun/subagent/value"
)

// Kind enumerates the grammar's primitive and composite type forms.
type Kind int

const (
	KString Kind = iota
	KInt
	KFloat
	KBool
	KKeyword
	KAny
	KMap
	KFn
	KList
)

func (k Kind) String() string {
	switch k {
	case KString:
		return "string"
	case KInt:
		return "int"
	case KFloat:
		return "float"
	case KBool:
		return "bool"
	case KKeyword:
		return "keyword"
	case KAny:
		return "any"
	case KMap:
		return "map"
	case KFn:
		return "fn"
	case KList:
		return "list"
	default:
		return "unknown"
	}
}

// Type is one node of the grammar: a primitive, `:T?` optional, `[:T]`
// list, or `{name :T, ...}` map with named fields.
type Type struct {
	Kind     Kind
	Optional bool
	Elem     *Type   // for KList
	Fields   []Field // for KMap, in declared order
}

// Field is one named entry of a map type.
type Field struct {
	Name string
	Type *Type
}

// Param is one named input of a Signature.
type Param struct {
	Name string
	Type *Type
}

// Signature is a full `(param :T, ...) -> :T` contract, or the
// shorthand `:T` form (no declared inputs).
type Signature struct {
	Params []Param
	Return *Type
}

// ParseError reports a signature grammar failure with a hint listing
// valid primitives and syntaxes.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s (hint: primitives are :string :int :float :bool :keyword :any :map :fn; "+
		"suffix ? for optional; [:T] for a list; {name :T, ...} for a map; "+
		"a full signature is \"(param :T, ...) -> :T\" or shorthand \":T\")", e.Message)
}

var primitiveKinds = map[string]Kind{
	"string": KString, "int": KInt, "float": KFloat, "bool": KBool,
	"keyword": KKeyword, "any": KAny, "map": KMap, "fn": KFn,
}

// Parse reads a signature from its source text.
func Parse(src string) (*Signature, error) {
	p := &sigParser{src: src}
	p.skipSpace()
	if p.peek() == '(' {
		return p.parseFull()
	}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.atEnd() {
		return nil, &ParseError{Message: fmt.Sprintf("unexpected trailing input %q", p.rest())}
	}
	return &Signature{Return: t}, nil
}

type sigParser struct {
	src string
	pos int
}

func (p *sigParser) atEnd() bool { return p.pos >= len(p.src) }

func (p *sigParser) peek() byte {
	if p.atEnd() {
		return 0
	}
	return p.src[p.pos]
}

func (p *sigParser) rest() string { return p.src[p.pos:] }

func (p *sigParser) skipSpace() {
	for !p.atEnd() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == ',') {
		p.pos++
	}
}

func (p *sigParser) parseFull() (*Signature, error) {
	p.pos++ // consume '('
	sig := &Signature{}
	p.skipSpace()
	for p.peek() != ')' {
		if p.atEnd() {
			return nil, &ParseError{Message: "unterminated parameter list"}
		}
		name, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		sig.Params = append(sig.Params, Param{Name: name, Type: t})
		p.skipSpace()
	}
	p.pos++ // consume ')'
	p.skipSpace()
	if !strings.HasPrefix(p.rest(), "->") {
		return nil, &ParseError{Message: "expected -> after parameter list"}
	}
	p.pos += 2
	p.skipSpace()
	ret, err := p.parseType()
	if err != nil {
		return nil, err
	}
	sig.Return = ret
	p.skipSpace()
	if !p.atEnd() {
		return nil, &ParseError{Message: fmt.Sprintf("unexpected trailing input %q", p.rest())}
	}
	return sig, nil
}

func (p *sigParser) parseIdent() (string, error) {
	start := p.pos
	for !p.atEnd() && p.src[p.pos] != ':' && p.src[p.pos] != ' ' && p.src[p.pos] != '\t' && p.src[p.pos] != '\n' {
		p.pos++
	}
	if p.pos == start {
		return "", &ParseError{Message: "expected a parameter name"}
	}
	return p.src[start:p.pos], nil
}

func (p *sigParser) parseType() (*Type, error) {
	p.skipSpace()
	switch p.peek() {
	case '[':
		p.pos++
		p.skipSpace()
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ']' {
			return nil, &ParseError{Message: "expected ] to close list type"}
		}
		p.pos++
		return p.maybeOptional(&Type{Kind: KList, Elem: elem})
	case '{':
		p.pos++
		p.skipSpace()
		t := &Type{Kind: KMap}
		for p.peek() != '}' {
			if p.atEnd() {
				return nil, &ParseError{Message: "unterminated map type"}
			}
			name, err := p.parseIdent()
			if err != nil {
				return nil, err
			}
			p.skipSpace()
			ft, err := p.parseType()
			if err != nil {
				return nil, err
			}
			t.Fields = append(t.Fields, Field{Name: name, Type: ft})
			p.skipSpace()
			if p.peek() == ',' {
				p.pos++
				p.skipSpace()
			}
		}
		p.pos++
		return p.maybeOptional(t)
	case ':':
		p.pos++
		start := p.pos
		for !p.atEnd() && isIdentChar(p.src[p.pos]) {
			p.pos++
		}
		name := p.src[start:p.pos]
		kind, ok := primitiveKinds[name]
		if !ok {
			return nil, &ParseError{Message: fmt.Sprintf("unknown primitive %q", ":"+name)}
		}
		return p.maybeOptional(&Type{Kind: kind})
	default:
		return nil, &ParseError{Message: fmt.Sprintf("expected a type starting with : [ or {, got %q", p.rest())}
	}
}

func (p *sigParser) maybeOptional(t *Type) (*Type, error) {
	if !p.atEnd() && p.src[p.pos] == '?' {
		p.pos++
		t.Optional = true
	}
	return t, nil
}

func isIdentChar(c byte) bool {
	return c != ' ' && c != '\t' && c != '\n' && c != ',' && c != ']' && c != '}' && c != ')' && c != '?'
}

// Violation is one mismatch found by Validate, with a path like "a.b.0.c".
type Violation struct {
	Path     string
	Expected string
	Got      string
}

// Validate checks v against t, returning every violation found, not
// just the first.
func Validate(t *Type, v any) []Violation {
	return validateAt(t, v, "")
}

func validateAt(t *Type, v any, path string) []Violation {
	if v == nil {
		if t.Optional {
			return nil
		}
		return []Violation{{Path: path, Expected: t.String(), Got: "nil"}}
	}
	switch t.Kind {
	case KAny:
		return nil
	case KString:
		if _, ok := v.(string); !ok {
			return []Violation{{Path: path, Expected: "string", Got: value.TypeLabel(v)}}
		}
	case KInt:
		if _, ok := v.(int64); !ok {
			return []Violation{{Path: path, Expected: "int", Got: value.TypeLabel(v)}}
		}
	case KFloat:
		switch v.(type) {
		case int64, float64:
		default:
			return []Violation{{Path: path, Expected: "float", Got: value.TypeLabel(v)}}
		}
	case KBool:
		if _, ok := v.(bool); !ok {
			return []Violation{{Path: path, Expected: "bool", Got: value.TypeLabel(v)}}
		}
	case KKeyword:
		if _, ok := v.(value.Keyword); !ok {
			return []Violation{{Path: path, Expected: "keyword", Got: value.TypeLabel(v)}}
		}
	case KFn:
		if _, ok := v.(*value.Closure); !ok {
			return []Violation{{Path: path, Expected: "fn", Got: value.TypeLabel(v)}}
		}
	case KMap:
		m, ok := v.(*value.Map)
		if !ok {
			return []Violation{{Path: path, Expected: "map", Got: value.TypeLabel(v)}}
		}
		var viols []Violation
		for _, f := range t.Fields {
			fv, present := m.Get(value.Keyword(f.Name))
			fpath := joinPath(path, f.Name)
			if !present {
				if !f.Type.Optional {
					viols = append(viols, Violation{Path: fpath, Expected: f.Type.String(), Got: "missing"})
				}
				continue
			}
			viols = append(viols, validateAt(f.Type, fv, fpath)...)
		}
		return viols
	case KList:
		vec, ok := v.(*value.Vector)
		if !ok {
			return []Violation{{Path: path, Expected: "list", Got: value.TypeLabel(v)}}
		}
		var viols []Violation
		for i, item := range vec.Items {
			viols = append(viols, validateAt(t.Elem, item, joinPath(path, fmt.Sprintf("%d", i)))...)
		}
		return viols
	}
	return nil
}

func joinPath(base, seg string) string {
	if base == "" {
		return seg
	}
	return base + "." + seg
}

// String renders t back to its source grammar (round-trips with Parse).
func (t *Type) String() string {
	var s string
	switch t.Kind {
	case KList:
		s = "[" + t.Elem.String() + "]"
	case KMap:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + " " + f.Type.String()
		}
		s = "{" + strings.Join(parts, ", ") + "}"
	default:
		s = ":" + t.Kind.String()
	}
	if t.Optional {
		s += "?"
	}
	return s
}

// String renders the full signature back to source form.
func (s *Signature) String() string {
	if len(s.Params) == 0 {
		return s.Return.String()
	}
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = p.Name + " " + p.Type.String()
	}
	return "(" + strings.Join(parts, ", ") + ") -> " + s.Return.String()
}

// toSchema builds t's shape as a github.com/invopop/jsonschema Schema
// tree, the same struct the library's own Reflector produces from a Go
// type — here built by hand since t comes from the DSL's dynamic
// grammar rather than a static struct.
func (t *Type) toSchema() *jsonschema.Schema {
	s := &jsonschema.Schema{}
	switch t.Kind {
	case KString, KKeyword:
		s.Type = "string"
	case KInt:
		s.Type = "integer"
	case KFloat:
		s.Type = "number"
	case KBool:
		s.Type = "boolean"
	case KFn:
		s.Type = "string"
		s.Description = "callable reference; not representable in JSON"
	case KAny:
		// no "type" constraint — any JSON value is accepted
	case KList:
		s.Type = "array"
		s.Items = t.Elem.toSchema()
	case KMap:
		s.Type = "object"
		props := orderedmap.New[string, *jsonschema.Schema]()
		var required []string
		for _, f := range t.Fields {
			props.Set(f.Name, f.Type.toSchema())
			if !f.Type.Optional {
				required = append(required, f.Name)
			}
		}
		s.Properties = props
		if len(required) > 0 {
			sort.Strings(required)
			s.Required = required
		}
	}
	return s
}

// JSONSchema projects t through github.com/invopop/jsonschema's Schema
// type and flattens it to a plain map, the shape every LLM provider's
// Request.Schema/ToolSchema.Parameters field expects.
func (t *Type) JSONSchema() map[string]any {
	return schemaToMap(t.toSchema())
}

// schemaToMap round-trips a *jsonschema.Schema through its own
// MarshalJSON so callers get a plain map without depending on the
// library's struct shape directly.
func schemaToMap(s *jsonschema.Schema) map[string]any {
	b, err := json.Marshal(s)
	if err != nil {
		return map[string]any{}
	}
	m := map[string]any{}
	_ = json.Unmarshal(b, &m)
	return m
}

// JSONSchema projects the signature's input parameters to a single
// object schema (used to document an agent's expected `data/` inputs
// and a tool's argument contract).
func (s *Signature) JSONSchema() map[string]any {
	t := &Type{Kind: KMap}
	for _, p := range s.Params {
		t.Fields = append(t.Fields, Field{Name: p.Name, Type: p.Type})
	}
	return t.JSONSchema()
}

// ReturnJSONSchema projects only the return type, used to constrain a
// JSON-mode LLM reply.
func (s *Signature) ReturnJSONSchema() map[string]any {
	return s.Return.JSONSchema()
}
