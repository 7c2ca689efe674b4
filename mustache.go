package subagent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/subagentrun/subagent/value"
)

// mustacheTagRe tokenizes {{var}}, {{#section}}, {{^section}}, {{/section}}.
var mustacheTagRe = regexp.MustCompile(`\{\{([#^/]?)([a-zA-Z0-9_.]*|\.)\}\}`)

type mustacheNode interface {
	render(stack []any) string
}

type textNode string

func (t textNode) render([]any) string { return string(t) }

type varNode struct{ path string }

func (v varNode) render(stack []any) string {
	return stringifyScalar(resolvePath(stack, v.path))
}

type sectionNode struct {
	name     string
	invert   bool
	children []mustacheNode
}

func (s sectionNode) render(stack []any) string {
	v := resolvePath(stack, s.name)
	truthy := mustacheTruthy(v)
	if s.invert {
		if truthy {
			return ""
		}
		return renderAll(s.children, stack)
	}
	if !truthy {
		return ""
	}
	if vec, ok := v.(*value.Vector); ok {
		var b strings.Builder
		for _, item := range vec.Items {
			b.WriteString(renderAll(s.children, append(stack, item)))
		}
		return b.String()
	}
	if m, ok := v.(*value.Map); ok {
		return renderAll(s.children, append(stack, m))
	}
	return renderAll(s.children, stack)
}

func renderAll(nodes []mustacheNode, stack []any) string {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(n.render(stack))
	}
	return b.String()
}

// parseMustache compiles tmpl into a node tree, matching nested
// #/^ ... / sections by a simple stack-based scan.
func parseMustache(tmpl string) []mustacheNode {
	type frame struct {
		name   string
		invert bool
		nodes  []mustacheNode
	}
	root := &frame{}
	stack := []*frame{root}

	last := 0
	matches := mustacheTagRe.FindAllStringSubmatchIndex(tmpl, -1)
	for _, m := range matches {
		start, end := m[0], m[1]
		sigil := tmpl[m[2]:m[3]]
		name := tmpl[m[4]:m[5]]

		if start > last {
			top := stack[len(stack)-1]
			top.nodes = append(top.nodes, textNode(tmpl[last:start]))
		}
		last = end

		switch sigil {
		case "#", "^":
			stack = append(stack, &frame{name: name, invert: sigil == "^"})
		case "/":
			if len(stack) > 1 {
				closed := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				top := stack[len(stack)-1]
				top.nodes = append(top.nodes, sectionNode{name: closed.name, invert: closed.invert, children: closed.nodes})
			}
		default:
			top := stack[len(stack)-1]
			top.nodes = append(top.nodes, varNode{path: name})
		}
	}
	if last < len(tmpl) {
		top := stack[len(stack)-1]
		top.nodes = append(top.nodes, textNode(tmpl[last:]))
	}
	// unterminated sections still in the stack are flattened as-is
	for len(stack) > 1 {
		closed := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		top := stack[len(stack)-1]
		top.nodes = append(top.nodes, sectionNode{name: closed.name, invert: closed.invert, children: closed.nodes})
	}
	return root.nodes
}

// renderMustache expands tmpl against root.
func renderMustache(tmpl string, root *value.Map) string {
	nodes := parseMustache(tmpl)
	var rootCtx any = root
	return renderAll(nodes, []any{rootCtx})
}

func resolvePath(stack []any, path string) any {
	if path == "." || path == "" {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}
	segs := strings.Split(path, ".")
	for i := len(stack) - 1; i >= 0; i-- {
		if v, ok := lookupSegments(stack[i], segs); ok {
			return v
		}
	}
	return nil
}

func lookupSegments(ctx any, segs []string) (any, bool) {
	cur := ctx
	for _, seg := range segs {
		m, ok := cur.(*value.Map)
		if !ok {
			return nil, false
		}
		v, present := m.Get(value.Keyword(seg))
		if !present {
			v, present = m.Get(seg)
		}
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func mustacheTruthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case *value.Vector:
		return len(x.Items) > 0
	case *value.Map:
		return x.Len() > 0
	case string:
		return x != ""
	default:
		return true
	}
}

func stringifyScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case value.Keyword:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return value.Print(x)
	}
}
