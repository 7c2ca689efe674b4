package subagent

import (
	"regexp"
	"strings"

	"github.com/subagentrun/subagent/value"
)

var placeholderRe = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_.]*)\}\}`)

// placeholderNames returns every `{{var}}` name referenced by tmpl,
// deduplicated, in first-seen order.
func placeholderNames(tmpl string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		name := strings.SplitN(m[1], ".", 2)[0]
		if name == "." || strings.HasPrefix(m[1], "#") || strings.HasPrefix(m[1], "^") || strings.HasPrefix(m[1], "/") {
			continue
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// expandSimple substitutes `{{var}}` with data/var's printed value
// (DSL and JSON modes' mission expansion — the full Mustache-style
// section/negation/dot-notation templating is Text Mode only, §4.12).
func expandSimple(tmpl string, data *value.Map) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := data.Get(value.Keyword(name))
		if !ok {
			v, ok = data.Get(name)
		}
		if !ok {
			return match
		}
		if s, ok := v.(string); ok {
			return s
		}
		return value.Print(v)
	})
}
