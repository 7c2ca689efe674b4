// Package compose implements the System-Prompt Composer: the static
// SYSTEM prompt (role, output contract, language reference) and the
// dynamic USER context block (data inventory, tool schemas), split
// between a fixed role section and per-turn dynamic sections.
package compose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/tool"
	"github.com/subagentrun/subagent/value"
)

// Customize overrides or augments the composed SYSTEM prompt.
type Customize struct {
	Prefix, Suffix string
	Transform      func(string) string // applied after Prefix/Suffix, before MaxChars truncation
	Override       string              // if non-empty, used verbatim instead of composing
}

// Options configures one composition pass.
type Options struct {
	MaxTurns  int // selects the single-shot vs multi-turn language reference
	MaxChars  int // 0 = unbounded
	Customize Customize
}

const truncatedMarker = "\n[truncated]"

// System renders the static SYSTEM prompt.
func System(opts Options) string {
	if opts.Customize.Override != "" {
		return applyCeiling(opts.Customize.Override, opts.MaxChars)
	}

	var b strings.Builder
	if opts.Customize.Prefix != "" {
		b.WriteString(opts.Customize.Prefix)
		b.WriteString("\n\n")
	}

	b.WriteString("You are an autonomous agent. Drive the task by emitting a single code block ")
	b.WriteString("containing one program in a Clojure-flavored expression language. ")
	b.WriteString("Respond with exactly one code block per turn — no prose outside it.\n\n")
	b.WriteString(languageReference(opts.MaxTurns))

	if opts.Customize.Suffix != "" {
		b.WriteString("\n\n")
		b.WriteString(opts.Customize.Suffix)
	}

	out := b.String()
	if opts.Customize.Transform != nil {
		out = opts.Customize.Transform(out)
	}
	return applyCeiling(out, opts.MaxChars)
}

func applyCeiling(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	cut := maxChars - len(truncatedMarker)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncatedMarker
}

func languageReference(maxTurns int) string {
	var b strings.Builder
	b.WriteString("## Language\n")
	b.WriteString("Literals: nil, true/false, integers, floats, strings, :keywords.\n")
	b.WriteString("Collections: [vectors], {:k v maps}, #{sets}.\n")
	b.WriteString("Special forms: def defonce defn let if when cond do and or fn loop recur ")
	b.WriteString("return fail task task-reset step-done pmap pcalls where all-of any-of none-of juxt -> ->>.\n")
	b.WriteString("Reserved namespaces: data/ (read-only inputs), memory/ (your own scratchpad), ")
	b.WriteString("tool/ (dispatch a registered tool), budget/ (budget/remaining).\n")
	b.WriteString("Use (return v) to finish successfully, (fail {:reason ... :message ...}) to abort.\n")

	if maxTurns == 1 {
		b.WriteString("You have exactly one turn: your code must call (return v) or (fail e) directly.\n")
	} else {
		b.WriteString("You may use several turns: (def ...) to build up memory/ state, then (return v) once done.\n")
	}
	return b.String()
}

// DataInventory renders the dynamic Data Inventory section: sorted
// key, type (from sig if known, else inferred), sample or [Hidden].
func DataInventory(data *value.Map, sig *signature.Signature) string {
	if data == nil || data.Len() == 0 {
		return ""
	}
	fieldTypes := map[string]*signature.Type{}
	if sig != nil {
		for _, p := range sig.Params {
			fieldTypes[p.Name] = p.Type
		}
	}

	keys := make([]string, 0, data.Len())
	for _, k := range data.Keys() {
		keys = append(keys, keyName(k))
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("## Data Inventory\n")
	for _, k := range keys {
		v, _ := data.Get(value.Keyword(k))
		label := value.TypeLabel(v)
		if t, ok := fieldTypes[k]; ok {
			label = t.String()
		}
		sample := "[Hidden]"
		if !strings.HasPrefix(k, "_") {
			sample = value.Sample(v, 80, 3)
		} else {
			sample = "[Firewalled] [Hidden]"
		}
		fmt.Fprintf(&b, "- data/%s (%s): %s\n", k, label, sample)
	}
	return b.String()
}

func keyName(k any) string {
	switch t := k.(type) {
	case value.Keyword:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ToolSchemas renders the dynamic Tool Schemas section, separating
// callable tools from catalog-only planning entries.
func ToolSchemas(descs []tool.Descriptor) string {
	if len(descs) == 0 {
		return ""
	}
	sorted := append([]tool.Descriptor(nil), descs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var callable, catalog []tool.Descriptor
	for _, d := range sorted {
		if d.CatalogOnly {
			catalog = append(catalog, d)
		} else {
			callable = append(callable, d)
		}
	}

	var b strings.Builder
	if len(callable) > 0 {
		b.WriteString("## Tools\n")
		for _, d := range callable {
			writeToolEntry(&b, d)
		}
	}
	if len(catalog) > 0 {
		b.WriteString("## Planning-only tools (not callable)\n")
		for _, d := range catalog {
			writeToolEntry(&b, d)
		}
	}
	return b.String()
}

func writeToolEntry(b *strings.Builder, d tool.Descriptor) {
	sigStr := "(any args) -> :any"
	if d.Signature != nil {
		sigStr = d.Signature.String()
	}
	fmt.Fprintf(b, "- tool/%s %s — %s\n", d.Name, sigStr, d.Description)
	fmt.Fprintf(b, "  example: (tool/%s %s)\n", d.Name, exampleArgs(d.Signature))
}

func exampleArgs(sig *signature.Signature) string {
	if sig == nil || len(sig.Params) == 0 {
		return "{}"
	}
	var parts []string
	for _, p := range sig.Params {
		parts = append(parts, fmt.Sprintf(":%s %s", p.Name, exampleForType(p.Type)))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func exampleForType(t *signature.Type) string {
	switch t.Kind {
	case signature.KString:
		return `"..."`
	case signature.KInt:
		return "0"
	case signature.KFloat:
		return "0.0"
	case signature.KBool:
		return "false"
	case signature.KKeyword:
		return ":value"
	case signature.KList:
		return "[]"
	case signature.KMap:
		return "{}"
	default:
		return "..."
	}
}
