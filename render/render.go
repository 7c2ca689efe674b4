// Package render implements the Message Renderer: a
// pure function from the Loop's immutable turn history to the next
// LLM message set. The default Single-User-Coalesced strategy keeps
// prompt size roughly constant across turns rather than growing
// linearly with history.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/subagentrun/subagent/step"
	"github.com/subagentrun/subagent/value"
)

// SampleMaxChars/SampleMaxElems are the renderer's fixed truncation
// constants.
const (
	SampleMaxChars = 80
	SampleMaxElems = 3
)

// Message is one rendered chat message.
type Message struct {
	Role    string
	Content string
}

// Options configure a render pass.
type Options struct {
	MaxToolSummaries int // most-recent N tool calls shown; 0 = default (5)
	MaxPrints        int // last N println lines shown; 0 = default (10)
	TurnsLeft        int
	Final            bool // true on the must_return turn ("FINAL TURN")
}

// Strategy renders immutable turn history plus current memory into the
// next message set. Implementations must be pure: identical (turns,
// memory, opts) always produces identical output.
type Strategy interface {
	ToMessages(turns []step.Turn, memory map[string]any, opts Options) []Message
}

// SingleUserCoalesced is the default strategy: at most 3 messages —
// SYSTEM (supplied by the composer, not here), one consolidated USER,
// and no ASSISTANT message (the Loop appends the LLM's own reply to
// its own call rather than replaying it back). It renders only the
// USER message's content.
type SingleUserCoalesced struct{}

func (SingleUserCoalesced) ToMessages(turns []step.Turn, memory map[string]any, opts Options) []Message {
	if opts.MaxToolSummaries == 0 {
		opts.MaxToolSummaries = 5
	}
	if opts.MaxPrints == 0 {
		opts.MaxPrints = 10
	}

	var b strings.Builder

	hasPrints := false
	for _, t := range turns {
		if len(t.Prints) > 0 {
			hasPrints = true
			break
		}
	}

	writeToolSummary(&b, turns, opts.MaxToolSummaries)
	writeClosures(&b, memory)
	writeDefinitions(&b, memory, hasPrints)
	writePrints(&b, turns, opts.MaxPrints)
	writeFailedTurns(&b, turns)
	writeBudgetLine(&b, opts)

	return []Message{{Role: "user", Content: b.String()}}
}

func writeToolSummary(b *strings.Builder, turns []step.Turn, maxN int) {
	var calls []step.ToolCall
	for _, t := range turns {
		calls = append(calls, t.ToolCalls...)
	}
	if len(calls) == 0 {
		return
	}
	if len(calls) > maxN {
		calls = calls[len(calls)-maxN:]
	}
	b.WriteString("## Recent tool calls\n")
	for _, c := range calls {
		status := "ok"
		if c.Error != "" {
			status = "error: " + c.Error
		}
		fmt.Fprintf(b, "- %s(%s) -> %s\n", c.Name, sampleArgs(c.Args), status)
	}
	b.WriteString("\n")
}

func sampleArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, value.Sample(args[k], SampleMaxChars, SampleMaxElems))
	}
	return strings.Join(parts, ", ")
}

func writeClosures(b *strings.Builder, memory map[string]any) {
	names := sortedKeys(memory)
	var closures []string
	for _, n := range names {
		if _, ok := memory[n].(*value.Closure); ok {
			closures = append(closures, n)
		}
	}
	if len(closures) == 0 {
		return
	}
	b.WriteString("## Bound functions\n")
	for _, n := range closures {
		fmt.Fprintf(b, "- %s: %s\n", n, value.TypeLabel(memory[n]))
	}
	b.WriteString("\n")
}

func writeDefinitions(b *strings.Builder, memory map[string]any, hasPrints bool) {
	names := sortedKeys(memory)
	var defs []string
	for _, n := range names {
		v := memory[n]
		if _, ok := v.(*value.Closure); ok {
			continue
		}
		defs = append(defs, n)
	}
	if len(defs) == 0 {
		return
	}
	b.WriteString("## Other definitions\n")
	for _, n := range defs {
		label := value.TypeLabel(memory[n])
		if hasPrints {
			fmt.Fprintf(b, "- %s: %s\n", n, label)
			continue
		}
		fmt.Fprintf(b, "- %s: %s = %s\n", n, label, redactedSample(n, memory[n]))
	}
	b.WriteString("\n")
}

func redactedSample(name string, v any) string {
	if strings.HasPrefix(name, "_") {
		return "[Firewalled] [Hidden]"
	}
	return value.Sample(v, SampleMaxChars, SampleMaxElems)
}

func writePrints(b *strings.Builder, turns []step.Turn, maxN int) {
	var lines []string
	for _, t := range turns {
		lines = append(lines, t.Prints...)
	}
	if len(lines) == 0 {
		return
	}
	if len(lines) > maxN {
		lines = lines[len(lines)-maxN:]
	}
	b.WriteString("## Output\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeFailedTurns(b *strings.Builder, turns []step.Turn) {
	var failed []step.Turn
	for _, t := range turns {
		if !t.Success {
			failed = append(failed, t)
		}
	}
	if len(failed) == 0 {
		return
	}
	b.WriteString("## Previous attempts that failed\n")
	for _, t := range failed {
		fmt.Fprintf(b, "Turn %d:\n```\n%s\n```\nError: %s\n\n", t.Number, t.Program, t.Error)
	}
}

func writeBudgetLine(b *strings.Builder, opts Options) {
	if opts.Final {
		b.WriteString("FINAL TURN: you must emit (return v) or (fail e). No further turns remain.\n")
		return
	}
	if opts.TurnsLeft > 0 {
		fmt.Fprintf(b, "Turns left: %d\n", opts.TurnsLeft)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, "_") {
			keys = append(keys, k) // firewalled, still listed but redacted at sample time
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Windowed is an alternative strategy that renders the last N turns in
// full (each with its own USER/ASSISTANT-shaped pair) instead of
// coalescing history into one message — useful when the caller wants
// the LLM to see its own recent code verbatim rather than a summary.
type Windowed struct {
	Window int // number of most-recent turns kept verbatim; 0 = default (3)
}

func (w Windowed) ToMessages(turns []step.Turn, memory map[string]any, opts Options) []Message {
	window := w.Window
	if window == 0 {
		window = 3
	}
	start := 0
	if len(turns) > window {
		start = len(turns) - window
	}
	var msgs []Message
	for _, t := range turns[start:] {
		msgs = append(msgs, Message{Role: "assistant", Content: fmt.Sprintf("```clojure\n%s\n```", t.Program)})
		result := t.Error
		if t.Success {
			result = value.Sample(t.Result, SampleMaxChars, SampleMaxElems)
		}
		msgs = append(msgs, Message{Role: "user", Content: fmt.Sprintf("Result: %s", result)})
	}
	var tail strings.Builder
	writeClosures(&tail, memory)
	writeDefinitions(&tail, memory, false)
	writeBudgetLine(&tail, opts)
	if tail.Len() > 0 {
		msgs = append(msgs, Message{Role: "user", Content: tail.String()})
	}
	return msgs
}
