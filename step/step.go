// Package step defines the Loop's immutable result records: Turn, one per LLM round-trip, and Step, the final result
// of one Agent run. Both are append-only/build-once: nothing in this
// package mutates a value after it has been handed to a caller.
package step

import "time"

// TurnType classifies a Turn for budget accounting.
type TurnType string

const (
	Normal     TurnType = "normal"
	MustReturn TurnType = "must_return"
	Retry      TurnType = "retry"
)

// ToolCall is one tool invocation's outcome, captured verbatim in a Turn.
type ToolCall struct {
	Name       string
	Args       map[string]any
	Result     any
	Error      string
	DurationMS int64
	CacheHit   bool
}

// Turn is one immutable LLM round-trip and its executed program.
type Turn struct {
	Number  int
	Type    TurnType
	Program string

	Result  any
	Error   string
	Success bool

	Prints    []string
	ToolCalls []ToolCall
	Memory    map[string]any
}

// Message is one captured entry of the LLM exchange, kept only when
// collect_messages is set.
type Message struct {
	Role    string
	Content string
}

// Usage aggregates one run's cost accounting.
type Usage struct {
	DurationMS          int64
	Turns               int
	LLMRequests         int
	InputTokens         int
	OutputTokens        int
	CacheCreationTokens int
	CacheReadTokens     int
}

// Fail is the structured failure carried by Step.Fail.
type Fail struct {
	Reason  string
	Message string
	Details any // e.g. the value passed to (fail e)
}

// Step is the immutable final result of one Agent run. Exactly one of
// Return / Fail is non-nil.
type Step struct {
	Return any
	Fail   *Fail

	Memory   map[string]any
	Turns    []Turn // nil if tracing disabled
	Messages []Message // nil unless collect_messages

	Usage Usage
}

// Ok reports whether the run succeeded.
func (s *Step) Ok() bool { return s.Fail == nil }

// Builder accumulates Turns/Usage across a run and produces a final,
// immutable Step. Owned exclusively by one Loop instance — never shared across concurrent loops.
type Builder struct {
	trace            bool
	collectMessages  bool
	turns            []Turn
	messages         []Message
	llmRequests      int
	inputTokens      int
	outputTokens     int
	cacheCreateToks  int
	cacheReadToks    int
	turnsConsumed    int
	started          time.Time
}

// NewBuilder starts a Step.Builder. trace controls whether Turns are
// retained; collectMessages controls whether the LLM exchange is kept.
func NewBuilder(trace, collectMessages bool) *Builder {
	return &Builder{trace: trace, collectMessages: collectMessages, started: time.Now()}
}

// AppendTurn records one completed Turn.
func (b *Builder) AppendTurn(t Turn) {
	b.turnsConsumed++
	if b.trace {
		b.turns = append(b.turns, t)
	}
}

// AppendMessage records one LLM-exchange entry.
func (b *Builder) AppendMessage(role, content string) {
	if b.collectMessages {
		b.messages = append(b.messages, Message{Role: role, Content: content})
	}
}

// RecordLLMRequest accounts for one LLM call's token usage,
// independent of whether it ultimately consumed a turn.
func (b *Builder) RecordLLMRequest(inputTokens, outputTokens, cacheCreate, cacheRead int) {
	b.llmRequests++
	b.inputTokens += inputTokens
	b.outputTokens += outputTokens
	b.cacheCreateToks += cacheCreate
	b.cacheReadToks += cacheRead
}

// Success finalizes the Step as a success.
func (b *Builder) Success(ret any, memory map[string]any) *Step {
	return b.finish(ret, nil, memory)
}

// Failure finalizes the Step as a failure.
func (b *Builder) Failure(fail *Fail, memory map[string]any) *Step {
	return b.finish(nil, fail, memory)
}

func (b *Builder) finish(ret any, fail *Fail, memory map[string]any) *Step {
	return &Step{
		Return:   ret,
		Fail:     fail,
		Memory:   memory,
		Turns:    append([]Turn(nil), b.turns...),
		Messages: append([]Message(nil), b.messages...),
		Usage: Usage{
			DurationMS:          time.Since(b.started).Milliseconds(),
			Turns:               b.turnsConsumed,
			LLMRequests:         b.llmRequests,
			InputTokens:         b.inputTokens,
			OutputTokens:        b.outputTokens,
			CacheCreationTokens: b.cacheCreateToks,
			CacheReadTokens:     b.cacheReadToks,
		},
	}
}
