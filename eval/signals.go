package eval

import "fmt"

// ReturnSignal carries the value of a `(return v)` form up to the
// Loop boundary. It implements error so it can be
// threaded through Go's normal error-return plumbing without resorting
// to panic/recover, which would cross tool-handler boundaries unsafely.
type ReturnSignal struct{ Value any }

func (s *ReturnSignal) Error() string { return "return signal" }

// FailSignal carries the value of a `(fail e)` form.
type FailSignal struct{ Value any }

func (s *FailSignal) Error() string { return "fail signal" }

// RecurSignal carries recur's new argument list to the nearest
// enclosing loop or closure invocation.
type RecurSignal struct{ Args []any }

func (s *RecurSignal) Error() string { return "recur signal" }

// StepDoneSignal marks `(step-done)` — ends the current turn without
// running return-type validation, used by journaling mode.
type StepDoneSignal struct{}

func (s *StepDoneSignal) Error() string { return "step-done signal" }

// LoopLimitExceededError is raised when a loop/recur exceeds the
// configured iteration bound.
type LoopLimitExceededError struct{ Limit int }

func (e *LoopLimitExceededError) Error() string {
	return fmt.Sprintf("loop_limit_exceeded: exceeded %d iterations", e.Limit)
}

// RuntimeError carries one of the evaluator's error reasons: type_error,
// arity_mismatch, unbound_var, not_callable, cannot_shadow_builtin,
// invalid_tool_args, tool_not_found, tool_call_limit_exceeded,
// pmap_error, pcalls_error, or the reason prefix of a runtime-library
// error, lifted by wrapBuiltinErr.
type RuntimeError struct {
	Reason  string
	Message string
}

func (e *RuntimeError) Error() string { return e.Reason + ": " + e.Message }

func rtErr(reason, format string, args ...any) error {
	return &RuntimeError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
