// Package llm implements the external LLM callable contract:
// request/result shapes, a retry policy wrapper, and a registry of
// named providers, reshaped around one call signature instead of
// streaming/non-streaming pairs, since the Loop only ever needs one
// round-trip per turn.
package llm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/subagentrun/subagent/registry"
)

// Message is one entry of an LLM request's conversation.
type Message struct {
	Role       string // "system" | "user" | "assistant" | "tool"
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is one function-call the model asked for, or (with RawArgs
// only) one the model is being shown a past record of.
type ToolCall struct {
	ID      string
	Name    string
	Args    map[string]any
	RawArgs string
}

// ToolSchema is one JSON function schema offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is the Loop's single call shape into any provider.
type Request struct {
	System     string
	Messages   []Message
	Turn       int
	ToolNames  []string
	Output     string // "" (dsl) | "json" | "text"
	Schema     map[string]any
	Tools      []ToolSchema
}

// Tokens is the token accounting a provider may report; zero values
// mean "not reported".
type Tokens struct {
	Input         int
	Output        int
	CacheCreation int
	CacheRead     int
}

// Result is what a provider call returns: exactly one of a successful
// reply or an error reason.
type Result struct {
	OK        bool
	Content   string
	Tokens    Tokens
	ToolCalls []ToolCall
	Error     string
}

// Provider is the external LLM callable contract: request in, result
// out. Implementations must be safe for concurrent use across agent
// runs.
type Provider interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// ProviderFunc adapts a plain function to Provider, for tests and for
// the DSL-level `llm` callable binding option.
type ProviderFunc func(ctx context.Context, req Request) (Result, error)

func (f ProviderFunc) Generate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Backoff selects how RetryPolicy spaces out attempts.
type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy is the `llm_retry` environment knob.
// Retries never count toward an Agent's turn budget — only the Loop's turn accounting enforces that; this package
// only spaces out attempts and classifies retryability.
type RetryPolicy struct {
	MaxAttempts     int
	Backoff         Backoff
	BaseDelay       time.Duration
	RetryableErrors []string // error substrings; empty = retry all errors
}

// DefaultRetryPolicy returns the standard provider defaults: up to 3
// attempts, exponential backoff from 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: BackoffExponential, BaseDelay: time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	switch p.Backoff {
	case BackoffLinear:
		return time.Duration(attempt+1) * base
	case BackoffExponential:
		d := time.Duration(math.Pow(2, float64(attempt))) * base
		jitter := time.Duration(rand.Float64() * float64(d) * 0.1)
		return d + jitter
	default: // constant
		return base
	}
}

func (p RetryPolicy) retryable(err error) bool {
	if err == nil {
		return false
	}
	if len(p.RetryableErrors) == 0 {
		return true
	}
	msg := err.Error()
	for _, s := range p.RetryableErrors {
		if containsFold(msg, s) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	if substr == "" {
		return true
	}
	n, m := len(s), len(substr)
	for i := 0; i+m <= n; i++ {
		if equalFold(s[i:i+m], substr) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Retrying wraps a Provider with a RetryPolicy. Every attempt
// (including the ones that ultimately fail) is visible to the caller
// via onAttempt, so a Loop can still record token usage from a request
// that was retried.
type Retrying struct {
	Provider  Provider
	Policy    RetryPolicy
	OnAttempt func(attempt int, res Result, err error)
}

func (r Retrying) Generate(ctx context.Context, req Request) (Result, error) {
	policy := r.Policy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastRes Result
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		res, err := r.Provider.Generate(ctx, req)
		if r.OnAttempt != nil {
			r.OnAttempt(attempt, res, err)
		}
		if err == nil {
			return res, nil
		}
		lastRes, lastErr = res, err
		if !policy.retryable(err) || attempt == policy.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return lastRes, ctx.Err()
		case <-time.After(policy.delay(attempt)):
		}
	}
	return lastRes, lastErr
}

// Registry manages named Provider instances.
type Registry struct {
	*registry.BaseRegistry[Provider]
	mu sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

func (r *Registry) RegisterLLM(name string, p Provider) error {
	if name == "" {
		return fmt.Errorf("llm name cannot be empty")
	}
	if p == nil {
		return fmt.Errorf("llm provider cannot be nil")
	}
	return r.Register(name, p)
}

func (r *Registry) GetLLM(name string) (Provider, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("llm provider %q not found", name)
	}
	return p, nil
}
