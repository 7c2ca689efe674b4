// Package tool implements the Tool Dispatcher: name
// resolution, argument validation, caching, and telemetry around
// invoking a tool handler. Nested-Agent and `:self` handler variants
// are resolved by the caller (the subagent package) and registered
// here as plain Handler closures — this package has no knowledge of
// agents, only of callable handlers, to avoid an import cycle with
// subagent (which itself depends on tool to build its Dispatcher).
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/subagentrun/subagent/registry"
	"github.com/subagentrun/subagent/signature"
	"github.com/subagentrun/subagent/telemetry"
	"github.com/subagentrun/subagent/value"
)

// Handler is a tool's Go implementation: normalized arguments in, a
// DSL value out.
type Handler func(ctx context.Context, args *value.Map) (any, error)

// Descriptor is one registered tool.
type Descriptor struct {
	Name        string
	Description string
	Signature   *signature.Signature // optional; validates args before dispatch
	Handler     Handler
	Cache       bool
	CatalogOnly bool // listed in the prompt's tool catalog, but not invocable
}

// DispatchError carries the closed error taxonomy's tool-facing
// reasons: tool_not_found, invalid_tool_args, tool_error,
// tool_call_limit_exceeded.
type DispatchError struct {
	Reason  string
	Message string
}

func (e *DispatchError) Error() string { return e.Reason + ": " + e.Message }

func dispatchErr(reason, format string, a ...any) error {
	return &DispatchError{Reason: reason, Message: fmt.Sprintf(format, a...)}
}

// Dispatcher implements eval.ToolExecutor, resolving a tool/name call
// to a registered Descriptor and running it with caching and telemetry.
type Dispatcher struct {
	registry *registry.BaseRegistry[Descriptor]
	bus      *telemetry.Bus

	cacheMu sync.Mutex
	cache   map[string]any

	callCount int
}

// New builds a Dispatcher. bus may be nil (telemetry becomes a no-op).
func New(bus *telemetry.Bus) *Dispatcher {
	return &Dispatcher{
		registry: registry.NewBaseRegistry[Descriptor](),
		bus:      bus,
		cache:    map[string]any{},
	}
}

// Register adds a tool descriptor; a name that is already registered is
// rejected with an error.
func (d *Dispatcher) Register(desc Descriptor) error {
	return d.registry.Register(desc.Name, desc)
}

// Descriptors returns every registered descriptor, for catalog
// rendering in the System-Prompt Composer.
func (d *Dispatcher) Descriptors() []Descriptor {
	return d.registry.List()
}

// CallCount reports how many handler invocations on this Dispatcher have
// completed without error; cache hits are not counted.
func (d *Dispatcher) CallCount() int {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	return d.callCount
}

// Dispatch implements eval.ToolExecutor.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args *value.Map) (any, error) {
	desc, ok := d.registry.Get(name)
	if !ok {
		return nil, dispatchErr("tool_not_found", "no tool registered as %q", name)
	}
	if desc.CatalogOnly {
		return nil, dispatchErr("tool_error", "%q is catalog-only and cannot be invoked directly", name)
	}
	if desc.Signature != nil {
		if violations := signature.Validate(sigInputType(desc.Signature), args); len(violations) > 0 {
			return nil, dispatchErr("invalid_tool_args", "%s", formatViolations(violations))
		}
	}

	cacheKey := ""
	if desc.Cache {
		cacheKey = name + "|" + value.SortKeysForCache(args)
		if v, ok := d.cachedValue(cacheKey); ok {
			return v, nil
		}
	}

	var endSpan func(err error, durationMS int64, extra map[string]any)
	if d.bus != nil {
		ctx, endSpan = d.bus.StartSpan(ctx, telemetry.ToolStart, name, map[string]any{"args": value.Sample(args, 80, 3)})
	}

	start := time.Now()
	result, err := runHandler(ctx, desc.Handler, args)
	durationMS := time.Since(start).Milliseconds()

	if endSpan != nil {
		endSpan(err, durationMS, nil)
	}
	if err != nil {
		return nil, dispatchErr("tool_error", "%v", err)
	}

	d.cacheMu.Lock()
	d.callCount++
	d.cacheMu.Unlock()
	if desc.Cache {
		d.cacheMu.Lock()
		d.cache[cacheKey] = result
		d.cacheMu.Unlock()
	}
	return result, nil
}

func (d *Dispatcher) cachedValue(key string) (any, bool) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	v, ok := d.cache[key]
	return v, ok
}

// runHandler recovers a handler panic into tool_error rather than
// letting it cross the evaluator boundary.
func runHandler(ctx context.Context, h Handler, args *value.Map) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool handler panicked: %v", r)
		}
	}()
	return h(ctx, args)
}

func sigInputType(sig *signature.Signature) *signature.Type {
	t := &signature.Type{Kind: signature.KMap}
	for _, p := range sig.Params {
		t.Fields = append(t.Fields, signature.Field{Name: p.Name, Type: p.Type})
	}
	return t
}

func formatViolations(viols []signature.Violation) string {
	b, _ := json.Marshal(viols)
	return string(b)
}
