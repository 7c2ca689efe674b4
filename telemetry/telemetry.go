// Package telemetry implements the Telemetry Bus: a
// single span-aware emission path for run/turn/llm/tool lifecycle
// events, backed by go.opentelemetry.io/otel for span correlation and
// github.com/prometheus/client_golang for counters/histograms.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// EventType enumerates the Bus's fixed vocabulary.
type EventType string

const (
	RunStart       EventType = "run.start"
	RunStop        EventType = "run.stop"
	RunException   EventType = "run.exception"
	TurnStart      EventType = "turn.start"
	TurnStop       EventType = "turn.stop"
	LLMStart       EventType = "llm.start"
	LLMStop        EventType = "llm.stop"
	ToolStart      EventType = "tool.start"
	ToolStop       EventType = "tool.stop"
	ToolException  EventType = "tool.exception"
)

// Event is one emission on the Bus. SpanID/ParentSpanID are drawn from
// the span context active when the event was recorded so that nested
// spans (agent → tool → nested agent) correlate deterministically.
type Event struct {
	Type         EventType
	Name         string // agent name, tool name, or model name depending on Type
	SpanID       string
	ParentSpanID string
	Attrs        map[string]any
	Err          error
	DurationMS   int64
	At           time.Time
}

// Sink receives every emitted Event. Implementations must not block
// the caller for long; the Bus delivers synchronously.
type Sink interface {
	OnEvent(Event)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) OnEvent(e Event) { f(e) }

// Bus is the process-wide (or per-run) telemetry emission path. It
// owns an OpenTelemetry TracerProvider for span correlation and a
// Prometheus registry for the four metric families used across
// run/llm/tool.
type Bus struct {
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider

	mu    sync.RWMutex
	sinks []Sink

	metrics *metrics
}

// New builds a Bus with its own in-process TracerProvider (sampling
// everything — the Bus is for correlation and local sinks, not a
// full exporter pipeline) and a fresh Prometheus registry namespaced
// "subagent".
func New() *Bus {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	return &Bus{
		tracer:  tp.Tracer("subagent"),
		tp:      tp,
		metrics: newMetrics(),
	}
}

// Subscribe registers a Sink. Safe for concurrent use.
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

func (b *Bus) emit(ctx context.Context, e Event) {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasSpanID() {
		e.SpanID = sc.SpanID().String()
	}
	e.At = timeNow()
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()
	for _, s := range sinks {
		s.OnEvent(e)
	}
}

// timeNow is indirected so tests can substitute a deterministic clock.
var timeNow = time.Now

// StartSpan starts a named span and returns the derived context plus an
// end function; the end function records a stop/exception event and
// closes the span. callers pass `nil` for err on success.
func (b *Bus) StartSpan(ctx context.Context, kind EventType, name string, attrs map[string]any) (context.Context, func(err error, durationMS int64, extra map[string]any)) {
	parentSC := trace.SpanContextFromContext(ctx)
	spanCtx, span := b.tracer.Start(ctx, string(kind)+":"+name)

	startEvt := Event{Type: kind, Name: name, Attrs: attrs}
	if parentSC.HasSpanID() {
		startEvt.ParentSpanID = parentSC.SpanID().String()
	}
	b.emit(spanCtx, startEvt)

	stopType := stopEventFor(kind)
	return spanCtx, func(err error, durationMS int64, extra map[string]any) {
		defer span.End()
		evtType := stopType
		if err != nil {
			evtType = exceptionEventFor(kind)
		}
		merged := mergeAttrs(attrs, extra)
		b.emit(spanCtx, Event{
			Type: evtType, Name: name, Attrs: merged,
			Err: err, DurationMS: durationMS,
			ParentSpanID: startEvt.ParentSpanID,
		})
		b.recordMetric(kind, name, err, durationMS, extra)
	}
}

func stopEventFor(kind EventType) EventType {
	switch kind {
	case RunStart:
		return RunStop
	case TurnStart:
		return TurnStop
	case LLMStart:
		return LLMStop
	case ToolStart:
		return ToolStop
	default:
		return kind
	}
}

func exceptionEventFor(kind EventType) EventType {
	switch kind {
	case RunStart:
		return RunException
	case ToolStart:
		return ToolException
	default:
		return stopEventFor(kind)
	}
}

func mergeAttrs(base, extra map[string]any) map[string]any {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (b *Bus) recordMetric(kind EventType, name string, err error, durationMS int64, extra map[string]any) {
	if b.metrics == nil {
		return
	}
	dur := time.Duration(durationMS) * time.Millisecond
	switch kind {
	case RunStart:
		b.metrics.recordRun(name, err, dur)
	case LLMStart:
		provider, _ := extra["provider"].(string)
		inTok, _ := extra["input_tokens"].(int)
		outTok, _ := extra["output_tokens"].(int)
		b.metrics.recordLLM(name, provider, err, dur, inTok, outTok)
	case ToolStart:
		b.metrics.recordTool(name, err, dur)
	}
}

// MetricsHandler exposes the Bus's Prometheus registry over HTTP.
func (b *Bus) MetricsHandler() http.Handler {
	if b.metrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })
	}
	return promhttp.HandlerFor(b.metrics.registry, promhttp.HandlerOpts{})
}

// Shutdown releases the Bus's TracerProvider resources.
func (b *Bus) Shutdown(ctx context.Context) error {
	return b.tp.Shutdown(ctx)
}

// metrics groups the Prometheus instruments the Bus keeps: run/llm/tool
// counters and histograms, the fixed vocabulary the Bus emits.
type metrics struct {
	registry *prometheus.Registry

	runCalls    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runErrors   *prometheus.CounterVec

	llmCalls        *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	llmTokensInput  *prometheus.CounterVec
	llmTokensOutput *prometheus.CounterVec
	llmErrors       *prometheus.CounterVec

	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	toolErrors   *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{registry: prometheus.NewRegistry()}

	m.runCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subagent", Subsystem: "run", Name: "calls_total", Help: "Total number of agent runs",
	}, []string{"agent_name"})
	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subagent", Subsystem: "run", Name: "duration_seconds", Help: "Agent run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	}, []string{"agent_name"})
	m.runErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subagent", Subsystem: "run", Name: "errors_total", Help: "Total number of failed agent runs",
	}, []string{"agent_name"})

	m.llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subagent", Subsystem: "llm", Name: "calls_total", Help: "Total number of LLM requests",
	}, []string{"model", "provider"})
	m.llmDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subagent", Subsystem: "llm", Name: "duration_seconds", Help: "LLM request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"model", "provider"})
	m.llmTokensInput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subagent", Subsystem: "llm", Name: "tokens_input_total", Help: "Total input tokens consumed",
	}, []string{"model", "provider"})
	m.llmTokensOutput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subagent", Subsystem: "llm", Name: "tokens_output_total", Help: "Total output tokens generated",
	}, []string{"model", "provider"})
	m.llmErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subagent", Subsystem: "llm", Name: "errors_total", Help: "Total number of LLM errors",
	}, []string{"model", "provider"})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subagent", Subsystem: "tool", Name: "calls_total", Help: "Total number of tool invocations",
	}, []string{"tool_name"})
	m.toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subagent", Subsystem: "tool", Name: "duration_seconds", Help: "Tool execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"tool_name"})
	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subagent", Subsystem: "tool", Name: "errors_total", Help: "Total number of tool errors",
	}, []string{"tool_name"})

	m.registry.MustRegister(
		m.runCalls, m.runDuration, m.runErrors,
		m.llmCalls, m.llmDuration, m.llmTokensInput, m.llmTokensOutput, m.llmErrors,
		m.toolCalls, m.toolDuration, m.toolErrors,
	)
	return m
}

func (m *metrics) recordRun(agentName string, err error, d time.Duration) {
	m.runCalls.WithLabelValues(agentName).Inc()
	m.runDuration.WithLabelValues(agentName).Observe(d.Seconds())
	if err != nil {
		m.runErrors.WithLabelValues(agentName).Inc()
	}
}

func (m *metrics) recordLLM(model, provider string, err error, d time.Duration, inTok, outTok int) {
	m.llmCalls.WithLabelValues(model, provider).Inc()
	m.llmDuration.WithLabelValues(model, provider).Observe(d.Seconds())
	if inTok > 0 {
		m.llmTokensInput.WithLabelValues(model, provider).Add(float64(inTok))
	}
	if outTok > 0 {
		m.llmTokensOutput.WithLabelValues(model, provider).Add(float64(outTok))
	}
	if err != nil {
		m.llmErrors.WithLabelValues(model, provider).Inc()
	}
}

func (m *metrics) recordTool(toolName string, err error, d time.Duration) {
	m.toolCalls.WithLabelValues(toolName).Inc()
	m.toolDuration.WithLabelValues(toolName).Observe(d.Seconds())
	if err != nil {
		m.toolErrors.WithLabelValues(toolName).Inc()
	}
}
