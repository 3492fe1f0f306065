// OpenTelemetry tracing for session bootstrap and liveness.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with session-specific helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFromProvider creates a tracer from a specific provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Probe Spans ---

// ProbeSpanOptions describes a local oracle probe.
type ProbeSpanOptions struct {
	Prober    string
	Available bool
	Detail    string
}

// StartProbeSpan starts a span for a local oracle probe.
func (t *Tracer) StartProbeSpan(ctx context.Context, prober string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "probe."+prober, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("probe.name", prober))
	return ctx, span
}

// EndProbeSpan ends a probe span.
func (t *Tracer) EndProbeSpan(span trace.Span, opts ProbeSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Bool("probe.available", opts.Available),
	}
	if opts.Detail != "" {
		attrs = append(attrs, attribute.String("probe.detail", opts.Detail))
	}
	span.SetAttributes(attrs...)
	end(span, err)
}

// --- Topology Spans ---

// ResolveSpanOptions describes a topology lookup.
type ResolveSpanOptions struct {
	Address string
	Status  string
	Source  string
	Attempt int
}

// StartResolveSpan starts a span for a topology lookup.
func (t *Tracer) StartResolveSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "topology.resolve", trace.WithSpanKind(trace.SpanKindClient))
}

// EndResolveSpan ends a topology span.
func (t *Tracer) EndResolveSpan(span trace.Span, opts ResolveSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Bool("topology.has_oracle", opts.Address != ""),
		attribute.Int("topology.attempt", opts.Attempt),
	}
	if opts.Address != "" {
		attrs = append(attrs, attribute.String("topology.oracle", opts.Address))
	}
	if opts.Status != "" {
		attrs = append(attrs, attribute.String("topology.status", opts.Status))
	}
	if opts.Source != "" {
		attrs = append(attrs, attribute.String("topology.source", opts.Source))
	}
	span.SetAttributes(attrs...)
	end(span, err)
}

// --- Worker Spans ---

// StartWorkerInitSpan starts a span for handing the address to the worker.
func (t *Tracer) StartWorkerInitSpan(ctx context.Context, sessionID, address string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "swarm.init", trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Bool("swarm.has_oracle", address != ""),
	)
	return ctx, span
}

// EndWorkerInitSpan ends a worker init span.
func (t *Tracer) EndWorkerInitSpan(span trace.Span, err error) {
	end(span, err)
}

// --- Heartbeat Spans ---

// HeartbeatSpanOptions describes a heartbeat outcome.
type HeartbeatSpanOptions struct {
	OK     bool
	RTT    time.Duration
	Detail string
}

// StartHeartbeatSpan starts a span for one heartbeat.
func (t *Tracer) StartHeartbeatSpan(ctx context.Context, address string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "heartbeat.ping", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("heartbeat.oracle", address))
	return ctx, span
}

// EndHeartbeatSpan ends a heartbeat span. A failed heartbeat is data, not an
// error, so the span status stays unset unless OK.
func (t *Tracer) EndHeartbeatSpan(span trace.Span, opts HeartbeatSpanOptions) {
	span.SetAttributes(attribute.Bool("heartbeat.ok", opts.OK))
	if opts.OK {
		span.SetAttributes(attribute.Float64("heartbeat.rtt_ms", float64(opts.RTT)/float64(time.Millisecond)))
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetAttributes(attribute.String("heartbeat.detail", opts.Detail))
	}
	span.End()
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a simple map-based TextMapCarrier for context propagation.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
