package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	meterName  = "flagkit"
	tracerName = "flagkit"
)

// OTelProvider implements Provider using OpenTelemetry.
type OTelProvider struct {
	tracer trace.Tracer
	meter  metric.Meter

	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	evaluations     metric.Int64Counter
	refreshDuration metric.Float64Histogram
	refreshSuccess  metric.Int64Counter
	refreshFailure  metric.Int64Counter
	circuitState    metric.Int64ObservableGauge
	streamState     metric.Int64ObservableGauge
	eventFlushes    metric.Int64Counter

	currentCircuitState string
	currentStreamState  string
}

// NewOTel creates a new OpenTelemetry-backed provider, reading the
// process-global tracer/meter providers (set by the host application).
func NewOTel() (*OTelProvider, error) {
	provider := &OTelProvider{
		tracer: otel.Tracer(tracerName),
		meter:  otel.Meter(meterName),
	}
	if err := provider.initMetrics(); err != nil {
		return nil, err
	}
	return provider, nil
}

func (o *OTelProvider) initMetrics() error {
	var err error

	o.cacheHits, err = o.meter.Int64Counter(
		"flagkit.cache.hits",
		metric.WithDescription("Number of Flag Store fresh-read hits"),
	)
	if err != nil {
		return err
	}

	o.cacheMisses, err = o.meter.Int64Counter(
		"flagkit.cache.misses",
		metric.WithDescription("Number of Flag Store lookup misses"),
	)
	if err != nil {
		return err
	}

	o.evaluations, err = o.meter.Int64Counter(
		"flagkit.evaluations",
		metric.WithDescription("Number of flag evaluations, by reason"),
	)
	if err != nil {
		return err
	}

	o.refreshDuration, err = o.meter.Float64Histogram(
		"flagkit.refresh.duration",
		metric.WithDescription("Duration of polling refresh operations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	o.refreshSuccess, err = o.meter.Int64Counter(
		"flagkit.refresh.success",
		metric.WithDescription("Number of successful polling refreshes"),
	)
	if err != nil {
		return err
	}

	o.refreshFailure, err = o.meter.Int64Counter(
		"flagkit.refresh.failure",
		metric.WithDescription("Number of failed polling refreshes"),
	)
	if err != nil {
		return err
	}

	o.circuitState, err = o.meter.Int64ObservableGauge(
		"flagkit.circuit.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(stateValue(o.currentCircuitState))
			return nil
		}),
	)
	if err != nil {
		return err
	}

	o.streamState, err = o.meter.Int64ObservableGauge(
		"flagkit.stream.state",
		metric.WithDescription("Streaming connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=failed)"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(streamStateValue(o.currentStreamState))
			return nil
		}),
	)
	if err != nil {
		return err
	}

	o.eventFlushes, err = o.meter.Int64Counter(
		"flagkit.events.flushes",
		metric.WithDescription("Number of Event Queue flush attempts, by outcome"),
	)
	if err != nil {
		return err
	}

	return nil
}

func stateValue(state string) int64 {
	switch state {
	case "CLOSED":
		return 0
	case "OPEN":
		return 1
	case "HALF_OPEN":
		return 2
	default:
		return 0
	}
}

func streamStateValue(state string) int64 {
	switch state {
	case "DISCONNECTED":
		return 0
	case "CONNECTING":
		return 1
	case "CONNECTED":
		return 2
	case "RECONNECTING":
		return 3
	case "FAILED":
		return 4
	default:
		return 0
	}
}

func (o *OTelProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	config := &SpanConfig{}
	for _, opt := range opts {
		opt(config)
	}

	otelAttrs := make([]attribute.KeyValue, len(config.Attributes))
	for i, attr := range config.Attributes {
		otelAttrs[i] = convertAttribute(attr)
	}

	ctx, span := o.tracer.Start(ctx, name, trace.WithAttributes(otelAttrs...))
	return ctx, &otelSpan{span: span}
}

func convertAttribute(attr Attribute) attribute.KeyValue {
	switch v := attr.Value.(type) {
	case string:
		return attribute.String(attr.Key, v)
	case int:
		return attribute.Int(attr.Key, v)
	case int64:
		return attribute.Int64(attr.Key, v)
	case bool:
		return attribute.Bool(attr.Key, v)
	case float64:
		return attribute.Float64(attr.Key, v)
	default:
		return attribute.String(attr.Key, "")
	}
}

func (o *OTelProvider) RecordCacheHit(ctx context.Context, flagKey string) {
	o.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("flag.key", flagKey)))
}

func (o *OTelProvider) RecordCacheMiss(ctx context.Context, flagKey string) {
	o.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("flag.key", flagKey)))
}

func (o *OTelProvider) RecordEvaluation(ctx context.Context, flagKey string, reason string) {
	o.evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flag.key", flagKey),
		attribute.String("reason", reason),
	))
}

func (o *OTelProvider) RecordRefresh(ctx context.Context, success bool, duration time.Duration, flagCount int) {
	o.refreshDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attribute.Bool("success", success)))
	if success {
		o.refreshSuccess.Add(ctx, 1, metric.WithAttributes(attribute.Int("flag.count", flagCount)))
	} else {
		o.refreshFailure.Add(ctx, 1)
	}
}

func (o *OTelProvider) RecordCircuitState(ctx context.Context, state string) {
	o.currentCircuitState = state
}

func (o *OTelProvider) RecordStreamState(ctx context.Context, state string) {
	o.currentStreamState = state
}

func (o *OTelProvider) RecordEventFlush(ctx context.Context, success bool, batchSize int) {
	o.eventFlushes.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.Int("batch.size", batchSize),
	))
}

func (o *OTelProvider) Shutdown(ctx context.Context) error {
	// The OTel SDK's own shutdown is the host application's responsibility;
	// the provider itself holds no resources to release.
	return nil
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttributes(attrs ...Attribute) {
	otelAttrs := make([]attribute.KeyValue, len(attrs))
	for i, attr := range attrs {
		otelAttrs[i] = convertAttribute(attr)
	}
	s.span.SetAttributes(otelAttrs...)
}

func (s *otelSpan) RecordError(err error) { s.span.RecordError(err) }

func (s *otelSpan) AddEvent(name string, attrs ...Attribute) {
	otelAttrs := make([]attribute.KeyValue, len(attrs))
	for i, attr := range attrs {
		otelAttrs[i] = convertAttribute(attr)
	}
	s.span.AddEvent(name, trace.WithAttributes(otelAttrs...))
}
