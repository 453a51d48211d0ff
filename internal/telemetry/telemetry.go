// Package telemetry defines the observability surface every other internal
// package records through, plus a no-op default and an OpenTelemetry
// implementation.
package telemetry

import (
	"context"
	"time"
)

// Provider is the telemetry surface internal packages record through. The
// SDK works without an OTel SDK wired in by the host application because
// NoopProvider is the zero-value default.
type Provider interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)

	RecordCacheHit(ctx context.Context, flagKey string)
	RecordCacheMiss(ctx context.Context, flagKey string)
	RecordEvaluation(ctx context.Context, flagKey string, reason string)
	RecordRefresh(ctx context.Context, success bool, duration time.Duration, flagCount int)
	RecordCircuitState(ctx context.Context, state string)
	RecordStreamState(ctx context.Context, state string)
	RecordEventFlush(ctx context.Context, success bool, batchSize int)

	Shutdown(ctx context.Context) error
}

// Span represents a trace span.
type Span interface {
	End()
	SetAttributes(attrs ...Attribute)
	RecordError(err error)
	AddEvent(name string, attrs ...Attribute)
}

// SpanOption configures span creation.
type SpanOption func(*SpanConfig)

// SpanConfig holds span configuration.
type SpanConfig struct {
	Attributes []Attribute
}

// WithAttributes adds attributes to a span.
func WithAttributes(attrs ...Attribute) SpanOption {
	return func(c *SpanConfig) {
		c.Attributes = append(c.Attributes, attrs...)
	}
}

// Attribute is a key-value pair attached to a span or log event.
type Attribute struct {
	Key   string
	Value interface{}
}

func String(key, value string) Attribute    { return Attribute{Key: key, Value: value} }
func Int(key string, value int) Attribute   { return Attribute{Key: key, Value: value} }
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}
func Bool(key string, value bool) Attribute { return Attribute{Key: key, Value: value} }

func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}
