package telemetry

import (
	"context"
	"time"
)

// NoopProvider discards every call. It is the zero-value Provider used when
// the host application has not wired in an OTel SDK.
type NoopProvider struct{}

var _ Provider = NoopProvider{}

func (NoopProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (NoopProvider) RecordCacheHit(ctx context.Context, flagKey string)  {}
func (NoopProvider) RecordCacheMiss(ctx context.Context, flagKey string) {}
func (NoopProvider) RecordEvaluation(ctx context.Context, flagKey string, reason string) {
}
func (NoopProvider) RecordRefresh(ctx context.Context, success bool, duration time.Duration, flagCount int) {
}
func (NoopProvider) RecordCircuitState(ctx context.Context, state string)               {}
func (NoopProvider) RecordStreamState(ctx context.Context, state string)                {}
func (NoopProvider) RecordEventFlush(ctx context.Context, success bool, batchSize int)   {}
func (NoopProvider) Shutdown(ctx context.Context) error                                 { return nil }

type noopSpan struct{}

func (noopSpan) End()                                      {}
func (noopSpan) SetAttributes(attrs ...Attribute)          {}
func (noopSpan) RecordError(err error)                     {}
func (noopSpan) AddEvent(name string, attrs ...Attribute)  {}
