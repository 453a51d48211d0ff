// Package events implements the bounded, best-effort analytics batching
// queue described in spec.md §4.10: track() enqueues non-blocking, drops on
// a full buffer, and flushes on a size threshold or a periodic timer.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flagkit/flagkit-go/internal/domain"
	"github.com/flagkit/flagkit-go/internal/telemetry"
	"github.com/flagkit/flagkit-go/internal/transport"
)

const (
	DefaultMaxSize       = 1000
	DefaultBatchSize     = 10
	DefaultFlushInterval = 30 * time.Second

	batchEventsPath = "/sdk/events/batch"
)

// Event is one analytics record.
type Event struct {
	Type          string                    `json:"type"`
	Timestamp     int64                     `json:"timestamp"`
	SessionID     string                    `json:"sessionId"`
	EnvironmentID string                    `json:"environmentId,omitempty"`
	SDKVersion    string                    `json:"sdkVersion"`
	Data          interface{}               `json:"data,omitempty"`
	Context       *domain.EvaluationContext `json:"context,omitempty"`
}

// Config holds the Event Queue's tunable parameters.
type Config struct {
	MaxSize       int
	BatchSize     int
	FlushInterval time.Duration
	EnvironmentID string
	SDKVersion    string
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	return c
}

// Poster is the transport surface the queue needs to ship a batch.
type Poster interface {
	Post(ctx context.Context, path string, body []byte) (transport.Response, *domain.Error)
}

type batchPayload struct {
	Events []Event `json:"events"`
}

// Queue is the Event Queue worker.
type Queue struct {
	cfg       Config
	poster    Poster
	sessionID string

	mu      sync.Mutex
	buf     []Event
	flushCh chan struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	now       func() time.Time
	telemetry telemetry.Provider
}

// New constructs a Queue and starts its background worker.
func New(cfg Config, poster Poster) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		cfg:       cfg,
		poster:    poster,
		sessionID: uuid.NewString(),
		flushCh:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		now:       time.Now,
		telemetry: telemetry.NoopProvider{},
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// WithTelemetryProvider installs a non-default telemetry.Provider that
// records the outcome of every Flush.
func (q *Queue) WithTelemetryProvider(p telemetry.Provider) *Queue {
	if p != nil {
		q.telemetry = p
	}
	return q
}

// Track enqueues an event without a context snapshot. It never blocks: a
// full buffer drops the event.
func (q *Queue) Track(eventType string, data interface{}) {
	q.enqueue(eventType, data, nil)
}

// TrackWithContext enqueues an event carrying a sanitized context snapshot
// (private attributes stripped per domain.EvaluationContext.Sanitized).
func (q *Queue) TrackWithContext(eventType string, data interface{}, evalCtx domain.EvaluationContext) {
	sanitized := evalCtx.Sanitized()
	q.enqueue(eventType, data, &sanitized)
}

func (q *Queue) enqueue(eventType string, data interface{}, evalCtx *domain.EvaluationContext) {
	ev := Event{
		Type:          eventType,
		Timestamp:     q.now().UnixMilli(),
		SessionID:     q.sessionID,
		EnvironmentID: q.cfg.EnvironmentID,
		SDKVersion:    q.cfg.SDKVersion,
		Data:          data,
		Context:       evalCtx,
	}

	q.mu.Lock()
	full := len(q.buf) >= q.cfg.MaxSize
	reachedBatch := false
	if !full {
		q.buf = append(q.buf, ev)
		reachedBatch = len(q.buf) >= q.cfg.BatchSize
	}
	q.mu.Unlock()

	if reachedBatch {
		q.requestFlush()
	}
}

func (q *Queue) requestFlush() {
	select {
	case q.flushCh <- struct{}{}:
	default:
	}
}

// Size returns the current buffer length.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *Queue) run() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			q.Flush(context.Background())
			return
		case <-ticker.C:
			q.Flush(context.Background())
		case <-q.flushCh:
			q.Flush(context.Background())
		}
	}
}

// Flush atomically drains the buffer and POSTs it to the batch endpoint.
// A send failure discards the batch: analytics delivery is best-effort and
// never retried, to keep memory bounded and not perturb the breaker with
// non-critical traffic.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	if len(q.buf) == 0 {
		q.mu.Unlock()
		return
	}
	batch := q.buf
	q.buf = nil
	q.mu.Unlock()

	body, err := json.Marshal(batchPayload{Events: batch})
	if err != nil {
		q.telemetry.RecordEventFlush(ctx, false, len(batch))
		return
	}
	_, derr := q.poster.Post(ctx, batchEventsPath, body)
	q.telemetry.RecordEventFlush(ctx, derr == nil, len(batch))
}

// Stop cancels the periodic timer, runs one final flush, then awaits the
// worker with a bounded wait. It returns false if the wait timed out.
func (q *Queue) Stop(timeout time.Duration) bool {
	q.stopOnce.Do(func() { close(q.stopCh) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
