// Package flagkit is the client-side core of a feature-flag delivery SDK:
// local evaluation against a TTL cache, a background poller and an SSE push
// stream that keep the cache fresh, and a batching analytics queue — all
// behind a circuit breaker and credential-failover HTTP transport.
package flagkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/flagkit/flagkit-go/internal/bootstrap"
	"github.com/flagkit/flagkit-go/internal/breaker"
	"github.com/flagkit/flagkit-go/internal/cache"
	"github.com/flagkit/flagkit-go/internal/credentials"
	"github.com/flagkit/flagkit-go/internal/domain"
	"github.com/flagkit/flagkit-go/internal/evaluator"
	"github.com/flagkit/flagkit-go/internal/events"
	"github.com/flagkit/flagkit-go/internal/polling"
	"github.com/flagkit/flagkit-go/internal/streaming"
	"github.com/flagkit/flagkit-go/internal/telemetry"
	"github.com/flagkit/flagkit-go/internal/transport"
)

const (
	pathInit    = "/sdk/init"
	pathUpdates = "/sdk/updates"
)

// Client is the main entry point for flagkit. It is safe for concurrent use
// by multiple goroutines, and multiple independent Clients may coexist in
// one process.
type Client struct {
	cfg Config

	store      *cache.Store
	eval       *evaluator.Evaluator
	creds      *credentials.Manager
	breaker    *breaker.Breaker
	transport  *transport.Transport
	poller     *polling.Manager
	stream     *streaming.Client
	eventQueue *events.Queue
	telemetry  telemetry.Provider

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once

	mu            sync.Mutex
	lastCheckedAt string
}

// New constructs a Client from the given options. It does not touch the
// network; call Start to perform the initial synchronization and begin
// background refresh.
//
// Example:
//
//	client, err := flagkit.New(
//	    flagkit.WithAPIKey("sdk_live_abc123"),
//	    flagkit.WithBaseURL("https://edge.flagkit.io"),
//	)
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	if err := validateAPIKey(cfg.APIKey); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" && !cfg.Offline {
		return nil, domain.New(domain.KindInvalidConfiguration, domain.CategoryConfiguration, "BaseURL is required unless Offline is set")
	}

	provider := telemetry.Provider(telemetry.NoopProvider{})
	if cfg.telemetryProvider != nil {
		provider = cfg.telemetryProvider
	}

	bootstrapFlags, err := buildBootstrapFlags(cfg)
	if err != nil {
		return nil, err
	}

	creds := credentials.New(cfg.APIKey, cfg.SecondaryAPIKey)
	brk := breaker.New(cfg.toBreakerConfig())
	store := cache.New(cache.WithMaxSize(cfg.Cache.MaxSize), cache.WithTelemetryProvider(provider))
	eval := evaluator.New(store, evaluator.WithBootstrap(bootstrapFlags), evaluator.WithJitter(cfg.toEvaluatorJitter()))

	c := &Client{
		cfg:       cfg,
		store:     store,
		eval:      eval,
		creds:     creds,
		breaker:   brk,
		telemetry: provider,
		ready:     make(chan struct{}),
	}

	c.transport = transport.New(cfg.BaseURL, creds, brk,
		transport.WithTimeout(cfg.Timeout),
		transport.WithRetryConfig(transport.RetryConfig{MaxRetries: cfg.Retries}),
		transport.WithRequestSigning(cfg.EnableRequestSigning),
		transport.WithTelemetryProvider(provider),
		transport.WithUsageCallback(c.handleUsage),
	)

	c.eventQueue = events.New(cfg.toEventQueueConfig(), c.transport).WithTelemetryProvider(provider)
	c.poller = polling.New(cfg.toPollingConfig(), c.pollOnce).WithTelemetryProvider(provider)

	if cfg.Streaming.Enabled {
		httpClient := &http.Client{} // unbounded read timeout; cancellation via context
		c.stream = streaming.New(cfg.BaseURL, httpClient, creds, store, cfg.toStreamingConfig(), streaming.Callbacks{
			OnFallbackToPolling: func() {
				if cfg.Callbacks.OnError != nil {
					cfg.Callbacks.OnError(domain.New(domain.KindStreamUnavailable, domain.CategoryStreaming, "streaming unavailable; falling back to polling"))
				}
			},
			OnSubscriptionError: cfg.Callbacks.OnSubscriptionError,
			OnConnectionLimit:   cfg.Callbacks.OnConnectionLimit,
		}).WithTelemetryProvider(provider)
	}

	return c, nil
}

func validateAPIKey(key string) *domain.Error {
	if len(key) < 10 {
		return domain.New(domain.KindInvalidConfiguration, domain.CategoryConfiguration, "APIKey must be at least 10 characters")
	}
	valid := strings.HasPrefix(key, "sdk_") || strings.HasPrefix(key, "srv_") || strings.HasPrefix(key, "cli_")
	if !valid {
		return domain.New(domain.KindInvalidConfiguration, domain.CategoryConfiguration, "APIKey must be prefixed with sdk_, srv_, or cli_")
	}
	return nil
}

// buildBootstrapFlags merges the plain Bootstrap seed map with a verified
// BootstrapConfig snapshot, the signed snapshot taking precedence on key
// collision since it carries a version and provenance the plain map lacks.
func buildBootstrapFlags(cfg Config) (map[string]domain.FlagState, error) {
	flags := make(map[string]domain.FlagState, len(cfg.Bootstrap))
	for key, value := range cfg.Bootstrap {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, domain.Wrap(domain.KindInvalidConfiguration, domain.CategoryConfiguration, "bootstrap value for "+key+" could not be marshaled", err)
		}
		flags[key] = domain.FlagState{
			Key:      key,
			Value:    raw,
			Enabled:  true,
			FlagType: domain.InferFlagType(raw),
		}
	}

	if cfg.BootstrapConfig == nil {
		return flags, nil
	}

	snapshot := bootstrap.Snapshot{
		Flags:     make(map[string]domain.FlagState, len(cfg.BootstrapConfig.Flags)),
		Signature: cfg.BootstrapConfig.Signature,
		Timestamp: cfg.BootstrapConfig.Timestamp,
	}
	for _, f := range cfg.BootstrapConfig.Flags {
		snapshot.Flags[f.Key] = f
	}

	v := bootstrap.New()
	ok, verr := v.Verify(snapshot, cfg.APIKey, bootstrap.Config{
		Enabled:   cfg.BootstrapVerification.Enabled,
		MaxAgeMs:  cfg.BootstrapVerification.MaxAgeMs,
		OnFailure: bootstrap.OnFailure(cfg.BootstrapVerification.OnFailure),
	}, time.Now().UnixMilli())
	if verr != nil {
		return nil, verr
	}
	if !ok {
		return flags, nil
	}
	for k, f := range snapshot.Flags {
		flags[k] = f
	}
	return flags, nil
}

// Start performs the initial synchronization and begins the background
// refresh workers. Initialization failures still mark the client ready
// (bootstrap/cache/default evaluation remains available); the error is
// both returned here and forwarded to Callbacks.OnError.
func (c *Client) Start(ctx context.Context) error {
	if c.cfg.Offline {
		c.markReady()
		if c.cfg.Callbacks.OnReady != nil {
			c.cfg.Callbacks.OnReady()
		}
		return nil
	}

	err := c.initialFetch(ctx)
	c.markReady()

	if err != nil && c.cfg.Callbacks.OnError != nil {
		c.cfg.Callbacks.OnError(err)
	}
	if c.cfg.Callbacks.OnReady != nil {
		c.cfg.Callbacks.OnReady()
	}

	if c.cfg.Polling.Enabled {
		c.poller.Start()
	}
	if c.stream != nil {
		c.stream.Connect(ctx)
	}

	if err != nil {
		return err
	}
	return nil
}

func (c *Client) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// WaitForReady blocks until Start has completed its initial attempt, or
// timeout elapses. It returns false on timeout.
func (c *Client) WaitForReady(timeout time.Duration) bool {
	select {
	case <-c.ready:
		return true
	case <-time.After(timeout):
		return false
	}
}

type initResponse struct {
	Flags                  []domain.FlagState `json:"flags"`
	EnvironmentID          string             `json:"environmentId,omitempty"`
	ServerTime             string             `json:"serverTime,omitempty"`
	PollingIntervalSeconds int                `json:"pollingIntervalSeconds,omitempty"`
}

type updatesResponse struct {
	Flags     []domain.FlagState `json:"flags"`
	CheckedAt string             `json:"checkedAt"`
}

func (c *Client) initialFetch(ctx context.Context) error {
	resp, derr := c.transport.Get(ctx, pathInit)
	if derr != nil {
		return derr
	}

	var parsed initResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return domain.Wrap(domain.KindInternal, domain.CategoryInitialization, "malformed /sdk/init response", err)
	}

	c.store.SetMany(parsed.Flags, c.effectiveTTL())

	if c.cfg.Polling.Enabled && parsed.PollingIntervalSeconds > 0 {
		serverInterval := time.Duration(parsed.PollingIntervalSeconds) * time.Second
		if serverInterval > c.cfg.Polling.Interval {
			c.poller = polling.New(polling.Config{
				BaseInterval:      serverInterval,
				BackoffMultiplier: c.cfg.Polling.BackoffMultiplier,
				MaxInterval:       c.cfg.Polling.MaxInterval,
			}, c.pollOnce).WithTelemetryProvider(c.telemetry)
		}
	}

	c.mu.Lock()
	c.lastCheckedAt = parsed.ServerTime
	c.mu.Unlock()

	if c.cfg.Callbacks.OnUpdate != nil {
		c.cfg.Callbacks.OnUpdate(parsed.Flags)
	}
	return nil
}

func (c *Client) effectiveTTL() time.Duration {
	if !c.cfg.Cache.Enabled {
		// NewCacheEntry treats a ttl <= 0 as non-expiring, so the smallest
		// positive ttl is used to make entries stale at once.
		return time.Nanosecond
	}
	return c.cfg.Cache.TTL
}

func (c *Client) pollOnce() (int, error) {
	ctx := context.Background()

	c.mu.Lock()
	since := c.lastCheckedAt
	c.mu.Unlock()

	path := pathUpdates
	if since != "" {
		path = fmt.Sprintf("%s?since=%s", pathUpdates, since)
	}

	resp, derr := c.transport.Get(ctx, path)
	if derr != nil {
		if c.cfg.Callbacks.OnError != nil {
			c.cfg.Callbacks.OnError(derr)
		}
		return 0, derr
	}

	var parsed updatesResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		wrapped := domain.Wrap(domain.KindInternal, domain.CategoryNetwork, "malformed /sdk/updates response", err)
		if c.cfg.Callbacks.OnError != nil {
			c.cfg.Callbacks.OnError(wrapped)
		}
		return 0, wrapped
	}

	c.store.SetMany(parsed.Flags, c.effectiveTTL())

	c.mu.Lock()
	c.lastCheckedAt = parsed.CheckedAt
	c.mu.Unlock()

	if c.cfg.Callbacks.OnUpdate != nil {
		c.cfg.Callbacks.OnUpdate(parsed.Flags)
	}
	return len(parsed.Flags), nil
}

func (c *Client) handleUsage(u transport.UsageTelemetry) {
	if c.cfg.Callbacks.OnUsageUpdate != nil {
		c.cfg.Callbacks.OnUsageUpdate(u)
	}
}

// Evaluate resolves flagKey to a typed EvaluationResult against the local
// cache, bootstrap seed, and defaultValue, in that priority order. It never
// blocks on I/O and never returns an error: every failure mode is encoded
// in the result's Reason.
func (c *Client) Evaluate(flagKey string, defaultValue interface{}, expectedType FlagType, evalCtx EvaluationContext) EvaluationResult {
	result := c.eval.Evaluate(flagKey, defaultValue, expectedType, &evalCtx)
	c.telemetry.RecordEvaluation(context.Background(), flagKey, string(result.Reason))
	c.eventQueue.TrackWithContext("evaluation", evaluationEventData{FlagKey: flagKey, Reason: string(result.Reason)}, evalCtx)
	return result
}

type evaluationEventData struct {
	FlagKey string `json:"flagKey"`
	Reason  string `json:"reason"`
}

// Track enqueues a custom analytics event, best-effort and non-blocking.
func (c *Client) Track(eventType string, data interface{}, evalCtx EvaluationContext) {
	c.eventQueue.TrackWithContext(eventType, data, evalCtx)
}

// Stats returns the Flag Store's current hit/miss/size counters.
func (c *Client) Stats() cache.Stats {
	return c.store.Stats()
}

// InvalidateFlag removes a single flag from the cache; it is re-fetched on
// the next poll or push update.
func (c *Client) InvalidateFlag(flagKey string) {
	c.store.Delete(flagKey)
}

// InvalidateAll clears the entire cache.
func (c *Client) InvalidateAll() {
	c.store.Clear()
}

// closeTimeout bounds how long Close waits for each worker to drain.
const closeTimeout = 5 * time.Second

// Close stops every background worker. It waits a bounded time for the
// poller and the event queue to drain; the stream is cancelled without a
// wait. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.poller.Shutdown(closeTimeout)
		if c.stream != nil {
			c.stream.Shutdown()
		}
		c.eventQueue.Stop(closeTimeout)
		_ = c.telemetry.Shutdown(context.Background())
	})
	return nil
}
