package flagkit

import (
	"time"

	"github.com/flagkit/flagkit-go/internal/breaker"
	"github.com/flagkit/flagkit-go/internal/cache"
	"github.com/flagkit/flagkit-go/internal/events"
	"github.com/flagkit/flagkit-go/internal/evaluator"
	"github.com/flagkit/flagkit-go/internal/polling"
	"github.com/flagkit/flagkit-go/internal/streaming"
	"github.com/flagkit/flagkit-go/internal/telemetry"
	"github.com/flagkit/flagkit-go/internal/transport"
)

// SDKVersion identifies this module in the X-SDK-Version request header.
const SDKVersion = "1.0.0"

// SDKLanguage identifies this module in the X-SDK-Language request header.
const SDKLanguage = "go"

// Config holds all configuration for a Client.
type Config struct {
	// APIKey authenticates every outbound request. Required.
	APIKey string

	// SecondaryAPIKey is an optional failover credential, used once the
	// primary is rejected with an authentication error.
	SecondaryAPIKey string

	// BaseURL is the base of the flag delivery service.
	BaseURL string

	// Offline, if true, skips the network entirely at Start and marks the
	// client ready immediately, serving only bootstrap/default values.
	Offline bool

	// Timeout bounds every outbound HTTP call. Default 5s.
	Timeout time.Duration

	// Retries is the maximum number of attempts, the first one included, for
	// a request that keeps failing with a recoverable error. Default 3.
	Retries int

	// EnableRequestSigning signs mutating (POST) requests. Default true.
	EnableRequestSigning bool

	// EnableCacheEncryption is stored in Config only: no part of the core
	// reads it, and the core performs no cache encryption. Default false.
	EnableCacheEncryption bool

	// Cache configures the Flag Store.
	Cache CacheConfig

	// Polling configures the background refresh loop.
	Polling PollingConfig

	// Streaming configures the push-update connection.
	Streaming StreamingConfig

	// EventQueue configures analytics batching.
	EventQueue EventQueueConfig

	// CircuitBreaker configures the breaker gating every outbound call.
	CircuitBreaker CircuitBreakerConfig

	// EvaluationJitter adds a bounded uniform delay inside every Evaluate
	// call, applied regardless of hit/miss. Default disabled.
	EvaluationJitter EvaluationJitterConfig

	// Bootstrap seeds flag values consulted when a key isn't cached.
	Bootstrap map[string]interface{}

	// BootstrapConfig is a signed seed snapshot, verified per
	// BootstrapVerification before being trusted.
	BootstrapConfig *BootstrapConfig

	// BootstrapVerification controls how BootstrapConfig's signature is
	// checked.
	BootstrapVerification BootstrapVerificationConfig

	// Callbacks receives the client's lifecycle and telemetry events.
	Callbacks Callbacks

	// telemetryProvider overrides the default no-op telemetry.Provider; set
	// via WithTelemetryProvider since it carries an internal type.
	telemetryProvider telemetry.Provider
}

// CacheConfig configures the Flag Store.
type CacheConfig struct {
	// Enabled controls whether fetched flags remain fresh for TTL, or are
	// immediately considered stale (still readable via the stale path).
	// Default true.
	Enabled bool

	// TTL is how long a fetched entry stays fresh. Default 5 minutes.
	TTL time.Duration

	// MaxSize bounds the store; insertion past this evicts the
	// oldest-by-fetchedAt entry. Default 1000.
	MaxSize int
}

// PollingConfig configures the background refresh loop.
type PollingConfig struct {
	// Enabled starts the polling worker at Start. Default true.
	Enabled bool

	// Interval is the base poll interval; the actual interval used is
	// max(Interval, server-advertised pollingIntervalSeconds). Minimum 1s.
	Interval time.Duration

	BackoffMultiplier float64
	MaxInterval       time.Duration
}

// StreamingConfig configures the push-update connection.
type StreamingConfig struct {
	// Enabled opens the SSE connection at Start, falling back to polling
	// alone if it cannot be sustained. Default false: Non-goals place
	// real-time delivery as additive, not required.
	Enabled bool

	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	MaxReconnectDelay    time.Duration
	BackgroundRetryEvery time.Duration
}

// EventQueueConfig configures analytics batching.
type EventQueueConfig struct {
	MaxSize       int
	BatchSize     int
	FlushInterval time.Duration
}

// CircuitBreakerConfig configures the three-state breaker.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	SuccessThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxInFlight int
}

// EvaluationJitterConfig adds a bounded uniform delay inside evaluate.
type EvaluationJitterConfig struct {
	Enabled bool
	MinMs   int
	MaxMs   int
}

// BootstrapVerificationConfig controls bootstrap signature checking.
type BootstrapVerificationConfig struct {
	Enabled   bool
	MaxAgeMs  int64
	OnFailure OnFailureMode
}

// OnFailureMode is how the client responds to a failed bootstrap
// signature check.
type OnFailureMode string

const (
	OnFailureError  OnFailureMode = "error"
	OnFailureWarn   OnFailureMode = "warn"
	OnFailureIgnore OnFailureMode = "ignore"
)

// BootstrapConfig is a signed seed snapshot: flags, an optional HMAC
// signature over timestamp + "." + canonicalize(flags), and the timestamp
// it was signed at.
type BootstrapConfig struct {
	Flags     []FlagState
	Signature string
	Timestamp int64
}

// Callbacks receives events from the client's background workers. They
// execute on the worker goroutine: implementations must not block long.
type Callbacks struct {
	OnReady             func()
	OnError             func(error)
	OnUpdate            func([]FlagState)
	OnUsageUpdate       func(UsageTelemetry)
	OnSubscriptionError func(message string)
	OnConnectionLimit   func()
}

// UsageTelemetry mirrors the service's response-header usage signals.
type UsageTelemetry = transport.UsageTelemetry

// DefaultConfig returns recommended default configuration. APIKey and
// BaseURL must still be supplied.
func DefaultConfig() Config {
	return Config{
		Timeout:              5 * time.Second,
		Retries:              transport.DefaultMaxRetries,
		EnableRequestSigning: true,
		Cache: CacheConfig{
			Enabled: true,
			TTL:     5 * time.Minute,
			MaxSize: cache.DefaultMaxSize,
		},
		Polling: PollingConfig{
			Enabled:           true,
			Interval:          30 * time.Second,
			BackoffMultiplier: polling.DefaultBackoffMultiplier,
			MaxInterval:       polling.DefaultMaxInterval,
		},
		Streaming: StreamingConfig{
			Enabled:              false,
			HeartbeatInterval:    streaming.DefaultHeartbeatInterval,
			ReconnectInterval:    streaming.DefaultReconnectInterval,
			MaxReconnectAttempts: streaming.DefaultMaxReconnectAttempts,
			MaxReconnectDelay:    streaming.DefaultMaxReconnectDelay,
			BackgroundRetryEvery: streaming.DefaultBackgroundRetryEvery,
		},
		EventQueue: EventQueueConfig{
			MaxSize:       events.DefaultMaxSize,
			BatchSize:     events.DefaultBatchSize,
			FlushInterval: events.DefaultFlushInterval,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:    breaker.DefaultFailureThreshold,
			SuccessThreshold:    breaker.DefaultSuccessThreshold,
			ResetTimeout:        breaker.DefaultResetTimeout,
			HalfOpenMaxInFlight: breaker.DefaultHalfOpenMaxInFlight,
		},
		BootstrapVerification: BootstrapVerificationConfig{
			OnFailure: OnFailureWarn,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Retries <= 0 {
		c.Retries = d.Retries
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = d.Cache.TTL
	}
	if c.Cache.MaxSize <= 0 {
		c.Cache.MaxSize = d.Cache.MaxSize
	}
	if c.Polling.Interval <= 0 {
		c.Polling.Interval = d.Polling.Interval
	}
	if c.Polling.Interval < time.Second {
		c.Polling.Interval = time.Second
	}
	if c.Polling.BackoffMultiplier <= 0 {
		c.Polling.BackoffMultiplier = d.Polling.BackoffMultiplier
	}
	if c.Polling.MaxInterval <= 0 {
		c.Polling.MaxInterval = d.Polling.MaxInterval
	}
	if c.Streaming.HeartbeatInterval <= 0 {
		c.Streaming.HeartbeatInterval = d.Streaming.HeartbeatInterval
	}
	if c.Streaming.ReconnectInterval <= 0 {
		c.Streaming.ReconnectInterval = d.Streaming.ReconnectInterval
	}
	if c.Streaming.MaxReconnectAttempts <= 0 {
		c.Streaming.MaxReconnectAttempts = d.Streaming.MaxReconnectAttempts
	}
	if c.Streaming.MaxReconnectDelay <= 0 {
		c.Streaming.MaxReconnectDelay = d.Streaming.MaxReconnectDelay
	}
	if c.Streaming.BackgroundRetryEvery <= 0 {
		c.Streaming.BackgroundRetryEvery = d.Streaming.BackgroundRetryEvery
	}
	if c.EventQueue.MaxSize <= 0 {
		c.EventQueue.MaxSize = d.EventQueue.MaxSize
	}
	if c.EventQueue.BatchSize <= 0 {
		c.EventQueue.BatchSize = d.EventQueue.BatchSize
	}
	if c.EventQueue.FlushInterval <= 0 {
		c.EventQueue.FlushInterval = d.EventQueue.FlushInterval
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		c.CircuitBreaker.FailureThreshold = d.CircuitBreaker.FailureThreshold
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		c.CircuitBreaker.SuccessThreshold = d.CircuitBreaker.SuccessThreshold
	}
	if c.CircuitBreaker.ResetTimeout <= 0 {
		c.CircuitBreaker.ResetTimeout = d.CircuitBreaker.ResetTimeout
	}
	if c.CircuitBreaker.HalfOpenMaxInFlight <= 0 {
		c.CircuitBreaker.HalfOpenMaxInFlight = d.CircuitBreaker.HalfOpenMaxInFlight
	}
	if c.BootstrapVerification.OnFailure == "" {
		c.BootstrapVerification.OnFailure = d.BootstrapVerification.OnFailure
	}
	return c
}

func (c Config) toEvaluatorJitter() evaluator.JitterConfig {
	return evaluator.JitterConfig{
		Enabled: c.EvaluationJitter.Enabled,
		MinMs:   c.EvaluationJitter.MinMs,
		MaxMs:   c.EvaluationJitter.MaxMs,
	}
}

func (c Config) toBreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold:    c.CircuitBreaker.FailureThreshold,
		SuccessThreshold:    c.CircuitBreaker.SuccessThreshold,
		ResetTimeout:        c.CircuitBreaker.ResetTimeout,
		HalfOpenMaxInFlight: c.CircuitBreaker.HalfOpenMaxInFlight,
	}
}

func (c Config) toPollingConfig() polling.Config {
	return polling.Config{
		BaseInterval:      c.Polling.Interval,
		BackoffMultiplier: c.Polling.BackoffMultiplier,
		MaxInterval:       c.Polling.MaxInterval,
	}
}

func (c Config) toStreamingConfig() streaming.Config {
	return streaming.Config{
		HeartbeatInterval:    c.Streaming.HeartbeatInterval,
		ReconnectInterval:    c.Streaming.ReconnectInterval,
		MaxReconnectAttempts: c.Streaming.MaxReconnectAttempts,
		MaxReconnectDelay:    c.Streaming.MaxReconnectDelay,
		BackgroundRetryEvery: c.Streaming.BackgroundRetryEvery,
	}
}

func (c Config) toEventQueueConfig() events.Config {
	return events.Config{
		MaxSize:       c.EventQueue.MaxSize,
		BatchSize:     c.EventQueue.BatchSize,
		FlushInterval: c.EventQueue.FlushInterval,
		SDKVersion:    SDKVersion,
	}
}
