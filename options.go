package flagkit

import (
	"time"

	"github.com/flagkit/flagkit-go/internal/telemetry"
)

// Option configures a Config before New constructs the Client.
type Option func(*Config)

// WithAPIKey sets the primary authentication credential. Required.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithSecondaryAPIKey sets the failover credential used once the primary is
// rejected with an authentication error.
func WithSecondaryAPIKey(key string) Option {
	return func(c *Config) { c.SecondaryAPIKey = key }
}

// WithBaseURL sets the base URL of the flag delivery service.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithOffline skips the network at Start and marks the client ready
// immediately, serving only bootstrap/default values.
func WithOffline(offline bool) Option {
	return func(c *Config) { c.Offline = offline }
}

// WithTimeout bounds every outbound HTTP call.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetries sets the maximum number of attempts, the first one included,
// for requests that fail with a recoverable error.
func WithRetries(n int) Option {
	return func(c *Config) { c.Retries = n }
}

// WithRequestSigning toggles HMAC signing of mutating requests.
func WithRequestSigning(enabled bool) Option {
	return func(c *Config) { c.EnableRequestSigning = enabled }
}

// WithCache configures the Flag Store.
func WithCache(cfg CacheConfig) Option {
	return func(c *Config) { c.Cache = cfg }
}

// WithPolling configures the background refresh loop.
func WithPolling(cfg PollingConfig) Option {
	return func(c *Config) { c.Polling = cfg }
}

// WithStreaming configures the push-update connection.
func WithStreaming(cfg StreamingConfig) Option {
	return func(c *Config) { c.Streaming = cfg }
}

// WithEventQueue configures analytics batching.
func WithEventQueue(cfg EventQueueConfig) Option {
	return func(c *Config) { c.EventQueue = cfg }
}

// WithCircuitBreaker configures the three-state breaker gating every
// outbound call.
func WithCircuitBreaker(cfg CircuitBreakerConfig) Option {
	return func(c *Config) { c.CircuitBreaker = cfg }
}

// WithEvaluationJitter adds a bounded uniform delay inside every Evaluate
// call, applied regardless of hit/miss.
func WithEvaluationJitter(cfg EvaluationJitterConfig) Option {
	return func(c *Config) { c.EvaluationJitter = cfg }
}

// WithBootstrap seeds flag values consulted when a key isn't cached.
func WithBootstrap(flags map[string]interface{}) Option {
	return func(c *Config) { c.Bootstrap = flags }
}

// WithBootstrapConfig installs a signed seed snapshot, verified per
// WithBootstrapVerification before being trusted.
func WithBootstrapConfig(cfg BootstrapConfig) Option {
	return func(c *Config) { c.BootstrapConfig = &cfg }
}

// WithBootstrapVerification controls how a BootstrapConfig's signature is
// checked.
func WithBootstrapVerification(cfg BootstrapVerificationConfig) Option {
	return func(c *Config) { c.BootstrapVerification = cfg }
}

// WithCallbacks installs the lifecycle and telemetry callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(c *Config) { c.Callbacks = cb }
}

// WithTelemetryProvider installs a non-default telemetry.Provider, such as
// an OpenTelemetry-backed one constructed via the telemetry package.
func WithTelemetryProvider(p telemetry.Provider) Option {
	return func(c *Config) { c.telemetryProvider = p }
}

// WithConfig applies a full Config, overriding whatever preceded it in the
// option chain.
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}
