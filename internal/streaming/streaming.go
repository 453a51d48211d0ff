// Package streaming maintains the SSE push connection for low-latency flag
// updates, stepping down to polling when the stream is unusable, per
// spec.md §4.9.
package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/flagkit/flagkit-go/internal/credentials"
	"github.com/flagkit/flagkit-go/internal/domain"
	"github.com/flagkit/flagkit-go/internal/telemetry"
)

// State is one of the Streaming Manager's states.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED"
)

const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectInterval    = time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultBackgroundRetryEvery = 5 * time.Minute

	tokenPath  = "/sdk/stream/token"
	streamPath = "/sdk/stream"
)

// Store is the write surface the Streaming Manager needs from the Flag
// Store.
type Store interface {
	Set(key string, flag domain.FlagState, ttl time.Duration)
	SetMany(flags []domain.FlagState, ttl time.Duration)
	Delete(key string)
	Clear()
}

// Callbacks are the consumer-facing hooks the Streaming Manager invokes.
type Callbacks struct {
	OnFallbackToPolling func()
	OnSubscriptionError func(message string)
	OnConnectionLimit   func()
}

// Config holds the Streaming Manager's tunable parameters.
type Config struct {
	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	MaxReconnectDelay    time.Duration
	BackgroundRetryEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if c.BackgroundRetryEvery <= 0 {
		c.BackgroundRetryEvery = DefaultBackgroundRetryEvery
	}
	return c
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

type flagDeletedPayload struct {
	Key string `json:"key"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeTokenInvalid          = "TOKEN_INVALID"
	codeTokenExpired          = "TOKEN_EXPIRED"
	codeSubscriptionSuspended = "SUBSCRIPTION_SUSPENDED"
	codeConnectionLimit       = "CONNECTION_LIMIT"
	codeStreamingUnavailable  = "STREAMING_UNAVAILABLE"
)

// Client maintains the SSE connection and applies incoming events to Store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      *credentials.Manager
	store      Store
	telemetry  telemetry.Provider
	callbacks  Callbacks
	cfg        Config

	state atomic.Value // State

	mu               sync.Mutex
	cancel            context.CancelFunc
	lastHeartbeat     time.Time
	reconnectFailures int
	group             singleflight.Group

	now   func() time.Time
	sleep func(time.Duration)
}

// New constructs a Client.
func New(baseURL string, httpClient *http.Client, creds *credentials.Manager, store Store, cfg Config, callbacks Callbacks) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		creds:      creds,
		store:      store,
		telemetry:  telemetry.NoopProvider{},
		callbacks:  callbacks,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
		sleep:      time.Sleep,
	}
	c.state.Store(StateDisconnected)
	return c
}

// WithTelemetryProvider installs a non-default telemetry provider.
func (c *Client) WithTelemetryProvider(p telemetry.Provider) *Client {
	c.telemetry = p
	return c
}

// State returns the Client's current connection state.
func (c *Client) State() State {
	return c.state.Load().(State)
}

func (c *Client) setState(ctx context.Context, s State) {
	c.state.Store(s)
	c.telemetry.RecordStreamState(ctx, string(s))
}

// Connect transitions DISCONNECTED/FAILED/RECONNECTING into CONNECTING via
// a single initiator; concurrent callers collapse into one connection
// attempt (spec.md §4.9).
func (c *Client) Connect(ctx context.Context) {
	current := c.State()
	if current != StateDisconnected && current != StateFailed && current != StateReconnecting {
		return
	}

	c.group.DoChan("connect", func() (interface{}, error) {
		c.runConnection(ctx)
		return nil, nil
	})
}

// Shutdown cancels the current connection and all timers.
func (c *Client) Shutdown() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.setState(context.Background(), StateDisconnected)
}

func (c *Client) runConnection(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	c.setState(ctx, StateConnecting)

	for {
		token, expiresIn, derr := c.fetchToken(ctx)
		if derr != nil {
			if !c.handleReconnectFailure(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.lastHeartbeat = c.now()
		c.reconnectFailures = 0
		c.mu.Unlock()

		c.setState(ctx, StateConnected)
		streamErr := c.runStream(ctx, token, expiresIn)
		if streamErr == nil {
			if ctx.Err() != nil {
				return // shut down cleanly
			}
			continue // token refresh timer fired: reconnect with a fresh token
		}
		if streamErr == errFallback {
			return
		}

		c.setState(ctx, StateReconnecting)
		if domain.KindOf(streamErr) == domain.KindStreamTokenExpired {
			// Token rejected or expired mid-stream: clean up and reconnect
			// with a fresh token immediately, no backoff (spec.md §4.9.2).
			continue
		}
		if !c.handleReconnectFailure(ctx) {
			return
		}
	}
}

var errFallback = fmt.Errorf("streaming: fell back to polling")

// handleReconnectFailure applies the reconnect backoff formula, or gives up
// to FAILED + background retry after MaxReconnectAttempts. Returns false if
// the caller should stop looping (FAILED was reached and a background
// retry was scheduled instead).
func (c *Client) handleReconnectFailure(ctx context.Context) bool {
	c.mu.Lock()
	c.reconnectFailures++
	failures := c.reconnectFailures
	c.mu.Unlock()

	if failures > c.cfg.MaxReconnectAttempts {
		c.setState(ctx, StateFailed)
		if c.callbacks.OnFallbackToPolling != nil {
			c.callbacks.OnFallbackToPolling()
		}
		c.scheduleBackgroundRetry(ctx)
		return false
	}

	delay := reconnectDelay(c.cfg.ReconnectInterval, failures, c.cfg.MaxReconnectDelay)
	c.sleep(delay)
	return true
}

func reconnectDelay(base time.Duration, failures int, max time.Duration) time.Duration {
	delay := float64(base)
	for i := 1; i < failures; i++ {
		delay *= 2
	}
	if d := time.Duration(delay); d < max {
		return d
	}
	return max
}

func (c *Client) scheduleBackgroundRetry(parent context.Context) {
	// parent is cancelled as soon as runConnection returns, so the retry
	// waits on a detached context that Shutdown cancels through c.cancel.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go func() {
		ticker := time.NewTicker(c.cfg.BackgroundRetryEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.State() != StateFailed {
					cancel()
					return
				}
				c.Connect(ctx)
				return
			}
		}
	}()
}

func (c *Client) fetchToken(ctx context.Context) (string, int, *domain.Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", 0, domain.Wrap(domain.KindInternal, domain.CategoryInternal, "failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.creds.Current())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, domain.Wrap(domain.KindNetwork, domain.CategoryStreaming, "token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, domain.Wrap(domain.KindNetwork, domain.CategoryStreaming, "failed to read token response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, domain.New(domain.KindStreamTokenInvalid, domain.CategoryStreaming, "token exchange rejected")
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", 0, domain.Wrap(domain.KindStreamTokenInvalid, domain.CategoryStreaming, "malformed token response", err)
	}
	return tok.Token, tok.ExpiresIn, nil
}

// runStream opens the SSE connection and runs the heartbeat monitor and
// token-refresh timer alongside the event read loop, until the connection
// ends (error return), a fallback-triggering server error arrives
// (errFallback), or ctx is cancelled or the token-refresh timer fires (nil
// return; runConnection tells the two apart by ctx.Err()).
func (c *Client) runStream(ctx context.Context, token string, expiresIn int) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, fmt.Sprintf("%s%s?token=%s", c.baseURL, streamPath, token), nil)
	if err != nil {
		return domain.Wrap(domain.KindInternal, domain.CategoryInternal, "failed to build stream request", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindNetwork, domain.CategoryStreaming, "stream connection failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.New(domain.KindStreamUnavailable, domain.CategoryStreaming, "stream connection rejected")
	}

	refreshAt := time.Duration(float64(expiresIn)*0.8) * time.Second
	refreshTimer := time.NewTimer(refreshAt)
	defer refreshTimer.Stop()

	heartbeatTicker := time.NewTicker(time.Duration(float64(c.cfg.HeartbeatInterval) * 1.5))
	defer heartbeatTicker.Stop()

	var outcome error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = scanEvents(resp.Body, func(ev rawEvent) bool {
			if err := c.handleEvent(streamCtx, ev); err != nil {
				outcome = err
				return false
			}
			return true
		})
	}()

	for {
		select {
		case <-done:
			if outcome != nil {
				return outcome
			}
			return domain.New(domain.KindStreamUnavailable, domain.CategoryStreaming, "stream closed")
		case <-refreshTimer.C:
			cancel()
			<-done
			return nil // caller reconnects with a fresh token
		case <-heartbeatTicker.C:
			c.mu.Lock()
			stale := c.now().Sub(c.lastHeartbeat) > 2*c.cfg.HeartbeatInterval
			c.mu.Unlock()
			if stale {
				cancel()
				<-done
				return domain.New(domain.KindStreamUnavailable, domain.CategoryStreaming, "heartbeat timeout")
			}
		case <-ctx.Done():
			cancel()
			<-done
			return nil
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, ev rawEvent) error {
	switch ev.Name {
	case "flag_updated":
		var flag domain.FlagState
		if err := json.Unmarshal([]byte(ev.Data), &flag); err == nil {
			c.store.Set(flag.Key, flag, 0)
		}
	case "flag_deleted":
		var payload flagDeletedPayload
		if err := json.Unmarshal([]byte(ev.Data), &payload); err == nil {
			c.store.Delete(payload.Key)
		}
	case "flags_reset":
		var flags []domain.FlagState
		if err := json.Unmarshal([]byte(ev.Data), &flags); err == nil {
			c.store.Clear()
			c.store.SetMany(flags, 0)
		}
	case "heartbeat":
		c.mu.Lock()
		c.lastHeartbeat = c.now()
		c.mu.Unlock()
	case "error":
		var payload errorPayload
		if err := json.Unmarshal([]byte(ev.Data), &payload); err == nil {
			return c.handleStreamError(ctx, payload)
		}
	}
	return nil
}

func (c *Client) handleStreamError(ctx context.Context, payload errorPayload) error {
	switch payload.Code {
	case codeTokenExpired, codeTokenInvalid:
		return domain.New(domain.KindStreamTokenExpired, domain.CategoryStreaming, payload.Message)
	case codeSubscriptionSuspended:
		if c.callbacks.OnSubscriptionError != nil {
			c.callbacks.OnSubscriptionError(payload.Message)
		}
		c.setState(ctx, StateFailed)
		if c.callbacks.OnFallbackToPolling != nil {
			c.callbacks.OnFallbackToPolling()
		}
		return errFallback
	case codeConnectionLimit:
		if c.callbacks.OnConnectionLimit != nil {
			c.callbacks.OnConnectionLimit()
		}
		return domain.New(domain.KindStreamConnectionLimit, domain.CategoryStreaming, payload.Message)
	case codeStreamingUnavailable:
		c.setState(ctx, StateFailed)
		if c.callbacks.OnFallbackToPolling != nil {
			c.callbacks.OnFallbackToPolling()
		}
		return errFallback
	default:
		return nil
	}
}
