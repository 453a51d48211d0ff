// Package transport implements the HTTP Transport: signed, retried,
// breaker-gated requests to the flag delivery service, per spec.md §4.3.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flagkit/flagkit-go/internal/breaker"
	"github.com/flagkit/flagkit-go/internal/credentials"
	"github.com/flagkit/flagkit-go/internal/domain"
	"github.com/flagkit/flagkit-go/internal/signer"
	"github.com/flagkit/flagkit-go/internal/telemetry"
)

const (
	DefaultBaseDelay  = time.Second
	DefaultMultiplier = 2.0
	DefaultMaxDelay   = 30 * time.Second
	DefaultMaxRetries = 3

	headerAPIKey      = "X-API-Key"
	headerUserAgent   = "User-Agent"
	headerSDKVersion  = "X-SDK-Version"
	headerSDKLanguage = "X-SDK-Language"
	headerSignature   = "X-Signature"
	headerTimestamp   = "X-Timestamp"
	headerKeyID       = "X-Key-Id"

	headerAPIUsage      = "X-API-Usage-Percent"
	headerEvalUsage     = "X-Evaluation-Usage-Percent"
	headerRateLimitWarn = "X-RateLimit-Warning"
	headerSubscription  = "X-Subscription-Status"

	userAgent   = "flagkit-go"
	sdkVersion  = "1.0.0"
	sdkLanguage = "go"
)

var validSubscriptionStatuses = map[string]bool{
	"active": true, "trial": true, "past_due": true, "suspended": true, "cancelled": true,
}

// RetryConfig controls the backoff schedule between attempts.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return c
}

// UsageTelemetry is the set of optional response headers the service uses
// to push usage/subscription signals back to the SDK.
type UsageTelemetry struct {
	APIUsagePercent      *float64
	EvaluationUsagePercent *float64
	RateLimitWarning     bool
	SubscriptionStatus   string
}

func (u UsageTelemetry) isEmpty() bool {
	return u.APIUsagePercent == nil && u.EvaluationUsagePercent == nil && !u.RateLimitWarning && u.SubscriptionStatus == ""
}

// Response is the outcome of a successful dispatch (post-retry,
// pre-business-logic).
type Response struct {
	StatusCode int
	Body       []byte
	Telemetry  *UsageTelemetry
}

// Transport issues signed, retried, breaker-gated requests against a
// flag-delivery base URL.
type Transport struct {
	baseURL     string
	httpClient  *http.Client
	creds       *credentials.Manager
	breaker     *breaker.Breaker
	signingOn   bool
	retry       RetryConfig
	telemetry   telemetry.Provider
	onUsage     func(UsageTelemetry)
	sleep       func(time.Duration)
	randFloat   func() float64
	now         func() time.Time
}

// Option configures a Transport at construction time.
type Option func(*Transport)

func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.httpClient.Timeout = d }
}

func WithRetryConfig(cfg RetryConfig) Option {
	return func(t *Transport) { t.retry = cfg.withDefaults() }
}

func WithRequestSigning(enabled bool) Option {
	return func(t *Transport) { t.signingOn = enabled }
}

func WithTelemetryProvider(p telemetry.Provider) Option {
	return func(t *Transport) { t.telemetry = p }
}

func WithUsageCallback(fn func(UsageTelemetry)) Option {
	return func(t *Transport) { t.onUsage = fn }
}

// New constructs a Transport. baseURL is the configured base URL; creds and
// brk are consulted/mutated on every request.
func New(baseURL string, creds *credentials.Manager, brk *breaker.Breaker, opts ...Option) *Transport {
	t := &Transport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		creds:      creds,
		breaker:    brk,
		signingOn:  true,
		retry:      RetryConfig{}.withDefaults(),
		telemetry:  telemetry.NoopProvider{},
		onUsage:    func(UsageTelemetry) {},
		sleep:      time.Sleep,
		randFloat:  rand.Float64,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get issues a signed-free GET request to path.
func (t *Transport) Get(ctx context.Context, path string) (Response, *domain.Error) {
	return t.do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST request to path, signing the body when signing is
// enabled.
func (t *Transport) Post(ctx context.Context, path string, body []byte) (Response, *domain.Error) {
	return t.do(ctx, http.MethodPost, path, body)
}

func (t *Transport) do(ctx context.Context, method, path string, body []byte) (Response, *domain.Error) {
	var lastErr *domain.Error

	for attempt := 1; attempt <= t.retry.MaxRetries; attempt++ {
		if attempt > 1 {
			t.sleep(t.backoff(attempt - 1))
		}

		resp, derr := t.attempt(ctx, method, path, body)
		if derr == nil {
			return resp, nil
		}
		lastErr = derr

		// A breaker refusal is returned as CIRCUIT_OPEN at once rather than
		// retried.
		if !derr.Recoverable() || derr.Kind == domain.KindCircuitOpen {
			return Response{}, derr
		}
	}

	return Response{}, domain.Wrap(domain.KindRetryLimit, domain.CategoryNetwork, "max retries exceeded", lastErr)
}

func (t *Transport) backoff(attempt int) time.Duration {
	delay := float64(t.retry.BaseDelay) * pow(t.retry.Multiplier, attempt-1)
	if maxDelay := float64(t.retry.MaxDelay); delay > maxDelay {
		delay = maxDelay
	}
	jitter := t.randFloat() * 0.1 * delay
	return time.Duration(delay + jitter)
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func (t *Transport) attempt(ctx context.Context, method, path string, body []byte) (Response, *domain.Error) {
	if !t.breaker.Allow() {
		return Response{}, domain.New(domain.KindCircuitOpen, domain.CategoryNetwork, "circuit breaker is open")
	}

	resp, derr := t.dispatch(ctx, method, path, body)
	if derr != nil {
		t.breaker.RecordFailure()
		t.telemetry.RecordCircuitState(ctx, string(t.breaker.GetState()))
		return Response{}, derr
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		t.breaker.RecordSuccess()
	} else {
		t.breaker.RecordFailure()
	}
	t.telemetry.RecordCircuitState(ctx, string(t.breaker.GetState()))

	return t.classify(resp)
}

func (t *Transport) dispatch(ctx context.Context, method, path string, body []byte) (*http.Response, *domain.Error) {
	url := t.baseURL + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, domain.CategoryInternal, "failed to build request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAPIKey, t.creds.Current())
	req.Header.Set(headerUserAgent, userAgent+"/"+sdkVersion)
	req.Header.Set(headerSDKVersion, sdkVersion)
	req.Header.Set(headerSDKLanguage, sdkLanguage)

	if method == http.MethodPost && len(body) > 0 && t.signingOn {
		sig := signer.CreateRequestSignature(string(body), t.creds.Current(), t.now().UnixMilli())
		req.Header.Set(headerSignature, sig.Signature)
		req.Header.Set(headerTimestamp, strconv.FormatInt(sig.Timestamp, 10))
		req.Header.Set(headerKeyID, sig.KeyID)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindNetwork, domain.CategoryNetwork, "request failed", err)
	}
	return resp, nil
}

func (t *Transport) classify(resp *http.Response) (Response, *domain.Error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, domain.Wrap(domain.KindNetwork, domain.CategoryNetwork, "failed to read response body", err)
	}

	usage := extractUsageTelemetry(resp.Header)
	if !usage.isEmpty() {
		t.onUsage(usage)
	}

	result := Response{StatusCode: resp.StatusCode, Body: data, Telemetry: nil}
	if !usage.isEmpty() {
		u := usage
		result.Telemetry = &u
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return result, nil
	case resp.StatusCode == http.StatusUnauthorized:
		if switched := t.creds.OnAuthRejection(); switched {
			return Response{}, domain.New(domain.KindAuthInvalid, domain.CategoryAuthentication, "unauthorized; failed over to secondary credential")
		}
		return Response{}, domain.New(domain.KindAuthInvalid, domain.CategoryAuthentication, "unauthorized")
	case resp.StatusCode == http.StatusForbidden:
		return Response{}, domain.New(domain.KindForbidden, domain.CategoryAuthentication, "forbidden")
	case resp.StatusCode == http.StatusNotFound:
		return Response{}, domain.New(domain.KindFlagNotFound, domain.CategoryEvaluation, "resource not found")
	case resp.StatusCode == http.StatusTooManyRequests:
		return Response{}, domain.New(domain.KindRateLimited, domain.CategoryNetwork, "rate limited")
	case resp.StatusCode >= 500:
		return Response{}, domain.New(domain.KindServerError, domain.CategoryNetwork, fmt.Sprintf("server error: %d", resp.StatusCode))
	default:
		return Response{}, domain.New(domain.KindHTTP, domain.CategoryNetwork, fmt.Sprintf("unexpected status: %d", resp.StatusCode))
	}
}

func extractUsageTelemetry(h http.Header) UsageTelemetry {
	var usage UsageTelemetry

	if v := h.Get(headerAPIUsage); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			usage.APIUsagePercent = &f
		}
	}
	if v := h.Get(headerEvalUsage); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			usage.EvaluationUsagePercent = &f
		}
	}
	if v := h.Get(headerRateLimitWarn); strings.EqualFold(v, "true") {
		usage.RateLimitWarning = true
	}
	if v := strings.ToLower(h.Get(headerSubscription)); validSubscriptionStatuses[v] {
		usage.SubscriptionStatus = v
	}

	return usage
}
