// Package polling implements the interval scheduler that drives periodic
// flag refreshes, with exponential backoff on consecutive failures, per
// spec.md §4.8.
package polling

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/flagkit/flagkit-go/internal/telemetry"
)

const (
	DefaultJitter            = time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxInterval       = 5 * time.Minute
)

// Config holds the Polling Manager's tunable parameters.
type Config struct {
	BaseInterval      time.Duration
	Jitter            time.Duration
	BackoffMultiplier float64
	MaxInterval       time.Duration
}

func (c Config) withDefaults() Config {
	if c.Jitter <= 0 {
		c.Jitter = DefaultJitter
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	return c
}

// Manager schedules onPoll at the current interval, backing off on error
// and resetting to base on success. Exceptions escaping onPoll are caught
// and mapped to onError; they never propagate out of the scheduler.
type Manager struct {
	mu sync.Mutex
	wg sync.WaitGroup

	cfg     Config
	onPoll  func() (int, error)
	running bool
	timer   *time.Timer

	currentInterval time.Duration
	consecutiveErrs int

	afterFunc func(time.Duration, func()) *time.Timer
	randFloat func() float64
	telemetry telemetry.Provider
}

// New constructs a Manager bound to onPoll. onPoll returns the number of
// flags the poll observed, for telemetry, alongside any error.
func New(cfg Config, onPoll func() (int, error)) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:             cfg,
		onPoll:          onPoll,
		currentInterval: cfg.BaseInterval,
		afterFunc:       time.AfterFunc,
		randFloat:       rand.Float64,
		telemetry:       telemetry.NoopProvider{},
	}
}

// WithTelemetryProvider installs a non-default telemetry.Provider that
// records the outcome of every poll.
func (m *Manager) WithTelemetryProvider(p telemetry.Provider) *Manager {
	if p != nil {
		m.telemetry = p
	}
	return m
}

// Start schedules the first poll at currentInterval + U(0, jitter).
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.scheduleNext()
}

func (m *Manager) scheduleNext() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	delay := m.currentInterval + time.Duration(m.randFloat()*float64(m.cfg.Jitter))
	m.wg.Add(1)
	m.timer = m.afterFunc(delay, m.runPoll)
	m.mu.Unlock()
}

func (m *Manager) runPoll() {
	defer m.wg.Done()
	m.poll()
	m.scheduleNext()
}

func (m *Manager) poll() {
	start := time.Now()
	flagCount, err := m.safeInvoke()
	m.telemetry.RecordRefresh(context.Background(), err == nil, time.Since(start), flagCount)
	if err != nil {
		m.onError()
	} else {
		m.onSuccess()
	}
}

func (m *Manager) safeInvoke() (flagCount int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return m.onPoll()
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return "polling: onPoll panicked" }

// PollNow runs a poll out of band without altering the scheduled timer.
func (m *Manager) PollNow() {
	m.poll()
}

func (m *Manager) onSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveErrs = 0
	m.currentInterval = m.cfg.BaseInterval
}

func (m *Manager) onError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveErrs++
	next := time.Duration(float64(m.currentInterval) * m.cfg.BackoffMultiplier)
	if next > m.cfg.MaxInterval {
		next = m.cfg.MaxInterval
	}
	m.currentInterval = next
}

// CurrentInterval returns the scheduler's current interval.
func (m *Manager) CurrentInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentInterval
}

// ConsecutiveErrors returns the number of consecutive poll failures.
func (m *Manager) ConsecutiveErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveErrs
}

// Stop cancels the scheduled task without terminating the worker.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if m.timer != nil {
		m.timer.Stop()
	}
}

// Shutdown stops scheduling and awaits any in-flight poll with a bounded
// wait; it returns false if the wait timed out before the poll finished.
func (m *Manager) Shutdown(timeout time.Duration) bool {
	m.Stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
