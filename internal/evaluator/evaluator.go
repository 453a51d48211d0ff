// Package evaluator resolves a flag key to a typed EvaluationResult using
// only the Flag Store and bootstrap mapping. It performs no network I/O and
// never returns an error: every failure mode is encoded in the result's
// Reason (spec.md §4.2).
package evaluator

import (
	"encoding/json"
	"math/rand"
	"time"

	"github.com/flagkit/flagkit-go/internal/domain"
)

// Store is the read surface the Evaluator needs from the Flag Store.
type Store interface {
	Get(key string) (domain.FlagState, bool)
	GetStale(key string) (domain.FlagState, bool)
}

// JitterConfig introduces an artificial, uniformly distributed delay before
// every evaluation, applied unconditionally regardless of cache hit/miss, so
// evaluation timing can't be used as a side channel to infer cache state
// (spec.md §9).
type JitterConfig struct {
	Enabled bool
	MinMs   int
	MaxMs   int
}

// Evaluator resolves flag lookups against a Store and a static bootstrap
// mapping, in that priority order, falling back to the caller's default.
type Evaluator struct {
	store     Store
	bootstrap map[string]domain.FlagState
	jitter    JitterConfig
	sleep     func(time.Duration)
	rand      func(n int) int
}

// Option configures an Evaluator at construction time.
type Option func(*Evaluator)

// WithBootstrap installs the static flag snapshot consulted after the store
// misses and after a stale read also misses.
func WithBootstrap(flags map[string]domain.FlagState) Option {
	return func(e *Evaluator) { e.bootstrap = flags }
}

// WithJitter enables the evaluation-jitter delay described in spec.md §9.
func WithJitter(cfg JitterConfig) Option {
	return func(e *Evaluator) { e.jitter = cfg }
}

// New constructs an Evaluator reading from store.
func New(store Store, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:     store,
		bootstrap: make(map[string]domain.FlagState),
		sleep:     time.Sleep,
		rand:      rand.Intn,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate resolves key against the fresh store, the stale store, then the
// bootstrap mapping, falling back to defaultValue. expectedType is optional;
// pass "" to skip the type check.
func (e *Evaluator) Evaluate(key string, defaultValue interface{}, expectedType domain.FlagType, evalCtx *domain.EvaluationContext) domain.EvaluationResult {
	e.applyJitter()

	if key == "" {
		return e.defaultResult("", defaultValue, domain.ReasonError)
	}

	if fresh, ok := e.store.Get(key); ok {
		if expectedType != "" && fresh.FlagType != expectedType {
			return e.defaultResult(key, defaultValue, domain.ReasonTypeMismatch)
		}
		return domain.EvaluationResult{
			FlagKey:   key,
			Value:     fresh.Value,
			Enabled:   fresh.Enabled,
			Reason:    domain.ReasonCached,
			Version:   fresh.Version,
			Timestamp: time.Now(),
		}
	}

	if stale, ok := e.store.GetStale(key); ok {
		return domain.EvaluationResult{
			FlagKey:   key,
			Value:     stale.Value,
			Enabled:   stale.Enabled,
			Reason:    domain.ReasonStaleCache,
			Version:   stale.Version,
			Timestamp: time.Now(),
		}
	}

	if bootstrapped, ok := e.bootstrap[key]; ok {
		return domain.EvaluationResult{
			FlagKey:   key,
			Value:     bootstrapped.Value,
			Enabled:   bootstrapped.Enabled,
			Reason:    domain.ReasonBootstrap,
			Version:   bootstrapped.Version,
			Timestamp: time.Now(),
		}
	}

	return e.defaultResult(key, defaultValue, domain.ReasonFlagNotFound)
}

func (e *Evaluator) defaultResult(key string, defaultValue interface{}, reason domain.Reason) domain.EvaluationResult {
	raw, err := json.Marshal(defaultValue)
	if err != nil {
		raw = json.RawMessage("null")
	}
	return domain.EvaluationResult{
		FlagKey:   key,
		Value:     raw,
		Enabled:   false,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func (e *Evaluator) applyJitter() {
	if !e.jitter.Enabled || e.jitter.MaxMs < e.jitter.MinMs {
		return
	}
	spread := e.jitter.MaxMs - e.jitter.MinMs
	delay := e.jitter.MinMs
	if spread > 0 {
		delay += e.rand(spread)
	}
	e.sleep(time.Duration(delay) * time.Millisecond)
}
