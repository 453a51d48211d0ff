// Package bootstrap verifies the signed seed flag set a consumer supplies
// at startup, composing internal/domain's canonical JSON with
// internal/signer's HMAC primitives.
package bootstrap

import (
	"crypto/hmac"
	"strconv"

	"github.com/flagkit/flagkit-go/internal/domain"
	"github.com/flagkit/flagkit-go/internal/signer"
)

// OnFailure selects how a failed verification is surfaced.
type OnFailure string

const (
	OnFailureError  OnFailure = "error"
	OnFailureWarn   OnFailure = "warn"
	OnFailureIgnore OnFailure = "ignore"
)

// Config controls how Verify treats a Snapshot.
type Config struct {
	Enabled   bool
	MaxAgeMs  int64
	OnFailure OnFailure
}

// Snapshot is the signed seed set a consumer supplies at startup: a mapping
// of flags plus an optional signature/timestamp pair. Signature is empty on
// the legacy, unsigned bootstrap path.
type Snapshot struct {
	Flags     map[string]domain.FlagState
	Signature string
	Timestamp int64
}

// Verifier checks a Snapshot's signature and age against Config before the
// root client seeds the Flag Store from it.
type Verifier struct {
	onWarn func(msg string)
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithWarnHandler installs a callback invoked on a "warn"-dispatched
// failure. The default is a no-op.
func WithWarnHandler(fn func(msg string)) Option {
	return func(v *Verifier) { v.onWarn = fn }
}

// New constructs a Verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{onWarn: func(string) {}}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates snapshot against cfg using key as the signing secret.
// nowMs is the caller's current time in epoch milliseconds.
//
// Step 1: disabled verification or a legacy (unsigned) snapshot short-
// circuits to (true, nil). Step 2: an age check against MaxAgeMs and the
// signer's skew tolerance. Step 3: HMAC recomputation and constant-time
// compare (spec.md §4.7).
func (v *Verifier) Verify(snapshot Snapshot, key string, cfg Config, nowMs int64) (bool, *domain.Error) {
	if !cfg.Enabled || snapshot.Signature == "" {
		return true, nil
	}

	if snapshot.Timestamp > 0 && cfg.MaxAgeMs > 0 {
		age := nowMs - snapshot.Timestamp
		if age > cfg.MaxAgeMs {
			return v.fail(cfg, domain.KindBootstrapExpired, "bootstrap snapshot is older than the configured max age")
		}
		if age < -signer.SkewToleranceMs {
			return v.fail(cfg, domain.KindBootstrapExpired, "bootstrap snapshot timestamp is too far in the future")
		}
	}

	canonicalFlags, err := domain.Canonicalize(snapshot.Flags)
	if err != nil {
		return v.fail(cfg, domain.KindBootstrapInvalid, "bootstrap flags could not be canonicalized")
	}

	message := strconv.FormatInt(snapshot.Timestamp, 10) + "." + string(canonicalFlags)
	expected := signer.Sign(message, key)
	if !hmac.Equal([]byte(expected), []byte(snapshot.Signature)) {
		return v.fail(cfg, domain.KindSignatureInvalid, "bootstrap signature does not match the computed HMAC")
	}

	return true, nil
}

func (v *Verifier) fail(cfg Config, kind domain.Kind, message string) (bool, *domain.Error) {
	switch cfg.OnFailure {
	case OnFailureError:
		return false, domain.New(kind, domain.CategorySecurity, message)
	case OnFailureWarn:
		v.onWarn(message)
		return false, nil
	default: // OnFailureIgnore and any unrecognized value
		return false, nil
	}
}
