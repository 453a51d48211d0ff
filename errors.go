package flagkit

import "github.com/flagkit/flagkit-go/internal/domain"

// Error is the single error type every flagkit operation returns.
type Error = domain.Error

// Kind enumerates every error condition the SDK can surface.
type Kind = domain.Kind

// Category groups error Kinds by the subsystem that raised them.
type Category = domain.Category

const (
	KindInitFailed            = domain.KindInitFailed
	KindAuthInvalid           = domain.KindAuthInvalid
	KindAuthExpired           = domain.KindAuthExpired
	KindAuthMissing           = domain.KindAuthMissing
	KindForbidden             = domain.KindForbidden
	KindNetwork               = domain.KindNetwork
	KindTimeout               = domain.KindTimeout
	KindRetryLimit            = domain.KindRetryLimit
	KindRateLimited           = domain.KindRateLimited
	KindServerError           = domain.KindServerError
	KindCircuitOpen           = domain.KindCircuitOpen
	KindFlagNotFound          = domain.KindFlagNotFound
	KindTypeMismatch          = domain.KindTypeMismatch
	KindStaleCache            = domain.KindStaleCache
	KindCacheExpired          = domain.KindCacheExpired
	KindEventSend             = domain.KindEventSend
	KindInvalidConfiguration  = domain.KindInvalidConfiguration
	KindEncryptionFailure     = domain.KindEncryptionFailure
	KindBootstrapInvalid      = domain.KindBootstrapInvalid
	KindBootstrapExpired      = domain.KindBootstrapExpired
	KindSignatureInvalid      = domain.KindSignatureInvalid
	KindStreamTokenInvalid    = domain.KindStreamTokenInvalid
	KindStreamTokenExpired    = domain.KindStreamTokenExpired
	KindStreamConnectionLimit = domain.KindStreamConnectionLimit
	KindStreamUnavailable     = domain.KindStreamUnavailable
	KindInternal              = domain.KindInternal
	KindHTTP                  = domain.KindHTTP
)

// IsRecoverable reports whether retrying err is the recommended response.
func IsRecoverable(err error) bool { return domain.IsRecoverable(err) }

// KindOf extracts the Kind from err, or "" if err did not originate here.
func KindOf(err error) Kind { return domain.KindOf(err) }
