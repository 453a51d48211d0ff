package flagkit

import "github.com/flagkit/flagkit-go/internal/domain"

// FlagState is the authoritative unit delivered by the service and cached
// locally.
type FlagState = domain.FlagState

// FlagType identifies the shape of a flag's value.
type FlagType = domain.FlagType

const (
	FlagTypeBoolean = domain.FlagTypeBoolean
	FlagTypeString  = domain.FlagTypeString
	FlagTypeNumber  = domain.FlagTypeNumber
	FlagTypeJSON    = domain.FlagTypeJSON
)

// EvaluationContext carries identification and targeting attributes for a
// single evaluation.
type EvaluationContext = domain.EvaluationContext

// NewAnonymousContext synthesizes a context for an anonymous caller.
func NewAnonymousContext() EvaluationContext { return domain.NewAnonymousContext() }

// NewContext creates an identified context for the given user id.
func NewContext(userID string) EvaluationContext { return domain.NewContext(userID) }

// EvaluationResult is the outcome of a flag lookup.
type EvaluationResult = domain.EvaluationResult

// Reason explains how an EvaluationResult was produced.
type Reason = domain.Reason

const (
	ReasonCached       = domain.ReasonCached
	ReasonStaleCache   = domain.ReasonStaleCache
	ReasonBootstrap    = domain.ReasonBootstrap
	ReasonServer       = domain.ReasonServer
	ReasonDefault      = domain.ReasonDefault
	ReasonFlagNotFound = domain.ReasonFlagNotFound
	ReasonTypeMismatch = domain.ReasonTypeMismatch
	ReasonDisabled     = domain.ReasonDisabled
	ReasonOffline      = domain.ReasonOffline
	ReasonError        = domain.ReasonError
)
