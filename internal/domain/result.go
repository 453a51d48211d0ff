package domain

import (
	"encoding/json"
	"time"
)

// Reason explains how an EvaluationResult was produced. The set is fixed by
// the spec; callers pattern-match on it rather than parsing messages.
type Reason string

const (
	ReasonCached        Reason = "CACHED"
	ReasonStaleCache    Reason = "STALE_CACHE"
	ReasonBootstrap     Reason = "BOOTSTRAP"
	ReasonServer        Reason = "SERVER"
	ReasonDefault       Reason = "DEFAULT"
	ReasonFlagNotFound  Reason = "FLAG_NOT_FOUND"
	ReasonTypeMismatch  Reason = "TYPE_MISMATCH"
	ReasonDisabled      Reason = "DISABLED"
	ReasonOffline       Reason = "OFFLINE"
	ReasonError         Reason = "ERROR"
)

// EvaluationResult is immutable after construction.
type EvaluationResult struct {
	FlagKey   string
	Value     json.RawMessage
	Enabled   bool
	Reason    Reason
	Version   int64
	Timestamp time.Time
}

// BoolValue decodes Value as a boolean, returning false on any decode
// failure. Callers that need a typed default on mismatch should instead
// check Reason == ReasonTypeMismatch and use the default they supplied.
func (r EvaluationResult) BoolValue() bool {
	var v bool
	_ = json.Unmarshal(r.Value, &v)
	return v
}

// StringValue decodes Value as a string.
func (r EvaluationResult) StringValue() string {
	var v string
	_ = json.Unmarshal(r.Value, &v)
	return v
}

// Float64Value decodes Value as a number.
func (r EvaluationResult) Float64Value() float64 {
	var v float64
	_ = json.Unmarshal(r.Value, &v)
	return v
}

// IntValue decodes Value as a number truncated to int.
func (r EvaluationResult) IntValue() int {
	return int(r.Float64Value())
}

// JSONValue decodes Value as a generic mapping.
func (r EvaluationResult) JSONValue() map[string]interface{} {
	var v map[string]interface{}
	_ = json.Unmarshal(r.Value, &v)
	return v
}
