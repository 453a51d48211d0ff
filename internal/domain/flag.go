// Package domain holds the data model shared by every flagkit component:
// flag state, evaluation context/result, cache entries, the error taxonomy
// and the canonical JSON rendering the bootstrap verifier signs over (the
// HMAC itself lives in internal/signer).
package domain

import "encoding/json"

// FlagType identifies the shape of a flag's value. It is stable for a given
// key across versions; the evaluator treats a change as a type mismatch,
// never as a silent coercion.
type FlagType string

const (
	FlagTypeBoolean FlagType = "boolean"
	FlagTypeString  FlagType = "string"
	FlagTypeNumber  FlagType = "number"
	FlagTypeJSON    FlagType = "json"
)

// FlagState is the authoritative unit delivered by the service and cached
// locally. Value carries one of boolean|string|number|mapping|sequence|null,
// decoded generically via json.RawMessage so the evaluator can defer typed
// decoding to the caller's expected type.
type FlagState struct {
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	Enabled      bool            `json:"enabled"`
	Version      int64           `json:"version"`
	FlagType     FlagType        `json:"flagType"`
	LastModified string          `json:"lastModified"`
}

// InferFlagType derives a FlagType from a raw JSON value when the wire
// payload omits flagType. It never returns an error: an unrecognized shape
// falls back to FlagTypeJSON, matching "inferred from value if absent".
func InferFlagType(raw json.RawMessage) FlagType {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return FlagTypeJSON
	}
	switch v.(type) {
	case bool:
		return FlagTypeBoolean
	case string:
		return FlagTypeString
	case float64:
		return FlagTypeNumber
	default:
		return FlagTypeJSON
	}
}

// Clone returns a deep-enough copy safe for handing to a reader: FlagState's
// only reference field is Value, which is treated as immutable once set, so
// a shallow copy with a fresh byte slice is sufficient.
func (f FlagState) Clone() FlagState {
	if f.Value != nil {
		cp := make(json.RawMessage, len(f.Value))
		copy(cp, f.Value)
		f.Value = cp
	}
	return f
}
