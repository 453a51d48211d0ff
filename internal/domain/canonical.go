package domain

import "encoding/json"

// Canonicalize renders v as deterministic JSON: map keys sorted
// lexicographically at every nesting depth, arrays order-preserving,
// primitives rendered exactly as encoding/json would. Go's encoding/json
// already sorts map[string]interface{} keys when marshaling, so decoding
// through the empty interface and re-marshaling is sufficient to get
// byte-identical output for semantically equal inputs. The HMAC-over-bytes
// step that follows this canonicalization mirrors TimurManjosov-goflagship's
// webhook dispatcher (`internal/webhook/signature.go`); that dispatcher
// signs its payload directly and has no canonicalization step of its own —
// this step exists because bootstrap snapshots here are compared/signed
// client-side, not server-generated bytes signed once and sent as-is.
func Canonicalize(v interface{}) ([]byte, error) {
	// Round-trip through interface{} so a pre-built map with a
	// non-deterministic iteration order (or a json.RawMessage with
	// insertion-ordered keys) comes out sorted.
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(intermediate, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// CanonicalizeRaw canonicalizes an already-encoded JSON document.
func CanonicalizeRaw(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
