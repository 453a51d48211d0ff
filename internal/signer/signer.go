// Package signer computes and verifies the HMAC-SHA256 request signatures
// used for mutating Transport requests and for bootstrap integrity checks.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// MaxAgeMs is the default tolerance for how old a signed request may be.
const MaxAgeMs = 300_000

// SkewToleranceMs is how far a timestamp may sit in the future and still be
// accepted, to absorb clock drift between client and server.
const SkewToleranceMs = 300_000

// KeyIDLength is the number of leading characters of the signing key used
// as a non-secret identifier in the keyId header.
const KeyIDLength = 8

// Sign computes the lowercase-hex HMAC-SHA256 of message under key.
func Sign(message, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// RequestSignature is the triple of headers a signed POST carries.
type RequestSignature struct {
	Signature string
	Timestamp int64
	KeyID     string
}

// CreateRequestSignature signs body under key, stamping it with nowMs.
func CreateRequestSignature(body string, key string, nowMs int64) RequestSignature {
	message := strconv.FormatInt(nowMs, 10) + "." + body
	keyID := key
	if len(keyID) > KeyIDLength {
		keyID = keyID[:KeyIDLength]
	}
	return RequestSignature{
		Signature: Sign(message, key),
		Timestamp: nowMs,
		KeyID:     keyID,
	}
}

// VerifyRequestSignature recomputes the signature over body/timestamp under
// key and compares it, in constant time, against signature. It rejects
// signatures whose timestamp is older than maxAgeMs or further in the
// future than SkewToleranceMs.
func VerifyRequestSignature(body, signature string, timestamp int64, key string, maxAgeMs int64, nowMs int64) bool {
	age := nowMs - timestamp
	if age > maxAgeMs {
		return false
	}
	if age < -SkewToleranceMs {
		return false
	}
	message := strconv.FormatInt(timestamp, 10) + "." + body
	expected := Sign(message, key)
	return hmac.Equal([]byte(signature), []byte(expected))
}
