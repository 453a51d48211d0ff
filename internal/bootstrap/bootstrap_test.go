package bootstrap

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/flagkit-go/internal/domain"
	"github.com/flagkit/flagkit-go/internal/signer"
)

func signedSnapshot(t *testing.T, flags map[string]domain.FlagState, ts int64, key string) Snapshot {
	t.Helper()
	canonical, err := domain.Canonicalize(flags)
	require.NoError(t, err)
	sig := signer.Sign(strconv.FormatInt(ts, 10)+"."+string(canonical), key)
	return Snapshot{Flags: flags, Signature: sig, Timestamp: ts}
}

func sampleFlags() map[string]domain.FlagState {
	return map[string]domain.FlagState{
		"flag-a": {Key: "flag-a", Value: json.RawMessage("true"), Enabled: true, FlagType: domain.FlagTypeBoolean},
	}
}

func TestVerifySkipsChecksWhenDisabled(t *testing.T) {
	v := New()
	ok, err := v.Verify(Snapshot{Flags: sampleFlags()}, "key", Config{Enabled: false}, 1000)
	assert.True(t, ok)
	assert.Nil(t, err)
}

func TestVerifySkipsChecksForLegacyUnsignedSnapshot(t *testing.T) {
	v := New()
	ok, err := v.Verify(Snapshot{Flags: sampleFlags()}, "key", Config{Enabled: true}, 1000)
	assert.True(t, ok)
	assert.Nil(t, err)
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	now := int64(1_700_000_000_000)
	flags := sampleFlags()
	snap := signedSnapshot(t, flags, now, "secret")

	v := New()
	ok, err := v.Verify(snap, "secret", Config{Enabled: true, MaxAgeMs: 60_000, OnFailure: OnFailureError}, now+1000)
	assert.True(t, ok)
	assert.Nil(t, err)
}

func TestVerifyRejectsWrongKeyWithErrorKind(t *testing.T) {
	now := int64(1_700_000_000_000)
	snap := signedSnapshot(t, sampleFlags(), now, "secret")

	v := New()
	ok, err := v.Verify(snap, "wrong-secret", Config{Enabled: true, MaxAgeMs: 60_000, OnFailure: OnFailureError}, now)
	assert.False(t, ok)
	require.NotNil(t, err)
	assert.Equal(t, domain.KindSignatureInvalid, err.Kind)
}

func TestVerifyRejectsExpiredSnapshot(t *testing.T) {
	now := int64(1_700_000_000_000)
	snap := signedSnapshot(t, sampleFlags(), now, "secret")

	v := New()
	ok, err := v.Verify(snap, "secret", Config{Enabled: true, MaxAgeMs: 1000, OnFailure: OnFailureError}, now+5000)
	assert.False(t, ok)
	require.NotNil(t, err)
	assert.Equal(t, domain.KindBootstrapExpired, err.Kind)
}

func TestVerifyRejectsFutureSkewBeyondTolerance(t *testing.T) {
	now := int64(1_700_000_000_000)
	future := now + signer.SkewToleranceMs + 10_000
	snap := signedSnapshot(t, sampleFlags(), future, "secret")

	v := New()
	ok, err := v.Verify(snap, "secret", Config{Enabled: true, MaxAgeMs: 60_000, OnFailure: OnFailureError}, now)
	assert.False(t, ok)
	require.NotNil(t, err)
}

func TestVerifyWarnDispatchesCallbackAndReturnsFalseWithoutError(t *testing.T) {
	now := int64(1_700_000_000_000)
	snap := signedSnapshot(t, sampleFlags(), now, "secret")

	var warned string
	v := New(WithWarnHandler(func(msg string) { warned = msg }))
	ok, err := v.Verify(snap, "wrong-secret", Config{Enabled: true, MaxAgeMs: 60_000, OnFailure: OnFailureWarn}, now)
	assert.False(t, ok)
	assert.Nil(t, err)
	assert.NotEmpty(t, warned)
}

func TestVerifyIgnoreReturnsFalseSilently(t *testing.T) {
	now := int64(1_700_000_000_000)
	snap := signedSnapshot(t, sampleFlags(), now, "secret")

	v := New()
	ok, err := v.Verify(snap, "wrong-secret", Config{Enabled: true, MaxAgeMs: 60_000, OnFailure: OnFailureIgnore}, now)
	assert.False(t, ok)
	assert.Nil(t, err)
}
