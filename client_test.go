package flagkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsShortAPIKey(t *testing.T) {
	_, err := New(WithAPIKey("sdk_abc"), WithBaseURL("http://example.com"))
	require.Error(t, err)
	assert.Equal(t, KindInvalidConfiguration, KindOf(err))
}

func TestNewRejectsUnprefixedAPIKey(t *testing.T) {
	_, err := New(WithAPIKey("no_prefix_key_123"), WithBaseURL("http://example.com"))
	require.Error(t, err)
}

func TestNewRequiresBaseURLUnlessOffline(t *testing.T) {
	_, err := New(WithAPIKey("sdk_testkey123"))
	require.Error(t, err)

	_, err = New(WithAPIKey("sdk_testkey123"), WithOffline(true))
	require.NoError(t, err)
}

func TestOfflineStartMarksReadyImmediately(t *testing.T) {
	client, err := New(
		WithAPIKey("sdk_testkey123"),
		WithOffline(true),
		WithBootstrap(map[string]interface{}{"dark-mode": true}),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Start(context.Background()))
	assert.True(t, client.WaitForReady(time.Second))

	result := client.Evaluate("dark-mode", false, "", NewAnonymousContext())
	assert.True(t, result.BoolValue())
	assert.Equal(t, ReasonBootstrap, result.Reason)
}

func TestOfflineEvaluateMissingFlagReturnsDefault(t *testing.T) {
	client, err := New(WithAPIKey("sdk_testkey123"), WithOffline(true))
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Start(context.Background()))

	result := client.Evaluate("missing", "fallback", "", NewAnonymousContext())
	assert.Equal(t, "fallback", result.StringValue())
	assert.Equal(t, ReasonFlagNotFound, result.Reason)
}

func newTestServer(t *testing.T, flagsJSON string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sdk/init", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"flags":` + flagsJSON + `,"pollingIntervalSeconds":60}`))
	})
	mux.HandleFunc("/sdk/updates", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"flags":[],"checkedAt":"t1"}`))
	})
	mux.HandleFunc("/sdk/events/batch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestStartFetchesInitialFlagsAndEvaluates(t *testing.T) {
	srv := newTestServer(t, `[{"key":"feature-a","value":true,"enabled":true,"flagType":"boolean","version":1}]`)
	defer srv.Close()

	client, err := New(
		WithAPIKey("sdk_testkey123"),
		WithBaseURL(srv.URL),
		WithPolling(PollingConfig{Enabled: false}),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Start(context.Background()))
	result := client.Evaluate("feature-a", false, FlagTypeBoolean, NewAnonymousContext())
	assert.True(t, result.BoolValue())
	assert.Equal(t, ReasonCached, result.Reason)
}

func TestStartPropagatesErrorButStillReady(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sdk/init", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := New(
		WithAPIKey("sdk_testkey123"),
		WithBaseURL(srv.URL),
		WithRetries(1),
		WithPolling(PollingConfig{Enabled: false}),
	)
	require.NoError(t, err)
	defer client.Close()

	startErr := client.Start(context.Background())
	assert.Error(t, startErr)
	assert.True(t, client.WaitForReady(time.Second), "client must be ready even after an init failure")
}

func TestInvalidateFlagAndInvalidateAll(t *testing.T) {
	srv := newTestServer(t, `[{"key":"a","value":true,"enabled":true,"flagType":"boolean","version":1},{"key":"b","value":true,"enabled":true,"flagType":"boolean","version":1}]`)
	defer srv.Close()

	client, err := New(WithAPIKey("sdk_testkey123"), WithBaseURL(srv.URL), WithPolling(PollingConfig{Enabled: false}))
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Start(context.Background()))

	client.InvalidateFlag("a")
	assert.Equal(t, ReasonFlagNotFound, client.Evaluate("a", false, "", NewAnonymousContext()).Reason)
	assert.Equal(t, ReasonCached, client.Evaluate("b", false, "", NewAnonymousContext()).Reason)

	client.InvalidateAll()
	assert.Equal(t, ReasonFlagNotFound, client.Evaluate("b", false, "", NewAnonymousContext()).Reason)
}

func TestCloseIsIdempotent(t *testing.T) {
	client, err := New(WithAPIKey("sdk_testkey123"), WithOffline(true))
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))

	assert.NoError(t, client.Close())
	assert.NotPanics(t, func() { client.Close() })
}
