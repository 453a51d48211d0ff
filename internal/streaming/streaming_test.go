package streaming

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/flagkit-go/internal/credentials"
	"github.com/flagkit/flagkit-go/internal/domain"
)

// fakeStore records Set/SetMany/Delete/Clear calls for assertions.
type fakeStore struct {
	mu      sync.Mutex
	flags   map[string]domain.FlagState
	cleared int
}

func newFakeStore() *fakeStore {
	return &fakeStore{flags: map[string]domain.FlagState{}}
}

func (f *fakeStore) Set(key string, flag domain.FlagState, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[key] = flag
}

func (f *fakeStore) SetMany(flags []domain.FlagState, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, flag := range flags {
		f.flags[flag.Key] = flag
	}
}

func (f *fakeStore) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.flags, key)
}

func (f *fakeStore) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = map[string]domain.FlagState{}
	f.cleared++
}

func (f *fakeStore) get(key string) (domain.FlagState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.flags[key]
	return v, ok
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flags)
}

func TestScanEventsParsesSingleEvent(t *testing.T) {
	body := "event: flag_updated\ndata: {\"key\":\"a\"}\n\n"
	var got []rawEvent
	err := scanEvents(strReader(body), func(ev rawEvent) bool {
		got = append(got, ev)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "flag_updated", got[0].Name)
	assert.Equal(t, `{"key":"a"}`, got[0].Data)
}

func TestScanEventsAccumulatesMultilineData(t *testing.T) {
	body := "event: flags_reset\ndata: [\ndata: {\"key\":\"a\"}\ndata: ]\n\n"
	var got []rawEvent
	err := scanEvents(strReader(body), func(ev rawEvent) bool {
		got = append(got, ev)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "[\n{\"key\":\"a\"}\n]", got[0].Data)
}

func TestScanEventsFlushesTrailingEventWithoutBlankLine(t *testing.T) {
	body := "event: heartbeat\ndata: {}"
	var got []rawEvent
	err := scanEvents(strReader(body), func(ev rawEvent) bool {
		got = append(got, ev)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "heartbeat", got[0].Name)
}

func TestScanEventsStopsWhenEmitReturnsFalse(t *testing.T) {
	body := "event: a\ndata: 1\n\nevent: b\ndata: 2\n\n"
	var got []rawEvent
	err := scanEvents(strReader(body), func(ev rawEvent) bool {
		got = append(got, ev)
		return false
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func strReader(s string) *stringReader { return &stringReader{s: s} }

type stringReader struct {
	s   string
	pos int
}

func (r *stringReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.s) {
		return 0, ioEOF
	}
	n := copy(p, r.s[r.pos:])
	r.pos += n
	return n, nil
}

var ioEOF = io.EOF

func TestReconnectDelayCapsAtMax(t *testing.T) {
	d := reconnectDelay(time.Second, 1, 30*time.Second)
	assert.Equal(t, time.Second, d)

	d = reconnectDelay(time.Second, 10, 30*time.Second)
	assert.Equal(t, 30*time.Second, d)
}

func TestHandleStreamErrorTokenExpiredIsRetryableAndDistinctFromFallback(t *testing.T) {
	client := New("http://example.invalid", http.DefaultClient, credentials.New("sdk_test", ""), newFakeStore(), Config{}, Callbacks{})

	err := client.handleStreamError(context.Background(), errorPayload{Code: codeTokenExpired, Message: "expired"})
	require.Error(t, err)
	assert.NotEqual(t, errFallback, err)
	assert.Equal(t, domain.KindStreamTokenExpired, domain.KindOf(err))

	err = client.handleStreamError(context.Background(), errorPayload{Code: codeTokenInvalid, Message: "invalid"})
	require.Error(t, err)
	assert.NotEqual(t, errFallback, err)
	assert.Equal(t, domain.KindStreamTokenExpired, domain.KindOf(err))
}

func TestHandleStreamErrorConnectionLimitIsRetryableAndDistinctFromFallback(t *testing.T) {
	limitHit := 0
	client := New("http://example.invalid", http.DefaultClient, credentials.New("sdk_test", ""), newFakeStore(), Config{},
		Callbacks{OnConnectionLimit: func() { limitHit++ }})

	err := client.handleStreamError(context.Background(), errorPayload{Code: codeConnectionLimit, Message: "limit"})
	require.Error(t, err)
	assert.NotEqual(t, errFallback, err)
	assert.Equal(t, domain.KindStreamConnectionLimit, domain.KindOf(err))
	assert.Equal(t, 1, limitHit)
}

func TestHandleStreamErrorSubscriptionSuspendedFallsBackToPolling(t *testing.T) {
	fellBack := 0
	client := New("http://example.invalid", http.DefaultClient, credentials.New("sdk_test", ""), newFakeStore(), Config{},
		Callbacks{OnFallbackToPolling: func() { fellBack++ }})

	err := client.handleStreamError(context.Background(), errorPayload{Code: codeSubscriptionSuspended, Message: "suspended"})
	assert.Equal(t, errFallback, err)
	assert.Equal(t, 1, fellBack)
	assert.Equal(t, StateFailed, client.State())
}

func TestReconnectAfterTokenExpiredSkipsBackoffAndRefetchesToken(t *testing.T) {
	var tokenCalls int32
	var mu sync.Mutex
	sentError := false

	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokenCalls++
		n := tokenCalls
		mu.Unlock()
		w.Write([]byte(fmt.Sprintf(`{"token":"tok-%d","expiresIn":3600}`, n)))
	})
	mux.HandleFunc(streamPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		mu.Lock()
		alreadySent := sentError
		sentError = true
		mu.Unlock()

		if !alreadySent {
			fmt.Fprint(w, "event: error\ndata: {\"code\":\"TOKEN_EXPIRED\",\"message\":\"expired\"}\n\n")
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	creds := credentials.New("sdk_test", "")
	client := New(srv.URL, srv.Client(), creds, newFakeStore(), Config{HeartbeatInterval: time.Hour}, Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		client.runConnection(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := tokenCalls
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for immediate token-expiry reconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestConnectAppliesFlagUpdatedAndFlagDeleted(t *testing.T) {
	tokenCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		w.Write([]byte(`{"token":"tok123","expiresIn":3600}`))
	})
	mux.HandleFunc(streamPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: flag_updated\ndata: {\"key\":\"feature-a\",\"enabled\":true}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		fmt.Fprint(w, "event: flag_deleted\ndata: {\"key\":\"old-flag\"}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newFakeStore()
	store.Set("old-flag", domain.FlagState{Key: "old-flag"}, 0)

	creds := credentials.New("sdk_test", "")
	client := New(srv.URL, srv.Client(), creds, store, Config{HeartbeatInterval: time.Hour}, Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		client.runConnection(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		if _, ok := store.get("feature-a"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for flag_updated to apply")
		case <-time.After(10 * time.Millisecond):
		}
	}

	_, stillThere := store.get("old-flag")
	assert.False(t, stillThere)

	cancel()
	<-done
}
