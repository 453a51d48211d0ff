package polling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/flagkit-go/internal/telemetry"
)

// recordRefreshProvider is a telemetry.Provider stub that reports every
// RecordRefresh call to onRecord, for test assertions.
type recordRefreshProvider struct {
	telemetry.NoopProvider
	onRecord func(success bool, flagCount int)
}

func (p recordRefreshProvider) RecordRefresh(ctx context.Context, success bool, duration time.Duration, flagCount int) {
	p.onRecord(success, flagCount)
}

// fakeAfterFunc replaces time.AfterFunc so tests can trigger the callback
// synchronously instead of waiting on a real timer.
func fakeAfterFunc(capture *[]func()) func(time.Duration, func()) *time.Timer {
	return func(d time.Duration, f func()) *time.Timer {
		*capture = append(*capture, f)
		return time.NewTimer(time.Hour) // never fires on its own
	}
}

func TestStartSchedulesFirstPoll(t *testing.T) {
	var scheduled []func()
	var calls int32

	m := New(Config{BaseInterval: time.Second, Jitter: 0}, func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	})
	m.afterFunc = fakeAfterFunc(&scheduled)
	m.randFloat = func() float64 { return 0 }

	m.Start()
	require.Len(t, scheduled, 1)

	scheduled[0]()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Len(t, scheduled, 2, "a poll must schedule the next one")
}

func TestOnSuccessResetsIntervalAndErrorCount(t *testing.T) {
	var scheduled []func()
	m := New(Config{BaseInterval: time.Second, BackoffMultiplier: 2, MaxInterval: time.Minute}, func() (int, error) {
		return 0, errors.New("boom")
	})
	m.afterFunc = fakeAfterFunc(&scheduled)
	m.randFloat = func() float64 { return 0 }
	m.Start()

	scheduled[0]() // fails, interval doubles
	assert.Equal(t, 2*time.Second, m.CurrentInterval())
	assert.Equal(t, 1, m.ConsecutiveErrors())

	m.onPoll = func() (int, error) { return 3, nil }
	scheduled[1]()
	assert.Equal(t, time.Second, m.CurrentInterval())
	assert.Equal(t, 0, m.ConsecutiveErrors())
}

func TestOnErrorBacksOffUpToMaxInterval(t *testing.T) {
	var scheduled []func()
	m := New(Config{BaseInterval: time.Second, BackoffMultiplier: 10, MaxInterval: 5 * time.Second}, func() (int, error) {
		return 0, errors.New("boom")
	})
	m.afterFunc = fakeAfterFunc(&scheduled)
	m.randFloat = func() float64 { return 0 }
	m.Start()

	scheduled[0]()
	assert.Equal(t, 5*time.Second, m.CurrentInterval(), "interval must be capped at maxInterval")
}

func TestPollNowDoesNotAlterScheduling(t *testing.T) {
	var scheduled []func()
	var calls int32
	m := New(Config{BaseInterval: time.Minute}, func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	})
	m.afterFunc = fakeAfterFunc(&scheduled)
	m.randFloat = func() float64 { return 0 }
	m.Start()

	m.PollNow()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Len(t, scheduled, 1, "PollNow must not schedule an additional poll")
}

func TestPanicInOnPollIsCaughtAndTreatedAsError(t *testing.T) {
	var scheduled []func()
	m := New(Config{BaseInterval: time.Second, BackoffMultiplier: 2}, func() (int, error) {
		panic("boom")
	})
	m.afterFunc = fakeAfterFunc(&scheduled)
	m.randFloat = func() float64 { return 0 }
	m.Start()

	assert.NotPanics(t, func() { scheduled[0]() })
	assert.Equal(t, 1, m.ConsecutiveErrors())
}

func TestStopPreventsFurtherScheduling(t *testing.T) {
	var scheduled []func()
	m := New(Config{BaseInterval: time.Second}, func() (int, error) { return 0, nil })
	m.afterFunc = fakeAfterFunc(&scheduled)
	m.randFloat = func() float64 { return 0 }
	m.Start()
	m.Stop()

	scheduled[0]()
	assert.Len(t, scheduled, 1, "a poll running after Stop must not reschedule")
}

func TestShutdownWaitsForInFlightPoll(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan struct{})

	m := New(Config{BaseInterval: time.Millisecond, Jitter: 0}, func() (int, error) {
		close(started)
		wg.Wait()
		return 0, nil
	})
	m.randFloat = func() float64 { return 0 }
	m.Start()

	<-started
	go func() {
		time.Sleep(20 * time.Millisecond)
		wg.Done()
	}()

	ok := m.Shutdown(time.Second)
	assert.True(t, ok)
}

func TestShutdownTimesOutIfPollNeverFinishes(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	m := New(Config{BaseInterval: time.Millisecond, Jitter: 0}, func() (int, error) {
		close(started)
		<-block
		return 0, nil
	})
	m.randFloat = func() float64 { return 0 }
	m.Start()

	<-started
	ok := m.Shutdown(10 * time.Millisecond)
	assert.False(t, ok)
	close(block)
}

func TestRecordRefreshReceivesFlagCountAndOutcome(t *testing.T) {
	var scheduled []func()
	var gotSuccess bool
	var gotCount int
	recorded := false

	m := New(Config{BaseInterval: time.Second, Jitter: 0}, func() (int, error) {
		return 7, nil
	})
	m.afterFunc = fakeAfterFunc(&scheduled)
	m.randFloat = func() float64 { return 0 }
	m.WithTelemetryProvider(recordRefreshProvider{onRecord: func(success bool, flagCount int) {
		recorded = true
		gotSuccess = success
		gotCount = flagCount
	}})
	m.Start()

	scheduled[0]()
	assert.True(t, recorded)
	assert.True(t, gotSuccess)
	assert.Equal(t, 7, gotCount)
}
