package flagkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigHasSaneDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.EnableRequestSigning)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Polling.Enabled)
	assert.False(t, cfg.Streaming.Enabled)
	assert.Equal(t, OnFailureWarn, cfg.BootstrapVerification.OnFailure)
}

func TestWithDefaultsFillsOnlyZeroFields(t *testing.T) {
	cfg := Config{Timeout: 9 * time.Second}
	resolved := cfg.withDefaults()

	assert.Equal(t, 9*time.Second, resolved.Timeout, "explicit value must survive withDefaults")
	assert.Equal(t, DefaultConfig().Retries, resolved.Retries)
	assert.Equal(t, DefaultConfig().Cache.TTL, resolved.Cache.TTL)
}

func TestWithDefaultsClampsPollingIntervalToOneSecond(t *testing.T) {
	cfg := Config{Polling: PollingConfig{Interval: 10 * time.Millisecond}}
	resolved := cfg.withDefaults()
	assert.Equal(t, time.Second, resolved.Polling.Interval)
}

func TestWithDefaultsLeavesLargerPollingIntervalUntouched(t *testing.T) {
	cfg := Config{Polling: PollingConfig{Interval: 2 * time.Minute}}
	resolved := cfg.withDefaults()
	assert.Equal(t, 2*time.Minute, resolved.Polling.Interval)
}

func TestToEventQueueConfigCarriesSDKVersion(t *testing.T) {
	cfg := DefaultConfig().withDefaults()
	eq := cfg.toEventQueueConfig()
	assert.Equal(t, SDKVersion, eq.SDKVersion)
	assert.Equal(t, cfg.EventQueue.BatchSize, eq.BatchSize)
}
