package sysmon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/netmon/internal/alerting"
	"github.com/chainwatch/netmon/internal/metrics"
	"github.com/chainwatch/netmon/internal/types"
)

type noopWriter struct{}

func (noopWriter) Write(ctx context.Context, batch []types.Measurement) error { return nil }
func (noopWriter) Ping(ctx context.Context) error                             { return nil }
func (noopWriter) QueryRecentBlockHeights(ctx context.Context, since time.Time) (map[string]int64, error) {
	return nil, nil
}

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *alerting.Router) {
	t.Helper()
	sink := metrics.New(metrics.Config{FlushInterval: time.Hour}, metrics.SentinelPolicy{}, noopWriter{}, zerolog.Nop())
	router := alerting.New(alerting.Config{}, nil, zerolog.Nop())
	m, err := New(cfg, int32(os.Getpid()), sink, router, zerolog.Nop())
	require.NoError(t, err)
	return m, router
}

func TestMonitor_SampleCapturesSnapshot(t *testing.T) {
	m, _ := newTestMonitor(t, Config{})
	m.sample(context.Background())

	snap := m.Snapshot()
	assert.False(t, snap.CapturedAt.IsZero())
	assert.GreaterOrEqual(t, snap.Goroutines, 1)
	assert.GreaterOrEqual(t, snap.MemoryMB, float64(0))
}

func TestMonitor_MemoryPressureAlertsAfterConsecutiveOverload(t *testing.T) {
	m, router := newTestMonitor(t, Config{MemoryWarnMB: 10, ConsecutiveOverload: 2})
	now := time.Now()

	m.checkMemoryPressure(20, now)
	assert.Empty(t, router.Find(alerting.Query{}))

	m.checkMemoryPressure(20, now.Add(time.Second))
	alerts := router.Find(alerting.Query{})
	require.Len(t, alerts, 1)
	assert.Equal(t, types.SeverityWarning, alerts[0].Severity)
}

func TestMonitor_MemoryPressureResetsStreakOnRecovery(t *testing.T) {
	m, router := newTestMonitor(t, Config{MemoryWarnMB: 10, ConsecutiveOverload: 2})
	now := time.Now()

	m.checkMemoryPressure(20, now)
	m.checkMemoryPressure(5, now.Add(time.Second)) // recovers, streak resets
	m.checkMemoryPressure(20, now.Add(2*time.Second))
	assert.Empty(t, router.Find(alerting.Query{}))
}

func TestMonitor_RunStopsOnContextCancel(t *testing.T) {
	m, _ := newTestMonitor(t, Config{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}

	snap := m.Snapshot()
	assert.False(t, snap.CapturedAt.IsZero())
}
