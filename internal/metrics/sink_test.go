package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/netmon/internal/types"
)

type fakeWriter struct {
	mu          sync.Mutex
	writes      [][]types.Measurement
	pingErr     error
	writeErr    error
	queryResult map[string]int64
	queryErr    error
}

func (w *fakeWriter) Write(ctx context.Context, batch []types.Measurement) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return w.writeErr
	}
	cp := append([]types.Measurement(nil), batch...)
	w.writes = append(w.writes, cp)
	return nil
}

func (w *fakeWriter) Ping(ctx context.Context) error { return w.pingErr }

func (w *fakeWriter) QueryRecentBlockHeights(ctx context.Context, since time.Time) (map[string]int64, error) {
	if w.queryErr != nil {
		return nil, w.queryErr
	}
	return w.queryResult, nil
}

func newTestSink(writer Writer, sentinel SentinelPolicy) *Sink {
	return New(Config{
		BatchSize:     20,
		FlushInterval: time.Hour, // tests drive flush manually
		StartupDelay:  0,
		WriteRetries:  1,
	}, sentinel, writer, zerolog.Nop())
}

func TestSink_FlushEmptyBufferIsNoOp(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(w, SentinelPolicy{})
	s.flush(context.Background())
	assert.Empty(t, w.writes)
}

func TestSink_BufferOverflowDropsOldest(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(w, SentinelPolicy{})
	s.cfg.BufferCapacity = 3

	for i := 0; i < 4; i++ {
		s.Record(types.Measurement{Name: "m", Fields: map[string]types.MeasurementField{"i": i}})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.buffer, 3)
	assert.Equal(t, 1, s.buffer[0].Fields["i"])
	assert.Equal(t, 3, s.buffer[2].Fields["i"])
}

func TestSink_RecordRpcLatencySentinelOnUnreachable(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(w, SentinelPolicy{Latency: -1})
	s.RecordRpcLatency(50, "http://a", Unreachable, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.buffer, 1)
	assert.Equal(t, int64(-1), s.buffer[0].Fields["value"])
}

func TestSink_RecordRpcLatencyPositiveValuePassesThrough(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(w, SentinelPolicy{Latency: -1})
	s.RecordRpcLatency(50, "http://a", 42, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, int64(42), s.buffer[0].Fields["value"])
}

func TestSink_RecordBlockHeightUsesLastKnownGoodOnUnreachable(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(w, SentinelPolicy{})

	s.RecordBlockHeight(50, "http://a", 100, time.Now())
	s.RecordBlockHeight(50, "http://a", Unreachable, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.buffer, 2)
	assert.Equal(t, int64(100), s.buffer[1].Fields["value"])
}

func TestSink_RecordBlockHeightUnreachableNoCacheFallsBackToMinusOne(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(w, SentinelPolicy{})
	s.RecordBlockHeight(50, "http://never-seen", Unreachable, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, int64(-1), s.buffer[0].Fields["value"])
}

func TestSink_WarmCacheSeedsLastKnownGood(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(w, SentinelPolicy{})
	s.WarmCache(map[string]int64{cacheKey(50, "http://a"): 999})

	s.RecordBlockHeight(50, "http://a", Unreachable, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, int64(999), s.buffer[0].Fields["value"])
}

func TestSink_WarmFromStoreSeedsCacheFromQuery(t *testing.T) {
	w := &fakeWriter{queryResult: map[string]int64{cacheKey(50, "http://a"): 1234}}
	s := newTestSink(w, SentinelPolicy{})

	require.NoError(t, s.WarmFromStore(context.Background()))

	s.RecordBlockHeight(50, "http://a", Unreachable, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, int64(1234), s.buffer[0].Fields["value"])
}

func TestSink_WarmFromStoreToleratesQueryError(t *testing.T) {
	w := &fakeWriter{queryErr: assert.AnError}
	s := newTestSink(w, SentinelPolicy{})

	assert.NoError(t, s.WarmFromStore(context.Background()))
}

func TestSink_TransactionsPerBlockEmitsThreePoints(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSink(w, SentinelPolicy{})
	now := time.Now()
	s.RecordTransactionsPerBlock(50, 1000, TxTotal, 3, now)
	s.RecordTransactionsPerBlock(50, 1000, TxSuccess, 2, now)
	s.RecordTransactionsPerBlock(50, 1000, TxFailed, 1, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.buffer, 3)
	assert.Equal(t, "total", s.buffer[0].Tags["status"])
	assert.Equal(t, 3, s.buffer[0].Fields["count"])
}
