package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/netmon/internal/alerting"
	"github.com/chainwatch/netmon/internal/metrics"
	"github.com/chainwatch/netmon/internal/rpcclient"
	"github.com/chainwatch/netmon/internal/types"
)

type capturingWriter struct {
	mu    sync.Mutex
	by    map[string][]types.Measurement // keyed by "status" tag for transactions_per_block
}

func newCapturingWriter() *capturingWriter {
	return &capturingWriter{by: make(map[string][]types.Measurement)}
}

func (w *capturingWriter) Write(ctx context.Context, batch []types.Measurement) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range batch {
		if m.Name != "transactions_per_block" {
			continue
		}
		w.by[m.Tags["status"]] = append(w.by[m.Tags["status"]], m)
	}
	return nil
}

func (w *capturingWriter) Ping(ctx context.Context) error { return nil }

func (w *capturingWriter) QueryRecentBlockHeights(ctx context.Context, since time.Time) (map[string]int64, error) {
	return nil, nil
}

func (w *capturingWriter) count(status string) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	points := w.by[status]
	if len(points) == 0 {
		return 0, false
	}
	last := points[len(points)-1]
	v, ok := last.Fields["count"].(int)
	return v, ok
}

func newTxTestBlockMonitor(t *testing.T, writer metrics.Writer) *BlockMonitor {
	t.Helper()
	router := alerting.New(alerting.Config{}, nil, zerolog.Nop())
	sink := metrics.New(metrics.Config{FlushInterval: 5 * time.Millisecond, StartupDelay: time.Millisecond, BatchSize: 50}, metrics.SentinelPolicy{}, writer, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sink.Start(ctx)

	chains := []types.ChainDescriptor{{ChainID: 50}}
	em := NewEndpointMonitor(EndpointMonitorConfig{}, chains, sink, zerolog.Nop())
	return NewBlockMonitor(BlockMonitorConfig{}, chains, em, sink, router, zerolog.Nop())
}

// Scenario A (spec.md §8): a 3-tx block with two successes and one failure
// emits exactly total=3, success=2, failed=1.
func TestAnalyzeTransactions_ScenarioA(t *testing.T) {
	statuses := map[string]string{"0xa": "0x1", "0xb": "0x1", "0xc": "0x0"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params []string `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		status := statuses[req.Params[0]]
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"status":"%s"}}`, status)
	}))
	defer srv.Close()

	writer := newCapturingWriter()
	bm := newTxTestBlockMonitor(t, writer)
	client := rpcclient.New(rpcclient.Config{PrimaryURL: srv.URL})
	block := &blockResult{Transactions: []string{"0xa", "0xb", "0xc"}}

	bm.analyzeTransactions(context.Background(), client, 50, 10_000, block, time.Now())

	require.Eventually(t, func() bool {
		_, ok := writer.count("failed")
		return ok
	}, time.Second, 5*time.Millisecond)

	total, _ := writer.count("total")
	success, _ := writer.count("success")
	failed, _ := writer.count("failed")
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, success)
	assert.Equal(t, 1, failed)
}

// Scenario F (spec.md §8): unresolved lookups count as success, never
// inflating the failure count.
func TestAnalyzeTransactions_UnresolvedCountsAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params []string `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Params[0] == "0xbad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"status":"0x0"}}`)
	}))
	defer srv.Close()

	writer := newCapturingWriter()
	bm := newTxTestBlockMonitor(t, writer)
	client := rpcclient.New(rpcclient.Config{PrimaryURL: srv.URL, MaxRetries: 1, BaseDelay: time.Millisecond})
	block := &blockResult{Transactions: []string{"0xbad", "0xok"}}

	bm.analyzeTransactions(context.Background(), client, 50, 10_000, block, time.Now())

	require.Eventually(t, func() bool {
		_, ok := writer.count("failed")
		return ok
	}, time.Second, 5*time.Millisecond)

	total, _ := writer.count("total")
	success, _ := writer.count("success")
	failed, _ := writer.count("failed")
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, success) // the unresolved lookup counts as success
	assert.Equal(t, 1, failed)
}

func TestAnalyzeTransactions_BatchSizeBoundary(t *testing.T) {
	bm := newTxTestBlockMonitor(t, newCapturingWriter())
	assert.Equal(t, 500, bm.cfg.SmallBlockTxThreshold)
	assert.Equal(t, 20, bm.cfg.SmallBatchSize)
	assert.Equal(t, 50, bm.cfg.LargeBatchSize)

	assert.False(t, 500 > bm.cfg.SmallBlockTxThreshold)
	assert.True(t, 501 > bm.cfg.SmallBlockTxThreshold)
}
