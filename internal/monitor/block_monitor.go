package monitor

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chainwatch/netmon/internal/alerting"
	"github.com/chainwatch/netmon/internal/logging"
	"github.com/chainwatch/netmon/internal/metrics"
	"github.com/chainwatch/netmon/internal/rpcclient"
	"github.com/chainwatch/netmon/internal/types"
	"github.com/chainwatch/netmon/internal/window"
)

// BlockMonitorConfig controls scan cadence, the long-timeout client's
// retry behavior, and the sync-lag/downtime thresholds of spec.md §4.7.
type BlockMonitorConfig struct {
	ScanInterval time.Duration // default 15s

	LongRetries   int           // default 5
	LongBaseDelay time.Duration // default 1s
	LongTimeout   time.Duration // default 10s

	SyncLagCriticalBlocks int64         // default 1000
	SyncLagWarningBlocks  int64         // default 100
	SyncLagThrottle       time.Duration // default 60m
	PrimaryDownThreshold  time.Duration // default 1h

	// BlockTimeThreshold is BLOCK_TIME_THRESHOLD (spec.md §6): an observed
	// block time exceeding the chain's TargetBlockTimeSecs by more than this
	// many seconds raises a throttled "high-block-time" alert.
	BlockTimeThreshold    time.Duration // default 2s
	HighBlockTimeThrottle time.Duration // default 15m

	BlockTimeWindowDuration    time.Duration // default 24h
	BlockTimeWindowMaxPoints   int           // default 100
	TxThroughputWindowDuration time.Duration // default 5m

	SmallBlockTxThreshold int // default 500
	SmallBatchSize        int // default 20
	LargeBatchSize        int // default 50
}

func (c BlockMonitorConfig) withDefaults() BlockMonitorConfig {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 15 * time.Second
	}
	if c.LongRetries <= 0 {
		c.LongRetries = 5
	}
	if c.LongBaseDelay <= 0 {
		c.LongBaseDelay = time.Second
	}
	if c.LongTimeout <= 0 {
		c.LongTimeout = 10 * time.Second
	}
	if c.SyncLagCriticalBlocks <= 0 {
		c.SyncLagCriticalBlocks = 1000
	}
	if c.SyncLagWarningBlocks <= 0 {
		c.SyncLagWarningBlocks = 100
	}
	if c.SyncLagThrottle <= 0 {
		c.SyncLagThrottle = 60 * time.Minute
	}
	if c.PrimaryDownThreshold <= 0 {
		c.PrimaryDownThreshold = time.Hour
	}
	if c.BlockTimeThreshold <= 0 {
		c.BlockTimeThreshold = 2 * time.Second
	}
	if c.HighBlockTimeThrottle <= 0 {
		c.HighBlockTimeThrottle = 15 * time.Minute
	}
	if c.BlockTimeWindowDuration <= 0 {
		c.BlockTimeWindowDuration = 24 * time.Hour
	}
	if c.BlockTimeWindowMaxPoints <= 0 {
		c.BlockTimeWindowMaxPoints = 100
	}
	if c.TxThroughputWindowDuration <= 0 {
		c.TxThroughputWindowDuration = 5 * time.Minute
	}
	if c.SmallBlockTxThreshold <= 0 {
		c.SmallBlockTxThreshold = 500
	}
	if c.SmallBatchSize <= 0 {
		c.SmallBatchSize = 20
	}
	if c.LargeBatchSize <= 0 {
		c.LargeBatchSize = 50
	}
	return c
}

// BlockMonitor selects the freshest endpoint per chain, computes block
// time, analyzes transactions, and detects sync lag and primary-endpoint
// downtime.
type BlockMonitor struct {
	cfg         BlockMonitorConfig
	chains      []types.ChainDescriptor
	endpointMon *EndpointMonitor
	sink        *metrics.Sink
	router      *alerting.Router
	logger      zerolog.Logger

	blockTimeWindows    map[int64]*window.Window
	txThroughputWindows map[int64]*window.Window

	mu                 sync.Mutex
	primaryStatus      map[int64]*types.PrimaryEndpointStatus
	lastSyncLagAlertAt map[int64]time.Time
}

// NewBlockMonitor builds a BlockMonitor over the given chains, reading
// endpoint health from endpointMon.
func NewBlockMonitor(cfg BlockMonitorConfig, chains []types.ChainDescriptor, endpointMon *EndpointMonitor, sink *metrics.Sink, router *alerting.Router, logger zerolog.Logger) *BlockMonitor {
	cfg = cfg.withDefaults()
	bm := &BlockMonitor{
		cfg:                 cfg,
		chains:              chains,
		endpointMon:         endpointMon,
		sink:                sink,
		router:              router,
		logger:              logger.With().Str("component", "block_monitor").Logger(),
		blockTimeWindows:    make(map[int64]*window.Window),
		txThroughputWindows: make(map[int64]*window.Window),
		primaryStatus:       make(map[int64]*types.PrimaryEndpointStatus),
		lastSyncLagAlertAt:  make(map[int64]time.Time),
	}
	for _, chain := range chains {
		bm.blockTimeWindows[chain.ChainID] = window.New(cfg.BlockTimeWindowDuration, cfg.BlockTimeWindowMaxPoints)
		bm.txThroughputWindows[chain.ChainID] = window.New(cfg.TxThroughputWindowDuration, 0)
		bm.primaryStatus[chain.ChainID] = &types.PrimaryEndpointStatus{}
	}
	return bm
}

// Run drives the per-chain scan loop until ctx is cancelled. Chains are
// processed concurrently; one chain's tick error never blocks another's.
func (bm *BlockMonitor) Run(ctx context.Context) {
	defer logging.RecoverPanic(bm.logger, "block_monitor")

	ticker := time.NewTicker(bm.cfg.ScanInterval)
	defer ticker.Stop()

	bm.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bm.tick(ctx)
		}
	}
}

func (bm *BlockMonitor) tick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, chain := range bm.chains {
		chain := chain
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer logging.RecoverPanic(bm.logger, "block_monitor_chain_tick")
			bm.processChain(ctx, chain)
		}()
	}
	wg.Wait()
}

func (bm *BlockMonitor) processChain(ctx context.Context, chain types.ChainDescriptor) {
	now := time.Now()

	statuses := bm.endpointMon.StatusesForChain(chain.ChainID)
	if len(statuses) == 0 {
		bm.endpointMon.ProbeChainOnce(ctx, chain.ChainID)
		statuses = bm.endpointMon.StatusesForChain(chain.ChainID)
	}

	bm.detectSyncLag(chain.ChainID, statuses, now)

	// The primary stays designated while its own probe fails, so its downtime
	// accumulates even when another endpoint serves this tick's reads.
	bm.mu.Lock()
	primaryURL := bm.primaryStatus[chain.ChainID].URL
	bm.mu.Unlock()
	primaryDown := false
	for _, s := range statuses {
		primaryDown = primaryDown || (primaryURL != "" && s.URL == primaryURL && s.Status == types.StatusFailed)
	}
	if primaryDown {
		bm.trackPrimaryDowntime(chain.ChainID, primaryURL, false, now)
	}

	best, ok := selectBestEndpoint(statuses)
	if !ok {
		bm.logger.Debug().Int64("chainId", chain.ChainID).Msg("no healthy endpoint available for block selection")
		return
	}
	if !primaryDown {
		bm.trackPrimaryDowntime(chain.ChainID, best.URL, true, now)
	}

	client := rpcclient.New(rpcclient.Config{
		PrimaryURL: best.URL,
		MaxRetries: bm.cfg.LongRetries,
		BaseDelay:  bm.cfg.LongBaseDelay,
		Timeout:    bm.cfg.LongTimeout,
	})

	blockN, blockPrev, err := bm.fetchBlockPair(ctx, client, best.BlockHeight)
	if err != nil {
		bm.logger.Warn().Int64("chainId", chain.ChainID).Err(err).Msg("block fetch failed, skipping this tick")
		return
	}

	if blockN != nil && blockPrev != nil {
		tsN := hexOrDecToInt64(blockN.Timestamp)
		tsPrev := hexOrDecToInt64(blockPrev.Timestamp)
		seconds := float64(tsN - tsPrev)
		if seconds <= 0 {
			bm.logger.Warn().Int64("chainId", chain.ChainID).Float64("seconds", seconds).Msg("discarding non-positive block-time sample")
		} else {
			bm.blockTimeWindows[chain.ChainID].Append(seconds, now)
			bm.sink.RecordBlockTime(chain.ChainID, seconds, now)
			bm.detectHighBlockTime(chain, seconds, now)
		}
	}

	if blockN != nil {
		bm.analyzeTransactions(ctx, client, chain.ChainID, best.BlockHeight, blockN, now)
	}

	bm.emitVariance(chain.ChainID, statuses, now)
}

// fetchBlockPair fetches blocks N and N-1 in parallel. A transient error on
// either aborts this tick for this chain; the caller logs and continues.
func (bm *BlockMonitor) fetchBlockPair(ctx context.Context, client *rpcclient.Client, n int64) (*blockResult, *blockResult, error) {
	var blockN, blockPrev *blockResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := fetchBlockByNumber(gctx, client, n)
		blockN = b
		return err
	})
	if n > 0 {
		g.Go(func() error {
			b, err := fetchBlockByNumber(gctx, client, n-1)
			blockPrev = b
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return blockN, blockPrev, nil
}

func fetchBlockByNumber(ctx context.Context, client *rpcclient.Client, number int64) (*blockResult, error) {
	raw, err := client.Call(ctx, "eth_getBlockByNumber", []any{"0x" + strconv.FormatInt(number, 16), false})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("block %d not found", number)
	}
	return decodeBlock(raw)
}

// analyzeTransactions implements spec.md §4.7.1's adaptive batching.
func (bm *BlockMonitor) analyzeTransactions(ctx context.Context, client *rpcclient.Client, chainID, blockNumber int64, block *blockResult, now time.Time) {
	total := len(block.Transactions)
	batchSize := bm.cfg.SmallBatchSize
	if total > bm.cfg.SmallBlockTxThreshold {
		batchSize = bm.cfg.LargeBatchSize
	}

	var successCount, failedCount int
	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batch := block.Transactions[start:end]
		results := make([]bool, len(batch))
		resolved := make([]bool, len(batch))

		var g errgroup.Group
		for i, hash := range batch {
			i, hash := i, hash
			g.Go(func() error {
				raw, err := client.Call(ctx, "eth_getTransactionReceipt", []any{hash})
				if err != nil {
					return nil // conservative: unresolved counts as success, handled below
				}
				success, ok := decodeTxStatus(raw)
				results[i] = success
				resolved[i] = ok
				return nil
			})
		}
		_ = g.Wait()

		for i := range batch {
			if !resolved[i] {
				// Conservative policy (spec.md §4.7.1, §9): a tx whose status
				// could not be resolved counts as success so missing
				// information never inflates the failure count; under mass
				// RPC failure this inflates the success count instead.
				successCount++
				continue
			}
			if results[i] {
				successCount++
			} else {
				failedCount++
			}
		}
	}

	bm.sink.RecordTransactionsPerBlock(chainID, blockNumber, metrics.TxTotal, total, now)
	bm.sink.RecordTransactionsPerBlock(chainID, blockNumber, metrics.TxSuccess, successCount, now)
	bm.sink.RecordTransactionsPerBlock(chainID, blockNumber, metrics.TxFailed, failedCount, now)

	txWindow := bm.txThroughputWindows[chainID]
	txWindow.Append(float64(total), now)
	windowMs := float64(bm.cfg.TxThroughputWindowDuration.Milliseconds())
	rate := txWindow.Sum(txWindow.DefaultCutoff(now)) / (windowMs / 60000)
	bm.sink.RecordTransactionsPerMinute(chainID, rate, now)
}

func (bm *BlockMonitor) emitVariance(chainID int64, statuses []types.EndpointSnapshot, now time.Time) {
	var heights []int64
	for _, s := range statuses {
		if s.Status == types.StatusActive {
			heights = append(heights, s.BlockHeight)
		}
	}
	var variance int64
	if len(heights) >= 2 {
		min, max := heights[0], heights[0]
		for _, h := range heights[1:] {
			if h < min {
				min = h
			}
			if h > max {
				max = h
			}
		}
		variance = max - min
	}
	bm.sink.RecordBlockHeightVariance(chainID, variance, now)
}

// selectBestEndpoint picks the healthy endpoint with the highest observed
// block height, breaking ties by lowest latency, then by the stable input
// order the caller already guarantees (configured endpoint order).
func selectBestEndpoint(statuses []types.EndpointSnapshot) (types.EndpointSnapshot, bool) {
	var best types.EndpointSnapshot
	found := false
	for _, s := range statuses {
		if s.Status != types.StatusActive {
			continue
		}
		if !found {
			best, found = s, true
			continue
		}
		if s.BlockHeight > best.BlockHeight {
			best = s
		} else if s.BlockHeight == best.BlockHeight && s.LatencyMs < best.LatencyMs {
			best = s
		}
	}
	return best, found
}

type lagClass string

const (
	lagNone     lagClass = ""
	lagWarning  lagClass = "warning"
	lagCritical lagClass = "critical"
)

type lagged struct {
	snapshot     types.EndpointSnapshot
	blocksBehind int64
}

// detectSyncLag implements spec.md §4.7.2.
func (bm *BlockMonitor) detectSyncLag(chainID int64, statuses []types.EndpointSnapshot, now time.Time) {
	if len(statuses) == 0 {
		return
	}
	var highest int64
	for _, s := range statuses {
		if s.BlockHeight > highest {
			highest = s.BlockHeight
		}
	}

	groups := map[lagClass][]lagged{}
	for _, s := range statuses {
		behind := highest - s.BlockHeight
		class := classifyLag(behind, bm.cfg.SyncLagWarningBlocks, bm.cfg.SyncLagCriticalBlocks)
		if class == lagNone {
			continue
		}
		groups[class] = append(groups[class], lagged{snapshot: s, blocksBehind: behind})
	}
	if len(groups) == 0 {
		return
	}

	bm.mu.Lock()
	last, seen := bm.lastSyncLagAlertAt[chainID]
	bm.mu.Unlock()
	if seen && now.Sub(last) < bm.cfg.SyncLagThrottle {
		return
	}

	sent := false
	for _, class := range []lagClass{lagCritical, lagWarning} {
		entries, ok := groups[class]
		if !ok {
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].blocksBehind > entries[j].blocksBehind })

		var lines []string
		top := entries
		if len(top) > 5 {
			top = top[:5]
		}
		for _, e := range top {
			lines = append(lines, fmt.Sprintf("- %s: %d delay blocks (at block %d)", e.snapshot.URL, e.blocksBehind, e.snapshot.BlockHeight))
		}
		message := strings.Join(lines, "\n")
		if len(entries) > 5 {
			message += fmt.Sprintf("\n...and %d more", len(entries)-5)
		}

		severity := types.SeverityWarning
		if class == lagCritical {
			severity = types.SeverityCritical
		}
		_, routed := bm.router.Submit(alerting.AlertOptions{
			Severity:  severity,
			Category:  types.CategorySync,
			Component: fmt.Sprintf("chain-%d", chainID),
			Title:     fmt.Sprintf("sync lag (%s): %d endpoint(s) affected", class, len(entries)),
			Message:   message,
			Metadata:  map[string]any{"chainId": chainID, "class": string(class), "count": len(entries)},
		})
		if routed {
			sent = true
		}
	}

	if sent {
		bm.mu.Lock()
		bm.lastSyncLagAlertAt[chainID] = now
		bm.mu.Unlock()
	}
}

// detectHighBlockTime implements the "high-block-time" alert named in
// spec.md §6's BLOCK_TIME_THRESHOLD and §4.5's throttle-default table: an
// observed block time exceeding the chain's target by more than the
// configured threshold raises a throttled warning.
func (bm *BlockMonitor) detectHighBlockTime(chain types.ChainDescriptor, seconds float64, now time.Time) {
	limit := float64(chain.TargetBlockTimeSecs) + bm.cfg.BlockTimeThreshold.Seconds()
	if seconds <= limit {
		return
	}
	bm.router.Submit(alerting.AlertOptions{
		Severity:  types.SeverityWarning,
		Category:  types.CategoryBlockchain,
		Component: fmt.Sprintf("chain-%d", chain.ChainID),
		Title:     "high block time",
		Message:   fmt.Sprintf("block time %.1fs exceeds target %ds + threshold %.1fs on chain %d", seconds, chain.TargetBlockTimeSecs, bm.cfg.BlockTimeThreshold.Seconds(), chain.ChainID),
		Metadata: map[string]any{
			"chainId":    chain.ChainID,
			"seconds":    seconds,
			"targetSecs": chain.TargetBlockTimeSecs,
		},
		ThrottleKey:    fmt.Sprintf("high-block-time|%d", chain.ChainID),
		ThrottleWindow: bm.cfg.HighBlockTimeThrottle,
	})
}

func classifyLag(blocksBehind, warningThreshold, criticalThreshold int64) lagClass {
	switch {
	case blocksBehind >= criticalThreshold:
		return lagCritical
	case blocksBehind >= warningThreshold:
		return lagWarning
	default:
		return lagNone
	}
}

// trackPrimaryDowntime implements spec.md §4.7.3.
func (bm *BlockMonitor) trackPrimaryDowntime(chainID int64, url string, success bool, now time.Time) {
	bm.mu.Lock()
	status, ok := bm.primaryStatus[chainID]
	if !ok {
		status = &types.PrimaryEndpointStatus{}
		bm.primaryStatus[chainID] = status
	}
	status.URL = url
	if success {
		status.DownSince = time.Time{}
		status.Alerted = false
		bm.mu.Unlock()
		return
	}

	if status.DownSince.IsZero() {
		status.DownSince = now
		status.Alerted = false
		bm.mu.Unlock()
		return
	}
	downSince := status.DownSince
	alerted := status.Alerted
	bm.mu.Unlock()

	if !alerted && now.Sub(downSince) >= bm.cfg.PrimaryDownThreshold {
		downtime := now.Sub(downSince)
		_, routed := bm.router.Submit(alerting.AlertOptions{
			Severity:       types.SeverityCritical,
			Category:       types.CategoryRPC,
			Component:      fmt.Sprintf("chain-%d", chainID),
			Title:          "primary rpc endpoint down",
			Message:        fmt.Sprintf("endpoint %s for chain %d has been unreachable for %s", url, chainID, downtime.Round(time.Minute)),
			Metadata:       map[string]any{"chainId": chainID, "endpoint": url, "downtimeSeconds": downtime.Seconds()},
			ThrottleKey:    fmt.Sprintf("rpc-endpoint-down|%d", chainID),
			ThrottleWindow: 10 * time.Minute,
		})
		if routed {
			bm.mu.Lock()
			status.Alerted = true
			bm.mu.Unlock()
		}
	}
}
