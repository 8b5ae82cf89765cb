package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainwatch/netmon/internal/alerting"
	"github.com/chainwatch/netmon/internal/logging"
	"github.com/chainwatch/netmon/internal/metrics"
	"github.com/chainwatch/netmon/internal/rpcclient"
	"github.com/chainwatch/netmon/internal/types"
)

// ConsensusMonitorConfig controls scan cadence, masternode round timing,
// and the alert thresholds of spec.md §4.8.
type ConsensusMonitorConfig struct {
	ScanInterval time.Duration // default 30s; main passes CONSENSUS_SCAN_INTERVAL

	RoundTimeoutSeconds float64 // default 10s, per skipped miner
	ConsistentToleranceSeconds float64 // default 2s

	MinerMissThresholdMultiple int // alert every N missed rounds, default 10

	// MasternodeList is the ordered round-robin miner set for this chain,
	// used to compute the skipped-miner distance between an expected and
	// actual miner (spec.md §4.8, Scenario E).
	MasternodeList []string
}

func (c ConsensusMonitorConfig) withDefaults() ConsensusMonitorConfig {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 30 * time.Second
	}
	if c.RoundTimeoutSeconds <= 0 {
		c.RoundTimeoutSeconds = 10
	}
	if c.ConsistentToleranceSeconds <= 0 {
		c.ConsistentToleranceSeconds = 2
	}
	if c.MinerMissThresholdMultiple <= 0 {
		c.MinerMissThresholdMultiple = 10
	}
	return c
}

type minerRecord struct {
	mined  int
	missed int
}

// ConsensusMonitor watches one chain's missed-round query for masternode
// consensus health: timeout consistency and per-miner performance.
type ConsensusMonitor struct {
	cfg     ConsensusMonitorConfig
	chainID int64
	client  *rpcclient.Client
	sink    *metrics.Sink
	router  *alerting.Router
	logger  zerolog.Logger

	mu              sync.Mutex
	lastBlockNumber int64
	miners          map[string]*minerRecord
}

// NewConsensusMonitor builds a ConsensusMonitor for one chain, calling RPC
// through client (main builds it on the chain's first configured endpoint).
func NewConsensusMonitor(cfg ConsensusMonitorConfig, chainID int64, client *rpcclient.Client, sink *metrics.Sink, router *alerting.Router, logger zerolog.Logger) *ConsensusMonitor {
	return &ConsensusMonitor{
		cfg:     cfg.withDefaults(),
		chainID: chainID,
		client:  client,
		sink:    sink,
		router:  router,
		logger:  logger.With().Str("component", "consensus_monitor").Int64("chainId", chainID).Logger(),
		miners:  make(map[string]*minerRecord),
	}
}

// Run drives the scan loop until ctx is cancelled.
func (cm *ConsensusMonitor) Run(ctx context.Context) {
	defer logging.RecoverPanic(cm.logger, "consensus_monitor")

	ticker := time.NewTicker(cm.cfg.ScanInterval)
	defer ticker.Stop()

	cm.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.tick(ctx)
		}
	}
}

func (cm *ConsensusMonitor) tick(ctx context.Context) {
	now := time.Now()

	block, err := cm.fetchLatestBlock(ctx)
	if err != nil {
		cm.logger.Warn().Err(err).Msg("failed to fetch latest block for consensus scan")
		return
	}
	cm.recordMinerProduced(block.Miner, now)

	raw, err := cm.client.Call(ctx, "XDPoS_getMissedRoundsInEpochByBlockNum", []any{block.Number})
	if err != nil {
		cm.logger.Warn().Err(err).Msg("failed to fetch missed-round report")
		return
	}
	rounds, err := decodeMissedRounds(raw)
	if err != nil {
		cm.logger.Warn().Err(err).Msg("failed to decode missed-round report")
		return
	}
	if len(rounds) == 0 {
		return
	}

	blockNumber := hexOrDecToInt64(block.Number)
	for _, r := range rounds {
		cm.processMissedRound(ctx, blockNumber, r, now)
	}
}

func (cm *ConsensusMonitor) fetchLatestBlock(ctx context.Context) (*blockResult, error) {
	raw, err := cm.client.Call(ctx, "eth_getBlockByNumber", []any{"latest", false})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("latest block not found")
	}
	return decodeBlock(raw)
}

func (cm *ConsensusMonitor) processMissedRound(ctx context.Context, blockNumber int64, r missedRoundResult, now time.Time) {
	skipped := cm.skippedMinerCount(r.ExpectedMiner, r.ActualMiner)
	expectedTimeout := float64(skipped) * cm.cfg.RoundTimeoutSeconds

	before, errBefore := fetchBlockByNumber(ctx, cm.client, blockNumber-1)
	after, errAfter := fetchBlockByNumber(ctx, cm.client, blockNumber)
	var observedTimeout float64
	if errBefore == nil && errAfter == nil && before != nil && after != nil {
		observedTimeout = float64(hexOrDecToInt64(after.Timestamp) - hexOrDecToInt64(before.Timestamp))
	}

	variance := observedTimeout - expectedTimeout
	if variance < 0 {
		variance = -variance
	}
	consistent := variance <= cm.cfg.ConsistentToleranceSeconds

	event := types.MissedRoundEvent{
		ChainID:                cm.chainID,
		BlockNumber:            blockNumber,
		Round:                  r.Round,
		ExpectedMiner:          r.ExpectedMiner,
		ActualMiner:            r.ActualMiner,
		MissedCount:            skipped,
		ObservedTimeoutSeconds: observedTimeout,
		ExpectedTimeoutSeconds: expectedTimeout,
		Consistent:             consistent,
	}
	cm.sink.RecordConsensusMissedRounds(event, now)
	cm.sink.RecordConsensusTimeoutPeriods(event, now)

	cumulative := cm.recordMinerMissed(r.ExpectedMiner, skipped, now)

	if !consistent {
		cm.router.Submit(alerting.AlertOptions{
			Severity:  types.SeverityWarning,
			Category:  types.CategoryConsensus,
			Component: fmt.Sprintf("chain-%d", cm.chainID),
			Title:     "unusual consensus round timeout",
			Message: fmt.Sprintf("round %d at block %d: observed timeout %.1fs vs expected %.1fs (variance %.1fs)",
				r.Round, blockNumber, observedTimeout, expectedTimeout, variance),
			Metadata: map[string]any{
				"chainId":     cm.chainID,
				"round":       r.Round,
				"blockNumber": blockNumber,
				"variance":    variance,
			},
			ThrottleKey:    fmt.Sprintf("consensus-unusual-timeout|%d|%d", cm.chainID, r.Round),
			ThrottleWindow: 10 * time.Minute,
		})
	}

	if crossedMultiple(cumulative, skipped, cm.cfg.MinerMissThresholdMultiple) {
		cm.router.Submit(alerting.AlertOptions{
			Severity:  types.SeverityWarning,
			Category:  types.CategoryConsensus,
			Component: fmt.Sprintf("chain-%d", cm.chainID),
			Title:     "masternode missing rounds frequently",
			Message:   fmt.Sprintf("miner %s has missed %d rounds total on chain %d", r.ExpectedMiner, cumulative, cm.chainID),
			Metadata:  map[string]any{"chainId": cm.chainID, "miner": r.ExpectedMiner, "cumulativeMissed": cumulative},
			ThrottleKey:    fmt.Sprintf("consensus-frequent-miss|%d|%s", cm.chainID, r.ExpectedMiner),
			ThrottleWindow: time.Hour,
		})
	}
}

// skippedMinerCount computes how many masternodes were skipped between the
// expected and actual miner in the round-robin schedule. The masternode list
// gives each miner's position; the skip distance is the number of steps from
// the expected miner's index back to the actual miner's index, wrapping
// around the list (spec.md §4.8 Scenario E: expected index 5, actual index
// 3, list size 10 → 2, not the other direction's 8).
func (cm *ConsensusMonitor) skippedMinerCount(expectedMiner, actualMiner string) int {
	n := len(cm.cfg.MasternodeList)
	if n == 0 || expectedMiner == "" || actualMiner == "" {
		return 1
	}
	expectedIdx := masternodeIndex(cm.cfg.MasternodeList, expectedMiner)
	actualIdx := masternodeIndex(cm.cfg.MasternodeList, actualMiner)
	if expectedIdx < 0 || actualIdx < 0 {
		return 1
	}
	skipped := ((expectedIdx - actualIdx) % n + n) % n
	if skipped == 0 {
		return 1
	}
	return skipped
}

func masternodeIndex(list []string, miner string) int {
	for i, m := range list {
		if m == miner {
			return i
		}
	}
	return -1
}

func (cm *ConsensusMonitor) recordMinerProduced(miner string, now time.Time) {
	if miner == "" {
		return
	}
	cm.mu.Lock()
	rec, ok := cm.miners[miner]
	if !ok {
		rec = &minerRecord{}
		cm.miners[miner] = rec
	}
	rec.mined++
	mined, missed := rec.mined, rec.missed
	cm.mu.Unlock()
	cm.sink.RecordConsensusMinerPerformance(cm.chainID, miner, mined, missed, now)
}

func (cm *ConsensusMonitor) recordMinerMissed(miner string, count int, now time.Time) int {
	cm.mu.Lock()
	rec, ok := cm.miners[miner]
	if !ok {
		rec = &minerRecord{}
		cm.miners[miner] = rec
	}
	rec.missed += count
	mined, missed := rec.mined, rec.missed
	cm.mu.Unlock()
	cm.sink.RecordConsensusMinerPerformance(cm.chainID, miner, mined, missed, now)
	cm.sink.RecordConsensusMinerMissedRounds(cm.chainID, miner, missed, now)
	return missed
}

// crossedMultiple reports whether a running total that rose by delta to
// after (from after-delta) crossed a new multiple of step.
func crossedMultiple(after, delta, step int) bool {
	before := after - delta
	return after/step > before/step
}
