package metrics

import (
	"time"

	"github.com/chainwatch/netmon/internal/types"
)

// unreachable is the sentinel marker a caller passes instead of a real
// observed value when a probe failed.
const unreachable = int64(-1) << 62 // deliberately out-of-band from any real int64 field

// Unreachable is the value monitors pass to a gauge emitter when the real
// observation could not be made; the sink substitutes the configured
// sentinel per spec.md §4.4.
var Unreachable int64 = unreachable

// resolveGauge applies spec.md §4.4's sentinel-value policy: an unreachable
// observation is replaced by the configured sentinel so the series stays
// continuous. SentinelPolicy.Enabled (ENABLE_SENTINEL_VALUES) is not
// consulted: substitution always happens.
func (s *Sink) resolveGauge(raw int64, sentinelDefault int64) int64 {
	if raw != unreachable {
		return raw
	}
	return sentinelDefault
}

// RecordBlockHeight emits block_height, applying the last-known-good cache
// when the observation is unreachable.
func (s *Sink) RecordBlockHeight(chainID int64, endpoint string, height int64, at time.Time) {
	key := cacheKey(chainID, endpoint)
	value := height
	if height == unreachable {
		s.mu.Lock()
		if cached, ok := s.lastGoodHeight[key]; ok {
			value = cached
		} else {
			value = -1
		}
		s.mu.Unlock()
	} else {
		s.mu.Lock()
		s.lastGoodHeight[key] = height
		s.mu.Unlock()
	}
	s.Record(types.Measurement{
		Name:      "block_height",
		Tags:      map[string]string{"endpoint": endpoint, "chainId": itoa(chainID)},
		Fields:    map[string]types.MeasurementField{"value": value},
		Timestamp: at,
	})
}

// RecordBlockTime emits block_time for one chain.
func (s *Sink) RecordBlockTime(chainID int64, seconds float64, at time.Time) {
	s.Record(types.Measurement{
		Name:      "block_time",
		Tags:      map[string]string{"chainId": itoa(chainID)},
		Fields:    map[string]types.MeasurementField{"seconds": seconds},
		Timestamp: at,
	})
}

// RecordRpcLatency emits rpc_latency, substituting the configured latency
// sentinel for an unreachable observation. Negative values are not clamped
// here; rpcclient.Probe clamps measured latency before it arrives.
func (s *Sink) RecordRpcLatency(chainID int64, endpoint string, latencyMs int64, at time.Time) {
	value := s.resolveGauge(latencyMs, s.sentinel.Latency)
	s.Record(types.Measurement{
		Name:      "rpc_latency",
		Tags:      map[string]string{"endpoint": endpoint, "chainId": itoa(chainID)},
		Fields:    map[string]types.MeasurementField{"value": value},
		Timestamp: at,
	})
}

// RecordRpcStatus emits rpc_status; status is 1 for active, 0/sentinel for
// failed.
func (s *Sink) RecordRpcStatus(chainID int64, endpoint string, active bool, at time.Time) {
	value := int64(0)
	if active {
		value = 1
	} else {
		value = s.resolveGauge(unreachable, s.sentinel.StatusDown)
	}
	s.Record(types.Measurement{
		Name:      "rpc_status",
		Tags:      map[string]string{"endpoint": endpoint, "chainId": itoa(chainID)},
		Fields:    map[string]types.MeasurementField{"value": value},
		Timestamp: at,
	})
}

// RecordWebSocketStatus emits websocket_status for a websocket-kind
// endpoint.
func (s *Sink) RecordWebSocketStatus(chainID int64, endpoint string, active bool, at time.Time) {
	value := int64(0)
	if active {
		value = 1
	} else {
		value = s.resolveGauge(unreachable, s.sentinel.StatusDown)
	}
	s.Record(types.Measurement{
		Name:      "websocket_status",
		Tags:      map[string]string{"endpoint": endpoint, "chainId": itoa(chainID)},
		Fields:    map[string]types.MeasurementField{"value": value},
		Timestamp: at,
	})
}

// RecordExplorerStatus emits explorer_status for an enhanced-rpc/explorer
// endpoint.
func (s *Sink) RecordExplorerStatus(chainID int64, endpoint string, active bool, at time.Time) {
	value := int64(0)
	if active {
		value = 1
	}
	s.Record(types.Measurement{
		Name:      "explorer_status",
		Tags:      map[string]string{"endpoint": endpoint, "chainId": itoa(chainID)},
		Fields:    map[string]types.MeasurementField{"value": value},
		Timestamp: at,
	})
}

// RecordPeerCount emits peer_count, one of the gauges subject to sentinel
// substitution per spec.md §4.4.
func (s *Sink) RecordPeerCount(chainID int64, endpoint string, peerCount int64, at time.Time) {
	value := s.resolveGauge(peerCount, s.sentinel.PeerCount)
	s.Record(types.Measurement{
		Name:      "peer_count",
		Tags:      map[string]string{"endpoint": endpoint, "chainId": itoa(chainID)},
		Fields:    map[string]types.MeasurementField{"value": value},
		Timestamp: at,
	})
}

// TxStatus enumerates the total|success|failed taxonomy used by
// transactions_per_block, per spec.md's Open Question decision.
type TxStatus string

const (
	TxTotal   TxStatus = "total"
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
)

// RecordTransactionsPerBlock emits one point for the given status.
func (s *Sink) RecordTransactionsPerBlock(chainID, blockNumber int64, status TxStatus, count int, at time.Time) {
	s.Record(types.Measurement{
		Name: "transactions_per_block",
		Tags: map[string]string{
			"chainId":      itoa(chainID),
			"block_number": itoa(blockNumber),
			"status":       string(status),
		},
		Fields:    map[string]types.MeasurementField{"count": count},
		Timestamp: at,
	})
}

// RecordTransactionsPerMinute emits transactions_per_minute.
func (s *Sink) RecordTransactionsPerMinute(chainID int64, rate float64, at time.Time) {
	s.Record(types.Measurement{
		Name:      "transactions_per_minute",
		Tags:      map[string]string{"chainId": itoa(chainID)},
		Fields:    map[string]types.MeasurementField{"value": rate},
		Timestamp: at,
	})
}

// RecordBlockHeightVariance emits block_height_variance.
func (s *Sink) RecordBlockHeightVariance(chainID int64, variance int64, at time.Time) {
	s.Record(types.Measurement{
		Name:      "block_height_variance",
		Tags:      map[string]string{"chainId": itoa(chainID)},
		Fields:    map[string]types.MeasurementField{"value": variance},
		Timestamp: at,
	})
}

// RecordAlertCount emits alert_count for an alert category.
func (s *Sink) RecordAlertCount(category types.AlertCategory, count int, at time.Time) {
	s.Record(types.Measurement{
		Name:      "alert_count",
		Tags:      map[string]string{"category": string(category)},
		Fields:    map[string]types.MeasurementField{"count": count},
		Timestamp: at,
	})
}

// RecordAlertHistory emits alert_history, a durable projection of one
// routed alert.
func (s *Sink) RecordAlertHistory(alert types.Alert) {
	s.Record(types.Measurement{
		Name: "alert_history",
		Tags: map[string]string{
			"severity":  string(alert.Severity),
			"category":  string(alert.Category),
			"component": alert.Component,
		},
		Fields: map[string]types.MeasurementField{
			"id":      alert.ID,
			"title":   alert.Title,
			"message": alert.Message,
		},
		Timestamp: alert.CreatedAt,
	})
}

// RecordConsensusMissedRounds emits consensus_missed_rounds.
func (s *Sink) RecordConsensusMissedRounds(e types.MissedRoundEvent, at time.Time) {
	s.Record(types.Measurement{
		Name: "consensus_missed_rounds",
		Tags: map[string]string{
			"chainId":        itoa(e.ChainID),
			"block_number":   itoa(e.BlockNumber),
			"expected_miner": e.ExpectedMiner,
			"actual_miner":   e.ActualMiner,
		},
		Fields: map[string]types.MeasurementField{
			"round":        e.Round,
			"missed_count": e.MissedCount,
		},
		Timestamp: at,
	})
}

// RecordConsensusTimeoutPeriods emits consensus_timeout_periods.
func (s *Sink) RecordConsensusTimeoutPeriods(e types.MissedRoundEvent, at time.Time) {
	s.Record(types.Measurement{
		Name: "consensus_timeout_periods",
		Tags: map[string]string{
			"chainId":      itoa(e.ChainID),
			"block_number": itoa(e.BlockNumber),
			"consistent":   boolTag(e.Consistent),
		},
		Fields: map[string]types.MeasurementField{
			"observed_seconds": e.ObservedTimeoutSeconds,
			"expected_seconds": e.ExpectedTimeoutSeconds,
		},
		Timestamp: at,
	})
}

// RecordConsensusMinerPerformance emits consensus_miner_performance.
func (s *Sink) RecordConsensusMinerPerformance(chainID int64, miner string, mined, missed int, at time.Time) {
	successRate := 0.0
	if mined+missed > 0 {
		successRate = float64(mined) / float64(mined+missed) * 100
	}
	s.Record(types.Measurement{
		Name: "consensus_miner_performance",
		Tags: map[string]string{
			"chainId": itoa(chainID),
			"miner":   miner,
		},
		Fields: map[string]types.MeasurementField{
			"mined":        mined,
			"missed":       missed,
			"success_rate": successRate,
		},
		Timestamp: at,
	})
}

// RecordConsensusMinerMissedRounds emits consensus_miner_missed_rounds.
func (s *Sink) RecordConsensusMinerMissedRounds(chainID int64, miner string, cumulativeMissed int, at time.Time) {
	s.Record(types.Measurement{
		Name: "consensus_miner_missed_rounds",
		Tags: map[string]string{
			"chainId": itoa(chainID),
			"miner":   miner,
		},
		Fields:    map[string]types.MeasurementField{"missed": cumulativeMissed},
		Timestamp: at,
	})
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
