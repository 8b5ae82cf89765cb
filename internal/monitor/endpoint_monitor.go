// Package monitor implements the three chain-observing components of
// spec.md §4.6–§4.8: the RPC endpoint monitor, the block monitor, and the
// consensus/miner monitor. Parallel per-tick fan-out follows the errgroup
// pattern in other_examples/DanDo385-eth-rpc-monitor's cmd/monitor/main.go.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chainwatch/netmon/internal/logging"
	"github.com/chainwatch/netmon/internal/metrics"
	"github.com/chainwatch/netmon/internal/rpcclient"
	"github.com/chainwatch/netmon/internal/types"
)

// EndpointMonitorConfig controls probe cadence and the short-timeout probe
// client's retry/timeout behavior.
type EndpointMonitorConfig struct {
	ProbeInterval time.Duration // default 15s
	ProbeRetries  int           // default 1
	ProbeDelay    time.Duration // default 500ms
	ProbeTimeout  time.Duration // default 3s
}

func (c EndpointMonitorConfig) withDefaults() EndpointMonitorConfig {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 15 * time.Second
	}
	if c.ProbeRetries <= 0 {
		c.ProbeRetries = 1
	}
	if c.ProbeDelay <= 0 {
		c.ProbeDelay = 500 * time.Millisecond
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	return c
}

// EndpointMonitor health-probes every configured endpoint of every enabled
// chain on a fixed interval and exposes the latest snapshot for endpoint
// selection by the block monitor.
type EndpointMonitor struct {
	cfg    EndpointMonitorConfig
	chains []types.ChainDescriptor
	sink   *metrics.Sink
	logger zerolog.Logger

	inFlight sync.Map // key: "chainId|url" -> struct{} (single-probe-in-flight invariant)

	mu        sync.RWMutex
	snapshots map[string]types.EndpointSnapshot // key: "chainId|url"
}

// NewEndpointMonitor builds an EndpointMonitor over the given chain topology.
func NewEndpointMonitor(cfg EndpointMonitorConfig, chains []types.ChainDescriptor, sink *metrics.Sink, logger zerolog.Logger) *EndpointMonitor {
	return &EndpointMonitor{
		cfg:       cfg.withDefaults(),
		chains:    chains,
		sink:      sink,
		logger:    logger.With().Str("component", "endpoint_monitor").Logger(),
		snapshots: make(map[string]types.EndpointSnapshot),
	}
}

func snapshotKey(chainID int64, url string) string {
	return url + "|" + itoa(chainID)
}

// Run drives the probe loop until ctx is cancelled. Each tick fans out one
// goroutine per endpoint via errgroup, with per-endpoint error isolation:
// one endpoint's failure never aborts the cycle.
func (m *EndpointMonitor) Run(ctx context.Context) {
	defer logging.RecoverPanic(m.logger, "endpoint_monitor")

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *EndpointMonitor) tick(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, chain := range m.chains {
		chain := chain
		for _, ep := range chain.Endpoints {
			ep := ep
			g.Go(func() error {
				m.probeOne(gctx, chain, ep)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (m *EndpointMonitor) probeOne(ctx context.Context, chain types.ChainDescriptor, ep types.RpcEndpoint) {
	key := snapshotKey(ep.ChainID, ep.URL)
	if _, already := m.inFlight.LoadOrStore(key, struct{}{}); already {
		return
	}
	defer m.inFlight.Delete(key)

	now := time.Now()
	var latency int64
	var height int64 = metrics.Unreachable
	var status types.ProbeStatus

	switch ep.Kind {
	case types.EndpointWebSocket:
		l, err := rpcclient.ProbeWebSocket(ctx, ep.URL, m.cfg.ProbeTimeout)
		latency = l
		if err != nil {
			status = types.StatusFailed
		} else {
			status = types.StatusActive
		}
		m.sink.RecordWebSocketStatus(ep.ChainID, ep.URL, status == types.StatusActive, now)
	case types.EndpointEnhancedRPC:
		client := rpcclient.New(rpcclient.Config{
			PrimaryURL: ep.URL,
			MaxRetries: m.cfg.ProbeRetries,
			BaseDelay:  m.cfg.ProbeDelay,
			Timeout:    m.cfg.ProbeTimeout,
		})
		result, l, err := client.Probe(ctx, "eth_blockNumber", nil)
		latency = l
		var peerCount int64 = metrics.Unreachable
		if err != nil {
			status = types.StatusFailed
			m.logger.Debug().Str("endpoint", ep.URL).Int64("chainId", ep.ChainID).Err(err).Msg("probe failed")
		} else {
			status = types.StatusActive
			if h, ok := parseHexOrDecimalQuantity(result); ok {
				height = h
			}
			if peerRaw, err := client.Call(ctx, "net_peerCount", nil); err == nil {
				if p, ok := parseHexOrDecimalQuantity(peerRaw); ok {
					peerCount = p
				}
			}
		}
		m.sink.RecordRpcStatus(ep.ChainID, ep.URL, status == types.StatusActive, now)
		m.sink.RecordRpcLatency(ep.ChainID, ep.URL, latency, now)
		m.sink.RecordBlockHeight(ep.ChainID, ep.URL, height, now)
		m.sink.RecordExplorerStatus(ep.ChainID, ep.URL, status == types.StatusActive, now)
		m.sink.RecordPeerCount(ep.ChainID, ep.URL, peerCount, now)
	default:
		client := rpcclient.New(rpcclient.Config{
			PrimaryURL: ep.URL,
			MaxRetries: m.cfg.ProbeRetries,
			BaseDelay:  m.cfg.ProbeDelay,
			Timeout:    m.cfg.ProbeTimeout,
		})
		result, l, err := client.Probe(ctx, "eth_blockNumber", nil)
		latency = l
		if err != nil {
			status = types.StatusFailed
			m.logger.Debug().Str("endpoint", ep.URL).Int64("chainId", ep.ChainID).Err(err).Msg("probe failed")
		} else {
			status = types.StatusActive
			if h, ok := parseHexOrDecimalQuantity(result); ok {
				height = h
			}
		}
		m.sink.RecordRpcStatus(ep.ChainID, ep.URL, status == types.StatusActive, now)
		m.sink.RecordRpcLatency(ep.ChainID, ep.URL, latency, now)
		m.sink.RecordBlockHeight(ep.ChainID, ep.URL, height, now)
	}

	snap := types.EndpointSnapshot{
		URL:         ep.URL,
		ChainID:     ep.ChainID,
		Status:      status,
		LatencyMs:   latency,
		BlockHeight: height,
	}
	m.mu.Lock()
	m.snapshots[key] = snap
	m.mu.Unlock()
}

// AllStatuses returns a snapshot of every tracked endpoint's last-known
// status, in no particular order. The block monitor reads per-chain
// snapshots through StatusesForChain instead.
func (m *EndpointMonitor) AllStatuses() []types.EndpointSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.EndpointSnapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	return out
}

// ProbeChainOnce forces an immediate probe of every endpoint of one chain,
// used by the block monitor when no cached heights exist yet for a chain
// (spec.md §4.7 step 1: "if empty, probe all endpoints once").
func (m *EndpointMonitor) ProbeChainOnce(ctx context.Context, chainID int64) {
	for _, chain := range m.chains {
		if chain.ChainID != chainID {
			continue
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, ep := range chain.Endpoints {
			ep := ep
			g.Go(func() error {
				m.probeOne(gctx, chain, ep)
				return nil
			})
		}
		_ = g.Wait()
		return
	}
}

// StatusesForChain returns the last-known status of every configured
// endpoint of one chain, in the chain's configured endpoint order — this
// gives endpoint selection a stable input order to break ties with, per
// spec.md §4.7 step 2.
func (m *EndpointMonitor) StatusesForChain(chainID int64) []types.EndpointSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.EndpointSnapshot
	for _, chain := range m.chains {
		if chain.ChainID != chainID {
			continue
		}
		for _, ep := range chain.Endpoints {
			if snap, ok := m.snapshots[snapshotKey(ep.ChainID, ep.URL)]; ok {
				out = append(out, snap)
			}
		}
	}
	return out
}
