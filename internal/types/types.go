// Package types holds the shared data model observed across the monitoring
// core: chain topology, live endpoint state, derived samples, measurements,
// and alerts. No package in this module owns I/O from here; this is data
// only.
package types

import "time"

// EndpointKind distinguishes how an RpcEndpoint is probed.
type EndpointKind string

const (
	EndpointHTTPRPC     EndpointKind = "http-rpc"
	EndpointEnhancedRPC EndpointKind = "enhanced-rpc"
	EndpointWebSocket   EndpointKind = "websocket"
)

// ProbeStatus is the health of an endpoint as last observed.
type ProbeStatus string

const (
	StatusActive  ProbeStatus = "active"
	StatusFailed  ProbeStatus = "failed"
	StatusUnknown ProbeStatus = "unknown"
)

// AlertSeverity classifies how urgently an alert needs attention.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertCategory groups alerts by subsystem.
type AlertCategory string

const (
	CategoryBlockchain AlertCategory = "blockchain"
	CategoryRPC        AlertCategory = "rpc"
	CategorySync       AlertCategory = "sync"
	CategoryConsensus  AlertCategory = "consensus"
	CategorySystem     AlertCategory = "system"
)

// ChannelKind identifies a notification transport.
type ChannelKind string

const (
	ChannelWebhook   ChannelKind = "webhook"
	ChannelChatBot   ChannelKind = "chat-bot"
	ChannelDashboard ChannelKind = "dashboard"
	ChannelEmail     ChannelKind = "email"
)

// Priority orders work-queue items; smaller values run first.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

// RpcEndpoint is one statically-configured probe target belonging to a chain.
type RpcEndpoint struct {
	URL         string
	Name        string
	Kind        EndpointKind
	ChainID     int64
	Conditional bool
}

// ChainDescriptor is the immutable topology of one monitored chain.
type ChainDescriptor struct {
	ChainID             int64
	DisplayName         string
	TargetBlockTimeSecs int
	Endpoints           []RpcEndpoint
	// Masternodes is the chain's ordered round-robin miner set, used by the
	// consensus monitor to compute skipped-miner distance. Empty for chains
	// with no consensus monitoring configured.
	Masternodes []string
}

// EndpointState is the mutable, single-writer live state of one
// (endpoint, chainId) pair. The RPC endpoint monitor is the only writer;
// every other reader must treat a fetched value as a point-in-time snapshot.
type EndpointState struct {
	URL                 string
	ChainID             int64
	LastLatencyMs        int64
	LastSeenBlockHeight  int64
	Status               ProbeStatus
	LastProbeAt          time.Time
	LastSuccessAt        time.Time
}

// PrimaryEndpointStatus tracks downtime of the chain's currently-selected
// best endpoint, gating the "primary endpoint down" alert.
type PrimaryEndpointStatus struct {
	URL       string
	DownSince time.Time
	Alerted   bool
}

// BlockObservation is a short-lived view of one fetched block.
type BlockObservation struct {
	BlockNumber  int64
	Timestamp    int64
	TxHashes     []string
	MinerAddress string
	Round        int64
}

// BlockTimeSample is one (chain, blockTimeSeconds) data point inserted into
// a chain's sliding block-time window.
type BlockTimeSample struct {
	ChainID    int64
	Seconds    float64
	ObservedAt time.Time
}

// TxThroughputSample is one (chain, txCount) data point inserted into a
// chain's sliding transaction-throughput window.
type TxThroughputSample struct {
	ChainID    int64
	TxCount    int
	ObservedAt time.Time
}

// MeasurementField is the value stored under one field name of a Measurement.
type MeasurementField any

// Measurement is the lingua franca written to the metrics sink: a named,
// tagged, fielded, timestamped record.
type Measurement struct {
	Name      string
	Tags      map[string]string
	Fields    map[string]MeasurementField
	Timestamp time.Time
}

// Alert is a severity- and category-tagged event surfaced to notification
// channels and retained in the alert router's ring buffer.
type Alert struct {
	ID           string
	Severity     AlertSeverity
	Category     AlertCategory
	Component    string
	Title        string
	Message      string
	CreatedAt    time.Time
	Metadata     map[string]any
	Acknowledged bool
	ResolvedAt   *time.Time
	Channels     []string // optional explicit channel-id allowlist
}

// NotificationChannel describes one configured delivery target.
type NotificationChannel struct {
	ID      string
	Kind    ChannelKind
	Enabled bool
	Config  map[string]string
}

// MissedRoundEvent records one authoritative missed-round report from a
// chain's native consensus query.
type MissedRoundEvent struct {
	ChainID                int64
	BlockNumber            int64
	Round                  int64
	ExpectedMiner          string
	ActualMiner            string
	MissedCount            int
	ObservedTimeoutSeconds float64
	ExpectedTimeoutSeconds float64
	Consistent             bool
}

// EndpointSnapshot is a point-in-time view of one endpoint's health, as
// exposed by the RPC endpoint monitor's allStatuses() query.
type EndpointSnapshot struct {
	URL         string
	ChainID     int64
	Status      ProbeStatus
	LatencyMs   int64
	BlockHeight int64
}
