// Package config reads the typed view over environment-variable inputs that
// every monitoring component is constructed from, plus the YAML-declared
// chain/endpoint topology that cannot be expressed as flat scalars.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every scalar setting recognized by the core (spec.md §6).
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	ScanIntervalSeconds      int `env:"SCAN_INTERVAL" envDefault:"15"`
	BlocksToScan             int `env:"BLOCKS_TO_SCAN" envDefault:"10"`
	BlockTimeThresholdSecs   int `env:"BLOCK_TIME_THRESHOLD" envDefault:"2"`

	EnableRPCMonitoring         bool `env:"ENABLE_RPC_MONITORING" envDefault:"true"`
	EnablePortMonitoring        bool `env:"ENABLE_PORT_MONITORING" envDefault:"true"`
	EnableBlockMonitoring       bool `env:"ENABLE_BLOCK_MONITORING" envDefault:"true"`
	EnableTransactionMonitoring bool `env:"ENABLE_TRANSACTION_MONITORING" envDefault:"true"`
	EnableConsensusMonitoring   bool `env:"ENABLE_CONSENSUS_MONITORING" envDefault:"false"`

	EnableDashboardAlerts    bool   `env:"ENABLE_DASHBOARD_ALERTS" envDefault:"true"`
	DashboardNatsURL         string `env:"DASHBOARD_NATS_URL" envDefault:""`
	EnableChatNotifications  bool   `env:"ENABLE_CHAT_NOTIFICATIONS" envDefault:"false"`

	NotificationWebhookURL string `env:"NOTIFICATION_WEBHOOK_URL" envDefault:""`
	ChatBotURL             string `env:"CHAT_BOT_URL" envDefault:""`
	ChatBotToken           string `env:"CHAT_BOT_TOKEN" envDefault:""`
	ChatBotChannel         string `env:"CHAT_BOT_CHANNEL" envDefault:""`

	MetricsURL    string `env:"METRICS_URL" envDefault:"http://localhost:8086"`
	MetricsToken  string `env:"METRICS_TOKEN" envDefault:""`
	MetricsOrg    string `env:"METRICS_ORG" envDefault:""`
	MetricsBucket string `env:"METRICS_BUCKET" envDefault:"netmon"`

	ConsensusMonitoringChainIDs string        `env:"CONSENSUS_MONITORING_CHAIN_IDS" envDefault:""`
	ConsensusScanInterval       time.Duration `env:"CONSENSUS_SCAN_INTERVAL" envDefault:"15s"`

	EnableSentinelValues bool  `env:"ENABLE_SENTINEL_VALUES" envDefault:"true"`
	SentinelPeerCount    int64 `env:"SENTINEL_PEER_COUNT" envDefault:"-1"`
	SentinelLatency      int64 `env:"SENTINEL_LATENCY" envDefault:"-1"`
	SentinelStatusDown   int64 `env:"SENTINEL_STATUS_DOWN" envDefault:"0"`

	ChainManifestPath string `env:"CHAIN_MANIFEST_PATH" envDefault:"chains.yaml"`

	SystemHealthIntervalSeconds int `env:"SYSTEM_HEALTH_INTERVAL" envDefault:"30"`
	SystemMemoryWarnMB          int `env:"SYSTEM_MEMORY_WARN_MB" envDefault:"1024"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// ScanInterval is ScanIntervalSeconds as a time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// BlockTimeThreshold is BlockTimeThresholdSecs as a time.Duration.
func (c *Config) BlockTimeThreshold() time.Duration {
	return time.Duration(c.BlockTimeThresholdSecs) * time.Second
}

// ConsensusChainIDs parses the comma-separated CONSENSUS_MONITORING_CHAIN_IDS.
func (c *Config) ConsensusChainIDs() []int64 {
	if strings.TrimSpace(c.ConsensusMonitoringChainIDs) == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(c.ConsensusMonitoringChainIDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(part, "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Load reads configuration from an optional .env file and the process
// environment. Priority: real env vars > .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration overrides from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for internally-inconsistent or out-of-range
// values. A ConfigError here is fatal at startup per spec.md §7.
func (c *Config) Validate() error {
	if c.ScanIntervalSeconds < 1 {
		return fmt.Errorf("SCAN_INTERVAL must be > 0, got %d", c.ScanIntervalSeconds)
	}
	if c.BlocksToScan < 1 {
		return fmt.Errorf("BLOCKS_TO_SCAN must be > 0, got %d", c.BlocksToScan)
	}
	if c.BlockTimeThresholdSecs < 0 {
		return fmt.Errorf("BLOCK_TIME_THRESHOLD must be >= 0, got %d", c.BlockTimeThresholdSecs)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, fatal (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json, pretty (got %q)", c.LogFormat)
	}

	if c.EnableChatNotifications && c.ChatBotToken == "" {
		return fmt.Errorf("CHAT_BOT_TOKEN is required when ENABLE_CHAT_NOTIFICATIONS is true")
	}

	return nil
}

// Print writes a human-readable dump of configuration to stdout, for local
// development and startup banners.
func (c *Config) Print() {
	fmt.Println("=== netmon configuration ===")
	fmt.Printf("Scan interval:          %ds\n", c.ScanIntervalSeconds)
	fmt.Printf("Blocks to scan:         %d\n", c.BlocksToScan)
	fmt.Printf("Block time threshold:   %ds\n", c.BlockTimeThresholdSecs)
	fmt.Printf("RPC monitoring:         %t\n", c.EnableRPCMonitoring)
	fmt.Printf("Port monitoring:        %t\n", c.EnablePortMonitoring)
	fmt.Printf("Block monitoring:       %t\n", c.EnableBlockMonitoring)
	fmt.Printf("Transaction monitoring: %t\n", c.EnableTransactionMonitoring)
	fmt.Printf("Consensus monitoring:   %t\n", c.EnableConsensusMonitoring)
	fmt.Printf("Dashboard alerts:       %t\n", c.EnableDashboardAlerts)
	fmt.Printf("Chat notifications:    %t\n", c.EnableChatNotifications)
	fmt.Printf("Metrics URL:            %s\n", c.MetricsURL)
	fmt.Printf("Sentinel values:        %t\n", c.EnableSentinelValues)
	fmt.Printf("Chain manifest:         %s\n", c.ChainManifestPath)
	fmt.Printf("Log level/format:       %s/%s\n", c.LogLevel, c.LogFormat)
	fmt.Println("=============================")
}

// LogConfig writes a structured dump of configuration via the given logger.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Int("scan_interval_s", c.ScanIntervalSeconds).
		Int("blocks_to_scan", c.BlocksToScan).
		Int("block_time_threshold_s", c.BlockTimeThresholdSecs).
		Bool("rpc_monitoring", c.EnableRPCMonitoring).
		Bool("port_monitoring", c.EnablePortMonitoring).
		Bool("block_monitoring", c.EnableBlockMonitoring).
		Bool("transaction_monitoring", c.EnableTransactionMonitoring).
		Bool("consensus_monitoring", c.EnableConsensusMonitoring).
		Bool("dashboard_alerts", c.EnableDashboardAlerts).
		Bool("chat_notifications", c.EnableChatNotifications).
		Str("metrics_url", c.MetricsURL).
		Bool("sentinel_values", c.EnableSentinelValues).
		Str("chain_manifest", c.ChainManifestPath).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
