package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/chainwatch/netmon/internal/alerting"
	"github.com/chainwatch/netmon/internal/config"
	"github.com/chainwatch/netmon/internal/logging"
	"github.com/chainwatch/netmon/internal/metrics"
	"github.com/chainwatch/netmon/internal/monitor"
	"github.com/chainwatch/netmon/internal/rpcclient"
	"github.com/chainwatch/netmon/internal/scheduler"
	"github.com/chainwatch/netmon/internal/sysmon"
	"github.com/chainwatch/netmon/internal/types"
)

func main() {
	var debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	bootstrap := logging.New(logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON})

	maxProcs := runtime.GOMAXPROCS(0)
	bootstrap.Info().Int("gomaxprocs", maxProcs).Msg("starting netmon")

	cfg, err := config.Load(&bootstrap)
	if err != nil {
		bootstrap.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	cfg.Print()

	logger := logging.New(logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
	cfg.LogConfig(logger)

	chains, err := config.LoadChainManifest(cfg.ChainManifestPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load chain manifest")
	}
	logger.Info().Int("chain_count", len(chains)).Msg("loaded chain manifest")

	channels := buildChannels(cfg, logger)

	router := alerting.New(alerting.Config{}, channels, logger)

	sentinel := metrics.SentinelPolicy{
		Enabled:    cfg.EnableSentinelValues,
		PeerCount:  cfg.SentinelPeerCount,
		Latency:    cfg.SentinelLatency,
		StatusDown: cfg.SentinelStatusDown,
	}
	writer := metrics.NewHTTPWriter(cfg.MetricsURL, cfg.MetricsToken, cfg.MetricsOrg, cfg.MetricsBucket)
	sink := metrics.New(metrics.Config{}, sentinel, writer, logger)

	endpointMon := monitor.NewEndpointMonitor(monitor.EndpointMonitorConfig{
		ProbeInterval: cfg.ScanInterval(),
	}, chains, sink, logger)

	sys, err := sysmon.New(sysmon.Config{
		Interval:     time.Duration(cfg.SystemHealthIntervalSeconds) * time.Second,
		MemoryWarnMB: float64(cfg.SystemMemoryWarnMB),
	}, int32(os.Getpid()), sink, router, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize self-process health monitor")
	}

	sched := scheduler.New(scheduler.Config{}, sink, logger)

	if cfg.EnableRPCMonitoring || cfg.EnablePortMonitoring {
		sched.Register("endpoint_monitor", endpointMon)
	}

	if cfg.EnableBlockMonitoring || cfg.EnableTransactionMonitoring {
		blockMon := monitor.NewBlockMonitor(monitor.BlockMonitorConfig{
			ScanInterval:          cfg.ScanInterval(),
			SyncLagWarningBlocks:  100,
			SyncLagCriticalBlocks: 1000,
			BlockTimeThreshold:    cfg.BlockTimeThreshold(),
		}, chains, endpointMon, sink, router, logger)
		sched.Register("block_monitor", blockMon)
	}

	if cfg.EnableConsensusMonitoring {
		registerConsensusMonitors(sched, cfg, chains, sink, router, logger)
	}

	sched.Register("sysmon", sys)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx,
		func(ctx context.Context) error {
			sink.Start(ctx)
			return nil
		},
		func(ctx context.Context) error {
			return sink.WarmFromStore(ctx)
		},
	); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutdown signal received")
	sched.Shutdown()
}

func buildChannels(cfg *config.Config, logger zerolog.Logger) []alerting.Channel {
	var channels []alerting.Channel

	if cfg.NotificationWebhookURL != "" {
		channels = append(channels, alerting.NewWebhookChannel("webhook", cfg.NotificationWebhookURL, true))
	}
	if cfg.EnableChatNotifications {
		channels = append(channels, alerting.NewChatBotChannel("chat-bot", cfg.ChatBotURL, cfg.ChatBotToken, cfg.ChatBotChannel, true))
	}
	if cfg.EnableDashboardAlerts && cfg.DashboardNatsURL != "" {
		dash, err := alerting.NewDashboardChannel("dashboard", cfg.DashboardNatsURL, "netmon.alerts", true)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize dashboard alert channel, disabling it")
		} else {
			channels = append(channels, dash)
		}
	}
	return channels
}

func registerConsensusMonitors(sched *scheduler.Scheduler, cfg *config.Config, chains []types.ChainDescriptor, sink *metrics.Sink, router *alerting.Router, logger zerolog.Logger) {
	targets := map[int64]bool{}
	for _, id := range cfg.ConsensusChainIDs() {
		targets[id] = true
	}
	for _, chain := range chains {
		if len(targets) > 0 && !targets[chain.ChainID] {
			continue
		}
		if len(chain.Endpoints) == 0 {
			continue
		}
		client := rpcclient.New(rpcclient.Config{PrimaryURL: chain.Endpoints[0].URL})
		cm := monitor.NewConsensusMonitor(monitor.ConsensusMonitorConfig{
			ScanInterval:   cfg.ConsensusScanInterval,
			MasternodeList: chain.Masternodes,
		}, chain.ChainID, client, sink, router, logger)
		sched.Register("consensus_monitor", cm)
	}
}
