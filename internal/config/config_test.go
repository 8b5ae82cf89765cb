package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ScanIntervalConversion(t *testing.T) {
	c := &Config{ScanIntervalSeconds: 15, BlockTimeThresholdSecs: 2}
	assert.Equal(t, 15*time.Second, c.ScanInterval())
	assert.Equal(t, 2*time.Second, c.BlockTimeThreshold())
}

func TestConfig_ConsensusChainIDs(t *testing.T) {
	c := &Config{ConsensusMonitoringChainIDs: "50, 51,  52"}
	assert.Equal(t, []int64{50, 51, 52}, c.ConsensusChainIDs())

	empty := &Config{}
	assert.Nil(t, empty.ConsensusChainIDs())
}

func validConfig() *Config {
	return &Config{
		ScanIntervalSeconds:   15,
		BlocksToScan:          10,
		BlockTimeThresholdSecs: 2,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

func TestConfig_ValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestConfig_ValidateRejectsZeroScanInterval(t *testing.T) {
	c := validConfig()
	c.ScanIntervalSeconds = 0
	assert.Error(t, c.Validate())
}

func TestConfig_ValidateRejectsZeroBlocksToScan(t *testing.T) {
	c := validConfig()
	c.BlocksToScan = 0
	assert.Error(t, c.Validate())
}

func TestConfig_ValidateRejectsNegativeBlockTimeThreshold(t *testing.T) {
	c := validConfig()
	c.BlockTimeThresholdSecs = -1
	assert.Error(t, c.Validate())
}

func TestConfig_ValidateRejectsUnknownLogLevel(t *testing.T) {
	c := validConfig()
	c.LogLevel = "verbose"
	assert.Error(t, c.Validate())
}

func TestConfig_ValidateRejectsUnknownLogFormat(t *testing.T) {
	c := validConfig()
	c.LogFormat = "xml"
	assert.Error(t, c.Validate())
}

func TestConfig_ValidateRequiresChatBotTokenWhenEnabled(t *testing.T) {
	c := validConfig()
	c.EnableChatNotifications = true
	c.ChatBotToken = ""
	assert.Error(t, c.Validate())

	c.ChatBotToken = "secret"
	assert.NoError(t, c.Validate())
}

func TestLoad_ParsesEnvironmentOverrides(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "30")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CHAIN_MANIFEST_PATH", "testdata/chains.yaml")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.ScanIntervalSeconds)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "testdata/chains.yaml", cfg.ChainManifestPath)
}

func TestLoad_FailsValidationOnBadOverride(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "0")
	_, err := Load(nil)
	assert.Error(t, err)
}
