package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Scenario E (spec.md §8): masternode list [M0..M9], expected=M5, actual=M3
// -> skippedCount=2 (the forward path), not the 8-step wraparound.
func TestSkippedMinerCount_ScenarioE(t *testing.T) {
	cm := &ConsensusMonitor{cfg: ConsensusMonitorConfig{
		MasternodeList: []string{"M0", "M1", "M2", "M3", "M4", "M5", "M6", "M7", "M8", "M9"},
	}}
	assert.Equal(t, 2, cm.skippedMinerCount("M5", "M3"))
}

func TestSkippedMinerCount_NoWrapNeeded(t *testing.T) {
	cm := &ConsensusMonitor{cfg: ConsensusMonitorConfig{
		MasternodeList: []string{"M0", "M1", "M2", "M3", "M4"},
	}}
	assert.Equal(t, 2, cm.skippedMinerCount("M3", "M1"))
}

func TestSkippedMinerCount_UnknownMinerFallsBackToOne(t *testing.T) {
	cm := &ConsensusMonitor{cfg: ConsensusMonitorConfig{
		MasternodeList: []string{"M0", "M1", "M2"},
	}}
	assert.Equal(t, 1, cm.skippedMinerCount("M0", "unknown"))
}

func TestSkippedMinerCount_NoMasternodeListFallsBackToOne(t *testing.T) {
	cm := &ConsensusMonitor{}
	assert.Equal(t, 1, cm.skippedMinerCount("a", "b"))
}

func TestMasternodeIndex(t *testing.T) {
	list := []string{"a", "b", "c"}
	assert.Equal(t, 0, masternodeIndex(list, "a"))
	assert.Equal(t, 2, masternodeIndex(list, "c"))
	assert.Equal(t, -1, masternodeIndex(list, "z"))
}
