package monitor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHexOrDecimalQuantity(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{`"0x64"`, 100, true},
		{`"0X64"`, 100, true},
		{`"100"`, 100, true},
		{`100`, 100, true},
		{`"not-a-number"`, 0, false},
	}
	for _, c := range cases {
		got, ok := parseHexOrDecimalQuantity(json.RawMessage(c.raw))
		assert.Equal(t, c.ok, ok, c.raw)
		if c.ok {
			assert.Equal(t, c.want, got, c.raw)
		}
	}
}

func TestHexOrDecToInt64(t *testing.T) {
	assert.Equal(t, int64(100), hexOrDecToInt64("0x64"))
	assert.Equal(t, int64(22), hexOrDecToInt64("22"))
}

func TestDecodeBlock(t *testing.T) {
	raw := json.RawMessage(`{"number":"0x64","timestamp":"0x16","transactions":["0xa","0xb"],"miner":"0xM1","round":"7"}`)
	b, err := decodeBlock(raw)
	assert.NoError(t, err)
	assert.Equal(t, "0x64", b.Number)
	assert.Equal(t, "0xM1", b.Miner)
	assert.Len(t, b.Transactions, 2)
}

func TestDecodeTxStatus(t *testing.T) {
	success, resolved := decodeTxStatus(json.RawMessage(`{"status":"0x1"}`))
	assert.True(t, resolved)
	assert.True(t, success)

	failed, resolved := decodeTxStatus(json.RawMessage(`{"status":"0x0"}`))
	assert.True(t, resolved)
	assert.False(t, failed)

	_, resolved = decodeTxStatus(json.RawMessage(`null`))
	assert.False(t, resolved)

	_, resolved = decodeTxStatus(nil)
	assert.False(t, resolved)
}

func TestDecodeMissedRounds(t *testing.T) {
	raw := json.RawMessage(`[{"round":7,"expectedMiner":"M5","actualMiner":"M3"}]`)
	rounds, err := decodeMissedRounds(raw)
	assert.NoError(t, err)
	assert.Len(t, rounds, 1)
	assert.Equal(t, int64(7), rounds[0].Round)
}
