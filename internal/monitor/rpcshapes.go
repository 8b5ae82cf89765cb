package monitor

import "encoding/json"

// blockResult is the subset of an eth_getBlockByNumber (or chain-native
// equivalent) response this service needs.
type blockResult struct {
	Number       string   `json:"number"`
	Timestamp    string   `json:"timestamp"`
	Transactions []string `json:"transactions"`
	Miner        string   `json:"miner"`
	Round        string   `json:"round,omitempty"`
}

func decodeBlock(raw json.RawMessage) (*blockResult, error) {
	var b blockResult
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func hexOrDecToInt64(s string) int64 {
	v, _ := parseHexOrDecimalQuantity(json.RawMessage(`"` + s + `"`))
	return v
}

// txReceiptResult is the subset of a transaction receipt this service
// needs to classify success/failure.
type txReceiptResult struct {
	Status string `json:"status"`
}

func decodeTxStatus(raw json.RawMessage) (success bool, resolved bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, false
	}
	var r txReceiptResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return false, false
	}
	v := hexOrDecToInt64(r.Status)
	return v == 1, true
}

// missedRoundResult is one entry from the chain's native missed-round
// enumeration query (e.g. XDPoS_getMissedRoundsInEpochByBlockNum).
type missedRoundResult struct {
	Round         int64  `json:"round"`
	ExpectedMiner string `json:"expectedMiner"`
	ActualMiner   string `json:"actualMiner"`
}

func decodeMissedRounds(raw json.RawMessage) ([]missedRoundResult, error) {
	var rounds []missedRoundResult
	if err := json.Unmarshal(raw, &rounds); err != nil {
		return nil, err
	}
	return rounds, nil
}
