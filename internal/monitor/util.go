package monitor

import (
	"encoding/json"
	"strconv"
	"strings"
)

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

// parseHexOrDecimalQuantity decodes a JSON-RPC quantity result, which is
// conventionally a "0x..."-prefixed hex string but is accepted as plain
// decimal too for chain-native RPCs that don't follow the Ethereum
// convention.
func parseHexOrDecimalQuantity(raw json.RawMessage) (int64, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			v, err := strconv.ParseInt(s[2:], 16, 64)
			if err != nil {
				return 0, false
			}
			return v, true
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	return 0, false
}
