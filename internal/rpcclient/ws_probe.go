package rpcclient

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// ProbeWebSocket probes a websocket-kind endpoint by connection attempt
// only, per spec.md §4.6/§6. It dials, measures latency, and closes
// immediately — no message exchange happens.
func ProbeWebSocket(ctx context.Context, url string, timeout time.Duration) (int64, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(dialCtx, url, nil)
	latency := ClampLatency(time.Since(start).Milliseconds())
	if err != nil {
		return latency, err
	}
	_ = conn.Close()
	return latency, nil
}
