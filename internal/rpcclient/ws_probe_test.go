package rpcclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeWebSocket_SuccessfulDialMeasuresLatency(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		time.Sleep(5 * time.Millisecond)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	latency, err := ProbeWebSocket(context.Background(), url, time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latency, int64(0))
}

func TestProbeWebSocket_UnreachableReturnsError(t *testing.T) {
	_, err := ProbeWebSocket(context.Background(), "ws://127.0.0.1:1", 200*time.Millisecond)
	assert.Error(t, err)
}

func TestProbeWebSocket_HandshakeRejectionReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, err := ProbeWebSocket(context.Background(), url, time.Second)
	assert.Error(t, err)
}
