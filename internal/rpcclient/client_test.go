package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CallSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x64"}`))
	}))
	defer srv.Close()

	c := New(Config{PrimaryURL: srv.URL})
	result, err := c.Call(context.Background(), "eth_blockNumber", nil)
	require.NoError(t, err)
	assert.Equal(t, `"0x64"`, string(result))
}

func TestClient_NullResultIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	}))
	defer srv.Close()

	c := New(Config{PrimaryURL: srv.URL})
	result, err := c.Call(context.Background(), "eth_getBlockByHash", nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(result))
}

func TestClient_FallsThroughToNextURLAfterExhaustingRetries(t *testing.T) {
	var primaryHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	defer fallback.Close()

	c := New(Config{
		PrimaryURL:   primary.URL,
		FallbackURLs: []string{fallback.URL},
		MaxRetries:   2,
		BaseDelay:    time.Millisecond,
	})
	result, err := c.Call(context.Background(), "eth_blockNumber", nil)
	require.NoError(t, err)
	assert.Equal(t, `"0x1"`, string(result))
	assert.Equal(t, int32(2), atomic.LoadInt32(&primaryHits))
}

func TestClient_RpcExhaustedWhenAllURLsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{PrimaryURL: srv.URL, MaxRetries: 2, BaseDelay: time.Millisecond})
	_, err := c.Call(context.Background(), "eth_blockNumber", nil)
	require.Error(t, err)
	var exhausted *RpcExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.URLsTried)
}

func TestClient_RpcErrorObjectIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"boom"}}`))
	}))
	defer srv.Close()

	c := New(Config{PrimaryURL: srv.URL, MaxRetries: 1, BaseDelay: time.Millisecond})
	_, err := c.Call(context.Background(), "eth_blockNumber", nil)
	require.Error(t, err)
}

func TestClient_SetPrimaryAndFallbacks(t *testing.T) {
	c := New(Config{PrimaryURL: "http://a"})
	c.SetPrimary("http://b")
	c.SetFallbacks([]string{"http://c", "http://d"})
	assert.Equal(t, []string{"http://b", "http://c", "http://d"}, c.urls())
}

func TestClampLatency(t *testing.T) {
	assert.Equal(t, int64(0), ClampLatency(-5))
	assert.Equal(t, int64(0), ClampLatency(0))
	assert.Equal(t, int64(42), ClampLatency(42))
}

func TestDecodeIDsAreMonotonic(t *testing.T) {
	var ids []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int64 `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		ids = append(ids, req.ID)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"ok"}`))
	}))
	defer srv.Close()

	c := New(Config{PrimaryURL: srv.URL})
	_, _ = c.Call(context.Background(), "m1", nil)
	_, _ = c.Call(context.Background(), "m2", nil)
	require.Len(t, ids, 2)
	assert.Less(t, ids[0], ids[1])
}
