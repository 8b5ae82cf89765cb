package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chainwatch/netmon/internal/types"
)

// HTTPWriter posts batches to an external time-series store over HTTP,
// using line-protocol-style records. The store's own wire format is out of
// scope (spec.md §1); this transport mirrors the pooled-client idiom the
// RPC client uses rather than inventing a vendor-specific SDK dependency
// the example pack never demonstrates.
type HTTPWriter struct {
	url    string
	token  string
	org    string
	bucket string
	client *http.Client
}

// NewHTTPWriter builds a Writer targeting the configured store.
func NewHTTPWriter(url, token, org, bucket string) *HTTPWriter {
	return &HTTPWriter{
		url:    url,
		token:  token,
		org:    org,
		bucket: bucket,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Ping checks store reachability without writing data.
func (w *HTTPWriter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("store unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Write posts one batch of measurements as newline-delimited line-protocol
// records.
func (w *HTTPWriter) Write(ctx context.Context, batch []types.Measurement) error {
	var buf bytes.Buffer
	for _, m := range batch {
		buf.WriteString(encodeLine(m))
		buf.WriteByte('\n')
	}

	endpoint := fmt.Sprintf("%s/write?org=%s&bucket=%s", w.url, w.org, w.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return fmt.Errorf("build write request: %w", err)
	}
	if w.token != "" {
		req.Header.Set("Authorization", "Token "+w.token)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("store rejected write: status %d", resp.StatusCode)
	}
	return nil
}

// blockHeightRow is one row of the store's query response for the
// block_height measurement, keyed by endpoint and chainId.
type blockHeightRow struct {
	Endpoint string `json:"endpoint"`
	ChainID  int64  `json:"chainId"`
	Height   int64  `json:"height"`
}

// QueryRecentBlockHeights asks the store for the last positive block_height
// write per (endpoint, chainId) since the given cutoff, used to warm the
// sink's sentinel cache at startup (spec.md §4.4, §4.9).
func (w *HTTPWriter) QueryRecentBlockHeights(ctx context.Context, since time.Time) (map[string]int64, error) {
	endpoint := fmt.Sprintf("%s/query?org=%s&bucket=%s&measurement=block_height&since=%d",
		w.url, w.org, w.bucket, since.Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	if w.token != "" {
		req.Header.Set("Authorization", "Token "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("store rejected query: status %d", resp.StatusCode)
	}

	var rows []blockHeightRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		if r.Height <= 0 {
			continue
		}
		out[cacheKey(r.ChainID, r.Endpoint)] = r.Height
	}
	return out, nil
}

func encodeLine(m types.Measurement) string {
	var tags strings.Builder
	for k, v := range m.Tags {
		tags.WriteByte(',')
		tags.WriteString(k)
		tags.WriteByte('=')
		tags.WriteString(v)
	}
	var fields strings.Builder
	first := true
	for k, v := range m.Fields {
		if !first {
			fields.WriteByte(',')
		}
		first = false
		fmt.Fprintf(&fields, "%s=%v", k, v)
	}
	return fmt.Sprintf("%s%s %s %d", m.Name, tags.String(), fields.String(), m.Timestamp.UnixNano())
}
