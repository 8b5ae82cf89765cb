// Package metrics implements the metrics sink of spec.md §4.4: a typed
// measurement writer with batched flush, a bounded in-memory buffer during
// store outages, reconnect with exponential backoff, and a sentinel-value
// policy for endpoint-unreachable data points.
//
// The reconnect-with-backoff loop is modeled on the teacher's Kafka
// consumer connect/retry handling (ws/internal/shared/kafka/consumer.go);
// the "one function per metric kind" idiom is kept from
// ws/internal/single/monitoring/metrics.go, retargeted from Prometheus
// registration to Measurement construction.
package metrics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainwatch/netmon/internal/types"
)

// connState is the sink's connection lifecycle state.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// Writer is the transport the sink flushes batches through. A concrete
// HTTP line-protocol poster implements this against the configured
// METRICS_URL; tests supply a fake.
type Writer interface {
	Write(ctx context.Context, batch []types.Measurement) error
	Ping(ctx context.Context) error

	// QueryRecentBlockHeights returns the last observed positive block
	// height for every (endpoint, chainId) with a block_height write since
	// the given cutoff, keyed by cacheKey. It backs the sink's startup
	// cache warm-up (spec.md §4.4, §4.9).
	QueryRecentBlockHeights(ctx context.Context, since time.Time) (map[string]int64, error)
}

// Config controls batching, buffering, and reconnect behavior.
type Config struct {
	BatchSize       int           // default 20
	FlushInterval   time.Duration // default 5s
	BufferCapacity  int           // default 1000
	StartupDelay    time.Duration // default 3s
	ReconnectBase   time.Duration // default 5s
	ReconnectFactor float64       // default 1.5
	ReconnectCap    time.Duration // default 60s
	MaxReconnects   int           // default 10
	WriteRetries    int           // default 5
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = 1000
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = 3 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 5 * time.Second
	}
	if c.ReconnectFactor <= 0 {
		c.ReconnectFactor = 1.5
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 60 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 10
	}
	if c.WriteRetries <= 0 {
		c.WriteRetries = 5
	}
	return c
}

// SentinelPolicy configures the scalar values the sink substitutes when a
// real observation could not be made.
type SentinelPolicy struct {
	Enabled      bool
	PeerCount    int64
	Latency      int64
	StatusDown   int64
}

// Sink is the single owner of its outbound measurement buffer. Producers
// call its typed emitter methods (see emitters.go); a background flusher
// goroutine is the buffer's only consumer.
type Sink struct {
	cfg      Config
	sentinel SentinelPolicy
	writer   Writer
	logger   zerolog.Logger

	mu            sync.Mutex
	buffer        []types.Measurement
	state         connState
	droppedLogged bool

	lastGoodHeight map[string]int64 // key: chainId:endpoint

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Sink. Call Start to begin the connect/flush loop.
func New(cfg Config, sentinel SentinelPolicy, writer Writer, logger zerolog.Logger) *Sink {
	return &Sink{
		cfg:            cfg.withDefaults(),
		sentinel:       sentinel,
		writer:         writer,
		logger:         logger.With().Str("component", "metrics_sink").Logger(),
		lastGoodHeight: make(map[string]int64),
	}
}

// WarmCache seeds the last-known-good block-height cache. WarmFromStore
// calls it at startup with the last 24h of block-height writes in the store.
func (s *Sink) WarmCache(heights map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range heights {
		s.lastGoodHeight[k] = v
	}
}

// WarmFromStore queries the last 24h of block-height writes from the store
// and seeds the sentinel cache from them. It is the scheduler's second
// startup warm-up step, run after the sink itself is reachable (spec.md
// §4.4, §4.9).
func (s *Sink) WarmFromStore(ctx context.Context) error {
	heights, err := s.writer.QueryRecentBlockHeights(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to warm block-height cache from store, starting with an empty cache")
		return nil
	}
	s.WarmCache(heights)
	s.logger.Info().Int("cached_series", len(heights)).Msg("warmed block-height cache from store history")
	return nil
}

// Start begins the background connect-and-flush loop.
func (s *Sink) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals shutdown and flushes the buffer with a bounded deadline.
// Only a connected sink flushes: measurements still buffered when Stop is
// called during the startup delay or while disconnected are not written.
func (s *Sink) Stop(flushDeadline time.Duration) {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(flushDeadline):
		s.logger.Warn().Msg("metrics sink shutdown deadline exceeded, abandoning remaining flush")
	}
}

func (s *Sink) run(ctx context.Context) {
	defer s.wg.Done()

	select {
	case <-time.After(s.cfg.StartupDelay):
	case <-ctx.Done():
		return
	}

	if !s.connectWithBackoff(ctx) {
		return
	}

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for {
				s.mu.Lock()
				pending := len(s.buffer)
				s.mu.Unlock()
				if pending == 0 || s.currentState() != stateConnected {
					break
				}
				s.flush(context.Background())
			}
			return
		case <-ticker.C:
			if s.currentState() != stateConnected {
				if !s.connectWithBackoff(ctx) {
					return
				}
				continue
			}
			s.flush(ctx)
		}
	}
}

func (s *Sink) currentState() connState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// connectWithBackoff attempts to (re)connect, backing off
// ReconnectBase * ReconnectFactor^(attempt-1), capped at ReconnectCap, up to
// MaxReconnects attempts, then resets and retries indefinitely (spec.md
// §4.4: "then reset and retry").
func (s *Sink) connectWithBackoff(ctx context.Context) bool {
	s.setState(stateConnecting)
	attempt := 0
	for {
		if err := s.writer.Ping(ctx); err == nil {
			s.setState(stateConnected)
			s.drainBuffer(ctx)
			return true
		}
		attempt++
		delay := s.cfg.ReconnectBase
		for i := 1; i < attempt; i++ {
			delay = time.Duration(float64(delay) * s.cfg.ReconnectFactor)
			if delay > s.cfg.ReconnectCap {
				delay = s.cfg.ReconnectCap
				break
			}
		}
		if attempt >= s.cfg.MaxReconnects {
			attempt = 0
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
}

func (s *Sink) setState(state connState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// drainBuffer writes out everything buffered while disconnected, in
// insertion order, before accepting new measurements for direct write.
func (s *Sink) drainBuffer(ctx context.Context) {
	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.droppedLogged = false
	s.mu.Unlock()

	for len(pending) > 0 {
		end := len(pending)
		if end > s.cfg.BatchSize {
			end = s.cfg.BatchSize
		}
		batch := pending[:end]
		pending = pending[end:]
		s.writeWithRetry(ctx, batch)
	}
}

// Record enqueues one measurement. If the sink is disconnected, it goes
// into the bounded buffer (drop-oldest on overflow); otherwise it will be
// picked up by the next scheduled flush.
func (s *Sink) Record(m types.Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, m)
	if len(s.buffer) > s.cfg.BufferCapacity {
		overflow := len(s.buffer) - s.cfg.BufferCapacity
		s.buffer = s.buffer[overflow:]
		if !s.droppedLogged {
			s.logger.Warn().Int("capacity", s.cfg.BufferCapacity).Msg("metrics buffer overflowed, dropping oldest measurements")
			s.droppedLogged = true
		}
	}
}

// flush is a no-op on an empty buffer (per spec.md §8's idempotence law).
func (s *Sink) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	end := s.cfg.BatchSize
	if end > len(s.buffer) {
		end = len(s.buffer)
	}
	batch := append([]types.Measurement(nil), s.buffer[:end]...)
	s.buffer = s.buffer[end:]
	s.mu.Unlock()

	if err := s.writeWithRetry(ctx, batch); err != nil {
		s.mu.Lock()
		s.buffer = append(batch, s.buffer...)
		s.mu.Unlock()
		s.setState(stateDisconnected)
	}
}

func (s *Sink) writeWithRetry(ctx context.Context, batch []types.Measurement) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.WriteRetries; attempt++ {
		if err := s.writer.Write(ctx, batch); err == nil {
			s.droppedLogged = false
			return nil
		} else {
			lastErr = err
		}
		jitter := time.Duration(50+attempt*25) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
	}
	s.logger.Error().Err(lastErr).Int("batch_size", len(batch)).Msg("metrics write failed after retries")
	return lastErr
}

// cacheKey builds the per-(endpoint,chainId) key for the last-known-good
// height cache.
func cacheKey(chainID int64, endpoint string) string {
	return endpoint + "|" + strconv.FormatInt(chainID, 10)
}
