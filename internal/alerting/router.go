// Package alerting implements the alert router of spec.md §4.5: a ring
// buffer of recent alerts, per-(type,chainId) throttling, and per-channel
// fan-out delivery. Channel delivery (webhook/chat-bot) is adapted from the
// teacher's Alerter/MultiAlerter/SlackAlerter pattern
// (ws/internal/shared/monitoring/alerting.go); the dashboard channel
// publishes to NATS instead of subscribing, grounded on
// ws/go-server-2/server.go's nats.Connect usage.
package alerting

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chainwatch/netmon/internal/types"
)

// Channel delivers one routed alert to an external system. A delivery
// error is logged and must not abort delivery to other channels.
type Channel interface {
	ID() string
	Kind() types.ChannelKind
	Enabled() bool
	Deliver(alert types.Alert) error
}

// AlertOptions is the caller-facing request to raise an alert.
type AlertOptions struct {
	Severity  types.AlertSeverity
	Category  types.AlertCategory
	Component string
	Title     string
	Message   string
	Metadata  map[string]any
	Channels  []string // optional explicit allowlist
	// ThrottleKey groups this alert with others of the same (type, chainId)
	// for the router-layer throttle window; empty disables throttling.
	ThrottleKey     string
	ThrottleWindow  time.Duration
}

// Router is the single owner of the alert ring buffer. Monitors submit
// alerts; the router stores and fans them out.
type Router struct {
	logger zerolog.Logger

	mu       sync.Mutex
	ring     []types.Alert
	ringCap  int
	lastSent map[string]time.Time // throttleKey -> last successfully routed time
	channels []Channel
	workers  []*channelWorker

	defaultThrottle time.Duration
}

// Config controls ring buffer size and default throttling.
type Config struct {
	RingCapacity    int           // default 1000
	DefaultThrottle time.Duration // default 5m
}

func (c Config) withDefaults() Config {
	if c.RingCapacity <= 0 {
		c.RingCapacity = 1000
	}
	if c.DefaultThrottle <= 0 {
		c.DefaultThrottle = 5 * time.Minute
	}
	return c
}

// New constructs a Router with the given channels already registered. Each
// channel gets its own FIFO worker goroutine so a slow channel can never
// reorder deliveries relative to the order alerts were submitted in
// (spec.md §5).
func New(cfg Config, channels []Channel, logger zerolog.Logger) *Router {
	cfg = cfg.withDefaults()
	r := &Router{
		logger:          logger.With().Str("component", "alert_router").Logger(),
		ringCap:         cfg.RingCapacity,
		lastSent:        make(map[string]time.Time),
		channels:        channels,
		defaultThrottle: cfg.DefaultThrottle,
	}
	for _, ch := range channels {
		w := newChannelWorker(ch, r.logger)
		r.workers = append(r.workers, w)
		go w.run()
	}
	return r
}

// Submit raises an alert. It returns the stored Alert (including its
// generated id) and whether it was actually routed (false if throttled).
func (r *Router) Submit(opts AlertOptions) (types.Alert, bool) {
	now := time.Now()

	if opts.ThrottleKey != "" {
		window := opts.ThrottleWindow
		if window <= 0 {
			window = r.defaultThrottle
		}
		r.mu.Lock()
		last, seen := r.lastSent[opts.ThrottleKey]
		r.mu.Unlock()
		if seen && now.Sub(last) < window {
			return types.Alert{}, false
		}
	}

	alert := types.Alert{
		ID:        generateID(now, opts.Category, opts.Component),
		Severity:  opts.Severity,
		Category:  opts.Category,
		Component: opts.Component,
		Title:     opts.Title,
		Message:   opts.Message,
		CreatedAt: now,
		Metadata:  opts.Metadata,
		Channels:  opts.Channels,
	}

	// Critical alerts are guaranteed into the ring regardless of delivery
	// outcome, per spec.md §3/§8; storing first makes that unconditional.
	r.store(alert)

	r.deliver(alert)

	if opts.ThrottleKey != "" {
		r.mu.Lock()
		r.lastSent[opts.ThrottleKey] = now
		r.mu.Unlock()
	}

	return alert, true
}

func generateID(at time.Time, category types.AlertCategory, component string) string {
	return fmt.Sprintf("%d-%s-%s-%s", at.UnixNano(), category, component, uuid.NewString()[:8])
}

func (r *Router) store(alert types.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring = append(r.ring, alert)
	if len(r.ring) > r.ringCap {
		r.ring = r.ring[len(r.ring)-r.ringCap:]
	}
}

// deliver hands the alert to every eligible channel's own worker, preserving
// submission order per channel: enqueueing is a quick, non-blocking append
// under a per-channel lock, and each channel's single worker goroutine
// drains its queue in FIFO order regardless of how long one delivery takes.
func (r *Router) deliver(alert types.Alert) {
	for _, w := range r.workers {
		if !w.ch.Enabled() {
			continue
		}
		if len(alert.Channels) > 0 && !contains(alert.Channels, w.ch.ID()) {
			continue
		}
		w.enqueue(alert)
	}
}

// channelWorker serializes delivery to one Channel through a FIFO queue
// drained by a single dedicated goroutine, so concurrent Submit calls can
// never race two deliveries to the same channel out of submission order.
type channelWorker struct {
	ch     Channel
	logger zerolog.Logger

	mu     sync.Mutex
	queue  []types.Alert
	notify chan struct{}
}

func newChannelWorker(ch Channel, logger zerolog.Logger) *channelWorker {
	return &channelWorker{
		ch:     ch,
		logger: logger,
		notify: make(chan struct{}, 1),
	}
}

func (w *channelWorker) enqueue(alert types.Alert) {
	w.mu.Lock()
	w.queue = append(w.queue, alert)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// run drains the queue in FIFO order for the lifetime of the process; the
// router has no shutdown path separate from process exit.
func (w *channelWorker) run() {
	for range w.notify {
		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			alert := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()

			if err := w.ch.Deliver(alert); err != nil {
				w.logger.Error().Str("channel", w.ch.ID()).Str("alert_id", alert.ID).Err(err).Msg("notification delivery failed")
			}
		}
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Query filters the current ring buffer snapshot.
type Query struct {
	Severity      *types.AlertSeverity
	Category      *types.AlertCategory
	Component     string
	Acknowledged  *bool
	Since         time.Time
}

// Find returns alerts in the ring matching q, as of this call.
func (r *Router) Find(q Query) []types.Alert {
	r.mu.Lock()
	snapshot := append([]types.Alert(nil), r.ring...)
	r.mu.Unlock()

	var results []types.Alert
	for _, a := range snapshot {
		if q.Severity != nil && a.Severity != *q.Severity {
			continue
		}
		if q.Category != nil && a.Category != *q.Category {
			continue
		}
		if q.Component != "" && a.Component != q.Component {
			continue
		}
		if q.Acknowledged != nil && a.Acknowledged != *q.Acknowledged {
			continue
		}
		if !q.Since.IsZero() && a.CreatedAt.Before(q.Since) {
			continue
		}
		results = append(results, a)
	}
	return results
}

// Acknowledge marks the alert with id as acknowledged. Acknowledging an
// already-acknowledged alert returns true and changes nothing, per
// spec.md §8's idempotence law.
func (r *Router) Acknowledge(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.ring {
		if r.ring[i].ID == id {
			r.ring[i].Acknowledged = true
			return true
		}
	}
	return false
}
