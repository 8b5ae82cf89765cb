package alerting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/chainwatch/netmon/internal/types"
)

// outboundRate is the sustained/burst token-bucket cap applied to outbound
// webhook and chat-bot deliveries, grounded on the teacher's
// ConnectionRateLimiter (ws/internal/shared/limits/connection_rate_limiter.go),
// repurposed from inbound connection throttling to outbound notification
// throttling so a noisy alert storm cannot hammer an external endpoint.
const (
	outboundRateLimit = 5 // deliveries/sec
	outboundBurst     = 10
)

// WebhookChannel posts the alert envelope of spec.md §4.5 to a configured
// webhook URL. Adapted from the teacher's SlackAlerter, generalized beyond
// the Slack-specific payload shape to the plain envelope the spec names.
type WebhookChannel struct {
	id      string
	url     string
	enabled bool
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhookChannel builds a webhook notification channel.
func NewWebhookChannel(id, url string, enabled bool) *WebhookChannel {
	return &WebhookChannel{
		id: id, url: url, enabled: enabled,
		client:  &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(outboundRateLimit), outboundBurst),
	}
}

func (w *WebhookChannel) ID() string               { return w.id }
func (w *WebhookChannel) Kind() types.ChannelKind   { return types.ChannelWebhook }
func (w *WebhookChannel) Enabled() bool             { return w.enabled && w.url != "" }

type webhookEnvelope struct {
	Alert webhookAlert `json:"alert"`
}

type webhookAlert struct {
	ID        string         `json:"id"`
	Severity  string         `json:"severity"`
	Category  string         `json:"category"`
	Component string         `json:"component"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

func (w *WebhookChannel) Deliver(alert types.Alert) error {
	if !w.limiter.Allow() {
		return fmt.Errorf("webhook delivery rate limit exceeded")
	}
	payload := webhookEnvelope{Alert: webhookAlert{
		ID:        alert.ID,
		Severity:  string(alert.Severity),
		Category:  string(alert.Category),
		Component: alert.Component,
		Title:     alert.Title,
		Message:   alert.Message,
		Timestamp: alert.CreatedAt,
		Metadata:  alert.Metadata,
	}}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ChatBotChannel posts a human-readable message to a chat-bot API,
// mirroring the teacher's SlackAlerter text formatting.
type ChatBotChannel struct {
	id      string
	botURL  string
	token   string
	channel string
	enabled bool
	client  *http.Client
	limiter *rate.Limiter
}

// NewChatBotChannel builds a chat-bot notification channel.
func NewChatBotChannel(id, botURL, token, channel string, enabled bool) *ChatBotChannel {
	return &ChatBotChannel{
		id: id, botURL: botURL, token: token, channel: channel, enabled: enabled,
		client:  &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(outboundRateLimit), outboundBurst),
	}
}

func (c *ChatBotChannel) ID() string             { return c.id }
func (c *ChatBotChannel) Kind() types.ChannelKind { return types.ChannelChatBot }
func (c *ChatBotChannel) Enabled() bool           { return c.enabled && c.token != "" }

func (c *ChatBotChannel) Deliver(alert types.Alert) error {
	if !c.limiter.Allow() {
		return fmt.Errorf("chat-bot delivery rate limit exceeded")
	}
	text := fmt.Sprintf("[%s/%s] %s: %s", alert.Severity, alert.Category, alert.Title, alert.Message)
	payload := map[string]any{"channel": c.channel, "text": text}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal chat-bot payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.botURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chat-bot request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post chat-bot message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat-bot api returned status %d", resp.StatusCode)
	}
	return nil
}

// DashboardChannel publishes routed alerts to a NATS subject for the
// out-of-scope HTTP/dashboard adapter to subscribe to. Grounded on
// ws/go-server-2/server.go's nats.Connect(MaxReconnects, ReconnectWait)
// usage, repurposed from Subscribe to Publish.
type DashboardChannel struct {
	id      string
	conn    *nats.Conn
	subject string
	enabled bool
}

// NewDashboardChannel connects to NATS and returns a dashboard channel
// publishing every alert to the given subject, unchanged.
func NewDashboardChannel(id, natsURL, subject string, enabled bool) (*DashboardChannel, error) {
	if !enabled || natsURL == "" {
		return &DashboardChannel{id: id, subject: subject, enabled: false}, nil
	}
	conn, err := nats.Connect(natsURL, nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &DashboardChannel{id: id, conn: conn, subject: subject, enabled: true}, nil
}

func (d *DashboardChannel) ID() string             { return d.id }
func (d *DashboardChannel) Kind() types.ChannelKind { return types.ChannelDashboard }
func (d *DashboardChannel) Enabled() bool           { return d.enabled && d.conn != nil }

func (d *DashboardChannel) Deliver(alert types.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal dashboard alert: %w", err)
	}
	if err := d.conn.Publish(d.subject, body); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	return nil
}

// Close releases the underlying NATS connection, if any.
func (d *DashboardChannel) Close() {
	if d.conn != nil {
		d.conn.Close()
	}
}
