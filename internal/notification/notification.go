// Package notification pushes operational alerts to configured webhooks:
// trade opens and closes, hedge failures, retry exhaustion and allocator
// denials. Delivery is best-effort and never blocks the trading path.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/events"
	"futures-hedge-bot/internal/logging"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyTradeOpen       NotificationType = "trade_open"
	NotifyTradeClose      NotificationType = "trade_close"
	NotifyHedgeOpened     NotificationType = "hedge_opened"
	NotifyHedgeRejected   NotificationType = "hedge_rejected"
	NotifyRetryExhausted  NotificationType = "retry_exhausted"
	NotifyAllocatorDenied NotificationType = "allocator_denied"
	NotifyCircuitTripped  NotificationType = "circuit_tripped"
	NotifyError           NotificationType = "error"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Pair      string
	Price     float64
	PnL       float64
	Timestamp time.Time
	Extra     map[string]interface{}
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager manages multiple notification providers
type Manager struct {
	notifiers []Notifier
	enabled   bool
	log       *logging.Logger
}

// NewManager builds a manager with one webhook notifier per configured
// target. A disabled config yields a manager that silently drops.
func NewManager(cfg config.NotificationConfig) *Manager {
	m := &Manager{
		notifiers: make([]Notifier, 0, len(cfg.Webhooks)),
		enabled:   cfg.Enabled,
		log:       logging.Default().WithComponent("notification"),
	}
	for _, target := range cfg.Webhooks {
		m.AddNotifier(NewWebhookNotifier(target))
	}
	return m
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers
func (m *Manager) Send(notification *Notification) error {
	if !m.enabled {
		return nil
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}

	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				m.log.Warn("notifier send failed", "notifier", n.Name(), "error", err)
				lastErr = err
			}
		}
	}
	return lastErr
}

// SendTradeOpen sends a position opened notification
func (m *Manager) SendTradeOpen(pair, role, side string, price, size, leverage float64) error {
	return m.Send(&Notification{
		Type:    NotifyTradeOpen,
		Title:   fmt.Sprintf("📈 Position Opened: %s", pair),
		Message: fmt.Sprintf("%s %s %s @ %.4f\nSize: %.0f%% x%.0f", role, side, pair, price, size*100, leverage),
		Pair:    pair,
		Price:   price,
	})
}

// SendTradeClose sends a position closed notification
func (m *Manager) SendTradeClose(pair, reason string, entryPrice, exitPrice, pnl float64) error {
	emoji := "✅"
	if pnl < 0 {
		emoji = "❌"
	}

	return m.Send(&Notification{
		Type:    NotifyTradeClose,
		Title:   fmt.Sprintf("%s Position Closed: %s", emoji, pair),
		Message: fmt.Sprintf("Entry: %.4f / Exit: %.4f\nP&L: %.4f\nReason: %s", entryPrice, exitPrice, pnl, reason),
		Pair:    pair,
		Price:   exitPrice,
		PnL:     pnl,
	})
}

// SendHedgeOpened reports a hedge successfully covering its primary,
// the all-clear after a rejection or retry alert.
func (m *Manager) SendHedgeOpened(pair, primaryID, method string, guarantee float64) error {
	return m.Send(&Notification{
		Type:    NotifyHedgeOpened,
		Title:   fmt.Sprintf("🛡️ Hedge Opened: %s", pair),
		Message: fmt.Sprintf("Primary %s covered via %s\nGuarantee: %.4f", primaryID, method, guarantee),
		Pair:    pair,
	})
}

// SendHedgeRejected reports a hedge the guarantee calculator refused.
// The primary is running uncovered until the operator intervenes.
func (m *Manager) SendHedgeRejected(pair, primaryID, reason string) error {
	return m.Send(&Notification{
		Type:    NotifyHedgeRejected,
		Title:   fmt.Sprintf("🛑 Hedge Rejected: %s", pair),
		Message: fmt.Sprintf("Primary %s is UNCOVERED\nReason: %s", primaryID, reason),
		Pair:    pair,
	})
}

// SendRetryExhausted reports the backoff phase running out, after which
// the monitor keeps retrying on its slow continuous cadence.
func (m *Manager) SendRetryExhausted(pair, primaryID string, attempts int) error {
	return m.Send(&Notification{
		Type:    NotifyRetryExhausted,
		Title:   fmt.Sprintf("⚠️ Hedge Retries Exhausted: %s", pair),
		Message: fmt.Sprintf("Primary %s still uncovered after %d attempts, switching to continuous retry", primaryID, attempts),
		Pair:    pair,
	})
}

// SendAllocatorDenied reports a primary refused for lack of slots.
func (m *Manager) SendAllocatorDenied(pair, role, reason string) error {
	return m.Send(&Notification{
		Type:    NotifyAllocatorDenied,
		Title:   fmt.Sprintf("⛔ Entry Denied: %s", pair),
		Message: fmt.Sprintf("%s entry refused\n%s", role, reason),
		Pair:    pair,
	})
}

// SendError sends an error notification
func (m *Manager) SendError(title, message string) error {
	return m.Send(&Notification{
		Type:    NotifyError,
		Title:   fmt.Sprintf("⚠️ %s", title),
		Message: message,
	})
}

// BindBus subscribes the manager to the alert-worthy bus events so
// publishers stay decoupled from delivery.
func (m *Manager) BindBus(bus *events.Bus) {
	if bus == nil {
		return
	}

	bus.Subscribe(events.EventPositionOpened, func(e events.Event) {
		m.SendTradeOpen(
			str(e.Data, "pair"), str(e.Data, "role"), str(e.Data, "side"),
			num(e.Data, "entry_price"), num(e.Data, "size"), num(e.Data, "leverage"))
	})
	bus.Subscribe(events.EventPositionClosed, func(e events.Event) {
		m.SendTradeClose(
			str(e.Data, "pair"), str(e.Data, "reason"),
			num(e.Data, "entry_price"), num(e.Data, "exit_price"), num(e.Data, "pnl"))
	})
	bus.Subscribe(events.EventHedgeOpened, func(e events.Event) {
		m.SendHedgeOpened(
			str(e.Data, "pair"), str(e.Data, "primary_id"),
			str(e.Data, "method"), num(e.Data, "guarantee"))
	})
	bus.Subscribe(events.EventHedgeRejected, func(e events.Event) {
		m.SendHedgeRejected(str(e.Data, "pair"), str(e.Data, "primary_id"), str(e.Data, "reason"))
	})
	bus.Subscribe(events.EventRetryContinuous, func(e events.Event) {
		m.SendRetryExhausted(str(e.Data, "pair"), str(e.Data, "primary_id"), intOf(e.Data, "attempts"))
	})
	bus.Subscribe(events.EventAllocatorDenied, func(e events.Event) {
		m.SendAllocatorDenied(str(e.Data, "pair"), str(e.Data, "role"), str(e.Data, "reason"))
	})
	bus.Subscribe(events.EventCircuitTripped, func(e events.Event) {
		m.Send(&Notification{
			Type:    NotifyCircuitTripped,
			Title:   "🔌 Circuit Breaker Tripped",
			Message: str(e.Data, "reason"),
		})
	})
}

func str(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func num(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func intOf(data map[string]interface{}, key string) int {
	return int(num(data, key))
}

// WebhookNotifier posts notifications as JSON to a Discord or
// Slack-compatible webhook URL.
type WebhookNotifier struct {
	name       string
	webhookURL string
	enabled    bool
	client     *http.Client
}

// NewWebhookNotifier creates a webhook notifier for one target.
func NewWebhookNotifier(target config.WebhookTarget) *WebhookNotifier {
	name := target.Name
	if name == "" {
		name = "webhook"
	}
	return &WebhookNotifier{
		name:       name,
		webhookURL: target.URL,
		enabled:    target.URL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string {
	return w.name
}

func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

func (w *WebhookNotifier) Send(notification *Notification) error {
	if !w.enabled {
		return nil
	}

	text := fmt.Sprintf("**%s**\n%s", notification.Title, notification.Message)

	// Discord reads "content", Slack reads "text"; sending both keeps
	// one payload shape for either service.
	payload := map[string]interface{}{
		"content": text,
		"text":    strings.ReplaceAll(text, "**", "*"),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	resp, err := w.client.Post(w.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
