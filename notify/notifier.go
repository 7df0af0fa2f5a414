// Package notify delivers best-effort notifications when the triage
// pipeline produces something an on-call analyst should see immediately.
// Delivery failures are logged and counted, never propagated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"aegis/config"
	"aegis/core"
	"aegis/metrics"

	"go.uber.org/zap"
)

const defaultWebhookTimeout = 10 * time.Second

// Notifier sends playbook-generation notifications over the configured
// channels. Each channel carries its own circuit breaker so a dead webhook
// endpoint stops consuming request timeouts.
type Notifier struct {
	cfg        *config.Config
	logger     *zap.SugaredLogger
	httpClient *http.Client

	circuitBreakers map[string]*core.CircuitBreaker
	cbMu            sync.RWMutex
}

// NewNotifier creates a notifier from config.
func NewNotifier(cfg *config.Config, logger *zap.SugaredLogger) *Notifier {
	if cfg == nil {
		panic("config is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	timeout := cfg.Notifications.Webhook.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	return &Notifier{
		cfg:             cfg,
		logger:          logger,
		httpClient:      &http.Client{Timeout: timeout},
		circuitBreakers: make(map[string]*core.CircuitBreaker),
	}
}

// getOrCreateCircuitBreaker gets or creates a circuit breaker for a
// notification channel.
func (n *Notifier) getOrCreateCircuitBreaker(key string) *core.CircuitBreaker {
	n.cbMu.RLock()
	cb, exists := n.circuitBreakers[key]
	n.cbMu.RUnlock()

	if exists {
		return cb
	}

	n.cbMu.Lock()
	defer n.cbMu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists := n.circuitBreakers[key]; exists {
		return cb
	}

	cb, err := core.NewCircuitBreaker(core.CircuitBreakerConfig{
		MaxFailures:         3,
		Timeout:             60 * time.Second,
		MaxHalfOpenRequests: 1,
	})
	if err != nil {
		// hardcoded config, always valid
		panic(fmt.Sprintf("notification circuit breaker: %v", err))
	}
	n.circuitBreakers[key] = cb
	n.logger.Infow("Created circuit breaker for notification channel", "channel", key)
	return cb
}

// NotifyPlaybooksGenerated announces freshly generated playbooks for an
// alert at or above the configured severity. All channel failures are
// swallowed.
func (n *Notifier) NotifyPlaybooksGenerated(alert *core.Alert, playbooks []*core.Playbook) {
	if alert == nil || len(playbooks) == 0 {
		return
	}
	if !n.cfg.Notifications.Enabled {
		return
	}
	if alert.Severity < n.cfg.Notifications.MinSeverity {
		return
	}

	if n.cfg.Notifications.Webhook.URL != "" {
		n.deliver("webhook", func() error {
			return n.sendWebhook(alert, playbooks)
		})
	}
	if n.cfg.Notifications.Slack.WebhookURL != "" {
		n.deliver("slack", func() error {
			return n.sendSlack(alert, playbooks)
		})
	}
}

// deliver runs one channel send behind its circuit breaker and records the
// outcome.
func (n *Notifier) deliver(channel string, send func() error) {
	cb := n.getOrCreateCircuitBreaker(channel)
	if err := cb.Allow(); err != nil {
		n.logger.Warnw("Notification skipped, circuit open",
			"channel", channel, "error", err)
		metrics.NotificationsSent.WithLabelValues(channel, "skipped").Inc()
		return
	}

	if err := send(); err != nil {
		oldState, newState := cb.RecordFailure()
		if oldState != newState {
			n.logger.Warnw("Notification circuit state changed",
				"channel", channel, "from", oldState, "to", newState)
		}
		n.logger.Warnw("Notification delivery failed",
			"channel", channel, "error", err)
		metrics.NotificationsSent.WithLabelValues(channel, "failure").Inc()
		return
	}

	cb.RecordSuccess()
	metrics.NotificationsSent.WithLabelValues(channel, "success").Inc()
}

// webhookPayload is the JSON body posted to the generic webhook channel.
type webhookPayload struct {
	Event          string    `json:"event"`
	AlertID        string    `json:"alertId"`
	OrganizationID string    `json:"organizationId"`
	Title          string    `json:"title"`
	Severity       int       `json:"severity"`
	EventType      string    `json:"securityEventType,omitempty"`
	PlaybookIDs    []string  `json:"playbookIds"`
	PlaybookCount  int       `json:"playbookCount"`
	Timestamp      time.Time `json:"timestamp"`
}

func (n *Notifier) sendWebhook(alert *core.Alert, playbooks []*core.Playbook) error {
	ids := make([]string, 0, len(playbooks))
	for _, pb := range playbooks {
		ids = append(ids, pb.ID)
	}

	eventType := ""
	if alert.AIAnalysis != nil {
		eventType = alert.AIAnalysis.SecurityEventType
	}

	payload := webhookPayload{
		Event:          "playbooks_generated",
		AlertID:        alert.ID,
		OrganizationID: alert.OrganizationID,
		Title:          alert.Title,
		Severity:       alert.Severity,
		EventType:      eventType,
		PlaybookIDs:    ids,
		PlaybookCount:  len(ids),
		Timestamp:      time.Now().UTC(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	method := n.cfg.Notifications.Webhook.Method
	if method == "" {
		method = http.MethodPost
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, n.cfg.Notifications.Webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.cfg.Notifications.Webhook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) sendSlack(alert *core.Alert, playbooks []*core.Playbook) error {
	text := fmt.Sprintf(":rotating_light: *Playbooks generated for alert* `%s`\n*%s* (severity %d)",
		alert.ID, alert.Title, alert.Severity)
	if alert.AIAnalysis != nil && alert.AIAnalysis.SecurityEventType != "" {
		text += fmt.Sprintf("\nEvent type: `%s`", alert.AIAnalysis.SecurityEventType)
	}
	for _, pb := range playbooks {
		text += fmt.Sprintf("\n• %s (%s, %d steps)", pb.Name, pb.PlaybookType, len(pb.Steps))
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.Notifications.Slack.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
