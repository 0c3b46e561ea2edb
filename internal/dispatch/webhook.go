package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sentinel/internal/models"
)

// WebhookConfig configures a chat webhook channel (Slack-compatible
// incoming webhook payload).
type WebhookConfig struct {
	Name    string
	URL     string
	Timeout time.Duration
}

// WebhookChannel delivers firings as JSON to an incoming webhook.
type WebhookChannel struct {
	name   models.ChannelRef
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(cfg WebhookConfig) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		name:   models.ChannelRef(cfg.Name),
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Name() models.ChannelRef { return c.name }

// Send posts the firing to the webhook. HTTP 4xx responses are
// permanent (bad URL or payload, retrying cannot help) except 408 and
// 429; network failures and 5xx are transient.
func (c *WebhookChannel) Send(ctx context.Context, firing *models.AlertFiring) error {
	if c.url == "" {
		return Permanent(fmt.Errorf("webhook URL is empty"))
	}

	body, err := json.Marshal(c.buildMessage(firing))
	if err != nil {
		return Permanent(fmt.Errorf("marshal webhook message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("send webhook: %w", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return Transient(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	default:
		return Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
}

func (c *WebhookChannel) buildMessage(firing *models.AlertFiring) map[string]interface{} {
	text := fmt.Sprintf("🚨 *%s*: %d events in window (threshold %d)",
		firing.RuleName, firing.Count, firing.Threshold)

	attachment := map[string]interface{}{
		"color": "#dc3545",
		"title": fmt.Sprintf("Alert: %s", firing.RuleName),
		"ts":    firing.FiredAt.Unix(),
		"fields": []map[string]interface{}{
			{"title": "Rule", "value": firing.RuleID, "short": true},
			{"title": "Count", "value": fmt.Sprintf("%d", firing.Count), "short": true},
			{"title": "Threshold", "value": fmt.Sprintf("%d", firing.Threshold), "short": true},
			{"title": "Window", "value": fmt.Sprintf("%s — %s",
				firing.WindowStart.Format(time.RFC3339),
				firing.WindowEnd.Format(time.RFC3339)), "short": false},
		},
	}

	return map[string]interface{}{
		"text":        text,
		"attachments": []map[string]interface{}{attachment},
	}
}
