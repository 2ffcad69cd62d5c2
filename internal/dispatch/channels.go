package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Codewithaiyan/ObserveAI/internal/models"
)

// Channel delivers a formatted alert for one incident at one escalation
// level. Implementations make exactly one attempt; retry policy lives in
// the dispatcher (which has none by design).
type Channel interface {
	Name() string
	Send(ctx context.Context, incident models.Incident, level int) error
}

// ChannelChat names the chat-webhook channel.
const ChannelChat = "chat"

// ChannelGeneric names the generic-webhook channel.
const ChannelGeneric = "generic"

// ChatWebhookChannel posts Slack-style block messages to a chat webhook.
type ChatWebhookChannel struct {
	url        string
	httpClient *http.Client
}

// NewChatWebhookChannel constructs the chat channel.
func NewChatWebhookChannel(url string, timeout time.Duration) *ChatWebhookChannel {
	return &ChatWebhookChannel{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements Channel.
func (c *ChatWebhookChannel) Name() string { return ChannelChat }

// Send implements Channel.
func (c *ChatWebhookChannel) Send(ctx context.Context, incident models.Incident, level int) error {
	title := fmt.Sprintf("Incident %s (%s)", incident.ID, strings.ToUpper(string(incident.Severity)))
	if level > 0 {
		title = fmt.Sprintf("[ESCALATION %d] %s", level, title)
	}

	fields := []map[string]string{
		{"type": "mrkdwn", "text": "*Severity:*\n" + strings.ToUpper(string(incident.Severity))},
		{"type": "mrkdwn", "text": "*Sources:*\n" + strings.Join(incident.SourceIDs, ", ")},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Anomalies:*\n%d", len(incident.Anomalies))},
		{"type": "mrkdwn", "text": "*Opened:*\n" + incident.OpenedAt.UTC().Format(time.RFC3339)},
	}

	blocks := []any{
		map[string]any{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": title, "emoji": true},
		},
		map[string]any{"type": "section", "fields": fields},
	}

	if incident.RootCause != nil {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Root cause (confidence %.2f):*\n%s", incident.RootCause.Confidence, truncate(incident.RootCause.Summary, 400)),
			},
		})
	}

	payload := map[string]any{
		"text":   title,
		"blocks": blocks,
	}
	return postJSON(ctx, c.httpClient, c.url, payload)
}

// GenericWebhookChannel posts a flat JSON payload to a generic webhook.
type GenericWebhookChannel struct {
	url        string
	httpClient *http.Client
}

// NewGenericWebhookChannel constructs the generic channel.
func NewGenericWebhookChannel(url string, timeout time.Duration) *GenericWebhookChannel {
	return &GenericWebhookChannel{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements Channel.
func (c *GenericWebhookChannel) Name() string { return ChannelGeneric }

// Send implements Channel.
func (c *GenericWebhookChannel) Send(ctx context.Context, incident models.Incident, level int) error {
	reasons := make([]string, 0, len(incident.Anomalies))
	for _, a := range incident.Anomalies {
		for _, r := range a.Reasons {
			reasons = appendUnique(reasons, string(r))
		}
	}

	payload := map[string]any{
		"incident_id":      incident.ID,
		"status":           incident.Status,
		"severity":         incident.Severity,
		"escalation_level": level,
		"opened_at":        incident.OpenedAt.UTC(),
		"affected_sources": incident.SourceIDs,
		"anomaly_count":    len(incident.Anomalies),
		"reasons":          reasons,
	}
	if incident.RootCause != nil {
		payload["root_cause"] = incident.RootCause.Summary
		payload["root_cause_confidence"] = incident.RootCause.Confidence
	}
	return postJSON(ctx, c.httpClient, c.url, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func appendUnique(existing []string, item string) []string {
	for _, e := range existing {
		if e == item {
			return existing
		}
	}
	return append(existing, item)
}
