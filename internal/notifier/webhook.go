package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/oddsmath"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// WebhookPayload is the JSON body posted to user webhooks
type WebhookPayload struct {
	AlertID     string                 `json:"alert_id"`
	UserID      string                 `json:"user_id"`
	EventType   string                 `json:"event_type"`
	Severity    models.Severity        `json:"severity"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	TriggeredAt time.Time              `json:"triggered_at"`
	ExpiresAt   *time.Time             `json:"expires_at,omitempty"`
}

// Webhook posts triggers to the user's webhook URL.
// Slack incoming webhooks receive a formatted text message instead of the raw payload.
type Webhook struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// NewWebhook creates the webhook sender. ratePerSecond <= 0 disables throttling.
func NewWebhook(timeout time.Duration, ratePerSecond float64) *Webhook {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}

	return &Webhook{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "fortuna-alert-engine"),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Channel implements contracts.Sender
func (w *Webhook) Channel() models.Channel {
	return models.ChannelWebhook
}

// Send posts the trigger to prefs.WebhookURL
func (w *Webhook) Send(ctx context.Context, trigger models.AlertTrigger, prefs models.UserDeliveryPreferences) error {
	if prefs.WebhookURL == "" {
		return fmt.Errorf("webhook for user %s: %w", trigger.UserID, ErrNoRecipient)
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit: %w", err)
	}

	var body interface{} = NewWebhookPayload(trigger)
	if isSlackWebhook(prefs.WebhookURL) {
		body = map[string]interface{}{"text": formatSlackMessage(trigger)}
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(prefs.WebhookURL)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

// NewWebhookPayload builds the outbound payload for a trigger
func NewWebhookPayload(trigger models.AlertTrigger) WebhookPayload {
	return WebhookPayload{
		AlertID:     trigger.TriggerID,
		UserID:      trigger.UserID,
		EventType:   string(trigger.TriggerType),
		Severity:    trigger.Severity,
		Title:       trigger.Title,
		Message:     trigger.Message,
		Data:        trigger.Data,
		TriggeredAt: trigger.TriggeredAt,
		ExpiresAt:   trigger.ExpiresAt,
	}
}

func isSlackWebhook(u string) bool {
	return strings.Contains(u, "hooks.slack.com")
}

func formatSlackMessage(trigger models.AlertTrigger) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s *%s* | %s\n\n",
		emojiForType(trigger.TriggerType), trigger.Title, strings.ToUpper(string(trigger.Severity))))
	sb.WriteString(trigger.Message)
	sb.WriteString("\n")

	if p := trigger.Prop; p != nil {
		sb.WriteString(fmt.Sprintf("\n*Player:* %s\n", p.PlayerName))
		sb.WriteString(fmt.Sprintf("*Market:* %s", p.Market))
		if p.Line != nil {
			sb.WriteString(fmt.Sprintf(" %.1f", *p.Line))
		}
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("*Book:* %s", p.Sportsbook))
		if p.OverOdds != nil && p.UnderOdds != nil {
			sb.WriteString(fmt.Sprintf(" | O %s / U %s",
				oddsmath.FormatAmerican(*p.OverOdds), oddsmath.FormatAmerican(*p.UnderOdds)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("\n_Triggered: %s | ID: %s_",
		trigger.TriggeredAt.UTC().Format("15:04:05"), trigger.TriggerID))

	return sb.String()
}

func emojiForType(t models.RuleType) string {
	switch t {
	case models.RuleTypeEVThreshold:
		return "💰"
	case models.RuleTypeArbitrage:
		return "🎯"
	case models.RuleTypeSteamDetection:
		return "🔥"
	case models.RuleTypeLineMovement:
		return "📈"
	case models.RuleTypeEdgeEmergence:
		return "⚡"
	default:
		return "📊"
	}
}
