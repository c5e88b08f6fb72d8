package models

import (
	"fmt"
	"time"
)

// DefaultRateLimitPerHour applies to users with no stored preferences
const DefaultRateLimitPerHour = 10

// UserDeliveryPreferences controls how triggers reach one user
type UserDeliveryPreferences struct {
	UserID             string               `json:"user_id"`
	EnabledChannels    []Channel            `json:"enabled_channels"`
	QuietHoursStart    *int                 `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd      *int                 `json:"quiet_hours_end,omitempty"`
	SeverityThresholds map[Channel]Severity `json:"severity_thresholds"`
	RateLimitPerHour   int                  `json:"rate_limit_per_hour"`
	Email              string               `json:"email,omitempty"`
	WebhookURL         string               `json:"webhook_url,omitempty"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// DefaultPreferences returns the preferences used when a user has none stored
func DefaultPreferences(userID string) UserDeliveryPreferences {
	return UserDeliveryPreferences{
		UserID:          userID,
		EnabledChannels: []Channel{ChannelInApp},
		SeverityThresholds: map[Channel]Severity{
			ChannelInApp:   SeverityLow,
			ChannelEmail:   SeverityMedium,
			ChannelWebhook: SeverityHigh,
		},
		RateLimitPerHour: DefaultRateLimitPerHour,
	}
}

// InQuietHours reports whether hour (0-23) falls in the quiet window.
// The window is [start, end); a start after end wraps past midnight.
// Equal start and end means no quiet window.
func (p UserDeliveryPreferences) InQuietHours(hour int) bool {
	if p.QuietHoursStart == nil || p.QuietHoursEnd == nil {
		return false
	}

	start, end := *p.QuietHoursStart, *p.QuietHoursEnd
	switch {
	case start == end:
		return false
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

// ChannelEnabled reports whether c is in the enabled set
func (p UserDeliveryPreferences) ChannelEnabled(c Channel) bool {
	for _, enabled := range p.EnabledChannels {
		if enabled == c {
			return true
		}
	}
	return false
}

// Threshold returns the minimum severity for c, low when unset
func (p UserDeliveryPreferences) Threshold(c Channel) Severity {
	if s, ok := p.SeverityThresholds[c]; ok {
		return s
	}
	return SeverityLow
}

// Validate checks hour ranges, channels and the rate limit
func (p UserDeliveryPreferences) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	for _, h := range []*int{p.QuietHoursStart, p.QuietHoursEnd} {
		if h != nil && (*h < 0 || *h > 23) {
			return fmt.Errorf("quiet hours must be within 0-23")
		}
	}
	if (p.QuietHoursStart == nil) != (p.QuietHoursEnd == nil) {
		return fmt.Errorf("quiet_hours_start and quiet_hours_end must be set together")
	}
	for _, c := range p.EnabledChannels {
		if !c.Valid() {
			return fmt.Errorf("unknown channel %q", c)
		}
	}
	for c, s := range p.SeverityThresholds {
		if !c.Valid() {
			return fmt.Errorf("unknown channel %q", c)
		}
		if !s.Valid() {
			return fmt.Errorf("unknown severity %q for %s", s, c)
		}
	}
	if p.RateLimitPerHour < 0 {
		return fmt.Errorf("rate_limit_per_hour must be >= 0")
	}
	return nil
}
