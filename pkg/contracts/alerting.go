package contracts

import (
	"context"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
)

// PropDataSource supplies the current prop snapshot for an evaluation tick
type PropDataSource interface {
	// FetchProps returns every current prop observation across books
	FetchProps(ctx context.Context) ([]models.PropRecord, error)
}

// RuleStore persists rule definitions
type RuleStore interface {
	// ListActiveRules returns all active rules
	ListActiveRules(ctx context.Context) ([]models.Rule, error)

	// SaveRule inserts or updates a rule
	SaveRule(ctx context.Context, rule models.Rule) error

	// DeleteRule removes a rule by id
	DeleteRule(ctx context.Context, ruleID string) error

	// UpdateLastTriggered records when a rule last fired
	UpdateLastTriggered(ctx context.Context, ruleID string, at time.Time) error
}

// PreferenceStore persists per-user delivery preferences
type PreferenceStore interface {
	// GetPreferences returns nil when the user has none stored
	GetPreferences(ctx context.Context, userID string) (*models.UserDeliveryPreferences, error)

	// SavePreferences inserts or replaces the user's preferences
	SavePreferences(ctx context.Context, prefs models.UserDeliveryPreferences) error
}

// NotificationStore persists in-app notifications
type NotificationStore interface {
	SaveNotification(ctx context.Context, n models.InAppNotification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.InAppNotification, error)
}

// AttemptLog persists delivery attempt history
type AttemptLog interface {
	RecordAttempt(ctx context.Context, attempt models.DeliveryAttempt) error
	ListAttempts(ctx context.Context, triggerID string) ([]models.DeliveryAttempt, error)
	PurgeAttempts(ctx context.Context, before time.Time) (int64, error)
}

// MovementAnalyzer reports line movement for a prop at one book
type MovementAnalyzer interface {
	AnalyzeMovement(ctx context.Context, propID, sportsbook string, hoursBack int) (*models.MovementAnalysis, error)
}

// SteamDetector reports synchronized movement for a prop across books.
// A nil result means no steam.
type SteamDetector interface {
	DetectSteam(ctx context.Context, propID string) (*models.SteamResult, error)
}

// DetectionCache is a TTL key-value cache used to remember recent detections
type DetectionCache interface {
	// Get returns ok=false when the key is absent or expired
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key for ttl
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RuleTypeEvaluator evaluates rules of one type against a prop snapshot
type RuleTypeEvaluator interface {
	// Type returns the rule type handled by this evaluator
	Type() models.RuleType

	// Evaluate returns the triggers the rule produces for props at now
	Evaluate(ctx context.Context, rule models.Rule, props []models.PropRecord, now time.Time) ([]models.AlertTrigger, error)
}

// Sender delivers a trigger through one channel
type Sender interface {
	// Channel returns the channel served by this sender
	Channel() models.Channel

	// Send delivers the trigger to the user described by prefs
	Send(ctx context.Context, trigger models.AlertTrigger, prefs models.UserDeliveryPreferences) error
}
