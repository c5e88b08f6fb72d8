package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	_ "github.com/lib/pq"
)

// Postgres implements the rule, preference, notification and attempt stores on PostgreSQL
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool to dsn
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing *sql.DB
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Ping checks database connectivity
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the pool
func (p *Postgres) Close() error {
	return p.db.Close()
}

// EnsureSchema creates the alerting tables if they do not exist
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ListActiveRules returns active rules, oldest first
func (p *Postgres) ListActiveRules(ctx context.Context) ([]models.Rule, error) {
	query := `
		SELECT rule_id, user_id, rule_type, is_active, conditions,
			cooldown_minutes, priority, created_at, last_triggered
		FROM alert_rules
		WHERE is_active = TRUE
		ORDER BY created_at
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var (
			r             models.Rule
			ruleType      string
			priority      string
			conditions    []byte
			lastTriggered sql.NullTime
		)
		if err := rows.Scan(
			&r.RuleID, &r.UserID, &ruleType, &r.IsActive, &conditions,
			&r.CooldownMinutes, &priority, &r.CreatedAt, &lastTriggered,
		); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}

		r.RuleType = models.RuleType(ruleType)
		r.Priority = models.Severity(priority)
		if lastTriggered.Valid {
			t := lastTriggered.Time
			r.LastTriggered = &t
		}

		r.Conditions, err = models.DecodeConditions(r.RuleType, conditions)
		if err != nil {
			return nil, fmt.Errorf("decode conditions for rule %s: %w", r.RuleID, err)
		}
		rules = append(rules, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

// SaveRule inserts or updates a rule
func (p *Postgres) SaveRule(ctx context.Context, r models.Rule) error {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}

	query := `
		INSERT INTO alert_rules (
			rule_id, user_id, rule_type, is_active, conditions,
			cooldown_minutes, priority, created_at, last_triggered
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (rule_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			rule_type = EXCLUDED.rule_type,
			is_active = EXCLUDED.is_active,
			conditions = EXCLUDED.conditions,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			priority = EXCLUDED.priority,
			last_triggered = EXCLUDED.last_triggered
	`

	_, err = p.db.ExecContext(ctx, query,
		r.RuleID,
		r.UserID,
		string(r.RuleType),
		r.IsActive,
		conditions,
		r.CooldownMinutes,
		string(r.Priority),
		r.CreatedAt,
		nullTime(r.LastTriggered),
	)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

// DeleteRule removes a rule
func (p *Postgres) DeleteRule(ctx context.Context, ruleID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE rule_id = $1`, ruleID); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

// UpdateLastTriggered records when a rule last fired
func (p *Postgres) UpdateLastTriggered(ctx context.Context, ruleID string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE alert_rules SET last_triggered = $2 WHERE rule_id = $1`,
		ruleID, at,
	)
	if err != nil {
		return fmt.Errorf("update last_triggered: %w", err)
	}
	return nil
}

// GetPreferences returns nil when the user has no stored preferences
func (p *Postgres) GetPreferences(ctx context.Context, userID string) (*models.UserDeliveryPreferences, error) {
	query := `
		SELECT user_id, enabled_channels, quiet_hours_start, quiet_hours_end,
			severity_thresholds, rate_limit_per_hour, email, webhook_url, updated_at
		FROM alert_delivery_preferences
		WHERE user_id = $1
	`

	var (
		prefs      models.UserDeliveryPreferences
		channels   []byte
		thresholds []byte
		start, end sql.NullInt32
	)
	err := p.db.QueryRowContext(ctx, query, userID).Scan(
		&prefs.UserID, &channels, &start, &end,
		&thresholds, &prefs.RateLimitPerHour, &prefs.Email, &prefs.WebhookURL, &prefs.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}

	if err := json.Unmarshal(channels, &prefs.EnabledChannels); err != nil {
		return nil, fmt.Errorf("parse enabled_channels JSON: %w", err)
	}
	if err := json.Unmarshal(thresholds, &prefs.SeverityThresholds); err != nil {
		return nil, fmt.Errorf("parse severity_thresholds JSON: %w", err)
	}
	prefs.QuietHoursStart = nullInt(start)
	prefs.QuietHoursEnd = nullInt(end)

	return &prefs, nil
}

// SavePreferences inserts or replaces a user's preferences
func (p *Postgres) SavePreferences(ctx context.Context, prefs models.UserDeliveryPreferences) error {
	channels, err := json.Marshal(prefs.EnabledChannels)
	if err != nil {
		return fmt.Errorf("marshal enabled_channels: %w", err)
	}
	thresholds, err := json.Marshal(prefs.SeverityThresholds)
	if err != nil {
		return fmt.Errorf("marshal severity_thresholds: %w", err)
	}

	query := `
		INSERT INTO alert_delivery_preferences (
			user_id, enabled_channels, quiet_hours_start, quiet_hours_end,
			severity_thresholds, rate_limit_per_hour, email, webhook_url, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled_channels = EXCLUDED.enabled_channels,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			severity_thresholds = EXCLUDED.severity_thresholds,
			rate_limit_per_hour = EXCLUDED.rate_limit_per_hour,
			email = EXCLUDED.email,
			webhook_url = EXCLUDED.webhook_url,
			updated_at = EXCLUDED.updated_at
	`

	_, err = p.db.ExecContext(ctx, query,
		prefs.UserID,
		channels,
		nullHour(prefs.QuietHoursStart),
		nullHour(prefs.QuietHoursEnd),
		thresholds,
		prefs.RateLimitPerHour,
		prefs.Email,
		prefs.WebhookURL,
		prefs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

// SaveNotification stores an in-app notification
func (p *Postgres) SaveNotification(ctx context.Context, n models.InAppNotification) error {
	query := `
		INSERT INTO alert_notifications (
			notification_id, trigger_id, user_id, severity, title, message, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (notification_id) DO NOTHING
	`

	_, err := p.db.ExecContext(ctx, query,
		n.NotificationID, n.TriggerID, n.UserID, string(n.Severity),
		n.Title, n.Message, string(n.Status), n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns the user's notifications, newest first
func (p *Postgres) ListNotifications(ctx context.Context, userID string, limit int) ([]models.InAppNotification, error) {
	query := `
		SELECT notification_id, trigger_id, user_id, severity, title, message, status, created_at
		FROM alert_notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := p.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []models.InAppNotification
	for rows.Next() {
		var (
			n        models.InAppNotification
			severity string
			status   string
		)
		if err := rows.Scan(&n.NotificationID, &n.TriggerID, &n.UserID, &severity,
			&n.Title, &n.Message, &status, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Severity = models.Severity(severity)
		n.Status = models.DeliveryStatus(status)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// RecordAttempt appends a delivery attempt to the log
func (p *Postgres) RecordAttempt(ctx context.Context, a models.DeliveryAttempt) error {
	query := `
		INSERT INTO alert_delivery_attempts (
			alert_event_id, user_id, channel, attempt_number, attempted_at,
			status, error_message, delivered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var errMsg sql.NullString
	if a.ErrorMessage != nil {
		errMsg = sql.NullString{String: *a.ErrorMessage, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, query,
		a.AlertEventID, a.UserID, string(a.Channel), a.AttemptNumber, a.AttemptedAt,
		string(a.Status), errMsg, nullTime(a.DeliveredAt),
	)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the attempts for a trigger in attempt order
func (p *Postgres) ListAttempts(ctx context.Context, triggerID string) ([]models.DeliveryAttempt, error) {
	query := `
		SELECT alert_event_id, user_id, channel, attempt_number, attempted_at,
			status, error_message, delivered_at
		FROM alert_delivery_attempts
		WHERE alert_event_id = $1
		ORDER BY attempted_at, id
	`

	rows, err := p.db.QueryContext(ctx, query, triggerID)
	if err != nil {
		return nil, fmt.Errorf("query delivery attempts: %w", err)
	}
	defer rows.Close()

	var out []models.DeliveryAttempt
	for rows.Next() {
		var (
			a           models.DeliveryAttempt
			channel     string
			status      string
			errMsg      sql.NullString
			deliveredAt sql.NullTime
		)
		if err := rows.Scan(&a.AlertEventID, &a.UserID, &channel, &a.AttemptNumber, &a.AttemptedAt,
			&status, &errMsg, &deliveredAt); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		a.Channel = models.Channel(channel)
		a.Status = models.DeliveryStatus(status)
		if errMsg.Valid {
			msg := errMsg.String
			a.ErrorMessage = &msg
		}
		if deliveredAt.Valid {
			t := deliveredAt.Time
			a.DeliveredAt = &t
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery attempts: %w", err)
	}
	return out, nil
}

// PurgeAttempts deletes attempts older than before
func (p *Postgres) PurgeAttempts(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM alert_delivery_attempts WHERE attempted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge delivery attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge delivery attempts: %w", err)
	}
	return n, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullHour(h *int) sql.NullInt32 {
	if h == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*h), Valid: true}
}

func nullInt(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	h := int(v.Int32)
	return &h
}
