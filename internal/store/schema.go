package store

// schema is applied by EnsureSchema; statements are idempotent
const schema = `
CREATE TABLE IF NOT EXISTS alert_rules (
	rule_id          TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	rule_type        TEXT NOT NULL,
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	conditions       JSONB NOT NULL DEFAULT '{}',
	cooldown_minutes INTEGER NOT NULL DEFAULT 30,
	priority         TEXT NOT NULL DEFAULT 'medium',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_triggered   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_alert_rules_active ON alert_rules (is_active, created_at);

CREATE TABLE IF NOT EXISTS alert_delivery_preferences (
	user_id             TEXT PRIMARY KEY,
	enabled_channels    JSONB NOT NULL DEFAULT '["IN_APP"]',
	quiet_hours_start   SMALLINT,
	quiet_hours_end     SMALLINT,
	severity_thresholds JSONB NOT NULL DEFAULT '{}',
	rate_limit_per_hour INTEGER NOT NULL DEFAULT 10,
	email               TEXT NOT NULL DEFAULT '',
	webhook_url         TEXT NOT NULL DEFAULT '',
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS alert_notifications (
	notification_id TEXT PRIMARY KEY,
	trigger_id      TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	severity        TEXT NOT NULL,
	title           TEXT NOT NULL,
	message         TEXT NOT NULL,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_alert_notifications_user ON alert_notifications (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS alert_delivery_attempts (
	id             BIGSERIAL PRIMARY KEY,
	alert_event_id TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	channel        TEXT NOT NULL,
	attempt_number INTEGER NOT NULL,
	attempted_at   TIMESTAMPTZ NOT NULL,
	status         TEXT NOT NULL,
	error_message  TEXT,
	delivered_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_alert_delivery_attempts_event ON alert_delivery_attempts (alert_event_id);
CREATE INDEX IF NOT EXISTS idx_alert_delivery_attempts_time ON alert_delivery_attempts (attempted_at);
`
