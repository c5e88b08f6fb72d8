package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/dedup"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/dispatcher"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/engine"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/evaluator"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/ratelimit"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/scheduler"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/store"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProps []models.PropRecord

func (s staticProps) FetchProps(ctx context.Context) ([]models.PropRecord, error) {
	return s, nil
}

func f64(v float64) *float64 { return &v }

type nopSender struct{}

func (nopSender) Channel() models.Channel { return models.ChannelInApp }

func (nopSender) Send(ctx context.Context, trigger models.AlertTrigger, prefs models.UserDeliveryPreferences) error {
	return nil
}

type testServer struct {
	handler   http.Handler
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	store     *store.Memory
}

func newTestServer(t *testing.T, checks map[string]Pinger) *testServer {
	t.Helper()

	mem := store.NewMemory()
	props := staticProps{{
		PropID:          "mock_prop_1",
		PlayerName:      "LeBron James",
		Market:          "Points",
		Line:            f64(25.5),
		Sportsbook:      "FanDuel",
		EVValue:         f64(8.3),
		ConfidenceScore: f64(87.2),
	}}

	disp := dispatcher.New(dispatcher.DefaultConfig(), mem, ratelimit.NewWindow(time.Hour), mem, nopSender{})
	eng := engine.New(engine.Config{}, engine.Dependencies{
		Props:      props,
		Rules:      mem,
		Evaluator:  evaluator.New(10, evaluator.NewEVThreshold()),
		Dedup:      dedup.NewMemory(15 * time.Minute),
		Dispatcher: disp,
	})
	sched := scheduler.New(scheduler.Config{EvaluationInterval: time.Hour}, eng, disp)
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })

	h := NewHandler(Dependencies{
		Engine:        eng,
		Scheduler:     sched,
		Dispatcher:    disp,
		Preferences:   mem,
		Notifications: mem,
		Checks:        checks,
	})

	return &testServer{
		handler:   NewRouter(h, RouterOptions{CORSOrigins: []string{"*"}}),
		engine:    eng,
		scheduler: sched,
		store:     mem,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

const base = "/api/v1/alert-engine"

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, map[string]Pinger{
		"redis": func(ctx context.Context) error { return nil },
	})
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "healthy", body["status"])

	s = newTestServer(t, map[string]Pinger{
		"database": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	rec = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusStartStop(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, base+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, scheduler.StateStopped, status.Status)
	assert.Equal(t, 30, status.EvaluationInterval)
	assert.Equal(t, 10, status.MaxConcurrentEvaluations)

	rec = s.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "started", decode[map[string]interface{}](t, rec)["status"])

	rec = s.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_running", decode[map[string]interface{}](t, rec)["status"])

	status = decode[StatusResponse](t, s.do(t, http.MethodGet, base+"/status", nil))
	assert.Equal(t, scheduler.StateRunning, status.Status)

	rec = s.do(t, http.MethodPost, base+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decode[map[string]interface{}](t, rec)["status"])
	assert.Equal(t, scheduler.StateStopped, s.scheduler.State())
}

func TestRuleCRUD(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, base+"/rules", `{
		"user_id": "u1",
		"rule_type": "EV_THRESHOLD",
		"is_active": true,
		"conditions": {"min_ev_percentage": 8.0},
		"cooldown_minutes": 30
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Rule](t, rec)
	require.NotEmpty(t, created.RuleID)
	assert.Equal(t, models.EVThresholdConditions{MinEVPercentage: 8.0, MinConfidence: 70.0}, created.Conditions)
	assert.Equal(t, models.SeverityMedium, created.Priority)

	rec = s.do(t, http.MethodGet, base+"/rules/"+created.RuleID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, base+"/rules?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, rec)["count"])

	rec = s.do(t, http.MethodPut, base+"/rules/"+created.RuleID, `{
		"user_id": "u1",
		"rule_type": "EV_THRESHOLD",
		"is_active": true,
		"conditions": {"min_ev_percentage": 12.0, "min_confidence": 90},
		"priority": "high"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.Rule](t, rec)
	assert.Equal(t, created.RuleID, updated.RuleID)
	assert.Equal(t, models.SeverityHigh, updated.Priority)

	rec = s.do(t, http.MethodDelete, base+"/rules/"+created.RuleID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, base+"/rules/"+created.RuleID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errResp := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, http.StatusNotFound, errResp.Code)
	assert.Equal(t, "Not Found", errResp.Error)

	rec = s.do(t, http.MethodDelete, base+"/rules/"+created.RuleID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRule_Rejections(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"unknown rule type", `{"user_id":"u1","rule_type":"VALUE_DEGRADATION"}`},
		{"missing user", `{"rule_type":"ARBITRAGE_OPPORTUNITY"}`},
		{"negative threshold", `{"user_id":"u1","rule_type":"EV_THRESHOLD","conditions":{"min_ev_percentage":-1}}`},
		{"confidence out of range", `{"user_id":"u1","rule_type":"EDGE_EMERGENCE","conditions":{"min_confidence":150}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, base+"/rules", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestTriggers(t *testing.T) {
	s := newTestServer(t, nil)

	now := time.Now()
	for i, id := range []string{"t1", "t2"} {
		s.engine.ProcessTriggers(context.Background(), []models.AlertTrigger{{
			TriggerID:   id,
			RuleID:      "r1",
			UserID:      "u1",
			PropID:      id,
			TriggerType: models.RuleTypeEVThreshold,
			Severity:    models.SeverityHigh,
			TriggeredAt: now.Add(time.Duration(i) * time.Second),
		}})
	}

	rec := s.do(t, http.MethodGet, base+"/triggers?user_id=u1&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Triggers []models.AlertTrigger `json:"triggers"`
		Count    int                   `json:"count"`
	}](t, rec)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "t2", body.Triggers[0].TriggerID)

	rec = s.do(t, http.MethodGet, base+"/triggers/t1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, base+"/triggers/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTestRule(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, base+"/test", `{"rule_type":"EV_THRESHOLD"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]interface{}](t, rec)
	assert.EqualValues(t, 1, body["props_evaluated"])
	assert.EqualValues(t, 1, body["triggers_generated"])

	rec = s.do(t, http.MethodPost, base+"/test", `{"rule_type":"EV_THRESHOLD","conditions":{"min_ev_percentage":9}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode[map[string]interface{}](t, rec)["triggers_generated"])

	rec = s.do(t, http.MethodPost, base+"/test", `{"rule_type":"NOPE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 0, s.engine.TriggeredCount())
}

func TestGetRuleTypes(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, base+"/rule-types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, decode[map[string]interface{}](t, rec)["count"])
}

func TestPreferences(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, base+"/preferences/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	prefs := decode[models.UserDeliveryPreferences](t, rec)
	assert.Equal(t, []models.Channel{models.ChannelInApp}, prefs.EnabledChannels)
	assert.Equal(t, models.DefaultRateLimitPerHour, prefs.RateLimitPerHour)

	rec = s.do(t, http.MethodPut, base+"/preferences/u1", `{"enabled_channels":["IN_APP"],"quiet_hours_start":25,"quiet_hours_end":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, base+"/preferences/u1", `{
		"enabled_channels": ["IN_APP", "EMAIL"],
		"quiet_hours_start": 23,
		"quiet_hours_end": 7,
		"severity_thresholds": {"IN_APP": "low", "EMAIL": "high"},
		"rate_limit_per_hour": 3,
		"email": "bettor@example.com"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, base+"/preferences/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	prefs = decode[models.UserDeliveryPreferences](t, rec)
	assert.Equal(t, 3, prefs.RateLimitPerHour)
	assert.Equal(t, "bettor@example.com", prefs.Email)
}

func TestDeliveriesAndNotifications(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	rec := s.do(t, http.MethodGet, base+"/deliveries", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, s.store.RecordAttempt(ctx, models.DeliveryAttempt{
		AlertEventID:  "t1",
		UserID:        "u1",
		Channel:       models.ChannelInApp,
		AttemptNumber: 1,
		AttemptedAt:   time.Now(),
		Status:        models.DeliverySent,
	}))
	rec = s.do(t, http.MethodGet, base+"/deliveries?trigger_id=t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, rec)["count"])

	rec = s.do(t, http.MethodGet, base+"/notifications", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, s.store.SaveNotification(ctx, models.InAppNotification{
		NotificationID: "n1",
		TriggerID:      "t1",
		UserID:         "u1",
		Severity:       models.SeverityHigh,
		Title:          "High EV Opportunity: 12.0%",
		Status:         models.DeliverySent,
		CreatedAt:      time.Now(),
	}))
	rec = s.do(t, http.MethodGet, base+"/notifications?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, rec)["count"])
}
