package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisPropSource reads the current prop snapshot from a Redis hash keyed by prop_id:sportsbook
type RedisPropSource struct {
	client  *redis.Client
	key     string
	history *LineHistory
	log     zerolog.Logger
}

// NewRedisPropSource creates a prop source over the hash at key.
// When history is non-nil, every fetched snapshot and every Upsert is appended to line history.
func NewRedisPropSource(client *redis.Client, key string, history *LineHistory) *RedisPropSource {
	return &RedisPropSource{
		client:  client,
		key:     key,
		history: history,
		log:     logger.WithComponent("prop_source"),
	}
}

func propField(p models.PropRecord) string {
	return p.PropID + ":" + p.Sportsbook
}

// FetchProps returns every prop in the snapshot ordered by field name and
// records the snapshot into line history. Malformed entries are logged and skipped.
// A history write failure is logged and does not fail the fetch.
func (s *RedisPropSource) FetchProps(ctx context.Context) ([]models.PropRecord, error) {
	entries, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read props snapshot: %w", err)
	}

	fields := make([]string, 0, len(entries))
	for field := range entries {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	props := make([]models.PropRecord, 0, len(entries))
	for _, field := range fields {
		var p models.PropRecord
		if err := json.Unmarshal([]byte(entries[field]), &p); err != nil {
			s.log.Warn().Err(err).Str("field", field).Msg("skipping malformed prop")
			continue
		}
		props = append(props, p)
	}

	if s.history != nil {
		if err := s.history.Record(ctx, props...); err != nil {
			s.log.Warn().Err(err).Int("props", len(props)).Msg("failed to record line history")
		}
	}
	return props, nil
}

// Upsert writes props into the snapshot and records their lines
func (s *RedisPropSource) Upsert(ctx context.Context, props ...models.PropRecord) error {
	if len(props) == 0 {
		return nil
	}

	values := make(map[string]interface{}, len(props))
	for _, p := range props {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal prop %s: %w", p.PropID, err)
		}
		values[propField(p)] = data
	}

	if err := s.client.HSet(ctx, s.key, values).Err(); err != nil {
		return fmt.Errorf("failed to write props snapshot: %w", err)
	}

	if s.history == nil {
		return nil
	}
	return s.history.Record(ctx, props...)
}
