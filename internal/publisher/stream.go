package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/redis/go-redis/v9"
)

// DefaultMaxLen bounds the triggered stream
const DefaultMaxLen = 10000

// StreamPublisher publishes triggers to a Redis stream
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher creates a publisher for stream
func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: DefaultMaxLen,
	}
}

// PublishTrigger appends a trigger to the stream under the "trigger" field
func (p *StreamPublisher) PublishTrigger(ctx context.Context, trigger models.AlertTrigger) error {
	payload, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	_, err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"trigger":  string(payload),
			"user_id":  trigger.UserID,
			"severity": string(trigger.Severity),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}
	return nil
}
