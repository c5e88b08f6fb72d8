package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Handler reacts to a batch of fresh opportunities
type Handler func(ctx context.Context, opps []models.Opportunity) error

// StreamConsumer consumes opportunities from Redis Streams
type StreamConsumer struct {
	client     *redis.Client
	consumerID string
	groupName  string
	maxDataAge time.Duration
	log        zerolog.Logger
}

// Message represents a stream message with an opportunity
type Message struct {
	ID          string
	StreamKey   string
	Opportunity models.Opportunity
}

// NewStreamConsumer creates a new stream consumer.
// Opportunities whose data is older than maxDataAge are acknowledged without evaluation; zero disables the check.
func NewStreamConsumer(client *redis.Client, consumerID, groupName string, maxDataAge time.Duration) *StreamConsumer {
	return &StreamConsumer{
		client:     client,
		consumerID: consumerID,
		groupName:  groupName,
		maxDataAge: maxDataAge,
		log:        logger.WithComponent("consumer"),
	}
}

// ConsumeStream starts consuming from streamKey
func (c *StreamConsumer) ConsumeStream(ctx context.Context, streamKey string) (<-chan Message, <-chan error) {
	if err := c.ensureGroup(ctx, streamKey); err != nil {
		messageCh := make(chan Message)
		errorCh := make(chan error, 1)
		errorCh <- err
		close(messageCh)
		close(errorCh)
		return messageCh, errorCh
	}
	return c.consume(ctx, streamKey)
}

// consume reads new group messages until ctx is done; the group must already exist
func (c *StreamConsumer) consume(ctx context.Context, streamKey string) (<-chan Message, <-chan error) {
	messageCh := make(chan Message, 100)
	errorCh := make(chan error, 10)

	go func() {
		defer close(messageCh)
		defer close(errorCh)

		for {
			if ctx.Err() != nil {
				return
			}

			streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    c.groupName,
				Consumer: c.consumerID,
				Streams:  []string{streamKey, ">"},
				Count:    10,
				Block:    1 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				c.report(ctx, errorCh, fmt.Errorf("error reading from stream: %w", err))
				if !pause(ctx, time.Second) {
					return
				}
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					msg, err := c.parseMessage(streamKey, message)
					if err != nil {
						c.report(ctx, errorCh, fmt.Errorf("error parsing message %s: %w", message.ID, err))
						// Unparseable entries would otherwise stay pending forever
						if ackErr := c.AckMessage(ctx, streamKey, message.ID); ackErr != nil {
							c.report(ctx, errorCh, ackErr)
						}
						continue
					}

					select {
					case messageCh <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return messageCh, errorCh
}

func (c *StreamConsumer) ensureGroup(ctx context.Context, streamKey string) error {
	err := c.client.XGroupCreateMkStream(ctx, streamKey, c.groupName, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (c *StreamConsumer) report(ctx context.Context, errorCh chan<- error, err error) {
	select {
	case errorCh <- err:
	case <-ctx.Done():
	default:
		c.log.Warn().Err(err).Msg("stream error dropped")
	}
}

// parseMessage parses a Redis stream message into a Message
func (c *StreamConsumer) parseMessage(streamKey string, xmsg redis.XMessage) (Message, error) {
	oppJSON, ok := xmsg.Values["opportunity"].(string)
	if !ok {
		return Message{}, fmt.Errorf("missing 'opportunity' field in message")
	}

	var opp models.Opportunity
	if err := json.Unmarshal([]byte(oppJSON), &opp); err != nil {
		return Message{}, fmt.Errorf("failed to parse opportunity JSON: %w", err)
	}

	return Message{
		ID:          xmsg.ID,
		StreamKey:   streamKey,
		Opportunity: opp,
	}, nil
}

// AckMessage acknowledges a message as processed
func (c *StreamConsumer) AckMessage(ctx context.Context, streamKey, messageID string) error {
	return c.client.XAck(ctx, streamKey, c.groupName, messageID).Err()
}

// Fresh reports whether an opportunity's data is recent enough to act on
func (c *StreamConsumer) Fresh(opp models.Opportunity) bool {
	if c.maxDataAge <= 0 {
		return true
	}
	return time.Duration(opp.DataAgeSeconds)*time.Second <= c.maxDataAge
}

// Run consumes streamKey until ctx is cancelled.
// Messages that arrive together are handled as one batch so a burst costs a single evaluation.
// Every message is acknowledged once handled, whether or not the handler succeeded.
func (c *StreamConsumer) Run(ctx context.Context, streamKey string, handle Handler) error {
	if err := c.ensureGroup(ctx, streamKey); err != nil {
		return err
	}
	messageCh, errorCh := c.consume(ctx, streamKey)

	c.log.Info().Str("stream", streamKey).Str("group", c.groupName).Msg("consuming opportunities")

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-errorCh:
			if !ok {
				errorCh = nil
				continue
			}
			c.log.Warn().Err(err).Msg("stream error")

		case msg, ok := <-messageCh:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("opportunity stream %s closed", streamKey)
			}

			batch := append([]Message{msg}, drain(messageCh)...)
			c.process(ctx, batch, handle)
		}
	}
}

func (c *StreamConsumer) process(ctx context.Context, batch []Message, handle Handler) {
	opps := make([]models.Opportunity, 0, len(batch))
	for _, m := range batch {
		if c.Fresh(m.Opportunity) {
			opps = append(opps, m.Opportunity)
		} else {
			c.log.Debug().
				Int64("opportunity_id", m.Opportunity.ID).
				Int("data_age_seconds", m.Opportunity.DataAgeSeconds).
				Msg("skipping stale opportunity")
		}
	}

	if len(opps) > 0 {
		if err := handle(ctx, opps); err != nil {
			c.log.Error().Err(err).Int("opportunities", len(opps)).Msg("opportunity handler failed")
		}
	}

	for _, m := range batch {
		if err := c.AckMessage(ctx, m.StreamKey, m.ID); err != nil {
			c.log.Warn().Err(err).Str("message_id", m.ID).Msg("failed to ack message")
		}
	}
}

// drain returns whatever is already buffered without blocking
func drain(ch <-chan Message) []Message {
	var out []Message
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
