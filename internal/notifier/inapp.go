package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/hub"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pusher pushes a message to a user's live connections
type Pusher interface {
	SendToUser(userID string, msg hub.ServerMessage) int
}

// TriggerPublisher fans triggers out to downstream consumers
type TriggerPublisher interface {
	PublishTrigger(ctx context.Context, trigger models.AlertTrigger) error
}

// InApp stores a notification for the user and pushes it to open sockets.
// Pusher and publisher are optional.
type InApp struct {
	store     contracts.NotificationStore
	pusher    Pusher
	publisher TriggerPublisher
	log       zerolog.Logger
}

// NewInApp creates the in-app sender
func NewInApp(store contracts.NotificationStore, pusher Pusher, publisher TriggerPublisher) *InApp {
	return &InApp{
		store:     store,
		pusher:    pusher,
		publisher: publisher,
		log:       logger.WithComponent("notifier.inapp"),
	}
}

// Channel implements contracts.Sender
func (n *InApp) Channel() models.Channel {
	return models.ChannelInApp
}

// Send persists the notification. Push and publish failures are logged, not returned.
func (n *InApp) Send(ctx context.Context, trigger models.AlertTrigger, prefs models.UserDeliveryPreferences) error {
	notification := models.InAppNotification{
		NotificationID: uuid.New().String(),
		TriggerID:      trigger.TriggerID,
		UserID:         trigger.UserID,
		Severity:       trigger.Severity,
		Title:          trigger.Title,
		Message:        trigger.Message,
		Status:         models.DeliverySent,
		CreatedAt:      time.Now().UTC(),
	}

	if err := n.store.SaveNotification(ctx, notification); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}

	if n.pusher != nil {
		sockets := n.pusher.SendToUser(trigger.UserID, hub.ServerMessage{
			Type:      hub.MessageTypeAlert,
			Payload:   trigger,
			Timestamp: notification.CreatedAt,
		})
		n.log.Debug().
			Str("trigger_id", trigger.TriggerID).
			Int("sockets", sockets).
			Msg("pushed in-app alert")
	}

	if n.publisher != nil {
		if err := n.publisher.PublishTrigger(ctx, trigger); err != nil {
			n.log.Warn().Err(err).Str("trigger_id", trigger.TriggerID).Msg("failed to publish trigger")
		}
	}

	return nil
}
