package models

import (
	"fmt"
	"time"
)

// Channel is a delivery path for triggers
type Channel string

const (
	ChannelInApp   Channel = "IN_APP"
	ChannelEmail   Channel = "EMAIL"
	ChannelWebhook Channel = "WEBHOOK"
)

// Channels lists every delivery channel
var Channels = []Channel{ChannelInApp, ChannelEmail, ChannelWebhook}

// Valid reports whether c is a known channel
func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelWebhook:
		return true
	}
	return false
}

// DeliveryStatus is the state of one delivery attempt
type DeliveryStatus string

const (
	DeliveryPending      DeliveryStatus = "PENDING"
	DeliverySent         DeliveryStatus = "SENT"
	DeliveryFailed       DeliveryStatus = "FAILED"
	DeliveryAcknowledged DeliveryStatus = "ACKNOWLEDGED"
	DeliveryDismissed    DeliveryStatus = "DISMISSED"
)

// DeliveryAttempt records one attempt to deliver a trigger through one channel
type DeliveryAttempt struct {
	AlertEventID  string         `json:"alert_event_id"`
	UserID        string         `json:"user_id"`
	Channel       Channel        `json:"channel"`
	AttemptNumber int            `json:"attempt_number"`
	AttemptedAt   time.Time      `json:"attempted_at"`
	Status        DeliveryStatus `json:"status"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
}

// Key identifies the trigger and channel pair an attempt belongs to
func (a DeliveryAttempt) Key() string {
	return fmt.Sprintf("%s:%s", a.AlertEventID, a.Channel)
}

// InAppNotification is a stored in-app alert shown to the user
type InAppNotification struct {
	NotificationID string         `json:"notification_id"`
	TriggerID      string         `json:"trigger_id"`
	UserID         string         `json:"user_id"`
	Severity       Severity       `json:"severity"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Status         DeliveryStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}
