package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// ErrNoRecipient is returned when the user has no address for the channel
var ErrNoRecipient = errors.New("no recipient configured")

type sendFunc func(serviceURL, message string, params *types.Params) []error

// Email delivers triggers over SMTP using a shoutrrr smtp:// URL.
// The recipient from the user's preferences is set per message.
type Email struct {
	smtpURL string
	send    sendFunc
}

// NewEmail creates the email sender for smtpURL
func NewEmail(smtpURL string) *Email {
	return &Email{
		smtpURL: smtpURL,
		send:    shoutrrrSend,
	}
}

// Channel implements contracts.Sender
func (e *Email) Channel() models.Channel {
	return models.ChannelEmail
}

// Send mails the trigger to prefs.Email
func (e *Email) Send(ctx context.Context, trigger models.AlertTrigger, prefs models.UserDeliveryPreferences) error {
	if prefs.Email == "" {
		return fmt.Errorf("email for user %s: %w", trigger.UserID, ErrNoRecipient)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	serviceURL, err := withRecipient(e.smtpURL, prefs.Email)
	if err != nil {
		return err
	}

	params := types.Params{"subject": EmailSubject(trigger)}
	if errs := e.send(serviceURL, EmailBody(trigger), &params); len(errs) > 0 {
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
	}
	return nil
}

// EmailSubject returns the subject line for a trigger
func EmailSubject(trigger models.AlertTrigger) string {
	return "Fortuna Alert: " + trigger.Title
}

// EmailBody renders the plain text body for a trigger
func EmailBody(trigger models.AlertTrigger) string {
	var sb strings.Builder

	sb.WriteString(trigger.Message)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("Severity: %s\n", strings.ToUpper(string(trigger.Severity))))
	sb.WriteString(fmt.Sprintf("Type: %s\n", trigger.TriggerType))
	sb.WriteString(fmt.Sprintf("Triggered: %s\n", trigger.TriggeredAt.UTC().Format("2006-01-02 15:04:05 MST")))
	if trigger.ExpiresAt != nil {
		sb.WriteString(fmt.Sprintf("Expires: %s\n", trigger.ExpiresAt.UTC().Format("2006-01-02 15:04:05 MST")))
	}
	sb.WriteString(fmt.Sprintf("\nAlert ID: %s\n", trigger.TriggerID))

	return sb.String()
}

func withRecipient(smtpURL, address string) (string, error) {
	u, err := url.Parse(smtpURL)
	if err != nil {
		return "", fmt.Errorf("invalid smtp url: %w", err)
	}
	q := u.Query()
	q.Set("toaddresses", address)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func shoutrrrSend(serviceURL, message string, params *types.Params) []error {
	sender, err := shoutrrr.CreateSender(serviceURL)
	if err != nil {
		return []error{fmt.Errorf("create sender: %w", err)}
	}
	return sender.Send(message, params)
}
