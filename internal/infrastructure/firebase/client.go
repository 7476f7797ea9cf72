// Package firebase delivers user notifications through Firebase Cloud Messaging.
package firebase

import (
	"context"
	"fmt"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	of "ofbconnect/internal/domain/openfinance"
	"ofbconnect/internal/shared/messages"
)

// Notification types carried in the data payload.
const (
	TypeSyncCompleted  = "sync_completed"
	TypeConsentExpired = "consent_expired"
)

type sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Notifier publishes to one FCM topic per user. Devices subscribe to
// "user-<id>" when the user logs in.
type Notifier struct {
	msgClient sender
	texts     *messages.Messages
}

var _ of.Notifier = (*Notifier)(nil)

// NewNotifier initializes a Firebase app from credentialsFile. texts may be nil
// to use the embedded message catalog.
func NewNotifier(ctx context.Context, credentialsFile string, texts *messages.Messages) (*Notifier, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}

	if texts == nil {
		texts = messages.Default()
	}
	return &Notifier{msgClient: msgClient, texts: texts}, nil
}

func UserTopic(userID string) string {
	return "user-" + userID
}

func (n *Notifier) SyncCompleted(ctx context.Context, userID, bankName string, imported int) error {
	return n.send(ctx, userID,
		n.texts.SyncComplete.Title,
		fmt.Sprintf(n.texts.SyncComplete.Body, imported, bankName),
		map[string]string{
			"type":     TypeSyncCompleted,
			"bank":     bankName,
			"imported": strconv.Itoa(imported),
		})
}

func (n *Notifier) ConsentExpired(ctx context.Context, userID, bankName string) error {
	return n.send(ctx, userID,
		n.texts.ConsentExpired.Title,
		fmt.Sprintf(n.texts.ConsentExpired.Body, bankName),
		map[string]string{
			"type": TypeConsentExpired,
			"bank": bankName,
		})
}

func (n *Notifier) send(ctx context.Context, userID, title, body string, data map[string]string) error {
	msg := &messaging.Message{
		Topic: UserTopic(userID),
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}

	id, err := n.msgClient.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send FCM message: %w", err)
	}
	log.Debug().Str("user_id", userID).Str("message_id", id).Str("type", data["type"]).Msg("Notification sent")
	return nil
}

// LogNotifier only logs. It is used when no Firebase credentials are configured.
type LogNotifier struct{}

var _ of.Notifier = LogNotifier{}

func (LogNotifier) SyncCompleted(ctx context.Context, userID, bankName string, imported int) error {
	log.Info().Str("user_id", userID).Str("bank", bankName).Int("imported", imported).Msg("Sync completed notification")
	return nil
}

func (LogNotifier) ConsentExpired(ctx context.Context, userID, bankName string) error {
	log.Info().Str("user_id", userID).Str("bank", bankName).Msg("Consent expired notification")
	return nil
}
