// Package listener receives consent status notifications published by the
// database trigger on the consents table.
package listener

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	channelName       = "consent_terminated"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

// ConsentNotification is the payload of a consent_terminated notification.
type ConsentNotification struct {
	ConsentID string `json:"consent_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
}

// Handler reacts to a consent that reached a terminal status, possibly on another instance.
type Handler func(ctx context.Context, n ConsentNotification) error

// ConsentListener listens for consent_terminated notifications so every API
// instance purges tokens and disconnects connections, even for consents revoked
// by another instance or directly in the database.
type ConsentListener struct {
	connStr    string
	handle     Handler
	shutdownCh chan struct{}
	done       chan struct{}
}

func NewConsentListener(connStr string, handle Handler) *ConsentListener {
	return &ConsentListener{
		connStr:    connStr,
		handle:     handle,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening in a background goroutine.
func (l *ConsentListener) Start(ctx context.Context) {
	go l.listen(ctx)
	log.Info().Str("channel", channelName).Msg("Consent notification listener started")
}

// Stop shuts the listener down and waits for it.
func (l *ConsentListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	log.Info().Msg("Consent notification listener stopped")
}

func (l *ConsentListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			log.Info().Msg("Reconnecting to PostgreSQL for consent notifications")
		}
	}
}

func (l *ConsentListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Info().Msg("Connected to PostgreSQL notification channel")
		case pq.ListenerEventDisconnected:
			log.Warn().Err(err).Msg("Disconnected from PostgreSQL notification channel")
		case pq.ListenerEventReconnected:
			log.Info().Msg("Reconnected to PostgreSQL notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Error().Err(err).Msg("PostgreSQL notification connection attempt failed")
		}
	})
	defer listener.Close()

	if err := listener.Listen(channelName); err != nil {
		log.Error().Err(err).Str("channel", channelName).Msg("Failed to listen")
		return
	}

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				return
			}
			l.dispatch(n)
		case <-time.After(pingInterval):
			go func() {
				if err := listener.Ping(); err != nil {
					log.Warn().Err(err).Msg("Listener ping failed")
				}
			}()
		}
	}
}

func (l *ConsentListener) dispatch(n *pq.Notification) {
	payload, err := Parse(n.Extra)
	if err != nil {
		log.Error().Err(err).Msg("Failed to parse consent notification")
		return
	}
	// The parent context may already be cancelled during shutdown.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := l.handle(ctx, payload); err != nil {
			log.Error().Err(err).
				Str("consent_id", payload.ConsentID).
				Str("status", payload.Status).
				Msg("Failed to handle consent notification")
		}
	}()
}

// Parse decodes a notification payload.
func Parse(extra string) (ConsentNotification, error) {
	var payload ConsentNotification
	err := json.Unmarshal([]byte(extra), &payload)
	return payload, err
}
