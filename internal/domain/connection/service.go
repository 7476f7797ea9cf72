package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ofbconnect/internal/domain/consent"
	"ofbconnect/internal/shared/apperr"
)

const defaultSyncTime = "06:00"

// Service contains the business logic for bank connections
type Service struct {
	repo     Repository
	now      func() time.Time
	syncTime string
}

// NewService creates a new connection service. defaultTime is the HH:MM used
// when a connection does not choose its own sync time.
func NewService(repo Repository, defaultTime string) *Service {
	if defaultTime == "" {
		defaultTime = defaultSyncTime
	}
	return &Service{repo: repo, now: time.Now, syncTime: defaultTime}
}

// Create registers a connection for an active consent. At least one account must
// have been discovered.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Connection, error) {
	if params.UserID == "" || params.ConsentID == "" {
		return nil, errors.New("user ID and consent ID are required")
	}
	if len(params.AccountIDs) == 0 {
		return nil, errors.New("a connection needs at least one discovered account")
	}
	if params.SyncFrequency == "" {
		params.SyncFrequency = FrequencyDaily
	}
	if !params.SyncFrequency.Valid() {
		return nil, fmt.Errorf("invalid sync frequency %q", params.SyncFrequency)
	}
	if params.SyncTime == "" {
		params.SyncTime = s.syncTime
	}

	now := s.now().UTC()
	next, err := NextSync(params.SyncFrequency, params.SyncTime, now)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		ID:            "conn_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		UserID:        params.UserID,
		ConsentID:     params.ConsentID,
		BankCode:      params.BankCode,
		BankName:      params.BankName,
		Status:        StatusActive,
		AccountIDs:    params.AccountIDs,
		SyncFrequency: params.SyncFrequency,
		SyncTime:      params.SyncTime,
		NextSyncAt:    &next,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	log.Info().
		Str("connection_id", c.ID).
		Str("consent_id", c.ConsentID).
		Str("bank_code", c.BankCode).
		Int("accounts", len(c.AccountIDs)).
		Msg("Bank connection created")
	return c, nil
}

// Get returns the connection or ErrConnectionNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Connection, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrConnectionNotFound, id)
	}
	return c, nil
}

// GetForUser returns the connection when userID owns it.
func (s *Service) GetForUser(ctx context.Context, id, userID string) (*Connection, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, fmt.Errorf("%w: %s", apperr.ErrConnectionNotFound, id)
	}
	return c, nil
}

// GetByConsent returns the connection created for consentID, or nil when none exists.
func (s *Service) GetByConsent(ctx context.Context, consentID string) (*Connection, error) {
	return s.repo.GetByConsentID(ctx, consentID)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Connection, error) {
	return s.repo.ListByUserID(ctx, userID)
}

// ListDue returns the active connections whose scheduled sync time has come.
func (s *Service) ListDue(ctx context.Context) ([]*Connection, error) {
	return s.repo.ListDue(ctx, s.now().UTC())
}

func (s *Service) ListAccounts(ctx context.Context, connectionID string) ([]*Account, error) {
	return s.repo.ListAccounts(ctx, connectionID)
}

// UpsertAccount records a discovered account, keyed by (connection, external id).
func (s *Service) UpsertAccount(ctx context.Context, a *Account) (*Account, bool, error) {
	if a.ConnectionID == "" || a.ExternalID == "" {
		return nil, false, errors.New("account needs a connection and an external ID")
	}
	now := s.now().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Currency == "" {
		a.Currency = "BRL"
	}
	a.CreatedAt, a.UpdatedAt = now, now
	return s.repo.UpsertAccount(ctx, a)
}

func (s *Service) UpdateBalance(ctx context.Context, accountID string, b Balance) error {
	return s.repo.UpdateAccountBalance(ctx, accountID, b)
}

// MarkSynced stamps a finished sync and schedules the next one.
func (s *Service) MarkSynced(ctx context.Context, c *Connection) error {
	now := s.now().UTC()
	var next *time.Time
	if n, err := NextSync(c.SyncFrequency, c.SyncTime, now); err == nil {
		next = &n
	} else {
		log.Warn().Err(err).Str("connection_id", c.ID).Msg("Cannot schedule next sync")
	}
	if err := s.repo.MarkSynced(ctx, c.ID, now, next); err != nil {
		return fmt.Errorf("failed to mark connection synced: %w", err)
	}
	c.LastSyncAt, c.NextSyncAt = &now, next
	return nil
}

// Disconnect marks the connection disconnected. Disconnecting twice is a no-op.
func (s *Service) Disconnect(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == StatusDisconnected {
		return nil
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusDisconnected, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	log.Info().
		Str("connection_id", id).
		Str("consent_id", c.ConsentID).
		Str("bank_code", c.BankCode).
		Msg("Bank connection disconnected")
	return nil
}

// ConsentTerminated disconnects the connection of a revoked or expired consent.
func (s *Service) ConsentTerminated(ctx context.Context, cs *consent.Consent) error {
	c, err := s.repo.GetByConsentID(ctx, cs.ID)
	if err != nil {
		return fmt.Errorf("failed to find connection for consent: %w", err)
	}
	if c == nil {
		return nil
	}
	return s.Disconnect(ctx, c.ID)
}
