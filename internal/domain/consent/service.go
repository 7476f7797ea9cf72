package consent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ofbconnect/internal/shared/apperr"
)

const (
	defaultExpirationDays      = 90
	defaultAuthorizationWindow = 10 * time.Minute
	maxTransitionAttempts      = 3
)

// TerminationListener is notified after a consent reaches REVOKED or EXPIRED.
// Notifications are at-least-once: a repeated Revoke notifies again, so
// listeners must be idempotent.
type TerminationListener interface {
	ConsentTerminated(ctx context.Context, c *Consent) error
}

// Service owns the consent state machine.
type Service struct {
	repo        Repository
	now         func() time.Time
	authWindow  time.Duration
	defaultDays int

	mu        sync.RWMutex
	listeners []TerminationListener
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithAuthorizationWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.authWindow = d
		}
	}
}

func WithDefaultExpirationDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.defaultDays = days
		}
	}
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		now:         time.Now,
		authWindow:  defaultAuthorizationWindow,
		defaultDays: defaultExpirationDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddTerminationListener registers l for REVOKED and EXPIRED transitions.
func (s *Service) AddTerminationListener(l TerminationListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// CreateConsent stores a new consent in REQUESTED state.
func (s *Service) CreateConsent(ctx context.Context, params CreateParams) (*Consent, error) {
	if params.UserID == "" {
		return nil, errors.New("user ID is required")
	}
	scopes, err := normalizeScopes(params.Scopes)
	if err != nil {
		return nil, err
	}
	if params.Window != nil && params.Window.To.Before(params.Window.From) {
		return nil, fmt.Errorf("transaction window ends before it starts")
	}

	days := params.Expiration.Days
	if days <= 0 {
		days = s.defaultDays
	}

	now := s.now().UTC()
	c := &Consent{
		ID:          newID(),
		UserID:      params.UserID,
		BankCode:    params.BankCode,
		Scopes:      scopes,
		Permissions: PermissionsFor(scopes),
		Status:      StatusRequested,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.AddDate(0, 0, days),
	}
	if params.Window != nil {
		from, to := params.Window.From.UTC(), params.Window.To.UTC()
		c.TransactionFrom, c.TransactionTo = &from, &to
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create consent: %w", err)
	}

	log.Info().
		Str("consent_id", c.ID).
		Str("user_id", c.UserID).
		Str("bank_code", c.BankCode).
		Strs("scopes", c.Scopes).
		Msg("Consent requested")
	return c, nil
}

// BeginAuthorization moves REQUESTED to AWAITING_AUTHORIZATION once the authorization
// URL exists, opening the authorization window.
func (s *Service) BeginAuthorization(ctx context.Context, id string) (*Consent, error) {
	now := s.now().UTC()
	deadline := now.Add(s.authWindow)
	ok, err := s.repo.CompareAndSetStatus(ctx, TransitionParams{
		ID:                     id,
		From:                   StatusRequested,
		To:                     StatusAwaitingAuthorization,
		At:                     now,
		AuthorizationExpiresAt: &deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin authorization: %w", err)
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidTransition(id, string(c.Status), string(StatusAwaitingAuthorization))
	}
	return c, nil
}

// PrepareAuthorization checks that a callback for id may still be honoured before any
// token exchange. A callback after the window revokes the consent and returns
// ErrAuthorizationExpired. An already ACTIVE consent is returned as is.
func (s *Service) PrepareAuthorization(ctx context.Context, id string) (*Consent, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case StatusActive:
		return c, nil
	case StatusAwaitingAuthorization:
		if s.authorizationLate(c) {
			return nil, s.expireAuthorization(ctx, c)
		}
		return c, nil
	default:
		return nil, apperr.InvalidTransition(id, string(c.Status), string(StatusActive))
	}
}

// CompleteAuthorization consumes the bank redirect outcome. Approval moves
// AWAITING_AUTHORIZATION to ACTIVE; denial or a late callback moves it to REVOKED.
// A concurrent duplicate approval that finds the consent already ACTIVE is a no-op.
func (s *Service) CompleteAuthorization(ctx context.Context, id string, result AuthorizationResult) (*Consent, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Status == StatusActive && result.Approved {
		return c, nil
	}
	if c.Status != StatusAwaitingAuthorization {
		return nil, apperr.InvalidTransition(id, string(c.Status), targetOf(result))
	}
	if s.authorizationLate(c) {
		return nil, s.expireAuthorization(ctx, c)
	}

	if !result.Approved {
		reason := result.Reason
		if reason == "" {
			reason = "authorization denied"
		}
		return s.transitionToRevoked(ctx, c, StatusAwaitingAuthorization, reason)
	}

	now := s.now().UTC()
	ok, err := s.repo.CompareAndSetStatus(ctx, TransitionParams{
		ID: id, From: StatusAwaitingAuthorization, To: StatusActive, At: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to activate consent: %w", err)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		if current.Status == StatusActive {
			return current, nil
		}
		return nil, apperr.InvalidTransition(id, string(current.Status), string(StatusActive))
	}

	log.Info().
		Str("consent_id", id).
		Str("user_id", current.UserID).
		Str("bank_code", current.BankCode).
		Msg("Consent authorized")
	return current, nil
}

// Revoke moves any non-terminal consent to REVOKED. Revoking a REVOKED consent
// succeeds and re-notifies listeners; revoking an EXPIRED consent fails.
func (s *Service) Revoke(ctx context.Context, id, reason string) (*Consent, error) {
	if reason == "" {
		reason = "revoked by user"
	}
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		c, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		switch c.Status {
		case StatusRevoked:
			return c, s.notify(ctx, c)
		case StatusExpired:
			return nil, apperr.InvalidTransition(id, string(c.Status), string(StatusRevoked))
		}

		revoked, err := s.transitionToRevoked(ctx, c, c.Status, reason)
		if errors.Is(err, apperr.ErrInvalidStateTransition) {
			// Lost a race with another writer; re-read and decide again.
			continue
		}
		return revoked, err
	}
	return nil, fmt.Errorf("revoke consent %s: too much contention", id)
}

// CheckExpiration lazily moves ACTIVE to EXPIRED once ExpiresAt has passed.
func (s *Service) CheckExpiration(ctx context.Context, id string) (*Consent, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusActive || !s.now().After(c.ExpiresAt) {
		return c, nil
	}

	now := s.now().UTC()
	ok, err := s.repo.CompareAndSetStatus(ctx, TransitionParams{
		ID: id, From: StatusActive, To: StatusExpired, Reason: "consent expired", At: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expire consent: %w", err)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		log.Info().
			Str("consent_id", id).
			Str("user_id", current.UserID).
			Str("bank_code", current.BankCode).
			Msg("Consent expired")
		if err := s.notify(ctx, current); err != nil {
			return current, err
		}
	}
	return current, nil
}

// RequireActive returns the consent when data operations are allowed on it,
// and an ErrConsentRevoked error otherwise.
func (s *Service) RequireActive(ctx context.Context, id string) (*Consent, error) {
	c, err := s.CheckExpiration(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusActive {
		return nil, fmt.Errorf("%w: consent %s is %s", apperr.ErrConsentRevoked, id, c.Status)
	}
	return c, nil
}

// Get returns the consent or ErrConsentNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Consent, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get consent: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrConsentNotFound, id)
	}
	return c, nil
}

// GetForUser returns the consent when it belongs to userID, ErrConsentNotFound otherwise.
func (s *Service) GetForUser(ctx context.Context, id, userID string) (*Consent, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, fmt.Errorf("%w: %s", apperr.ErrConsentNotFound, id)
	}
	return c, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Consent, error) {
	return s.repo.ListByUserID(ctx, userID)
}

// SweepExpired expires ACTIVE consents past their expiration and revokes
// AWAITING_AUTHORIZATION consents whose window closed. It returns the consents it terminated.
func (s *Service) SweepExpired(ctx context.Context) ([]*Consent, error) {
	var terminated []*Consent

	active, err := s.repo.ListByStatus(ctx, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active consents: %w", err)
	}
	for _, c := range active {
		if !s.now().After(c.ExpiresAt) {
			continue
		}
		updated, err := s.CheckExpiration(ctx, c.ID)
		if err != nil {
			log.Error().Err(err).Str("consent_id", c.ID).Msg("Failed to expire consent")
			continue
		}
		if updated.Status == StatusExpired {
			terminated = append(terminated, updated)
		}
	}

	pending, err := s.repo.ListByStatus(ctx, StatusAwaitingAuthorization)
	if err != nil {
		return terminated, fmt.Errorf("failed to list pending consents: %w", err)
	}
	for _, c := range pending {
		if !s.authorizationLate(c) {
			continue
		}
		if err := s.expireAuthorization(ctx, c); !errors.Is(err, apperr.ErrAuthorizationExpired) {
			log.Error().Err(err).Str("consent_id", c.ID).Msg("Failed to revoke stale authorization")
			continue
		}
		if updated, err := s.Get(ctx, c.ID); err == nil {
			terminated = append(terminated, updated)
		}
	}

	return terminated, nil
}

func (s *Service) authorizationLate(c *Consent) bool {
	return c.AuthorizationExpiresAt != nil && s.now().After(*c.AuthorizationExpiresAt)
}

// expireAuthorization revokes a consent whose authorization window has closed and
// always returns an error: ErrAuthorizationExpired, or the failure that prevented revoking.
func (s *Service) expireAuthorization(ctx context.Context, c *Consent) error {
	_, err := s.transitionToRevoked(ctx, c, StatusAwaitingAuthorization, "authorization window expired")
	if err != nil && !errors.Is(err, apperr.ErrInvalidStateTransition) {
		return err
	}
	log.Warn().
		Str("consent_id", c.ID).
		Str("bank_code", c.BankCode).
		Msg("Authorization callback arrived after the window closed")
	return fmt.Errorf("%w: consent %s", apperr.ErrAuthorizationExpired, c.ID)
}

func (s *Service) transitionToRevoked(ctx context.Context, c *Consent, from Status, reason string) (*Consent, error) {
	ok, err := s.repo.CompareAndSetStatus(ctx, TransitionParams{
		ID: c.ID, From: from, To: StatusRevoked, Reason: reason, At: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to revoke consent: %w", err)
	}
	current, err := s.Get(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidTransition(c.ID, string(current.Status), string(StatusRevoked))
	}

	log.Info().
		Str("consent_id", c.ID).
		Str("user_id", c.UserID).
		Str("bank_code", c.BankCode).
		Str("reason", reason).
		Msg("Consent revoked")
	return current, s.notify(ctx, current)
}

func (s *Service) notify(ctx context.Context, c *Consent) error {
	s.mu.RLock()
	listeners := slices.Clone(s.listeners)
	s.mu.RUnlock()

	var errs []error
	for _, l := range listeners {
		if err := l.ConsentTerminated(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Str("consent_id", c.ID).Msg("Consent termination cleanup failed")
		return fmt.Errorf("consent %s cleanup: %w", c.ID, err)
	}
	return nil
}

func normalizeScopes(scopes []string) ([]string, error) {
	if len(scopes) == 0 {
		return nil, fmt.Errorf("%w: at least one scope is required", apperr.ErrInvalidScope)
	}
	out := make([]string, 0, len(scopes))
	var unsupported []string
	for _, s := range scopes {
		s = strings.ToLower(strings.TrimSpace(s))
		if _, ok := scopePermissions[s]; !ok {
			unsupported = append(unsupported, s)
			continue
		}
		out = append(out, s)
	}
	if len(unsupported) > 0 {
		return nil, fmt.Errorf("%w: %s", apperr.ErrInvalidScope, strings.Join(unsupported, ", "))
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func targetOf(result AuthorizationResult) string {
	if result.Approved {
		return string(StatusActive)
	}
	return string(StatusRevoked)
}
