package openfinance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"ofbconnect/internal/domain/connection"
	"ofbconnect/internal/domain/consent"
	"ofbconnect/internal/domain/payment"
	"ofbconnect/internal/shared/apperr"
)

// ErrUnsupportedBank is returned when a connection is requested for an unknown bank code.
var ErrUnsupportedBank = errors.New("unsupported bank")

// ConnectParams holds the inputs of Connect.
type ConnectParams struct {
	UserID         string
	BankCode       string
	Scopes         []string
	ExpirationDays int
	Window         *consent.TransactionWindow
}

// ConnectResult is what the frontend needs to redirect the user to the bank.
type ConnectResult struct {
	AuthorizationURL string
	ConsentID        string
	// ExpiresAt is when the authorization window closes.
	ExpiresAt        time.Time
	ConsentExpiresAt time.Time
}

// CallbackParams are the query parameters of the bank redirect.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult reports the consent state after a callback was handled.
type CallbackResult struct {
	ConsentID    string
	Status       consent.Status
	ConnectionID string
}

// ConnectService runs the bank connection flow: consent creation, the
// authorization redirect, the callback and the first import.
type ConnectService struct {
	consents    *consent.Service
	tokens      TokenStore
	authorizer  Authorizer
	pending     PendingStore
	gateway     BankGateway
	payments    PaymentGateway
	records     payment.Repository
	connections *connection.Service
	engine      *SyncEngine
	notifier    Notifier
	banks       map[string]string
	queue       SyncQueue
	now         func() time.Time
}

// NewConnectService creates a connect service. banks maps supported bank codes
// to display names. notifier may be nil.
func NewConnectService(
	consents *consent.Service,
	tokens TokenStore,
	authorizer Authorizer,
	pending PendingStore,
	gateway BankGateway,
	payments PaymentGateway,
	records payment.Repository,
	connections *connection.Service,
	engine *SyncEngine,
	notifier Notifier,
	banks map[string]string,
) *ConnectService {
	return &ConnectService{
		consents:    consents,
		tokens:      tokens,
		authorizer:  authorizer,
		pending:     pending,
		gateway:     gateway,
		payments:    payments,
		records:     records,
		connections: connections,
		engine:      engine,
		notifier:    notifier,
		banks:       banks,
		now:         time.Now,
	}
}

// SetSyncQueue makes initial syncs and SyncAll run through q instead of inside the request.
func (s *ConnectService) SetSyncQueue(q SyncQueue) {
	s.queue = q
}

// Connect creates a consent for the bank and returns the authorization URL the
// user must be sent to.
func (s *ConnectService) Connect(ctx context.Context, params ConnectParams) (*ConnectResult, error) {
	if _, ok := s.banks[params.BankCode]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBank, params.BankCode)
	}

	c, err := s.consents.CreateConsent(ctx, consent.CreateParams{
		UserID:     params.UserID,
		BankCode:   params.BankCode,
		Scopes:     params.Scopes,
		Expiration: consent.ExpirationPolicy{Days: params.ExpirationDays},
		Window:     params.Window,
	})
	if err != nil {
		return nil, err
	}

	req, err := s.authorizer.BuildAuthorizationURL(ctx, c)
	if err != nil {
		s.abandon(ctx, c.ID, "authorization request failed")
		return nil, fmt.Errorf("failed to build authorization url: %w", err)
	}

	c, err = s.consents.BeginAuthorization(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	ttl := c.AuthorizationExpiresAt.Sub(c.UpdatedAt)
	if err := s.pending.Save(ctx, &PendingAuthorization{
		ConsentID: c.ID,
		UserID:    c.UserID,
		BankCode:  c.BankCode,
		Verifier:  req.Verifier,
		Nonce:     req.Nonce,
		CreatedAt: s.now().UTC(),
	}, ttl); err != nil {
		s.abandon(ctx, c.ID, "authorization state could not be stored")
		return nil, fmt.Errorf("failed to store pending authorization: %w", err)
	}

	log.Info().
		Str("consent_id", c.ID).
		Str("user_id", c.UserID).
		Str("bank_code", c.BankCode).
		Strs("scopes", c.Scopes).
		Msg("Bank authorization started")

	return &ConnectResult{
		AuthorizationURL: req.URL,
		ConsentID:        c.ID,
		ExpiresAt:        *c.AuthorizationExpiresAt,
		ConsentExpiresAt: c.ExpiresAt,
	}, nil
}

// HandleCallback consumes the bank redirect identified by its state parameter.
// Approval exchanges the code, stores the tokens, activates the consent, creates
// the connection and starts the initial sync. A repeated callback for an ACTIVE
// consent returns the current state without exchanging anything.
func (s *ConnectService) HandleCallback(ctx context.Context, params CallbackParams) (*CallbackResult, error) {
	consentID := strings.TrimSpace(params.State)
	if consentID == "" {
		return nil, fmt.Errorf("%w: missing state", apperr.ErrConsentNotFound)
	}

	if params.Error != "" {
		return s.deny(ctx, consentID, params)
	}

	c, err := s.consents.PrepareAuthorization(ctx, consentID)
	if err != nil {
		s.discardPending(ctx, consentID)
		return nil, err
	}
	if c.Status == consent.StatusActive {
		return s.ensureConnection(ctx, c)
	}

	pending, err := s.pending.Consume(ctx, consentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending authorization: %w", err)
	}
	if pending == nil {
		return s.claimedElsewhere(ctx, consentID)
	}
	if pending.UserID != c.UserID {
		return nil, fmt.Errorf("%w: %s", apperr.ErrConsentNotFound, consentID)
	}

	logger := log.With().
		Str("consent_id", c.ID).
		Str("user_id", c.UserID).
		Str("bank_code", c.BankCode).
		Logger()

	payload, err := s.authorizer.ExchangeCode(ctx, params.Code, pending.Verifier, c)
	if err != nil {
		logger.Warn().Err(err).Msg("Authorization code exchange failed")
		if errors.Is(err, apperr.ErrAuthorizationCodeInvalid) {
			s.abandon(ctx, consentID, "authorization code rejected")
		}
		return nil, err
	}
	if err := s.tokens.Store(ctx, c.UserID, c.ID, payload); err != nil {
		return nil, fmt.Errorf("failed to store tokens: %w", err)
	}

	c, err = s.consents.CompleteAuthorization(ctx, consentID, consent.AuthorizationResult{Approved: true})
	if err != nil {
		// The consent ended while the code was exchanged; its listeners may
		// already have run, so the tokens stored above are removed here.
		if rerr := s.tokens.Remove(ctx, pending.UserID, consentID); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to remove tokens of unauthorized consent")
		}
		return nil, err
	}
	return s.ensureConnection(ctx, c)
}

// claimedElsewhere answers a callback whose pending authorization was already
// consumed. Another callback either finished activating the consent or is still
// exchanging the code; neither case touches the consent. An AWAITING consent
// whose callback never completes is revoked by the sweep once its window closes.
func (s *ConnectService) claimedElsewhere(ctx context.Context, consentID string) (*CallbackResult, error) {
	c, err := s.consents.Get(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if c.Status != consent.StatusActive {
		return nil, fmt.Errorf("%w: consent %s", apperr.ErrAuthorizationInProgress, consentID)
	}
	result := &CallbackResult{ConsentID: c.ID, Status: c.Status}
	existing, err := s.connections.GetByConsent(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		result.ConnectionID = existing.ID
	}
	return result, nil
}

func (s *ConnectService) deny(ctx context.Context, consentID string, params CallbackParams) (*CallbackResult, error) {
	s.discardPending(ctx, consentID)
	reason := params.Error
	if params.ErrorDescription != "" {
		reason += ": " + params.ErrorDescription
	}
	c, err := s.consents.CompleteAuthorization(ctx, consentID, consent.AuthorizationResult{Reason: reason})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("consent_id", c.ID).
		Str("bank_code", c.BankCode).
		Str("reason", reason).
		Msg("Bank authorization denied")
	return &CallbackResult{ConsentID: c.ID, Status: c.Status}, nil
}

// ensureConnection creates the connection of an ACTIVE consent unless it exists.
func (s *ConnectService) ensureConnection(ctx context.Context, c *consent.Consent) (*CallbackResult, error) {
	result := &CallbackResult{ConsentID: c.ID, Status: c.Status}

	existing, err := s.connections.GetByConsent(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		result.ConnectionID = existing.ID
		return result, nil
	}

	session := Session{UserID: c.UserID, ConsentID: c.ID, BankCode: c.BankCode}
	accounts, err := s.gateway.ListAccounts(ctx, session)
	if err != nil {
		return result, fmt.Errorf("failed to discover accounts: %w", err)
	}
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ExternalID)
	}

	conn, err := s.connections.Create(ctx, connection.CreateParams{
		UserID:     c.UserID,
		ConsentID:  c.ID,
		BankCode:   c.BankCode,
		BankName:   s.banks[c.BankCode],
		AccountIDs: ids,
	})
	if err != nil {
		return result, err
	}
	result.ConnectionID = conn.ID

	s.startInitialSync(ctx, conn)
	return result, nil
}

func (s *ConnectService) startInitialSync(ctx context.Context, conn *connection.Connection) {
	if s.queue != nil {
		err := s.queue.EnqueueSync(conn.ID, TriggerInitial)
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("Sync queue rejected initial sync, running inline")
	}
	if _, err := s.engine.RunSync(ctx, conn.ID, SyncOptions{Trigger: TriggerInitial}); err != nil {
		log.Error().Err(err).Str("connection_id", conn.ID).Msg("Initial sync failed")
	}
}

// Sync runs a manual sync of a connection owned by userID.
func (s *ConnectService) Sync(ctx context.Context, userID, connectionID string, r *DateRange) (*SyncJob, error) {
	if _, err := s.connections.GetForUser(ctx, connectionID, userID); err != nil {
		return nil, err
	}
	return s.engine.RunSync(ctx, connectionID, SyncOptions{Range: r, Trigger: TriggerManual})
}

// Disconnect revokes the user's consent. Tokens are removed and the connection is
// disconnected by the consent's termination listeners.
func (s *ConnectService) Disconnect(ctx context.Context, userID, consentID string) (*consent.Consent, error) {
	if _, err := s.consents.GetForUser(ctx, consentID, userID); err != nil {
		return nil, err
	}
	s.discardPending(ctx, consentID)
	return s.consents.Revoke(ctx, consentID, "disconnected by user")
}

// InitiatePayment validates req locally and submits it under a consent that
// grants the payments scope. Nothing is sent to the bank when validation fails.
func (s *ConnectService) InitiatePayment(ctx context.Context, userID, consentID string, req *payment.Request) (*payment.Result, error) {
	if err := req.Validate(s.now()); err != nil {
		return nil, err
	}
	if _, err := s.consents.GetForUser(ctx, consentID, userID); err != nil {
		return nil, err
	}
	c, err := s.consents.RequireActive(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if !c.HasScopes(consent.ScopePayments) {
		return nil, fmt.Errorf("%w: consent %s does not grant %s", apperr.ErrInvalidScope, c.ID, consent.ScopePayments)
	}

	result, err := s.payments.InitiatePayment(ctx, req, Session{UserID: c.UserID, ConsentID: c.ID, BankCode: c.BankCode})
	if err != nil {
		log.Error().Err(err).
			Str("consent_id", c.ID).
			Str("bank_code", c.BankCode).
			Str("payment_type", string(req.Type)).
			Msg("Payment initiation failed")
		return nil, err
	}
	log.Info().
		Str("consent_id", c.ID).
		Str("bank_code", c.BankCode).
		Str("payment_id", result.PaymentID).
		Str("status", string(result.Status)).
		Msg("Payment initiated")

	// The bank already accepted the payment; a lost record must not fail the request.
	if err := s.records.Create(ctx, payment.NewPayment(c.UserID, c.BankCode, req, result, s.now().UTC())); err != nil {
		log.Error().Err(err).
			Str("consent_id", c.ID).
			Str("payment_id", result.PaymentID).
			Msg("Failed to record initiated payment")
	}
	return result, nil
}

// ExpireConsents runs the consent sweep and tells users whose consent expired.
func (s *ConnectService) ExpireConsents(ctx context.Context) (int, error) {
	terminated, err := s.consents.SweepExpired(ctx)
	for _, c := range terminated {
		if c.Status != consent.StatusExpired || s.notifier == nil {
			continue
		}
		if nerr := s.notifier.ConsentExpired(ctx, c.UserID, s.banks[c.BankCode]); nerr != nil {
			log.Warn().Err(nerr).Str("consent_id", c.ID).Msg("Consent expiry notification failed")
		}
	}
	return len(terminated), err
}

// BankName returns the display name of a supported bank.
func (s *ConnectService) BankName(code string) (string, bool) {
	name, ok := s.banks[code]
	return name, ok
}

// abandon revokes a consent whose authorization cannot proceed.
func (s *ConnectService) abandon(ctx context.Context, consentID, reason string) {
	if _, err := s.consents.Revoke(ctx, consentID, reason); err != nil {
		log.Error().Err(err).Str("consent_id", consentID).Msg("Failed to revoke abandoned consent")
	}
}

func (s *ConnectService) discardPending(ctx context.Context, consentID string) {
	if _, err := s.pending.Consume(ctx, consentID); err != nil {
		log.Warn().Err(err).Str("consent_id", consentID).Msg("Failed to discard pending authorization")
	}
}
