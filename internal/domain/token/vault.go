package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"ofbconnect/internal/domain/consent"
	"ofbconnect/internal/shared/apperr"
)

// Cipher seals token material with associated data.
type Cipher interface {
	EncryptBound(plaintext, binding string) (string, error)
	DecryptBound(ciphertext, binding string) (string, error)
}

// Refresher exchanges a refresh token for a new token set at the consent's bank.
type Refresher interface {
	Refresh(ctx context.Context, c *consent.Consent, refreshToken string) (*Payload, error)
}

// ConsentChecker gates token use on the owning consent being ACTIVE.
type ConsentChecker interface {
	RequireActive(ctx context.Context, id string) (*consent.Consent, error)
}

// Vault stores tokens per (user, consent) and hands out valid access tokens,
// refreshing at most once at a time per key.
type Vault struct {
	repo      Repository
	cipher    Cipher
	consents  ConsentChecker
	refresher Refresher
	now       func() time.Time
	flights   singleflight.Group
}

func NewVault(repo Repository, cipher Cipher, consents ConsentChecker, refresher Refresher) *Vault {
	return &Vault{
		repo:      repo,
		cipher:    cipher,
		consents:  consents,
		refresher: refresher,
		now:       time.Now,
	}
}

// Store encrypts payload and replaces any previous record for the key.
func (v *Vault) Store(ctx context.Context, userID, consentID string, payload *Payload) error {
	if payload == nil || payload.AccessToken == "" {
		return errors.New("token payload has no access token")
	}
	b := binding(userID, consentID)

	access, err := v.cipher.EncryptBound(payload.AccessToken, b)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := v.cipher.EncryptBound(payload.RefreshToken, b)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	rec := &Record{
		UserID:       userID,
		ConsentID:    consentID,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    payload.TokenType,
		Scope:        payload.Scope,
		ExpiresAt:    payload.ExpiresAt.UTC(),
		UpdatedAt:    v.now().UTC(),
	}
	if err := v.repo.Replace(ctx, rec); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	log.Debug().
		Str("user_id", userID).
		Str("consent_id", consentID).
		Time("expires_at", rec.ExpiresAt).
		Bool("has_refresh_token", payload.RefreshToken != "").
		Msg("Token stored")
	return nil
}

// GetValidAccessToken returns a usable access token, refreshing an expired one when
// a refresh token exists. It fails with ErrConsentRevoked when the consent is not
// ACTIVE and ErrTokenExpired when no usable token can be produced.
func (v *Vault) GetValidAccessToken(ctx context.Context, userID, consentID string) (string, error) {
	c, err := v.consents.RequireActive(ctx, consentID)
	if err != nil {
		return "", err
	}
	if c.UserID != userID {
		return "", fmt.Errorf("%w: %s", apperr.ErrConsentNotFound, consentID)
	}

	rec, err := v.repo.Get(ctx, userID, consentID)
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if rec == nil {
		return "", fmt.Errorf("%w: no token stored for consent %s", apperr.ErrTokenExpired, consentID)
	}
	if !rec.Expired(v.now()) {
		return v.cipher.DecryptBound(rec.AccessToken, binding(userID, consentID))
	}
	if rec.RefreshToken == "" {
		return "", fmt.Errorf("%w: consent %s has no refresh token", apperr.ErrTokenExpired, consentID)
	}

	access, err, _ := v.flights.Do(flightKey(userID, consentID), func() (any, error) {
		return v.refresh(ctx, c)
	})
	if err != nil {
		return "", err
	}
	return access.(string), nil
}

// refresh runs inside the single flight for the key. It re-reads the record so a
// caller that arrives just after another refresh finished does not refresh again.
func (v *Vault) refresh(ctx context.Context, c *consent.Consent) (string, error) {
	b := binding(c.UserID, c.ID)

	rec, err := v.repo.Get(ctx, c.UserID, c.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if rec == nil {
		return "", fmt.Errorf("%w: token removed for consent %s", apperr.ErrTokenExpired, c.ID)
	}
	if !rec.Expired(v.now()) {
		return v.cipher.DecryptBound(rec.AccessToken, b)
	}

	refreshToken, err := v.cipher.DecryptBound(rec.RefreshToken, b)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	if refreshToken == "" {
		return "", fmt.Errorf("%w: consent %s has no refresh token", apperr.ErrTokenExpired, c.ID)
	}

	payload, err := v.refresher.Refresh(ctx, c, refreshToken)
	if err != nil {
		log.Warn().Err(err).
			Str("consent_id", c.ID).
			Str("bank_code", c.BankCode).
			Msg("Token refresh failed")
		if errors.Is(err, apperr.ErrAuthorizationCodeInvalid) {
			return "", fmt.Errorf("%w: refresh rejected for consent %s: %w", apperr.ErrTokenExpired, c.ID, err)
		}
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	if payload.RefreshToken == "" {
		// Bank did not rotate the refresh token; keep using the current one.
		payload.RefreshToken = refreshToken
	}
	if err := v.Store(ctx, c.UserID, c.ID, payload); err != nil {
		return "", err
	}

	log.Info().
		Str("consent_id", c.ID).
		Str("bank_code", c.BankCode).
		Msg("Access token refreshed")
	return payload.AccessToken, nil
}

// Remove deletes the record for the key. Removing an absent record succeeds.
func (v *Vault) Remove(ctx context.Context, userID, consentID string) error {
	if err := v.repo.Delete(ctx, userID, consentID); err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	log.Debug().Str("user_id", userID).Str("consent_id", consentID).Msg("Token removed")
	return nil
}

// ConsentTerminated drops the tokens of a revoked or expired consent.
func (v *Vault) ConsentTerminated(ctx context.Context, c *consent.Consent) error {
	return v.Remove(ctx, c.UserID, c.ID)
}
