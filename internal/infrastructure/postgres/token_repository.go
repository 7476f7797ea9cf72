package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"ofbconnect/internal/domain/token"
)

// TokenRepository stores encrypted token records. It never sees plaintext.
type TokenRepository struct {
	db *DB
}

func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Replace(ctx context.Context, rec *token.Record) error {
	query := `
		INSERT INTO consent_tokens (user_id, consent_id, access_token, refresh_token, token_type, scope, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, consent_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`
	var expires sql.NullTime
	if !rec.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: rec.ExpiresAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		rec.UserID, rec.ConsentID, rec.AccessToken, rec.RefreshToken,
		rec.TokenType, rec.Scope, expires, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, userID, consentID string) (*token.Record, error) {
	query := `
		SELECT user_id, consent_id, access_token, refresh_token, token_type, scope, expires_at, updated_at
		FROM consent_tokens
		WHERE user_id = $1 AND consent_id = $2
	`
	var rec token.Record
	var expires sql.NullTime
	err := r.db.QueryRowContext(ctx, query, userID, consentID).Scan(
		&rec.UserID, &rec.ConsentID, &rec.AccessToken, &rec.RefreshToken,
		&rec.TokenType, &rec.Scope, &expires, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	if expires.Valid {
		rec.ExpiresAt = expires.Time
	}
	return &rec, nil
}

func (r *TokenRepository) Delete(ctx context.Context, userID, consentID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM consent_tokens WHERE user_id = $1 AND consent_id = $2`, userID, consentID)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
