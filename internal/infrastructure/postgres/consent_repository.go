package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"ofbconnect/internal/domain/consent"
)

type ConsentRepository struct {
	db *DB
}

func NewConsentRepository(db *DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

const consentColumns = `id, user_id, bank_code, scopes, permissions, status, status_reason,
	transaction_from, transaction_to, created_at, updated_at, expires_at, authorization_expires_at`

func (r *ConsentRepository) Create(ctx context.Context, c *consent.Consent) error {
	query := `INSERT INTO consents (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.UserID, c.BankCode, pq.Array(c.Scopes), pq.Array(c.Permissions),
		string(c.Status), c.StatusReason, c.TransactionFrom, c.TransactionTo,
		c.CreatedAt, c.UpdatedAt, c.ExpiresAt, c.AuthorizationExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create consent: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConsent(row scanner) (*consent.Consent, error) {
	var c consent.Consent
	var status string
	err := row.Scan(
		&c.ID, &c.UserID, &c.BankCode, pq.Array(&c.Scopes), pq.Array(&c.Permissions),
		&status, &c.StatusReason, &c.TransactionFrom, &c.TransactionTo,
		&c.CreatedAt, &c.UpdatedAt, &c.ExpiresAt, &c.AuthorizationExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = consent.Status(status)
	return &c, nil
}

func (r *ConsentRepository) GetByID(ctx context.Context, id string) (*consent.Consent, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE id = $1`

	c, err := scanConsent(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get consent: %w", err)
	}
	return c, nil
}

func (r *ConsentRepository) ListByUserID(ctx context.Context, userID string) ([]*consent.Consent, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

func (r *ConsentRepository) ListByStatus(ctx context.Context, status consent.Status) ([]*consent.Consent, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE status = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, string(status))
}

func (r *ConsentRepository) list(ctx context.Context, query string, args ...any) ([]*consent.Consent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	defer rows.Close()

	var out []*consent.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consent: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CompareAndSetStatus updates the row only while it still has the expected
// status, so concurrent transitions cannot both apply.
func (r *ConsentRepository) CompareAndSetStatus(ctx context.Context, p consent.TransitionParams) (bool, error) {
	query := `
		UPDATE consents
		SET status = $3,
			updated_at = $4,
			status_reason = CASE WHEN $5 = '' THEN status_reason ELSE $5 END,
			authorization_expires_at = COALESCE($6, authorization_expires_at)
		WHERE id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, query, p.ID, string(p.From), string(p.To), p.At, p.Reason, p.AuthorizationExpiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to update consent status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}
