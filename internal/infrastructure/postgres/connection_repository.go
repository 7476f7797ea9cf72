package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"ofbconnect/internal/domain/connection"
)

type ConnectionRepository struct {
	db *DB
}

func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `id, user_id, consent_id, bank_code, bank_name, status, account_ids,
	last_sync_at, sync_frequency, sync_time, next_sync_at, created_at, updated_at`

func (r *ConnectionRepository) Create(ctx context.Context, c *connection.Connection) error {
	query := `INSERT INTO connections (` + connectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.UserID, c.ConsentID, c.BankCode, c.BankName, string(c.Status), pq.Array(c.AccountIDs),
		c.LastSyncAt, string(c.SyncFrequency), c.SyncTime, c.NextSyncAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

func scanConnection(row scanner) (*connection.Connection, error) {
	var c connection.Connection
	var status, freq string
	err := row.Scan(
		&c.ID, &c.UserID, &c.ConsentID, &c.BankCode, &c.BankName, &status, pq.Array(&c.AccountIDs),
		&c.LastSyncAt, &freq, &c.SyncTime, &c.NextSyncAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = connection.Status(status)
	c.SyncFrequency = connection.Frequency(freq)
	return &c, nil
}

func (r *ConnectionRepository) getOne(ctx context.Context, where string, arg any) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE ` + where + ` = $1`
	c, err := scanConnection(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return c, nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	return r.getOne(ctx, "id", id)
}

func (r *ConnectionRepository) GetByConsentID(ctx context.Context, consentID string) (*connection.Connection, error) {
	return r.getOne(ctx, "consent_id", consentID)
}

func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID string) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, query, userID)
}

func (r *ConnectionRepository) ListDue(ctx context.Context, now time.Time) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections
		WHERE status = $1 AND next_sync_at IS NOT NULL AND next_sync_at <= $2
		ORDER BY next_sync_at ASC`
	return r.list(ctx, query, string(connection.StatusActive), now)
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...any) ([]*connection.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []*connection.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id string, status connection.Status, at time.Time) error {
	return r.exec(ctx, `UPDATE connections SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
}

func (r *ConnectionRepository) MarkSynced(ctx context.Context, id string, syncedAt time.Time, next *time.Time) error {
	return r.exec(ctx, `UPDATE connections SET last_sync_at = $2, next_sync_at = $3, updated_at = $2 WHERE id = $1`, id, syncedAt, next)
}

func (r *ConnectionRepository) exec(ctx context.Context, query string, id string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("connection %s not found", id)
	}
	return nil
}

const accountColumns = `id, connection_id, external_id, type, subtype, currency, brand_name, company_cnpj,
	masked_number, masked_agency, available_balance, blocked_balance, invested_balance,
	balance_updated_at, created_at, updated_at`

// UpsertAccount inserts the account or refreshes the descriptive fields of the
// row with the same (connection_id, external_id). xmax = 0 marks a fresh insert.
func (r *ConnectionRepository) UpsertAccount(ctx context.Context, a *connection.Account) (*connection.Account, bool, error) {
	query := `
		INSERT INTO bank_accounts (id, connection_id, external_id, type, subtype, currency, brand_name,
			company_cnpj, masked_number, masked_agency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (connection_id, external_id) DO UPDATE SET
			type = EXCLUDED.type,
			subtype = EXCLUDED.subtype,
			currency = EXCLUDED.currency,
			brand_name = EXCLUDED.brand_name,
			company_cnpj = EXCLUDED.company_cnpj,
			masked_number = EXCLUDED.masked_number,
			masked_agency = EXCLUDED.masked_agency,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + accountColumns + `, (xmax = 0)
	`
	var stored connection.Account
	var available, blocked, invested decimal.NullDecimal
	var created bool
	err := r.db.QueryRowContext(ctx, query,
		a.ID, a.ConnectionID, a.ExternalID, a.Type, a.Subtype, a.Currency, a.BrandName,
		a.CompanyCNPJ, a.MaskedNumber, a.MaskedAgency, a.CreatedAt, a.UpdatedAt,
	).Scan(
		&stored.ID, &stored.ConnectionID, &stored.ExternalID, &stored.Type, &stored.Subtype,
		&stored.Currency, &stored.BrandName, &stored.CompanyCNPJ, &stored.MaskedNumber,
		&stored.MaskedAgency, &available, &blocked, &invested, &stored.BalanceUpdatedAt,
		&stored.CreatedAt, &stored.UpdatedAt, &created,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert account: %w", err)
	}
	setBalances(&stored, available, blocked, invested)
	return &stored, created, nil
}

func setBalances(a *connection.Account, available, blocked, invested decimal.NullDecimal) {
	if available.Valid {
		a.AvailableBalance = &available.Decimal
	}
	if blocked.Valid {
		a.BlockedBalance = &blocked.Decimal
	}
	if invested.Valid {
		a.InvestedBalance = &invested.Decimal
	}
}

func (r *ConnectionRepository) ListAccounts(ctx context.Context, connectionID string) ([]*connection.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM bank_accounts WHERE connection_id = $1 ORDER BY external_id`

	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []*connection.Account
	for rows.Next() {
		var a connection.Account
		var available, blocked, invested decimal.NullDecimal
		if err := rows.Scan(
			&a.ID, &a.ConnectionID, &a.ExternalID, &a.Type, &a.Subtype, &a.Currency, &a.BrandName,
			&a.CompanyCNPJ, &a.MaskedNumber, &a.MaskedAgency, &available, &blocked, &invested,
			&a.BalanceUpdatedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		setBalances(&a, available, blocked, invested)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *ConnectionRepository) UpdateAccountBalance(ctx context.Context, accountID string, b connection.Balance) error {
	query := `
		UPDATE bank_accounts
		SET available_balance = $2, blocked_balance = $3, invested_balance = $4,
			balance_updated_at = $5, updated_at = $5
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, accountID, b.Available, b.Blocked, b.AutomaticallyInvested, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s not found", accountID)
	}
	return nil
}
