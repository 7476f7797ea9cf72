package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	of "ofbconnect/internal/domain/openfinance"
)

// JobRepository persists sync jobs. Finished jobs are immutable: updates carry a
// guard on the stored status.
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, connection_id, user_id, sync_trigger, range_from, range_to, status,
	accounts_processed, accounts_failed, accounts_skipped, imported_count, skipped_count,
	errors, created_at, started_at, finished_at`

func (r *JobRepository) Create(ctx context.Context, j *of.SyncJob) error {
	query := `INSERT INTO sync_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.db.ExecContext(ctx, query,
		j.ID, j.ConnectionID, j.UserID, j.Trigger, j.From, j.To, string(j.Status),
		j.AccountsProcessed, j.AccountsFailed, j.AccountsSkipped, j.ImportedCount, j.SkippedCount,
		pq.Array(j.Errors), j.CreatedAt, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, j *of.SyncJob) error {
	query := `
		UPDATE sync_jobs SET
			status = $2, accounts_processed = $3, accounts_failed = $4, accounts_skipped = $5,
			imported_count = $6, skipped_count = $7, errors = $8, started_at = $9, finished_at = $10
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`
	res, err := r.db.ExecContext(ctx, query,
		j.ID, string(j.Status), j.AccountsProcessed, j.AccountsFailed, j.AccountsSkipped,
		j.ImportedCount, j.SkippedCount, pq.Array(j.Errors), j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	stored, err := r.GetByID(ctx, j.ID)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("sync job %s not found", j.ID)
	}
	return of.ErrJobFinalized
}

func scanJob(row scanner) (*of.SyncJob, error) {
	var j of.SyncJob
	var status string
	err := row.Scan(
		&j.ID, &j.ConnectionID, &j.UserID, &j.Trigger, &j.From, &j.To, &status,
		&j.AccountsProcessed, &j.AccountsFailed, &j.AccountsSkipped, &j.ImportedCount, &j.SkippedCount,
		pq.Array(&j.Errors), &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = of.JobStatus(status)
	return &j, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*of.SyncJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}
	return j, nil
}

func (r *JobRepository) ListByConnection(ctx context.Context, connectionID string, limit int) ([]*of.SyncJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE connection_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	defer rows.Close()

	var out []*of.SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// TransactionStore writes imported transactions, relying on the
// (account_id, external_id) unique key for de-duplication.
type TransactionStore struct {
	db *DB
}

func NewTransactionStore(db *DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) UpsertByExternalID(ctx context.Context, tx *of.ImportedTransaction) (bool, error) {
	query := `
		INSERT INTO imported_transactions (id, user_id, connection_id, account_id, external_id,
			booking_date, amount, currency, description, category_id, type, tags, notes, imported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (account_id, external_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.UserID, tx.ConnectionID, tx.AccountID, tx.ExternalID,
		tx.BookingDate, tx.Amount, tx.Currency, tx.Description, tx.CategoryID, tx.Type,
		pq.Array(tx.Tags), tx.Notes, tx.ImportedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ListByAccount returns the transactions of an account ordered by booking date.
func (s *TransactionStore) ListByAccount(ctx context.Context, accountID string) ([]*of.ImportedTransaction, error) {
	query := `
		SELECT id, user_id, connection_id, account_id, external_id, booking_date, amount, currency,
			description, category_id, type, tags, notes, imported_at
		FROM imported_transactions
		WHERE account_id = $1
		ORDER BY booking_date ASC, external_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*of.ImportedTransaction
	for rows.Next() {
		var tx of.ImportedTransaction
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.ConnectionID, &tx.AccountID, &tx.ExternalID, &tx.BookingDate,
			&tx.Amount, &tx.Currency, &tx.Description, &tx.CategoryID, &tx.Type,
			pq.Array(&tx.Tags), &tx.Notes, &tx.ImportedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, &tx)
	}
	return out, rows.Err()
}
