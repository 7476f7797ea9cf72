package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"ofbconnect/internal/domain/payment"
)

type PaymentRepository struct {
	db *DB
}

func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, user_id, consent_id, bank_code, payment_type, amount, currency,
	description, recipient, status, status_reason, idempotency_key, scheduled_for, frequency,
	created_at, updated_at`

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.ConsentID, p.BankCode, string(p.Type), p.Amount, p.Currency,
		p.Description, p.Recipient, string(p.Status), p.StatusReason, p.IdempotencyKey,
		p.ScheduledFor, p.Frequency, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func scanPayment(row scanner) (*payment.Payment, error) {
	var p payment.Payment
	var typ, status string
	err := row.Scan(
		&p.ID, &p.UserID, &p.ConsentID, &p.BankCode, &typ, &p.Amount, &p.Currency,
		&p.Description, &p.Recipient, &status, &p.StatusReason, &p.IdempotencyKey,
		&p.ScheduledFor, &p.Frequency, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Type, p.Status = payment.Type(typ), payment.Status(status)
	return &p, nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, s payment.BankStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET status = $2, status_reason = $3, updated_at = $4 WHERE id = $1`,
		id, string(s.Status), s.Reason, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("payment %s not found", id)
	}
	return nil
}

// List builds its WHERE clause from the set fields of f.
func (r *PaymentRepository) List(ctx context.Context, f payment.Filter) ([]*payment.Payment, int, error) {
	f.Normalize()
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.ConsentID != "" {
		add("consent_id = ?", f.ConsentID)
	}
	if f.Type != "" {
		add("payment_type = ?", string(f.Type))
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.From != nil {
		add("created_at >= ?", *f.From)
	}
	if f.To != nil {
		add("created_at <= ?", *f.To)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM payments%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		paymentColumns, where, f.PageSize, f.Offset())
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
