package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// Payment is the local record of a payment initiated at a bank. The bank owns the
// status; the record keeps the last one seen.
type Payment struct {
	ID             string
	UserID         string
	ConsentID      string
	BankCode       string
	Type           Type
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Recipient      string
	Status         Status
	StatusReason   string
	IdempotencyKey string
	ScheduledFor   *time.Time
	Frequency      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewPayment builds the record of req once the bank acknowledged it as res.
func NewPayment(userID, bankCode string, req *Request, res *Result, now time.Time) *Payment {
	currency := req.Currency
	if currency == "" {
		currency = "BRL"
	}
	return &Payment{
		ID:             res.PaymentID,
		UserID:         userID,
		ConsentID:      res.ConsentID,
		BankCode:       bankCode,
		Type:           req.Type,
		Amount:         req.Amount,
		Currency:       currency,
		Description:    req.Description,
		Recipient:      req.Recipient(),
		Status:         res.Status,
		IdempotencyKey: res.IdempotencyKey,
		ScheduledFor:   req.ScheduledFor,
		Frequency:      req.Frequency,
		CreatedAt:      res.CreatedAt,
		UpdatedAt:      now,
	}
}

// Recipient is a display label: the PIX key, or the name and account for TED and DOC.
func (r *Request) Recipient() string {
	if r.Type == TypePIX {
		return r.RecipientKey
	}
	label := r.RecipientBankCode + "/" + r.RecipientAgency + "/" + r.RecipientAccount
	if r.RecipientName != "" {
		label = r.RecipientName + " (" + label + ")"
	}
	return label
}

// BankStatus is a payment status reported by the bank.
type BankStatus struct {
	Status    Status
	Reason    string
	UpdatedAt time.Time
}

// Filter selects a user's payments, newest first. Zero fields do not filter.
type Filter struct {
	UserID    string
	ConsentID string
	Type      Type
	Status    Status
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// Normalize applies the paging defaults and bounds.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

// Offset is the number of rows before the requested page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Matches reports whether p passes every set field of f except paging.
func (f Filter) Matches(p *Payment) bool {
	switch {
	case f.UserID != "" && p.UserID != f.UserID:
		return false
	case f.ConsentID != "" && p.ConsentID != f.ConsentID:
		return false
	case f.Type != "" && p.Type != f.Type:
		return false
	case f.Status != "" && p.Status != f.Status:
		return false
	case f.From != nil && p.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && p.CreatedAt.After(*f.To):
		return false
	}
	return true
}

// Page is one page of a payment listing.
type Page struct {
	Payments []*Payment
	Total    int
	Page     int
	PageSize int
}

// Repository stores payment records. Get returns nil, nil when nothing matches.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	UpdateStatus(ctx context.Context, id string, s BankStatus) error
	List(ctx context.Context, f Filter) ([]*Payment, int, error)
}
