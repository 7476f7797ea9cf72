// Package payment describes payment initiation requests and their local validation.
package payment

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ofbconnect/internal/shared/apperr"
)

type Type string

const (
	TypePIX Type = "PIX"
	TypeTED Type = "TED"
	TypeDOC Type = "DOC"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusScheduled Status = "SCHEDULED"
	StatusAccepted  Status = "ACCEPTED"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether the bank will not change the status again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether the payment has not been settled yet.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusScheduled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusAccepted, StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

var (
	pixKeyTypes = []string{"CPF", "CNPJ", "EMAIL", "PHONE", "EVP"}
	frequencies = []string{"daily", "weekly", "monthly", "yearly"}
)

// Request is a payment to be initiated under a consent with the payments scope.
type Request struct {
	Type        Type
	Amount      decimal.Decimal
	Currency    string
	Description string

	// PIX
	RecipientKey     string
	RecipientKeyType string

	// TED and DOC
	RecipientBankCode string
	RecipientAgency   string
	RecipientAccount  string
	RecipientName     string
	RecipientDocument string

	ScheduledFor *time.Time
	// Frequency makes the payment recurring: daily, weekly, monthly or yearly.
	Frequency string
}

// Validate checks the request before anything is sent to the bank. It returns a
// *apperr.PaymentValidationError listing every offending field.
func (r *Request) Validate(now time.Time) error {
	var fields []apperr.FieldError
	add := func(field, reason string) {
		fields = append(fields, apperr.FieldError{Field: field, Reason: reason})
	}

	if !r.Amount.IsPositive() {
		add("amount", "must be greater than zero")
	}
	if r.Currency != "" && r.Currency != "BRL" {
		add("currency", "only BRL is supported")
	}

	switch r.Type {
	case TypePIX:
		if strings.TrimSpace(r.RecipientKey) == "" {
			add("recipient_key", "is required for PIX")
		}
		if !slices.Contains(pixKeyTypes, strings.ToUpper(r.RecipientKeyType)) {
			add("recipient_key_type", "must be one of "+strings.Join(pixKeyTypes, ", "))
		}
	case TypeTED, TypeDOC:
		required := []struct{ field, value string }{
			{"recipient_bank_code", r.RecipientBankCode},
			{"recipient_agency", r.RecipientAgency},
			{"recipient_account", r.RecipientAccount},
			{"recipient_name", r.RecipientName},
		}
		for _, f := range required {
			if strings.TrimSpace(f.value) == "" {
				add(f.field, "is required for "+string(r.Type))
			}
		}
	default:
		add("type", "must be PIX, TED or DOC")
	}

	if r.ScheduledFor != nil && r.ScheduledFor.Before(truncateDay(now)) {
		add("scheduled_for", "cannot be in the past")
	}
	if r.Frequency != "" && !slices.Contains(frequencies, strings.ToLower(r.Frequency)) {
		add("frequency", "must be one of "+strings.Join(frequencies, ", "))
	}

	if len(fields) > 0 {
		return &apperr.PaymentValidationError{Fields: fields}
	}
	return nil
}

// InitialStatus is SCHEDULED for a future date and PENDING otherwise.
func (r *Request) InitialStatus(now time.Time) Status {
	if r.ScheduledFor != nil && r.ScheduledFor.After(now) {
		return StatusScheduled
	}
	return StatusPending
}

// Result is the bank's acknowledgement of an initiated payment. Settlement is
// not awaited.
type Result struct {
	PaymentID      string
	ConsentID      string
	Status         Status
	IdempotencyKey string
	CreatedAt      time.Time
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
