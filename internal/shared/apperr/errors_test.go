package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestBankAPIError_Is(t *testing.T) {
	tests := []struct {
		name     string
		kind     BankErrorKind
		target   error
		wantIs   bool
		wantTran bool
	}{
		{name: "rate limited matches sub-kind", kind: KindRateLimited, target: ErrRateLimited, wantIs: true, wantTran: true},
		{name: "server error matches umbrella", kind: KindServerError, target: ErrBankAPI, wantIs: true, wantTran: true},
		{name: "certificate does not match rate limited", kind: KindCertificate, target: ErrRateLimited, wantIs: false, wantTran: false},
		{name: "validation matches sub-kind", kind: KindValidation, target: ErrValidation, wantIs: true, wantTran: false},
		{name: "timeout matches sub-kind", kind: KindTimeout, target: ErrTimeout, wantIs: true, wantTran: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &BankAPIError{Kind: tt.kind, StatusCode: 500})
			if got := errors.Is(err, tt.target); got != tt.wantIs {
				t.Errorf("errors.Is() = %v, want %v", got, tt.wantIs)
			}
			apiErr, ok := AsBankAPIError(err)
			if !ok {
				t.Fatal("AsBankAPIError() = false, want true")
			}
			if apiErr.Transient() != tt.wantTran {
				t.Errorf("Transient() = %v, want %v", apiErr.Transient(), tt.wantTran)
			}
		})
	}
}

func TestBankAPIError_ErrorIncludesAttempts(t *testing.T) {
	err := &BankAPIError{Kind: KindRateLimited, BankCode: "001", StatusCode: 429, Attempts: 4}
	want := "bank api error (RATE_LIMITED) bank=001 status=429 after 4 attempts"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestPaymentValidationError(t *testing.T) {
	err := &PaymentValidationError{Fields: []FieldError{
		{Field: "amount", Reason: "must be greater than zero"},
		{Field: "recipient.pix_key", Reason: "is required"},
	}}

	if !errors.Is(err, ErrPaymentValidation) {
		t.Error("errors.Is(err, ErrPaymentValidation) = false, want true")
	}
	want := "payment validation failed: amount: must be greater than zero; recipient.pix_key: is required"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", ErrInvalidScope), "invalid_scope"},
		{InvalidTransition("c1", "REVOKED", "ACTIVE"), "invalid_state_transition"},
		{ErrAuthorizationExpired, "authorization_expired"},
		{fmt.Errorf("vault: %w", ErrTokenExpired), "token_expired"},
		{&BankAPIError{Kind: KindCertificate}, "bank_certificate_error"},
		{&PaymentValidationError{}, "payment_validation"},
		{fmt.Errorf("callback: %w", ErrAuthorizationInProgress), "authorization_in_progress"},
		{ErrPaymentNotFound, "payment_not_found"},
		{fmt.Errorf("cancel: %w", ErrPaymentNotCancellable), "payment_not_cancellable"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
