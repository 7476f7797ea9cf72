// Package apperr holds the error taxonomy shared by the consent, token, gateway
// and sync layers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidScope             = errors.New("invalid scope")
	ErrConsentNotFound          = errors.New("consent not found")
	ErrInvalidStateTransition   = errors.New("invalid consent state transition")
	ErrAuthorizationExpired     = errors.New("authorization expired")
	ErrTokenExpired             = errors.New("token expired")
	ErrConsentRevoked           = errors.New("consent revoked")
	ErrAuthorizationCodeInvalid = errors.New("authorization code invalid")
	ErrPaymentValidation        = errors.New("payment validation failed")
	ErrConnectionNotFound       = errors.New("bank connection not found")
	ErrAuthorizationInProgress  = errors.New("authorization in progress")
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrPaymentNotCancellable    = errors.New("payment cannot be cancelled")

	// ErrBankAPI matches every *BankAPIError regardless of kind.
	ErrBankAPI     = errors.New("bank api error")
	ErrRateLimited = errors.New("bank api rate limited")
	ErrServerError = errors.New("bank api server error")
	ErrValidation  = errors.New("bank api validation error")
	ErrCertificate = errors.New("bank api certificate error")
	ErrTimeout     = errors.New("bank api timeout")
)

// BankErrorKind is the normalized sub-kind of a bank API failure.
type BankErrorKind string

const (
	KindRateLimited BankErrorKind = "RATE_LIMITED"
	KindServerError BankErrorKind = "SERVER_ERROR"
	KindValidation  BankErrorKind = "VALIDATION_ERROR"
	KindCertificate BankErrorKind = "CERTIFICATE_ERROR"
	KindTimeout     BankErrorKind = "TIMEOUT"
)

func (k BankErrorKind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindServerError:
		return ErrServerError
	case KindValidation:
		return ErrValidation
	case KindCertificate:
		return ErrCertificate
	case KindTimeout:
		return ErrTimeout
	}
	return nil
}

// BankAPIError is a bank HTTP or transport failure normalized by the monitoring adapter.
type BankAPIError struct {
	Kind       BankErrorKind
	BankCode   string
	StatusCode int
	Code       string
	Detail     string
	RetryAfter time.Duration
	// SafeToRetry is set when the bank signalled that no side effect occurred.
	SafeToRetry bool
	Attempts    int
	Err         error
}

func (e *BankAPIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bank api error (%s)", e.Kind)
	if e.BankCode != "" {
		fmt.Fprintf(&b, " bank=%s", e.BankCode)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status=%d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *BankAPIError) Is(target error) bool {
	if target == ErrBankAPI {
		return true
	}
	return target != nil && target == e.Kind.sentinel()
}

func (e *BankAPIError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure may succeed on a later attempt.
func (e *BankAPIError) Transient() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindTimeout:
		return true
	}
	return false
}

// AsBankAPIError unwraps err into a *BankAPIError.
func AsBankAPIError(err error) (*BankAPIError, bool) {
	var apiErr *BankAPIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// FieldError describes a single invalid field of a payment request.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// PaymentValidationError lists every problem found in a payment request.
type PaymentValidationError struct {
	Fields []FieldError
}

func (e *PaymentValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrPaymentValidation, strings.Join(parts, "; "))
}

func (e *PaymentValidationError) Is(target error) bool {
	return target == ErrPaymentValidation
}

// InvalidTransition returns an ErrInvalidStateTransition describing the attempted move.
func InvalidTransition(consentID, from, to string) error {
	return fmt.Errorf("%w: consent %s cannot move from %s to %s", ErrInvalidStateTransition, consentID, from, to)
}

// Kind returns a stable snake_case name for err, used as a metric label and message key.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	if apiErr, ok := AsBankAPIError(err); ok {
		return "bank_" + strings.ToLower(string(apiErr.Kind))
	}
	switch {
	case errors.Is(err, ErrInvalidScope):
		return "invalid_scope"
	case errors.Is(err, ErrConsentNotFound):
		return "consent_not_found"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrAuthorizationExpired):
		return "authorization_expired"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrConsentRevoked):
		return "consent_revoked"
	case errors.Is(err, ErrAuthorizationCodeInvalid):
		return "authorization_code_invalid"
	case errors.Is(err, ErrPaymentValidation):
		return "payment_validation"
	case errors.Is(err, ErrConnectionNotFound):
		return "connection_not_found"
	case errors.Is(err, ErrAuthorizationInProgress):
		return "authorization_in_progress"
	case errors.Is(err, ErrPaymentNotFound):
		return "payment_not_found"
	case errors.Is(err, ErrPaymentNotCancellable):
		return "payment_not_cancellable"
	}
	return "internal"
}
