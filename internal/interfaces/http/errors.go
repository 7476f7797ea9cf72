package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	of "ofbconnect/internal/domain/openfinance"
	"ofbconnect/internal/shared/apperr"
)

const kindUnsupportedBank = "unsupported_bank"

// ErrorResponse is the body of every failed /open-finance call. Message is the
// user-facing text; bank payloads are never echoed.
type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}

var kindStatus = map[string]int{
	"invalid_scope":              http.StatusBadRequest,
	"payment_validation":         http.StatusBadRequest,
	kindUnsupportedBank:          http.StatusBadRequest,
	"authorization_code_invalid": http.StatusBadRequest,
	"consent_not_found":          http.StatusNotFound,
	"connection_not_found":       http.StatusNotFound,
	"payment_not_found":          http.StatusNotFound,
	"invalid_state_transition":   http.StatusConflict,
	"authorization_in_progress":  http.StatusConflict,
	"payment_not_cancellable":    http.StatusConflict,
	"authorization_expired":      http.StatusGone,
	"token_expired":              http.StatusForbidden,
	"consent_revoked":            http.StatusForbidden,
	"bank_rate_limited":          http.StatusTooManyRequests,
	"bank_server_error":          http.StatusBadGateway,
	"bank_validation_error":      http.StatusUnprocessableEntity,
	"bank_certificate_error":     http.StatusServiceUnavailable,
	"bank_timeout":               http.StatusGatewayTimeout,
}

func errorKind(err error) string {
	if errors.Is(err, of.ErrUnsupportedBank) {
		return kindUnsupportedBank
	}
	return apperr.Kind(err)
}

// StatusFor maps an error from the domain layer to an HTTP status.
func StatusFor(err error) int {
	if status, ok := kindStatus[errorKind(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *OpenFinanceHandler) errorMessage(err error) string {
	if msg, ok := h.texts.Errors[errorKind(err)]; ok {
		return msg
	}
	return h.texts.ForError(err)
}

func (h *OpenFinanceHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errorKind(err)
	status := StatusFor(err)

	resp := ErrorResponse{Error: kind, Message: h.errorMessage(err)}

	var pve *apperr.PaymentValidationError
	if errors.As(err, &pve) {
		resp.Fields = pve.Fields
	}
	if apiErr, ok := apperr.AsBankAPIError(err); ok && apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(apiErr.RetryAfter.Seconds()))))
	}

	level := zerolog.InfoLevel
	if status >= http.StatusInternalServerError {
		level = zerolog.ErrorLevel
	}
	log.WithLevel(level).Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Str("kind", kind).
		Msg("Request failed")

	writeJSON(w, status, resp)
}
