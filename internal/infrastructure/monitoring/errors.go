// Package monitoring normalizes bank API failures into the error taxonomy and
// aggregates them into metrics and health.
package monitoring

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ofbconnect/internal/shared/apperr"
)

// ReplaySafeHeader is set by banks that guarantee a failed request had no side effect.
const ReplaySafeHeader = "x-idempotency-replay-safe"

type bankErrorBody struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// MapHTTPError converts a non-2xx bank response into a *apperr.BankAPIError.
func MapHTTPError(bankCode string, status int, header http.Header, body []byte) *apperr.BankAPIError {
	e := &apperr.BankAPIError{BankCode: bankCode, StatusCode: status}

	var parsed bankErrorBody
	if json.Unmarshal(body, &parsed) == nil && len(parsed.Errors) > 0 {
		first := parsed.Errors[0]
		e.Code = first.Code
		e.Detail = first.Detail
		if e.Detail == "" {
			e.Detail = first.Title
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = apperr.KindRateLimited
		e.RetryAfter = retryAfter(header.Get("Retry-After"))
		e.SafeToRetry = true
	case status == http.StatusServiceUnavailable:
		e.Kind = apperr.KindServerError
		e.RetryAfter = retryAfter(header.Get("Retry-After"))
		e.SafeToRetry = true
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		e.Kind = apperr.KindTimeout
	case status >= 500:
		e.Kind = apperr.KindServerError
	case status == 495 || status == 496:
		// nginx-style client certificate errors
		e.Kind = apperr.KindCertificate
	default:
		e.Kind = apperr.KindValidation
	}

	if strings.EqualFold(header.Get(ReplaySafeHeader), "true") {
		e.SafeToRetry = true
	}
	return e
}

// MapTransportError converts a failure that produced no HTTP response.
func MapTransportError(bankCode string, err error) *apperr.BankAPIError {
	if existing, ok := apperr.AsBankAPIError(err); ok {
		return existing
	}
	e := &apperr.BankAPIError{BankCode: bankCode, Err: err}

	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		invalidCert x509.CertificateInvalidError
		hostnameErr x509.HostnameError
		alertErr    tls.AlertError
		netErr      net.Error
	)
	switch {
	case errors.As(err, &verifyErr), errors.As(err, &unknownAuth), errors.As(err, &invalidCert),
		errors.As(err, &hostnameErr), errors.As(err, &alertErr):
		e.Kind = apperr.KindCertificate
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = apperr.KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Kind = apperr.KindTimeout
	default:
		// Connection resets and refusals are worth another attempt.
		e.Kind = apperr.KindServerError
	}
	// Nothing reached the bank when the connection could not be established.
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		e.SafeToRetry = true
	}
	return e
}

func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
