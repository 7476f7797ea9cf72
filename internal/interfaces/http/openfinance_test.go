package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ofbconnect/internal/domain/connection"
	"ofbconnect/internal/domain/consent"
	of "ofbconnect/internal/domain/openfinance"
	"ofbconnect/internal/domain/payment"
	"ofbconnect/internal/infrastructure/certstore"
	"ofbconnect/internal/infrastructure/monitoring"
	"ofbconnect/internal/shared/apperr"
	"ofbconnect/internal/shared/middleware"
)

// MockConnectService implements ConnectService for testing
type MockConnectService struct {
	ConnectFunc         func(ctx context.Context, params of.ConnectParams) (*of.ConnectResult, error)
	HandleCallbackFunc  func(ctx context.Context, params of.CallbackParams) (*of.CallbackResult, error)
	SyncFunc            func(ctx context.Context, userID, connectionID string, r *of.DateRange) (*of.SyncJob, error)
	DisconnectFunc      func(ctx context.Context, userID, consentID string) (*consent.Consent, error)
	InitiatePaymentFunc func(ctx context.Context, userID, consentID string, req *payment.Request) (*payment.Result, error)
	GetPaymentFunc      func(ctx context.Context, userID, paymentID string) (*payment.Payment, error)
	CancelPaymentFunc   func(ctx context.Context, userID, paymentID string) (*payment.Payment, error)
	ListPaymentsFunc    func(ctx context.Context, userID string, f payment.Filter) (*payment.Page, error)
	BalancesFunc        func(ctx context.Context, userID string) (*of.BalanceSummary, error)
	SyncAllFunc         func(ctx context.Context, userID string) ([]of.BankSyncResult, error)
}

func (m *MockConnectService) Connect(ctx context.Context, params of.ConnectParams) (*of.ConnectResult, error) {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockConnectService) HandleCallback(ctx context.Context, params of.CallbackParams) (*of.CallbackResult, error) {
	if m.HandleCallbackFunc != nil {
		return m.HandleCallbackFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockConnectService) Sync(ctx context.Context, userID, connectionID string, r *of.DateRange) (*of.SyncJob, error) {
	if m.SyncFunc != nil {
		return m.SyncFunc(ctx, userID, connectionID, r)
	}
	return nil, nil
}

func (m *MockConnectService) Disconnect(ctx context.Context, userID, consentID string) (*consent.Consent, error) {
	if m.DisconnectFunc != nil {
		return m.DisconnectFunc(ctx, userID, consentID)
	}
	return nil, nil
}

func (m *MockConnectService) InitiatePayment(ctx context.Context, userID, consentID string, req *payment.Request) (*payment.Result, error) {
	if m.InitiatePaymentFunc != nil {
		return m.InitiatePaymentFunc(ctx, userID, consentID, req)
	}
	return nil, nil
}

func (m *MockConnectService) GetPayment(ctx context.Context, userID, paymentID string) (*payment.Payment, error) {
	if m.GetPaymentFunc != nil {
		return m.GetPaymentFunc(ctx, userID, paymentID)
	}
	return nil, nil
}

func (m *MockConnectService) CancelPayment(ctx context.Context, userID, paymentID string) (*payment.Payment, error) {
	if m.CancelPaymentFunc != nil {
		return m.CancelPaymentFunc(ctx, userID, paymentID)
	}
	return nil, nil
}

func (m *MockConnectService) ListPayments(ctx context.Context, userID string, f payment.Filter) (*payment.Page, error) {
	if m.ListPaymentsFunc != nil {
		return m.ListPaymentsFunc(ctx, userID, f)
	}
	return &payment.Page{}, nil
}

func (m *MockConnectService) Balances(ctx context.Context, userID string) (*of.BalanceSummary, error) {
	if m.BalancesFunc != nil {
		return m.BalancesFunc(ctx, userID)
	}
	return &of.BalanceSummary{}, nil
}

func (m *MockConnectService) SyncAll(ctx context.Context, userID string) ([]of.BankSyncResult, error) {
	if m.SyncAllFunc != nil {
		return m.SyncAllFunc(ctx, userID)
	}
	return nil, nil
}

// MockConnectionReader implements ConnectionReader and JobHistory for testing
type MockConnectionReader struct {
	ListByUserFunc   func(ctx context.Context, userID string) ([]*connection.Connection, error)
	GetForUserFunc   func(ctx context.Context, id, userID string) (*connection.Connection, error)
	ListAccountsFunc func(ctx context.Context, connectionID string) ([]*connection.Account, error)
	JobsFunc         func(ctx context.Context, connectionID string, limit int) ([]*of.SyncJob, error)
}

func (m *MockConnectionReader) ListByUser(ctx context.Context, userID string) ([]*connection.Connection, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockConnectionReader) GetForUser(ctx context.Context, id, userID string) (*connection.Connection, error) {
	if m.GetForUserFunc != nil {
		return m.GetForUserFunc(ctx, id, userID)
	}
	return &connection.Connection{ID: id, UserID: userID}, nil
}

func (m *MockConnectionReader) ListAccounts(ctx context.Context, connectionID string) ([]*connection.Account, error) {
	if m.ListAccountsFunc != nil {
		return m.ListAccountsFunc(ctx, connectionID)
	}
	return nil, nil
}

func (m *MockConnectionReader) Jobs(ctx context.Context, connectionID string, limit int) ([]*of.SyncJob, error) {
	if m.JobsFunc != nil {
		return m.JobsFunc(ctx, connectionID, limit)
	}
	return nil, nil
}

// MockConsentReader implements ConsentReader for testing
type MockConsentReader struct {
	GetForUserFunc func(ctx context.Context, id, userID string) (*consent.Consent, error)
	ListByUserFunc func(ctx context.Context, userID string) ([]*consent.Consent, error)
}

func (m *MockConsentReader) ListByUser(ctx context.Context, userID string) ([]*consent.Consent, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockConsentReader) GetForUser(ctx context.Context, id, userID string) (*consent.Consent, error) {
	if m.GetForUserFunc != nil {
		return m.GetForUserFunc(ctx, id, userID)
	}
	return nil, nil
}

func newHandler(svc *MockConnectService, conns *MockConnectionReader) *OpenFinanceHandler {
	if conns == nil {
		conns = &MockConnectionReader{}
	}
	return NewOpenFinanceHandler(svc, conns, &MockConsentReader{}, conns, nil)
}

func authed(req *http.Request, userID string) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return resp
}

func TestHandleConnect(t *testing.T) {
	expires := time.Date(2026, 1, 10, 12, 10, 0, 0, time.UTC)

	tests := []struct {
		name           string
		userID         string
		body           string
		connectErr     error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "Success",
			userID:         "user-1",
			body:           `{"bank_code":"001","permissions":["accounts","transactions"]}`,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Unauthorized",
			body:           `{"bank_code":"001"}`,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Missing Bank Code",
			userID:         "user-1",
			body:           `{"permissions":["accounts"]}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Invalid Window",
			userID:         "user-1",
			body:           `{"bank_code":"001","transactions_from":"yesterday"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Unsupported Bank",
			userID:         "user-1",
			body:           `{"bank_code":"999","permissions":["accounts"]}`,
			connectErr:     fmt.Errorf("%w: %q", of.ErrUnsupportedBank, "999"),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "unsupported_bank",
		},
		{
			name:           "Invalid Scope",
			userID:         "user-1",
			body:           `{"bank_code":"001","permissions":["loans"]}`,
			connectErr:     fmt.Errorf("%w: loans", apperr.ErrInvalidScope),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_scope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got of.ConnectParams
			svc := &MockConnectService{
				ConnectFunc: func(ctx context.Context, params of.ConnectParams) (*of.ConnectResult, error) {
					got = params
					if tt.connectErr != nil {
						return nil, tt.connectErr
					}
					return &of.ConnectResult{
						AuthorizationURL: "https://auth.bank/authorize?state=c-1",
						ConsentID:        "c-1",
						ExpiresAt:        expires,
					}, nil
				},
			}
			handler := newHandler(svc, nil)

			req := httptest.NewRequest(http.MethodPost, "/open-finance/connect", bytes.NewBufferString(tt.body))
			if tt.userID != "" {
				req = authed(req, tt.userID)
			}
			rr := httptest.NewRecorder()
			handler.HandleConnect(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.expectedError != "" {
				if resp := decodeError(t, rr); resp.Error != tt.expectedError || resp.Message == "" {
					t.Errorf("unexpected error body: %+v", resp)
				}
			}
			if tt.expectedStatus == http.StatusCreated {
				var resp ConnectResponse
				json.NewDecoder(rr.Body).Decode(&resp)
				if resp.ConsentID != "c-1" || resp.AuthorizationURL == "" || !resp.ExpiresAt.Equal(expires) {
					t.Errorf("unexpected response: %+v", resp)
				}
				if got.UserID != "user-1" || got.BankCode != "001" || len(got.Scopes) != 2 {
					t.Errorf("unexpected connect params: %+v", got)
				}
			}
		})
	}
}

func TestHandleCallback(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		result         *of.CallbackResult
		err            error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Approved",
			query:          "?code=abc&state=c-1",
			result:         &of.CallbackResult{ConsentID: "c-1", Status: consent.StatusActive, ConnectionID: "conn-1"},
			expectedStatus: http.StatusOK,
			expectedBody:   "ACTIVE",
		},
		{
			name:           "Denied",
			query:          "?error=access_denied&state=c-1",
			result:         &of.CallbackResult{ConsentID: "c-1", Status: consent.StatusRevoked},
			expectedStatus: http.StatusOK,
			expectedBody:   "REVOKED",
		},
		{
			name:           "Late Callback",
			query:          "?code=abc&state=c-1",
			err:            fmt.Errorf("%w: c-1", apperr.ErrAuthorizationExpired),
			expectedStatus: http.StatusGone,
			expectedBody:   "authorization_expired",
		},
		{
			name:           "Rejected Code",
			query:          "?code=bad&state=c-1",
			err:            fmt.Errorf("%w: invalid_grant", apperr.ErrAuthorizationCodeInvalid),
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "authorization_code_invalid",
		},
		{
			name:           "Unknown State",
			query:          "?code=abc&state=nope",
			err:            fmt.Errorf("%w: nope", apperr.ErrConsentNotFound),
			expectedStatus: http.StatusNotFound,
			expectedBody:   "consent_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got of.CallbackParams
			svc := &MockConnectService{
				HandleCallbackFunc: func(ctx context.Context, params of.CallbackParams) (*of.CallbackResult, error) {
					got = params
					return tt.result, tt.err
				},
			}
			handler := newHandler(svc, nil)

			req := httptest.NewRequest(http.MethodGet, "/open-finance/callback"+tt.query, nil)
			rr := httptest.NewRecorder()
			handler.HandleCallback(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if !bytes.Contains(rr.Body.Bytes(), []byte(tt.expectedBody)) {
				t.Errorf("expected body to contain %q, got %s", tt.expectedBody, rr.Body.String())
			}
			if got.State == "" {
				t.Error("state was not passed to the service")
			}
		})
	}
}

func TestHandleSync(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		err            error
		expectedStatus int
		wantRange      bool
	}{
		{name: "Default Range", expectedStatus: http.StatusOK},
		{name: "Explicit Range", body: `{"from":"2025-01-01","to":"2025-01-31"}`, expectedStatus: http.StatusOK, wantRange: true},
		{name: "Inverted Range", body: `{"from":"2025-02-01","to":"2025-01-01"}`, expectedStatus: http.StatusBadRequest},
		{name: "Bad Date", body: `{"from":"01/02/2025"}`, expectedStatus: http.StatusBadRequest},
		{
			name:           "Not Owner",
			err:            fmt.Errorf("%w: conn-1", apperr.ErrConnectionNotFound),
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "Consent Revoked",
			err:            fmt.Errorf("%w: c-1", apperr.ErrConsentRevoked),
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotRange *of.DateRange
			svc := &MockConnectService{
				SyncFunc: func(ctx context.Context, userID, connectionID string, r *of.DateRange) (*of.SyncJob, error) {
					if connectionID != "conn-1" || userID != "user-1" {
						t.Errorf("unexpected sync target %s/%s", userID, connectionID)
					}
					gotRange = r
					if tt.err != nil {
						return nil, tt.err
					}
					return &of.SyncJob{ID: "job-1", ConnectionID: connectionID, Status: of.JobCompleted, ImportedCount: 3}, nil
				},
			}
			handler := newHandler(svc, nil)

			req := httptest.NewRequest(http.MethodPost, "/open-finance/sync/conn-1", bytes.NewBufferString(tt.body))
			req.SetPathValue("connection_id", "conn-1")
			req = authed(req, "user-1")
			rr := httptest.NewRecorder()
			handler.HandleSync(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.wantRange && (gotRange == nil || gotRange.From.Day() != 1 || gotRange.To.Day() != 31) {
				t.Errorf("unexpected range: %+v", gotRange)
			}
			if tt.expectedStatus == http.StatusOK {
				var resp SyncJobResponse
				json.NewDecoder(rr.Body).Decode(&resp)
				if resp.JobID != "job-1" || resp.Imported != 3 || resp.Errors == nil {
					t.Errorf("unexpected response: %+v", resp)
				}
			}
		})
	}
}

func TestHandleSync_RateLimitedSetsRetryAfter(t *testing.T) {
	svc := &MockConnectService{
		SyncFunc: func(ctx context.Context, userID, connectionID string, r *of.DateRange) (*of.SyncJob, error) {
			return nil, &apperr.BankAPIError{Kind: apperr.KindRateLimited, BankCode: "001", StatusCode: 429, RetryAfter: 1500 * time.Millisecond}
		},
	}
	handler := newHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/open-finance/sync/conn-1", nil)
	req.SetPathValue("connection_id", "conn-1")
	rr := httptest.NewRecorder()
	handler.HandleSync(rr, authed(req, "user-1"))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Errorf("expected Retry-After 2, got %q", got)
	}
	if resp := decodeError(t, rr); resp.Error != "bank_rate_limited" {
		t.Errorf("unexpected error kind %q", resp.Error)
	}
}

func TestHandleDisconnect(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{name: "Success", expectedStatus: http.StatusOK},
		{name: "Not Found", err: apperr.ErrConsentNotFound, expectedStatus: http.StatusNotFound},
		{name: "Already Terminal", err: apperr.InvalidTransition("c-1", "EXPIRED", "REVOKED"), expectedStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockConnectService{
				DisconnectFunc: func(ctx context.Context, userID, consentID string) (*consent.Consent, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &consent.Consent{ID: consentID, Status: consent.StatusRevoked}, nil
				},
			}
			handler := newHandler(svc, nil)

			req := httptest.NewRequest(http.MethodDelete, "/open-finance/disconnect/c-1", nil)
			req.SetPathValue("consent_id", "c-1")
			rr := httptest.NewRecorder()
			handler.HandleDisconnect(rr, authed(req, "user-1"))

			if rr.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.err == nil && !bytes.Contains(rr.Body.Bytes(), []byte(`"disconnected"`)) {
				t.Errorf("unexpected body %s", rr.Body.String())
			}
		})
	}
}

func TestHandleInitiatePayment(t *testing.T) {
	t.Run("Validation Error Lists Fields", func(t *testing.T) {
		svc := &MockConnectService{
			InitiatePaymentFunc: func(ctx context.Context, userID, consentID string, req *payment.Request) (*payment.Result, error) {
				return nil, req.Validate(time.Now())
			},
		}
		handler := newHandler(svc, nil)

		req := httptest.NewRequest(http.MethodPost, "/open-finance/payments/c-1", bytes.NewBufferString(`{"type":"PIX","amount":"0"}`))
		req.SetPathValue("consent_id", "c-1")
		rr := httptest.NewRecorder()
		handler.HandleInitiatePayment(rr, authed(req, "user-1"))

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		resp := decodeError(t, rr)
		if resp.Error != "payment_validation" || len(resp.Fields) < 2 {
			t.Errorf("unexpected error body: %+v", resp)
		}
	})

	t.Run("Success", func(t *testing.T) {
		var got *payment.Request
		svc := &MockConnectService{
			InitiatePaymentFunc: func(ctx context.Context, userID, consentID string, req *payment.Request) (*payment.Result, error) {
				got = req
				return &payment.Result{PaymentID: "pay-1", ConsentID: consentID, Status: payment.StatusScheduled, IdempotencyKey: "key-1"}, nil
			},
		}
		handler := newHandler(svc, nil)

		body := `{"type":"PIX","amount":"150.75","currency":"BRL","recipient_key":"a@b.com","recipient_key_type":"EMAIL","scheduled_for":"2099-05-01"}`
		req := httptest.NewRequest(http.MethodPost, "/open-finance/payments/c-1", bytes.NewBufferString(body))
		req.SetPathValue("consent_id", "c-1")
		rr := httptest.NewRecorder()
		handler.HandleInitiatePayment(rr, authed(req, "user-1"))

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		if !got.Amount.Equal(decimal.RequireFromString("150.75")) || got.ScheduledFor == nil {
			t.Errorf("unexpected request: %+v", got)
		}
		var resp PaymentResponse
		json.NewDecoder(rr.Body).Decode(&resp)
		if resp.PaymentID != "pay-1" || resp.Status != "SCHEDULED" {
			t.Errorf("unexpected response: %+v", resp)
		}
	})
}

func TestHandleListConnections(t *testing.T) {
	available := decimal.RequireFromString("1000.50")
	conns := &MockConnectionReader{
		ListByUserFunc: func(ctx context.Context, userID string) ([]*connection.Connection, error) {
			return []*connection.Connection{{ID: "conn-1", UserID: userID, BankCode: "001", Status: connection.StatusActive}}, nil
		},
		ListAccountsFunc: func(ctx context.Context, connectionID string) ([]*connection.Account, error) {
			return []*connection.Account{{ID: "acc-1", ConnectionID: connectionID, MaskedNumber: "****6789", AvailableBalance: &available}}, nil
		},
	}
	handler := newHandler(&MockConnectService{}, conns)

	req := httptest.NewRequest(http.MethodGet, "/open-finance/connections", nil)
	rr := httptest.NewRecorder()
	handler.HandleListConnections(rr, authed(req, "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp []ConnectionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp) != 1 || len(resp[0].Accounts) != 1 || resp[0].Accounts[0].Number != "****6789" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleSyncJobs(t *testing.T) {
	conns := &MockConnectionReader{
		GetForUserFunc: func(ctx context.Context, id, userID string) (*connection.Connection, error) {
			if userID != "user-1" {
				return nil, apperr.ErrConnectionNotFound
			}
			return &connection.Connection{ID: id, UserID: userID}, nil
		},
		JobsFunc: func(ctx context.Context, connectionID string, limit int) ([]*of.SyncJob, error) {
			if limit != 5 {
				t.Errorf("expected limit 5, got %d", limit)
			}
			return []*of.SyncJob{{ID: "job-2"}, {ID: "job-1"}}, nil
		},
	}
	handler := newHandler(&MockConnectService{}, conns)

	tests := []struct {
		name           string
		userID         string
		query          string
		expectedStatus int
	}{
		{"Owner", "user-1", "?limit=5", http.StatusOK},
		{"Other User", "user-2", "?limit=5", http.StatusNotFound},
		{"Bad Limit", "user-1", "?limit=0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/open-finance/sync/conn-1/jobs"+tt.query, nil)
			req.SetPathValue("connection_id", "conn-1")
			rr := httptest.NewRecorder()
			handler.HandleSyncJobs(rr, authed(req, tt.userID))
			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	cert, err := certstore.Generate("client.test", 365*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	store := certstore.New(cert, cert, nil, 30*24*time.Hour)
	monitor := monitoring.NewMonitor(nil)
	handler := NewHealthHandler(monitor, store)

	rr := httptest.NewRecorder()
	handler.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/open-finance/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var report monitoring.HealthReport
	json.NewDecoder(rr.Body).Decode(&report)
	if report.Status != monitoring.StatusHealthy || len(report.Certificates) == 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	monitor.Halt("001", "tls: expired certificate")
	rr = httptest.NewRecorder()
	handler.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/open-finance/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for a halted bank, got %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.ErrInvalidScope, http.StatusBadRequest},
		{&apperr.PaymentValidationError{}, http.StatusBadRequest},
		{apperr.ErrTokenExpired, http.StatusForbidden},
		{apperr.ErrPaymentNotFound, http.StatusNotFound},
		{apperr.ErrPaymentNotCancellable, http.StatusConflict},
		{apperr.ErrAuthorizationInProgress, http.StatusConflict},
		{&apperr.BankAPIError{Kind: apperr.KindServerError}, http.StatusBadGateway},
		{&apperr.BankAPIError{Kind: apperr.KindTimeout}, http.StatusGatewayTimeout},
		{&apperr.BankAPIError{Kind: apperr.KindCertificate}, http.StatusServiceUnavailable},
		{&apperr.BankAPIError{Kind: apperr.KindValidation}, http.StatusUnprocessableEntity},
		{fmt.Errorf("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
