package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ofbconnect/internal/domain/consent"
	of "ofbconnect/internal/domain/openfinance"
	"ofbconnect/internal/domain/payment"
	"ofbconnect/internal/shared/apperr"
)

func testPayment(id string, status payment.Status) *payment.Payment {
	scheduled := time.Date(2099, 5, 1, 0, 0, 0, 0, time.UTC)
	return &payment.Payment{
		ID:           id,
		ConsentID:    "c-1",
		BankCode:     "001",
		Type:         payment.TypePIX,
		Amount:       decimal.RequireFromString("150.75"),
		Currency:     "BRL",
		Recipient:    "a@b.com",
		Status:       status,
		ScheduledFor: &scheduled,
	}
}

func TestHandleGetPayment(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"Found", nil, http.StatusOK},
		{"Not Found", fmt.Errorf("%w: pay-9", apperr.ErrPaymentNotFound), http.StatusNotFound},
		{"Bank Down", &apperr.BankAPIError{Kind: apperr.KindServerError, StatusCode: 503}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockConnectService{
				GetPaymentFunc: func(ctx context.Context, userID, paymentID string) (*payment.Payment, error) {
					if userID != "user-1" || paymentID != "pay-1" {
						t.Errorf("unexpected call: %s %s", userID, paymentID)
					}
					if tt.err != nil {
						return nil, tt.err
					}
					return testPayment(paymentID, payment.StatusCompleted), nil
				},
			}
			handler := newHandler(svc, nil)

			req := httptest.NewRequest(http.MethodGet, "/open-finance/payments/pay-1", nil)
			req.SetPathValue("payment_id", "pay-1")
			rr := httptest.NewRecorder()
			handler.HandleGetPayment(rr, authed(req, "user-1"))

			if rr.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.err != nil {
				return
			}
			var resp PaymentDetailResponse
			json.NewDecoder(rr.Body).Decode(&resp)
			if resp.PaymentID != "pay-1" || resp.Status != "COMPLETED" || resp.ScheduledFor == nil || *resp.ScheduledFor != "2099-05-01" {
				t.Errorf("unexpected response: %+v", resp)
			}
		})
	}
}

func TestHandleCancelPayment(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedKind   string
	}{
		{"Cancelled", nil, http.StatusOK, ""},
		{"Not Cancellable", fmt.Errorf("%w: payment pay-1 is COMPLETED", apperr.ErrPaymentNotCancellable), http.StatusConflict, "payment_not_cancellable"},
		{"Consent Revoked", fmt.Errorf("%w: consent c-1 is REVOKED", apperr.ErrConsentRevoked), http.StatusForbidden, "consent_revoked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockConnectService{
				CancelPaymentFunc: func(ctx context.Context, userID, paymentID string) (*payment.Payment, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return testPayment(paymentID, payment.StatusCancelled), nil
				},
			}
			handler := newHandler(svc, nil)

			req := httptest.NewRequest(http.MethodDelete, "/open-finance/payments/pay-1", nil)
			req.SetPathValue("payment_id", "pay-1")
			rr := httptest.NewRecorder()
			handler.HandleCancelPayment(rr, authed(req, "user-1"))

			if rr.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedKind != "" {
				if resp := decodeError(t, rr); resp.Error != tt.expectedKind || resp.Message == "" {
					t.Errorf("unexpected error body: %+v", resp)
				}
			}
		})
	}
}

func TestHandleListPayments(t *testing.T) {
	t.Run("Filters Are Passed Through", func(t *testing.T) {
		var got payment.Filter
		svc := &MockConnectService{
			ListPaymentsFunc: func(ctx context.Context, userID string, f payment.Filter) (*payment.Page, error) {
				got = f
				return &payment.Page{
					Payments: []*payment.Payment{testPayment("pay-2", payment.StatusPending), testPayment("pay-1", payment.StatusCompleted)},
					Total:    12,
					Page:     f.Page,
					PageSize: f.PageSize,
				}, nil
			},
		}
		handler := newHandler(svc, nil)

		req := httptest.NewRequest(http.MethodGet, "/open-finance/payments?status=PENDING&type=PIX&from=2026-03-01&to=2026-03-31&page=2&page_size=10", nil)
		rr := httptest.NewRecorder()
		handler.HandleListPayments(rr, authed(req, "user-1"))

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if got.Status != payment.StatusPending || got.Type != payment.TypePIX || got.Page != 2 || got.PageSize != 10 {
			t.Errorf("unexpected filter: %+v", got)
		}
		if got.From == nil || got.To == nil || got.To.Format(dateLayout) != "2026-03-31" || got.To.Hour() != 23 {
			t.Errorf("unexpected range: %v - %v", got.From, got.To)
		}
		var resp PaymentPageResponse
		json.NewDecoder(rr.Body).Decode(&resp)
		if resp.Total != 12 || len(resp.Payments) != 2 || resp.Payments[0].PaymentID != "pay-2" {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	bad := []string{"?status=DONE", "?from=03/01/2026", "?page=0", "?page_size=500", "?page_size=x"}
	for _, q := range bad {
		t.Run("Rejects "+q, func(t *testing.T) {
			svc := &MockConnectService{
				ListPaymentsFunc: func(ctx context.Context, userID string, f payment.Filter) (*payment.Page, error) {
					t.Error("service called for an invalid query")
					return &payment.Page{}, nil
				},
			}
			req := httptest.NewRequest(http.MethodGet, "/open-finance/payments"+q, nil)
			rr := httptest.NewRecorder()
			newHandler(svc, nil).HandleListPayments(rr, authed(req, "user-1"))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestHandleBalances(t *testing.T) {
	svc := &MockConnectService{
		BalancesFunc: func(ctx context.Context, userID string) (*of.BalanceSummary, error) {
			return &of.BalanceSummary{
				Total:    decimal.RequireFromString("300.10"),
				Currency: "BRL",
				Banks: []of.BankBalance{
					{ConnectionID: "conn-1", BankCode: "001", Available: decimal.RequireFromString("100.10"), Accounts: 1},
					{ConnectionID: "conn-2", BankCode: "341", Available: decimal.RequireFromString("200"), Accounts: 2},
				},
			}, nil
		},
	}
	handler := newHandler(svc, nil)

	rr := httptest.NewRecorder()
	handler.HandleBalances(rr, authed(httptest.NewRequest(http.MethodGet, "/open-finance/balances", nil), "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp BalanceSummaryResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Total.Equal(decimal.RequireFromString("300.10")) || len(resp.Banks) != 2 || resp.Banks[1].Accounts != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleSyncAll(t *testing.T) {
	svc := &MockConnectService{
		SyncAllFunc: func(ctx context.Context, userID string) ([]of.BankSyncResult, error) {
			return []of.BankSyncResult{
				{ConnectionID: "conn-1", BankCode: "001", Job: &of.SyncJob{ID: "job-1", ConnectionID: "conn-1", Status: of.JobCompleted}},
				{ConnectionID: "conn-2", BankCode: "341", Queued: true},
				{ConnectionID: "conn-3", BankCode: "237", Err: errors.New("db down")},
			}, nil
		},
	}
	handler := newHandler(svc, nil)

	rr := httptest.NewRecorder()
	handler.HandleSyncAll(rr, authed(httptest.NewRequest(http.MethodPost, "/open-finance/sync", nil), "user-1"))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	var resp []BankSyncResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp) != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp[0].Status != string(of.JobCompleted) || resp[0].Job == nil || resp[0].Job.JobID != "job-1" {
		t.Errorf("synced bank: %+v", resp[0])
	}
	if resp[1].Status != "queued" || resp[1].Job != nil {
		t.Errorf("queued bank: %+v", resp[1])
	}
	if resp[2].Status != "failed" || resp[2].Error == "" || resp[2].Error == "db down" {
		t.Errorf("failed bank: %+v", resp[2])
	}
}

func TestHandleListConsents(t *testing.T) {
	consents := &MockConsentReader{
		ListByUserFunc: func(ctx context.Context, userID string) ([]*consent.Consent, error) {
			if userID != "user-1" {
				return nil, nil
			}
			return []*consent.Consent{
				{ID: "c-2", BankCode: "001", Status: consent.StatusActive, Scopes: []string{"accounts"}},
				{ID: "c-1", BankCode: "001", Status: consent.StatusRevoked, StatusReason: "user"},
			}, nil
		},
	}
	handler := NewOpenFinanceHandler(&MockConnectService{}, &MockConnectionReader{}, consents, &MockConnectionReader{}, nil)

	rr := httptest.NewRecorder()
	handler.HandleListConsents(rr, authed(httptest.NewRequest(http.MethodGet, "/open-finance/consents", nil), "user-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp []ConsentResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp) != 2 || resp[1].Status != "REVOKED" || resp[1].StatusReason != "user" {
		t.Errorf("unexpected response: %+v", resp)
	}

	rr = httptest.NewRecorder()
	handler.HandleListConsents(rr, authed(httptest.NewRequest(http.MethodGet, "/open-finance/consents", nil), "user-2"))
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("expected an empty list, got %q", body)
	}
}
