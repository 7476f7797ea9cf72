package http

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"ofbconnect/internal/shared/middleware"
)

type BankBalanceResponse struct {
	ConnectionID string          `json:"connection_id"`
	BankCode     string          `json:"bank_code"`
	BankName     string          `json:"bank_name"`
	Available    decimal.Decimal `json:"available"`
	Accounts     int             `json:"accounts"`
	UpdatedAt    *time.Time      `json:"updated_at"`
}

type BalanceSummaryResponse struct {
	Total    decimal.Decimal       `json:"total"`
	Currency string                `json:"currency"`
	Banks    []BankBalanceResponse `json:"banks"`
	AsOf     time.Time             `json:"as_of"`
}

type BankSyncResponse struct {
	ConnectionID string           `json:"connection_id"`
	BankCode     string           `json:"bank_code"`
	BankName     string           `json:"bank_name"`
	Status       string           `json:"status"`
	Job          *SyncJobResponse `json:"job,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// HandleBalances returns the available balance summed across the caller's banks.
func (h *OpenFinanceHandler) HandleBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	summary, err := h.service.Balances(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := BalanceSummaryResponse{
		Total:    summary.Total,
		Currency: summary.Currency,
		Banks:    make([]BankBalanceResponse, 0, len(summary.Banks)),
		AsOf:     summary.AsOf,
	}
	for _, b := range summary.Banks {
		resp.Banks = append(resp.Banks, BankBalanceResponse{
			ConnectionID: b.ConnectionID,
			BankCode:     b.BankCode,
			BankName:     b.BankName,
			Available:    b.Available,
			Accounts:     b.Accounts,
			UpdatedAt:    b.OldestUpdate,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSyncAll syncs every active connection of the caller. Per-bank failures
// are reported in the body; the request itself still succeeds.
func (h *OpenFinanceHandler) HandleSyncAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	results, err := h.service.SyncAll(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]BankSyncResponse, 0, len(results))
	for _, res := range results {
		item := BankSyncResponse{ConnectionID: res.ConnectionID, BankCode: res.BankCode, BankName: res.BankName}
		switch {
		case res.Err != nil:
			item.Status = "failed"
			item.Error = h.errorMessage(res.Err)
		case res.Queued:
			item.Status = "queued"
		default:
			job := toSyncJobResponse(res.Job)
			item.Status, item.Job = job.Status, &job
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// HandleListConsents lists every consent of the caller, including terminated ones.
func (h *OpenFinanceHandler) HandleListConsents(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	consents, err := h.consents.ListByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]ConsentResponse, 0, len(consents))
	for _, c := range consents {
		resp = append(resp, toConsentResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}
