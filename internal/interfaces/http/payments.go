package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"ofbconnect/internal/domain/payment"
	"ofbconnect/internal/shared/middleware"
)

type PaymentDetailResponse struct {
	PaymentID    string          `json:"payment_id"`
	ConsentID    string          `json:"consent_id"`
	BankCode     string          `json:"bank_code"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Description  string          `json:"description,omitempty"`
	Recipient    string          `json:"recipient"`
	Status       string          `json:"status"`
	StatusReason string          `json:"status_reason,omitempty"`
	ScheduledFor *string         `json:"scheduled_for,omitempty"`
	Frequency    string          `json:"frequency,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type PaymentPageResponse struct {
	Payments []PaymentDetailResponse `json:"payments"`
	Total    int                     `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
}

// HandleGetPayment returns a payment with its current bank status.
func (h *OpenFinanceHandler) HandleGetPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	p, err := h.service.GetPayment(r.Context(), userID, r.PathValue("payment_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDetailResponse(p))
}

// HandleCancelPayment cancels a pending or scheduled payment.
func (h *OpenFinanceHandler) HandleCancelPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	p, err := h.service.CancelPayment(r.Context(), userID, r.PathValue("payment_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDetailResponse(p))
}

// HandleListPayments returns the caller's payment history, newest first.
// Query parameters: consent_id, type, status, from, to, page, page_size.
func (h *OpenFinanceHandler) HandleListPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	f := payment.Filter{
		ConsentID: q.Get("consent_id"),
		Type:      payment.Type(q.Get("type")),
		Status:    payment.Status(q.Get("status")),
	}
	if f.Status != "" && !f.Status.Valid() {
		http.Error(w, "unknown payment status", http.StatusBadRequest)
		return
	}
	if s := q.Get("from"); s != "" {
		from, err := time.Parse(dateLayout, s)
		if err != nil {
			http.Error(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		f.From = &from
	}
	if s := q.Get("to"); s != "" {
		to, err := time.Parse(dateLayout, s)
		if err != nil {
			http.Error(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		// inclusive of the whole day
		to = to.Add(24*time.Hour - time.Nanosecond)
		f.To = &to
	}
	for _, p := range []struct {
		name string
		dst  *int
		max  int
	}{{"page", &f.Page, 0}, {"page_size", &f.PageSize, payment.MaxPageSize}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || (p.max > 0 && n > p.max) {
			http.Error(w, "invalid "+p.name, http.StatusBadRequest)
			return
		}
		*p.dst = n
	}

	page, err := h.service.ListPayments(r.Context(), userID, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := PaymentPageResponse{
		Payments: make([]PaymentDetailResponse, 0, len(page.Payments)),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	for _, p := range page.Payments {
		resp.Payments = append(resp.Payments, toPaymentDetailResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toPaymentDetailResponse(p *payment.Payment) PaymentDetailResponse {
	resp := PaymentDetailResponse{
		PaymentID:    p.ID,
		ConsentID:    p.ConsentID,
		BankCode:     p.BankCode,
		Type:         string(p.Type),
		Amount:       p.Amount,
		Currency:     p.Currency,
		Description:  p.Description,
		Recipient:    p.Recipient,
		Status:       string(p.Status),
		StatusReason: p.StatusReason,
		Frequency:    p.Frequency,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	if p.ScheduledFor != nil {
		d := p.ScheduledFor.Format(dateLayout)
		resp.ScheduledFor = &d
	}
	return resp
}
