package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"ofbconnect/internal/domain/connection"
	"ofbconnect/internal/domain/consent"
	of "ofbconnect/internal/domain/openfinance"
	"ofbconnect/internal/domain/payment"
	"ofbconnect/internal/shared/messages"
	"ofbconnect/internal/shared/middleware"
)

const dateLayout = "2006-01-02"

// ConnectService is the part of the connect flow exposed over HTTP.
type ConnectService interface {
	Connect(ctx context.Context, params of.ConnectParams) (*of.ConnectResult, error)
	HandleCallback(ctx context.Context, params of.CallbackParams) (*of.CallbackResult, error)
	Sync(ctx context.Context, userID, connectionID string, r *of.DateRange) (*of.SyncJob, error)
	Disconnect(ctx context.Context, userID, consentID string) (*consent.Consent, error)
	InitiatePayment(ctx context.Context, userID, consentID string, req *payment.Request) (*payment.Result, error)
	GetPayment(ctx context.Context, userID, paymentID string) (*payment.Payment, error)
	CancelPayment(ctx context.Context, userID, paymentID string) (*payment.Payment, error)
	ListPayments(ctx context.Context, userID string, f payment.Filter) (*payment.Page, error)
	Balances(ctx context.Context, userID string) (*of.BalanceSummary, error)
	SyncAll(ctx context.Context, userID string) ([]of.BankSyncResult, error)
}

type ConnectionReader interface {
	ListByUser(ctx context.Context, userID string) ([]*connection.Connection, error)
	GetForUser(ctx context.Context, id, userID string) (*connection.Connection, error)
	ListAccounts(ctx context.Context, connectionID string) ([]*connection.Account, error)
}

type ConsentReader interface {
	GetForUser(ctx context.Context, id, userID string) (*consent.Consent, error)
	ListByUser(ctx context.Context, userID string) ([]*consent.Consent, error)
}

type JobHistory interface {
	Jobs(ctx context.Context, connectionID string, limit int) ([]*of.SyncJob, error)
}

// OpenFinanceHandler serves the /open-finance routes.
type OpenFinanceHandler struct {
	service     ConnectService
	connections ConnectionReader
	consents    ConsentReader
	jobs        JobHistory
	texts       *messages.Messages
}

func NewOpenFinanceHandler(service ConnectService, connections ConnectionReader, consents ConsentReader, jobs JobHistory, texts *messages.Messages) *OpenFinanceHandler {
	if texts == nil {
		texts = messages.Default()
	}
	return &OpenFinanceHandler{
		service:     service,
		connections: connections,
		consents:    consents,
		jobs:        jobs,
		texts:       texts,
	}
}

type ConnectRequest struct {
	BankCode         string   `json:"bank_code"`
	Permissions      []string `json:"permissions"`
	ExpirationDays   int      `json:"expiration_days,omitempty"`
	TransactionsFrom string   `json:"transactions_from,omitempty"`
	TransactionsTo   string   `json:"transactions_to,omitempty"`
}

type ConnectResponse struct {
	AuthorizationURL string    `json:"authorization_url"`
	ConsentID        string    `json:"consent_id"`
	ExpiresAt        time.Time `json:"expires_at"`
	ConsentExpiresAt time.Time `json:"consent_expires_at"`
}

type CallbackResponse struct {
	Status       string `json:"status"`
	ConsentID    string `json:"consent_id"`
	ConnectionID string `json:"connection_id,omitempty"`
}

type SyncRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type SyncJobResponse struct {
	JobID             string     `json:"job_id"`
	ConnectionID      string     `json:"connection_id"`
	Status            string     `json:"status"`
	Trigger           string     `json:"trigger"`
	From              string     `json:"from"`
	To                string     `json:"to"`
	AccountsProcessed int        `json:"accounts_processed"`
	AccountsFailed    int        `json:"accounts_failed"`
	AccountsSkipped   int        `json:"accounts_skipped"`
	Imported          int        `json:"imported"`
	Skipped           int        `json:"skipped"`
	Errors            []string   `json:"errors"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

type ConnectionResponse struct {
	ID            string            `json:"id"`
	ConsentID     string            `json:"consent_id"`
	BankCode      string            `json:"bank_code"`
	BankName      string            `json:"bank_name"`
	Status        string            `json:"status"`
	SyncFrequency string            `json:"sync_frequency"`
	SyncTime      string            `json:"sync_time"`
	LastSyncAt    *time.Time        `json:"last_sync_at"`
	NextSyncAt    *time.Time        `json:"next_sync_at"`
	Accounts      []AccountResponse `json:"accounts"`
	CreatedAt     time.Time         `json:"created_at"`
}

type AccountResponse struct {
	ID               string           `json:"id"`
	Type             string           `json:"type"`
	Subtype          string           `json:"subtype"`
	Currency         string           `json:"currency"`
	BrandName        string           `json:"brand_name"`
	Number           string           `json:"number"`
	Agency           string           `json:"agency"`
	AvailableBalance *decimal.Decimal `json:"available_balance"`
	BlockedBalance   *decimal.Decimal `json:"blocked_balance"`
	InvestedBalance  *decimal.Decimal `json:"invested_balance"`
	BalanceUpdatedAt *time.Time       `json:"balance_updated_at"`
}

type ConsentResponse struct {
	ID                     string     `json:"consent_id"`
	BankCode               string     `json:"bank_code"`
	Status                 string     `json:"status"`
	StatusReason           string     `json:"status_reason,omitempty"`
	Scopes                 []string   `json:"scopes"`
	Permissions            []string   `json:"permissions"`
	TransactionsFrom       *time.Time `json:"transactions_from,omitempty"`
	TransactionsTo         *time.Time `json:"transactions_to,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	ExpiresAt              time.Time  `json:"expires_at"`
	AuthorizationExpiresAt *time.Time `json:"authorization_expires_at,omitempty"`
}

type PaymentRequest struct {
	Type              string          `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Description       string          `json:"description"`
	RecipientKey      string          `json:"recipient_key"`
	RecipientKeyType  string          `json:"recipient_key_type"`
	RecipientBankCode string          `json:"recipient_bank_code"`
	RecipientAgency   string          `json:"recipient_agency"`
	RecipientAccount  string          `json:"recipient_account"`
	RecipientName     string          `json:"recipient_name"`
	RecipientDocument string          `json:"recipient_document"`
	ScheduledFor      string          `json:"scheduled_for,omitempty"`
	Frequency         string          `json:"frequency,omitempty"`
}

type PaymentResponse struct {
	PaymentID      string    `json:"payment_id"`
	ConsentID      string    `json:"consent_id"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// HandleConnect starts a bank connection and returns the authorization URL.
func (h *OpenFinanceHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.BankCode == "" {
		http.Error(w, "bank_code is required", http.StatusBadRequest)
		return
	}

	params := of.ConnectParams{
		UserID:         userID,
		BankCode:       req.BankCode,
		Scopes:         req.Permissions,
		ExpirationDays: req.ExpirationDays,
	}
	if req.TransactionsFrom != "" || req.TransactionsTo != "" {
		from, err := time.Parse(dateLayout, req.TransactionsFrom)
		if err != nil {
			http.Error(w, "transactions_from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to, err := time.Parse(dateLayout, req.TransactionsTo)
		if err != nil {
			http.Error(w, "transactions_to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		params.Window = &consent.TransactionWindow{From: from, To: to}
	}

	result, err := h.service.Connect(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ConnectResponse{
		AuthorizationURL: result.AuthorizationURL,
		ConsentID:        result.ConsentID,
		ExpiresAt:        result.ExpiresAt,
		ConsentExpiresAt: result.ConsentExpiresAt,
	})
}

// HandleCallback receives the bank redirect. It is not behind caller auth: the
// state parameter identifies the consent.
func (h *OpenFinanceHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.service.HandleCallback(r.Context(), of.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CallbackResponse{
		Status:       string(result.Status),
		ConsentID:    result.ConsentID,
		ConnectionID: result.ConnectionID,
	})
}

// HandleSync runs a manual sync. The body may narrow the date range.
func (h *OpenFinanceHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	connectionID := r.PathValue("connection_id")
	if connectionID == "" {
		http.Error(w, "Connection ID is required", http.StatusBadRequest)
		return
	}

	var req SyncRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	dr, err := parseRange(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.service.Sync(r.Context(), userID, connectionID, dr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncJobResponse(job))
}

// HandleDisconnect revokes the consent behind a connection.
func (h *OpenFinanceHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	consentID := r.PathValue("consent_id")
	if consentID == "" {
		http.Error(w, "Consent ID is required", http.StatusBadRequest)
		return
	}

	if _, err := h.service.Disconnect(r.Context(), userID, consentID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected", "consent_id": consentID})
}

// HandleListConnections lists the caller's connections with their accounts.
func (h *OpenFinanceHandler) HandleListConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conns, err := h.connections.ListByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response := make([]ConnectionResponse, 0, len(conns))
	for _, c := range conns {
		accounts, err := h.connections.ListAccounts(r.Context(), c.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		response = append(response, toConnectionResponse(c, accounts))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *OpenFinanceHandler) HandleGetConsent(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	c, err := h.consents.GetForUser(r.Context(), r.PathValue("consent_id"), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsentResponse(c))
}

// HandleSyncJobs returns the most recent sync jobs of a connection, newest first.
func (h *OpenFinanceHandler) HandleSyncJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	connectionID := r.PathValue("connection_id")
	if _, err := h.connections.GetForUser(r.Context(), connectionID, userID); err != nil {
		h.writeError(w, r, err)
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 100 {
			http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}

	jobs, err := h.jobs.Jobs(r.Context(), connectionID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response := make([]SyncJobResponse, 0, len(jobs))
	for _, j := range jobs {
		response = append(response, toSyncJobResponse(j))
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleInitiatePayment submits a payment under a consent with the payments scope.
func (h *OpenFinanceHandler) HandleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	preq := &payment.Request{
		Type:              payment.Type(req.Type),
		Amount:            req.Amount,
		Currency:          req.Currency,
		Description:       req.Description,
		RecipientKey:      req.RecipientKey,
		RecipientKeyType:  req.RecipientKeyType,
		RecipientBankCode: req.RecipientBankCode,
		RecipientAgency:   req.RecipientAgency,
		RecipientAccount:  req.RecipientAccount,
		RecipientName:     req.RecipientName,
		RecipientDocument: req.RecipientDocument,
		Frequency:         req.Frequency,
	}
	if req.ScheduledFor != "" {
		d, err := time.Parse(dateLayout, req.ScheduledFor)
		if err != nil {
			http.Error(w, "scheduled_for must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		preq.ScheduledFor = &d
	}

	result, err := h.service.InitiatePayment(r.Context(), userID, r.PathValue("consent_id"), preq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentResponse{
		PaymentID:      result.PaymentID,
		ConsentID:      result.ConsentID,
		Status:         string(result.Status),
		IdempotencyKey: result.IdempotencyKey,
		CreatedAt:      result.CreatedAt,
	})
}

func parseRange(req SyncRequest) (*of.DateRange, error) {
	if req.From == "" && req.To == "" {
		return nil, nil
	}
	from, err := time.Parse(dateLayout, req.From)
	if err != nil {
		return nil, errors.New("from must be YYYY-MM-DD")
	}
	to := time.Now().UTC()
	if req.To != "" {
		if to, err = time.Parse(dateLayout, req.To); err != nil {
			return nil, errors.New("to must be YYYY-MM-DD")
		}
	}
	if to.Before(from) {
		return nil, errors.New("to must not be before from")
	}
	return &of.DateRange{From: from, To: to}, nil
}

func toSyncJobResponse(j *of.SyncJob) SyncJobResponse {
	errs := j.Errors
	if errs == nil {
		errs = []string{}
	}
	return SyncJobResponse{
		JobID:             j.ID,
		ConnectionID:      j.ConnectionID,
		Status:            string(j.Status),
		Trigger:           j.Trigger,
		From:              j.From.Format(dateLayout),
		To:                j.To.Format(dateLayout),
		AccountsProcessed: j.AccountsProcessed,
		AccountsFailed:    j.AccountsFailed,
		AccountsSkipped:   j.AccountsSkipped,
		Imported:          j.ImportedCount,
		Skipped:           j.SkippedCount,
		Errors:            errs,
		CreatedAt:         j.CreatedAt,
		StartedAt:         j.StartedAt,
		FinishedAt:        j.FinishedAt,
	}
}

func toConnectionResponse(c *connection.Connection, accounts []*connection.Account) ConnectionResponse {
	resp := ConnectionResponse{
		ID:            c.ID,
		ConsentID:     c.ConsentID,
		BankCode:      c.BankCode,
		BankName:      c.BankName,
		Status:        string(c.Status),
		SyncFrequency: string(c.SyncFrequency),
		SyncTime:      c.SyncTime,
		LastSyncAt:    c.LastSyncAt,
		NextSyncAt:    c.NextSyncAt,
		Accounts:      make([]AccountResponse, 0, len(accounts)),
		CreatedAt:     c.CreatedAt,
	}
	for _, a := range accounts {
		resp.Accounts = append(resp.Accounts, AccountResponse{
			ID:               a.ID,
			Type:             a.Type,
			Subtype:          a.Subtype,
			Currency:         a.Currency,
			BrandName:        a.BrandName,
			Number:           a.MaskedNumber,
			Agency:           a.MaskedAgency,
			AvailableBalance: a.AvailableBalance,
			BlockedBalance:   a.BlockedBalance,
			InvestedBalance:  a.InvestedBalance,
			BalanceUpdatedAt: a.BalanceUpdatedAt,
		})
	}
	return resp
}

func toConsentResponse(c *consent.Consent) ConsentResponse {
	return ConsentResponse{
		ID:                     c.ID,
		BankCode:               c.BankCode,
		Status:                 string(c.Status),
		StatusReason:           c.StatusReason,
		Scopes:                 c.Scopes,
		Permissions:            c.Permissions,
		TransactionsFrom:       c.TransactionFrom,
		TransactionsTo:         c.TransactionTo,
		CreatedAt:              c.CreatedAt,
		UpdatedAt:              c.UpdatedAt,
		ExpiresAt:              c.ExpiresAt,
		AuthorizationExpiresAt: c.AuthorizationExpiresAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
