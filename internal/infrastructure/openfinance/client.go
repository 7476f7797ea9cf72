// Package openfinance is the HTTP gateway to Open Finance Brasil banks: the
// OAuth authorization flow, the account data APIs and payment initiation.
package openfinance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	of "ofbconnect/internal/domain/openfinance"
	"ofbconnect/internal/domain/payment"
	"ofbconnect/internal/infrastructure/monitoring"
	"ofbconnect/internal/shared/apperr"
	"ofbconnect/internal/shared/config"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 100
	maxErrorBody    = 64 << 10
)

var gatewayTracer = otel.Tracer("ofbconnect/gateway")

// TokenProvider returns a usable access token for a consent, refreshing it when needed.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context, userID, consentID string) (string, error)
}

// Client calls the bank data and payment APIs. Every call is rate limited per
// bank, retried according to its RetryPolicy and recorded on the monitor.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cfg        config.OpenFinanceConfig
	tokens     TokenProvider
	monitor    *monitoring.Monitor
	retry      RetryPolicy
	pageSize   int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

var (
	_ of.BankGateway    = (*Client)(nil)
	_ of.PaymentGateway = (*Client)(nil)
)

// NewClient creates a gateway client. httpClient should present the mTLS
// transport certificate; its transport is wrapped for tracing.
func NewClient(cfg config.OpenFinanceConfig, httpClient *http.Client, tokens TokenProvider, monitor *monitoring.Monitor) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	traced := &http.Client{Transport: otelhttp.NewTransport(base), Timeout: timeout}

	policy := DefaultRetryPolicy
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	if cfg.BaseBackoff > 0 {
		policy.BaseDelay = cfg.BaseBackoff
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Client{
		httpClient: traced,
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		cfg:        cfg,
		tokens:     tokens,
		monitor:    monitor,
		retry:      policy,
		pageSize:   pageSize,
		limiters:   make(map[string]*rate.Limiter),
		sleep:      sleepContext,
		now:        time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// limiter returns the bank's limiter, allowing RateLimit calls per RateWindow.
func (c *Client) limiter(bankCode string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[bankCode]
	if !ok {
		l = rate.NewLimiter(rate.Inf, 1)
		if c.cfg.RateLimit > 0 && c.cfg.RateWindow > 0 {
			every := c.cfg.RateWindow / time.Duration(c.cfg.RateLimit)
			l = rate.NewLimiter(rate.Every(every), c.cfg.RateLimit)
		}
		c.limiters[bankCode] = l
	}
	return l
}

func (c *Client) normalizer(bankCode string) (normalizer, string, error) {
	version := SchemaV1
	if b, ok := c.cfg.Bank(bankCode); ok && b.SchemaVersion != "" {
		version = strings.ToLower(b.SchemaVersion)
	}
	n, err := normalizerFor(version)
	return n, version, err
}

type call struct {
	operation  string
	method     string
	path       string
	query      url.Values
	body       []byte
	idempotent bool
	// idempotencyKey is sent as x-idempotency-key and reused across retries.
	idempotencyKey string
}

// do performs one logical call with retries and returns the decoded envelope
// and the number of extra attempts made.
func (c *Client) do(ctx context.Context, s of.Session, cl call) (*envelope, int, error) {
	ctx, span := gatewayTracer.Start(ctx, "bank."+cl.operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("bank.code", s.BankCode),
		attribute.String("consent.id", s.ConsentID),
	)

	if err := c.monitor.CheckHalted(s.BankCode); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, err
	}

	start := time.Now()
	var env *envelope
	var err error
	attempt := 1
	for ; ; attempt++ {
		env, err = c.attempt(ctx, s, cl)
		if err == nil {
			break
		}
		retry, delay := c.retry.Decide(attempt, err, cl.idempotent)
		if !retry {
			break
		}
		log.Warn().Err(err).
			Str("bank_code", s.BankCode).
			Str("operation", cl.operation).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Retrying bank call")
		if serr := c.sleep(ctx, delay); serr != nil {
			err = serr
			break
		}
	}

	if apiErr, ok := apperr.AsBankAPIError(err); ok {
		apiErr.Attempts = attempt
	}
	c.monitor.RecordCall(s.BankCode, cl.operation, time.Since(start), err)
	span.SetAttributes(attribute.Int("bank.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, attempt - 1, err
	}
	return env, attempt - 1, nil
}

func (c *Client) attempt(ctx context.Context, s of.Session, cl call) (*envelope, error) {
	if err := c.limiter(s.BankCode).Wait(ctx); err != nil {
		return nil, monitoring.MapTransportError(s.BankCode, err)
	}

	accessToken, err := c.tokens.GetValidAccessToken(ctx, s.UserID, s.ConsentID)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + cl.path
	if len(cl.query) > 0 {
		endpoint += "?" + cl.query.Encode()
	}
	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-fapi-interaction-id", uuid.NewString())
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.idempotencyKey != "" {
		req.Header.Set("x-idempotency-key", cl.idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, monitoring.MapTransportError(s.BankCode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, monitoring.MapHTTPError(s.BankCode, resp.StatusCode, resp.Header, data)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", cl.operation, err)
	}
	return &env, nil
}

func accountsPath(version string) string {
	return "/open-banking/accounts/" + version + "/accounts"
}

// ListAccounts returns the accounts the consent covers.
func (c *Client) ListAccounts(ctx context.Context, s of.Session) ([]of.BankAccount, error) {
	n, version, err := c.normalizer(s.BankCode)
	if err != nil {
		return nil, err
	}
	env, _, err := c.do(ctx, s, call{
		operation:  "list_accounts",
		method:     http.MethodGet,
		path:       accountsPath(version),
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return n.accounts(env.Data)
}

// GetBalances returns the current balance of accountID.
func (c *Client) GetBalances(ctx context.Context, accountID string, s of.Session) (*of.Balance, error) {
	n, version, err := c.normalizer(s.BankCode)
	if err != nil {
		return nil, err
	}
	env, _, err := c.do(ctx, s, call{
		operation:  "get_balances",
		method:     http.MethodGet,
		path:       accountsPath(version) + "/" + url.PathEscape(accountID) + "/balances",
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return n.balance(env.Data)
}

// ListTransactions returns one page (1-based) of transactions booked in r.
func (c *Client) ListTransactions(ctx context.Context, accountID string, s of.Session, r of.DateRange, page int) (*of.TransactionPage, error) {
	n, version, err := c.normalizer(s.BankCode)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("fromBookingDate", r.From.Format("2006-01-02"))
	q.Set("toBookingDate", r.To.Format("2006-01-02"))
	q.Set("page", strconv.Itoa(page))
	q.Set("page-size", strconv.Itoa(c.pageSize))

	env, retries, err := c.do(ctx, s, call{
		operation:  "list_transactions",
		method:     http.MethodGet,
		path:       accountsPath(version) + "/" + url.PathEscape(accountID) + "/transactions",
		query:      q,
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	txs, err := n.transactions(env.Data)
	if err != nil {
		return nil, err
	}

	totalPages := env.Meta.TotalPages
	if totalPages < page {
		totalPages = page
		if env.Links.Next != "" {
			totalPages = page + 1
		}
	}
	return &of.TransactionPage{
		Transactions: txs,
		Page:         page,
		TotalPages:   totalPages,
		TotalRecords: env.Meta.TotalRecords,
		Retries:      retries,
	}, nil
}

type paymentAmount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type paymentCreditor struct {
	Name      string `json:"name,omitempty"`
	CpfCnpj   string `json:"cpfCnpj,omitempty"`
	BankCode  string `json:"ispb,omitempty"`
	Agency    string `json:"issuer,omitempty"`
	Account   string `json:"number,omitempty"`
	Proxy     string `json:"proxy,omitempty"`
	ProxyType string `json:"proxyType,omitempty"`
}

type paymentSchedule struct {
	Date      string `json:"date"`
	Frequency string `json:"frequency,omitempty"`
}

type paymentData struct {
	LocalInstrument string           `json:"localInstrument"`
	Payment         paymentAmount    `json:"payment"`
	Creditor        paymentCreditor  `json:"creditorAccount"`
	RemittanceInfo  string           `json:"remittanceInformation,omitempty"`
	Schedule        *paymentSchedule `json:"schedule,omitempty"`
	ConsentID       string           `json:"consentId"`
}

type paymentResponse struct {
	PaymentID    string `json:"paymentId"`
	Status       string `json:"status"`
	CreationTime string `json:"creationDateTime"`
}

// InitiatePayment submits req under the session's consent. The request is
// validated first and nothing is sent when it is invalid. The idempotency key is
// fixed for all attempts, so only failures the bank marks safe are retried.
func (c *Client) InitiatePayment(ctx context.Context, req *payment.Request, s of.Session) (*payment.Result, error) {
	now := c.now()
	if err := req.Validate(now); err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = "BRL"
	}
	data := paymentData{
		Payment:        paymentAmount{Amount: req.Amount.StringFixed(2), Currency: currency},
		RemittanceInfo: req.Description,
		ConsentID:      s.ConsentID,
	}
	path := paymentsPath(req.Type)
	switch req.Type {
	case payment.TypePIX:
		data.LocalInstrument = "DICT"
		data.Creditor = paymentCreditor{Proxy: req.RecipientKey, ProxyType: strings.ToUpper(req.RecipientKeyType)}
	default:
		data.LocalInstrument = string(req.Type)
		data.Creditor = paymentCreditor{
			Name:     req.RecipientName,
			CpfCnpj:  req.RecipientDocument,
			BankCode: req.RecipientBankCode,
			Agency:   req.RecipientAgency,
			Account:  req.RecipientAccount,
		}
	}
	if req.ScheduledFor != nil {
		data.Schedule = &paymentSchedule{Date: req.ScheduledFor.Format("2006-01-02"), Frequency: strings.ToUpper(req.Frequency)}
	}

	body, err := json.Marshal(map[string]paymentData{"data": data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment: %w", err)
	}

	key := uuid.NewString()
	env, _, err := c.do(ctx, s, call{
		operation:      "initiate_payment",
		method:         http.MethodPost,
		path:           path,
		body:           body,
		idempotencyKey: key,
	})
	if err != nil {
		return nil, err
	}

	var resp paymentResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode payment response: %w", err)
	}
	created := parseTimestamp(resp.CreationTime)
	if created.IsZero() {
		created = now.UTC()
	}

	log.Info().
		Str("consent_id", s.ConsentID).
		Str("bank_code", s.BankCode).
		Str("payment_id", resp.PaymentID).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("Payment initiated")

	return &payment.Result{
		PaymentID:      resp.PaymentID,
		ConsentID:      s.ConsentID,
		Status:         req.InitialStatus(now),
		IdempotencyKey: key,
		CreatedAt:      created,
	}, nil
}

func paymentsPath(t payment.Type) string {
	if t == payment.TypePIX {
		return "/open-banking/payments/v4/pix/payments"
	}
	return "/open-banking/payments/v1/payments"
}

// bankPaymentStatuses maps the ISO 20022 style codes banks report to local statuses.
var bankPaymentStatuses = map[string]payment.Status{
	"RCVD": payment.StatusPending,
	"PATC": payment.StatusPending,
	"PDNG": payment.StatusPending,
	"SCHD": payment.StatusScheduled,
	"ACCP": payment.StatusAccepted,
	"ACPD": payment.StatusAccepted,
	"ACVC": payment.StatusAccepted,
	"ACSC": payment.StatusCompleted,
	"RJCT": payment.StatusRejected,
	"CANC": payment.StatusCancelled,
}

type paymentStatusResponse struct {
	PaymentID       string `json:"paymentId"`
	Status          string `json:"status"`
	StatusUpdatedAt string `json:"statusUpdateDateTime"`
	RejectionReason *struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"rejectionReason,omitempty"`
	Cancellation *struct {
		Reason string `json:"reason"`
	} `json:"cancellation,omitempty"`
}

func (c *Client) decodePaymentStatus(env *envelope, paymentID string) (*payment.BankStatus, error) {
	var resp paymentStatusResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode payment status: %w", err)
	}
	status, ok := bankPaymentStatuses[strings.ToUpper(resp.Status)]
	if !ok {
		return nil, fmt.Errorf("payment %s: unknown status %q", paymentID, resp.Status)
	}
	out := &payment.BankStatus{Status: status, UpdatedAt: parseTimestamp(resp.StatusUpdatedAt)}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = c.now().UTC()
	}
	switch {
	case resp.RejectionReason != nil:
		out.Reason = strings.TrimSpace(resp.RejectionReason.Code + " " + resp.RejectionReason.Detail)
	case resp.Cancellation != nil:
		out.Reason = resp.Cancellation.Reason
	}
	return out, nil
}

// GetPayment reads the bank's current status of p.
func (c *Client) GetPayment(ctx context.Context, p *payment.Payment, s of.Session) (*payment.BankStatus, error) {
	env, _, err := c.do(ctx, s, call{
		operation:  "get_payment",
		method:     http.MethodGet,
		path:       paymentsPath(p.Type) + "/" + url.PathEscape(p.ID),
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return c.decodePaymentStatus(env, p.ID)
}

// CancelPayment asks the bank to cancel p. Moving a payment to CANC twice has no
// further effect, so the call is retried like a read.
func (c *Client) CancelPayment(ctx context.Context, p *payment.Payment, s of.Session) (*payment.BankStatus, error) {
	body, err := json.Marshal(map[string]any{"data": map[string]string{"status": "CANC"}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cancellation: %w", err)
	}
	env, _, err := c.do(ctx, s, call{
		operation:  "cancel_payment",
		method:     http.MethodPatch,
		path:       paymentsPath(p.Type) + "/" + url.PathEscape(p.ID),
		body:       body,
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	status, err := c.decodePaymentStatus(env, p.ID)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("consent_id", s.ConsentID).
		Str("bank_code", s.BankCode).
		Str("payment_id", p.ID).
		Str("status", string(status.Status)).
		Msg("Payment cancellation requested")
	return status, nil
}
