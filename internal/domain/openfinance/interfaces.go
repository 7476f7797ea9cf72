package openfinance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ofbconnect/internal/domain/consent"
	"ofbconnect/internal/domain/payment"
	"ofbconnect/internal/domain/token"
)

// BankGateway reads account data from a bank on behalf of a session.
type BankGateway interface {
	ListAccounts(ctx context.Context, s Session) ([]BankAccount, error)
	GetBalances(ctx context.Context, accountID string, s Session) (*Balance, error)
	ListTransactions(ctx context.Context, accountID string, s Session, r DateRange, page int) (*TransactionPage, error)
}

// PaymentGateway initiates payments at a bank and follows them up.
type PaymentGateway interface {
	InitiatePayment(ctx context.Context, req *payment.Request, s Session) (*payment.Result, error)
	GetPayment(ctx context.Context, p *payment.Payment, s Session) (*payment.BankStatus, error)
	CancelPayment(ctx context.Context, p *payment.Payment, s Session) (*payment.BankStatus, error)
}

// Authorizer builds authorization redirects and exchanges their codes for tokens.
type Authorizer interface {
	BuildAuthorizationURL(ctx context.Context, c *consent.Consent) (*AuthorizationRequest, error)
	ExchangeCode(ctx context.Context, code, verifier string, c *consent.Consent) (*token.Payload, error)
}

// TransactionStore is the internal transaction store imported transactions go to.
type TransactionStore interface {
	// UpsertByExternalID inserts tx unless (AccountID, ExternalID) already exists,
	// reporting whether a row was created.
	UpsertByExternalID(ctx context.Context, tx *ImportedTransaction) (bool, error)
}

// Categorizer suggests a category id for a transaction, or "" for no suggestion.
type Categorizer interface {
	Suggest(ctx context.Context, description string, amount decimal.Decimal) (string, error)
}

// JobRepository persists sync jobs. Lookups return nil, nil when nothing matches.
type JobRepository interface {
	Create(ctx context.Context, job *SyncJob) error
	// Update stores job and returns ErrJobFinalized if the stored job is already terminal.
	Update(ctx context.Context, job *SyncJob) error
	GetByID(ctx context.Context, id string) (*SyncJob, error)
	ListByConnection(ctx context.Context, connectionID string, limit int) ([]*SyncJob, error)
}

// PendingStore keeps pending authorizations until their callback arrives.
type PendingStore interface {
	Save(ctx context.Context, p *PendingAuthorization, ttl time.Duration) error
	// Consume returns and deletes the entry; nil, nil when absent or expired.
	Consume(ctx context.Context, consentID string) (*PendingAuthorization, error)
}

// ConsentChecker gates data access on an ACTIVE consent.
type ConsentChecker interface {
	RequireActive(ctx context.Context, id string) (*consent.Consent, error)
}

// Notifier tells users about sync results. Failures are logged, never fatal.
type Notifier interface {
	SyncCompleted(ctx context.Context, userID, bankName string, imported int) error
	ConsentExpired(ctx context.Context, userID, bankName string) error
}

// TokenStore keeps the tokens obtained at the end of an authorization.
type TokenStore interface {
	Store(ctx context.Context, userID, consentID string, payload *token.Payload) error
	// Remove deletes the tokens of the key; removing absent tokens succeeds.
	Remove(ctx context.Context, userID, consentID string) error
}

// SyncQueue runs syncs outside the request that asked for them.
type SyncQueue interface {
	EnqueueSync(connectionID, trigger string) error
}
