// Package openfinance drives the bank connection flow and the import of accounts,
// balances and transactions from Open Finance Brasil banks.
package openfinance

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrJobFinalized is returned when a completed or failed SyncJob would be modified.
var ErrJobFinalized = errors.New("sync job already finished")

// Session identifies whose tokens and which bank a gateway call uses.
type Session struct {
	UserID    string
	ConsentID string
	BankCode  string
}

// DateRange is an inclusive range of booking dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

// BankAccount is an account as reported by a bank, normalized across schema versions.
type BankAccount struct {
	ExternalID  string
	Type        string
	Subtype     string
	Currency    string
	BrandName   string
	CompanyCNPJ string
	Number      string
	CheckDigit  string
	BranchCode  string
}

// Balance is a normalized balance snapshot.
type Balance struct {
	Available             decimal.Decimal
	Blocked               decimal.Decimal
	AutomaticallyInvested decimal.Decimal
	Currency              string
	UpdatedAt             time.Time
}

// Credit/debit indicators used by Open Finance Brasil.
const (
	Credito = "CREDITO"
	Debito  = "DEBITO"
)

// BankTransaction is a normalized transaction. Amount is unsigned as reported;
// CreditDebit carries the direction.
type BankTransaction struct {
	ExternalID      string
	BookingDate     time.Time
	Amount          decimal.Decimal
	Currency        string
	CreditDebit     string
	Description     string
	Type            string
	Category        string
	ReferenceNumber string
}

// TransactionPage is one page of a transaction listing.
type TransactionPage struct {
	Transactions []BankTransaction
	Page         int
	TotalPages   int
	TotalRecords int
	// Retries is how many extra attempts the gateway needed for this page.
	Retries int
}

// ImportedTransaction is a bank transaction stored for an account.
// (AccountID, ExternalID) is unique.
type ImportedTransaction struct {
	ID           string
	UserID       string
	ConnectionID string
	AccountID    string
	ExternalID   string
	BookingDate  time.Time
	// Amount is negative for debits.
	Amount      decimal.Decimal
	Currency    string
	Description string
	CategoryID  string
	Type        string
	Tags        []string
	Notes       string
	ImportedAt  time.Time
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Sync triggers.
const (
	TriggerInitial   = "initial"
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// SyncJob is one execution of the import for a connection. It is never modified
// after it reaches completed or failed.
type SyncJob struct {
	ID           string
	ConnectionID string
	UserID       string
	Trigger      string
	From         time.Time
	To           time.Time
	Status       JobStatus

	AccountsProcessed int
	AccountsFailed    int
	AccountsSkipped   int
	ImportedCount     int
	SkippedCount      int
	Errors            []string

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// PendingAuthorization is what must survive between building the authorization
// URL and handling the bank's callback.
type PendingAuthorization struct {
	ConsentID string
	UserID    string
	BankCode  string
	Verifier  string
	Nonce     string
	CreatedAt time.Time
}

// AuthorizationRequest is a built authorization redirect.
type AuthorizationRequest struct {
	URL      string
	State    string
	Verifier string
	Nonce    string
}
