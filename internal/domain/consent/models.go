package consent

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a consent lifecycle state. EXPIRED and REVOKED are terminal.
type Status string

const (
	StatusRequested             Status = "REQUESTED"
	StatusAwaitingAuthorization Status = "AWAITING_AUTHORIZATION"
	StatusActive                Status = "ACTIVE"
	StatusExpired               Status = "EXPIRED"
	StatusRevoked               Status = "REVOKED"
)

func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusRevoked
}

// Scopes a user may grant.
const (
	ScopeAccounts     = "accounts"
	ScopeBalances     = "balances"
	ScopeTransactions = "transactions"
	ScopeCreditCards  = "credit-cards"
	ScopePayments     = "payments"
)

// scopePermissions maps each scope to the Open Finance Brasil permission codes it requests.
var scopePermissions = map[string][]string{
	ScopeAccounts:     {"ACCOUNTS_READ"},
	ScopeBalances:     {"ACCOUNTS_READ", "ACCOUNTS_BALANCES_READ"},
	ScopeTransactions: {"ACCOUNTS_READ", "ACCOUNTS_TRANSACTIONS_READ"},
	ScopeCreditCards:  {"CREDIT_CARDS_ACCOUNTS_READ", "CREDIT_CARDS_ACCOUNTS_TRANSACTIONS_READ"},
	ScopePayments:     {"PAYMENTS_INITIATE"},
}

// SupportedScopes returns the scopes accepted by CreateConsent, sorted.
func SupportedScopes() []string {
	scopes := make([]string, 0, len(scopePermissions))
	for s := range scopePermissions {
		scopes = append(scopes, s)
	}
	slices.Sort(scopes)
	return scopes
}

// PermissionsFor returns the sorted, de-duplicated permission codes for scopes.
// RESOURCES_READ is always requested.
func PermissionsFor(scopes []string) []string {
	perms := []string{"RESOURCES_READ"}
	for _, s := range scopes {
		perms = append(perms, scopePermissions[s]...)
	}
	slices.Sort(perms)
	return slices.Compact(perms)
}

// ExpirationPolicy controls how long an authorized consent stays valid.
// Zero Days uses the service default.
type ExpirationPolicy struct {
	Days int
}

// TransactionWindow bounds the transaction history the consent grants access to.
type TransactionWindow struct {
	From time.Time
	To   time.Time
}

// Consent is a user's time-boxed grant of permissions for one bank.
// Scopes never change after creation; only status, reason and timestamps do.
type Consent struct {
	ID           string
	UserID       string
	BankCode     string
	Scopes       []string
	Permissions  []string
	Status       Status
	StatusReason string

	TransactionFrom *time.Time
	TransactionTo   *time.Time

	CreatedAt              time.Time
	UpdatedAt              time.Time
	ExpiresAt              time.Time
	AuthorizationExpiresAt *time.Time
}

// HasScopes reports whether every required scope was granted.
func (c *Consent) HasScopes(required ...string) bool {
	for _, r := range required {
		if !slices.Contains(c.Scopes, r) {
			return false
		}
	}
	return true
}

// AuthorizationResult is the outcome of the bank redirect for a consent.
type AuthorizationResult struct {
	Approved bool
	Reason   string
}

// CreateParams holds the inputs of CreateConsent.
type CreateParams struct {
	UserID     string
	BankCode   string
	Scopes     []string
	Expiration ExpirationPolicy
	Window     *TransactionWindow
}

// TransitionParams describes a compare-and-set status change.
type TransitionParams struct {
	ID     string
	From   Status
	To     Status
	Reason string
	At     time.Time
	// AuthorizationExpiresAt is stored when non-nil.
	AuthorizationExpiresAt *time.Time
}

func newID() string {
	return "consent_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
