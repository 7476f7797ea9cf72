package connection

import (
	"context"
	"time"
)

// Repository defines data access for connections and their accounts.
// Lookups return nil, nil when nothing matches.
type Repository interface {
	Create(ctx context.Context, c *Connection) error
	GetByID(ctx context.Context, id string) (*Connection, error)
	GetByConsentID(ctx context.Context, consentID string) (*Connection, error)
	ListByUserID(ctx context.Context, userID string) ([]*Connection, error)
	// ListDue returns active connections whose NextSyncAt is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*Connection, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
	MarkSynced(ctx context.Context, id string, syncedAt time.Time, next *time.Time) error

	// UpsertAccount inserts the account or updates the one with the same
	// (ConnectionID, ExternalID), returning the stored row and whether it was created.
	UpsertAccount(ctx context.Context, a *Account) (*Account, bool, error)
	ListAccounts(ctx context.Context, connectionID string) ([]*Account, error)
	UpdateAccountBalance(ctx context.Context, accountID string, b Balance) error
}
