package token

import "context"

// Repository persists one Record per (user, consent).
type Repository interface {
	// Replace stores rec, atomically overwriting any record with the same key.
	Replace(ctx context.Context, rec *Record) error
	// Get returns nil, nil when no record exists.
	Get(ctx context.Context, userID, consentID string) (*Record, error)
	// Delete is a no-op when no record exists.
	Delete(ctx context.Context, userID, consentID string) error
}
