package consent

import "context"

// Repository defines persistence for consents.
// Implementations must make CompareAndSetStatus atomic: the update applies only when the
// stored status still equals params.From.
type Repository interface {
	Create(ctx context.Context, c *Consent) error

	// GetByID returns nil, nil when the consent does not exist.
	GetByID(ctx context.Context, id string) (*Consent, error)

	ListByUserID(ctx context.Context, userID string) ([]*Consent, error)

	ListByStatus(ctx context.Context, status Status) ([]*Consent, error)

	// CompareAndSetStatus reports whether the transition was applied.
	CompareAndSetStatus(ctx context.Context, params TransitionParams) (bool, error)
}
