// Package memory provides in-process repositories used by the memory storage
// driver and by scenario tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"ofbconnect/internal/domain/consent"
)

type ConsentRepository struct {
	mu       sync.RWMutex
	consents map[string]consent.Consent
}

func NewConsentRepository() *ConsentRepository {
	return &ConsentRepository{consents: make(map[string]consent.Consent)}
}

func cloneConsent(c consent.Consent) *consent.Consent {
	c.Scopes = slices.Clone(c.Scopes)
	c.Permissions = slices.Clone(c.Permissions)
	return &c
}

func (r *ConsentRepository) Create(ctx context.Context, c *consent.Consent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consents[c.ID] = *cloneConsent(*c)
	return nil
}

func (r *ConsentRepository) GetByID(ctx context.Context, id string) (*consent.Consent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consents[id]
	if !ok {
		return nil, nil
	}
	return cloneConsent(c), nil
}

func (r *ConsentRepository) ListByUserID(ctx context.Context, userID string) ([]*consent.Consent, error) {
	return r.list(func(c consent.Consent) bool { return c.UserID == userID }), nil
}

func (r *ConsentRepository) ListByStatus(ctx context.Context, status consent.Status) ([]*consent.Consent, error) {
	return r.list(func(c consent.Consent) bool { return c.Status == status }), nil
}

func (r *ConsentRepository) list(keep func(consent.Consent) bool) []*consent.Consent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*consent.Consent
	for _, c := range r.consents {
		if keep(c) {
			out = append(out, cloneConsent(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// CompareAndSetStatus applies the transition under the write lock.
func (r *ConsentRepository) CompareAndSetStatus(ctx context.Context, p consent.TransitionParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consents[p.ID]
	if !ok || c.Status != p.From {
		return false, nil
	}
	c.Status = p.To
	c.UpdatedAt = p.At
	if p.Reason != "" {
		c.StatusReason = p.Reason
	}
	if p.AuthorizationExpiresAt != nil {
		at := *p.AuthorizationExpiresAt
		c.AuthorizationExpiresAt = &at
	}
	r.consents[p.ID] = c
	return true, nil
}
