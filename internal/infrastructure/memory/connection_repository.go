package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"ofbconnect/internal/domain/connection"
)

type ConnectionRepository struct {
	mu          sync.RWMutex
	connections map[string]connection.Connection
	accounts    map[string]connection.Account
}

func NewConnectionRepository() *ConnectionRepository {
	return &ConnectionRepository{
		connections: make(map[string]connection.Connection),
		accounts:    make(map[string]connection.Account),
	}
}

func cloneConnection(c connection.Connection) *connection.Connection {
	c.AccountIDs = slices.Clone(c.AccountIDs)
	return &c
}

func (r *ConnectionRepository) Create(ctx context.Context, c *connection.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.connections {
		if existing.ConsentID == c.ConsentID {
			return fmt.Errorf("connection for consent %s already exists", c.ConsentID)
		}
	}
	r.connections[c.ID] = *cloneConnection(*c)
	return nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	if !ok {
		return nil, nil
	}
	return cloneConnection(c), nil
}

func (r *ConnectionRepository) GetByConsentID(ctx context.Context, consentID string) (*connection.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.connections {
		if c.ConsentID == consentID {
			return cloneConnection(c), nil
		}
	}
	return nil, nil
}

func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID string) ([]*connection.Connection, error) {
	return r.list(func(c connection.Connection) bool { return c.UserID == userID }), nil
}

func (r *ConnectionRepository) ListDue(ctx context.Context, now time.Time) ([]*connection.Connection, error) {
	return r.list(func(c connection.Connection) bool {
		return c.Status == connection.StatusActive && c.NextSyncAt != nil && !c.NextSyncAt.After(now)
	}), nil
}

func (r *ConnectionRepository) list(keep func(connection.Connection) bool) []*connection.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*connection.Connection
	for _, c := range r.connections {
		if keep(c) {
			out = append(out, cloneConnection(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id string, status connection.Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connections[id]
	if !ok {
		return fmt.Errorf("connection %s not found", id)
	}
	c.Status = status
	c.UpdatedAt = at
	r.connections[id] = c
	return nil
}

func (r *ConnectionRepository) MarkSynced(ctx context.Context, id string, syncedAt time.Time, next *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connections[id]
	if !ok {
		return fmt.Errorf("connection %s not found", id)
	}
	c.LastSyncAt = &syncedAt
	c.NextSyncAt = next
	c.UpdatedAt = syncedAt
	r.connections[id] = c
	return nil
}

func (r *ConnectionRepository) UpsertAccount(ctx context.Context, a *connection.Account) (*connection.Account, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.accounts {
		if existing.ConnectionID != a.ConnectionID || existing.ExternalID != a.ExternalID {
			continue
		}
		existing.Type = a.Type
		existing.Subtype = a.Subtype
		existing.Currency = a.Currency
		existing.BrandName = a.BrandName
		existing.CompanyCNPJ = a.CompanyCNPJ
		existing.MaskedNumber = a.MaskedNumber
		existing.MaskedAgency = a.MaskedAgency
		existing.UpdatedAt = a.UpdatedAt
		r.accounts[id] = existing
		return &existing, false, nil
	}
	r.accounts[a.ID] = *a
	stored := *a
	return &stored, true, nil
}

func (r *ConnectionRepository) ListAccounts(ctx context.Context, connectionID string) ([]*connection.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*connection.Account
	for _, a := range r.accounts {
		if a.ConnectionID == connectionID {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (r *ConnectionRepository) UpdateAccountBalance(ctx context.Context, accountID string, b connection.Balance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s not found", accountID)
	}
	available, blocked, invested, at := b.Available, b.Blocked, b.AutomaticallyInvested, b.UpdatedAt
	a.AvailableBalance = &available
	a.BlockedBalance = &blocked
	a.InvestedBalance = &invested
	a.BalanceUpdatedAt = &at
	r.accounts[accountID] = a
	return nil
}
