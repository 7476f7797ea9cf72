package memory

import (
	"context"
	"sync"

	"ofbconnect/internal/domain/token"
)

type tokenKey struct{ userID, consentID string }

type TokenRepository struct {
	mu      sync.RWMutex
	records map[tokenKey]token.Record
}

func NewTokenRepository() *TokenRepository {
	return &TokenRepository{records: make(map[tokenKey]token.Record)}
}

func (r *TokenRepository) Replace(ctx context.Context, rec *token.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[tokenKey{rec.UserID, rec.ConsentID}] = *rec
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, userID, consentID string) (*token.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[tokenKey{userID, consentID}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *TokenRepository) Delete(ctx context.Context, userID, consentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, tokenKey{userID, consentID})
	return nil
}
