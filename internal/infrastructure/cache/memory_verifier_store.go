// Package cache keeps pending authorizations (PKCE verifier and nonce) between
// the authorization redirect and the bank callback.
package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	of "ofbconnect/internal/domain/openfinance"
)

// MemoryVerifierStore is a single-instance PendingStore backed by ttlcache.
type MemoryVerifierStore struct {
	cache *ttlcache.Cache[string, of.PendingAuthorization]
}

var _ of.PendingStore = (*MemoryVerifierStore)(nil)

// NewMemoryVerifierStore creates the store and starts its expiry loop. Call
// Close to stop it.
func NewMemoryVerifierStore(defaultTTL time.Duration) *MemoryVerifierStore {
	c := ttlcache.New(
		ttlcache.WithTTL[string, of.PendingAuthorization](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, of.PendingAuthorization](),
	)
	go c.Start()
	return &MemoryVerifierStore{cache: c}
}

func (s *MemoryVerifierStore) Save(_ context.Context, p *of.PendingAuthorization, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	s.cache.Set(p.ConsentID, *p, ttl)
	return nil
}

// Consume returns the entry for consentID and removes it. Expired entries are
// reported as absent.
func (s *MemoryVerifierStore) Consume(_ context.Context, consentID string) (*of.PendingAuthorization, error) {
	item, ok := s.cache.GetAndDelete(consentID)
	if !ok || item == nil || item.IsExpired() {
		return nil, nil
	}
	p := item.Value()
	return &p, nil
}

func (s *MemoryVerifierStore) Len() int {
	return s.cache.Len()
}

// Close stops the expiry loop.
func (s *MemoryVerifierStore) Close() error {
	s.cache.Stop()
	return nil
}
