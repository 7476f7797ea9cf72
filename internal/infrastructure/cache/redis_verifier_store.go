package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	of "ofbconnect/internal/domain/openfinance"
)

// RedisVerifierStore is a PendingStore shared by every API instance.
type RedisVerifierStore struct {
	client *redis.Client
	prefix string
}

var _ of.PendingStore = (*RedisVerifierStore)(nil)

func NewRedisVerifierStore(client *redis.Client, prefix string) *RedisVerifierStore {
	if prefix == "" {
		prefix = "ofbconnect"
	}
	return &RedisVerifierStore{client: client, prefix: prefix}
}

func (r *RedisVerifierStore) key(consentID string) string {
	return fmt.Sprintf("%s:pending:%s", r.prefix, consentID)
}

func (r *RedisVerifierStore) Save(ctx context.Context, p *of.PendingAuthorization, ttl time.Duration) error {
	key := r.key(p.ConsentID)
	entry := map[string]interface{}{
		"consent_id": p.ConsentID,
		"user_id":    p.UserID,
		"bank_code":  p.BankCode,
		"verifier":   p.Verifier,
		"nonce":      p.Nonce,
		"created_at": p.CreatedAt.Unix(),
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, entry)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store pending authorization: %w", err)
	}
	return nil
}

// Consume reads and deletes the entry in one transaction so a verifier is
// handed out at most once.
func (r *RedisVerifierStore) Consume(ctx context.Context, consentID string) (*of.PendingAuthorization, error) {
	key := r.key(consentID)

	var get *redis.MapStringStringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGetAll(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending authorization: %w", err)
	}

	res := get.Val()
	if len(res) == 0 {
		return nil, nil
	}
	createdUnix, err := strconv.ParseInt(res["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt pending authorization %s: %w", consentID, err)
	}
	return &of.PendingAuthorization{
		ConsentID: res["consent_id"],
		UserID:    res["user_id"],
		BankCode:  res["bank_code"],
		Verifier:  res["verifier"],
		Nonce:     res["nonce"],
		CreatedAt: time.Unix(createdUnix, 0).UTC(),
	}, nil
}
