package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	of "ofbconnect/internal/domain/openfinance"
)

func pending(id string) *of.PendingAuthorization {
	return &of.PendingAuthorization{
		ConsentID: id,
		UserID:    "user-1",
		BankCode:  "001",
		Verifier:  "verifier-" + id,
		Nonce:     "nonce-" + id,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestMemoryVerifierStore_ConsumeOnce(t *testing.T) {
	s := NewMemoryVerifierStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, pending("c-1"), time.Minute))
	assert.Equal(t, 1, s.Len())

	got, err := s.Consume(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "verifier-c-1", got.Verifier)
	assert.Equal(t, "user-1", got.UserID)

	again, err := s.Consume(ctx, "c-1")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMemoryVerifierStore_Expired(t *testing.T) {
	s := NewMemoryVerifierStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, pending("c-2"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	got, err := s.Consume(ctx, "c-2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryVerifierStore_Missing(t *testing.T) {
	s := NewMemoryVerifierStore(time.Minute)
	defer s.Close()

	got, err := s.Consume(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// Runs against a real server when REDIS_TEST_ADDR is set.
func TestRedisVerifierStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	s := NewRedisVerifierStore(client, "ofbconnect-test")
	want := pending("c-redis")
	require.NoError(t, s.Save(ctx, want, time.Minute))

	ttl, err := client.TTL(ctx, s.key("c-redis")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	got, err := s.Consume(ctx, "c-redis")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	again, err := s.Consume(ctx, "c-redis")
	require.NoError(t, err)
	assert.Nil(t, again)
}
