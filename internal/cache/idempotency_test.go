package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safaripay/config"
)

func exerciseStore(t *testing.T, s IdempotencyStore) {
	ctx := context.Background()
	key := uuid.NewString()

	stored, started, err := s.Begin(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Nil(t, stored)

	stored, started, err = s.Begin(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, started)
	require.NotNil(t, stored)
	assert.True(t, stored.InFlight)

	require.NoError(t, s.Complete(ctx, key, Response{Status: 201, ContentType: "application/json", Body: []byte(`{"id":1}`)}, time.Minute))
	stored, started, err = s.Begin(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, started)
	require.NotNil(t, stored)
	assert.False(t, stored.InFlight)
	assert.Equal(t, 201, stored.Status)
	assert.JSONEq(t, `{"id":1}`, string(stored.Body))

	require.NoError(t, s.Release(ctx, key))
	_, started, err = s.Begin(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, started)
}

func TestMemoryIdempotencyStore(t *testing.T) {
	exerciseStore(t, NewMemoryIdempotencyStore())
}

func TestMemoryIdempotencyStore_Expires(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, started, err := s.Begin(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, started)

	now = now.Add(2 * time.Second)
	_, started, err = s.Begin(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, started)
}

func TestRedisIdempotencyStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client, err := Connect(context.Background(), config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	exerciseStore(t, NewRedisIdempotencyStore(client))
}
