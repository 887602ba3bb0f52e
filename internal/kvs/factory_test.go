package kvs

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpenFallsBackToMemory(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	store, backend := Open(context.Background(), Config{
		Backend:      "redis",
		ProbeTimeout: 500 * time.Millisecond,
	}, client, zaptest.NewLogger(t))

	assert.Equal(t, BackendMemory, backend)
	ms, ok := store.(*MemoryStore)
	require.True(t, ok, "expected *MemoryStore, got %T", store)
	defer ms.Close()

	ctx := context.Background()
	require.NoError(t, store.SetFields(ctx, "k", map[string]string{"status": "pending"}))
	got, err := store.GetFields(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "pending", got["status"])
}

func TestOpenMemoryBackendSkipsRedis(t *testing.T) {
	store, backend := Open(context.Background(), Config{Backend: "memory"}, nil, nil)
	assert.Equal(t, BackendMemory, backend)
	store.(*MemoryStore).Close()
}

func TestOpenRedisWithoutClient(t *testing.T) {
	store, backend := Open(context.Background(), Config{Backend: "redis"}, nil, zaptest.NewLogger(t))
	assert.Equal(t, BackendMemory, backend)
	store.(*MemoryStore).Close()
}
