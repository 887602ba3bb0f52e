package kvs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

func startRedis(t *testing.T, ctx context.Context) *redis.Client {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	client := startRedis(t, ctx)

	store, backend := Open(ctx, Config{Backend: "redis", Prefix: "test"}, client, zaptest.NewLogger(t))
	require.Equal(t, BackendRedis, backend)

	t.Run("absent key reads empty", func(t *testing.T) {
		got, err := store.GetFields(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("set merges fields", func(t *testing.T) {
		require.NoError(t, store.SetFields(ctx, "merge", map[string]string{"status": "pending", "threadId": "T"}))
		require.NoError(t, store.SetFields(ctx, "merge", map[string]string{"status": "completed"}))

		got, err := store.GetFields(ctx, "merge")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"status": "completed", "threadId": "T"}, got)
	})

	t.Run("keys are prefixed", func(t *testing.T) {
		require.NoError(t, store.SetFields(ctx, "prefixed", map[string]string{"a": "b"}))
		n, err := client.Exists(ctx, "test:prefixed").Result()
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("expiry makes key absent", func(t *testing.T) {
		require.NoError(t, Write(ctx, store, "ttl", map[string]string{"status": "completed"}, time.Second))

		ttl, err := client.TTL(ctx, "test:ttl").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))

		assert.Eventually(t, func() bool {
			got, err := store.GetFields(ctx, "ttl")
			return err == nil && len(got) == 0
		}, 5*time.Second, 100*time.Millisecond)
	})
}
