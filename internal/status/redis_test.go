package status_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/koopa0/system-design/14-realtime-sync/internal/status"
)

// setupRedis 啟動 Redis 測試容器；-short 或沒有 Docker 時跳過
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr:        endpoint,
		DialTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(ctx).Err())
	return client
}

// TestRedisStore 測試房間狀態寫入、讀取與刪除
func TestRedisStore(t *testing.T) {
	client := setupRedis(t)
	store := status.NewRedisStore(client, "test", time.Minute)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	writes := []status.Status{
		{Room: "r2", Mode: "terminalclient", State: "waiting", Players: 1, Event: status.EventPlayerJoined, UpdatedAt: now},
		{Room: "r1", Mode: "lockstep", State: "active", Players: 2, Started: true, Epoch: 3, Event: status.EventStarted, UpdatedAt: now},
	}
	for _, st := range writes {
		require.NoError(t, store.Write(ctx, st))
	}

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, now.Equal(got.UpdatedAt))
	got.UpdatedAt = writes[1].UpdatedAt
	assert.Equal(t, writes[1], got)

	ttl, err := client.TTL(ctx, "test:room:r1").Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r1", list[0].Room)
	assert.Equal(t, "r2", list[1].Room)

	// 關閉後移除
	require.NoError(t, store.Write(ctx, status.Status{Room: "r1", Event: status.EventClosed}))
	_, err = store.Get(ctx, "r1")
	assert.ErrorIs(t, err, redis.Nil)

	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r2", list[0].Room)
}
