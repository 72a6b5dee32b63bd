package utils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Perceptus-Labs/perceptus-lookout/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, Config) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.RedisHost = mr.Addr()
	return mr, cfg
}

func activity(i int) models.Activity {
	return models.Activity{
		ID:        fmt.Sprintf("act-%d", i),
		Type:      models.ACTIVITY_TEXT_DETECTION,
		Timestamp: time.Unix(int64(1700000000+i), 0).UTC(),
		Results:   []string{fmt.Sprintf("line %d", i)},
		Summary:   fmt.Sprintf("line %d", i),
	}
}

func TestRedisActivityStoreNewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	_, cfg := newTestRedis(t)
	client, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := NewRedisActivityStore(client)
	for i := 0; i < MAX_ACTIVITIES+5; i++ {
		require.NoError(t, store.Save(ctx, activity(i)))
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, MAX_ACTIVITIES)
	assert.Equal(t, fmt.Sprintf("act-%d", MAX_ACTIVITIES+4), list[0].ID)
	assert.Equal(t, "act-5", list[len(list)-1].ID)
	assert.True(t, list[0].Timestamp.Equal(activity(MAX_ACTIVITIES+4).Timestamp))

	require.NoError(t, store.Clear(ctx))
	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisActivityStoreCorruptEntry(t *testing.T) {
	ctx := context.Background()
	mr, cfg := newTestRedis(t)
	client, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	_, err = mr.Lpush(ACTIVITY_KEY, "{not json")
	require.NoError(t, err)

	_, err = NewRedisActivityStore(client).List(ctx)
	assert.True(t, IsKind(err, KindStorage))
}

func TestMemoryActivityStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryActivityStore()
	for i := 0; i < MAX_ACTIVITIES+1; i++ {
		require.NoError(t, store.Save(ctx, activity(i)))
	}
	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, MAX_ACTIVITIES)
	assert.Equal(t, fmt.Sprintf("act-%d", MAX_ACTIVITIES), list[0].ID)

	require.NoError(t, store.Clear(ctx))
	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisTokenStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	_, cfg := newTestRedis(t)
	client, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := NewRedisTokenStore(client)

	token, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.Equal(t, "", BearerHeader(ctx, store))

	require.NoError(t, store.Store(ctx, models.Token{Access: "abc", Refresh: "def"}))
	token, err = store.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "abc", token.Access)
	assert.Equal(t, "Bearer abc", BearerHeader(ctx, store))

	require.NoError(t, store.Remove(ctx))
	token, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestNewRedisClientUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisHost = "127.0.0.1:1"
	_, err := NewRedisClient(context.Background(), cfg)
	assert.True(t, IsKind(err, KindStorage))
}

func TestBearerHeaderNilStore(t *testing.T) {
	assert.Equal(t, "", BearerHeader(context.Background(), nil))
}
