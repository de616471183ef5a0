package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/resume-entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv/kvtest"
)

var now = time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC)

func orderKey(id string) string { return "paypal-processed:" + id }

func TestGate_AcquireOnce(t *testing.T) {
	store := kvtest.NewRedisStore(t)
	gate := NewGate(store, "processed_orders", orderKey, 30*24*time.Hour, clock.NewFake(now))
	ctx := context.Background()

	_, found, err := gate.Lookup(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, found)

	won, err := gate.Acquire(ctx, "order-1", kv.Item{"userId": "u1"})
	require.NoError(t, err)
	assert.True(t, won)

	won, err = gate.Acquire(ctx, "order-1", kv.Item{"userId": "u2"})
	require.NoError(t, err)
	assert.False(t, won)

	item, found, err := gate.Lookup(ctx, "order-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "u1", item.String("userId"))
	assert.Equal(t, now.Unix(), item.Int(FieldProcessedAt))
	assert.Equal(t, now.Add(30*24*time.Hour).Unix(), item.Int(kv.TTLField))

	_, err = store.Get(ctx, "processed_orders", "paypal-processed:order-1")
	assert.NoError(t, err)
}

func TestGate_ConcurrentAcquire(t *testing.T) {
	gate := NewGate(kvtest.NewRedisStore(t), "processed_orders", orderKey, 0, clock.NewFake(now))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := gate.Acquire(context.Background(), "order-race", kv.Item{"userId": "u1"})
			assert.NoError(t, err)
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestGate_StoreError(t *testing.T) {
	store := new(kvtest.MockStore)
	store.On("PutIfAbsent", mock.Anything, "processed_orders", "paypal-processed:o1", mock.Anything).
		Return(errors.New("throttled")).Once()
	store.On("Get", mock.Anything, "processed_orders", "paypal-processed:o1").
		Return(nil, errors.New("throttled")).Once()

	gate := NewGate(store, "processed_orders", orderKey, 0, clock.NewFake(now))

	won, err := gate.Acquire(context.Background(), "o1", kv.Item{"userId": "u1"})
	assert.Error(t, err)
	assert.False(t, won)

	_, _, err = gate.Lookup(context.Background(), "o1")
	assert.Error(t, err)
	store.AssertExpectations(t)
}

func TestFlag_ClaimOnce(t *testing.T) {
	store := kvtest.NewRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "users", "u1", kv.Item{"id": "u1", "freeDownloadUsed": false, "totalDownloads": int64(0)}))

	flag := NewFlag(store, "users", func(id string) string { return id }, "freeDownloadUsed", "totalDownloads", kv.Exists("id"))

	item, claimed, err := flag.Claim(ctx, "u1", map[string]any{"updatedAt": now.Unix()})
	require.NoError(t, err)
	require.True(t, claimed)
	assert.True(t, item.Bool("freeDownloadUsed"))
	assert.Equal(t, int64(1), item.Int("totalDownloads"))
	assert.Equal(t, now.Unix(), item.Int("updatedAt"))

	_, claimed, err = flag.Claim(ctx, "u1", nil)
	require.NoError(t, err)
	assert.False(t, claimed)

	// отсутствующая запись не создается
	_, claimed, err = flag.Claim(ctx, "ghost", nil)
	require.NoError(t, err)
	assert.False(t, claimed)
	_, err = store.Get(ctx, "users", "ghost")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestFlag_ConcurrentClaim(t *testing.T) {
	store := kvtest.NewRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "users", "u1", kv.Item{"id": "u1"}))
	flag := NewFlag(store, "users", func(id string) string { return id }, "freeResumeUsed", "resumesGenerated", kv.Exists("id"))

	var claims atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := flag.Claim(ctx, "u1", nil)
			assert.NoError(t, err)
			if claimed {
				claims.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claims.Load())
	item, err := store.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), item.Int("resumesGenerated"))
	assert.True(t, item.Bool("freeResumeUsed"))
}
