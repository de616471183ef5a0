package redisstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/resume-entitlement/internal/config"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	cfg := config.RedisConnection{
		AddressRedis: mr.Addr(),
	}

	store, err := InitServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestGetNotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.Get(context.Background(), "users", "missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestPutAndGet(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	err := store.Put(ctx, "users", "u1", kv.Item{
		"id":             "u1",
		"isPremium":      true,
		"totalDownloads": int64(3),
	})
	require.NoError(t, err)

	item, err := store.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", item.String("id"))
	assert.True(t, item.Bool("isPremium"))
	assert.Equal(t, int64(3), item.Int("totalDownloads"))
}

func TestPutReplacesWholeItem(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "t", "k", kv.Item{"a": "1", "b": "2"}))
	require.NoError(t, store.Put(ctx, "t", "k", kv.Item{"a": "3"}))

	item, err := store.Get(ctx, "t", "k")
	require.NoError(t, err)
	assert.Equal(t, "3", item.String("a"))
	assert.False(t, item.Has("b"))
}

func TestPutSetsExpiry(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()
	mr.SetTime(time.Unix(1_700_000_000, 0))

	err := store.Put(ctx, "rate_limits", "k", kv.Item{"count": int64(1), kv.TTLField: int64(1_700_000_060)})
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, mr.TTL("rate_limits:k"))
}

func TestPutIfAbsent(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	err := store.PutIfAbsent(ctx, "processed_orders", "o1", kv.Item{"userId": "u1"})
	require.NoError(t, err)

	err = store.PutIfAbsent(ctx, "processed_orders", "o1", kv.Item{"userId": "u2"})
	assert.ErrorIs(t, err, kv.ErrConditionFailed)

	item, err := store.Get(ctx, "processed_orders", "o1")
	require.NoError(t, err)
	assert.Equal(t, "u1", item.String("userId"))
}

func TestPutIfAbsent_ConcurrentSingleWinner(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	const n = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.PutIfAbsent(ctx, "processed_orders", "race", kv.Item{"orderId": "race"})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, kv.ErrConditionFailed)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestUpdate(t *testing.T) {
	tests := []struct {
		name      string
		initial   kv.Item
		upd       kv.Update
		wantErr   error
		wantCheck func(t *testing.T, item kv.Item)
	}{
		{
			name:    "set and add on existing item",
			initial: kv.Item{"id": "u1", "freeDownloadUsed": false, "totalDownloads": int64(0)},
			upd: kv.Update{
				Set:        map[string]any{"freeDownloadUsed": true},
				Add:        map[string]int64{"totalDownloads": 1},
				Conditions: []kv.Condition{kv.Exists("id"), kv.Ne("freeDownloadUsed", true)},
			},
			wantCheck: func(t *testing.T, item kv.Item) {
				assert.True(t, item.Bool("freeDownloadUsed"))
				assert.Equal(t, int64(1), item.Int("totalDownloads"))
			},
		},
		{
			name:    "ne fails when flag already set",
			initial: kv.Item{"id": "u1", "freeDownloadUsed": true, "totalDownloads": int64(1)},
			upd: kv.Update{
				Set:        map[string]any{"freeDownloadUsed": true},
				Add:        map[string]int64{"totalDownloads": 1},
				Conditions: []kv.Condition{kv.Ne("freeDownloadUsed", true)},
			},
			wantErr: kv.ErrConditionFailed,
		},
		{
			name:    "ne holds for missing attribute",
			initial: kv.Item{"id": "u1"},
			upd: kv.Update{
				Set:        map[string]any{"freeResumeUsed": true},
				Conditions: []kv.Condition{kv.Ne("freeResumeUsed", true)},
			},
			wantCheck: func(t *testing.T, item kv.Item) {
				assert.True(t, item.Bool("freeResumeUsed"))
			},
		},
		{
			name:    "exists fails on missing item",
			initial: nil,
			upd: kv.Update{
				Add:        map[string]int64{"totalDownloads": 1},
				Conditions: []kv.Condition{kv.Exists("id")},
			},
			wantErr: kv.ErrConditionFailed,
		},
		{
			name:    "lt and eq guard an increment",
			initial: kv.Item{"count": int64(2), "windowStart": int64(100)},
			upd: kv.Update{
				Add:        map[string]int64{"count": 1},
				Conditions: []kv.Condition{kv.Eq("windowStart", int64(100)), kv.Lt("count", 3)},
			},
			wantCheck: func(t *testing.T, item kv.Item) {
				assert.Equal(t, int64(3), item.Int("count"))
			},
		},
		{
			name:    "lt fails at the limit",
			initial: kv.Item{"count": int64(3), "windowStart": int64(100)},
			upd: kv.Update{
				Add:        map[string]int64{"count": 1},
				Conditions: []kv.Condition{kv.Lt("count", 3)},
			},
			wantErr: kv.ErrConditionFailed,
		},
		{
			name:    "gt guards a decrement",
			initial: kv.Item{"count": int64(0)},
			upd: kv.Update{
				Add:        map[string]int64{"count": -1},
				Conditions: []kv.Condition{kv.Gt("count", 0)},
			},
			wantErr: kv.ErrConditionFailed,
		},
		{
			name:    "remove drops attribute",
			initial: kv.Item{"id": "u1", "subscriptionExpiration": int64(10)},
			upd: kv.Update{
				Remove: []string{"subscriptionExpiration"},
			},
			wantCheck: func(t *testing.T, item kv.Item) {
				assert.False(t, item.Has("subscriptionExpiration"))
				assert.Equal(t, "u1", item.String("id"))
			},
		},
		{
			name:    "not exists creates item",
			initial: nil,
			upd: kv.Update{
				Set:        map[string]any{"count": int64(1)},
				Conditions: []kv.Condition{kv.NotExists("count")},
			},
			wantCheck: func(t *testing.T, item kv.Item) {
				assert.Equal(t, int64(1), item.Int("count"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := setupTestStore(t)
			ctx := context.Background()
			if tt.initial != nil {
				require.NoError(t, store.Put(ctx, "t", "k", tt.initial))
			}

			item, err := store.Update(ctx, "t", "k", tt.upd)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.wantCheck(t, item)

			stored, err := store.Get(ctx, "t", "k")
			require.NoError(t, err)
			assert.Equal(t, item, stored)
		})
	}
}

func TestUpdate_ConcurrentIncrementRespectsLimit(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "t", "k", kv.Item{"count": int64(0)}))

	const limit = 5
	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "t", "k", kv.Update{
				Add:        map[string]int64{"count": 1},
				Conditions: []kv.Condition{kv.Lt("count", limit)},
			})
			if err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), ok.Load())
	item, err := store.Get(ctx, "t", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(limit), item.Int("count"))
}

func TestUpdate_UnsupportedValue(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.Update(context.Background(), "t", "k", kv.Update{
		Set: map[string]any{"bad": 1.5},
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, kv.ErrConditionFailed)
}

func TestGet_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	mock.ExpectHGetAll("users:u1").SetErr(errors.New("connection refused"))

	_, err := store.Get(context.Background(), "users", "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, kv.ErrNotFound)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_EmptyHashIsNotFound(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	mock.ExpectHGetAll("users:u1").SetVal(map[string]string{})

	_, err := store.Get(context.Background(), "users", "u1")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
