// Package kvtest содержит хелперы для тестов, которым нужно настоящее
// поведение условных записей без внешней инфраструктуры.
package kvtest

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv/redisstore"
)

// NewRedisStore поднимает miniredis и возвращает kv.Store поверх него.
func NewRedisStore(t *testing.T) *redisstore.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = db.Close() })
	return redisstore.New(db)
}

// MockStore - testify-мок kv.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, table, key string) (kv.Item, error) {
	args := m.Called(ctx, table, key)
	item, _ := args.Get(0).(kv.Item)
	return item, args.Error(1)
}

func (m *MockStore) Put(ctx context.Context, table, key string, item kv.Item) error {
	args := m.Called(ctx, table, key, item)
	return args.Error(0)
}

func (m *MockStore) PutIfAbsent(ctx context.Context, table, key string, item kv.Item) error {
	args := m.Called(ctx, table, key, item)
	return args.Error(0)
}

func (m *MockStore) Update(ctx context.Context, table, key string, upd kv.Update) (kv.Item, error) {
	args := m.Called(ctx, table, key, upd)
	item, _ := args.Get(0).(kv.Item)
	return item, args.Error(1)
}
