package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/resume-entitlement/internal/models"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv/kvtest"
)

func TestCreateAndGet(t *testing.T) {
	repo := New(kvtest.NewRedisStore(t), "users")
	ctx := context.Background()

	exp := time.Date(2031, 2, 1, 0, 0, 0, 0, time.UTC)
	u := models.User{
		ID:                     "user-1",
		Email:                  "ann@example.com",
		Name:                   "Ann",
		IsPremium:              true,
		SubscriptionExpiration: &exp,
		TotalDownloads:         2,
		PlanType:               "monthly",
	}
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, u, *got)

	err = repo.Create(ctx, u)
	assert.ErrorIs(t, err, kv.ErrConditionFailed)
}

func TestGetMissing(t *testing.T) {
	repo := New(kvtest.NewRedisStore(t), "users")

	_, err := repo.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdate_DoesNotCreateUser(t *testing.T) {
	store := kvtest.NewRedisStore(t)
	repo := New(store, "users")
	ctx := context.Background()

	_, err := repo.Update(ctx, "ghost", kv.Update{Add: map[string]int64{FieldTotalDownloads: 1}})
	assert.ErrorIs(t, err, kv.ErrConditionFailed)

	_, err = store.Get(ctx, "users", "ghost")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestUpdate_PartialFields(t *testing.T) {
	repo := New(kvtest.NewRedisStore(t), "users")
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, models.User{ID: "user-1", Email: "a@b.c"}))

	got, err := repo.Update(ctx, "user-1", kv.Update{
		Set: map[string]any{FieldFreeDownloadUsed: true},
		Add: map[string]int64{FieldTotalDownloads: 1},
	})
	require.NoError(t, err)
	assert.True(t, got.FreeDownloadUsed)
	assert.Equal(t, int64(1), got.TotalDownloads)
	assert.Equal(t, "a@b.c", got.Email)
	assert.Nil(t, got.SubscriptionExpiration)
}
