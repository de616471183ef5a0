package entitlement

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/resume-entitlement/internal/models"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv/kvtest"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/users"
)

var now = time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func ptr(t time.Time) *time.Time { return &t }

func setupService(t *testing.T) (*Service, *users.Repository, *clock.Fake) {
	repo := users.New(kvtest.NewRedisStore(t), "users")
	clk := clock.NewFake(now)
	return NewService(repo, clk, newNoopLogger()), repo, clk
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		name     string
		user     models.User
		wantPrem bool
		wantExp  bool
		wantDays *int
	}{
		{
			name: "free user",
			user: models.User{ID: "u"},
		},
		{
			name:     "legacy premium without expiration",
			user:     models.User{ID: "u", IsPremium: true},
			wantPrem: true,
		},
		{
			name:     "active subscription rounds days up",
			user:     models.User{ID: "u", IsPremium: true, SubscriptionExpiration: ptr(now.Add(36 * time.Hour))},
			wantPrem: true,
			wantDays: intPtr(2),
		},
		{
			name:     "one second left is one day",
			user:     models.User{ID: "u", IsPremium: true, SubscriptionExpiration: ptr(now.Add(time.Second))},
			wantPrem: true,
			wantDays: intPtr(1),
		},
		{
			name:    "expiring exactly now is expired",
			user:    models.User{ID: "u", IsPremium: true, SubscriptionExpiration: ptr(now)},
			wantExp: true,
		},
		{
			name:    "expired in the past",
			user:    models.User{ID: "u", IsPremium: true, SubscriptionExpiration: ptr(now.AddDate(0, 0, -3))},
			wantExp: true,
		},
		{
			name: "downgraded user keeps expiration but is not expired premium",
			user: models.User{ID: "u", IsPremium: false, SubscriptionExpiration: ptr(now.AddDate(0, 0, -3))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := CheckStatus(&tt.user, now)
			assert.Equal(t, tt.wantPrem, st.IsPremium)
			assert.Equal(t, tt.wantExp, st.IsExpired)
			assert.Equal(t, tt.wantDays, st.DaysRemaining)
		})
	}
}

func intPtr(i int) *int { return &i }

func TestValidateAndDowngrade_Idempotent(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()
	exp := now.Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, models.User{ID: "u1", IsPremium: true, SubscriptionExpiration: &exp, PlanType: "monthly"}))

	u, err := repo.Get(ctx, "u1")
	require.NoError(t, err)

	first, err := svc.ValidateAndDowngrade(ctx, u)
	require.NoError(t, err)
	assert.False(t, first.IsPremium)

	// повторный вызов со старым представлением пользователя
	second, err := svc.ValidateAndDowngrade(ctx, u)
	require.NoError(t, err)
	assert.False(t, second.IsPremium)
	assert.Equal(t, first.SubscriptionExpiration, second.SubscriptionExpiration)

	stored, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, stored.IsPremium)
	assert.Equal(t, exp.Unix(), stored.SubscriptionExpiration.Unix())

	st := svc.CheckStatus(stored)
	assert.False(t, st.IsPremium)
	assert.Equal(t, apperr.CodeSubscriptionExpired, DenialCode(stored, st))
}

func TestValidateAndDowngrade_SkipsActiveAndLegacy(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, models.User{ID: "legacy", IsPremium: true}))
	require.NoError(t, repo.Create(ctx, models.User{ID: "active", IsPremium: true, SubscriptionExpiration: ptr(now.Add(time.Hour))}))

	for _, id := range []string{"legacy", "active"} {
		u, err := repo.Get(ctx, id)
		require.NoError(t, err)
		got, err := svc.ValidateAndDowngrade(ctx, u)
		require.NoError(t, err)
		assert.True(t, got.IsPremium, id)
	}
}

func TestValidateAndDowngrade_RenewedConcurrently(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, models.User{ID: "u1", IsPremium: true, SubscriptionExpiration: ptr(now.Add(-time.Hour))}))
	stale, err := repo.Get(ctx, "u1")
	require.NoError(t, err)

	// подписку продлили между чтением и понижением
	renewed := now.AddDate(0, 1, 0)
	_, err = repo.Update(ctx, "u1", kv.Update{Set: map[string]any{users.FieldSubscriptionExpiration: renewed.Unix()}})
	require.NoError(t, err)

	got, err := svc.ValidateAndDowngrade(ctx, stale)
	require.NoError(t, err)
	assert.True(t, got.IsPremium)
	assert.Equal(t, renewed.Unix(), got.SubscriptionExpiration.Unix())
}

func TestUpgrade(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, models.User{ID: "u1", Email: "u1@example.com"}))

	plan := models.Plan{ID: "yearly", Amount: "60.00", Currency: "USD", DurationMonths: 12}
	pay := Payment{Provider: models.PaymentProviderPayPal, PayerID: "payer-1", TransactionID: "tx-1"}

	u, applied, err := svc.Upgrade(ctx, "u1", plan, pay)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, u.IsPremium)
	assert.Equal(t, "yearly", u.PlanType)
	assert.Equal(t, now.AddDate(1, 0, 0).Unix(), u.SubscriptionExpiration.Unix())
	assert.Equal(t, now.Unix(), u.SubscriptionStartDate.Unix())
	assert.Equal(t, "paypal", u.PaymentProvider)
	assert.Equal(t, "payer-1", u.PayerID)
	assert.Equal(t, "tx-1", u.LastTransactionID)
	assert.Equal(t, "u1@example.com", u.Email)

	_, applied, err = svc.Upgrade(ctx, "u1", plan, pay)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestUpgrade_MissingUser(t *testing.T) {
	svc, _, _ := setupService(t)

	_, _, err := svc.Upgrade(context.Background(), "ghost", models.Plan{ID: "monthly", DurationMonths: 1}, Payment{TransactionID: "tx"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestLoad(t *testing.T) {
	svc, repo, clk := setupService(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, models.User{ID: "u1", IsPremium: true, SubscriptionExpiration: ptr(now.Add(time.Hour))}))

	u, st, err := svc.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.IsPremium)
	assert.True(t, st.IsPremium)

	clk.Advance(2 * time.Hour)
	u, st, err = svc.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.IsPremium)
	assert.False(t, st.IsPremium)

	_, _, err = svc.Load(ctx, "ghost")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestRequirePremium(t *testing.T) {
	free := &models.User{ID: "free"}
	err := RequirePremium(free, CheckStatus(free, now))
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodePremiumRequired, e.Code)

	expired := &models.User{ID: "exp", IsPremium: true, SubscriptionExpiration: ptr(now.Add(-time.Minute))}
	err = RequirePremium(expired, CheckStatus(expired, now))
	e, ok = apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeSubscriptionExpired, e.Code)

	legacy := &models.User{ID: "legacy", IsPremium: true}
	assert.NoError(t, RequirePremium(legacy, CheckStatus(legacy, now)))
}
