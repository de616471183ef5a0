// Package entitlement определяет, имеет ли пользователь право на премиум-функции.
//
// Статус вычисляется из хранимых флага и даты окончания подписки. Истекшая
// подписка понижается лениво, при обращении пользователя: фонового обхода нет.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/month"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/resume-entitlement/internal/metrics"
	"github.com/magabrotheeeer/resume-entitlement/internal/models"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/users"
)

// Status - производный статус подписки.
type Status struct {
	IsPremium     bool       `json:"isPremium"`
	IsExpired     bool       `json:"isExpired"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	DaysRemaining *int       `json:"daysRemaining,omitempty"`
}

// CheckStatus вычисляет статус пользователя на момент now. Без побочных эффектов.
func CheckStatus(u *models.User, now time.Time) Status {
	if !u.IsPremium {
		return Status{}
	}
	if u.SubscriptionExpiration == nil {
		return Status{IsPremium: true}
	}

	expiresAt := *u.SubscriptionExpiration
	if !expiresAt.After(now) {
		return Status{IsPremium: false, IsExpired: true, ExpiresAt: &expiresAt}
	}
	days := int(math.Ceil(expiresAt.Sub(now).Hours() / 24))
	return Status{IsPremium: true, ExpiresAt: &expiresAt, DaysRemaining: &days}
}

// DenialCode возвращает код отказа для пользователя без действующей подписки:
// истекшая подписка отличается от никогда не оформленной.
func DenialCode(u *models.User, st Status) string {
	if st.IsExpired || u.SubscriptionExpiration != nil || u.PlanType != "" {
		return apperr.CodeSubscriptionExpired
	}
	return apperr.CodePremiumRequired
}

// UserRepository - операции с пользователями, нужные сервису.
type UserRepository interface {
	Get(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, id string, upd kv.Update) (*models.User, error)
}

// Payment - данные платежа, по которому выдается подписка.
type Payment struct {
	Provider      string
	PayerID       string
	TransactionID string
}

// Service - валидатор подписок.
type Service struct {
	users UserRepository
	clock clock.Clock
	log   *slog.Logger
}

// NewService создает новый экземпляр Service.
func NewService(users UserRepository, clk clock.Clock, log *slog.Logger) *Service {
	return &Service{
		users: users,
		clock: clk,
		log:   log,
	}
}

// CheckStatus вычисляет статус на текущий момент.
func (s *Service) CheckStatus(u *models.User) Status {
	return CheckStatus(u, s.clock.Now())
}

// Load загружает пользователя и понижает истекшую подписку.
func (s *Service) Load(ctx context.Context, userID string) (*models.User, Status, error) {
	const op = "services.entitlement.Load"
	u, err := s.users.Get(ctx, userID)
	if errors.Is(err, users.ErrUserNotFound) {
		return nil, Status{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, Status{}, fmt.Errorf("%s: %w", op, apperr.Transient("failed to load user", err))
	}
	u, err = s.ValidateAndDowngrade(ctx, u)
	if err != nil {
		return nil, Status{}, err
	}
	return u, s.CheckStatus(u), nil
}

// ValidateAndDowngrade сохраняет isPremium=false для истекшей подписки и
// возвращает актуальное состояние пользователя.
//
// Запись условна: она проходит, только если дата окончания не изменилась с
// момента чтения. Если подписку успели продлить или понизить, пользователь
// перечитывается, поэтому повторный вызов дает то же итоговое состояние.
func (s *Service) ValidateAndDowngrade(ctx context.Context, u *models.User) (*models.User, error) {
	const op = "services.entitlement.ValidateAndDowngrade"
	st := s.CheckStatus(u)
	if !u.IsPremium || !st.IsExpired {
		return u, nil
	}

	updated, err := s.users.Update(ctx, u.ID, kv.Update{
		Set: map[string]any{
			users.FieldIsPremium: false,
			users.FieldUpdatedAt: s.clock.Now().Unix(),
		},
		Conditions: []kv.Condition{
			kv.Eq(users.FieldIsPremium, true),
			kv.Eq(users.FieldSubscriptionExpiration, u.SubscriptionExpiration.Unix()),
		},
	})
	if errors.Is(err, kv.ErrConditionFailed) {
		fresh, getErr := s.users.Get(ctx, u.ID)
		if getErr != nil {
			return nil, fmt.Errorf("%s: %w", op, apperr.Transient("failed to reload user", getErr))
		}
		return fresh, nil
	}
	if err != nil {
		s.log.Error("failed to downgrade expired user", slog.String("op", op), slog.String("user_id", u.ID), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, apperr.Transient("failed to downgrade user", err))
	}

	metrics.EntitlementDowngrades.Inc()
	s.log.Info("premium subscription expired, user downgraded",
		slog.String("op", op),
		slog.String("user_id", u.ID),
		slog.Time("expired_at", *u.SubscriptionExpiration))
	return updated, nil
}

// Upgrade выдает премиум по оплаченному плану. Срок отсчитывается от текущего
// момента. Одна транзакция применяется не более одного раза: если
// lastTransactionId уже равен переданному, возвращается applied=false и
// текущее состояние пользователя.
func (s *Service) Upgrade(ctx context.Context, userID string, plan models.Plan, p Payment) (u *models.User, applied bool, err error) {
	const op = "services.entitlement.Upgrade"
	now := s.clock.Now().UTC()
	expiresAt := month.Add(now, plan.DurationMonths)

	u, err = s.users.Update(ctx, userID, kv.Update{
		Set: map[string]any{
			users.FieldIsPremium:              true,
			users.FieldPlanType:               plan.ID,
			users.FieldSubscriptionStartDate:  now.Unix(),
			users.FieldSubscriptionExpiration: expiresAt.Unix(),
			users.FieldPaymentProvider:        p.Provider,
			users.FieldPayerID:                p.PayerID,
			users.FieldLastTransactionID:      p.TransactionID,
			users.FieldUpdatedAt:              now.Unix(),
		},
		Conditions: []kv.Condition{kv.Ne(users.FieldLastTransactionID, p.TransactionID)},
	})
	if errors.Is(err, kv.ErrConditionFailed) {
		current, getErr := s.users.Get(ctx, userID)
		if errors.Is(getErr, users.ErrUserNotFound) {
			return nil, false, apperr.NotFound("user not found")
		}
		if getErr != nil {
			return nil, false, fmt.Errorf("%s: %w", op, apperr.Transient("failed to reload user", getErr))
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, apperr.Transient("failed to upgrade user", err))
	}

	s.log.Info("user upgraded to premium",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.String("plan", plan.ID),
		slog.String("transaction_id", p.TransactionID),
		slog.Time("expires_at", expiresAt))
	return u, true, nil
}

// RequirePremium возвращает ошибку отказа, если у пользователя нет действующей подписки.
func RequirePremium(u *models.User, st Status) error {
	if st.IsPremium {
		return nil
	}
	code := DenialCode(u, st)
	if code == apperr.CodeSubscriptionExpired {
		return apperr.Denied(code, "Your premium subscription has expired. Renew to continue using premium features.")
	}
	return apperr.Denied(code, "This feature requires a Premium subscription.")
}
