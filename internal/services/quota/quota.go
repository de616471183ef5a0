// Package quota учитывает разовые бесплатные квоты и месячный лимит премиума.
//
// Разовая квота - флаг в записи пользователя, который выставляется вместе со
// счетчиком одной условной записью. Флаг только переходит false→true, поэтому
// два конкурентных запроса не могут оба получить бесплатное действие.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
	"github.com/magabrotheeeer/resume-entitlement/internal/config"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/month"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/resume-entitlement/internal/metrics"
	"github.com/magabrotheeeer/resume-entitlement/internal/models"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/entitlement"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/idempotency"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/users"
)

// Сообщения отказа для клиента.
const (
	MsgDownloadExhausted = "You have used your free download. Upgrade to Premium for unlimited downloads."
	MsgResumeExhausted   = "You have used your free resume. Upgrade to Premium to create unlimited resumes."
	MsgMonthlyLimit      = "You have reached your monthly resume limit. Your limit resets at the start of next month."
)

// UserRepository - операции с пользователями, нужные трекеру.
type UserRepository interface {
	Get(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, id string, upd kv.Update) (*models.User, error)
}

// Entitlement загружает пользователя с актуальным статусом подписки.
type Entitlement interface {
	Load(ctx context.Context, userID string) (*models.User, entitlement.Status, error)
}

// ResourceOwnership проверяет, что ресурс принадлежит пользователю.
type ResourceOwnership interface {
	Owns(ctx context.Context, userID, resourceID string) (bool, error)
}

// DownloadResult - решение по скачиванию.
type DownloadResult struct {
	Allowed          bool   `json:"allowed"`
	QuotaUsed        bool   `json:"quotaUsed"`
	FreeDownloadUsed bool   `json:"freeDownloadUsed"`
	TotalDownloads   int64  `json:"totalDownloads"`
	Message          string `json:"message,omitempty"`
}

// ResumeUsage - состояние квоты резюме после списания.
type ResumeUsage struct {
	FreeResumeUsed     bool  `json:"freeResumeUsed"`
	ResumesGenerated   int64 `json:"resumesGenerated"`
	PremiumResumeCount int64 `json:"premiumResumeCount,omitempty"`
	MonthlyLimit       int   `json:"monthlyLimit,omitempty"`
}

// Tracker - учет квот.
type Tracker struct {
	users        UserRepository
	entitlement  Entitlement
	resources    ResourceOwnership
	downloadFlag *idempotency.Flag[string]
	resumeFlag   *idempotency.Flag[string]
	freeEnabled  bool
	monthlyLimit int
	clock        clock.Clock
	log          *slog.Logger
}

// NewTracker создает Tracker. Флаги квот пишутся напрямую в таблицу
// пользователей usersTable хранилища store.
func NewTracker(
	store kv.Store,
	usersTable string,
	repo UserRepository,
	ent Entitlement,
	resources ResourceOwnership,
	cfg config.FreeQuota,
	clk clock.Clock,
	log *slog.Logger,
) *Tracker {
	byID := func(id string) string { return id }
	return &Tracker{
		users:        repo,
		entitlement:  ent,
		resources:    resources,
		downloadFlag: idempotency.NewFlag(store, usersTable, byID, users.FieldFreeDownloadUsed, users.FieldTotalDownloads, kv.Exists(users.FieldID)),
		resumeFlag:   idempotency.NewFlag(store, usersTable, byID, users.FieldFreeResumeUsed, users.FieldResumesGenerated, kv.Exists(users.FieldID)),
		freeEnabled:  cfg.Enabled(),
		monthlyLimit: cfg.PremiumResumeMonthlyLimit,
		clock:        clk,
		log:          log,
	}
}

// TrackDownload решает, может ли пользователь скачать свой ресурс, и учитывает скачивание.
func (t *Tracker) TrackDownload(ctx context.Context, userID, resourceID string) (DownloadResult, error) {
	const op = "services.quota.TrackDownload"
	log := t.log.With(slog.String("op", op), slog.String("user_id", userID), slog.String("resource_id", resourceID))

	owns, err := t.resources.Owns(ctx, userID, resourceID)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("%s: %w", op, apperr.Transient("failed to check resource ownership", err))
	}
	if !owns {
		return DownloadResult{}, apperr.NotFound("resume not found")
	}

	u, st, err := t.entitlement.Load(ctx, userID)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if st.IsPremium {
		updated, err := t.users.Update(ctx, userID, kv.Update{
			Add: map[string]int64{users.FieldTotalDownloads: 1},
			Set: map[string]any{users.FieldUpdatedAt: t.clock.Now().Unix()},
		})
		if errors.Is(err, kv.ErrConditionFailed) {
			return DownloadResult{}, apperr.NotFound("user not found")
		}
		if err != nil {
			return DownloadResult{}, fmt.Errorf("%s: %w", op, apperr.Transient("failed to record download", err))
		}
		metrics.QuotaDecisions.WithLabelValues("download", "premium").Inc()
		return DownloadResult{
			Allowed:          true,
			FreeDownloadUsed: updated.FreeDownloadUsed,
			TotalDownloads:   updated.TotalDownloads,
		}, nil
	}

	denied := DownloadResult{
		Allowed:          false,
		FreeDownloadUsed: true,
		TotalDownloads:   u.TotalDownloads,
		Message:          MsgDownloadExhausted,
	}
	if !t.freeEnabled || u.FreeDownloadUsed {
		metrics.QuotaDecisions.WithLabelValues("download", "denied").Inc()
		denied.FreeDownloadUsed = u.FreeDownloadUsed
		return denied, nil
	}

	item, claimed, err := t.downloadFlag.Claim(ctx, userID, map[string]any{users.FieldUpdatedAt: t.clock.Now().Unix()})
	if err != nil {
		log.Error("failed to claim free download", sl.Err(err))
		return DownloadResult{}, fmt.Errorf("%s: %w", op, apperr.Transient("failed to record download", err))
	}
	if !claimed {
		log.Info("free download already claimed by a concurrent request")
		metrics.QuotaDecisions.WithLabelValues("download", "denied").Inc()
		return denied, nil
	}

	metrics.QuotaDecisions.WithLabelValues("download", "free").Inc()
	log.Info("free download granted")
	return DownloadResult{
		Allowed:          true,
		QuotaUsed:        true,
		FreeDownloadUsed: true,
		TotalDownloads:   item.Int(users.FieldTotalDownloads),
	}, nil
}

// CheckResumeGeneration проверяет без записи, может ли пользователь
// сгенерировать резюме. Вызывается до обращения к AI-провайдеру.
func (t *Tracker) CheckResumeGeneration(u *models.User, st entitlement.Status) error {
	if st.IsPremium {
		cur := month.Key(t.clock.Now())
		if t.monthlyLimit > 0 && u.PremiumResumeMonth == cur && u.PremiumResumeCount >= int64(t.monthlyLimit) {
			return apperr.Denied(apperr.CodeMonthlyLimitReached, MsgMonthlyLimit)
		}
		return nil
	}
	if !t.freeEnabled || u.FreeResumeUsed {
		return apperr.Denied(apperr.CodeQuotaExhausted, MsgResumeExhausted)
	}
	return nil
}

// ConsumeResumeGeneration списывает генерацию резюме после успешного ответа
// AI-провайдера. Если конкурентный запрос успел израсходовать квоту,
// возвращается отказ, а результат генерации должен быть отброшен.
func (t *Tracker) ConsumeResumeGeneration(ctx context.Context, u *models.User, st entitlement.Status) (ResumeUsage, error) {
	const op = "services.quota.ConsumeResumeGeneration"
	if st.IsPremium {
		return t.consumePremiumResume(ctx, u.ID)
	}
	if !t.freeEnabled {
		return ResumeUsage{}, apperr.Denied(apperr.CodeQuotaExhausted, MsgResumeExhausted)
	}

	item, claimed, err := t.resumeFlag.Claim(ctx, u.ID, map[string]any{users.FieldUpdatedAt: t.clock.Now().Unix()})
	if err != nil {
		return ResumeUsage{}, fmt.Errorf("%s: %w", op, apperr.Transient("failed to record resume generation", err))
	}
	if !claimed {
		metrics.QuotaDecisions.WithLabelValues("resume", "denied").Inc()
		return ResumeUsage{}, apperr.Denied(apperr.CodeQuotaExhausted, MsgResumeExhausted)
	}
	metrics.QuotaDecisions.WithLabelValues("resume", "free").Inc()
	return ResumeUsage{FreeResumeUsed: true, ResumesGenerated: item.Int(users.FieldResumesGenerated)}, nil
}

func (t *Tracker) consumePremiumResume(ctx context.Context, userID string) (ResumeUsage, error) {
	const op = "services.quota.consumePremiumResume"
	now := t.clock.Now()
	cur := month.Key(now)

	for attempt := 0; attempt < 3; attempt++ {
		sameMonth := kv.Update{
			Add:        map[string]int64{users.FieldPremiumResumeCount: 1, users.FieldResumesGenerated: 1},
			Set:        map[string]any{users.FieldUpdatedAt: now.Unix()},
			Conditions: []kv.Condition{kv.Eq(users.FieldPremiumResumeMonth, cur)},
		}
		if t.monthlyLimit > 0 {
			sameMonth.Conditions = append(sameMonth.Conditions, kv.Lt(users.FieldPremiumResumeCount, int64(t.monthlyLimit)))
		}
		u, err := t.users.Update(ctx, userID, sameMonth)
		if err == nil {
			return t.premiumUsage(u), nil
		}
		if !errors.Is(err, kv.ErrConditionFailed) {
			return ResumeUsage{}, fmt.Errorf("%s: %w", op, apperr.Transient("failed to record resume generation", err))
		}

		// счетчик прошлого месяца или его еще нет
		u, err = t.users.Update(ctx, userID, kv.Update{
			Set: map[string]any{
				users.FieldPremiumResumeMonth: cur,
				users.FieldPremiumResumeCount: int64(1),
				users.FieldUpdatedAt:          now.Unix(),
			},
			Add:        map[string]int64{users.FieldResumesGenerated: 1},
			Conditions: []kv.Condition{kv.Ne(users.FieldPremiumResumeMonth, cur)},
		})
		if err == nil {
			return t.premiumUsage(u), nil
		}
		if !errors.Is(err, kv.ErrConditionFailed) {
			return ResumeUsage{}, fmt.Errorf("%s: %w", op, apperr.Transient("failed to record resume generation", err))
		}

		current, err := t.users.Get(ctx, userID)
		if err != nil {
			return ResumeUsage{}, fmt.Errorf("%s: %w", op, apperr.Transient("failed to load user", err))
		}
		if current.PremiumResumeMonth == cur && t.monthlyLimit > 0 && current.PremiumResumeCount >= int64(t.monthlyLimit) {
			metrics.QuotaDecisions.WithLabelValues("resume", "denied").Inc()
			return ResumeUsage{}, apperr.Denied(apperr.CodeMonthlyLimitReached, MsgMonthlyLimit)
		}
	}
	return ResumeUsage{}, fmt.Errorf("%s: %w", op, apperr.Transient("resume counter contention", errors.New("too many concurrent updates")))
}

func (t *Tracker) premiumUsage(u *models.User) ResumeUsage {
	metrics.QuotaDecisions.WithLabelValues("resume", "premium").Inc()
	return ResumeUsage{
		FreeResumeUsed:     u.FreeResumeUsed,
		ResumesGenerated:   u.ResumesGenerated,
		PremiumResumeCount: u.PremiumResumeCount,
		MonthlyLimit:       t.monthlyLimit,
	}
}
