// Package users хранит записи пользователей в kv.Store.
//
// Все изменения пользователя выражаются частичными обновлениями отдельных
// полей, поэтому компоненты, меняющие разные поля, не затирают друг друга.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/resume-entitlement/internal/models"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
)

// Имена атрибутов записи пользователя.
const (
	FieldID                     = "id"
	FieldEmail                  = "email"
	FieldName                   = "name"
	FieldIsPremium              = "isPremium"
	FieldSubscriptionExpiration = "subscriptionExpiration"
	FieldSubscriptionStartDate  = "subscriptionStartDate"
	FieldFreeResumeUsed         = "freeResumeUsed"
	FieldFreeDownloadUsed       = "freeDownloadUsed"
	FieldTotalDownloads         = "totalDownloads"
	FieldResumesGenerated       = "resumesGenerated"
	FieldPremiumResumeCount     = "premiumResumeCount"
	FieldPremiumResumeMonth     = "premiumResumeMonth"
	FieldPlanType               = "planType"
	FieldPaymentProvider        = "paymentProvider"
	FieldPayerID                = "payerId"
	FieldLastTransactionID      = "lastTransactionId"
	FieldUpdatedAt              = "updatedAt"
)

// ErrUserNotFound - пользователя нет в хранилище.
var ErrUserNotFound = errors.New("user not found")

// Repository - хранилище пользователей.
type Repository struct {
	store kv.Store
	table string
}

// New создает Repository для таблицы table.
func New(store kv.Store, table string) *Repository {
	return &Repository{store: store, table: table}
}

// Get возвращает пользователя по ID.
func (r *Repository) Get(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.users.Get"
	item, err := r.store.Get(ctx, r.table, id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return FromItem(item), nil
}

// Create сохраняет нового пользователя, если ID еще не занят.
func (r *Repository) Create(ctx context.Context, u models.User) error {
	const op = "storage.users.Create"
	if err := r.store.PutIfAbsent(ctx, r.table, u.ID, ToItem(u)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Update применяет частичное обновление к существующему пользователю.
// Условие существования записи добавляется всегда, чтобы обновление не
// создавало пользователя. При невыполненном условии возвращается
// kv.ErrConditionFailed.
func (r *Repository) Update(ctx context.Context, id string, upd kv.Update) (*models.User, error) {
	const op = "storage.users.Update"
	upd.Conditions = append([]kv.Condition{kv.Exists(FieldID)}, upd.Conditions...)
	item, err := r.store.Update(ctx, r.table, id, upd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return FromItem(item), nil
}

// FromItem собирает модель пользователя из атрибутов.
func FromItem(item kv.Item) *models.User {
	u := &models.User{
		ID:                 item.String(FieldID),
		Email:              item.String(FieldEmail),
		Name:               item.String(FieldName),
		IsPremium:          item.Bool(FieldIsPremium),
		FreeResumeUsed:     item.Bool(FieldFreeResumeUsed),
		FreeDownloadUsed:   item.Bool(FieldFreeDownloadUsed),
		TotalDownloads:     item.Int(FieldTotalDownloads),
		ResumesGenerated:   item.Int(FieldResumesGenerated),
		PremiumResumeCount: item.Int(FieldPremiumResumeCount),
		PremiumResumeMonth: item.String(FieldPremiumResumeMonth),
		PlanType:           item.String(FieldPlanType),
		PaymentProvider:    item.String(FieldPaymentProvider),
		PayerID:            item.String(FieldPayerID),
		LastTransactionID:  item.String(FieldLastTransactionID),
	}
	if item.Has(FieldSubscriptionExpiration) {
		t := time.Unix(item.Int(FieldSubscriptionExpiration), 0).UTC()
		u.SubscriptionExpiration = &t
	}
	if item.Has(FieldSubscriptionStartDate) {
		t := time.Unix(item.Int(FieldSubscriptionStartDate), 0).UTC()
		u.SubscriptionStartDate = &t
	}
	if item.Has(FieldUpdatedAt) {
		u.UpdatedAt = time.Unix(item.Int(FieldUpdatedAt), 0).UTC()
	}
	return u
}

// ToItem раскладывает модель пользователя в атрибуты.
func ToItem(u models.User) kv.Item {
	item := kv.Item{
		FieldID:                 u.ID,
		FieldIsPremium:          u.IsPremium,
		FieldFreeResumeUsed:     u.FreeResumeUsed,
		FieldFreeDownloadUsed:   u.FreeDownloadUsed,
		FieldTotalDownloads:     u.TotalDownloads,
		FieldResumesGenerated:   u.ResumesGenerated,
		FieldPremiumResumeCount: u.PremiumResumeCount,
	}
	optional := map[string]string{
		FieldEmail:              u.Email,
		FieldName:               u.Name,
		FieldPremiumResumeMonth: u.PremiumResumeMonth,
		FieldPlanType:           u.PlanType,
		FieldPaymentProvider:    u.PaymentProvider,
		FieldPayerID:            u.PayerID,
		FieldLastTransactionID:  u.LastTransactionID,
	}
	for f, v := range optional {
		if v != "" {
			item[f] = v
		}
	}
	if u.SubscriptionExpiration != nil {
		item[FieldSubscriptionExpiration] = u.SubscriptionExpiration.Unix()
	}
	if u.SubscriptionStartDate != nil {
		item[FieldSubscriptionStartDate] = u.SubscriptionStartDate.Unix()
	}
	if !u.UpdatedAt.IsZero() {
		item[FieldUpdatedAt] = u.UpdatedAt.Unix()
	}
	return item
}
