package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/response"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/resume-entitlement/internal/models"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/entitlement"
)

type entitlementKey struct{}

type entitlementValue struct {
	user   *models.User
	status entitlement.Status
}

// EntitlementLoader загружает пользователя с актуальным статусом подписки.
type EntitlementLoader interface {
	Load(ctx context.Context, userID string) (*models.User, entitlement.Status, error)
}

// EntitlementMiddleware загружает пользователя и его статус в контекст.
// Истекшая подписка понижается при загрузке.
func EntitlementMiddleware(log *slog.Logger, loader EntitlementLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.EntitlementMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			userID, ok := UserIDFrom(r.Context())
			if !ok {
				log.Error("user identification missing")
				response.FromError(w, r, apperr.Unauthenticated("user identification missing"))
				return
			}

			u, st, err := loader.Load(r.Context(), userID)
			if err != nil {
				if !apperr.IsKind(err, apperr.KindNotFound) {
					log.Error("failed to load entitlement", slog.String("user_id", userID), sl.Err(err))
				}
				response.FromError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), entitlementKey{}, entitlementValue{user: u, status: st})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// EntitlementFrom возвращает пользователя и статус, загруженные EntitlementMiddleware.
func EntitlementFrom(ctx context.Context) (*models.User, entitlement.Status, bool) {
	v, ok := ctx.Value(entitlementKey{}).(entitlementValue)
	if !ok || v.user == nil {
		return nil, entitlement.Status{}, false
	}
	return v.user, v.status, true
}

// WithEntitlement кладет пользователя и статус в контекст.
func WithEntitlement(ctx context.Context, u *models.User, st entitlement.Status) context.Context {
	return context.WithValue(ctx, entitlementKey{}, entitlementValue{user: u, status: st})
}

// RequirePremium пропускает только пользователей с активной подпиской.
// Ставится после EntitlementMiddleware.
func RequirePremium(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, st, ok := EntitlementFrom(r.Context())
			if !ok {
				log.Error("entitlement missing in context", slog.String("op", "middlewarectx.RequirePremium"))
				response.FromError(w, r, apperr.Unauthenticated("user identification missing"))
				return
			}
			if err := entitlement.RequirePremium(u, st); err != nil {
				log.Info("premium access denied",
					slog.String("user_id", u.ID),
					slog.String("request_id", middleware.GetReqID(r.Context())))
				response.FromError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
