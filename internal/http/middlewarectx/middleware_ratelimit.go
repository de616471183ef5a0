package middlewarectx

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/response"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/ratelimit"
)

// Limiter - лимитер запросов с возвратом.
type Limiter interface {
	Check(ctx context.Context, subject, endpoint string, rule ratelimit.Rule) ratelimit.Result
	Refund(ctx context.Context, subject, endpoint string, rule ratelimit.Rule) error
}

// RateLimitMiddleware ограничивает запросы к эндпоинту по правилу rule.
// Субъект - аутентифицированный пользователь, иначе IP клиента.
// Если обработчик ответил 5xx, учтенный запрос возвращается.
func RateLimitMiddleware(log *slog.Logger, limiter Limiter, endpoint string, rule ratelimit.Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := UserIDFrom(r.Context())
			if !ok {
				subject = "ip:" + ClientIP(r)
			}

			res := limiter.Check(r.Context(), subject, endpoint, rule)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			if !res.Allowed {
				response.FromError(w, r, apperr.RateLimited(res.ResetAt))
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if ww.Status() >= http.StatusInternalServerError && !res.Degraded {
				if err := limiter.Refund(context.WithoutCancel(r.Context()), subject, endpoint, rule); err != nil {
					log.Warn("rate limit refund failed",
						slog.String("endpoint", endpoint),
						slog.String("request_id", middleware.GetReqID(r.Context())),
						sl.Err(err))
				}
			}
		})
	}
}

// ClientIP возвращает адрес клиента: первый адрес X-Forwarded-For,
// иначе X-Real-IP, иначе адрес соединения.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
