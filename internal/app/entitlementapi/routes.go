// Package entitlementapi собирает HTTP-сервис прав и оплаты.
package entitlementapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/resume-entitlement/internal/http/handlers/ai/enhance"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/handlers/billing/ordercapture"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/handlers/billing/ordercreate"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/handlers/health"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/handlers/resource/download"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/handlers/resume/generate"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/handlers/user/status"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/ratelimit"
)

// Имена эндпоинтов в настройках лимитов.
const (
	EndpointBillingOrder   = "billing-order"
	EndpointBillingCapture = "billing-capture"
	EndpointDownload       = "download"
	EndpointGenerateResume = "generate-resume"
	EndpointAIEnhance      = "ai-enhance"
)

// Billing - создание и списание заказов.
type Billing interface {
	ordercreate.Service
	ordercapture.Service
}

// Quota - учет скачиваний и генераций.
type Quota interface {
	download.Tracker
	generate.Quota
}

// AI - генерация и улучшение текста.
type AI interface {
	generate.Generator
	enhance.Enhancer
}

// Deps - зависимости маршрутов.
type Deps struct {
	Tokens       middlewarectx.TokenParser
	Entitlements middlewarectx.EntitlementLoader
	Limiter      middlewarectx.Limiter
	RateLimits   map[string]ratelimit.Rule
	Billing      Billing
	Quota        Quota
	AI           AI
	Resumes      generate.Store
	Health       map[string]health.Pinger
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	limit := func(endpoint string) func(next http.Handler) http.Handler {
		return middlewarectx.RateLimitMiddleware(logger, d.Limiter, endpoint, d.RateLimits[endpoint])
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Tokens, logger))

			// Лимит на создание заказа проверяет сам координатор оплаты.
			r.Post("/billing/order", ordercreate.New(logger, d.Billing).ServeHTTP)
			r.With(limit(EndpointBillingCapture)).
				Post("/billing/capture", ordercapture.New(logger, d.Billing).ServeHTTP)
			r.With(limit(EndpointDownload)).
				Post("/resource/{id}/download", download.New(logger, d.Quota).ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.EntitlementMiddleware(logger, d.Entitlements))
				r.Get("/users/me/entitlement", status.New(logger).ServeHTTP)
				r.With(limit(EndpointGenerateResume)).
					Post("/resumes/generate", generate.New(logger, d.Quota, d.AI, d.Resumes).ServeHTTP)
				r.With(middlewarectx.RequirePremium(logger), limit(EndpointAIEnhance)).
					Post("/ai/enhance", enhance.New(logger, d.AI).ServeHTTP)
			})
		})
	})

	r.Get("/health", health.New(logger, d.Health).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
