package entitlementapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/magabrotheeeer/resume-entitlement/internal/config"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/handlers/health"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/gemini"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/jwt"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/tracing"
	"github.com/magabrotheeeer/resume-entitlement/internal/migrations"
	"github.com/magabrotheeeer/resume-entitlement/internal/paymentprovider"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/ai"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/billing"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/entitlement"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/quota"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/ratelimit"
	senderservice "github.com/magabrotheeeer/resume-entitlement/internal/services/sender"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv/dynamostore"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv/redisstore"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/resumes"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/users"
)

// App - HTTP-сервис прав и оплаты.
type App struct {
	server   *http.Server
	logger   *slog.Logger
	db       *sql.DB
	closers  []func() error
	shutdown tracing.Shutdown
}

// New подключает хранилища и внешние сервисы и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.entitlementapi.New"
	a := &App{logger: logger}

	shutdown, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.shutdown = shutdown

	checks := make(map[string]health.Pinger)
	store, err := a.openKV(ctx, cfg, checks)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db, err := resumes.Connect(ctx, cfg.StorageConnectionString)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.db = db
	checks["postgres"] = health.PingFunc(db.PingContext)
	if err = migrations.Run(db, cfg.MigrationsPath); err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	gen, err := gemini.New(ctx, cfg.Gemini)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	notifier := a.openNotifier(cfg)

	clk := clock.Real{}
	tables := cfg.KV.Tables
	userRepo := users.New(store, tables.Users)
	resumeRepo := resumes.New(db)
	entService := entitlement.NewService(userRepo, clk, logger)
	limiter := ratelimit.New(store, tables.RateLimits, clk, logger)

	rules := make(map[string]ratelimit.Rule, len(cfg.RateLimits))
	for name, rule := range cfg.RateLimits {
		rules[name] = ratelimit.RuleFromConfig(rule)
	}

	coordinator := billing.NewCoordinator(
		paymentprovider.NewClient(cfg.PaymentGateway, clk, logger),
		entService,
		limiter,
		store,
		tables.ProcessedOrders,
		cfg.Billing.MarkerRetention,
		notifier,
		cfg.Billing.Plans,
		rules[EndpointBillingOrder],
		clk,
		logger,
	)
	tracker := quota.NewTracker(store, tables.Users, userRepo, entService, resumeRepo, cfg.FreeQuota, clk, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Deps{
		Tokens:       jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		Entitlements: entService,
		Limiter:      limiter,
		RateLimits:   rules,
		Billing:      coordinator,
		Quota:        tracker,
		AI:           ai.New(gen, logger),
		Resumes:      resumeRepo,
		Health:       checks,
	})

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

func (a *App) openKV(ctx context.Context, cfg *config.Config, checks map[string]health.Pinger) (kv.Store, error) {
	switch cfg.KV.Driver {
	case "dynamodb":
		store, err := dynamostore.Connect(ctx, cfg.KV.DynamoDB, cfg.KV.DynamoDB.Physical)
		if err != nil {
			return nil, err
		}
		tables := cfg.KV.Tables
		checks["dynamodb"] = health.PingFunc(func(ctx context.Context) error {
			return store.Ping(ctx, tables.Users, tables.RateLimits, tables.ProcessedOrders)
		})
		return store, nil
	case "redis", "":
		store, err := redisstore.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		checks["redis"] = store
		return store, nil
	default:
		return nil, fmt.Errorf("unknown kv driver %q", cfg.KV.Driver)
	}
}

// openNotifier подключает публикацию уведомлений. Без брокера оплата
// работает, но письма об активации не отправляются.
func (a *App) openNotifier(cfg *config.Config) billing.Notifier {
	if cfg.RabbitMQ.URL == "" {
		a.logger.Warn("rabbitmq url is not set, premium notifications disabled")
		return nil
	}
	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		a.logger.Error("failed to connect to rabbitmq, premium notifications disabled", sl.Err(err))
		return nil
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		a.logger.Error("failed to set up rabbitmq channel, premium notifications disabled", sl.Err(err))
		conn.Close()
		return nil
	}
	a.closers = append(a.closers, ch.Close, conn.Close)
	return senderservice.NewPremiumNotifier(rabbitmq.NewPublisher(ch, rabbitmq.Exchange, rabbitmq.RoutingKeyPremium))
}

// Run запускает HTTP-сервер и останавливает его при отмене контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if a.shutdown != nil {
			if terr := a.shutdown(timeoutCtx); terr != nil {
				a.logger.Error("failed to flush traces", sl.Err(terr))
			}
		}
		a.close()
		return err
	}
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to close resource", sl.Err(err))
		}
	}
	a.closers = nil
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}
