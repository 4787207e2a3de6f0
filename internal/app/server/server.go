package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"perfreview/internal/domain/activity"
	"perfreview/internal/domain/auth"
	"perfreview/internal/domain/evaluation"
	"perfreview/internal/domain/notifications"
	"perfreview/internal/platform/config"
	"perfreview/internal/platform/db"
	"perfreview/internal/platform/db/migrations"
	"perfreview/internal/platform/email"
	"perfreview/internal/platform/metrics"
	"perfreview/internal/platform/tracing"
	"perfreview/internal/transport/http/api"
	evaluationhandler "perfreview/internal/transport/http/handlers/evaluation"
	notificationshandler "perfreview/internal/transport/http/handlers/notifications"
	"perfreview/internal/transport/http/middleware"
)

const serviceName = "perfreview"

type App struct {
	Config  config.Config
	Router  http.Handler
	Engine  *evaluation.Engine
	Metrics *metrics.Collector
	// Memory is set only for the memory backend.
	Memory *evaluation.MemoryStore

	pool            *pgxpool.Pool
	shutdownTracing func(context.Context) error
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	shutdownTracing, err := tracing.Init(ctx, cfg, serviceName)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	app := &App{
		Config:          cfg,
		Metrics:         metrics.New(),
		shutdownTracing: shutdownTracing,
	}
	mailer := email.New(cfg)

	var deps evaluation.Deps
	var lister evaluationhandler.ActivityLister
	var notifier *notifications.Service

	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		store := evaluation.NewMemoryStore()
		if cfg.FixtureFile != "" {
			if err := evaluation.LoadFixtureFile(store, cfg.FixtureFile); err != nil {
				app.Close()
				return nil, fmt.Errorf("load fixture: %w", err)
			}
		}
		app.Memory = store
		deps = store.Deps()
		notifier = notifications.New(notifications.NewMemoryStore(), mailer)
	default:
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("db connect: %w", err)
		}
		app.pool = pool
		if cfg.RunMigrations {
			if err := db.Migrate(ctx, pool, migrations.Files); err != nil {
				app.Close()
				return nil, fmt.Errorf("migrations: %w", err)
			}
		}
		deps = evaluation.NewStore(pool).Deps()
		activities := activity.New(pool)
		deps.ActivityReader = activities
		deps.Activity = activities
		lister = activities
		notifier = notifications.New(notifications.NewStore(pool), mailer)
	}
	notifier.DefaultFrom = cfg.EmailFrom
	deps.Notifier = notifier

	app.Engine = evaluation.NewEngine(deps, evaluation.Options{
		DefaultMaxRate:   policy.DefaultMaxRate,
		GradePriorities:  policy.GradePriorities,
		ResubmitComment:  policy.ResubmitComment,
		BatchConcurrency: cfg.BatchConcurrency,
		Logger:           slog.Default(),
		Counters:         app.Metrics,
	})
	app.Router = app.routes(notifier, lister)
	return app, nil
}

func (a *App) routes(notifier *notifications.Service, lister evaluationhandler.ActivityLister) http.Handler {
	cfg := a.Config

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Auth(cfg.JWTSecret))
	router.Use(middleware.Logger(slog.Default()))
	if cfg.MetricsEnabled {
		router.Use(middleware.Metrics(a.Metrics))
	}
	router.Use(chimw.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	if cfg.RateLimitPerMin > 0 {
		router.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
		router.Use(middleware.SensitiveMutationRateLimit(cfg.RateLimitPerMin, time.Minute))
	}
	if cfg.RequestTimeout > 0 {
		router.Use(chimw.Timeout(cfg.RequestTimeout))
	}

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := a.pool.Ping(ctx); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, a.Metrics.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		evaluationHandler := evaluationhandler.NewHandler(a.Engine, auth.NewService(nil), lister)
		evaluationHandler.RegisterRoutes(r)

		notificationsHandler := notificationshandler.NewHandler(notifier)
		notificationsHandler.RegisterRoutes(r)
	})

	return router
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("performance review server listening", "addr", a.Config.Addr, "backend", a.Config.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown failed", "err", err)
		}
	}
}
