package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	entitieshandler "github.com/moddy-bot/moddy/domains/entities/be/handler"
	entitiesrepo "github.com/moddy-bot/moddy/domains/entities/be/repo"
	entitiesservice "github.com/moddy-bot/moddy/domains/entities/be/service"
	errorloghandler "github.com/moddy-bot/moddy/domains/errorlog/be/handler"
	errorlogservice "github.com/moddy-bot/moddy/domains/errorlog/be/service"
	platformauth "github.com/moddy-bot/moddy/platform/go/auth"
	platformlogging "github.com/moddy-bot/moddy/platform/go/logging"
	platformmiddleware "github.com/moddy-bot/moddy/platform/go/middleware"
	"github.com/moddy-bot/moddy/platform/go/persistence"
	"github.com/moddy-bot/moddy/platform/go/setups"
)

type config struct {
	setups.Database
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	InternalSecret  string        `env:"INTERNAL_API_SECRET,required"`
	ApplySchema     bool          `env:"APPLY_SCHEMA" envDefault:"true"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := setups.Load(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, cfg.PoolConfig("moddy-api"))
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if cfg.ApplySchema {
		if err := persistence.ApplySchema(ctx, pool); err != nil {
			logger.Fatal("apply schema", zap.Error(err))
		}
	}

	verifier, err := platformauth.NewHMACVerifier([]byte(cfg.InternalSecret))
	if err != nil {
		logger.Fatal("init token verifier", zap.Error(err))
	}

	entitiesService := entitiesservice.New(entitiesrepo.New(pool))
	entitiesHTTPHandler := entitieshandler.New(entitiesService, logger)

	errorLog, err := persistence.NewErrorLog(pool)
	if err != nil {
		logger.Fatal("init error log", zap.Error(err))
	}
	errorLogHTTPHandler := errorloghandler.New(errorlogservice.New(errorLog), logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := platformmiddleware.NewMetrics(registry)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		httpMetrics.Handler,
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", readiness(pool))
	rootRouter.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	apiRouter := chi.NewRouter()
	apiRouter.Use(platformauth.JWT(verifier.Verify, nil))
	apiRouter.Use(platformauth.RequireCredentials)
	apiRouter.Use(platformmiddleware.RequestTrace)

	apiRouter.Group(func(r chi.Router) {
		r.Use(platformauth.RequireRole("staff"))
		errorLogHTTPHandler.Routes(r)
	})
	apiRouter.Group(entitiesHTTPHandler.Routes)

	rootRouter.Mount("/internal/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func readiness(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
