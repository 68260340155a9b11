// Copyright 2026 The TrialIQ Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/trialiq/console/internal/audit"
	"github.com/trialiq/console/internal/backend"
	"github.com/trialiq/console/internal/config"
	"github.com/trialiq/console/internal/directory"
	"github.com/trialiq/console/internal/observability/logger"
	"github.com/trialiq/console/internal/observability/metrics"
	"github.com/trialiq/console/internal/observability/tracing"
	"github.com/trialiq/console/internal/session"
	"github.com/trialiq/console/internal/store/postgres"
	storeredis "github.com/trialiq/console/internal/store/redis"
	transportHTTP "github.com/trialiq/console/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting trialiq console")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Endpoint:       cfg.Observability.OTELEndpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		os.Exit(1)
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}
	instruments, err := metrics.NewBackendInstruments(meter)
	if err != nil {
		slog.Error("failed to create backend instruments", logger.Error(err))
	}

	var httpMetrics *metrics.HTTPMetrics
	if cfg.Observability.MetricsEnabled {
		httpMetrics, err = metrics.NewHTTPMetrics(metrics.HTTPOptions{})
		if err != nil {
			slog.Error("failed to register http metrics", logger.Error(err))
			os.Exit(1)
		}
	}

	// Session store
	var (
		sessionRepo session.Repository = session.NewMemoryRepository()
		db          *postgres.DB
	)
	if cfg.Database.Enabled() {
		db, err = postgres.New(ctx, databaseConfig(cfg))
		if err != nil {
			slog.Error("failed to connect to database", logger.Error(err))
			os.Exit(1)
		}
		defer db.Close()
		sessionRepo = postgres.NewSessionRepository(db)
		slog.Info("connected to database")
	} else {
		slog.Warn("DB_HOST not set; sessions are kept in process memory")
	}

	// Directory cache
	var (
		cache       directory.Cache = directory.NewMemoryCache()
		redisClient *red.Client
	)
	if cfg.Redis.Enabled() {
		redisClient, err = storeredis.Open(ctx, storeredis.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLSEnabled,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			slog.Error("failed to connect to redis", logger.Error(err))
			os.Exit(1)
		}
		defer redisClient.Close()
		cache = storeredis.NewDirectoryCache(redisClient, cfg.Redis.Prefix)
		slog.Info("connected to redis")
	}

	sealer, err := session.NewSealerFromHex(cfg.Session.EncryptionKey)
	if err != nil {
		slog.Error("invalid session encryption key", logger.Error(err))
		os.Exit(1)
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.URL,
		Timeout:        cfg.Backend.Timeout,
		RefreshTimeout: cfg.Backend.RefreshTimeout,
		Instruments:    instruments,
		Tracer:         tracer,
	})
	if err != nil {
		slog.Error("failed to create backend client", logger.Error(err))
		os.Exit(1)
	}

	// Initialize services
	auditLogger := audit.NewSlogLogger()
	sessionService := session.NewService(sessionRepo, sealer, session.Config{
		Lifetime:    cfg.Session.Lifetime,
		IdleTimeout: cfg.Session.IdleTimeout,
	})
	directoryService := directory.NewService(cache, cfg.Session.DirectoryTTL)

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	// Configure SameSite mode
	sameSite := http.SameSiteLaxMode
	switch cfg.Session.CookieSameSite {
	case "Strict":
		sameSite = http.SameSiteStrictMode
	case "None":
		sameSite = http.SameSiteNoneMode
	}

	handler := transportHTTP.NewHandler(
		client,
		sessionService,
		directoryService,
		auditLogger,
		httpMetrics,
		transportHTTP.SessionConfig{
			CookieName:     cfg.Session.CookieName,
			CookieDomain:   cfg.Session.CookieDomain,
			CookiePath:     cfg.Session.CookiePath,
			CookieSecure:   cfg.Session.CookieSecure,
			CookieHTTPOnly: cfg.Session.CookieHTTPOnly,
			CookieSameSite: sameSite,
			Lifetime:       cfg.Session.Lifetime,
		},
	).WithReadiness(func(r *http.Request) error {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				return fmt.Errorf("database: %w", err)
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	})

	router := transportHTTP.NewRouter(handler, rateLimiter, cfg.Server.RequestTimeout)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start session cleanup goroutine
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				n, err := sessionService.CleanupExpired(cleanupCtx)
				if err != nil {
					slog.ErrorContext(cleanupCtx, "failed to cleanup expired sessions", logger.Error(err))
					continue
				}
				slog.InfoContext(cleanupCtx, "expired sessions removed", slog.Int64("count", n))
			}
		}
	}()

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr), slog.String("backend", cfg.Backend.URL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func databaseConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}
}

func runMigrate(cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		return errors.New("DB_HOST is not set")
	}
	ctx := context.Background()
	db, err := postgres.New(ctx, databaseConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying session schema...")
	if err := db.Migrate(ctx, postgres.SessionSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
