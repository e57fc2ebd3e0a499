// Copyright 2026 The Warehouse Authors
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
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pypi/warehouse/internal/accounts"
	"github.com/pypi/warehouse/internal/audit"
	"github.com/pypi/warehouse/internal/auth"
	"github.com/pypi/warehouse/internal/caveats"
	"github.com/pypi/warehouse/internal/config"
	"github.com/pypi/warehouse/internal/macaroons"
	"github.com/pypi/warehouse/internal/observability/logger"
	"github.com/pypi/warehouse/internal/observability/metrics"
	"github.com/pypi/warehouse/internal/observability/tracing"
	"github.com/pypi/warehouse/internal/oidc"
	"github.com/pypi/warehouse/internal/packaging"
	"github.com/pypi/warehouse/internal/session"
	"github.com/pypi/warehouse/internal/store/postgres"
	transportHTTP "github.com/pypi/warehouse/internal/transport/http"
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
	slog.Info("starting warehouse token service")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Initialize context
	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	_, err = metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.String(),
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)
	macaroonRepo := postgres.NewMacaroonRepository(db)
	projectRepo := postgres.NewProjectRepository(db)
	roleRepo := postgres.NewRoleRepository(db)
	publisherRepo := postgres.NewPublisherRepository(db)

	// Initialize helpers
	auditLogger := audit.NewSlogLogger()
	passwordHasher := accounts.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	// Initialize services
	accountsService := accounts.NewService(
		userRepo,
		passwordHasher,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
	)
	sessionService := session.NewService(
		sessionRepo, auditLogger, cfg.Session.Lifetime, cfg.Session.IdleTimeout,
	)
	macaroonService := macaroons.NewService(macaroonRepo, caveats.NewRegistry(), auditLogger)
	packagingService := packaging.NewService(projectRepo, roleRepo)

	keyfunc, err := issuerKeyfunc(cfg.OIDC.IssuerKeyFile)
	if err != nil {
		slog.Error("failed to load OIDC issuer key", logger.Error(err))
		os.Exit(1)
	}
	oidcService := oidc.NewService(
		publisherRepo,
		macaroonService,
		keyfunc,
		cfg.OIDC.Audience,
		cfg.Macaroon.Location,
		cfg.OIDC.TokenLifetime,
		auditLogger,
	)

	// Policy order is precedence: browser sessions resolve first, then
	// basic auth, then API tokens.
	policy := auth.NewMultiSecurityPolicy(
		auth.NewSessionSecurityPolicy(sessionService, accountsService, packagingService, cfg.Session.CookieName),
		auth.NewBasicAuthSecurityPolicy(accountsService),
		auth.NewMacaroonSecurityPolicy(macaroonService, accountsService, oidcService),
	)

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Configure SameSite mode
	sameSite := http.SameSiteLaxMode
	switch cfg.Session.CookieSameSite {
	case "Strict":
		sameSite = http.SameSiteStrictMode
	case "None":
		sameSite = http.SameSiteNoneMode
	}

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		accountsService,
		sessionService,
		macaroonService,
		packagingService,
		oidcService,
		policy,
		auditLogger,
		transportHTTP.SessionConfig{
			CookieName:     cfg.Session.CookieName,
			CookieDomain:   cfg.Session.CookieDomain,
			CookiePath:     cfg.Session.CookiePath,
			CookieSecure:   cfg.Session.CookieSecure,
			CookieHTTPOnly: cfg.Session.CookieHTTPOnly,
			CookieSameSite: sameSite,
		},
		cfg.Macaroon.Location,
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start session cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := sessionService.Cleanup(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to cleanup expired sessions", logger.Error(err))
			}
		}
	}()

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

// issuerKeyfunc loads the trusted publisher issuer's RSA public key. Without
// a configured key every exchange is refused, which keeps the endpoint safe
// to expose before an issuer is onboarded.
func issuerKeyfunc(keyFile string) (jwt.Keyfunc, error) {
	if keyFile == "" {
		return func(*jwt.Token) (any, error) {
			return nil, fmt.Errorf("no trusted publisher issuer configured")
		}, nil
	}

	pem, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading issuer key file: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parsing issuer key: %w", err)
	}
	return func(*jwt.Token) (any, error) { return key, nil }, nil
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.String(),
	})
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
