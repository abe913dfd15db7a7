package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanko-field/orders/internal/di"
	"github.com/hanko-field/orders/internal/handlers"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/platform/secrets"
)

// Set at build time with -ldflags "-X main.version=... -X main.commitSHA=...".
var (
	version   = "dev"
	commitSHA = ""
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orders api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	startedAt := time.Now().UTC()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	baseLogger, err := observability.NewLogger(os.Getenv("API_LOG_LEVEL"))
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	resolver := secrets.NewResolver(ctx, secretProjectID(), nil, secrets.WithLogger(logger.Named("secrets")))
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Error("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      buildRouter(container, startedAt),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("backend", cfg.Backend.Kind),
			zap.String("transport", cfg.Transport.Kind),
			zap.String("version", version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	for _, worker := range container.Workers {
		workerLogger := logger.Named(worker.Name)
		g.Go(func() error {
			workerLogger.Info("worker starting")
			if err := worker.Subscriber.Receive(observability.WithLogger(gctx, workerLogger), worker.Handler); err != nil {
				return fmt.Errorf("%s worker: %w", worker.Name, err)
			}
			workerLogger.Info("worker stopped")
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("orders api stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func buildRouter(c *di.Container, startedAt time.Time) http.Handler {
	cfg := c.Config

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:     version,
			CommitSHA:   firstNonEmpty(commitSHA, os.Getenv("K_REVISION")),
			Environment: cfg.Environment,
			StartedAt:   startedAt,
		}),
	}
	for name, check := range c.Readiness {
		healthOpts = append(healthOpts, handlers.WithReadinessCheck(name, check))
	}

	orders := handlers.NewOrderHandlers(handlers.OrderHandlersDeps{
		Authenticator: c.Authenticator,
		Lifecycle:     c.Services.Lifecycle,
		Settlement:    c.Services.Settlement,
		Queries:       c.Services.Queries,
		RateLimit:     handlers.RateLimit(cfg.Orders.CreateRateLimit, cfg.Orders.CreateRateWindow, nil),
		Idempotency:   c.IdempotencyMiddleware(),
		MaxPageSize:   cfg.Orders.MaxPageSize,
	})
	admin := handlers.NewAdminOrderHandlers(c.Authenticator, c.Services.Lifecycle, c.Services.Queries, cfg.Orders.MaxPageSize)

	var archiver handlers.WebhookArchiver
	if c.Archiver != nil {
		archiver = c.Archiver
	}
	webhooks := handlers.NewPaymentWebhookHandlers(c.Translator, c.Settlements, archiver)
	settlements := handlers.NewSettlementPushHandlers(c.Consumer.Handle)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(c.Logger),
			observability.TraceMiddleware(firstNonEmpty(cfg.Firestore.ProjectID, cfg.Firebase.ProjectID)),
			observability.RequestLoggerMiddleware(c.Metrics),
			observability.RecoveryMiddleware(c.Logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithMetricsHandler(c.Metrics.Handler()),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithAdminRoutes(admin.Routes),
		handlers.WithWebhookRoutes(webhooks.Routes),
		handlers.WithInternalRoutes(settlements.Routes),
	}
	if audience := strings.TrimSpace(cfg.Security.OIDC.Audience); audience != "" {
		validator := auth.NewOIDCValidator(auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL), c.Logger.Named("oidc"))
		opts = append(opts, handlers.WithInternalMiddlewares(validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)))
	} else {
		c.Logger.Warn("oidc audience not configured; internal push endpoints are unauthenticated")
	}

	return handlers.NewRouter(opts...)
}

func secretProjectID() string {
	return firstNonEmpty(
		os.Getenv("API_SECRETS_PROJECT_ID"),
		os.Getenv("API_FIREBASE_PROJECT_ID"),
		os.Getenv("GOOGLE_CLOUD_PROJECT"),
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
