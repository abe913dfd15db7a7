package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/notifications"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/config"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/platform/jobs"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/platform/storage"
	"github.com/hanko-field/orders/internal/repositories"
	firestoreRepo "github.com/hanko-field/orders/internal/repositories/firestore"
	"github.com/hanko-field/orders/internal/repositories/memory"
	"github.com/hanko-field/orders/internal/repositories/postgres"
	"github.com/hanko-field/orders/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Lifecycle  services.OrderLifecycleService
	Settlement services.PaymentSettlementService
	Queries    services.OrderQueryService
}

// Worker pairs a subscription with the handler that drains it.
type Worker struct {
	Name       string
	Subscriber jobs.Subscriber
	Handler    jobs.Handler
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config        config.Config
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Reporter      *observability.SentryReporter
	Repositories  repositories.Registry
	Users         repositories.UserDirectory
	Idempotency   idempotency.Store
	Authenticator *auth.Authenticator
	Services      Services

	Translator  *payments.WebhookTranslator
	Settlements jobs.Publisher
	Consumer    *payments.SettlementConsumer
	Archiver    *storage.Archiver
	Workers     []Worker
	Readiness   map[string]func(context.Context) error

	closers []func(context.Context) error
}

// Option customises container construction. Tests use it to swap infrastructure.
type Option func(*buildOptions)

type buildOptions struct {
	registry repositories.Registry
	users    repositories.UserDirectory
	store    idempotency.Store
	provider payments.Provider
}

// WithRegistry supplies a ready repository registry instead of the configured backend.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *buildOptions) { o.registry = reg }
}

// WithUserDirectory supplies the customer directory instead of Firebase Authentication.
func WithUserDirectory(users repositories.UserDirectory) Option {
	return func(o *buildOptions) { o.users = users }
}

// WithIdempotencyStore supplies the store backing idempotency keys and settlement dedup.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *buildOptions) { o.store = store }
}

// WithPaymentProvider supplies the checkout session provider instead of Stripe.
func WithPaymentProvider(provider payments.Provider) Option {
	return func(o *buildOptions) { o.provider = provider }
}

// NewContainer constructs the runtime dependencies for cfg.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := buildOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{
		Config:    cfg,
		Logger:    logger,
		Metrics:   observability.NewMetrics(),
		Readiness: make(map[string]func(context.Context) error),
	}
	ok := false
	defer func() {
		if !ok {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	reporter, err := observability.NewSentryReporter(cfg.Observability.SentryDSN, cfg.Environment, logger.Named("sentry"))
	if err != nil {
		return nil, err
	}
	c.Reporter = reporter
	c.onClose(func(context.Context) error {
		reporter.Flush()
		return nil
	})

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	c.onClose(firestoreProvider.Close)

	if err := c.buildStores(ctx, firestoreProvider, options); err != nil {
		return nil, err
	}
	if err := c.buildIdentity(ctx, options); err != nil {
		return nil, err
	}

	tp, err := newTransport(ctx, cfg, logger.Named("jobs"))
	if err != nil {
		return nil, err
	}
	c.onClose(tp.close)
	c.Settlements = tp.settlements
	if tp.ready != nil {
		c.Readiness[tp.kind] = tp.ready
	}

	if bucket := strings.TrimSpace(cfg.Storage.ArchiveBucket); bucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialise storage client: %w", err)
		}
		c.onClose(func(context.Context) error { return client.Close() })
		archiver, err := storage.NewArchiver(client, bucket)
		if err != nil {
			return nil, err
		}
		c.Archiver = archiver
	}

	if err := c.buildServices(tp); err != nil {
		return nil, err
	}
	if err := c.buildWorkers(tp, options); err != nil {
		return nil, err
	}
	if secret := strings.TrimSpace(cfg.Payments.StripeWebhookSecret); secret != "" {
		translator, err := payments.NewWebhookTranslator(secret)
		if err != nil {
			return nil, err
		}
		c.Translator = translator
	} else {
		logger.Warn("stripe webhook secret not configured; webhook endpoint disabled")
	}

	ok = true
	return c, nil
}

func (c *Container) buildStores(ctx context.Context, provider *pfirestore.Provider, options buildOptions) error {
	cfg := c.Config
	reg := options.registry
	var pg *postgres.Store
	if reg == nil {
		switch cfg.Backend.Kind {
		case config.BackendMemory:
			reg = memory.NewStore()
		case config.BackendPostgres:
			store, err := postgres.Open(ctx, cfg.Backend.PostgresDSN)
			if err != nil {
				return err
			}
			if cfg.Backend.AutoMigrate {
				if err := store.Migrate(ctx); err != nil {
					_ = store.Close(ctx)
					return err
				}
			}
			c.Readiness["postgres"] = store.Ping
			pg, reg = store, store
		case config.BackendFirestore:
			firestoreReg, err := firestoreRepo.NewRegistry(provider)
			if err != nil {
				return err
			}
			c.Readiness["firestore"] = func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			}
			reg = firestoreReg
		default:
			return fmt.Errorf("unknown backend %q", cfg.Backend.Kind)
		}
		c.onClose(reg.Close)
	}
	c.Repositories = reg

	c.Idempotency = options.store
	if c.Idempotency != nil {
		return nil
	}
	switch {
	case strings.TrimSpace(cfg.Backend.RedisAddr) != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.Backend.RedisAddr})
		c.onClose(func(context.Context) error { return client.Close() })
		c.Readiness["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		c.Idempotency = idempotency.NewRedisStore(client)
	case pg != nil:
		c.Idempotency = pg.Idempotency()
	case cfg.Backend.Kind == config.BackendFirestore:
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		c.Idempotency = idempotency.NewFirestoreStore(client, "")
	default:
		c.Idempotency = idempotency.NewMemoryStore()
	}
	return nil
}

func (c *Container) buildIdentity(ctx context.Context, options buildOptions) error {
	c.Users = options.users
	if c.Config.Firebase.ProjectID != "" {
		client, err := auth.NewFirebaseClient(ctx, c.Config.Firebase)
		if err != nil {
			return err
		}
		c.Authenticator = auth.NewAuthenticator(client, 0)
		if c.Users == nil {
			c.Users = auth.NewUserDirectory(client)
		}
	}
	if c.Users == nil {
		if c.Config.Backend.Kind != config.BackendMemory {
			return errors.New("user directory requires a firebase project")
		}
		c.Users = memory.NewUserDirectory()
	}
	return nil
}

func (c *Container) buildServices(tp *transport) error {
	cfg := c.Config
	serviceLogger := observability.ServiceLogger(c.Logger.Named("services"))
	reg := c.Repositories

	dispatcher, err := notifications.NewDispatcher(tp.notifications, tp.kind, notifications.WithRecorder(c.Metrics))
	if err != nil {
		return err
	}
	gateway, err := payments.NewGatewayClient(tp.checkout, time.Now)
	if err != nil {
		return err
	}

	settlement, err := services.NewPaymentSettlementService(services.PaymentSettlementServiceDeps{
		Orders:        reg.Orders(),
		Users:         c.Users,
		Gateway:       gateway,
		Notifications: dispatcher,
		UnitOfWork:    reg,
		Reporter:      c.Reporter,
		Metrics:       c.Metrics,
		SuccessURL:    cfg.Payments.SuccessURL,
		CancelURL:     cfg.Payments.CancelURL,
		OpsRecipient:  cfg.Notifications.OpsRecipient,
		Clock:         time.Now,
		Logger:        serviceLogger,
	})
	if err != nil {
		return fmt.Errorf("build payment settlement service: %w", err)
	}

	access := services.RoleAccessControl{}
	lifecycle, err := services.NewOrderLifecycleService(services.OrderLifecycleServiceDeps{
		Orders:        reg.Orders(),
		Stock:         reg.Stock(),
		Catalog:       reg.Catalog(),
		Users:         c.Users,
		Access:        access,
		Notifications: dispatcher,
		UnitOfWork:    reg,
		Checkout:      settlement,
		AutoCheckout:  cfg.Payments.AutoCheckout,
		Metrics:       c.Metrics,
		Clock:         time.Now,
		Logger:        serviceLogger,
	})
	if err != nil {
		return fmt.Errorf("build order lifecycle service: %w", err)
	}

	queries, err := services.NewOrderQueryService(services.OrderQueryServiceDeps{
		Orders:      reg.Orders(),
		Access:      access,
		MaxPageSize: cfg.Orders.MaxPageSize,
	})
	if err != nil {
		return fmt.Errorf("build order query service: %w", err)
	}

	c.Services = Services{Lifecycle: lifecycle, Settlement: settlement, Queries: queries}

	deps := payments.SettlementConsumerDeps{
		Settler: settlement,
		Store:   c.Idempotency,
		Logger:  c.Logger.Named("settlements"),
	}
	if c.Archiver != nil {
		deps.Archiver = c.Archiver
	}
	consumer, err := payments.NewSettlementConsumer(deps)
	if err != nil {
		return err
	}
	c.Consumer = consumer
	return nil
}

func (c *Container) buildWorkers(tp *transport, options buildOptions) error {
	cfg := c.Config

	var sender notifications.Sender = notifications.NewLogSender(c.Logger.Named("mail"))
	if cfg.Notifications.SMTP.Host != "" {
		smtp, err := notifications.NewSMTPSender(cfg.Notifications.SMTP)
		if err != nil {
			return err
		}
		sender = smtp
	}
	if tp.notificationsSub != nil {
		worker := notifications.NewWorker(sender, c.Logger.Named("notifications"))
		c.Workers = append(c.Workers, Worker{Name: "notifications", Subscriber: tp.notificationsSub, Handler: worker.Handle})
	}

	provider := options.provider
	if provider == nil && strings.TrimSpace(cfg.Payments.StripeAPIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Payments.StripeAPIKey,
			Logger: observability.ServiceLogger(c.Logger.Named("stripe")),
		})
		if err != nil {
			return err
		}
		provider = stripeProvider
	}
	switch {
	case provider == nil:
		c.Logger.Warn("stripe api key not configured; checkout requests will queue without a worker")
	case tp.checkoutSub != nil:
		worker, err := payments.NewCheckoutWorker(provider, tp.settlements, time.Now, c.Logger.Named("checkout"))
		if err != nil {
			return err
		}
		c.Workers = append(c.Workers, Worker{Name: "checkout", Subscriber: tp.checkoutSub, Handler: worker.Handle})
	}

	if tp.settlementsSub != nil {
		c.Workers = append(c.Workers, Worker{Name: "settlements", Subscriber: tp.settlementsSub, Handler: c.Consumer.Handle})
	}
	return nil
}

// IdempotencyMiddleware guards order writes with the Idempotency-Key header.
func (c *Container) IdempotencyMiddleware() func(http.Handler) http.Handler {
	return idempotency.Middleware(c.Idempotency, idempotency.WithTTL(c.Config.Orders.IdempotencyTTL))
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

// Close releases clients in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
