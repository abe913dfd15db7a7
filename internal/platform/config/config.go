package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultShutdown       = 20 * time.Second
	defaultEnvironment    = "local"
	defaultOIDCJWKSURL    = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer     = "https://accounts.google.com"
	defaultIdempotencyTTL = 24 * time.Hour
	defaultSMTPPort       = 587
	defaultMaxPageSize    = 100

	defaultNotificationsTopic = "order-notifications"
	defaultCheckoutTopic      = "checkout-requests"
	defaultSettlementsTopic   = "payment-settlements"
)

// Backend kinds.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

// Transport kinds. Inline runs the checkout worker in process and logs notifications.
const (
	TransportInline = "inline"
	TransportPubSub = "pubsub"
	TransportNATS   = "nats"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment   string
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Backend       BackendConfig
	Transport     TransportConfig
	Payments      PaymentsConfig
	Notifications NotificationsConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	Storage       StorageConfig
	Orders        OrdersConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// BackendConfig selects the order and stock store.
type BackendConfig struct {
	Kind        string
	PostgresDSN string
	AutoMigrate bool
	RedisAddr   string
}

// TransportConfig selects how notifications, checkout requests and settlements travel.
type TransportConfig struct {
	Kind   string
	PubSub PubSubConfig
	NATS   NATSConfig
}

// PubSubConfig names the topics and subscriptions.
type PubSubConfig struct {
	ProjectID                 string
	NotificationsTopic        string
	CheckoutTopic             string
	SettlementsTopic          string
	CheckoutSubscription      string
	SettlementsSubscription   string
	NotificationsSubscription string
}

// NATSConfig names the server and subjects.
type NATSConfig struct {
	URL                  string
	NotificationsSubject string
	CheckoutSubject      string
	SettlementsSubject   string
	QueueGroup           string
}

// PaymentsConfig holds Stripe credentials and the checkout redirect URLs. The URLs may contain the
// {ORDER_ID} placeholder.
type PaymentsConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	SuccessURL          string
	CancelURL           string
	AutoCheckout        bool
}

// NotificationsConfig controls outbound customer and operator messages.
type NotificationsConfig struct {
	OpsRecipient string
	SMTP         SMTPConfig
}

// SMTPConfig configures direct email delivery. An empty host disables it.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// ObservabilityConfig configures error reporting.
type ObservabilityConfig struct {
	SentryDSN string
	LogLevel  string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	OIDC OIDCConfig
}

// OIDCConfig controls Google-signed token verification for push endpoints.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// StorageConfig names the bucket used to archive raw webhook payloads. Empty disables archiving.
type StorageConfig struct {
	ArchiveBucket string
}

// OrdersConfig tunes the order services.
type OrdersConfig struct {
	MaxPageSize      int
	IdempotencyTTL   time.Duration
	CreateRateLimit  int
	CreateRateWindow time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", redact(e.Ref), e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// Load assembles the configuration from defaults, the .env file, the process environment and the
// explicit env map, in increasing precedence, then resolves secret references and validates.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}
	env := reader(lookup)

	cfg := Config{
		Environment: strings.ToLower(env.str("API_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:            env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: env.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdown),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Backend: BackendConfig{
			Kind:        strings.ToLower(env.str("API_BACKEND", BackendFirestore)),
			PostgresDSN: env.str("API_POSTGRES_DSN", ""),
			AutoMigrate: env.boolean("API_POSTGRES_AUTO_MIGRATE", true),
			RedisAddr:   env.str("API_REDIS_ADDR", ""),
		},
		Transport: TransportConfig{
			Kind: strings.ToLower(env.str("API_TRANSPORT", TransportPubSub)),
			PubSub: PubSubConfig{
				ProjectID:                 env.str("API_PUBSUB_PROJECT_ID", ""),
				NotificationsTopic:        env.str("API_PUBSUB_NOTIFICATIONS_TOPIC", defaultNotificationsTopic),
				CheckoutTopic:             env.str("API_PUBSUB_CHECKOUT_TOPIC", defaultCheckoutTopic),
				SettlementsTopic:          env.str("API_PUBSUB_SETTLEMENTS_TOPIC", defaultSettlementsTopic),
				CheckoutSubscription:      env.str("API_PUBSUB_CHECKOUT_SUBSCRIPTION", ""),
				SettlementsSubscription:   env.str("API_PUBSUB_SETTLEMENTS_SUBSCRIPTION", ""),
				NotificationsSubscription: env.str("API_PUBSUB_NOTIFICATIONS_SUBSCRIPTION", ""),
			},
			NATS: NATSConfig{
				URL:                  env.str("API_NATS_URL", ""),
				NotificationsSubject: env.str("API_NATS_NOTIFICATIONS_SUBJECT", "orders.notifications"),
				CheckoutSubject:      env.str("API_NATS_CHECKOUT_SUBJECT", "payments.checkout"),
				SettlementsSubject:   env.str("API_NATS_SETTLEMENTS_SUBJECT", "payments.settlements"),
				QueueGroup:           env.str("API_NATS_QUEUE_GROUP", "orders-api"),
			},
		},
		Payments: PaymentsConfig{
			StripeAPIKey:        env.str("API_STRIPE_API_KEY", ""),
			StripeWebhookSecret: env.str("API_STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:          env.str("API_CHECKOUT_SUCCESS_URL", ""),
			CancelURL:           env.str("API_CHECKOUT_CANCEL_URL", ""),
			AutoCheckout:        env.boolean("API_CHECKOUT_AUTO", false),
		},
		Notifications: NotificationsConfig{
			OpsRecipient: env.str("API_NOTIFICATIONS_OPS_RECIPIENT", ""),
			SMTP: SMTPConfig{
				Host:     env.str("API_SMTP_HOST", ""),
				Port:     env.integer("API_SMTP_PORT", defaultSMTPPort),
				Username: env.str("API_SMTP_USERNAME", ""),
				Password: env.str("API_SMTP_PASSWORD", ""),
				From:     env.str("API_SMTP_FROM", ""),
			},
		},
		Observability: ObservabilityConfig{
			SentryDSN: env.str("API_SENTRY_DSN", ""),
			LogLevel:  env.str("LOG_LEVEL", "info"),
		},
		Security: SecurityConfig{
			OIDC: OIDCConfig{
				JWKSURL:  env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  env.csv("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Storage: StorageConfig{
			ArchiveBucket: env.str("API_STORAGE_ARCHIVE_BUCKET", ""),
		},
		Orders: OrdersConfig{
			MaxPageSize:      env.integer("API_ORDERS_MAX_PAGE_SIZE", defaultMaxPageSize),
			IdempotencyTTL:   env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CreateRateLimit:  env.integer("API_ORDERS_CREATE_RATE_LIMIT", 0),
			CreateRateWindow: env.duration("API_ORDERS_CREATE_RATE_WINDOW", time.Minute),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Transport.PubSub.ProjectID == "" {
		cfg.Transport.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	secretFields := []*string{
		&cfg.Backend.PostgresDSN,
		&cfg.Payments.StripeAPIKey,
		&cfg.Payments.StripeWebhookSecret,
		&cfg.Notifications.SMTP.Password,
		&cfg.Observability.SentryDSN,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	require(cfg.Payments.SuccessURL != "", "Payments.SuccessURL")
	require(cfg.Payments.CancelURL != "", "Payments.CancelURL")
	require(cfg.Orders.MaxPageSize > 0, "Orders.MaxPageSize")

	switch cfg.Backend.Kind {
	case BackendMemory:
	case BackendFirestore:
		require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case BackendPostgres:
		require(cfg.Backend.PostgresDSN != "", "Backend.PostgresDSN")
	default:
		missing = append(missing, "Backend.Kind")
	}

	switch cfg.Transport.Kind {
	case TransportInline:
	case TransportPubSub:
		require(cfg.Transport.PubSub.ProjectID != "", "Transport.PubSub.ProjectID")
	case TransportNATS:
		require(cfg.Transport.NATS.URL != "", "Transport.NATS.URL")
	default:
		missing = append(missing, "Transport.Kind")
	}

	if cfg.Notifications.SMTP.Host != "" {
		require(cfg.Notifications.SMTP.From != "", "Notifications.SMTP.From")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redact(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return "secret:" + hex.EncodeToString(sum[:6])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

type reader func(string) (string, bool)

func (r reader) str(key, fallback string) string {
	if value, ok := r(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (r reader) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(r.str(key, "")); err == nil {
		return d
	}
	return fallback
}

func (r reader) integer(key string, fallback int) int {
	if parsed, err := strconv.Atoi(r.str(key, "")); err == nil {
		return parsed
	}
	return fallback
}

func (r reader) boolean(key string, fallback bool) bool {
	switch strings.ToLower(r.str(key, "")) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func (r reader) csv(key string) []string {
	var out []string
	for _, part := range strings.Split(r.str(key, ""), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
