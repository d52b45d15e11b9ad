package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultStorageDriver        = StorageFirestore
	defaultPostgresMaxConns     = 10
	defaultPaymentTimeout       = 15 * time.Second
	defaultOrderNumberPrefix    = "ORD"
	defaultSecurityEnvironment  = "local"
	defaultSecretsFallbackFile  = ".secrets.local"
	defaultIdempotencyBackend   = IdempotencyMemory
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultPlaceRateWindow      = time.Minute
)

// Storage drivers.
const (
	StorageFirestore = "firestore"
	StoragePostgres  = "postgres"
	StorageMemory    = "memory"
)

// Idempotency backends.
const (
	IdempotencyMemory    = "memory"
	IdempotencyFirestore = "firestore"
	IdempotencyRedis     = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	PSP         PSPConfig
	Payments    PaymentConfig
	Orders      OrderConfig
	Checkout    CheckoutConfig
	Build       BuildConfig
	PubSub      PubSubConfig
	Idempotency IdempotencyConfig
	Secrets     SecretsConfig
	Telemetry   TelemetryConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig configures the relational backend.
type PostgresConfig struct {
	DSN         string
	MaxConns    int
	AutoMigrate bool
}

// RedisConfig configures the idempotency cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PSPConfig collects secrets for payment providers.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
}

// PaymentConfig tunes the gateway leg of checkout.
type PaymentConfig struct {
	Timeout         time.Duration
	CallbackBaseURL string
}

// OrderConfig controls order numbering.
type OrderConfig struct {
	NumberPrefix string
}

// CheckoutConfig throttles order placement per tenant and cart. A zero limit disables throttling.
type CheckoutConfig struct {
	PlaceRateLimit  int
	PlaceRateWindow time.Duration
}

// BuildConfig is reported by the liveness probe.
type BuildConfig struct {
	Version   string
	CommitSHA string
}

// PubSubConfig names the topic order lifecycle events are published to. Empty disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Backend          string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretsConfig configures Secret Manager lookups.
type SecretsConfig struct {
	ProjectID    string
	Environment  string
	FallbackFile string
}

// TelemetryConfig carries the project used to build trace resource names.
type TelemetryConfig struct {
	GCPProjectID string
}

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
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration from defaults, .env overrides, environment variables,
// and secret references.
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

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_STORAGE_DRIVER", defaultStorageDriver)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:         stringWithDefault(lookup, "API_POSTGRES_DSN", ""),
			MaxConns:    intWithDefault(lookup, "API_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
			AutoMigrate: boolWithDefault(lookup, "API_POSTGRES_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
		},
		Payments: PaymentConfig{
			Timeout:         durationWithDefault(lookup, "API_PAYMENT_TIMEOUT", defaultPaymentTimeout),
			CallbackBaseURL: stringWithDefault(lookup, "API_PAYMENT_CALLBACK_BASE_URL", ""),
		},
		Orders: OrderConfig{
			NumberPrefix: strings.ToUpper(stringWithDefault(lookup, "API_ORDER_NUMBER_PREFIX", defaultOrderNumberPrefix)),
		},
		Checkout: CheckoutConfig{
			PlaceRateLimit:  intWithDefault(lookup, "API_CHECKOUT_PLACE_RATE_LIMIT", 0),
			PlaceRateWindow: durationWithDefault(lookup, "API_CHECKOUT_PLACE_RATE_WINDOW", defaultPlaceRateWindow),
		},
		Build: BuildConfig{
			Version:   stringWithDefault(lookup, "API_BUILD_VERSION", "dev"),
			CommitSHA: stringWithDefault(lookup, "API_BUILD_COMMIT_SHA", "unknown"),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Idempotency: IdempotencyConfig{
			Backend:          strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH_SIZE", defaultIdempotencyBatchSize),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "API_SECRETS_PROJECT_ID", ""),
			Environment:  strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			FallbackFile: stringWithDefault(lookup, "API_SECRETS_FALLBACK_FILE", defaultSecretsFallbackFile),
		},
		Telemetry: TelemetryConfig{
			GCPProjectID: stringWithDefault(lookup, "API_GCP_PROJECT_ID", ""),
		},
	}

	// Pub/Sub, secrets and tracing default to the Firestore project.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Telemetry.GCPProjectID == "" {
		cfg.Telemetry.GCPProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"Postgres.DSN", &cfg.Postgres.DSN},
		{"Redis.Password", &cfg.Redis.Password},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", target.name, err)
		}
		*target.field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
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
	return append([]string(nil), e.fields...)
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Storage.Driver {
	case StorageFirestore:
		if cfg.Firestore.ProjectID == "" && os.Getenv("GOOGLE_CLOUD_PROJECT") == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case StoragePostgres:
		if cfg.Postgres.DSN == "" {
			invalid = append(invalid, "Postgres.DSN")
		}
		if cfg.Postgres.MaxConns <= 0 {
			invalid = append(invalid, "Postgres.MaxConns")
		}
	case StorageMemory:
	default:
		invalid = append(invalid, "Storage.Driver")
	}
	switch cfg.Idempotency.Backend {
	case IdempotencyMemory:
	case IdempotencyRedis:
		if cfg.Redis.Addr == "" {
			invalid = append(invalid, "Redis.Addr")
		}
	case IdempotencyFirestore:
		if cfg.Storage.Driver != StorageFirestore {
			invalid = append(invalid, "Idempotency.Backend")
		}
	default:
		invalid = append(invalid, "Idempotency.Backend")
	}
	if cfg.Payments.Timeout <= 0 {
		invalid = append(invalid, "Payments.Timeout")
	}
	if cfg.Payments.CallbackBaseURL != "" {
		if u, err := url.Parse(cfg.Payments.CallbackBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			invalid = append(invalid, "Payments.CallbackBaseURL")
		}
	}
	if strings.TrimSpace(cfg.Orders.NumberPrefix) == "" {
		invalid = append(invalid, "Orders.NumberPrefix")
	}
	if cfg.Checkout.PlaceRateLimit < 0 {
		invalid = append(invalid, "Checkout.PlaceRateLimit")
	}
	if cfg.Checkout.PlaceRateLimit > 0 && cfg.Checkout.PlaceRateWindow <= 0 {
		invalid = append(invalid, "Checkout.PlaceRateWindow")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		invalid = append(invalid, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		invalid = append(invalid, "Idempotency.CleanupBatchSize")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
