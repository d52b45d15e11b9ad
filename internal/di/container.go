package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/changerplanet/WebWaka2-sub010/internal/handlers"
	"github.com/changerplanet/WebWaka2-sub010/internal/payments"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/config"
	pfirestore "github.com/changerplanet/WebWaka2-sub010/internal/platform/firestore"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/idempotency"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/jobs"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/observability"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/postgres"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories"
	firestoreRepo "github.com/changerplanet/WebWaka2-sub010/internal/repositories/firestore"
	"github.com/changerplanet/WebWaka2-sub010/internal/repositories/memory"
	postgresRepo "github.com/changerplanet/WebWaka2-sub010/internal/repositories/postgres"
	"github.com/changerplanet/WebWaka2-sub010/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart      services.CartService
	Resolver  services.CartResolver
	Inventory services.InventoryService
	Orders    services.OrderService
	Payments  services.PaymentService
	Checkout  services.CheckoutService
	Lifecycle services.LifecycleService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Gateways     services.GatewayResolver
	Idempotency  idempotency.Store
	StartedAt    time.Time

	logger  *zap.Logger
	clock   func() time.Time
	closers []func(context.Context) error
}

// Option customises NewContainer.
type Option func(*containerOptions)

type containerOptions struct {
	logger      *zap.Logger
	clock       func() time.Time
	gateways    services.GatewayResolver
	events      services.EventPublisher
	idempotency idempotency.Store
}

// WithLogger sets the base logger services fall back to outside a request.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) { o.logger = logger }
}

// WithClock overrides the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) { o.clock = clock }
}

// WithGateways supplies the payment gateway resolver.
func WithGateways(gateways services.GatewayResolver) Option {
	return func(o *containerOptions) { o.gateways = gateways }
}

// WithEventPublisher supplies the order event sink. Events are dropped when unset.
func WithEventPublisher(events services.EventPublisher) Option {
	return func(o *containerOptions) { o.events = events }
}

// WithIdempotencyStore supplies the store backing order placement replays.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *containerOptions) { o.idempotency = store }
}

// New opens every backend named by cfg and assembles the container. Close releases them.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []func(context.Context) error
	fail := func(err error) (*Container, error) {
		runClosers(context.Background(), closers, logger)
		return nil, err
	}

	reg, provider, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, reg.Close)

	store, closeStore, err := openIdempotencyStore(ctx, cfg, provider)
	if err != nil {
		return fail(err)
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	gateways, err := buildGateways(cfg, logger)
	if err != nil {
		return fail(err)
	}

	events, closeEvents, err := openEventPublisher(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	if closeEvents != nil {
		closers = append(closers, closeEvents)
	}

	c, err := NewContainer(ctx, cfg, reg,
		WithLogger(logger),
		WithGateways(gateways),
		WithEventPublisher(events),
		WithIdempotencyStore(store),
	)
	if err != nil {
		return fail(err)
	}
	c.closers = closers
	return c, nil
}

// NewContainer builds the services over an already-open registry. Tests pass the memory store.
func NewContainer(_ context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := containerOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.gateways == nil {
		o.gateways = (*payments.Manager)(nil)
	}
	if o.idempotency == nil {
		o.idempotency = idempotency.NewMemoryStore()
	}

	svc, err := buildServices(reg, cfg, o)
	if err != nil {
		return nil, err
	}
	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Gateways:     o.gateways,
		Idempotency:  o.idempotency,
		StartedAt:    o.clock().UTC(),
		logger:       o.logger,
		clock:        o.clock,
	}, nil
}

// Router assembles the HTTP surface. middlewares are appended after the router defaults.
func (c *Container) Router(middlewares ...func(http.Handler) http.Handler) http.Handler {
	placeMiddleware := idempotency.Middleware(
		c.Idempotency,
		idempotency.WithHeader(c.Config.Idempotency.Header),
		idempotency.WithTTL(c.Config.Idempotency.TTL),
		idempotency.WithClock(c.clock),
	)
	checkoutOpts := []handlers.CheckoutOption{handlers.WithPlaceMiddleware(placeMiddleware)}
	if limiter := handlers.NewWindowLimiter(c.Config.Checkout.PlaceRateLimit, c.Config.Checkout.PlaceRateWindow, c.clock); limiter != nil {
		checkoutOpts = append(checkoutOpts, handlers.WithPlaceLimiter(limiter))
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:     c.Config.Build.Version,
			CommitSHA:   c.Config.Build.CommitSHA,
			Environment: c.Config.Secrets.Environment,
			StartedAt:   c.StartedAt,
		}),
		handlers.WithHealthRepository(c.Repositories.Health()),
		handlers.WithHealthClock(c.clock),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(health),
		handlers.WithTenantRepository(c.Repositories.Tenants()),
		handlers.WithTenantRoutes(
			handlers.NewCartHandlers(c.Services.Cart).Routes,
			handlers.NewCheckoutHandlers(c.Services.Checkout, checkoutOpts...).Routes,
			handlers.NewOrderHandlers(c.Services.Orders, c.Services.Lifecycle).Routes,
		),
		handlers.WithWebhookRoutes(handlers.NewPaymentWebhookHandlers(c.Gateways, c.Services.Payments).Routes),
	)
}

// RunBackground blocks running the idempotency sweeper until ctx is cancelled.
func (c *Container) RunBackground(ctx context.Context) {
	idempotency.Sweep(ctx, c.Idempotency, c.Config.Idempotency.CleanupInterval, c.Config.Idempotency.CleanupBatchSize, c.logger.Named("idempotency"))
}

// Close releases repository clients, caches and publishers in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if len(c.closers) == 0 && c.Repositories != nil {
		return c.Repositories.Close(ctx)
	}
	return runClosers(ctx, c.closers, c.logger)
}

func runClosers(ctx context.Context, closers []func(context.Context) error, logger *zap.Logger) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			logger.Warn("close dependency", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(reg repositories.Registry, cfg config.Config, o containerOptions) (Services, error) {
	logFor := func(name string) services.Logger {
		return observability.ServiceLogger(o.logger.Named(name))
	}
	var svc Services
	var err error

	svc.Cart, err = services.NewCartService(services.CartServiceDeps{
		Carts:      reg.Carts(),
		Products:   reg.Products(),
		Vendors:    reg.Vendors(),
		Promotions: reg.Promotions(),
		Clock:      o.clock,
		Logger:     logFor("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	svc.Resolver, err = services.NewCartResolver(services.CartResolverDeps{
		Carts:      reg.Carts(),
		Vendors:    reg.Vendors(),
		Products:   reg.Products(),
		Promotions: reg.Promotions(),
		Clock:      o.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart resolver: %w", err)
	}

	svc.Inventory, err = services.NewInventoryGate(services.InventoryGateDeps{
		Products:  reg.Products(),
		Inventory: reg.Inventory(),
		Events:    o.events,
		Clock:     o.clock,
		Logger:    logFor("inventory"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory gate: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:       reg.Orders(),
		Counters:     reg.Counters(),
		Inventory:    svc.Inventory,
		Events:       o.events,
		Clock:        o.clock,
		Logger:       logFor("orders"),
		NumberPrefix: cfg.Orders.NumberPrefix,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	svc.Payments, err = services.NewPaymentService(services.PaymentServiceDeps{
		Orders:          reg.Orders(),
		Carts:           reg.Carts(),
		Partners:        reg.PaymentPartners(),
		Gateways:        o.gateways,
		OrderSvc:        svc.Orders,
		Inventory:       svc.Inventory,
		Events:          o.events,
		Clock:           o.clock,
		Logger:          logFor("payments"),
		Timeout:         cfg.Payments.Timeout,
		CallbackBaseURL: cfg.Payments.CallbackBaseURL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}

	svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		Resolver:   svc.Resolver,
		Inventory:  svc.Inventory,
		Promotions: reg.Promotions(),
		Orders:     svc.Orders,
		Payments:   svc.Payments,
		Clock:      o.clock,
		Logger:     logFor("checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	svc.Lifecycle, err = services.NewLifecycleService(services.LifecycleServiceDeps{
		Orders:    reg.Orders(),
		Partners:  reg.PaymentPartners(),
		OrderSvc:  svc.Orders,
		Inventory: svc.Inventory,
		Gateways:  o.gateways,
		Events:    o.events,
		Clock:     o.clock,
		Logger:    logFor("lifecycle"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build lifecycle service: %w", err)
	}
	return svc, nil
}

func openRegistry(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.Registry, *pfirestore.Provider, error) {
	switch cfg.Storage.Driver {
	case config.StorageFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return nil, nil, fmt.Errorf("dial firestore: %w", err)
		}
		reg, err := firestoreRepo.New(provider)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, nil, err
		}
		return reg, provider, nil
	case config.StoragePostgres:
		pool, err := postgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Postgres.AutoMigrate {
			if err := postgres.Migrate(ctx, pool, observability.NewPrintfAdapter(logger.Named("migrate"))); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		reg, err := postgresRepo.New(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return reg, nil, nil
	case config.StorageMemory:
		logger.Warn("memory storage selected; data is lost on restart")
		return memory.NewStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func openIdempotencyStore(ctx context.Context, cfg config.Config, provider *pfirestore.Provider) (idempotency.Store, func(context.Context) error, error) {
	switch cfg.Idempotency.Backend {
	case config.IdempotencyRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err := idempotency.NewRedisStore(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return store, func(context.Context) error { return client.Close() }, nil
	case config.IdempotencyFirestore:
		if provider == nil {
			return nil, nil, errors.New("firestore idempotency requires firestore storage")
		}
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, nil, err
		}
		store, err := idempotency.NewFirestoreStore(client)
		return store, nil, err
	default:
		return idempotency.NewMemoryStore(), nil, nil
	}
}

func buildGateways(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		logger.Warn("no payment gateway configured; only cash on delivery orders can be placed")
		return nil, nil
	}
	stripe, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        observability.ServiceLogger(logger.Named("stripe")),
	})
	if err != nil {
		return nil, fmt.Errorf("build stripe gateway: %w", err)
	}
	return payments.NewManager(stripe)
}

func openEventPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.EventPublisher, func(context.Context) error, error) {
	topicID := strings.TrimSpace(cfg.PubSub.OrderEventsTopic)
	if topicID == "" {
		logger.Info("order events topic not configured; lifecycle events are not published")
		return nil, nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(topicID))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, func(context.Context) error {
		publisher.Stop()
		return client.Close()
	}, nil
}
