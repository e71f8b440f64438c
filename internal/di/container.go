package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/order-engine/internal/platform/config"
	"github.com/hanko-field/order-engine/internal/platform/jobs"
	"github.com/hanko-field/order-engine/internal/platform/observability"
	"github.com/hanko-field/order-engine/internal/platform/textutil"
	"github.com/hanko-field/order-engine/internal/realtime"
	"github.com/hanko-field/order-engine/internal/repositories"
	"github.com/hanko-field/order-engine/internal/services"
)

const maxFreeTextRunes = 2000

// Services bundles the service-layer contracts that handlers rely upon.
// Online is nil when no payment gateway is configured.
type Services struct {
	Orders services.OrderService
	Online services.OnlinePaymentService
}

// Container wires repositories, the patch hub and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Hub          *realtime.Hub
	Metrics      *observability.EngineMetrics
	Services     Services
}

// Option customises NewContainer.
type Option func(*containerOptions)

type containerOptions struct {
	gateway  services.PaymentGateway
	archiver services.OrderArchiver
	sinks    []jobs.PatchSink
	metrics  *observability.EngineMetrics
	logger   *zap.Logger
	clock    func() time.Time
	ids      func() string
}

// WithPaymentGateway enables the online payment service.
func WithPaymentGateway(gateway services.PaymentGateway) Option {
	return func(o *containerOptions) { o.gateway = gateway }
}

// WithArchiver stores final order snapshots.
func WithArchiver(archiver services.OrderArchiver) Option {
	return func(o *containerOptions) { o.archiver = archiver }
}

// WithPatchSinks adds sinks that receive every committed patch after the local hub.
func WithPatchSinks(sinks ...jobs.PatchSink) Option {
	return func(o *containerOptions) { o.sinks = append(o.sinks, sinks...) }
}

// WithMetrics records engine counters on metrics.
func WithMetrics(metrics *observability.EngineMetrics) Option {
	return func(o *containerOptions) { o.metrics = metrics }
}

// WithLogger sets the base logger for services and the hub.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) { o.logger = logger }
}

// WithClock overrides time.Now, for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) { o.clock = clock }
}

// WithIDGenerator overrides the ULID generator, for tests.
func WithIDGenerator(ids func() string) Option {
	return func(o *containerOptions) { o.ids = ids }
}

// NewContainer constructs the runtime dependencies. Production wiring passes
// the Firestore registry, tests the in-memory one.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	options := containerOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}
	if options.metrics == nil {
		options.metrics = observability.NewEngineMetrics("", nil)
	}

	hub := realtime.NewHub(
		realtime.WithBuffer(cfg.Streams.Buffer),
		realtime.WithMetrics(options.metrics),
		realtime.WithLogger(options.logger.Named("realtime")),
	)

	svc, err := buildServices(ctx, cfg, reg, hub, options)
	if err != nil {
		hub.Close()
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Hub:          hub,
		Metrics:      options.metrics,
		Services:     svc,
	}, nil
}

// Close stops the hub, ending open streams, and releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Hub != nil {
		c.Hub.Close()
	}
	if c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, hub *realtime.Hub, opts containerOptions) (Services, error) {
	var svc Services

	sinks := append([]jobs.PatchSink{hub}, opts.sinks...)
	publisher := jobs.NewFanout(sinks...)
	locks := services.NewOrderLocks()
	eventLogger := observability.NewEventLogger(opts.logger.Named("orders"))

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:             reg.Orders(),
		Inventory:          reg.Inventory(),
		Counters:           reg.Counters(),
		Locks:              locks,
		Publisher:          publisher,
		Archiver:           opts.archiver,
		Sanitizer:          textutil.NewSanitizer(maxFreeTextRunes),
		Metrics:            opts.metrics,
		DefaultCurrency:    cfg.Engine.DefaultCurrency,
		MinimumOrderAmount: cfg.Engine.MinimumOrderAmount,
		MutationRetries:    cfg.Engine.MutationRetries,
		Clock:              opts.clock,
		IDGenerator:        opts.ids,
		Logger:             eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	if opts.gateway != nil {
		online, err := services.NewOnlinePaymentService(services.OnlinePaymentServiceDeps{
			Orders:          reg.Orders(),
			Gateway:         opts.gateway,
			Locks:           locks,
			Publisher:       publisher,
			Archiver:        opts.archiver,
			Metrics:         opts.metrics,
			Timeout:         cfg.Engine.OnlineTxTimeout,
			SweepBatchSize:  cfg.Engine.SweepBatchSize,
			MutationRetries: cfg.Engine.MutationRetries,
			Clock:           opts.clock,
			IDGenerator:     opts.ids,
			Logger:          observability.NewEventLogger(opts.logger.Named("online_payments")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build online payment service: %w", err)
		}
		svc.Online = online
	}

	return svc, nil
}
