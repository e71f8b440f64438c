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

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/hanko-field/order-engine/internal/di"
	"github.com/hanko-field/order-engine/internal/handlers"
	"github.com/hanko-field/order-engine/internal/payments"
	"github.com/hanko-field/order-engine/internal/platform/auth"
	"github.com/hanko-field/order-engine/internal/platform/config"
	pfirestore "github.com/hanko-field/order-engine/internal/platform/firestore"
	"github.com/hanko-field/order-engine/internal/platform/idempotency"
	"github.com/hanko-field/order-engine/internal/platform/jobs"
	"github.com/hanko-field/order-engine/internal/platform/observability"
	"github.com/hanko-field/order-engine/internal/platform/secrets"
	platformstorage "github.com/hanko-field/order-engine/internal/platform/storage"
	"github.com/hanko-field/order-engine/internal/repositories"
	firestoreRepo "github.com/hanko-field/order-engine/internal/repositories/firestore"
	"github.com/hanko-field/order-engine/internal/repositories/memory"
	"github.com/hanko-field/order-engine/internal/services"
)

const (
	shutdownGrace       = 20 * time.Second
	stripeWebhookWindow = 5 * time.Minute
	stripeProviderName  = "stripe"
)

var (
	version   = "dev"
	commitSHA = ""
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "order engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	lookup, err := config.Lookup()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	levelValue, _ := lookup("LOG_LEVEL")
	baseLogger, err := observability.NewLogger(levelValue)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger, lookup)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Error("invalid configuration", zap.Strings("fields", invalid.Fields))
		}
		return fmt.Errorf("load configuration: %w", err)
	}
	logger = logger.With(zap.String("environment", cfg.Environment))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewEngineMetrics("order_engine", registry)

	reg, provider, checks, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	containerOpts := []di.Option{
		di.WithLogger(baseLogger),
		di.WithMetrics(metrics),
	}

	var archiver *platformstorage.Archiver
	if bucket := strings.TrimSpace(cfg.Storage.ArchiveBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("initialise storage client: %w", err)
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		archiver, err = platformstorage.NewArchiver(storageClient, bucket)
		if err != nil {
			return fmt.Errorf("initialise archiver: %w", err)
		}
		containerOpts = append(containerOpts, di.WithArchiver(archiver))
	}

	var stripeParser *payments.StripeWebhookParser
	if apiKey := strings.TrimSpace(cfg.Payments.StripeAPIKey); apiKey != "" {
		gateway, parser, err := buildPayments(cfg, logger)
		if err != nil {
			return err
		}
		stripeParser = parser
		containerOpts = append(containerOpts, di.WithPaymentGateway(gateway))
	} else {
		logger.Warn("stripe api key not configured; online payments disabled")
	}

	origin := ulid.Make().String()
	var (
		patchPublisher *jobs.PubSubPatchPublisher
		patchSub       *pubsub.Subscription
	)
	if topicID := strings.TrimSpace(cfg.PubSub.PatchTopic); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("initialise pubsub client: %w", err)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicID)
		defer topic.Stop()
		patchPublisher, err = jobs.NewPubSubPatchPublisher(topic, origin, logger.Named("patches"))
		if err != nil {
			return err
		}
		containerOpts = append(containerOpts, di.WithPatchSinks(patchPublisher))
		if subID := strings.TrimSpace(cfg.PubSub.Subscription); subID != "" {
			patchSub = pubsubClient.Subscription(subID)
		}
		checks = append(checks, repositories.DependencyCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				_, err := topic.Exists(ctx)
				return err
			},
		})
	}

	container, err := di.NewContainer(ctx, cfg, reg, containerOpts...)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	var health repositories.HealthRepository
	if len(checks) > 0 {
		health, err = repositories.NewDependencyHealthRepository(checks, nil)
		if err != nil {
			return fmt.Errorf("build health repository: %w", err)
		}
	}

	var idempotencyStore idempotency.Store = idempotency.NewMemoryStore()
	if provider != nil {
		idempotencyStore = idempotency.NewFirestoreStore(provider)
	}

	router, err := buildRouter(ctx, cfg, logger, container, archiver, stripeParser, idempotencyStore, registry, health, handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commitSHA,
		Environment: cfg.Environment,
		StartedAt:   startedAt,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("origin", origin))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		// Streams only end when the hub closes.
		container.Hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
		patchPublisher.Flush()
		return nil
	})
	if online := container.Services.Online; online != nil {
		group.Go(func() error {
			runSweeper(groupCtx, logger.Named("sweeper"), cfg.Engine.SweepInterval, online.SweepExpired)
			return nil
		})
	}
	if patchSub != nil {
		relay, err := jobs.NewPatchRelay(patchSub, container.Hub, origin, logger.Named("relay"))
		if err != nil {
			return err
		}
		group.Go(func() error {
			return relay.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// buildRegistry returns the in-memory registry for local runs without a
// Firestore project. The provider is nil in that case.
func buildRegistry(cfg config.Config) (repositories.Registry, *pfirestore.Provider, []repositories.DependencyCheck, error) {
	if cfg.InMemory() {
		return memory.NewRegistry(nil), nil, nil, nil
	}
	provider := pfirestore.NewProvider(cfg.Firestore)
	reg, err := firestoreRepo.NewRegistry(provider)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialise firestore registry: %w", err)
	}
	checks := []repositories.DependencyCheck{{Name: "firestore", Check: reg.Ping}}
	return reg, provider, checks, nil
}

func buildPayments(cfg config.Config, logger *zap.Logger) (*payments.Manager, *payments.StripeWebhookParser, error) {
	stripeLogger := observability.NewEventLogger(logger.Named("stripe"))
	provider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.Payments.StripeAPIKey,
		Logger: payments.StripeLogger(stripeLogger),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialise stripe provider: %w", err)
	}
	manager, err := payments.NewManager(
		map[string]payments.Provider{stripeProviderName: provider},
		payments.WithDefaultProvider(stripeProviderName),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise payment manager: %w", err)
	}
	if strings.TrimSpace(cfg.Payments.StripeWebhookSecret) == "" {
		logger.Warn("stripe webhook secret not configured; stripe callbacks disabled")
		return manager, nil, nil
	}
	parser, err := payments.NewStripeWebhookParser(cfg.Payments.StripeWebhookSecret, stripeWebhookWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise stripe webhook parser: %w", err)
	}
	return manager, parser, nil
}

func buildRouter(ctx context.Context, cfg config.Config, logger *zap.Logger, container *di.Container, archiver *platformstorage.Archiver,
	stripeParser *payments.StripeWebhookParser, idempotencyStore idempotency.Store, registry *prometheus.Registry, health repositories.HealthRepository, build handlers.BuildInfo) (http.Handler, error) {
	var authn *auth.Authenticator
	if strings.TrimSpace(cfg.Firebase.ProjectID) != "" {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return nil, fmt.Errorf("initialise firebase verifier: %w", err)
		}
		authn = auth.NewAuthenticator(verifier)
	} else {
		logger.Warn("firebase project not configured; identity must be injected upstream")
	}

	idempotent := idempotency.Middleware(idempotencyStore, idempotency.Config{
		Header: cfg.Idempotency.Header,
		TTL:    cfg.Idempotency.TTL,
		Logger: logger.Named("idempotency"),
	})

	streams := handlers.NewStreamHandlers(container.Hub, cfg.Streams.Heartbeat)
	orderOpts := []handlers.OrderHandlerOption{
		handlers.WithStreams(streams),
		handlers.WithCommandTimeout(cfg.Server.CommandTimeout),
		handlers.WithCommandMiddlewares(idempotent),
	}
	if container.Services.Online != nil {
		orderOpts = append(orderOpts, handlers.WithOnlinePayments(container.Services.Online))
	}
	if archiver != nil {
		orderOpts = append(orderOpts, handlers.WithArchiveLinker(archiver))
	}

	var webhookOpts []handlers.WebhookOption
	if stripeParser != nil {
		webhookOpts = append(webhookOpts, handlers.WithStripeParser(stripeParser))
	}
	if len(cfg.Webhooks.Secrets) > 0 {
		webhookOpts = append(webhookOpts, handlers.WithWebhookSigner(auth.NewWebhookSigner(cfg.Webhooks.Secrets, auth.SignatureOptions{
			SignatureHeader: cfg.Webhooks.SignatureHeader,
			TimestampHeader: cfg.Webhooks.TimestampHeader,
			NonceHeader:     cfg.Webhooks.NonceHeader,
			ClockSkew:       cfg.Webhooks.ClockSkew,
			NonceTTL:        cfg.Webhooks.NonceTTL,
		})))
	}

	oidc := auth.NewOIDCVerifier(
		auth.NewJWKSCache(cfg.Security.OIDCJWKSURL, nil),
		cfg.Security.OIDCAudience,
		cfg.Security.OIDCIssuers,
		logger.Named("oidc"),
	)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(build)}
	if health != nil {
		healthOpts = append(healthOpts, handlers.WithHealthRepository(health))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware(traceProjectID(cfg)),
		observability.InjectLoggerMiddleware(logger),
		observability.RecoveryMiddleware(logger),
		observability.RequestLoggerMiddleware(),
	}
	if cors := handlers.CORSMiddleware(cfg.CORS.AllowedOrigins); cors != nil {
		middlewares = append(middlewares, cors)
	}

	return handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		handlers.WithMeRoutes(handlers.NewOrderHandlers(authn, container.Services.Orders, orderOpts...).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminOrderHandlers(authn, container.Services.Orders, orderOpts...).Routes),
		handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(container.Services.Online, webhookOpts...).Routes),
		handlers.WithWebhookMiddlewares(handlers.RateLimitMiddleware(cfg.Webhooks.RateLimit, time.Minute)),
		handlers.WithInternalRoutes(handlers.NewJobHandlers(container.Services.Online).Routes),
		handlers.WithInternalMiddlewares(oidc.RequireOIDC()),
	), nil
}

// runSweeper cancels expired online transactions every interval until ctx ends.
func runSweeper(ctx context.Context, logger *zap.Logger, interval time.Duration, sweep func(context.Context) (services.SweepResult, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, interval)
			result, err := sweep(runCtx)
			cancel()
			if err != nil {
				logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if result.Cleared > 0 || result.Failed > 0 {
				logger.Info("sweep finished",
					zap.Int("scanned", result.Scanned),
					zap.Int("cleared", result.Cleared),
					zap.Int("failed", result.Failed),
				)
			}
		}
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, lookup func(string) (string, bool)) (*secrets.Fetcher, error) {
	value := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	project := value("ORDER_ENGINE_SECRET_PROJECT_ID")
	if project == "" {
		project = value("ORDER_ENGINE_FIREBASE_PROJECT_ID")
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := value("ORDER_ENGINE_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if credentials := value("ORDER_ENGINE_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
