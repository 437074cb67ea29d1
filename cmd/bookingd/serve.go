package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/yonotravel/bookingd/internal/config"
	"github.com/yonotravel/bookingd/internal/gateway/omise"
	"github.com/yonotravel/bookingd/internal/grpcserver"
	"github.com/yonotravel/bookingd/internal/httpapi"
	"github.com/yonotravel/bookingd/internal/idempotency"
	"github.com/yonotravel/bookingd/internal/notify"
	"github.com/yonotravel/bookingd/internal/store/gormstore"
	"github.com/yonotravel/bookingd/internal/store/pgstore"
	"github.com/yonotravel/bookingd/internal/telemetry"
	"github.com/yonotravel/bookingd/internal/webhook"
	"github.com/yonotravel/bookingd/pkg/booking"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const ledgerSweepInterval = time.Minute

func runServer(ctx context.Context, cfg config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	clock := func() time.Time { return time.Now().UTC() }
	store := gormstore.New(gormDB)
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	operationLogger := telemetry.NewOperationLogger(logger, metrics)
	var rows telemetry.RowWriter = store
	if driver == driverPostgres {
		pgWriter, closePool, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer closePool()
		rows = pgWriter
	}
	recorder := telemetry.NewRecorder(rows, logger, metrics,
		telemetry.WithWriteTimeout(cfg.TelemetryTimeout),
		telemetry.WithClock(clock),
	)

	notifiers := []booking.Notifier{operationLogger}
	if cfg.NotificationsEnabled() {
		publisher, err := notify.Dial(cfg.AMQPURL, cfg.AMQPExchange, notify.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("amqp dial: %w", err)
		}
		defer func() { _ = publisher.Close() }()
		notifiers = append(notifiers, publisher)
		logger.Info("status notifications enabled", zap.String("exchange", cfg.AMQPExchange))
	}

	bookingService, err := booking.NewService(store, clock, booking.WithOperationLogger(operationLogger))
	if err != nil {
		return fmt.Errorf("booking service init: %w", err)
	}
	reconcilerOptions := make([]booking.ReconcilerOption, 0, len(notifiers))
	for _, notifier := range notifiers {
		reconcilerOptions = append(reconcilerOptions, booking.WithNotifier(notifier))
	}
	reconciler, err := booking.NewReconciler(bookingService, reconcilerOptions...)
	if err != nil {
		return fmt.Errorf("reconciler init: %w", err)
	}

	providers, err := paymentProviders(cfg)
	if err != nil {
		return err
	}
	checkout, err := booking.NewCheckout(bookingService, reconciler, providers...)
	if err != nil {
		return fmt.Errorf("checkout init: %w", err)
	}

	ledger, closeLedger, err := openLedger(ctx, cfg, gormDB, clock, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	registry, err := webhookRegistry(cfg)
	if err != nil {
		return err
	}
	webhookHandler, err := webhook.NewHandler(registry, ledger, reconciler, recorder,
		webhook.WithLockTimeout(cfg.LockTimeout),
		webhook.WithStoreTimeout(cfg.StoreTimeout),
		webhook.WithLogger(logger),
		webhook.WithClock(clock),
	)
	if err != nil {
		return fmt.Errorf("webhook handler init: %w", err)
	}

	authenticator, err := httpapi.NewAuthenticator(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTCookieName)
	if err != nil {
		return fmt.Errorf("authenticator init: %w", err)
	}
	router, err := httpapi.NewRouter(httpapi.Dependencies{
		Service:        bookingService,
		Checkout:       checkout,
		Webhook:        webhookHandler.Handle,
		Authenticator:  authenticator,
		Health:         store,
		Gatherer:       prometheus.DefaultGatherer,
		Notifiers:      notifiers,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.StoreTimeout,
	})
	if err != nil {
		return fmt.Errorf("router init: %w", err)
	}

	recorder.SystemLog(ctx, "info", "bookingd", "server starting", map[string]any{
		"ledger":    cfg.LedgerBackend,
		"providers": checkout.Providers(),
		"webhooks":  registry.Names(),
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Run(groupCtx, cfg.ListenAddr, router, logger)
	})
	if cfg.GRPCListenAddr != "" {
		healthServer, err := grpcserver.NewHealthServer(store,
			grpcserver.WithInterval(cfg.HealthInterval),
			grpcserver.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("grpc health init: %w", err)
		}
		group.Go(func() error {
			return grpcserver.Serve(groupCtx, cfg.GRPCListenAddr, healthServer, logger)
		})
	}
	return group.Wait()
}

func paymentProviders(cfg config.Config) ([]booking.PaymentProvider, error) {
	providers := make([]booking.PaymentProvider, 0, 2)
	if cfg.OmiseEnabled() {
		client, err := omise.NewClient(cfg.OmisePublicKey, cfg.OmiseSecretKey)
		if err != nil {
			return nil, fmt.Errorf("omise client init: %w", err)
		}
		provider, err := omise.NewProvider(client,
			omise.WithSourceType(cfg.OmiseSourceType),
			omise.WithTimeout(cfg.GatewayTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("omise provider init: %w", err)
		}
		providers = append(providers, provider)
	}
	return append(providers, booking.ManualProvider{}), nil
}

func webhookRegistry(cfg config.Config) (*webhook.Registry, error) {
	providers := webhook.DefaultProviders()
	for index := range providers {
		switch providers[index].Name {
		case webhook.ProviderRazorpay:
			providers[index].Secret = cfg.RazorpayWebhookSecret
			if cfg.RazorpayAlgorithm != "" {
				providers[index].Algorithm = cfg.RazorpayAlgorithm
			}
		case webhook.ProviderOmise:
			providers[index].Secret = cfg.OmiseWebhookSecret
			if cfg.OmiseAlgorithm != "" {
				providers[index].Algorithm = cfg.OmiseAlgorithm
			}
		}
	}
	registry, err := webhook.NewRegistry(cfg.DefaultWebhookProvider, providers...)
	if err != nil {
		return nil, fmt.Errorf("webhook registry init: %w", err)
	}
	return registry, nil
}

func openLedger(ctx context.Context, cfg config.Config, db *gorm.DB, clock func() time.Time, logger *zap.Logger) (idempotency.Ledger, func(), error) {
	switch cfg.LedgerBackend {
	case config.LedgerMemory:
		ledger := idempotency.NewMemoryLedger(clock,
			idempotency.WithLease(cfg.LedgerLease),
			idempotency.WithRetention(cfg.LedgerRetention),
		)
		sweepCtx, stopSweep := context.WithCancel(ctx)
		go ledger.RunSweeper(sweepCtx, ledgerSweepInterval)
		logger.Warn("memory webhook ledger in use; deduplication is per process")
		return ledger, stopSweep, nil
	case config.LedgerRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.LockTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			// The handler degrades to unlocked processing while redis is down.
			logger.Warn("redis ledger unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		ledger := idempotency.NewRedisLedger(client, clock, cfg.LedgerLease, cfg.LedgerRetention)
		return ledger, func() { _ = client.Close() }, nil
	default:
		return gormstore.NewWebhookLedger(db, clock, cfg.LedgerLease), func() {}, nil
	}
}
