package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"boxoffice/internal/expiry"
	expirymetrics "boxoffice/internal/expiry/metrics"
	invcache "boxoffice/internal/inventory/cache"
	invhandler "boxoffice/internal/inventory/handler"
	invmetrics "boxoffice/internal/inventory/metrics"
	invservice "boxoffice/internal/inventory/service"
	invstore "boxoffice/internal/inventory/store"
	ordstore "boxoffice/internal/orders/store"
	"boxoffice/internal/payment/callback"
	payhandler "boxoffice/internal/payment/handler"
	paymetrics "boxoffice/internal/payment/metrics"
	"boxoffice/internal/platform/config"
	"boxoffice/internal/platform/httpserver"
	"boxoffice/internal/platform/kafka"
	"boxoffice/internal/platform/logger"
	"boxoffice/internal/platform/metrics"
	"boxoffice/internal/platform/postgres"
	"boxoffice/internal/platform/redis"
	rlmetrics "boxoffice/internal/ratelimit/metrics"
	ratelimit "boxoffice/internal/ratelimit/middleware"
	rlstore "boxoffice/internal/ratelimit/store"
	recmetrics "boxoffice/internal/reconciliation/metrics"
	reconciliation "boxoffice/internal/reconciliation/service"
	resvhandler "boxoffice/internal/reservation/handler"
	resvmetrics "boxoffice/internal/reservation/metrics"
	reservation "boxoffice/internal/reservation/service"
	"boxoffice/internal/storage"
	httptransport "boxoffice/internal/transport/http"
	audit "boxoffice/pkg/platform/audit"
	"boxoffice/pkg/platform/audit/publishers/compliance"
	"boxoffice/pkg/platform/audit/publishers/security"
	auditmemory "boxoffice/pkg/platform/audit/store/memory"
	auditpg "boxoffice/pkg/platform/audit/store/postgres"
	"boxoffice/pkg/platform/audit/worker"
	"boxoffice/pkg/platform/middleware/admin"
)

const shutdownTimeout = 10 * time.Second

// infra holds the backends chosen by configuration. Postgres and Redis are
// optional: without them the process runs on in-memory stores, which is
// enough for local development and demos.
type infra struct {
	db         *sql.DB
	redis      *redis.Client
	tx         storage.TxRunner
	inventory  storage.InventoryStore
	ledger     storage.Ledger
	auditStore audit.Store
	outbox     *auditpg.Store
	checks     map[string]httptransport.HealthCheck
}

func (i *infra) close() {
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

// main wires dependencies, serves HTTP and runs the background loops until a
// termination signal arrives.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("boxoffice stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := buildInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.close()

	compliancePublisher := compliance.New(backends.auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics()),
	)
	securityPublisher := security.New(backends.auditStore, security.WithLogger(log))
	defer func() {
		_ = securityPublisher.Close()
	}()

	inventoryOpts := []invservice.Option{
		invservice.WithLogger(log),
		invservice.WithMetrics(invmetrics.New()),
	}
	if backends.redis != nil {
		inventoryOpts = append(inventoryOpts,
			invservice.WithCache(invcache.NewRedisCache(backends.redis.Client, cfg.Redis.CacheTTL)))
	}
	inventoryService := invservice.New(backends.tx, backends.inventory, inventoryOpts...)

	reservationService := reservation.New(backends.tx, backends.ledger,
		reservation.WithLogger(log),
		reservation.WithMetrics(resvmetrics.New()),
		reservation.WithAuditPublisher(compliancePublisher),
		reservation.WithInvalidator(inventoryService),
		reservation.WithDefaultMaxPerOrder(cfg.Reservation.MaxPerOrder),
		reservation.WithReservationTimeout(cfg.Reservation.Timeout),
	)

	reconciler := reconciliation.New(backends.tx,
		reconciliation.WithLogger(log),
		reconciliation.WithMetrics(recmetrics.New()),
		reconciliation.WithAuditPublisher(compliancePublisher),
		reconciliation.WithDeadLetter(compliancePublisher),
		reconciliation.WithInvalidator(inventoryService),
	)

	paymentMetrics := paymetrics.New()
	gateway, err := callback.New(callback.Config{
		Secret:           cfg.Payment.CallbackSecret,
		Allowlist:        cfg.Payment.Allowlist,
		EnforceAllowlist: cfg.IsProduction(),
	},
		callback.WithLogger(log),
		callback.WithMetrics(paymentMetrics),
		callback.WithSecurityPublisher(securityPublisher),
	)
	if err != nil {
		return fmt.Errorf("configure payment callback gateway: %w", err)
	}

	sweeper := expiry.New(backends.tx, backends.ledger,
		expiry.WithLogger(log),
		expiry.WithMetrics(expirymetrics.New()),
		expiry.WithAuditPublisher(compliancePublisher),
		expiry.WithInvalidator(inventoryService),
		expiry.WithBatchSize(cfg.Reservation.SweepBatchSize),
		expiry.WithTimeout(cfg.Reservation.Timeout),
	)

	g, gctx := errgroup.WithContext(ctx)

	var limiter ratelimit.Limiter
	if backends.redis != nil {
		limiter = rlstore.NewRedis(backends.redis.Client)
	} else {
		memLimiter := rlstore.NewInMemory()
		limiter = memLimiter
		g.Go(func() error {
			return ignoreCancel(memLimiter.StartCleanup(gctx, cfg.RateLimit.CleanupInterval))
		})
	}
	reserveLimit := ratelimit.New(limiter, cfg.RateLimit.ReservationsPerWindow, cfg.RateLimit.Window, log,
		ratelimit.WithMetrics(rlmetrics.New()),
	)

	router := httptransport.NewRouter(httptransport.Config{
		Logger:           log,
		Metrics:          metrics.New(),
		TrustedProxyHops: cfg.TrustedProxyHops(),
		Checks:           backends.checks,
	},
		resvhandler.New(reservationService, log, reserveLimit.PerClient("reserve")),
		invhandler.New(inventoryService, log, admin.RequireAdminToken(cfg.AdminToken, log)),
		payhandler.New(gateway, reconciler, log, paymentMetrics),
	)
	srv := httpserver.New(cfg.Addr, router, log)

	g.Go(func() error {
		log.Info("starting boxoffice", "addr", cfg.Addr, "environment", cfg.Environment)
		defer log.Info("http server stopped")
		return httpserver.Serve(gctx, srv, shutdownTimeout)
	})
	g.Go(func() error {
		return ignoreCancel(sweeper.Run(gctx, cfg.Reservation.SweepInterval))
	})
	if err := startRelay(gctx, g, cfg, log, backends); err != nil {
		return err
	}
	return g.Wait()
}

// buildInfra picks postgres or in-memory persistence and connects the
// optional Redis cache.
func buildInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	b := &infra{checks: map[string]httptransport.HealthCheck{}}

	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		inv := invstore.NewInMemory()
		ledger := ordstore.NewInMemory()
		auditStore := auditmemory.NewInMemoryStore()
		b.inventory, b.ledger, b.auditStore = inv, ledger, auditStore
		b.tx = storage.NewMemoryTx(storage.Stores{Inventory: inv, Ledger: ledger}, inv, ledger, auditStore)
	} else {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.Database.MigrateOnStart {
			if err := postgres.Migrate(db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		inv := invstore.NewPostgres(db)
		ledger := ordstore.NewPostgres(db)
		b.db = db
		b.inventory, b.ledger = inv, ledger
		b.outbox = auditpg.New(db)
		b.auditStore = b.outbox
		b.tx = storage.NewPostgresTx(db, storage.Stores{Inventory: inv, Ledger: ledger}, cfg.Reservation.TxTimeout)
		b.checks["postgres"] = db.PingContext
	}

	client, err := redis.New(ctx, cfg.Redis)
	switch {
	case errors.Is(err, redis.ErrDisabled):
	case err != nil:
		// The cache is an optimisation; availability falls back to the store.
		log.Warn("redis unavailable, availability cache disabled", "error", err)
	default:
		b.redis = client
		b.checks["redis"] = client.Health
	}
	return b, nil
}

// startRelay publishes the postgres outbox to Kafka when both are configured.
func startRelay(ctx context.Context, g *errgroup.Group, cfg config.Server, log *slog.Logger, b *infra) error {
	if b.outbox == nil {
		return nil
	}
	client, err := kafka.NewClient(cfg.Kafka)
	if err != nil {
		return err
	}
	if client == nil {
		log.Warn("KAFKA_BROKERS not set, audit outbox will not be relayed")
		return nil
	}
	if err := kafka.EnsureTopics(ctx, client, audit.Topics(cfg.Kafka.TopicPrefix)...); err != nil {
		client.Close()
		return err
	}
	relay := worker.NewRelay(b.outbox, client,
		worker.WithInterval(cfg.Kafka.RelayInterval),
		worker.WithBatchSize(cfg.Kafka.RelayBatch),
		worker.WithTopicPrefix(cfg.Kafka.TopicPrefix),
		worker.WithLogger(log),
	)
	g.Go(func() error {
		defer client.Close()
		return ignoreCancel(relay.Run(ctx))
	})
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
