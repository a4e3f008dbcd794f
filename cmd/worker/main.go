package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fusionaura/storefront-orders/internal/config"
	"github.com/fusionaura/storefront-orders/internal/httpx"
	kafkax "github.com/fusionaura/storefront-orders/internal/kafka"
	"github.com/fusionaura/storefront-orders/internal/logging"
	"github.com/fusionaura/storefront-orders/internal/metrics"
	"github.com/fusionaura/storefront-orders/internal/notify"
	"github.com/fusionaura/storefront-orders/internal/orders"
	"github.com/fusionaura/storefront-orders/internal/payments"
	"github.com/fusionaura/storefront-orders/internal/postgres"
	"github.com/fusionaura/storefront-orders/internal/redisx"
	"github.com/fusionaura/storefront-orders/internal/tracing"
)

// The worker applies payment outcomes, sends customer notifications for
// committed status changes and purges old terminal orders.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.ServiceName+"-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.JaegerEndpoint != "" {
		tp, err := tracing.InitTracerProvider(cfg.ServiceName+"-worker", cfg.JaegerEndpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("init tracing")
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(sctx)
		}()
	}

	// DB
	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		DSN:      cfg.PostgresDSN,
		MaxConns: cfg.PostgresMaxCon,
		MinConns: cfg.PostgresMinCon,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	statusCache := redisx.NewStatusCache(rdb)

	// Payment confirmations move orders out of AWAITING_PAYMENT, which is
	// itself a status change to publish.
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024, log)
	prod.Start(context.WithoutCancel(ctx))

	reg := prometheus.NewRegistry()
	store := postgres.NewStore(pool)
	engine, err := orders.NewEngine(orders.EngineDeps{
		Store:       store,
		Notifier:    notify.Fanout{notify.NewDispatcher(prod, cfg.ServiceName+"-worker"), statusCache},
		Metrics:     metrics.New(reg),
		Logger:      &log,
		Payment:     cfg.Payment,
		MaxAttempts: cfg.Orders.MaxTxAttempts,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("order engine")
	}

	workers := cfg.Orders.ConsumerWorkers
	paymentsIn := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Payment.ConsumerGroup, cfg.Payment.OutcomeTopic, workers, log)
	statusIn := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Orders.NotifyGroup, orders.TopicOrderStatusChanged, workers, log)

	paymentHandler := payments.NewHandler(engine, redisx.NewDedup(rdb, cfg.Payment.ConsumerGroup), statusCache)
	notifyHandler := notify.NewHandler(notify.LogMailer{}, redisx.NewDedup(rdb, cfg.Orders.NotifyGroup))

	srv := &http.Server{
		Addr:              cfg.WorkerHTTPAddr,
		Handler:           httpx.NewRouter(httpx.RouterDeps{Logger: log, Gatherer: reg, Health: store.Ping}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		log.Info().Str("topic", cfg.Payment.OutcomeTopic).Int("workers", workers).Msg("payment consumer started")
		return paymentsIn.Start(gctx, paymentHandler.Handle)
	})
	g.Go(func() error {
		log.Info().Str("topic", orders.TopicOrderStatusChanged).Int("workers", workers).Msg("notification consumer started")
		return statusIn.Start(gctx, notifyHandler.Handle)
	})
	g.Go(func() error {
		purgeLoop(gctx, log, engine, cfg.Orders.CleanupInterval, cfg.Orders.CleanupAfter)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped")
	}
	log.Info().Msg("shutting down worker")
	engine.Close()
	prod.Close()
	prod.WaitClosed()
}

// purgeLoop hard-deletes terminal orders older than retention every interval.
func purgeLoop(ctx context.Context, log zerolog.Logger, engine *orders.Engine, interval, retention time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := engine.PurgeTerminalOrders(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Error().Err(err).Msg("purge terminal orders")
				continue
			}
			log.Debug().Int("purged", n).Msg("purge run finished")
		}
	}
}
