package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fusionaura/storefront-orders/internal/config"
	"github.com/fusionaura/storefront-orders/internal/httpx"
	"github.com/fusionaura/storefront-orders/internal/inventory"
	kafkax "github.com/fusionaura/storefront-orders/internal/kafka"
	"github.com/fusionaura/storefront-orders/internal/logging"
	"github.com/fusionaura/storefront-orders/internal/metrics"
	"github.com/fusionaura/storefront-orders/internal/notify"
	"github.com/fusionaura/storefront-orders/internal/orders"
	"github.com/fusionaura/storefront-orders/internal/postgres"
	"github.com/fusionaura/storefront-orders/internal/redisx"
	"github.com/fusionaura/storefront-orders/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.ServiceName)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.JaegerEndpoint != "" {
		tp, err := tracing.InitTracerProvider(cfg.ServiceName, cfg.JaegerEndpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("init tracing")
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
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
	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	store := postgres.NewStore(pool)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	statusCache := redisx.NewStatusCache(rdb)

	// Kafka producer for committed status changes
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024, log)
	prod.Start(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine, err := orders.NewEngine(orders.EngineDeps{
		Store:       store,
		Notifier:    notify.Fanout{notify.NewDispatcher(prod, cfg.ServiceName), statusCache},
		Metrics:     m,
		Logger:      &log,
		Payment:     cfg.Payment,
		MaxAttempts: cfg.Orders.MaxTxAttempts,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("order engine")
	}
	stock, err := inventory.NewService(postgres.NewInventoryRepo(pool))
	if err != nil {
		log.Fatal().Err(err).Msg("inventory service")
	}

	router := httpx.NewRouter(httpx.RouterDeps{
		Logger:   log,
		Gatherer: reg,
		Health: func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	},
		&httpx.OrdersHandler{Orders: engine, Idempotency: redisx.NewIdempotency(rdb), Status: statusCache},
		&httpx.AdminHandler{Orders: engine, Status: statusCache},
		&httpx.InventoryHandler{Stock: stock},
	)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	engine.Close()
	prod.Close()
	prod.WaitClosed()
	cancel()
}
