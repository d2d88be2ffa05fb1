package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/reconcile"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/stock"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger, err := observability.NewLogger(cfg.ServiceName + "-reconciler")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start(ctx)

	provider, err := payments.NewStripeProvider(cfg.StripeAPIKey, logger)
	if err != nil {
		logger.Fatal("payment provider", zap.Error(err))
	}
	intents := &payments.Repo{DB: db}
	rec := reconcile.New(reconcile.Deps{
		Intents:   intents,
		Provider:  provider,
		Orders:    &orders.Repo{DB: db},
		Ledger:    stock.NewLedger(&stock.Repo{DB: db}, logger),
		Publisher: kafkax.EventPublisher{P: prod},
		Cache:     redisx.NewStatusCache(rdb),
		Service:   cfg.ServiceName + "-reconciler",
		Logger:    logger,
	})

	poller := reconcile.NewPoller(rec, intents, reconcile.PollConfig{
		Initial:     cfg.PollInitial,
		MaxInterval: cfg.PollMaxInterval,
		MaxAttempts: cfg.PollMaxAttempts,
		MaxWait:     cfg.PollMaxWait,
	}, logger)
	watcher := reconcile.NewWatcher(poller, redisx.NewDedup(rdb), logger)
	sweeper := reconcile.NewSweeper(rec, intents, cfg.AbandonAfter, cfg.SweepInterval, logger)

	group := getenv("RECONCILER_GROUP", "payment-reconciler")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicPaymentCreated, cfg.PollWorkers, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		logger.Info("payment watcher started",
			zap.String("group", group),
			zap.String("topic", orders.TopicPaymentCreated),
			zap.Int("workers", cfg.PollWorkers))
		if err := cons.Start(ctx, watcher.HandlePaymentCreated); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down reconciler")
	prod.Close()
	cancel()
	wg.Wait()
	prod.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
