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
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/checkout"
	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/reconcile"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
	"github.com/ariefcatur/go-order-fulfillment/internal/stock"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := observability.NewLogger(cfg.ServiceName)
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
	if err := postgres.Migrate(db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, one for every topic
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start(ctx)
	pub := kafkax.EventPublisher{P: prod}

	// Shipping
	carrier := shipping.NewCorreiosCarrier(cfg.CarrierBaseURL, cfg.CarrierToken, nil)
	rates := shipping.NewRateClient(carrier, shipping.Config{
		Timeout:     cfg.CarrierTimeout,
		QuoteTTL:    cfg.QuoteTTL,
		EstimateTTL: cfg.EstimateTTL,
	}, logger)
	quotes := shipping.NewQuoteCache(redisx.NewQuoteStore(rdb), rates, cfg.OriginCEP, logger)

	// Payments
	provider, err := payments.NewStripeProvider(cfg.StripeAPIKey, logger)
	if err != nil {
		logger.Fatal("payment provider", zap.Error(err))
	}
	intents := &payments.Repo{DB: db}
	gateway := payments.NewGateway(provider, intents, redisx.NewLocker(rdb), payments.GatewayConfig{
		Window:        cfg.IdempotencyWindow,
		CreateTimeout: 10 * time.Second,
	}, logger)

	// Orders, stock, reconciliation
	repo := &orders.Repo{DB: db}
	statusCache := redisx.NewStatusCache(rdb)
	rec := reconcile.New(reconcile.Deps{
		Intents:   intents,
		Provider:  provider,
		Orders:    repo,
		Ledger:    stock.NewLedger(&stock.Repo{DB: db}, logger),
		Publisher: pub,
		Cache:     statusCache,
		Service:   cfg.ServiceName,
		Logger:    logger,
	})
	svc := checkout.NewService(repo, repo, quotes, gateway, pub, checkout.Config{
		Currency: cfg.Currency,
		Service:  cfg.ServiceName,
	}, logger)

	router := httpx.NewRouter(logger)
	(&httpx.ShippingHandler{Quoter: rates, OriginCEP: cfg.OriginCEP, Log: logger}).Register(router)
	(&httpx.CheckoutHandler{
		Service: svc,
		Timeout: rates.CallTimeout() + gateway.MaxCreateDuration() + 5*time.Second,
	}).Register(router)
	(&httpx.PaymentsHandler{
		Reconciler:    rec,
		JWTSecret:     []byte(cfg.JWTSecret),
		WebhookSecret: []byte(cfg.WebhookSecret),
		Log:           logger,
	}).Register(router)
	(&httpx.OrdersHandler{Repo: repo, Intents: intents, Cache: statusCache, Log: logger}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // stop accepting, flush what is queued
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
