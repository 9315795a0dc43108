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

	"github.com/ariefcatur/go-storefront-queue/internal/config"
	"github.com/ariefcatur/go-storefront-queue/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-queue/internal/kafka"
	"github.com/ariefcatur/go-storefront-queue/internal/logging"
	"github.com/ariefcatur/go-storefront-queue/internal/orders"
	"github.com/ariefcatur/go-storefront-queue/internal/postgres"
	"github.com/ariefcatur/go-storefront-queue/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logging.New(cfg.Env, cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db migrate", zap.Error(err))
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log.Named("producer"))
	prod.Start(ctx)

	catalog := &orders.CatalogRepo{DB: db}
	svc := &orders.Service{
		Repo:         &orders.Repo{DB: db},
		Catalog:      catalog,
		Stores:       catalog,
		Events:       &kafkax.OrderEvents{Writer: prod},
		MetricsCache: &redisx.MetricsCache{RDB: rdb, TTL: cfg.MetricsTTL, Log: log},
		Log:          log.Named("orders"),
		ServiceName:  cfg.ServiceName,
		Currency:     cfg.Currency,
	}

	router := httpx.NewRouter(log.Named("http"), 15*time.Second)
	oh := &httpx.OrdersHandler{
		Service:  svc,
		Redis:    rdb,
		Validate: httpx.NewValidator(),
		Log:      log.Named("http"),
		Timeout:  cfg.RequestTimeout,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // stop accepting, flush and close the writer
	prod.WaitClosed() // drain
}
