package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-queue/internal/config"
	kafkax "github.com/ariefcatur/go-storefront-queue/internal/kafka"
	"github.com/ariefcatur/go-storefront-queue/internal/logging"
	"github.com/ariefcatur/go-storefront-queue/internal/notify"
	"github.com/ariefcatur/go-storefront-queue/internal/orders"
	"github.com/ariefcatur/go-storefront-queue/internal/postgres"
	"github.com/ariefcatur/go-storefront-queue/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log, err := logging.New(cfg.Env, cfg.LogLevel, cfg.ServiceName+"-notifier")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB (store contacts)
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis (dedup)
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notify.Service{
		Contacts: &orders.CatalogRepo{DB: db},
		Sender:   notify.LogSender{Log: log.Named("whatsapp")},
		Dedup:    &redisx.Dedup{RDB: rdb, Service: "notifier"},
		Log:      log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, notify.Topics, cfg.NotifierWorkers, log.Named("consumer"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("notifier consumer started",
			zap.String("group", cfg.NotifierGroup), zap.Strings("topics", notify.Topics), zap.Int("workers", cfg.NotifierWorkers))
		if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done
}
