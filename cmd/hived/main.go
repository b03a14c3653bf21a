package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"slothive/config"
	"slothive/internal/api"
	"slothive/internal/db"
	"slothive/internal/hive"
	"slothive/internal/logging"
	"slothive/internal/notification"
	"slothive/internal/store"
)

func main() {
	logging.Init()
	log := logging.L()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	log.Infow("configuration loaded", "path", configPath)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	appStore := store.NewGormStore(gormDB)
	log.Infow("archive store initialized", "driver", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Notification channels are optional; unconfigured ones are left out.
	var senders []notification.Sender
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		senders = append(senders, notification.NewWebPushSender(appStore, &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}))
	}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		senders = append(senders, notification.NewTelegramSender(cfg.Telegram))
	}
	notifier := notification.NewWorkerPool(cfg.WorkerPool.Size, senders...)
	notifier.Start(ctx)
	log.Infow("notification pool started", "workers", cfg.WorkerPool.Size, "senders", len(senders))

	hub := hive.NewHub(cfg.Server, appStore, notifier)
	go hub.Run(ctx)

	router := api.NewRouter(cfg.Server, hub, appStore, notifier, cfg.Push.PublicKey)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Infow("hive server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Infow("shutdown signal received")

	// Tell the fleet first, then drain the HTTP server.
	hub.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP server shutdown: %v", err)
	}
	log.Infow("hive stopped")
}
