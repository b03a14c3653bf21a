package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"slothive/config"
	"slothive/internal/hivelink"
	"slothive/internal/hunter"
	"slothive/internal/logging"
	"slothive/internal/protocol"
	"slothive/internal/scout"
	"slothive/internal/session"
	"slothive/internal/slot"
	"slothive/internal/sniper"
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
	log.Infow("configuration loaded", "path", configPath, "name", cfg.Hunter.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := session.NewStore()
	watcher := session.NewFileWatcher(cfg.Scout.SessionFile, sessions)
	if err := watcher.Load(); err != nil {
		log.Warnw("no session loaded yet, waiting for file", "path", cfg.Scout.SessionFile, "err", err)
	}
	go watcher.Watch(ctx, cfg.Scout.SessionWatch)

	link := hivelink.NewLink(cfg.Hunter)
	link.On(protocol.TypeServerShutdown, func(env protocol.Envelope) {
		log.Warnw("hive is shutting down, link will retry")
	})

	// The scout's find callback closes over the hunter, which is built after
	// the scout because it owns both ends.
	var h *hunter.Hunter
	sc := scout.New(cfg.Scout, sessions, watcher, func(param string, slots []slot.Descriptor) {
		h.OnSlotsFound(param, slots)
	})
	sn := sniper.New(cfg.Sniper, sessions, nil)
	h = hunter.New(cfg.Hunter, cfg.Sniper, sc, sn, link, watcher)

	link.SetStatsSource(h.StatsDelta)
	link.SetStatusSource(h.Status)

	go h.Run(ctx)
	go func() {
		if err := link.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("hive link: %v", err)
		}
	}()

	if cfg.Scout.Param != "" {
		h.StartHunt(ctx, cfg.Scout.Param)
	} else {
		log.Infow("no hunt parameter configured, waiting for START_HUNT")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Infow("shutdown signal received")

	h.StopHunt()
	cancel()
	log.Infow("hunter stopped")
}
