package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinsentry/internal/ai"
	"coinsentry/internal/analyzer"
	"coinsentry/internal/config"
	"coinsentry/internal/engine"
	"coinsentry/internal/exchange"
	"coinsentry/internal/logger"
	"coinsentry/internal/news"
	"coinsentry/internal/storage"
	"coinsentry/internal/telegram"
	"coinsentry/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/coinsentry.db", "path to SQLite database")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Init logger
	log := logger.New(cfg.Logging.Level)
	log.Info("starting coinsentry")

	// Init database
	db, err := storage.NewDatabase(*dbPath)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	// Context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init exchange client and price feed
	client := exchange.NewClient(cfg, log)
	var markets []string
	for _, s := range cfg.Strategies {
		markets = append(markets, s.Markets...)
	}
	feed := exchange.NewPriceFeed(cfg, markets, client, log)

	// Init services
	an := analyzer.New(client, log)
	notifier := telegram.NewNotifier(cfg, log)

	var filter engine.Filter
	var newsFeed engine.NewsSource
	if cfg.Filter.Enabled {
		filter = ai.NewFilterClient(cfg, log)
		newsFeed = news.NewClient(log)
	}

	eng, err := engine.New(cfg, repo, client, feed, an, filter, newsFeed, notifier, log)
	if err != nil {
		log.Error("engine init failed", "error", err)
		os.Exit(1)
	}

	// Restore in-flight positions before accepting signals
	if err := eng.Recover(ctx); err != nil {
		log.Error("recovery failed", "error", err)
		os.Exit(1)
	}

	webServer := web.NewServer(eng, repo, cfg, log)

	go feed.Run(ctx)

	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			log.Error("engine error", "error", err)
		}
	}()

	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("web server error", "error", err)
		}
	}()

	notifier.Notify("🤖 coinsentry started", fmt.Sprintf("watching %d market(s)", len(markets)))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", "signal", sig.String())

	// Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error("web server shutdown error", "error", err)
	}

	notifier.Notify("🛑 coinsentry stopped", "")
	log.Info("coinsentry stopped")
}
