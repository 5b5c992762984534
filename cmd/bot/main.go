package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg_member_bot/internal/config"
	"tg_member_bot/internal/health"
	"tg_member_bot/internal/logging"
	"tg_member_bot/internal/notion"
	"tg_member_bot/internal/payment"
	"tg_member_bot/internal/subscription"
	"tg_member_bot/internal/telegram"
)

const (
	storePingTimeout        = 10 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	healthShutdownTimeout   = 5 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":     "startup",
		"cache_ttl": cfg.CacheTTLSeconds,
	}).Info("configuration loaded")

	storeClient, err := notion.NewClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("record store client setup error")
		fmt.Fprintf(os.Stderr, "record store client setup error: %v\n", err)
		os.Exit(1)
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), storePingTimeout)
	if err := storeClient.Ping(pingCtx); err != nil {
		// An unreachable store at boot is survivable: handlers degrade to
		// retry-shortly messages and the health endpoint reports it.
		logger.WithError(err).Warn("record store ping failed at startup")
	} else {
		logger.WithField("event", "store_ready").Info("record store reachable")
	}
	cancelPing()

	resolver, err := subscription.NewResolver(storeClient, time.Duration(cfg.CacheTTLSeconds)*time.Second, logger)
	if err != nil {
		logger.WithError(err).Error("resolver setup error")
		fmt.Fprintf(os.Stderr, "resolver setup error: %v\n", err)
		os.Exit(1)
	}

	linkBuilder := payment.NewBuilder(cfg)

	opts := []telegram.Option{
		telegram.WithResolver(resolver),
		telegram.WithLinkBuilder(linkBuilder),
	}
	if cfg.CreateLead {
		opts = append(opts, telegram.WithLeadRecorder(storeClient))
	}

	tgClient, err := telegram.NewClient(cfg, logger, opts...)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	healthServer := health.NewServer(cfg.HTTPPort, storeClient, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
