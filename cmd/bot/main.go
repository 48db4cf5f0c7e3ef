package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg_lottery_bot/internal/config"
	"tg_lottery_bot/internal/domain"
	"tg_lottery_bot/internal/feature/command"
	"tg_lottery_bot/internal/feature/user"
	"tg_lottery_bot/internal/health"
	"tg_lottery_bot/internal/locale"
	"tg_lottery_bot/internal/logging"
	"tg_lottery_bot/internal/notify"
	"tg_lottery_bot/internal/ratelimit"
	"tg_lottery_bot/internal/scheduler"
	"tg_lottery_bot/internal/store"
	"tg_lottery_bot/internal/telegram"
)

const (
	databaseConnectTimeout   = 10 * time.Second
	databaseSchemaTimeout    = 10 * time.Second
	databaseCloseTimeout     = 5 * time.Second
	redisPingTimeout         = 3 * time.Second
	telegramSetupTimeout     = 15 * time.Second
	telegramShutdownTimeout  = 10 * time.Second
	schedulerShutdownTimeout = 10 * time.Second
	healthShutdownTimeout    = 5 * time.Second
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
		"event":             "startup",
		"lottery_interval":  cfg.LotteryCheckInterval.String(),
		"balance_interval":  cfg.BalanceCheckInterval.String(),
		"rate_limit_active": cfg.RedisURL != "",
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), databaseConnectTimeout)
	dbManager, err := store.NewManager(connectCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.WithError(err).Error("database connection error")
		fmt.Fprintf(os.Stderr, "database connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "database_connect").Info("connected to database")

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), databaseSchemaTimeout)
	if err := dbManager.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		logger.WithError(err).Error("database schema error")
		fmt.Fprintf(os.Stderr, "database schema error: %v\n", err)
		os.Exit(1)
	}
	cancelSchema()

	catalog, err := locale.New()
	if err != nil {
		logger.WithError(err).Error("locale catalog error")
		fmt.Fprintf(os.Stderr, "locale catalog error: %v\n", err)
		os.Exit(1)
	}

	var limiter *ratelimit.Limiter
	if cfg.RedisURL != "" {
		limiter, err = ratelimit.New(cfg.RedisURL, cfg.RateLimitPerMinute)
		if err != nil {
			logger.WithError(err).Error("rate limiter setup error")
			fmt.Fprintf(os.Stderr, "rate limiter setup error: %v\n", err)
			os.Exit(1)
		}

		pingCtx, cancelPing := context.WithTimeout(context.Background(), redisPingTimeout)
		if err := limiter.Ping(pingCtx); err != nil {
			logger.WithField("event", "redis_unavailable").WithError(err).Warn("redis unreachable, rate limiting fails open until it recovers")
		}
		cancelPing()
	}

	facade := store.NewFacade(dbManager.DB(), logger)
	userRegistrar := user.NewRegistrar(facade, catalog, logger)
	dispatcher := command.NewDispatcher(facade, userRegistrar, catalog, cfg.WebAppURL, logger)
	statsProvider := store.NewStatsProvider(domain.NewUserRepository(dbManager.DB()), cfg.LowBalanceThreshold)

	tgClient, err := telegram.NewClient(cfg, dispatcher, limiter, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), telegramSetupTimeout)
	if err := tgClient.Setup(setupCtx, catalog.Supported()); err != nil {
		cancelSetup()
		logger.WithError(err).Error("telegram setup error")
		fmt.Fprintf(os.Stderr, "telegram setup error: %v\n", err)
		os.Exit(1)
	}
	cancelSetup()

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	notifier := notify.New(facade, tgClient, catalog, notify.Options{
		WinnerLookback:      cfg.WinnerLookback,
		LowBalanceThreshold: cfg.LowBalanceThreshold,
	}, logger)
	jobs := scheduler.New(logger)

	healthServer := health.NewServer(cfg.HTTPPort, dbManager, statsProvider, logger)
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

	err = jobs.Start(context.Background(),
		scheduler.Task{
			Name:     "lottery_check",
			Interval: cfg.LotteryCheckInterval,
			Run: func(ctx context.Context) error {
				_, err := notifier.NotifyLotteryWinners(ctx)
				return err
			},
		},
		scheduler.Task{
			Name:     "balance_check",
			Interval: cfg.BalanceCheckInterval,
			Run: func(ctx context.Context) error {
				_, err := notifier.NotifyLowBalanceUsers(ctx)
				return err
			},
		},
	)
	if err != nil {
		cancelTelegram()
		logger.WithError(err).Error("scheduler start error")
		fmt.Fprintf(os.Stderr, "scheduler start error: %v\n", err)
		os.Exit(1)
	}

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping bot")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), schedulerShutdownTimeout)
	if err := jobs.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("scheduler shutdown error")
	}
	cancelStop()

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown error")
	}
	cancelHealth()

	if err := limiter.Close(); err != nil {
		logger.WithError(err).Warn("redis close error")
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), databaseCloseTimeout)
	if err := dbManager.Close(closeCtx); err != nil {
		logger.WithError(err).Error("database close error")
	} else {
		logger.WithField("event", "database_disconnect").Info("database connection closed")
	}
	cancelClose()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
