package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"copier-core/internal/activity"
	"copier-core/internal/api"
	"copier-core/internal/discovery"
	"copier-core/internal/engine"
	"copier-core/internal/events"
	"copier-core/internal/monitor"
	"copier-core/internal/registry"
	"copier-core/pkg/config"
	"copier-core/pkg/db"
	"copier-core/pkg/i18n"
	"copier-core/pkg/identity"
	"copier-core/pkg/logging"
)

var buildVersion = "dev"

func fatal(logger *slog.Logger, key string, err error) {
	logger.Error(fmt.Sprintf(i18n.Get(key), err))
	os.Exit(1)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, i18n.Get("ConfigLoadFailed")+"\n", err)
		os.Exit(1)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))

	logger, closer, err := logging.New(logging.Options{
		Level: logging.ParseLevel(cfg.LogLevel),
		File:  cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, i18n.Get("ConfigLoadFailed")+"\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	owner, err := identity.OwnerKey(cfg.OwnerKey)
	if err != nil {
		fatal(logger, "OwnerKeyFailed", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		issueToken(logger, cfg, owner, os.Args[2:])
		return
	}

	logger.Info("🚀 " + i18n.Get("Starting"))
	logger.Info(fmt.Sprintf(i18n.Get("ConfigLoaded"), cfg.Port))
	logger.Info(fmt.Sprintf(i18n.Get("UsingDBPath"), cfg.DBPath))
	logger.Info(fmt.Sprintf(i18n.Get("OwnerResolved"), shortKey(owner)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		fatal(logger, "DBInitFailed", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		fatal(logger, "DBMigrationsFailed", err)
	}

	bus := events.NewBus()
	sysMetrics := monitor.NewSystemMetrics()
	activityCfg := activity.Config{
		PendingTimeout:       cfg.PendingTimeout,
		AccountTimeout:       cfg.AccountTimeout,
		PendingMaxAge:        cfg.PendingMaxAge,
		ConfiguredEvictAfter: cfg.ConfiguredEvictAfter,
	}

	// In-memory registry seeded from DB
	store := registry.NewSQLStore(database).ObserveLatency(sysMetrics.DBLatency.RecordDuration)
	reg, err := registry.New(registry.Options{
		Owner:    owner,
		Store:    store,
		Bus:      bus,
		Logger:   logger,
		Activity: activityCfg,
	})
	if err != nil {
		fatal(logger, "StateLoadFailed", err)
	}
	if err := reg.Load(ctx); err != nil {
		fatal(logger, "StateLoadFailed", err)
	}

	discoveryCfg := discovery.DefaultConfig()
	if cfg.DiscoveryConfig != "" {
		if discoveryCfg, err = discovery.LoadConfig(cfg.DiscoveryConfig); err != nil {
			fatal(logger, "DiscoveryFailed", err)
		}
	}
	scanner, err := discovery.NewScanner(discoveryCfg, discovery.NewDBStore(database), logger)
	if err != nil {
		fatal(logger, "DiscoveryFailed", err)
	}

	engService, err := engine.NewImpl(engine.Config{
		Registry: reg,
		Scanner:  scanner,
		Bus:      bus,
		Metrics:  sysMetrics,
		Activity: activityCfg,
		Intervals: engine.Intervals{
			Ingest:       cfg.IngestInterval,
			Evaluate:     cfg.EvaluateInterval,
			Heartbeat:    cfg.HeartbeatInterval,
			WriteTimeout: cfg.WriteTimeout,
		},
		Logger:  logger,
		Version: buildVersion,
	})
	if err != nil {
		fatal(logger, "EngineInitFailed", err)
	}
	logger.Info(i18n.Get("EngineServiceInit"))

	engineDone := make(chan error, 1)
	go func() { engineDone <- engService.Run(ctx) }()

	// API
	server := api.NewServer(api.Options{
		Engine:    engService,
		Metrics:   sysMetrics,
		Owner:     owner,
		JWTSecret: cfg.JWTSecret,
		Logger:    logger,
	})
	httpServer := server.HTTPServer(":" + cfg.Port)
	go func() {
		logger.Info(fmt.Sprintf(i18n.Get("ServerListening"), cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(fmt.Sprintf(i18n.Get("APIServerError"), err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 " + i18n.Get("ShuttingDown"))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", slog.Any("error", err))
	}
	if err := <-engineDone; err != nil {
		logger.Warn("Engine stopped with error", slog.Any("error", err))
	}
	logger.Info(i18n.Get("ShutdownComplete"))
}

// issueToken prints a bearer token for the local owner. The optional
// argument is its lifetime as a Go duration, 30 days by default.
func issueToken(logger *slog.Logger, cfg *config.Config, owner string, args []string) {
	ttl := 30 * 24 * time.Hour
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil || d <= 0 {
			fatal(logger, "ConfigLoadFailed", fmt.Errorf("invalid token lifetime %q", args[0]))
		}
		ttl = d
	}
	token, err := identity.IssueToken(cfg.JWTSecret, owner, ttl)
	if err != nil {
		fatal(logger, "ConfigLoadFailed", err)
	}
	logger.Info(fmt.Sprintf(i18n.Get("TokenIssued"), shortKey(owner), ttl))
	fmt.Println(token)
}

func shortKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "…"
}
