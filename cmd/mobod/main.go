package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/ai"
	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	authsvc "github.com/chetanchaudhari789/MOBO-sub004/auth"
	"github.com/chetanchaudhari789/MOBO-sub004/campaign"
	"github.com/chetanchaudhari789/MOBO-sub004/config"
	"github.com/chetanchaudhari789/MOBO-sub004/invite"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
	"github.com/chetanchaudhari789/MOBO-sub004/observability"
	"github.com/chetanchaudhari789/MOBO-sub004/order"
	"github.com/chetanchaudhari789/MOBO-sub004/realtime"
	"github.com/chetanchaudhari789/MOBO-sub004/seed"
	"github.com/chetanchaudhari789/MOBO-sub004/server"
	"github.com/chetanchaudhari789/MOBO-sub004/settlement"
	"github.com/chetanchaudhari789/MOBO-sub004/wallet"
)

func main() {
	logger := observability.SetupLogging("mobod", os.Getenv("NODE_ENV"))

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("STARTUP_FATAL", "error", err)
		os.Exit(1)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Error("STARTUP_FATAL", "error", err)
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Error("STARTUP_FATAL", "error", err)
		os.Exit(1)
	}

	sink := observability.NewSink(observability.SinkConfig{Dir: cfg.LogDir, Logger: logger})
	defer sink.Close()

	auditor := audit.NewWriter(db, logger)
	hub := realtime.NewHub()
	ledger := wallet.New(db, auditor, sink, cfg.WalletMaxBalancePaise)
	invites := invite.New(db, auditor)
	campaigns := campaign.New(db, auditor)
	engine := order.NewEngine(order.Config{
		DB:                  db,
		Campaigns:           campaigns,
		Auditor:             auditor,
		Sink:                sink,
		Hub:                 hub,
		AutoVerifyThreshold: cfg.AIAutoVerifyThreshold,
	})
	orchestrator := settlement.New(settlement.Config{
		DB:        db,
		Ledger:    ledger,
		Engine:    engine,
		Campaigns: campaigns,
		Auditor:   auditor,
		Sink:      sink,
		Hub:       hub,
	})
	minter := authsvc.NewMinter(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authService := authsvc.New(authsvc.Config{
		DB:                db,
		Minter:            minter,
		Auditor:           auditor,
		Sink:              sink,
		MaxFailedAttempts: cfg.MaxFailedLoginAttempts,
		LockoutDuration:   cfg.LockoutDuration,
	})
	registrar := authsvc.NewRegistrar(db, authService, invites, ledger, auditor)
	verifier := ai.NewHTTPVerifier(cfg.AIBaseURL, cfg.AIRequestTimeout)

	if err := seed.Run(db, cfg, logger); err != nil {
		logger.Error("STARTUP_FATAL", "error", err)
		os.Exit(1)
	}

	srv := server.New(server.Config{
		DB:              db,
		Auth:            authService,
		Registrar:       registrar,
		Engine:          engine,
		Settlement:      orchestrator,
		Campaigns:       campaigns,
		Invites:         invites,
		Ledger:          ledger,
		Verifier:        verifier,
		Hub:             hub,
		Auditor:         auditor,
		Sink:            sink,
		Logger:          logger,
		AIConfidenceMin: cfg.AIProofConfidenceMin,
		AITimeout:       cfg.AIRequestTimeout,
	})

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	monitor := observability.NewMonitor(sink, observability.MonitorConfig{
		Interval:        cfg.HealthInterval,
		MemoryWarnBytes: cfg.MemoryWarnBytes,
	})
	go monitor.Start(monitorCtx)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("accepting traffic", "port", cfg.Port, "env", cfg.Env)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}

	stopMonitor()
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown after drain deadline", "error", err)
		closeStore(db, logger)
		os.Exit(1)
	}
	closeStore(db, logger)
	logger.Info("shutdown complete")
}

func closeStore(db *gorm.DB, logger *slog.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Error("close store", "error", err)
	}
}
