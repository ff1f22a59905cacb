package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medgrid/exchange-engine/internal/config"
	"github.com/medgrid/exchange-engine/internal/dao"
	"github.com/medgrid/exchange-engine/internal/database"
	"github.com/medgrid/exchange-engine/internal/gateway"
	"github.com/medgrid/exchange-engine/internal/handlers"
	"github.com/medgrid/exchange-engine/internal/ledger"
	"github.com/medgrid/exchange-engine/internal/metrics"
	"github.com/medgrid/exchange-engine/internal/notify"
	"github.com/medgrid/exchange-engine/internal/registry"
	"github.com/medgrid/exchange-engine/internal/router"
	"github.com/medgrid/exchange-engine/internal/service"
)

// Version information (set by build script)
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	logger.WithFields(logrus.Fields{
		"version":    version,
		"build_date": buildDate,
	}).Info("Starting Consent-Driven Exchange Engine...")

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	db, err := database.Initialize(&cfg.Database.Exchange, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.HealthCheck(ctx); err != nil {
		cancel()
		logger.WithError(err).Fatal("Database health check failed")
	}
	cancel()

	artifactStore := dao.NewArtifactDAO(db)
	exchangeStore := dao.NewExchangeDAO(db)
	auditStore := dao.NewAuditDAO(db)

	engineMetrics := metrics.New()

	reg, err := registry.New(&cfg.Registry)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build participant registry")
	}

	auditLedger, err := ledger.New(context.Background(), auditStore, logger, engineMetrics)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open audit ledger")
	}

	dispatcher := notify.NewDispatcher(&cfg.Notification, auditLedger, engineMetrics, logger)

	consentService := service.NewConsentService(artifactStore, auditLedger, reg, dispatcher, &cfg.Consent, logger)

	gw := gateway.New(&cfg.Gateway, &cfg.Exchange, consentService, exchangeStore, reg, engineMetrics, logger)

	exchangeService := service.NewExchangeService(
		exchangeStore,
		consentService,
		auditLedger,
		reg,
		gw,
		dispatcher,
		&cfg.Exchange,
		engineMetrics,
		logger,
	)

	gw.SetOutcomeHandler(exchangeService)
	gw.Start()

	// Periodic expiry sweep moves lapsed grants to EXPIRED
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.Consent.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				if _, err := consentService.ExpirySweep(sweepCtx, now); err != nil {
					logger.WithError(err).Error("Expiry sweep failed")
				}
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	consentHandler := handlers.NewConsentHandler(consentService, reg)
	exchangeHandler := handlers.NewExchangeHandler(exchangeService, gw, reg)
	auditHandler := handlers.NewAuditHandler(auditLedger, reg)

	engine := router.New(consentHandler, exchangeHandler, auditHandler, db, logger)

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddress(),
		Handler:        engine,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.WithField("address", server.Addr).Info("Starting HTTP server...")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// Drain order: stop new work, flush in-flight events, then close the
	// ledger so every processed event is audited.
	stopSweep()
	gw.Stop()
	exchangeService.Stop()
	dispatcher.Close()
	auditLedger.Close()

	logger.Info("Server exited gracefully")
}
