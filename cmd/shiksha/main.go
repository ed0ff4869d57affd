package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/shiksha-erp/shiksha-erp/internal/app"
	"github.com/shiksha-erp/shiksha-erp/internal/fees"
	"github.com/shiksha-erp/shiksha-erp/internal/ledger"
	"github.com/shiksha-erp/shiksha-erp/internal/observability"
	"github.com/shiksha-erp/shiksha-erp/internal/platform/cache"
	"github.com/shiksha-erp/shiksha-erp/internal/platform/db"
	"github.com/shiksha-erp/shiksha-erp/internal/promotion"
	"github.com/shiksha-erp/shiksha-erp/internal/receipt"
	"github.com/shiksha-erp/shiksha-erp/internal/roster"
	"github.com/shiksha-erp/shiksha-erp/internal/session"
	"github.com/shiksha-erp/shiksha-erp/internal/shared"
	"github.com/shiksha-erp/shiksha-erp/jobs"
	"github.com/shiksha-erp/shiksha-erp/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	auditLogger := shared.NewAuditLogger(dbpool)
	balanceCache := ledger.NewBalanceCache(redisClient, cfg.BalanceCacheTTL)

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, balanceCache)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, metrics)

	receiptRepo := receipt.NewRepository(dbpool)
	receiptService := receipt.NewService(receiptRepo, auditLogger, balanceCache)
	receiptHandler := receipt.NewHandler(logger, receiptService)

	sessionRepo := session.NewRepository(dbpool)
	sessionService := session.NewService(sessionRepo)
	sessionHandler := session.NewHandler(logger, sessionService)

	feesRepo := fees.NewRepository(dbpool)
	feesService := fees.NewService(feesRepo)
	feesHandler := fees.NewHandler(logger, feesService)

	rosterRepo := roster.NewRepository(dbpool)
	rosterService := roster.NewService(rosterRepo, ledgerService)
	rosterHandler := roster.NewHandler(logger, rosterService)

	promotionRepo := promotion.NewRepository(dbpool)
	promotionService := promotion.NewService(promotionRepo, auditLogger)
	promotionHandler := promotion.NewHandler(logger, promotionService, metrics, cfg.TerminalClass, cfg.PromotionBatchSize)

	reportClient := report.NewClient(cfg.GotenbergURL)
	reportHandler := report.NewHandler(reportClient, receiptService, rosterService, sessionService, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             dbpool,
		LedgerHandler:    ledgerHandler,
		ReceiptHandler:   receiptHandler,
		SessionHandler:   sessionHandler,
		FeesHandler:      feesHandler,
		RosterHandler:    rosterHandler,
		PromotionHandler: promotionHandler,
		ReportHandler:    reportHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
