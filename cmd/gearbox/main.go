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

	"github.com/gearbox-erp/gearbox-erp/internal/app"
	"github.com/gearbox-erp/gearbox-erp/internal/inventory/adjustments"
	"github.com/gearbox-erp/gearbox-erp/internal/inventory/composites"
	"github.com/gearbox-erp/gearbox-erp/internal/inventory/stock"
	"github.com/gearbox-erp/gearbox-erp/internal/ledger/accounts"
	"github.com/gearbox-erp/gearbox-erp/internal/ledger/journals"
	"github.com/gearbox-erp/gearbox-erp/internal/ledger/periods"
	"github.com/gearbox-erp/gearbox-erp/internal/ledger/reports"
	"github.com/gearbox-erp/gearbox-erp/internal/observability"
	"github.com/gearbox-erp/gearbox-erp/internal/platform/cache"
	"github.com/gearbox-erp/gearbox-erp/internal/platform/db"
	"github.com/gearbox-erp/gearbox-erp/internal/shared"
	"github.com/gearbox-erp/gearbox-erp/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	mutex := shared.NewResourceMutex(redisClient, cfg.LockTTL)

	accountsRepo := accounts.NewRepository(pool)
	accountsRegistry := accounts.NewRegistry(accountsRepo)
	accountsHandler := accounts.NewHandler(logger, accountsRegistry)

	periodsRepo := periods.NewRepository(pool)
	periodsService := periods.NewService(periodsRepo, auditLogger)
	periodsHandler := periods.NewHandler(logger, periodsService)

	journalsRepo := journals.NewRepository(pool)
	journalsService := journals.NewService(journalsRepo, auditLogger)
	journalsHandler := journals.NewHandler(logger, journalsService)

	reportsRepo := reports.NewRepository(pool)
	reportsHandler := reports.NewHandler(logger, reportsRepo)

	stockRepo := stock.NewRepository(pool)
	mutator := stock.NewMutator(stockRepo, cfg.StockRetryAttempts)

	adjustmentsRepo := adjustments.NewRepository(pool)
	adjustmentsService := adjustments.NewService(adjustmentsRepo, stockRepo, mutator,
		journalsService, periodsService, accountsRegistry, auditLogger, mutex)
	adjustmentsHandler := adjustments.NewHandler(logger, adjustmentsService, idempotencyStore)

	compositesRepo := composites.NewRepository(pool)
	compositesService := composites.NewService(compositesRepo, stockRepo, mutator,
		journalsService, periodsService, accountsRegistry, auditLogger, mutex)
	compositesHandler := composites.NewHandler(logger, compositesService)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AccountsHandler:    accountsHandler,
		JournalsHandler:    journalsHandler,
		PeriodsHandler:     periodsHandler,
		ReportsHandler:     reportsHandler,
		AdjustmentsHandler: adjustmentsHandler,
		CompositesHandler:  compositesHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
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
