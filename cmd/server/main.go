package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/doorscomputers/stockflow/internal/app"
	"github.com/doorscomputers/stockflow/internal/ledger"
	"github.com/doorscomputers/stockflow/internal/notify"
	"github.com/doorscomputers/stockflow/internal/observability"
	"github.com/doorscomputers/stockflow/internal/platform/cache"
	"github.com/doorscomputers/stockflow/internal/platform/db"
	"github.com/doorscomputers/stockflow/internal/rbac"
	"github.com/doorscomputers/stockflow/internal/shared"
	"github.com/doorscomputers/stockflow/internal/transfer"
	"github.com/doorscomputers/stockflow/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, "stockflow_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	authorizer := rbac.NewService()
	rbacMiddleware := rbac.Middleware{Authorizer: authorizer, Logger: logger}

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerStore := ledger.NewStore(ledgerRepo, ledger.StoreConfig{AllowNegativeStock: cfg.AllowNegativeStock})
	reconciler := ledger.NewReconciler(ledgerRepo, logger, cfg.ReconcileConcurrency)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	notifier := notify.NewQueueNotifier(jobClient, logger)

	transferRepo := transfer.NewRepository(dbpool)
	transferService := transfer.NewService(transfer.ServiceParams{
		Repo:       transferRepo,
		Ledger:     ledgerStore,
		Authorizer: authorizer,
		Policy: transfer.NewPolicy(transfer.PolicyConfig{
			AllowCreatorSend:        cfg.AllowCreatorSend,
			RequireDistinctReceiver: cfg.RequireDistinctReceiver,
		}),
		Audit:     auditLogger,
		Approvals: approvalRecorder,
		Idem:      idempotencyStore,
		Notifier:  notifier,
		Logger:    logger,
	})

	validate := validator.New()
	metrics := observability.NewMetrics()

	transferHandler := transfer.NewHandler(logger, transferService, validate, rbacMiddleware)
	ledgerHandler := ledger.NewHandler(logger, ledgerStore, reconciler, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		TransferHandler: transferHandler,
		LedgerHandler:   ledgerHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
		Pool:            dbpool,
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
