package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/quotewise/backend/internal/auth"
	"github.com/quotewise/backend/internal/config"
	"github.com/quotewise/backend/internal/handlers"
	"github.com/quotewise/backend/internal/middleware"
	"github.com/quotewise/backend/internal/reconcile"
	"github.com/quotewise/backend/internal/repository"
	"github.com/quotewise/backend/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("cannot reach PostgreSQL; ensure it is running (e.g. docker-compose up -d)", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// River migrations (job queue tables; app tables live in migrations/).
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}

	// Repositories
	userRepo := repository.NewUserRepo(pool)
	walletRepo := repository.NewWalletRepo(pool)
	reservationRepo := repository.NewReservationRepo(pool)
	ledgerRepo := repository.NewLedgerRepo(pool)

	// Services
	quotaSvc := services.NewQuotaService(reservationRepo)
	gate := services.StaticGate(!cfg.MaintenanceMode)
	creditSvc := services.NewCreditService(pool, userRepo, walletRepo, reservationRepo, ledgerRepo, quotaSvc, gate, logger)
	purchaseSvc := services.NewPurchaseService(pool, userRepo, userRepo, walletRepo, ledgerRepo, services.DefaultCatalog, logger)
	statusSvc := services.NewStatusService(userRepo, walletRepo, quotaSvc)
	authSvc := auth.NewService(pool, userRepo, walletRepo, ledgerRepo, cfg.JWTSecret)

	// Reconciliation sweep: periodic River job rolling back reservations the
	// client abandoned.
	workers := river.NewWorkers()
	river.AddWorker(workers, reconcile.NewSweepWorker(reservationRepo, creditSvc, cfg.PendingTimeout, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 4},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.SweepInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return reconcile.SweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("failed to create River client", "error", err)
		os.Exit(1)
	}

	// Handlers
	authHandler := auth.NewHandler(authSvc, logger)
	creditsHandler := &handlers.CreditsHandler{Credits: creditSvc, Status: statusSvc, Logger: logger}
	webhookHandler := &handlers.WebhookHandler{Purchases: purchaseSvc, AuthToken: cfg.WebhookToken, Logger: logger}

	mux := http.NewServeMux()
	RegisterRoutes(mux, authHandler, creditsHandler, webhookHandler, middleware.BearerAuth(authSvc, userRepo))
	mux.Handle("GET /metrics", promhttp.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	addr := "0.0.0.0:" + cfg.Port
	slog.Info("starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
