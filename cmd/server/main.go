// Package main contains the entrypoint for the Positivity Push backend.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/positivitypush/backend/internal/bot"
	"github.com/positivitypush/backend/internal/coach"
	"github.com/positivitypush/backend/internal/config"
	"github.com/positivitypush/backend/internal/database"
	"github.com/positivitypush/backend/internal/email"
	"github.com/positivitypush/backend/internal/logger"
	"github.com/positivitypush/backend/internal/memory"
	"github.com/positivitypush/backend/internal/payments"
	"github.com/positivitypush/backend/internal/scheduler"
	"github.com/positivitypush/backend/internal/server"
	"github.com/positivitypush/backend/internal/whatsapp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all application components (config, logger, db, external
// clients, HTTP server, scheduler), handles graceful shutdown, and returns
// an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	// Local development keeps its secrets in a .env file; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	memoryClient := memory.NewClient(cfg.Memory, log)
	waClient := whatsapp.NewClient(cfg.WhatsApp, log)
	mailer := email.NewClient(cfg.Email, log)

	engine, err := coach.NewEngine(ctx, cfg.AI, memoryClient, log)
	if err != nil {
		log.Error("Failed to initialize coaching engine", "error", err)
		return 1
	}

	paymentInterp := payments.NewInterpreter(store, mailer, cfg.Stripe.WebhookSecret, log)
	botHandler := bot.NewHandler(store, waClient, engine, cfg.WhatsApp.VerifyToken, log)
	srv := server.New(cfg, paymentInterp, botHandler, log)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(cfg.Scheduler, store, engine, waClient, log)
		if err != nil {
			log.Error("Failed to initialize scheduler", "error", err)
			return 1
		}
		sched.Start()
	} else {
		log.Info("Scheduler disabled by configuration")
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Listen()
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutdown signal received")
		if sched != nil {
			if err := sched.Stop(); err != nil {
				log.Error("Error stopping scheduler", "error", err)
			}
		}
		return srv.Shutdown()
	})

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Server stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Server stopped gracefully")
	time.Sleep(time.Second)
	return 0
}
