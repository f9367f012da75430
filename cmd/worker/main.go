package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-invoicing/internal/config"
	"github.com/noah-isme/backend-invoicing/internal/db"
	"github.com/noah-isme/backend-invoicing/internal/obs"
	"github.com/noah-isme/backend-invoicing/internal/payment"
	"github.com/noah-isme/backend-invoicing/internal/store"
)

// The worker runs the reconciliation sweep: every ReconcileInterval it
// re-verifies unpaid invoices that have a payment intent on record, settling
// any whose charge succeeded without the API managing to record it.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "invoicing"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lazy := &db.Lazy{URL: cfg.DatabaseURL, AppName: "invoicing-worker"}
	defer lazy.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	svc := &payment.Service{
		Gateway:  payment.NewStripe(cfg.StripeSecretKey),
		Invoices: store.Invoices{DB: lazy},
		Clients:  store.Clients{DB: lazy},
		Log:      logger,
		BaseURL:  cfg.AppBaseURL,
		Currency: cfg.DefaultCurrency,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{"default": 1},
	})
	mux := asynq.NewServeMux()
	mux.Handle(payment.TaskReconcile, payment.Reconciler{Svc: svc})

	task, err := payment.NewReconcileTask(cfg.ReconcileBatchSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("build reconcile task")
	}
	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register("@every "+cfg.ReconcileInterval.String(), task); err != nil {
		logger.Fatal().Err(err).Msg("register reconcile schedule")
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Fatal().Err(err).Msg("scheduler stopped")
		}
	}()

	logger.Info().Dur("interval", cfg.ReconcileInterval).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	scheduler.Shutdown()
	srv.Shutdown()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
