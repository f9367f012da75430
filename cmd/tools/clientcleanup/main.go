package main

import (
	"context"
	"flag"
	"time"

	"github.com/noah-isme/backend-invoicing/internal/client"
	"github.com/noah-isme/backend-invoicing/internal/config"
	"github.com/noah-isme/backend-invoicing/internal/db"
	"github.com/noah-isme/backend-invoicing/internal/obs"
	"github.com/noah-isme/backend-invoicing/internal/store"
)

// clientcleanup merges duplicate client records: rows sharing a display name
// collapse into the oldest one, with their invoices reassigned first.
func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger("console", "info").With().Str("component", "clientcleanup").Logger()

	lazy := &db.Lazy{URL: cfg.DatabaseURL, AppName: "invoicing-clientcleanup"}
	defer lazy.Close()

	svc := &client.Service{
		Clients:  store.Clients{DB: lazy},
		Invoices: store.Invoices{DB: lazy},
		Log:      logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := svc.MergeDuplicates(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("merge failed")
	}
	logger.Info().
		Int("groups_merged", report.GroupsMerged).
		Int64("invoices_moved", report.InvoicesMoved).
		Int("clients_removed", report.ClientsRemoved).
		Int("clients_remaining", report.ClientsRemaining).
		Msg("cleanup complete")
}
