package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/noah-isme/backend-invoicing/internal/config"
	"github.com/noah-isme/backend-invoicing/internal/db"
	"github.com/noah-isme/backend-invoicing/internal/obs"
	"github.com/noah-isme/backend-invoicing/internal/store"
)

// backfillrates loads billing-rate rules from a JSON file keyed by client
// email and writes them onto the matching client records. Clients absent from
// the file are untouched.
//
// File shape:
//
//	{"billing@acme.test": [{"episodeType": "podcast", "rateType": "minute", "rate": 0.5}]}
func main() {
	file := flag.String("file", "rates.json", "path to the rates JSON file")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger("console", "info").With().Str("component", "backfillrates").Logger()

	raw, err := os.ReadFile(*file)
	if err != nil {
		logger.Fatal().Err(err).Str("file", *file).Msg("read rates file")
	}
	var byEmail map[string][]store.Rate
	if err := json.Unmarshal(raw, &byEmail); err != nil {
		logger.Fatal().Err(err).Msg("parse rates file")
	}

	lazy := &db.Lazy{URL: cfg.DatabaseURL, AppName: "invoicing-backfillrates"}
	defer lazy.Close()
	clients := store.Clients{DB: lazy}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	updated, missing := 0, 0
	for email, rates := range byEmail {
		c, err := clients.FindByEmail(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			missing++
			logger.Warn().Str("email", email).Msg("no client for email, skipping")
			continue
		}
		if err != nil {
			logger.Fatal().Err(err).Str("email", email).Msg("lookup failed")
		}
		if _, err := clients.UpdateRates(ctx, c.ID, rates); err != nil {
			logger.Fatal().Err(err).Str("email", email).Msg("update failed")
		}
		updated++
	}
	logger.Info().Int("updated", updated).Int("skipped", missing).Msg("backfill complete")
}
