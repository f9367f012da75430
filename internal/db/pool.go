package db

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Lazy owns a process-lifetime pgx pool that is initialised on first use and
// reused afterwards. A failed initialisation resets the cached state so the
// next call retries cleanly instead of poisoning every subsequent request.
type Lazy struct {
	URL     string
	AppName string

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// Get returns the shared pool, creating it if necessary.
func (l *Lazy) Get(ctx context.Context) (*pgxpool.Pool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pool != nil {
		return l.pool, nil
	}
	cfg, err := pgxpool.ParseConfig(l.URL)
	if err != nil {
		return nil, err
	}
	if l.AppName != "" {
		if cfg.ConnConfig.RuntimeParams == nil {
			cfg.ConnConfig.RuntimeParams = map[string]string{}
		}
		cfg.ConnConfig.RuntimeParams["application_name"] = l.AppName
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	l.pool = pool
	return l.pool, nil
}

// Ping probes connectivity, initialising the pool on first use.
func (l *Lazy) Ping(ctx context.Context) error {
	pool, err := l.Get(ctx)
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// Close releases the pool if it was ever created.
func (l *Lazy) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pool != nil {
		l.pool.Close()
		l.pool = nil
	}
}
