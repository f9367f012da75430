package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-invoicing/internal/db"
)

const clientColumns = `id, email, name, rates, created_at, updated_at`

// Clients persists client documents. Emails are unique across all clients.
type Clients struct {
	DB *db.Lazy
}

// FindByID returns the client with the given id.
func (s Clients) FindByID(ctx context.Context, id string) (Client, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return Client{}, err
	}
	row := pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	return scanClient(row)
}

// FindByEmail returns the client with the given email, case-insensitively.
func (s Clients) FindByEmail(ctx context.Context, email string) (Client, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return Client{}, err
	}
	row := pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
	return scanClient(row)
}

// Create inserts a new client, assigning an id when absent.
func (s Clients) Create(ctx context.Context, c Client) (Client, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return Client{}, err
	}
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.Rates == nil {
		c.Rates = []Rate{}
	}
	rates, err := json.Marshal(c.Rates)
	if err != nil {
		return Client{}, err
	}
	row := pool.QueryRow(ctx, `INSERT INTO clients (id, email, name, rates)
		VALUES ($1, lower($2), $3, $4) RETURNING `+clientColumns,
		c.ID, strings.TrimSpace(c.Email), c.Name, rates)
	return scanClient(row)
}

// UpdateRates replaces the client's billing-rate rules.
func (s Clients) UpdateRates(ctx context.Context, id string, rates []Rate) (Client, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return Client{}, err
	}
	if rates == nil {
		rates = []Rate{}
	}
	payload, err := json.Marshal(rates)
	if err != nil {
		return Client{}, err
	}
	row := pool.QueryRow(ctx, `UPDATE clients SET rates = $2, updated_at = now()
		WHERE id = $1 RETURNING `+clientColumns, id, payload)
	return scanClient(row)
}

// List returns every client ordered by name then creation time.
func (s Clients) List(ctx context.Context) ([]Client, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY lower(name), created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a client record; only the duplicate-merge utility does this.
func (s Clients) Delete(ctx context.Context, id string) (bool, error) {
	pool, err := s.DB.Get(ctx)
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanClient(row pgx.Row) (Client, error) {
	var (
		c     Client
		rates []byte
	)
	err := row.Scan(&c.ID, &c.Email, &c.Name, &rates, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, err
	}
	if len(rates) > 0 {
		if err := json.Unmarshal(rates, &c.Rates); err != nil {
			return Client{}, err
		}
	}
	c.ID = strings.TrimSpace(c.ID)
	return c, nil
}
