package client

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-invoicing/internal/common"
	"github.com/noah-isme/backend-invoicing/internal/store"
)

// ClientStore is the slice of client persistence this package needs.
type ClientStore interface {
	FindByID(ctx context.Context, id string) (store.Client, error)
	List(ctx context.Context) ([]store.Client, error)
	UpdateRates(ctx context.Context, id string, rates []store.Rate) (store.Client, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// InvoiceStore moves invoices between client records during a merge.
type InvoiceStore interface {
	ReassignClient(ctx context.Context, fromClientID, toClientID string) (int64, error)
}

// Service manages client billing rates and repairs duplicate client records.
type Service struct {
	Clients  ClientStore
	Invoices InvoiceStore
	Log      zerolog.Logger
}

// UpdateRates replaces a client's billing-rate rules.
func (s *Service) UpdateRates(ctx context.Context, clientID string, rates []store.Rate) (store.Client, error) {
	if _, err := s.Clients.FindByID(ctx, clientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Client{}, common.NewAppError("NOT_FOUND", "client not found", http.StatusNotFound, err)
		}
		return store.Client{}, err
	}
	return s.Clients.UpdateRates(ctx, clientID, rates)
}

// MergeReport summarises one duplicate-merge pass.
type MergeReport struct {
	GroupsMerged     int   `json:"groupsMerged"`
	InvoicesMoved    int64 `json:"invoicesMoved"`
	ClientsRemoved   int   `json:"clientsRemoved"`
	ClientsRemaining int   `json:"clientsRemaining"`
}

// MergeDuplicates collapses client records sharing a display name into the
// oldest record of each group, reassigning the duplicates' invoices before
// removing them. Emails differ across duplicates, so name is the only usable
// grouping key.
func (s *Service) MergeDuplicates(ctx context.Context) (MergeReport, error) {
	clients, err := s.Clients.List(ctx)
	if err != nil {
		return MergeReport{}, err
	}

	groups := map[string][]store.Client{}
	for _, c := range clients {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], c)
	}

	report := MergeReport{ClientsRemaining: len(clients)}
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
		keeper := group[0]
		report.GroupsMerged++
		for _, dup := range group[1:] {
			moved, err := s.Invoices.ReassignClient(ctx, dup.ID, keeper.ID)
			if err != nil {
				return report, err
			}
			report.InvoicesMoved += moved
			deleted, err := s.Clients.Delete(ctx, dup.ID)
			if err != nil {
				return report, err
			}
			if deleted {
				report.ClientsRemoved++
				report.ClientsRemaining--
			}
			s.Log.Info().Str("kept_client_id", keeper.ID).Str("removed_client_id", dup.ID).
				Int64("invoices_moved", moved).Msg("merged duplicate client")
		}
	}
	return report, nil
}
