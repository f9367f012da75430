package invoice

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-invoicing/internal/common"
	"github.com/noah-isme/backend-invoicing/internal/store"
)

// InvoiceStore is the slice of invoice persistence the presentation layer needs.
type InvoiceStore interface {
	FindByID(ctx context.Context, id string) (store.Invoice, error)
	FindByClientID(ctx context.Context, clientID string) ([]store.Invoice, error)
	FindAll(ctx context.Context) ([]store.Invoice, error)
	Create(ctx context.Context, inv store.Invoice) (store.Invoice, error)
}

// ClientStore resolves the caller's client record.
type ClientStore interface {
	FindByID(ctx context.Context, id string) (store.Client, error)
	FindByEmail(ctx context.Context, email string) (store.Client, error)
}

// Service serves invoice listing, detail, and creation, scoped by the
// caller's identity: the admin sees everything, a client only their own.
type Service struct {
	Invoices InvoiceStore
	Clients  ClientStore
	Log      zerolog.Logger
}

func errNotFound() *common.AppError {
	return common.NewAppError("NOT_FOUND", "invoice not found", http.StatusNotFound, nil)
}

// List returns the invoices visible to the caller. A caller without a client
// record sees an empty list rather than an error.
func (s *Service) List(ctx context.Context, id common.Identity) ([]store.Invoice, error) {
	if id.Admin {
		return s.Invoices.FindAll(ctx)
	}
	client, err := s.Clients.FindByEmail(ctx, id.Email)
	if errors.Is(err, store.ErrNotFound) {
		return []store.Invoice{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Invoices.FindByClientID(ctx, client.ID)
}

// Get returns a single invoice if the caller may see it. Ownership failures
// report not-found so invoice ids stay unguessable.
func (s *Service) Get(ctx context.Context, id common.Identity, invoiceID string) (store.Invoice, error) {
	inv, err := s.Invoices.FindByID(ctx, invoiceID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Invoice{}, errNotFound()
	}
	if err != nil {
		return store.Invoice{}, err
	}
	if id.Admin {
		return inv, nil
	}
	client, err := s.Clients.FindByEmail(ctx, id.Email)
	if err != nil || client.ID != inv.ClientID {
		return store.Invoice{}, errNotFound()
	}
	return inv, nil
}

// CreateInput carries the caller-supplied invoice fields. The owning client
// is never taken from the request; it is resolved from the authenticated
// email.
type CreateInput struct {
	EpisodeTitle   string     `json:"episodeTitle" validate:"required"`
	EpisodeType    string     `json:"type" validate:"required"`
	Length         store.Clip `json:"length"`
	EditingTime    store.Clip `json:"editingTime"`
	BilledMinutes  float64    `json:"billedMinutes" validate:"gte=0"`
	BillableHours  float64    `json:"billableHours" validate:"gte=0"`
	InvoicedAmount float64    `json:"invoicedAmount" validate:"gte=0"`
	DateInvoiced   *time.Time `json:"dateInvoiced"`
	Note           string     `json:"note"`
}

// Create records a new pending invoice for the caller's client record,
// denormalizing the client display name onto the invoice. When the caller
// supplies no amount and the client has a per-minute rate for the episode
// type, the amount is derived from billed minutes.
func (s *Service) Create(ctx context.Context, id common.Identity, in CreateInput) (store.Invoice, error) {
	client, err := s.Clients.FindByEmail(ctx, id.Email)
	if errors.Is(err, store.ErrNotFound) {
		return store.Invoice{}, common.NewAppError("NOT_FOUND", "no client profile for this account", http.StatusNotFound, err)
	}
	if err != nil {
		return store.Invoice{}, err
	}

	inv := store.Invoice{
		ClientName:     client.Name,
		ClientID:       client.ID,
		EpisodeTitle:   strings.TrimSpace(in.EpisodeTitle),
		EpisodeType:    strings.TrimSpace(in.EpisodeType),
		Length:         in.Length,
		EditingTime:    in.EditingTime,
		BilledMinutes:  in.BilledMinutes,
		BillableHours:  in.BillableHours,
		InvoicedAmount: in.InvoicedAmount,
		DateInvoiced:   in.DateInvoiced,
		Note:           in.Note,
	}
	if rate, ok := client.RateFor(inv.EpisodeType); ok {
		inv.RatePerMinute = rate.Rate
		if inv.InvoicedAmount == 0 && strings.EqualFold(rate.RateType, "minute") {
			inv.InvoicedAmount = rate.Rate * in.BilledMinutes
		}
	}
	created, err := s.Invoices.Create(ctx, inv)
	if err != nil {
		return store.Invoice{}, err
	}
	s.Log.Info().Str("invoice_id", created.ID).Str("client_id", created.ClientID).
		Msg("invoice created")
	return created, nil
}
