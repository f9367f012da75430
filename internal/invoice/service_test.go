package invoice_test

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-invoicing/internal/common"
	"github.com/noah-isme/backend-invoicing/internal/invoice"
	"github.com/noah-isme/backend-invoicing/internal/store"
)

type fakeInvoices struct {
	byID map[string]store.Invoice
}

func (f *fakeInvoices) FindByID(_ context.Context, id string) (store.Invoice, error) {
	inv, ok := f.byID[id]
	if !ok {
		return store.Invoice{}, store.ErrNotFound
	}
	return inv, nil
}

func (f *fakeInvoices) FindByClientID(_ context.Context, clientID string) ([]store.Invoice, error) {
	var out []store.Invoice
	for _, inv := range f.byID {
		if inv.ClientID == clientID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (f *fakeInvoices) FindAll(_ context.Context) ([]store.Invoice, error) {
	var out []store.Invoice
	for _, inv := range f.byID {
		out = append(out, inv)
	}
	return out, nil
}

func (f *fakeInvoices) Create(_ context.Context, inv store.Invoice) (store.Invoice, error) {
	if inv.ID == "" {
		inv.ID = store.NewID()
	}
	f.byID[inv.ID] = inv
	return inv, nil
}

type fakeClients struct {
	clients []store.Client
}

func (f fakeClients) FindByID(_ context.Context, id string) (store.Client, error) {
	for _, c := range f.clients {
		if c.ID == id {
			return c, nil
		}
	}
	return store.Client{}, store.ErrNotFound
}

func (f fakeClients) FindByEmail(_ context.Context, email string) (store.Client, error) {
	for _, c := range f.clients {
		if strings.EqualFold(c.Email, email) {
			return c, nil
		}
	}
	return store.Client{}, store.ErrNotFound
}

const (
	acmeID   = "aaaaaaaaaaaaaaaaaaaaaaaa"
	globexID = "bbbbbbbbbbbbbbbbbbbbbbbb"
)

func fixtures() (*fakeInvoices, fakeClients) {
	invs := &fakeInvoices{byID: map[string]store.Invoice{
		"111111111111111111111111": {ID: "111111111111111111111111", ClientID: acmeID, ClientName: "Acme", EpisodeTitle: "Ep 1"},
		"222222222222222222222222": {ID: "222222222222222222222222", ClientID: acmeID, ClientName: "Acme", EpisodeTitle: "Ep 2"},
		"333333333333333333333333": {ID: "333333333333333333333333", ClientID: globexID, ClientName: "Globex", EpisodeTitle: "Ep 9"},
	}}
	clients := fakeClients{clients: []store.Client{
		{ID: acmeID, Email: "acme@example.com", Name: "Acme",
			Rates: []store.Rate{{EpisodeType: "podcast", RateType: "minute", Rate: 0.5}}},
		{ID: globexID, Email: "globex@example.com", Name: "Globex"},
	}}
	return invs, clients
}

func newService() (*invoice.Service, *fakeInvoices) {
	invs, clients := fixtures()
	return &invoice.Service{Invoices: invs, Clients: clients, Log: zerolog.Nop()}, invs
}

func TestListScopedToClient(t *testing.T) {
	svc, _ := newService()
	out, err := svc.List(context.Background(), common.Identity{Email: "acme@example.com"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, inv := range out {
		require.Equal(t, acmeID, inv.ClientID)
	}
}

func TestListAdminSeesAll(t *testing.T) {
	svc, _ := newService()
	out, err := svc.List(context.Background(), common.Identity{Email: "admin@example.com", Admin: true})
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestListUnknownEmailIsEmpty(t *testing.T) {
	svc, _ := newService()
	out, err := svc.List(context.Background(), common.Identity{Email: "stranger@example.com"})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestGetOwnershipHidesOtherClients(t *testing.T) {
	svc, _ := newService()

	_, err := svc.Get(context.Background(), common.Identity{Email: "globex@example.com"}, "111111111111111111111111")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "NOT_FOUND", appErr.Code)

	inv, err := svc.Get(context.Background(), common.Identity{Email: "acme@example.com"}, "111111111111111111111111")
	require.NoError(t, err)
	require.Equal(t, "Ep 1", inv.EpisodeTitle)

	inv, err = svc.Get(context.Background(), common.Identity{Email: "x@y.z", Admin: true}, "333333333333333333333333")
	require.NoError(t, err)
	require.Equal(t, "Ep 9", inv.EpisodeTitle)
}

func TestCreateResolvesClientFromIdentity(t *testing.T) {
	svc, invs := newService()
	created, err := svc.Create(context.Background(), common.Identity{Email: "acme@example.com"}, invoice.CreateInput{
		EpisodeTitle:  "Ep 3",
		EpisodeType:   "podcast",
		BilledMinutes: 42,
	})
	require.NoError(t, err)
	require.Equal(t, acmeID, created.ClientID)
	require.Equal(t, "Acme", created.ClientName)
	require.Len(t, created.ID, 24)
	require.InDelta(t, 21.0, created.InvoicedAmount, 1e-9)
	require.InDelta(t, 0.5, created.RatePerMinute, 1e-9)
	require.Contains(t, invs.byID, created.ID)
}

func TestCreateKeepsExplicitAmount(t *testing.T) {
	svc, _ := newService()
	created, err := svc.Create(context.Background(), common.Identity{Email: "acme@example.com"}, invoice.CreateInput{
		EpisodeTitle:   "Ep 4",
		EpisodeType:    "podcast",
		BilledMinutes:  42,
		InvoicedAmount: 99.99,
	})
	require.NoError(t, err)
	require.InDelta(t, 99.99, created.InvoicedAmount, 1e-9)
}

func TestCreateWithoutClientProfile(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Create(context.Background(), common.Identity{Email: "stranger@example.com"}, invoice.CreateInput{
		EpisodeTitle: "Ep X",
		EpisodeType:  "podcast",
	})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "NOT_FOUND", appErr.Code)
}
