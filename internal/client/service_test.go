package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-invoicing/internal/client"
	"github.com/noah-isme/backend-invoicing/internal/common"
	"github.com/noah-isme/backend-invoicing/internal/store"
)

type fakeClients struct {
	byID map[string]store.Client
}

func (f *fakeClients) FindByID(_ context.Context, id string) (store.Client, error) {
	c, ok := f.byID[id]
	if !ok {
		return store.Client{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeClients) List(_ context.Context) ([]store.Client, error) {
	var out []store.Client
	for _, c := range f.byID {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeClients) UpdateRates(_ context.Context, id string, rates []store.Rate) (store.Client, error) {
	c, ok := f.byID[id]
	if !ok {
		return store.Client{}, store.ErrNotFound
	}
	c.Rates = rates
	f.byID[id] = c
	return c, nil
}

func (f *fakeClients) Delete(_ context.Context, id string) (bool, error) {
	if _, ok := f.byID[id]; !ok {
		return false, nil
	}
	delete(f.byID, id)
	return true, nil
}

type fakeInvoices struct {
	owners map[string]string // invoice id -> client id
}

func (f *fakeInvoices) ReassignClient(_ context.Context, from, to string) (int64, error) {
	var moved int64
	for id, owner := range f.owners {
		if owner == from {
			f.owners[id] = to
			moved++
		}
	}
	return moved, nil
}

func at(day int) time.Time {
	return time.Date(2024, time.March, day, 0, 0, 0, 0, time.UTC)
}

func TestUpdateRates(t *testing.T) {
	clients := &fakeClients{byID: map[string]store.Client{
		"c1": {ID: "c1", Name: "Acme"},
	}}
	svc := &client.Service{Clients: clients, Invoices: &fakeInvoices{}, Log: zerolog.Nop()}

	updated, err := svc.UpdateRates(context.Background(), "c1", []store.Rate{
		{EpisodeType: "podcast", RateType: "minute", Rate: 0.75},
	})
	require.NoError(t, err)
	require.Len(t, updated.Rates, 1)

	_, err = svc.UpdateRates(context.Background(), "missing", nil)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "NOT_FOUND", appErr.Code)
}

func TestMergeDuplicatesKeepsOldestAndMovesInvoices(t *testing.T) {
	clients := &fakeClients{byID: map[string]store.Client{
		"old":   {ID: "old", Name: "Acme Podcasts", Email: "a@acme.test", CreatedAt: at(1)},
		"dup1":  {ID: "dup1", Name: "acme podcasts", Email: "b@acme.test", CreatedAt: at(5)},
		"dup2":  {ID: "dup2", Name: " Acme Podcasts ", Email: "c@acme.test", CreatedAt: at(9)},
		"other": {ID: "other", Name: "Globex", Email: "g@globex.test", CreatedAt: at(2)},
	}}
	invoices := &fakeInvoices{owners: map[string]string{
		"i1": "old", "i2": "dup1", "i3": "dup2", "i4": "other",
	}}
	svc := &client.Service{Clients: clients, Invoices: invoices, Log: zerolog.Nop()}

	report, err := svc.MergeDuplicates(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.GroupsMerged)
	require.Equal(t, int64(2), report.InvoicesMoved)
	require.Equal(t, 2, report.ClientsRemoved)
	require.Equal(t, 2, report.ClientsRemaining)

	require.Contains(t, clients.byID, "old")
	require.NotContains(t, clients.byID, "dup1")
	require.NotContains(t, clients.byID, "dup2")
	require.Equal(t, "old", invoices.owners["i2"])
	require.Equal(t, "old", invoices.owners["i3"])
	require.Equal(t, "other", invoices.owners["i4"])
}

func TestMergeDuplicatesNoopWithoutDuplicates(t *testing.T) {
	clients := &fakeClients{byID: map[string]store.Client{
		"c1": {ID: "c1", Name: "Acme", CreatedAt: at(1)},
		"c2": {ID: "c2", Name: "Globex", CreatedAt: at(2)},
	}}
	svc := &client.Service{Clients: clients, Invoices: &fakeInvoices{owners: map[string]string{}}, Log: zerolog.Nop()}

	report, err := svc.MergeDuplicates(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.GroupsMerged)
	require.Zero(t, report.ClientsRemoved)
	require.Len(t, clients.byID, 2)
}
