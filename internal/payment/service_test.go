package payment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-invoicing/internal/common"
	"github.com/noah-isme/backend-invoicing/internal/obs"
	"github.com/noah-isme/backend-invoicing/internal/payment"
	"github.com/noah-isme/backend-invoicing/internal/store"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("test", prometheus.NewRegistry())
	m.Run()
}

// fakeInvoices is an in-memory invoice store with the same conditional-write
// semantics as the SQL implementation.
type fakeInvoices struct {
	mu           sync.Mutex
	byID         map[string]store.Invoice
	markPaidErr  error
	markPaidWins int
}

func newFakeInvoices(invs ...store.Invoice) *fakeInvoices {
	f := &fakeInvoices{byID: map[string]store.Invoice{}}
	for _, inv := range invs {
		f.byID[inv.ID] = inv
	}
	return f
}

func (f *fakeInvoices) FindByID(_ context.Context, id string) (store.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byID[id]
	if !ok {
		return store.Invoice{}, store.ErrNotFound
	}
	return inv, nil
}

func (f *fakeInvoices) SetStripeCustomerID(_ context.Context, id, customerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byID[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if inv.StripeCustomerID != "" {
		return false, nil
	}
	inv.StripeCustomerID = customerID
	f.byID[id] = inv
	return true, nil
}

func (f *fakeInvoices) RecordPaymentIntent(_ context.Context, id, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	inv.StripePaymentIntentID = intentID
	f.byID[id] = inv
	return nil
}

func (f *fakeInvoices) IncrementChargeAttempts(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byID[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	inv.ChargeAttempts++
	f.byID[id] = inv
	return inv.ChargeAttempts, nil
}

func (f *fakeInvoices) MarkPaid(_ context.Context, id, method string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markPaidErr != nil {
		return false, f.markPaidErr
	}
	inv, ok := f.byID[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if inv.DatePaid != nil {
		return false, nil
	}
	now := time.Now()
	inv.DatePaid = &now
	inv.PaymentMethod = method
	f.byID[id] = inv
	f.markPaidWins++
	return true, nil
}

func (f *fakeInvoices) ListPendingWithIntent(_ context.Context, limit int) ([]store.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Invoice
	for _, inv := range f.byID {
		if inv.DatePaid == nil && inv.StripePaymentIntentID != "" {
			out = append(out, inv)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeClients struct {
	byID map[string]store.Client
}

func (f fakeClients) FindByID(_ context.Context, id string) (store.Client, error) {
	c, ok := f.byID[id]
	if !ok {
		return store.Client{}, store.ErrNotFound
	}
	return c, nil
}

// fakeGateway records every call and answers from configurable funcs.
type fakeGateway struct {
	mu    sync.Mutex
	calls []string

	ensureCustomer func(payment.CustomerParams) (string, error)
	listMethods    func(string) ([]payment.SavedMethod, error)
	charge         func(payment.ChargeParams) (payment.ChargeResult, error)
	createIntent   func(payment.IntentParams) (payment.Intent, error)
	createCheckout func(payment.CheckoutParams) (payment.CheckoutSession, error)
	retrieveIntent func(string) (payment.IntentStatus, error)
}

func (g *fakeGateway) record(name string) {
	g.mu.Lock()
	g.calls = append(g.calls, name)
	g.mu.Unlock()
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGateway) EnsureCustomer(_ context.Context, p payment.CustomerParams) (string, error) {
	g.record("EnsureCustomer")
	if g.ensureCustomer == nil {
		return "cus_test", nil
	}
	return g.ensureCustomer(p)
}

func (g *fakeGateway) ListSavedCardMethods(_ context.Context, customerID string) ([]payment.SavedMethod, error) {
	g.record("ListSavedCardMethods")
	if g.listMethods == nil {
		return []payment.SavedMethod{{ID: "pm_1", Brand: "visa", Last4: "4242", Created: 1}}, nil
	}
	return g.listMethods(customerID)
}

func (g *fakeGateway) ChargeSavedMethod(_ context.Context, p payment.ChargeParams) (payment.ChargeResult, error) {
	g.record("ChargeSavedMethod")
	if g.charge == nil {
		return payment.ChargeResult{Status: payment.StatusSucceeded, IntentID: "pi_test"}, nil
	}
	return g.charge(p)
}

func (g *fakeGateway) CreateIntent(_ context.Context, p payment.IntentParams) (payment.Intent, error) {
	g.record("CreateIntent")
	if g.createIntent == nil {
		return payment.Intent{ClientSecret: "pi_test_secret", IntentID: "pi_test"}, nil
	}
	return g.createIntent(p)
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, p payment.CheckoutParams) (payment.CheckoutSession, error) {
	g.record("CreateCheckoutSession")
	if g.createCheckout == nil {
		return payment.CheckoutSession{SessionID: "cs_test", URL: "https://checkout.example/cs_test"}, nil
	}
	return g.createCheckout(p)
}

func (g *fakeGateway) RetrieveIntent(_ context.Context, intentID string) (payment.IntentStatus, error) {
	g.record("RetrieveIntent")
	if g.retrieveIntent == nil {
		return payment.IntentStatus{Status: payment.StatusSucceeded, InvoiceID: "", MethodTypes: []string{"card"}}, nil
	}
	return g.retrieveIntent(intentID)
}

const (
	testInvoiceID = "aabbccddeeff001122334455"
	testClientID  = "ffeeddccbbaa998877665544"
)

func pendingInvoice() store.Invoice {
	return store.Invoice{
		ID:             testInvoiceID,
		ClientName:     "Acme Podcasts",
		ClientID:       testClientID,
		EpisodeTitle:   "Episode 42",
		EpisodeType:    "podcast",
		InvoicedAmount: 19.99,
	}
}

func newService(gw *fakeGateway, invs *fakeInvoices) *payment.Service {
	return &payment.Service{
		Gateway:  gw,
		Invoices: invs,
		Clients: fakeClients{byID: map[string]store.Client{
			testClientID: {ID: testClientID, Email: "billing@acme.test", Name: "Acme Podcasts"},
		}},
		Log:      zerolog.Nop(),
		BaseURL:  "https://invoices.example.com",
		Currency: "usd",
	}
}

func TestChargeSavedCardSuccess(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	var gotCharge payment.ChargeParams
	gw := &fakeGateway{
		charge: func(p payment.ChargeParams) (payment.ChargeResult, error) {
			gotCharge = p
			return payment.ChargeResult{Status: payment.StatusSucceeded, IntentID: "pi_ok"}, nil
		},
	}
	svc := newService(gw, invs)

	inv, err := svc.ChargeSavedCard(context.Background(), testInvoiceID)
	require.NoError(t, err)
	require.True(t, inv.Paid())
	require.Equal(t, "card", inv.PaymentMethod)
	require.Equal(t, int64(1999), gotCharge.AmountMinor)
	require.Equal(t, "invoice-"+testInvoiceID+"-charge-1", gotCharge.IdempotencyKey)
	require.Equal(t, "pi_ok", inv.StripePaymentIntentID)
	require.Equal(t, "cus_test", inv.StripeCustomerID)
}

func TestChargeSavedCardFractionalCentRounding(t *testing.T) {
	inv := pendingInvoice()
	inv.InvoicedAmount = 10.005
	invs := newFakeInvoices(inv)
	var gotAmount int64
	gw := &fakeGateway{
		charge: func(p payment.ChargeParams) (payment.ChargeResult, error) {
			gotAmount = p.AmountMinor
			return payment.ChargeResult{Status: payment.StatusSucceeded, IntentID: "pi_ok"}, nil
		},
	}
	_, err := newService(gw, invs).ChargeSavedCard(context.Background(), testInvoiceID)
	require.NoError(t, err)
	require.Equal(t, int64(1001), gotAmount)
}

func TestPaidInvoiceFailsFastWithoutGatewayCalls(t *testing.T) {
	paid := pendingInvoice()
	now := time.Now()
	paid.DatePaid = &now

	cases := map[string]func(*payment.Service) error{
		"charge": func(s *payment.Service) error {
			_, err := s.ChargeSavedCard(context.Background(), testInvoiceID)
			return err
		},
		"intent": func(s *payment.Service) error {
			_, err := s.CreateIntent(context.Background(), testInvoiceID, 19.99, "USD", false)
			return err
		},
		"checkout": func(s *payment.Service) error {
			_, err := s.CreateCheckoutSession(context.Background(), testInvoiceID, 19.99, "USD")
			return err
		},
	}
	for name, run := range cases {
		gw := &fakeGateway{}
		svc := newService(gw, newFakeInvoices(paid))
		err := run(svc)
		require.Error(t, err, name)
		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr, name)
		require.Equal(t, "ALREADY_PAID", appErr.Code, name)
		require.Zero(t, gw.callCount(), name)
	}
}

func TestChargeSavedCardNoSavedMethod(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	gw := &fakeGateway{
		listMethods: func(string) ([]payment.SavedMethod, error) { return nil, nil },
	}
	_, err := newService(gw, invs).ChargeSavedCard(context.Background(), testInvoiceID)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "NO_SAVED_METHOD", appErr.Code)

	inv, _ := invs.FindByID(context.Background(), testInvoiceID)
	require.False(t, inv.Paid())
}

func TestChargeSavedCardPicksNewestMethod(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	var gotMethod string
	gw := &fakeGateway{
		listMethods: func(string) ([]payment.SavedMethod, error) {
			return []payment.SavedMethod{
				{ID: "pm_old", Created: 100},
				{ID: "pm_new", Created: 300},
				{ID: "pm_mid", Created: 200},
			}, nil
		},
		charge: func(p payment.ChargeParams) (payment.ChargeResult, error) {
			gotMethod = p.MethodID
			return payment.ChargeResult{Status: payment.StatusSucceeded, IntentID: "pi_ok"}, nil
		},
	}
	_, err := newService(gw, invs).ChargeSavedCard(context.Background(), testInvoiceID)
	require.NoError(t, err)
	require.Equal(t, "pm_new", gotMethod)
}

func TestChargeSavedCardGatewayDecline(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	gw := &fakeGateway{
		charge: func(payment.ChargeParams) (payment.ChargeResult, error) {
			return payment.ChargeResult{}, &payment.GatewayError{
				Message: "Your card was declined.",
				Code:    "card_declined",
				Type:    "card_error",
			}
		},
	}
	_, err := newService(gw, invs).ChargeSavedCard(context.Background(), testInvoiceID)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "GATEWAY_ERROR", appErr.Code)
	require.Equal(t, "Your card was declined.", appErr.Message)

	inv, _ := invs.FindByID(context.Background(), testInvoiceID)
	require.False(t, inv.Paid())
}

func TestChargeSavedCardGapLeavesIntentForReconciliation(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	invs.markPaidErr = errors.New("connection reset")
	gw := &fakeGateway{}

	_, err := newService(gw, invs).ChargeSavedCard(context.Background(), testInvoiceID)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "INTERNAL", appErr.Code)

	// The intent id must already be on record so a later sweep can settle.
	invs.markPaidErr = nil
	inv, _ := invs.FindByID(context.Background(), testInvoiceID)
	require.Equal(t, "pi_test", inv.StripePaymentIntentID)
	require.False(t, inv.Paid())
}

func TestConcurrentChargesSettleOnce(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	gw := &fakeGateway{}
	svc := newService(gw, invs)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.ChargeSavedCard(context.Background(), testInvoiceID)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, invs.markPaidWins)
	inv, _ := invs.FindByID(context.Background(), testInvoiceID)
	require.True(t, inv.Paid())
}

func TestEnsureCustomerLosingRaceAdoptsWinner(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	// Another request already persisted a customer id between this request's
	// read and its conditional write.
	_, err := invs.SetStripeCustomerID(context.Background(), testInvoiceID, "cus_winner")
	require.NoError(t, err)

	var gotCustomer string
	gw := &fakeGateway{
		charge: func(p payment.ChargeParams) (payment.ChargeResult, error) {
			gotCustomer = p.CustomerID
			return payment.ChargeResult{Status: payment.StatusSucceeded, IntentID: "pi_ok"}, nil
		},
	}
	_, err = newService(gw, invs).ChargeSavedCard(context.Background(), testInvoiceID)
	require.NoError(t, err)
	require.Equal(t, "cus_winner", gotCustomer)
}

func TestCreateIntentRecordsBookkeepingWithoutPaying(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	var gotParams payment.IntentParams
	gw := &fakeGateway{
		createIntent: func(p payment.IntentParams) (payment.Intent, error) {
			gotParams = p
			return payment.Intent{ClientSecret: "secret", IntentID: "pi_intent"}, nil
		},
	}
	intent, err := newService(gw, invs).CreateIntent(context.Background(), testInvoiceID, 30, "USD", true)
	require.NoError(t, err)
	require.Equal(t, "secret", intent.ClientSecret)
	require.True(t, gotParams.SaveForFutureUse)
	require.Equal(t, int64(3000), gotParams.AmountMinor)
	require.Equal(t, "USD", gotParams.Currency)

	inv, _ := invs.FindByID(context.Background(), testInvoiceID)
	require.False(t, inv.Paid())
	require.Equal(t, "cus_test", inv.StripeCustomerID)
	require.Equal(t, "pi_intent", inv.StripePaymentIntentID)
}

func TestCreateCheckoutSessionURLs(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	var gotParams payment.CheckoutParams
	gw := &fakeGateway{
		createCheckout: func(p payment.CheckoutParams) (payment.CheckoutSession, error) {
			gotParams = p
			return payment.CheckoutSession{SessionID: "cs_1", URL: "https://pay.example/cs_1"}, nil
		},
	}
	session, err := newService(gw, invs).CreateCheckoutSession(context.Background(), testInvoiceID, 19.99, "USD")
	require.NoError(t, err)
	require.Equal(t, "cs_1", session.SessionID)
	require.Equal(t, "https://invoices.example.com/payment/success?session_id={CHECKOUT_SESSION_ID}", gotParams.SuccessURL)
	require.Equal(t, "https://invoices.example.com/invoice/"+testInvoiceID, gotParams.CancelURL)

	inv, _ := invs.FindByID(context.Background(), testInvoiceID)
	require.False(t, inv.Paid())
}

func TestVerifySucceededSettlesInvoice(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	gw := &fakeGateway{
		retrieveIntent: func(string) (payment.IntentStatus, error) {
			return payment.IntentStatus{
				Status:      payment.StatusSucceeded,
				InvoiceID:   testInvoiceID,
				MethodTypes: []string{"card"},
			}, nil
		},
	}
	svc := newService(gw, invs)

	result, err := svc.Verify(context.Background(), "pi_done")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.False(t, result.AlreadyRecorded)
	require.Equal(t, testInvoiceID, result.InvoiceID)
	require.NotNil(t, result.Invoice)
	require.True(t, result.Invoice.Paid())
	require.Equal(t, "card", result.Invoice.PaymentMethod)
}

func TestVerifyReplayIsNoOpSuccess(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	gw := &fakeGateway{
		retrieveIntent: func(string) (payment.IntentStatus, error) {
			return payment.IntentStatus{
				Status:      payment.StatusSucceeded,
				InvoiceID:   testInvoiceID,
				MethodTypes: []string{"card"},
			}, nil
		},
	}
	svc := newService(gw, invs)

	first, err := svc.Verify(context.Background(), "pi_done")
	require.NoError(t, err)
	firstPaidAt := *first.Invoice.DatePaid

	second, err := svc.Verify(context.Background(), "pi_done")
	require.NoError(t, err)
	require.True(t, second.Success)
	require.True(t, second.AlreadyRecorded)
	require.Equal(t, firstPaidAt, *second.Invoice.DatePaid)
	require.Equal(t, 1, invs.markPaidWins)
}

func TestVerifyNonSucceededReportsWithoutError(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	gw := &fakeGateway{
		retrieveIntent: func(string) (payment.IntentStatus, error) {
			return payment.IntentStatus{Status: "requires_action", InvoiceID: testInvoiceID}, nil
		},
	}
	result, err := newService(gw, invs).Verify(context.Background(), "pi_pending")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "requires_action", result.Status)

	inv, _ := invs.FindByID(context.Background(), testInvoiceID)
	require.False(t, inv.Paid())
}

func TestReconcileSettlesPendingIntents(t *testing.T) {
	settled := pendingInvoice()
	settled.StripePaymentIntentID = "pi_settled"
	stuck := pendingInvoice()
	stuck.ID = "0123456789abcdef01234567"
	stuck.StripePaymentIntentID = "pi_stuck"
	noIntent := pendingInvoice()
	noIntent.ID = "76543210fedcba9876543210"

	invs := newFakeInvoices(settled, stuck, noIntent)
	gw := &fakeGateway{
		retrieveIntent: func(intentID string) (payment.IntentStatus, error) {
			if intentID == "pi_settled" {
				return payment.IntentStatus{
					Status:      payment.StatusSucceeded,
					InvoiceID:   settled.ID,
					MethodTypes: []string{"card"},
				}, nil
			}
			return payment.IntentStatus{Status: "requires_payment_method"}, nil
		},
	}
	res, err := newService(gw, invs).Reconcile(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 2, res.Checked)
	require.Equal(t, 1, res.Reconciled)

	inv, _ := invs.FindByID(context.Background(), settled.ID)
	require.True(t, inv.Paid())
	inv, _ = invs.FindByID(context.Background(), stuck.ID)
	require.False(t, inv.Paid())
}

func TestChargeUnknownInvoice(t *testing.T) {
	gw := &fakeGateway{}
	_, err := newService(gw, newFakeInvoices()).ChargeSavedCard(context.Background(), testInvoiceID)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "NOT_FOUND", appErr.Code)
	require.Zero(t, gw.callCount())
}

func TestChargeIdempotencyKeyAdvancesPerAttempt(t *testing.T) {
	invs := newFakeInvoices(pendingInvoice())
	var keys []string
	gw := &fakeGateway{
		charge: func(p payment.ChargeParams) (payment.ChargeResult, error) {
			keys = append(keys, p.IdempotencyKey)
			return payment.ChargeResult{}, &payment.GatewayError{Message: "declined", Code: "card_declined", Type: "card_error"}
		},
	}
	svc := newService(gw, invs)
	for i := 0; i < 2; i++ {
		_, err := svc.ChargeSavedCard(context.Background(), testInvoiceID)
		require.Error(t, err)
	}
	require.Equal(t, []string{
		fmt.Sprintf("invoice-%s-charge-1", testInvoiceID),
		fmt.Sprintf("invoice-%s-charge-2", testInvoiceID),
	}, keys)
}
