package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-invoicing/internal/common"
	"github.com/noah-isme/backend-invoicing/internal/obs"
	"github.com/noah-isme/backend-invoicing/internal/store"
)

// InvoiceStore is the slice of invoice persistence the coordinator needs.
type InvoiceStore interface {
	FindByID(ctx context.Context, id string) (store.Invoice, error)
	SetStripeCustomerID(ctx context.Context, id, customerID string) (bool, error)
	RecordPaymentIntent(ctx context.Context, id, intentID string) error
	IncrementChargeAttempts(ctx context.Context, id string) (int, error)
	MarkPaid(ctx context.Context, id, method string) (bool, error)
	ListPendingWithIntent(ctx context.Context, limit int) ([]store.Invoice, error)
}

// ClientStore resolves the billed party when a remote customer must be created.
type ClientStore interface {
	FindByID(ctx context.Context, id string) (store.Client, error)
}

// Service coordinates the invoice payment lifecycle: it sequences gateway
// calls against conditional store writes so that an invoice transitions
// PENDING -> PAID exactly once no matter which payment path completes first.
type Service struct {
	Gateway  Gateway
	Invoices InvoiceStore
	Clients  ClientStore
	Log      zerolog.Logger

	// BaseURL is the public origin redirect URLs are built from.
	BaseURL string
	// Currency is the ISO currency code charges are denominated in.
	Currency string
}

// VerifyResult reports the outcome of checking a payment intent's status.
// Success is only true for a gateway-confirmed charge; AlreadyRecorded marks
// a replay that found the invoice reconciled by an earlier call.
type VerifyResult struct {
	Success         bool           `json:"success"`
	Status          string         `json:"status"`
	InvoiceID       string         `json:"invoiceId,omitempty"`
	AlreadyRecorded bool           `json:"alreadyRecorded,omitempty"`
	Invoice         *store.Invoice `json:"invoice,omitempty"`
}

func tracer() trace.Tracer {
	return otel.Tracer("payment")
}

func count(vec *prometheus.CounterVec, labels ...string) {
	if vec != nil {
		vec.WithLabelValues(labels...).Inc()
	}
}

// ChargeSavedCard charges the invoice's amount to the newest saved card of
// the invoice's client, off-session. The invoice must be unpaid; the paid
// check runs before any gateway traffic so replays of a settled invoice never
// touch the processor.
func (s *Service) ChargeSavedCard(ctx context.Context, invoiceID string) (store.Invoice, error) {
	ctx, span := tracer().Start(ctx, "payment.ChargeSavedCard",
		trace.WithAttributes(attribute.String("invoice.id", invoiceID)))
	defer span.End()

	inv, err := s.loadUnpaid(ctx, invoiceID)
	if err != nil {
		count(obs.ChargeTotal, "rejected")
		return store.Invoice{}, err
	}
	amountMinor := common.MinorUnits(inv.InvoicedAmount)
	if amountMinor <= 0 {
		count(obs.ChargeTotal, "rejected")
		return store.Invoice{}, errValidation("invoice amount must be positive")
	}

	customerID, err := s.ensureCustomer(ctx, inv)
	if err != nil {
		count(obs.ChargeTotal, "error")
		return store.Invoice{}, err
	}

	methods, err := s.Gateway.ListSavedCardMethods(ctx, customerID)
	if err != nil {
		count(obs.ChargeTotal, "error")
		return store.Invoice{}, asAppError(err)
	}
	if len(methods) == 0 {
		count(obs.ChargeTotal, "no_saved_method")
		return store.Invoice{}, errNoSavedMethod()
	}
	method := newestMethod(methods)

	// The attempt counter feeds the gateway idempotency key: retries of the
	// same attempt replay at the gateway, while a deliberate new attempt
	// gets a fresh key.
	attempt, err := s.Invoices.IncrementChargeAttempts(ctx, inv.ID)
	if err != nil {
		count(obs.ChargeTotal, "error")
		return store.Invoice{}, errInternal("could not record charge attempt", err)
	}

	res, err := s.Gateway.ChargeSavedMethod(ctx, ChargeParams{
		CustomerID:     customerID,
		MethodID:       method.ID,
		AmountMinor:    amountMinor,
		Currency:       s.Currency,
		InvoiceID:      inv.ID,
		IdempotencyKey: fmt.Sprintf("invoice-%s-charge-%d", inv.ID, attempt),
	})
	if res.IntentID != "" {
		if recErr := s.Invoices.RecordPaymentIntent(ctx, inv.ID, res.IntentID); recErr != nil {
			s.Log.Error().Err(recErr).Str("invoice_id", inv.ID).
				Str("payment_intent_id", res.IntentID).
				Msg("failed to persist payment intent id")
		}
	}
	if err != nil {
		count(obs.ChargeTotal, "declined")
		return store.Invoice{}, asAppError(err)
	}
	if res.Status != StatusSucceeded {
		count(obs.ChargeTotal, "not_succeeded")
		appErr := errValidation("charge did not succeed")
		appErr.Code = "CHARGE_NOT_SUCCEEDED"
		appErr.Details = map[string]string{"status": res.Status}
		return store.Invoice{}, appErr
	}

	won, err := s.Invoices.MarkPaid(ctx, inv.ID, "card")
	if err != nil {
		// The gateway took the money but the store write failed. Nothing
		// is lost: the persisted intent id lets the reconciliation sweep
		// settle the invoice on its next pass.
		if obs.ReconciliationGaps != nil {
			obs.ReconciliationGaps.Inc()
		}
		count(obs.ChargeTotal, "gap")
		s.Log.Error().Err(err).Str("invoice_id", inv.ID).
			Str("payment_intent_id", res.IntentID).
			Msg("charge succeeded at gateway but invoice update failed; awaiting reconciliation")
		return store.Invoice{}, errInternal("charge succeeded; invoice update pending reconciliation", err)
	}
	if !won {
		s.Log.Info().Str("invoice_id", inv.ID).Msg("invoice already reconciled by a concurrent path")
	}
	count(obs.ChargeTotal, "succeeded")

	updated, err := s.Invoices.FindByID(ctx, inv.ID)
	if err != nil {
		return store.Invoice{}, errInternal("could not reload invoice", err)
	}
	return updated, nil
}

// CreateIntent opens a payment intent for on-session card entry in the payer's
// browser. The caller supplies the decimal amount; conversion to minor units
// happens here, at the last moment before the gateway boundary. It commits
// nothing on the invoice beyond bookkeeping: the customer id so a saved card
// lands on the right customer, and the intent id so the reconciliation sweep
// can verify an abandoned session later.
func (s *Service) CreateIntent(ctx context.Context, invoiceID string, amount float64, currency string, saveCard bool) (Intent, error) {
	ctx, span := tracer().Start(ctx, "payment.CreateIntent",
		trace.WithAttributes(attribute.String("invoice.id", invoiceID)))
	defer span.End()

	inv, err := s.loadUnpaid(ctx, invoiceID)
	if err != nil {
		count(obs.IntentTotal, "intent", "rejected")
		return Intent{}, err
	}
	amountMinor := common.MinorUnits(amount)
	if amountMinor <= 0 {
		count(obs.IntentTotal, "intent", "rejected")
		return Intent{}, errValidation("amount must be positive")
	}

	customerID, err := s.ensureCustomer(ctx, inv)
	if err != nil {
		count(obs.IntentTotal, "intent", "error")
		return Intent{}, err
	}

	intent, err := s.Gateway.CreateIntent(ctx, IntentParams{
		AmountMinor:      amountMinor,
		Currency:         s.currencyOr(currency),
		CustomerID:       customerID,
		InvoiceID:        inv.ID,
		SaveForFutureUse: saveCard,
	})
	if err != nil {
		count(obs.IntentTotal, "intent", "error")
		return Intent{}, asAppError(err)
	}
	if recErr := s.Invoices.RecordPaymentIntent(ctx, inv.ID, intent.IntentID); recErr != nil {
		s.Log.Error().Err(recErr).Str("invoice_id", inv.ID).
			Str("payment_intent_id", intent.IntentID).
			Msg("failed to persist payment intent id")
	}
	count(obs.IntentTotal, "intent", "created")
	return intent, nil
}

// CreateCheckoutSession opens a hosted checkout page for the invoice and
// returns the redirect URL. The session's intent only materialises when the
// payer submits, so nothing is recorded here; settlement arrives through the
// verify endpoint on the success redirect.
func (s *Service) CreateCheckoutSession(ctx context.Context, invoiceID string, amount float64, currency string) (CheckoutSession, error) {
	ctx, span := tracer().Start(ctx, "payment.CreateCheckoutSession",
		trace.WithAttributes(attribute.String("invoice.id", invoiceID)))
	defer span.End()

	inv, err := s.loadUnpaid(ctx, invoiceID)
	if err != nil {
		count(obs.IntentTotal, "checkout", "rejected")
		return CheckoutSession{}, err
	}
	amountMinor := common.MinorUnits(amount)
	if amountMinor <= 0 {
		count(obs.IntentTotal, "checkout", "rejected")
		return CheckoutSession{}, errValidation("amount must be positive")
	}

	session, err := s.Gateway.CreateCheckoutSession(ctx, CheckoutParams{
		AmountMinor: amountMinor,
		Currency:    s.currencyOr(currency),
		InvoiceID:   inv.ID,
		SuccessURL:  s.BaseURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.BaseURL + "/invoice/" + inv.ID,
	})
	if err != nil {
		count(obs.IntentTotal, "checkout", "error")
		return CheckoutSession{}, asAppError(err)
	}
	count(obs.IntentTotal, "checkout", "created")
	return session, nil
}

// Verify checks a payment intent against the gateway and reconciles the
// linked invoice when the charge succeeded. Verify is idempotent: replaying
// it for an already-reconciled invoice is a no-op success, and a
// non-succeeded intent is reported without error so callers can poll.
func (s *Service) Verify(ctx context.Context, intentID string) (VerifyResult, error) {
	ctx, span := tracer().Start(ctx, "payment.Verify",
		trace.WithAttributes(attribute.String("payment_intent.id", intentID)))
	defer span.End()

	if intentID == "" {
		return VerifyResult{}, errValidation("payment_intent is required")
	}
	st, err := s.Gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return VerifyResult{}, asAppError(err)
	}
	count(obs.VerifyTotal, st.Status)

	if st.Status != StatusSucceeded {
		return VerifyResult{Success: false, Status: st.Status, InvoiceID: st.InvoiceID}, nil
	}
	if st.InvoiceID == "" {
		return VerifyResult{}, errValidation("payment intent carries no invoice reference")
	}

	method := "card"
	if len(st.MethodTypes) > 0 {
		method = st.MethodTypes[0]
	}
	won, err := s.Invoices.MarkPaid(ctx, st.InvoiceID, method)
	if err != nil {
		return VerifyResult{}, errInternal("could not record payment", err)
	}
	inv, err := s.Invoices.FindByID(ctx, st.InvoiceID)
	if err != nil {
		return VerifyResult{}, errInternal("could not reload invoice", err)
	}
	return VerifyResult{
		Success:         true,
		Status:          st.Status,
		InvoiceID:       st.InvoiceID,
		AlreadyRecorded: !won,
		Invoice:         &inv,
	}, nil
}

// SweepResult summarises one reconciliation pass.
type SweepResult struct {
	Checked    int
	Reconciled int
}

// Reconcile sweeps unpaid invoices that have a gateway intent on record and
// settles any whose intent has since succeeded. This closes the gap left by a
// crash or store failure between gateway confirmation and the invoice write.
func (s *Service) Reconcile(ctx context.Context, limit int) (SweepResult, error) {
	ctx, span := tracer().Start(ctx, "payment.Reconcile")
	defer span.End()

	pending, err := s.Invoices.ListPendingWithIntent(ctx, limit)
	if err != nil {
		count(obs.ReconcileSweepTotal, "error")
		return SweepResult{}, err
	}
	res := SweepResult{}
	for _, inv := range pending {
		res.Checked++
		st, err := s.Gateway.RetrieveIntent(ctx, inv.StripePaymentIntentID)
		if err != nil {
			s.Log.Warn().Err(err).Str("invoice_id", inv.ID).
				Str("payment_intent_id", inv.StripePaymentIntentID).
				Msg("reconcile: could not retrieve intent")
			continue
		}
		if st.Status != StatusSucceeded {
			continue
		}
		method := "card"
		if len(st.MethodTypes) > 0 {
			method = st.MethodTypes[0]
		}
		won, err := s.Invoices.MarkPaid(ctx, inv.ID, method)
		if err != nil {
			s.Log.Error().Err(err).Str("invoice_id", inv.ID).Msg("reconcile: mark paid failed")
			continue
		}
		if won {
			res.Reconciled++
			s.Log.Info().Str("invoice_id", inv.ID).
				Str("payment_intent_id", inv.StripePaymentIntentID).
				Msg("reconcile: settled invoice from gateway state")
		}
	}
	count(obs.ReconcileSweepTotal, "ok")
	return res, nil
}

func (s *Service) currencyOr(currency string) string {
	if currency != "" {
		return currency
	}
	return s.Currency
}

// loadUnpaid fetches the invoice and enforces the paid-state fail-fast shared
// by every payment entry point.
func (s *Service) loadUnpaid(ctx context.Context, invoiceID string) (store.Invoice, error) {
	if invoiceID == "" {
		return store.Invoice{}, errValidation("invoiceId is required")
	}
	inv, err := s.Invoices.FindByID(ctx, invoiceID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Invoice{}, errInvoiceNotFound(err)
	}
	if err != nil {
		return store.Invoice{}, errInternal("could not load invoice", err)
	}
	if inv.Paid() {
		return store.Invoice{}, errAlreadyPaid()
	}
	return inv, nil
}

// ensureCustomer returns the gateway customer id for the invoice, creating
// one when absent. Creation uses a deterministic idempotency key and a
// conditional write; the loser of a concurrent first-charge race discards its
// id and adopts the winner's.
func (s *Service) ensureCustomer(ctx context.Context, inv store.Invoice) (string, error) {
	if inv.StripeCustomerID != "" {
		return inv.StripeCustomerID, nil
	}
	client, err := s.Clients.FindByID(ctx, inv.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return "", errValidation("invoice has no resolvable client")
	}
	if err != nil {
		return "", errInternal("could not load client", err)
	}
	customerID, err := s.Gateway.EnsureCustomer(ctx, CustomerParams{
		Email:          client.Email,
		Name:           client.Name,
		ClientID:       client.ID,
		IdempotencyKey: fmt.Sprintf("invoice-%s-customer", inv.ID),
	})
	if err != nil {
		return "", asAppError(err)
	}
	won, err := s.Invoices.SetStripeCustomerID(ctx, inv.ID, customerID)
	if err != nil {
		return "", errInternal("could not persist customer id", err)
	}
	if !won {
		current, err := s.Invoices.FindByID(ctx, inv.ID)
		if err != nil {
			return "", errInternal("could not reload invoice", err)
		}
		if current.StripeCustomerID != "" {
			return current.StripeCustomerID, nil
		}
	}
	return customerID, nil
}

// newestMethod picks the most recently added saved card.
func newestMethod(methods []SavedMethod) SavedMethod {
	best := methods[0]
	for _, m := range methods[1:] {
		if m.Created > best.Created {
			best = m
		}
	}
	return best
}

// asAppError maps gateway rejections onto the API error envelope and passes
// AppErrors through unchanged.
func asAppError(err error) error {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return errGateway(ge)
	}
	if common.IsAppError(err) {
		return err
	}
	return errInternal("payment gateway unavailable", err)
}
