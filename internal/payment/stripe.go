package payment

import (
	"context"
	"errors"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
)

// Stripe implements the Gateway interface against the Stripe API.
type Stripe struct{}

// NewStripe configures the Stripe SDK with the secret key and returns the
// gateway. The key is a process-wide setting in the SDK.
func NewStripe(secretKey string) Stripe {
	stripe.Key = secretKey
	return Stripe{}
}

// EnsureCustomer creates a remote customer for the client. The deterministic
// idempotency key makes replays return the already-created customer instead
// of minting duplicates.
func (Stripe) EnsureCustomer(ctx context.Context, p CustomerParams) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(p.Email),
	}
	if strings.TrimSpace(p.Name) != "" {
		params.Name = stripe.String(p.Name)
	}
	params.Context = ctx
	params.AddMetadata("clientId", p.ClientID)
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	c, err := customer.New(params)
	if err != nil {
		return "", wrapStripeErr(err)
	}
	return c.ID, nil
}

// ListSavedCardMethods lists the customer's stored cards. The API's ordering
// is opaque; callers must not assume it is sorted by any visible field.
func (Stripe) ListSavedCardMethods(ctx context.Context, customerID string) ([]SavedMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx
	iter := paymentmethod.List(params)
	var out []SavedMethod
	for iter.Next() {
		pm := iter.PaymentMethod()
		m := SavedMethod{ID: pm.ID, Created: pm.Created}
		if pm.Card != nil {
			m.Brand = string(pm.Card.Brand)
			m.Last4 = pm.Card.Last4
		}
		out = append(out, m)
	}
	if err := iter.Err(); err != nil {
		return nil, wrapStripeErr(err)
	}
	return out, nil
}

// ChargeSavedMethod creates and immediately confirms an off-session charge.
func (Stripe) ChargeSavedMethod(ctx context.Context, p ChargeParams) (ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(p.AmountMinor),
		Currency:      stripe.String(strings.ToLower(p.Currency)),
		Customer:      stripe.String(p.CustomerID),
		PaymentMethod: stripe.String(p.MethodID),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata("invoiceId", p.InvoiceID)
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return ChargeResult{}, wrapStripeErr(err)
	}
	return ChargeResult{Status: string(pi.Status), IntentID: pi.ID}, nil
}

// CreateIntent opens an unconfirmed payment intent for on-session card entry.
func (Stripe) CreateIntent(ctx context.Context, p IntentParams) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.AmountMinor),
		Currency: stripe.String(strings.ToLower(p.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("invoiceId", p.InvoiceID)
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	if p.SaveForFutureUse {
		params.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return Intent{}, wrapStripeErr(err)
	}
	return Intent{ClientSecret: pi.ClientSecret, IntentID: pi.ID}, nil
}

// CreateCheckoutSession opens a hosted one-item checkout for the invoice.
func (Stripe) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(p.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Invoice Payment"),
					},
					UnitAmount: stripe.Int64(p.AmountMinor),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("invoiceId", p.InvoiceID)
	s, err := session.New(params)
	if err != nil {
		return CheckoutSession{}, wrapStripeErr(err)
	}
	return CheckoutSession{SessionID: s.ID, URL: s.URL}, nil
}

// RetrieveIntent fetches the current status of a payment intent.
func (Stripe) RetrieveIntent(ctx context.Context, intentID string) (IntentStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return IntentStatus{}, wrapStripeErr(err)
	}
	st := IntentStatus{Status: string(pi.Status)}
	if pi.Metadata != nil {
		st.InvoiceID = pi.Metadata["invoiceId"]
	}
	for _, mt := range pi.PaymentMethodTypes {
		st.MethodTypes = append(st.MethodTypes, mt)
	}
	return st, nil
}

// wrapStripeErr converts SDK errors into GatewayError, preserving the
// processor's message/code/type triple verbatim.
func wrapStripeErr(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return &GatewayError{
			Message: se.Msg,
			Code:    string(se.Code),
			Type:    string(se.Type),
		}
	}
	return err
}
