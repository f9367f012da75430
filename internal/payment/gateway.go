package payment

import "context"

// Intent statuses reported by the gateway that the coordinator branches on.
// Anything other than StatusSucceeded leaves the invoice untouched.
const StatusSucceeded = "succeeded"

// GatewayError carries the processor's rejection verbatim so callers can
// branch on gateway-specific codes.
type GatewayError struct {
	Message string
	Code    string
	Type    string
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// SavedMethod is a stored card handle on a gateway customer.
type SavedMethod struct {
	ID      string
	Brand   string
	Last4   string
	Created int64
}

// CustomerParams describes a remote customer to create. The idempotency key
// is derived from the invoice id so near-simultaneous first-time charges
// cannot mint duplicate remote customers.
type CustomerParams struct {
	Email          string
	Name           string
	ClientID       string
	IdempotencyKey string
}

// ChargeParams describes an off-session charge of a saved method.
type ChargeParams struct {
	CustomerID     string
	MethodID       string
	AmountMinor    int64
	Currency       string
	InvoiceID      string
	IdempotencyKey string
}

// ChargeResult is the gateway's answer to a create-and-confirm charge.
type ChargeResult struct {
	Status   string
	IntentID string
}

// IntentParams describes an interactive (on-session) payment intent.
type IntentParams struct {
	AmountMinor      int64
	Currency         string
	CustomerID       string
	InvoiceID        string
	SaveForFutureUse bool
}

// Intent is a created-but-unconfirmed payment intent; the caller's browser
// drives confirmation with the client secret.
type Intent struct {
	ClientSecret string
	IntentID     string
}

// CheckoutParams describes a hosted checkout session.
type CheckoutParams struct {
	AmountMinor int64
	Currency    string
	InvoiceID   string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is a created hosted checkout session.
type CheckoutSession struct {
	SessionID string
	URL       string
}

// IntentStatus is the gateway's current view of a payment intent. InvoiceID
// comes from the intent metadata, the only linkage between the two systems.
type IntentStatus struct {
	Status      string
	InvoiceID   string
	MethodTypes []string
}

// Gateway abstracts the operations required from the upstream payment
// processor. All amounts cross this boundary in integer minor units.
type Gateway interface {
	EnsureCustomer(ctx context.Context, p CustomerParams) (string, error)
	ListSavedCardMethods(ctx context.Context, customerID string) ([]SavedMethod, error)
	ChargeSavedMethod(ctx context.Context, p ChargeParams) (ChargeResult, error)
	CreateIntent(ctx context.Context, p IntentParams) (Intent, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error)
	RetrieveIntent(ctx context.Context, intentID string) (IntentStatus, error)
}
