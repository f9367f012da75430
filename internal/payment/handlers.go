package payment

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-invoicing/internal/common"
)

// Handler exposes the payment lifecycle over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Mount registers the payment routes on the router.
func (h Handler) Mount(r chi.Router) {
	r.Post("/charge-saved-card", h.ChargeSavedCard)
	r.Post("/create-payment-intent", h.CreateIntent)
	r.Post("/create-checkout-session", h.CreateCheckoutSession)
	r.Get("/payments/verify", h.Verify)
}

type chargeRequest struct {
	InvoiceID string `json:"invoiceId" validate:"required,len=24,hexadecimal"`
}

type intentRequest struct {
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Currency  string  `json:"currency" validate:"omitempty,iso4217"`
	InvoiceID string  `json:"invoiceId" validate:"required,len=24,hexadecimal"`
	SaveCard  bool    `json:"saveCard"`
}

type checkoutRequest struct {
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Currency  string  `json:"currency" validate:"omitempty,iso4217"`
	InvoiceID string  `json:"invoiceId" validate:"required,len=24,hexadecimal"`
}

// ChargeSavedCard charges the invoice to the client's newest saved card.
// Restricted to the admin: only the business owner initiates off-session
// charges.
func (h Handler) ChargeSavedCard(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok || !id.Admin {
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin access required", nil)
		return
	}
	var req chargeRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv, err := h.Svc.ChargeSavedCard(r.Context(), req.InvoiceID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"invoice": inv,
	})
}

// CreateIntent opens a payment intent and returns its client secret for
// in-browser confirmation.
func (h Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if !h.decode(w, r, &req) {
		return
	}
	intent, err := h.Svc.CreateIntent(r.Context(), req.InvoiceID, req.Amount, req.Currency, req.SaveCard)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"clientSecret": intent.ClientSecret,
	})
}

// CreateCheckoutSession opens a hosted checkout session and returns the
// redirect target.
func (h Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.Svc.CreateCheckoutSession(r.Context(), req.InvoiceID, req.Amount, req.Currency)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"id":  session.SessionID,
		"url": session.URL,
	})
}

// Verify reports whether a payment intent settled and reconciles the linked
// invoice when it did. Safe to call repeatedly with the same intent.
func (h Handler) Verify(w http.ResponseWriter, r *http.Request) {
	intentID := r.URL.Query().Get("payment_intent")
	result, err := h.Svc.Verify(r.Context(), intentID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, result)
}

func (h Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return false
	}
	if err := h.Validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", err.Error())
		return false
	}
	return true
}
