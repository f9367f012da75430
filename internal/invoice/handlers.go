package invoice

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-invoicing/internal/common"
	"github.com/noah-isme/backend-invoicing/internal/store"
)

// Handler exposes invoice listing, detail, creation, and PDF export.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Mount registers the invoice routes on the router.
func (h Handler) Mount(r chi.Router) {
	r.Get("/invoices", h.List)
	r.Post("/invoices", h.Create)
	r.Get("/invoices/{id}", h.Get)
	r.Get("/invoices/{id}/pdf", h.PDF)
}

// List returns the invoices visible to the caller.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	invoices, err := h.Svc.List(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if invoices == nil {
		invoices = []store.Invoice{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

// Get returns a single invoice.
func (h Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	inv, err := h.Svc.Get(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"invoice": inv})
}

// Create records a new pending invoice for the caller's client record.
func (h Handler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", err.Error())
		return
	}
	inv, err := h.Svc.Create(r.Context(), id, in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"invoice": inv})
}

// PDF streams a rendered PDF of the invoice.
func (h Handler) PDF(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	inv, err := h.Svc.Get(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	client, err := h.Svc.Clients.FindByID(r.Context(), inv.ClientID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=invoice-%s.pdf", inv.ID))
	if err := RenderPDF(w, inv, client); err != nil {
		h.Svc.Log.Error().Err(err).Str("invoice_id", inv.ID).Msg("pdf render failed")
	}
}
