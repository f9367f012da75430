package client

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-invoicing/internal/common"
	"github.com/noah-isme/backend-invoicing/internal/store"
)

// Handler exposes client administration endpoints. Everything here is
// admin-only: clients never manage their own rates.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Mount registers the client routes on the router.
func (h Handler) Mount(r chi.Router) {
	r.Put("/clients/{id}/rates", h.UpdateRates)
	r.Post("/clients/cleanup", h.Cleanup)
}

type ratesRequest struct {
	Rates []store.Rate `json:"rates" validate:"required,dive"`
}

// UpdateRates replaces a client's billing-rate rules.
func (h Handler) UpdateRates(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req ratesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", err.Error())
		return
	}
	client, err := h.Svc.UpdateRates(r.Context(), chi.URLParam(r, "id"), req.Rates)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"client": client})
}

// Cleanup merges duplicate client records and reports what changed.
func (h Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	report, err := h.Svc.MergeDuplicates(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, report)
}

func (h Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	id, ok := common.IdentityFrom(r.Context())
	if !ok || !id.Admin {
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin access required", nil)
		return false
	}
	return true
}
