package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createCustomerRequest struct {
	UID string `json:"uid"`
}

// CreateCustomer opens an account for the customer with this merchant.
// Re-creating an existing account responds with the account as it stands.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}

	account, err := h.engine.CreateAccount(r.Context(), chi.URLParam(r, "merchantID"), req.UID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, http.StatusCreated, "account created", account)
}

// GetCustomer responds with the customer's account and balance.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	account, err := h.engine.Account(r.Context(), chi.URLParam(r, "merchantID"), chi.URLParam(r, "uid"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, "account retrieved", account)
}

// ListCustomerAccounts responds with the customer's accounts across all
// merchants.
func (h *Handler) ListCustomerAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.engine.AccountsByUID(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, "accounts retrieved", map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}
