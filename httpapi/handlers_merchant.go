package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/loyalty/types"
)

type createPoolRequest struct {
	OpeningBalance int64 `json:"opening_balance"`
}

// CreatePool funds the merchant's point pool with an opening balance.
func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}

	pool, err := h.engine.CreatePool(r.Context(), chi.URLParam(r, "merchantID"), types.P(req.OpeningBalance))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, http.StatusCreated, "pool created", pool)
}

type creditPoolRequest struct {
	Amount int64 `json:"amount"`
}

// CreditPool tops up the merchant's point pool.
func (h *Handler) CreditPool(w http.ResponseWriter, r *http.Request) {
	var req creditPoolRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}

	pool, err := h.engine.CreditPool(r.Context(), chi.URLParam(r, "merchantID"), types.P(req.Amount))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, "pool credited", pool)
}

// GetPool responds with the merchant's pool balance.
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.engine.Pool(r.Context(), chi.URLParam(r, "merchantID"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, "pool retrieved", pool)
}

type setWebhookRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

// SetWebhook registers or replaces the merchant's webhook endpoint.
func (h *Handler) SetWebhook(w http.ResponseWriter, r *http.Request) {
	var req setWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}

	if err := h.engine.SetWebhookEndpoint(r.Context(), chi.URLParam(r, "merchantID"), req.URL, req.Secret); err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, "webhook configured", map[string]string{
		"url": req.URL,
	})
}
