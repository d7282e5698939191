package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/types"
)

type transferRequest struct {
	Amount          int64  `json:"amount"`
	TransactionType string `json:"transaction_type"`
	ReferenceID     string `json:"reference_id"`
	Title           string `json:"title"`
	Narration       string `json:"narration"`
	OrderID         string `json:"order_id"`
}

func (req *transferRequest) transfer(r *http.Request, dir ledger.Direction) *ledger.Transfer {
	return &ledger.Transfer{
		MerchantID:  chi.URLParam(r, "merchantID"),
		CustomerUID: chi.URLParam(r, "uid"),
		Direction:   dir,
		Amount:      types.P(req.Amount),
		Type:        req.TransactionType,
		ReferenceID: req.ReferenceID,
		Title:       req.Title,
		Narration:   req.Narration,
		OrderID:     req.OrderID,
	}
}

// CreditPoints moves points from the merchant pool into the customer's
// account and responds with the appended ledger entry.
func (h *Handler) CreditPoints(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}

	entry, err := h.engine.Credit(r.Context(), req.transfer(r, ledger.DirectionCredit))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, "points credited", entry)
}

// DebitPoints moves points from the customer's account back into the
// merchant pool and responds with the appended ledger entry.
func (h *Handler) DebitPoints(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}

	entry, err := h.engine.Debit(r.Context(), req.transfer(r, ledger.DirectionDebit))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, "points debited", entry)
}

// ListTransactions pages through the customer's ledger entries, newest
// first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	opts := ledger.ListOpts{
		Page:  queryInt(r, "page"),
		Limit: queryInt(r, "limit"),
	}

	entries, err := h.engine.Transactions(r.Context(), chi.URLParam(r, "merchantID"), chi.URLParam(r, "uid"), opts)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, "transactions retrieved", map[string]any{
		"transactions": entries,
		"count":        len(entries),
	})
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}
