package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/loyalty"
)

// Envelope is the fixed response shape for every endpoint.
type Envelope struct {
	Status  bool       `json:"status"`
	Message string     `json:"message"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the machine-readable failure detail.
type ErrorBody struct {
	Code        string `json:"code"`
	RequestID   string `json:"request_id,omitempty"`
	Description string `json:"description"`
}

func (h *Handler) respond(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Status: true, Message: message, Data: data})
}

// respondErr maps err onto the wire taxonomy. Unrecognized errors are
// logged with full context and surfaced as a generic internal error.
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := loyalty.HTTPStatus(err)
	code := loyalty.Code(err)

	description := err.Error()
	if code == "internal_error" {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err,
		)
		description = "unexpected internal error"
	}

	writeJSON(w, status, Envelope{
		Status:  false,
		Message: strings.ReplaceAll(code, "_", " "),
		Error: &ErrorBody{
			Code:        code,
			RequestID:   chimw.GetReqID(r.Context()),
			Description: description,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // headers already sent
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return loyalty.ValidationError{Field: "body", Message: "malformed json"}
	}
	return nil
}
