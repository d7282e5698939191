package httpapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/loyalty/idempotency"
)

// Idempotency headers.
const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
)

// errUnrecorded marks a response that passes through without being captured:
// only successful completions create idempotency records, so a failed call
// leaves the key available for a retry.
var errUnrecorded = errors.New("httpapi: response not recorded")

// responseRecorder captures status and body without writing to the client.
// The middleware writes exactly once after the keeper resolves which
// response the key maps to, so repeats stay byte-identical.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(code int) { r.status = code }

func (r *responseRecorder) Write(b []byte) (int, error) {
	return r.body.Write(b)
}

// idempotent gates a mutating route behind the Idempotency-Key header,
// scoped to the merchant in the URL. Repeats within the retention window
// replay the recorded response verbatim with Idempotent-Replayed set.
func (h *Handler) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderIdempotencyKey)
		if err := idempotency.ValidateKey(key); err != nil {
			h.respondErr(w, r, err)
			return
		}

		caller := chi.URLParam(r, "merchantID")
		rec := newRecorder()

		status, body, replayed, err := h.engine.Idempotent(r.Context(), caller, key, func(ctx context.Context) (int, []byte, error) {
			next.ServeHTTP(rec, r.WithContext(ctx))
			if rec.status >= http.StatusMultipleChoices {
				return 0, nil, errUnrecorded
			}
			return rec.status, rec.body.Bytes(), nil
		})

		switch {
		case errors.Is(err, errUnrecorded):
			writeRaw(w, rec.status, rec.body.Bytes())
		case err != nil:
			h.respondErr(w, r, err)
		default:
			if replayed {
				w.Header().Set(HeaderIdempotentReplayed, "true")
			}
			writeRaw(w, status, body)
		}
	})
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body) //nolint:errcheck // headers already sent
}
