// Package httpapi exposes a loyalty Engine over HTTP.
//
// The surface is merchant-scoped REST: point transfers, customer accounts,
// the merchant pool, and webhook configuration. Every response uses one
// envelope shape: {"status": true, "message": ..., "data": ...} on success,
// {"status": false, "message": ..., "error": {...}} on failure. Mutating
// routes are gated by the Idempotency-Key header, scoped to the merchant in
// the URL, so retries replay the recorded response instead of re-running.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/loyalty"
)

// Handler serves the HTTP API over an Engine.
type Handler struct {
	engine *loyalty.Engine
	logger *slog.Logger
}

// NewHandler creates a Handler over the given engine.
func NewHandler(e *loyalty.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine: e,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Option configures a Handler instance.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// Router returns a ready-to-serve handler with the base middleware chain
// and the full route table mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.logRequests)
	h.Routes(r)
	return r
}

// Routes mounts the API endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Get("/customers/{uid}/accounts", h.ListCustomerAccounts)

	r.Route("/merchants/{merchantID}", func(r chi.Router) {
		r.Route("/pool", func(r chi.Router) {
			r.Get("/", h.GetPool)
			r.With(h.idempotent).Post("/", h.CreatePool)
			r.With(h.idempotent).Post("/credit", h.CreditPool)
		})

		r.Route("/customers", func(r chi.Router) {
			r.With(h.idempotent).Post("/", h.CreateCustomer)
			r.Get("/{uid}", h.GetCustomer)
			r.Get("/{uid}/transactions", h.ListTransactions)
			r.With(h.idempotent).Post("/{uid}/credit", h.CreditPoints)
			r.With(h.idempotent).Post("/{uid}/debit", h.DebitPoints)
		})

		r.Put("/webhook", h.SetWebhook)
	})
}

// Health reports liveness and store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, "ok", nil)
}

// statusWriter records the status code a downstream handler wrote.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(sw, r)

		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}
