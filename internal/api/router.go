package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mamasecure/scanstore/pkg/observability"
)

// NewRouter builds the HTTP routes for the scan session API.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(metricsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.IdentityMiddleware)

		// Reset must stay reachable when the stored sessions are corrupt.
		r.Post("/reset", h.ResetHandler)

		r.Group(func(r chi.Router) {
			r.Use(h.StoreMiddleware)

			r.Get("/sessions", h.ListSessionsHandler)
			r.Post("/sessions", h.CreateSessionHandler)
			r.Get("/sessions/{id}", h.GetSessionHandler)
			r.Patch("/sessions/{id}", h.RenameSessionHandler)
			r.Delete("/sessions/{id}", h.DeleteSessionHandler)
			r.Post("/sessions/{id}/activate", h.ActivateSessionHandler)

			r.Group(func(r chi.Router) {
				if h.limiter != nil {
					r.Use(h.limiter.Middleware)
				}
				r.Post("/scans", h.SubmitScanHandler)
				r.Post("/scans/batch", h.SubmitBatchHandler)
			})
		})
	})

	return r
}

// metricsMiddleware records request counts and latency by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), time.Since(start))
	})
}
