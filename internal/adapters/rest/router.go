package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tillpoint/internal/observability"
)

// NewRouter wires the boundary routes and middleware.
func NewRouter(h *Handler, metrics *observability.Metrics) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/checkout", h.Checkout)
	r.Post("/payment", h.Payment)
	r.Get("/sales/{id}", h.Sale)
	r.Get("/ws", h.Feed)
	r.Method(http.MethodGet, "/metrics", observability.Handler(metrics))

	return r
}
