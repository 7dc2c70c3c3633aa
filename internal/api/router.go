/**
 * @description
 * HTTP router for the settlement service. Webhooks are public and
 * signature-checked; every other endpoint requires a Clerk JWT.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: routing and standard middleware.
 * - github.com/go-chi/cors: browser CORS handling.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the router's cross-cutting settings.
type RouterConfig struct {
	Auth           func(http.Handler) http.Handler
	AllowedOrigins []string
	WebhookLimiter *IPRateLimiter
}

// NewRouter creates the chi router and registers the settlement routes.
func NewRouter(h *Handlers, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})

	r.Group(func(r chi.Router) {
		if cfg.WebhookLimiter != nil {
			r.Use(cfg.WebhookLimiter.Middleware)
		}
		r.Post("/webhooks/{provider}", h.WebhookHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth)

		r.Route("/service-charges", func(r chi.Router) {
			r.Get("/", h.ListServiceChargesHandler)
			r.Post("/", h.CreateServiceChargeHandler)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetServiceChargeHandler)
				r.Put("/", h.UpdateServiceChargeHandler)
				r.Delete("/", h.CancelServiceChargeHandler)
				r.Post("/mark-paid", h.MarkAsPaidHandler)
				r.Post("/mark-unpaid", h.MarkAsUnpaidHandler)
				r.Post("/payments", h.InitializePaymentHandler)
			})
		})
		r.Get("/payments", h.ListPaymentsHandler)
		r.Get("/payments/verify", h.VerifyPaymentHandler)
	})

	return r
}
