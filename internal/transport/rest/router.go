package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/vpn-billing/internal/auth"
	"github.com/frahmantamala/vpn-billing/internal/payment"
	"github.com/frahmantamala/vpn-billing/internal/transport/middleware"
	"github.com/frahmantamala/vpn-billing/internal/transport/swagger"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// RegisterAllRoutes wires the webhook ingress and the ops API onto the
// router. Webhooks mount at the root so provider dashboards can point at
// /webhook/<provider> directly; everything operator-facing lives under
// /api/v1 behind the auth middleware.
func RegisterAllRoutes(router *chi.Mux, db *sql.DB, authHandler *auth.Handler, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	if webhookHandler != nil {
		webhookHandler.RegisterRoutes(router)
	}

	router.Route("/api/v1", func(r chi.Router) {
		// Body logging stays off the webhook routes so provider signatures
		// never reach the logs.
		r.Use(middleware.LoggingMiddleware(logger))

		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if authHandler != nil {
			r.Post("/auth/token", authHandler.Login)
		}

		if authHandler != nil && paymentHandler != nil {
			r.Group(func(pr chi.Router) {
				pr.Use(authHandler.AuthMiddleware)

				pr.Route("/payments", func(pmr chi.Router) {
					pmr.Get("/", paymentHandler.ListPayments)
					pmr.Get("/stats", paymentHandler.GetStats)
					pmr.Get("/export", paymentHandler.ExportPayments)
					pmr.Get("/{id}", paymentHandler.GetPayment)
				})
			})
		}
	})
}
