/**
 * @description
 * HTTP router for the debt service. Public routes serve the payment page and
 * the gateway webhook; operator routes administer debtors and record cash
 * payments; debtor routes expose the debtor's own account.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: Routing and standard middleware.
 * - github.com/go-chi/cors: CORS for the browser-facing endpoints.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the router for the debt service.
func NewRouter(h *Handlers, operatorSecret string, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Post("/gateway/callback", h.GatewayCallbackHandler)

	// Public payment page and debtor session routes.
	r.HandleFunc("/bills", h.CreateBillHandler)
	r.Post("/auth/login", h.LoginHandler)
	r.Group(func(r chi.Router) {
		r.Use(DebtorAuthMiddleware(h.service))
		r.Get("/me", h.GetAccountHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(OperatorAuthMiddleware(operatorSecret))

		r.Route("/debtors", func(r chi.Router) {
			r.Post("/", h.CreateDebtorHandler)
			r.Get("/", h.ListDebtorsHandler)
			r.Get("/{id}", h.GetDebtorHandler)
			r.Patch("/{id}", h.UpdateDebtorHandler)
			r.Delete("/{id}", h.DeleteDebtorHandler)
			r.Post("/{id}/password", h.ResetPasswordHandler)
			r.Post("/{id}/payments", h.ManualPaymentHandler)
			r.Get("/{id}/transactions", h.ListTransactionsHandler)
		})
	})

	return r
}
