package payments

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Router returns the billing HTTP surface, meant to be mounted under a
// path prefix such as /payments.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", s.createSubscription)
		r.Route("/{subscriptionID}", func(r chi.Router) {
			r.Get("/", s.getSubscription)
			r.Put("/", s.updateSubscription)
			r.Put("/seats", s.setSeats)
			r.Post("/cancel", s.cancelSubscription)
			r.Get("/invoices", s.listInvoices)
		})
	})

	r.Post("/webhooks/{provider}", s.receiveWebhook)

	return r
}
