package payments

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/plans"
	"github.com/dmitrymomot/billingkit/pkg/provider"
	"github.com/dmitrymomot/billingkit/pkg/seats"
)

// maxWebhookBody caps inbound webhook payloads. Providers send small
// JSON envelopes; anything larger is abuse.
const maxWebhookBody = 1 << 20

func (s *Service) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("invalid organization_id"))
		return
	}

	res, err := s.manager.Create(r.Context(), lifecycle.CreateCommand{
		OrganizationID: orgID,
		PlanID:         req.PlanID,
		Provider:       req.Provider,
		Seats:          req.Seats,
		Email:          req.Email,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, createSubscriptionResponse{
		Subscription: toSubscriptionResponse(res.Subscription),
		CheckoutURL:  res.CheckoutURL,
	})
}

func (s *Service) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := s.subscriptionID(w, r)
	if !ok {
		return
	}
	sub, err := s.manager.Get(r.Context(), subID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// updateSubscription applies a plan and/or seat change. Both together are
// confirmed with the provider once and prorated once.
func (s *Service) updateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := s.subscriptionID(w, r)
	if !ok {
		return
	}
	var req updateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.PlanID == "" && req.Seats == nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("plan_id or seats is required"))
		return
	}

	sub, delta, err := s.manager.Change(r.Context(), subID, lifecycle.ChangeCommand{
		PlanID: req.PlanID,
		Seats:  req.Seats,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, changeResponse{
		Subscription: toSubscriptionResponse(sub),
		Proration:    delta,
	})
}

func (s *Service) setSeats(w http.ResponseWriter, r *http.Request) {
	subID, ok := s.subscriptionID(w, r)
	if !ok {
		return
	}
	var req setSeatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	sub, delta, err := s.manager.SetSeats(r.Context(), subID, req.Seats, req.Force)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, changeResponse{
		Subscription: toSubscriptionResponse(sub),
		Proration:    delta,
	})
}

func (s *Service) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := s.subscriptionID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
			return
		}
	}

	sub, err := s.manager.Cancel(r.Context(), subID, req.AtPeriodEnd, req.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (s *Service) listInvoices(w http.ResponseWriter, r *http.Request) {
	subID, ok := s.subscriptionID(w, r)
	if !ok {
		return
	}
	invoices, err := s.manager.Invoices(r.Context(), subID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toInvoiceResponse(inv))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// receiveWebhook acknowledges with 200 once the event is durably recorded,
// regardless of downstream processing outcome; the sweeper owns retries.
// Signature failures get 400 so the provider redelivers after the secret
// is fixed.
func (s *Service) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	header, ok := s.headers.SignatureHeader(providerName)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, errors.New("unknown provider"))
		return
	}
	signature := r.Header.Get(header)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("failed to read payload"))
		return
	}

	processed, err := s.webhook.Receive(r.Context(), providerName, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrSignatureInvalid):
			s.writeError(w, r, http.StatusBadRequest, provider.ErrSignatureInvalid)
		case errors.Is(err, provider.ErrUnsupportedProvider):
			s.writeError(w, r, http.StatusNotFound, err)
		default:
			// Persistence failure: signal the provider to redeliver.
			s.log.ErrorContext(r.Context(), "webhook intake failed",
				logger.Provider(providerName), logger.Error(err))
			s.writeError(w, r, http.StatusInternalServerError, errors.New("intake failed"))
		}
		return
	}

	s.writeJSON(w, http.StatusOK, webhookResponse{Received: true, Processed: processed})
}

func (s *Service) subscriptionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "subscriptionID"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("invalid subscription id"))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", logger.Error(err))
	}
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeDomainError maps domain errors onto HTTP statuses.
func (s *Service) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, billing.ErrSubscriptionNotFound),
		errors.Is(err, billing.ErrInvoiceNotFound),
		errors.Is(err, plans.ErrPlanNotFound):
		status = http.StatusNotFound
	case errors.Is(err, billing.ErrSubscriptionExists),
		errors.Is(err, billing.ErrSubscriptionTerminated),
		errors.Is(err, billing.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrConcurrentModification),
		errors.Is(err, lifecycle.ErrNotBillable):
		status = http.StatusConflict
	case errors.Is(err, seats.ErrSeatLimitViolation),
		errors.Is(err, plans.ErrInvalidConfiguration),
		errors.Is(err, billing.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, provider.ErrProviderRejected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, provider.ErrProviderUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, provider.ErrUnsupportedProvider):
		status = http.StatusBadRequest
	default:
		s.log.ErrorContext(r.Context(), "unhandled domain error", logger.Error(err))
		status = http.StatusInternalServerError
		err = errors.New("internal error")
	}
	s.writeError(w, r, status, err)
}
