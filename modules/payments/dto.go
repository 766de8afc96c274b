package payments

import (
	"time"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

type subscriptionResponse struct {
	ID                 string     `json:"id"`
	OrganizationID     string     `json:"organization_id"`
	Provider           string     `json:"provider"`
	PlanID             string     `json:"plan_id"`
	Status             string     `json:"status"`
	Seats              int        `json:"seats"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	Interval           string     `json:"interval"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	PendingPlanID      string     `json:"pending_plan_id,omitempty"`
	PendingSeats       *int       `json:"pending_seats,omitempty"`
	PastDueSince       *time.Time `json:"past_due_since,omitempty"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toSubscriptionResponse(sub *billing.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                 sub.ID.String(),
		OrganizationID:     sub.OrganizationID.String(),
		Provider:           sub.Provider,
		PlanID:             sub.PlanID,
		Status:             string(sub.Status),
		Seats:              sub.Seats,
		Amount:             sub.Amount,
		Currency:           sub.Currency,
		Interval:           string(sub.Interval),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		PendingPlanID:      sub.PendingPlanID,
		PendingSeats:       sub.PendingSeats,
		PastDueSince:       sub.PastDueSince,
		CanceledAt:         sub.CanceledAt,
		CreatedAt:          sub.CreatedAt,
	}
}

type invoiceResponse struct {
	ID                string     `json:"id"`
	SubscriptionID    string     `json:"subscription_id"`
	Provider          string     `json:"provider"`
	ProviderInvoiceID string     `json:"provider_invoice_id"`
	Status            string     `json:"status"`
	AmountTotal       int64      `json:"amount_total"`
	AmountPaid        int64      `json:"amount_paid"`
	Currency          string     `json:"currency"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toInvoiceResponse(inv *billing.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:                inv.ID.String(),
		SubscriptionID:    inv.SubscriptionID.String(),
		Provider:          inv.Provider,
		ProviderInvoiceID: inv.ProviderInvoiceID,
		Status:            string(inv.Status),
		AmountTotal:       inv.AmountTotal,
		AmountPaid:        inv.AmountPaid,
		Currency:          inv.Currency,
		DueDate:           inv.DueDate,
		PaidAt:            inv.PaidAt,
		CreatedAt:         inv.CreatedAt,
	}
}

type createSubscriptionRequest struct {
	OrganizationID string `json:"organization_id"`
	PlanID         string `json:"plan_id"`
	Provider       string `json:"provider"`
	Seats          int    `json:"seats"`
	Email          string `json:"email,omitempty"`
	SuccessURL     string `json:"success_url,omitempty"`
	CancelURL      string `json:"cancel_url,omitempty"`
}

type createSubscriptionResponse struct {
	Subscription subscriptionResponse `json:"subscription"`
	CheckoutURL  string               `json:"checkout_url,omitempty"`
}

type updateSubscriptionRequest struct {
	PlanID string `json:"plan_id,omitempty"`
	Seats  *int   `json:"seats,omitempty"`
}

type setSeatsRequest struct {
	Seats int  `json:"seats"`
	Force bool `json:"force,omitempty"`
}

type changeResponse struct {
	Subscription subscriptionResponse `json:"subscription"`
	Proration    int64                `json:"proration"`
}

type cancelRequest struct {
	AtPeriodEnd bool   `json:"at_period_end"`
	Reason      string `json:"reason,omitempty"`
}

type webhookResponse struct {
	Received  bool `json:"received"`
	Processed bool `json:"processed"`
}

type errorResponse struct {
	Error string `json:"error"`
}
