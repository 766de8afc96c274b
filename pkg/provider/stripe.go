package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/invoiceitem"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds configuration for the Stripe adapter.
type StripeConfig struct {
	APIKey        string `env:"STRIPE_API_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// StripeAdapter implements Adapter for Stripe. Stripe is API-based: no
// hosted checkout URL is returned, the subscription is created directly
// against the customer's default payment method.
type StripeAdapter struct {
	webhookSecret string
}

// NewStripeAdapter creates a Stripe adapter.
func NewStripeAdapter(cfg StripeConfig) (*StripeAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.Join(ErrMissingAPIKey, errors.New("stripe"))
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.Join(ErrMissingSecret, errors.New("stripe"))
	}
	stripe.Key = cfg.APIKey
	return &StripeAdapter{webhookSecret: cfg.WebhookSecret}, nil
}

func (a *StripeAdapter) Name() string { return "stripe" }

func (a *StripeAdapter) SignatureHeader() string { return "Stripe-Signature" }

func (a *StripeAdapter) CreateSubscription(ctx context.Context, params CreateParams) (*CreateResult, error) {
	custParams := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(params.Email),
		Metadata: map[string]string{
			"organization_id": params.OrganizationID,
		},
	}
	cust, err := customer.New(custParams)
	if err != nil {
		return nil, classifyStripeErr(err)
	}

	subParams := &stripe.SubscriptionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(cust.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(int64(params.Seats)),
			},
		},
		Metadata: map[string]string{
			"organization_id": params.OrganizationID,
		},
	}
	if params.TrialDays > 0 {
		subParams.TrialPeriodDays = stripe.Int64(int64(params.TrialDays))
	}

	sub, err := subscription.New(subParams)
	if err != nil {
		return nil, classifyStripeErr(err)
	}

	res := &CreateResult{
		ProviderSubID: sub.ID,
		Status:        string(sub.Status),
		Items:         stripeItems(sub),
	}
	res.PeriodStart, res.PeriodEnd = stripePeriod(sub)
	return res, nil
}

func (a *StripeAdapter) UpdateSubscription(ctx context.Context, params UpdateParams) (*UpdateResult, error) {
	sub, err := subscription.Get(params.ProviderSubID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, classifyStripeErr(err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, fmt.Errorf("%w: subscription %s has no items", ErrProviderRejected, params.ProviderSubID)
	}

	// Proration is computed locally by the proration calculator; disable
	// Stripe's own proration so the charge is not applied twice.
	updParams := &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:       stripe.String(sub.Items.Data[0].ID),
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(int64(params.Seats)),
			},
		},
		ProrationBehavior: stripe.String("none"),
	}

	updated, err := subscription.Update(params.ProviderSubID, updParams)
	if err != nil {
		return nil, classifyStripeErr(err)
	}

	return &UpdateResult{
		Status: string(updated.Status),
		Items:  stripeItems(updated),
	}, nil
}

func (a *StripeAdapter) CancelSubscription(ctx context.Context, providerSubID string, atPeriodEnd bool) error {
	if atPeriodEnd {
		_, err := subscription.Update(providerSubID, &stripe.SubscriptionParams{
			Params:            stripe.Params{Context: ctx},
			CancelAtPeriodEnd: stripe.Bool(true),
		})
		if err != nil {
			return classifyStripeErr(err)
		}
		return nil
	}

	_, err := subscription.Cancel(providerSubID, &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return classifyStripeErr(err)
	}
	return nil
}

func (a *StripeAdapter) ChargeNow(ctx context.Context, providerSubID string, amount int64, currencyCode string) error {
	sub, err := subscription.Get(providerSubID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return classifyStripeErr(err)
	}
	if sub.Customer == nil {
		return fmt.Errorf("%w: subscription %s has no customer", ErrProviderRejected, providerSubID)
	}

	_, err = invoiceitem.New(&stripe.InvoiceItemParams{
		Params:      stripe.Params{Context: ctx},
		Customer:    stripe.String(sub.Customer.ID),
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(currencyCode),
		Description: stripe.String("proration adjustment"),
	})
	if err != nil {
		return classifyStripeErr(err)
	}

	inv, err := invoice.New(&stripe.InvoiceParams{
		Params:      stripe.Params{Context: ctx},
		Customer:    stripe.String(sub.Customer.ID),
		AutoAdvance: stripe.Bool(true),
	})
	if err != nil {
		return classifyStripeErr(err)
	}

	if _, err := invoice.Pay(inv.ID, &stripe.InvoicePayParams{
		Params: stripe.Params{Context: ctx},
	}); err != nil {
		return classifyStripeErr(err)
	}
	return nil
}

func (a *StripeAdapter) NormalizeWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, a.webhookSecret)
	if err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}
	return normalizeStripeEvent(event)
}

// normalizeStripeEvent maps a verified Stripe event onto the normalized
// tagged variant. Split from signature verification so it can be tested
// without constructing signed payloads.
func normalizeStripeEvent(event stripe.Event) (*Event, error) {
	out := &Event{
		Kind:            mapStripeEventType(string(event.Type)),
		Provider:        "stripe",
		ProviderEventID: event.ID,
		ProviderEvent:   string(event.Type),
	}

	switch {
	case out.Kind == KindSubscriptionCreated || out.Kind == KindSubscriptionUpdated || out.Kind == KindSubscriptionCanceled:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("parse stripe subscription event: %w", err)
		}
		out.SubscriptionID = sub.ID
		out.Status = string(sub.Status)
		out.OrganizationID = sub.Metadata["organization_id"]
		if sub.Items != nil && len(sub.Items.Data) > 0 {
			item := sub.Items.Data[0]
			if item.Price != nil {
				out.PlanPriceID = item.Price.ID
				out.Amount = item.Price.UnitAmount * item.Quantity
				out.Currency = string(item.Price.Currency)
			}
			out.Seats = int(item.Quantity)
		}
		out.PeriodStart, out.PeriodEnd = stripePeriod(&sub)

	case out.Kind == KindPaymentSucceeded || out.Kind == KindPaymentFailed:
		var inv stripeInvoicePayload
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("parse stripe invoice event: %w", err)
		}
		out.SubscriptionID = inv.subscriptionID()
		out.Invoice = &InvoiceData{
			ProviderInvoiceID: inv.ID,
			Status:            inv.Status,
			AmountTotal:       inv.Total,
			AmountPaid:        inv.AmountPaid,
			Currency:          inv.Currency,
		}
		if inv.DueDate > 0 {
			due := time.Unix(inv.DueDate, 0).UTC()
			out.Invoice.DueDate = &due
		}
		if inv.StatusTransitions.PaidAt > 0 {
			paid := time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
			out.Invoice.PaidAt = &paid
		}
		if inv.PeriodStart > 0 && inv.PeriodEnd > 0 {
			out.PeriodStart = time.Unix(inv.PeriodStart, 0).UTC()
			out.PeriodEnd = time.Unix(inv.PeriodEnd, 0).UTC()
		}

	case out.Kind == KindPaymentMethodAdded:
		var pm stripe.PaymentMethod
		if err := json.Unmarshal(event.Data.Raw, &pm); err != nil {
			return nil, fmt.Errorf("parse stripe payment method event: %w", err)
		}
		out.PaymentMethod = &PaymentMethodData{
			ProviderID: pm.ID,
			Type:       string(pm.Type),
			IsDefault:  true,
		}
		if pm.Card != nil {
			out.PaymentMethod.Brand = string(pm.Card.Brand)
			out.PaymentMethod.Last4 = pm.Card.Last4
		}
		if pm.Customer != nil {
			out.OrganizationID = pm.Customer.Metadata["organization_id"]
		}
	}

	return out, nil
}

// stripeInvoicePayload decodes the fields the engine needs from an invoice
// event. Decoded by hand because the subscription reference moved between
// Stripe API versions.
type stripeInvoicePayload struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Total        int64  `json:"total"`
	AmountPaid   int64  `json:"amount_paid"`
	Currency     string `json:"currency"`
	DueDate      int64  `json:"due_date"`
	PeriodStart  int64  `json:"period_start"`
	PeriodEnd    int64  `json:"period_end"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

func (p stripeInvoicePayload) subscriptionID() string {
	if p.Subscription != "" {
		return p.Subscription
	}
	return p.Parent.SubscriptionDetails.Subscription
}

func mapStripeEventType(eventType string) Kind {
	switch eventType {
	case "customer.subscription.created":
		return KindSubscriptionCreated
	case "customer.subscription.updated":
		return KindSubscriptionUpdated
	case "customer.subscription.deleted":
		return KindSubscriptionCanceled
	case "invoice.paid", "invoice.payment_succeeded":
		return KindPaymentSucceeded
	case "invoice.payment_failed":
		return KindPaymentFailed
	case "payment_method.attached":
		return KindPaymentMethodAdded
	default:
		return KindUnknown
	}
}

func stripeItems(sub *stripe.Subscription) []ItemRef {
	if sub == nil || sub.Items == nil {
		return nil
	}
	items := make([]ItemRef, 0, len(sub.Items.Data))
	for _, item := range sub.Items.Data {
		ref := ItemRef{
			ProviderItemID: item.ID,
			Quantity:       int(item.Quantity),
		}
		if item.Price != nil {
			ref.PriceID = item.Price.ID
			ref.UnitAmount = item.Price.UnitAmount
		}
		items = append(items, ref)
	}
	return items
}

// stripePeriod reads the current period boundaries. Stripe moved the
// period fields from the subscription to its items, so read them off the
// first item.
func stripePeriod(sub *stripe.Subscription) (start, end time.Time) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return start, end
	}
	item := sub.Items.Data[0]
	if item.CurrentPeriodStart > 0 {
		start = time.Unix(item.CurrentPeriodStart, 0).UTC()
	}
	if item.CurrentPeriodEnd > 0 {
		end = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return start, end
}

// classifyStripeErr maps Stripe API failures onto the package's typed
// errors. 5xx and transport failures are retryable; 4xx are surfaced.
func classifyStripeErr(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode >= 500 {
			return errors.Join(ErrProviderUnavailable, err)
		}
		return errors.Join(ErrProviderRejected, err)
	}
	return errors.Join(ErrProviderUnavailable, err)
}
