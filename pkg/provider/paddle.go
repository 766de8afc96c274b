package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"
)

// PaddleConfig holds configuration for the Paddle adapter.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleAdapter implements Adapter for Paddle. Paddle is redirect-based:
// creation returns a hosted checkout URL and the subscription stays
// incomplete until Paddle confirms it via webhook.
type PaddleAdapter struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleAdapter creates a Paddle adapter.
func NewPaddleAdapter(cfg PaddleConfig) (*PaddleAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.Join(ErrMissingAPIKey, errors.New("paddle"))
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.Join(ErrMissingSecret, errors.New("paddle"))
	}

	var client *paddle.SDK
	var err error
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("create paddle client: %w", err)
	}

	return &PaddleAdapter{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

func (a *PaddleAdapter) Name() string { return "paddle" }

func (a *PaddleAdapter) SignatureHeader() string { return "Paddle-Signature" }

func (a *PaddleAdapter) CreateSubscription(ctx context.Context, params CreateParams) (*CreateResult, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  params.PriceID,
		Quantity: params.Seats,
	})

	req := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"organization_id": params.OrganizationID,
		},
	}
	if params.Email != "" {
		req.CustomData["email"] = params.Email
	}
	if params.SuccessURL != "" {
		req.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(params.SuccessURL),
		}
	}

	txn, err := a.client.TransactionsClient.CreateTransaction(ctx, req)
	if err != nil {
		return nil, classifyPaddleErr(err)
	}

	if txn.Checkout == nil || txn.Checkout.URL == nil {
		return nil, fmt.Errorf("%w: no checkout URL returned", ErrProviderRejected)
	}

	// Provider subscription ID arrives later with the subscription.created
	// webhook; until then the aggregate stays incomplete.
	return &CreateResult{
		Status:      "incomplete",
		CheckoutURL: *txn.Checkout.URL,
	}, nil
}

func (a *PaddleAdapter) UpdateSubscription(ctx context.Context, params UpdateParams) (*UpdateResult, error) {
	item := paddle.NewUpdateSubscriptionItemsSubscriptionUpdateItemFromCatalog(&paddle.SubscriptionUpdateItemFromCatalog{
		PriceID:  params.PriceID,
		Quantity: params.Seats,
	})

	// Prorations are computed locally; Paddle must not bill its own.
	sub, err := a.client.SubscriptionsClient.UpdateSubscription(ctx, &paddle.UpdateSubscriptionRequest{
		SubscriptionID:       params.ProviderSubID,
		Items:                paddle.NewPatchField([]paddle.UpdateSubscriptionItems{*item}),
		ProrationBillingMode: paddle.NewPatchField(paddle.ProrationBillingModeDoNotBill),
	})
	if err != nil {
		return nil, classifyPaddleErr(err)
	}

	res := &UpdateResult{Status: string(sub.Status)}
	for _, it := range sub.Items {
		ref := ItemRef{Quantity: it.Quantity}
		ref.PriceID = it.Price.ID
		res.Items = append(res.Items, ref)
	}
	return res, nil
}

func (a *PaddleAdapter) CancelSubscription(ctx context.Context, providerSubID string, atPeriodEnd bool) error {
	effective := paddle.EffectiveFromImmediately
	if atPeriodEnd {
		effective = paddle.EffectiveFromNextBillingPeriod
	}

	_, err := a.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: providerSubID,
		EffectiveFrom:  paddle.PtrTo(effective),
	})
	if err != nil {
		return classifyPaddleErr(err)
	}
	return nil
}

// ChargeNow is not offered for Paddle subscriptions; prorations settle on
// the next invoice instead, which the lifecycle manager falls back to.
func (a *PaddleAdapter) ChargeNow(ctx context.Context, providerSubID string, amount int64, currencyCode string) error {
	return fmt.Errorf("%w: paddle settles adjustments on the next invoice", ErrProviderRejected)
}

func (a *PaddleAdapter) NormalizeWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	// The SDK verifier consumes an *http.Request, so rebuild one around
	// the raw payload.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := a.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}
	if !valid {
		return nil, ErrSignatureInvalid
	}

	return normalizePaddleEvent(payload)
}

type paddleEnvelope struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// normalizePaddleEvent translates a verified Paddle envelope. Paddle nests
// event data as loosely typed JSON, so extraction is field-by-field.
func normalizePaddleEvent(payload []byte) (*Event, error) {
	var env paddleEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("parse paddle webhook payload: %w", err)
	}

	out := &Event{
		Kind:            mapPaddleEventType(env.EventType),
		Provider:        "paddle",
		ProviderEventID: env.EventID,
		ProviderEvent:   env.EventType,
	}

	if customData, ok := env.Data["custom_data"].(map[string]any); ok {
		if orgID, ok := customData["organization_id"].(string); ok {
			out.OrganizationID = orgID
		}
	}
	if status, ok := env.Data["status"].(string); ok {
		out.Status = mapPaddleStatus(status)
	}

	switch {
	case strings.HasPrefix(env.EventType, "subscription."):
		if subID, ok := env.Data["id"].(string); ok {
			out.SubscriptionID = subID
		}
		if items, ok := env.Data["items"].([]any); ok && len(items) > 0 {
			if item, ok := items[0].(map[string]any); ok {
				if price, ok := item["price"].(map[string]any); ok {
					if priceID, ok := price["id"].(string); ok {
						out.PlanPriceID = priceID
					}
				}
				if qty, ok := item["quantity"].(float64); ok {
					out.Seats = int(qty)
				}
			}
		}
		if period, ok := env.Data["current_billing_period"].(map[string]any); ok {
			out.PeriodStart = parsePaddleTime(period["starts_at"])
			out.PeriodEnd = parsePaddleTime(period["ends_at"])
		}

	case strings.HasPrefix(env.EventType, "transaction."):
		if subID, ok := env.Data["subscription_id"].(string); ok {
			out.SubscriptionID = subID
		}
		invoice := &InvoiceData{}
		if invID, ok := env.Data["invoice_id"].(string); ok {
			invoice.ProviderInvoiceID = invID
		} else if txnID, ok := env.Data["id"].(string); ok {
			invoice.ProviderInvoiceID = txnID
		}
		if details, ok := env.Data["details"].(map[string]any); ok {
			if totals, ok := details["totals"].(map[string]any); ok {
				if total, ok := totals["total"].(string); ok {
					invoice.AmountTotal = parsePaddleAmount(total)
				}
				if currencyCode, ok := totals["currency_code"].(string); ok {
					invoice.Currency = currencyCode
				}
			}
		}
		switch out.Kind {
		case KindPaymentSucceeded:
			invoice.Status = "paid"
			invoice.AmountPaid = invoice.AmountTotal
			now := parsePaddleTime(env.Data["billed_at"])
			if !now.IsZero() {
				invoice.PaidAt = &now
			}
		case KindPaymentFailed:
			invoice.Status = "open"
		}
		out.Invoice = invoice
	}

	return out, nil
}

func mapPaddleEventType(eventType string) Kind {
	switch eventType {
	case "subscription.created", "subscription.activated":
		return KindSubscriptionCreated
	case "subscription.updated", "subscription.resumed":
		return KindSubscriptionUpdated
	case "subscription.canceled":
		return KindSubscriptionCanceled
	case "transaction.completed":
		return KindPaymentSucceeded
	case "transaction.payment_failed":
		return KindPaymentFailed
	default:
		return KindUnknown
	}
}

func mapPaddleStatus(status string) string {
	switch strings.ToLower(status) {
	case "trialing":
		return "trialing"
	case "active":
		return "active"
	case "past_due":
		return "past_due"
	case "canceled", "cancelled":
		return "canceled"
	default:
		return status
	}
}

func parsePaddleTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// parsePaddleAmount parses Paddle's string-encoded minor-unit amounts.
func parsePaddleAmount(s string) int64 {
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	return n
}

// classifyPaddleErr maps Paddle SDK failures onto typed errors. The SDK
// surfaces API rejections as *paddleerr.Error.
func classifyPaddleErr(err error) error {
	var apiErr *paddleerr.Error
	if errors.As(err, &apiErr) {
		return errors.Join(ErrProviderRejected, err)
	}
	return errors.Join(ErrProviderUnavailable, err)
}
