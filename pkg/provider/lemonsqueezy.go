package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const lemonSqueezyBaseURL = "https://api.lemonsqueezy.com/v1"

// LemonSqueezyConfig holds configuration for the LemonSqueezy adapter.
type LemonSqueezyConfig struct {
	APIKey        string `env:"LEMONSQUEEZY_API_KEY"`
	WebhookSecret string `env:"LEMONSQUEEZY_WEBHOOK_SECRET"`
	StoreID       string `env:"LEMONSQUEEZY_STORE_ID"`
}

// LemonSqueezyAdapter implements Adapter for LemonSqueezy. LemonSqueezy is
// redirect-based and has no official Go SDK, so the adapter speaks the
// JSON:API surface directly over net/http. Webhook signatures are
// HMAC-SHA256 over the raw body, hex encoded.
type LemonSqueezyAdapter struct {
	apiKey        string
	webhookSecret string
	storeID       string
	httpClient    *http.Client
	baseURL       string
}

// NewLemonSqueezyAdapter creates a LemonSqueezy adapter.
func NewLemonSqueezyAdapter(cfg LemonSqueezyConfig) (*LemonSqueezyAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.Join(ErrMissingAPIKey, errors.New("lemonsqueezy"))
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.Join(ErrMissingSecret, errors.New("lemonsqueezy"))
	}
	return &LemonSqueezyAdapter{
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		storeID:       cfg.StoreID,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		baseURL:       lemonSqueezyBaseURL,
	}, nil
}

func (a *LemonSqueezyAdapter) Name() string { return "lemonsqueezy" }

func (a *LemonSqueezyAdapter) SignatureHeader() string { return "X-Signature" }

func (a *LemonSqueezyAdapter) CreateSubscription(ctx context.Context, params CreateParams) (*CreateResult, error) {
	body := map[string]any{
		"data": map[string]any{
			"type": "checkouts",
			"attributes": map[string]any{
				"checkout_data": map[string]any{
					"email": params.Email,
					"custom": map[string]any{
						"organization_id": params.OrganizationID,
					},
					"variant_quantities": []map[string]any{
						{"variant_id": params.PriceID, "quantity": params.Seats},
					},
				},
				"product_options": map[string]any{
					"redirect_url": params.SuccessURL,
				},
			},
			"relationships": map[string]any{
				"store": map[string]any{
					"data": map[string]any{"type": "stores", "id": a.storeID},
				},
				"variant": map[string]any{
					"data": map[string]any{"type": "variants", "id": params.PriceID},
				},
			},
		},
	}

	var resp struct {
		Data struct {
			Attributes struct {
				URL string `json:"url"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodPost, "/checkouts", body, &resp); err != nil {
		return nil, err
	}

	if resp.Data.Attributes.URL == "" {
		return nil, fmt.Errorf("%w: no checkout URL returned", ErrProviderRejected)
	}

	// The provider subscription ID arrives with the subscription_created
	// webhook after the customer completes checkout.
	return &CreateResult{
		Status:      "incomplete",
		CheckoutURL: resp.Data.Attributes.URL,
	}, nil
}

func (a *LemonSqueezyAdapter) UpdateSubscription(ctx context.Context, params UpdateParams) (*UpdateResult, error) {
	// Seat quantity lives on the subscription item, so resolve it first.
	var sub struct {
		Data struct {
			Attributes struct {
				Status                string `json:"status"`
				FirstSubscriptionItem struct {
					ID int64 `json:"id"`
				} `json:"first_subscription_item"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, "/subscriptions/"+params.ProviderSubID, nil, &sub); err != nil {
		return nil, err
	}

	itemID := sub.Data.Attributes.FirstSubscriptionItem.ID
	if itemID == 0 {
		return nil, fmt.Errorf("%w: subscription %s has no items", ErrProviderRejected, params.ProviderSubID)
	}

	patch := map[string]any{
		"data": map[string]any{
			"type": "subscriptions",
			"id":   params.ProviderSubID,
			"attributes": map[string]any{
				"variant_id":          params.PriceID,
				"invoice_immediately": false,
			},
		},
	}
	var updated struct {
		Data struct {
			Attributes struct {
				Status    string `json:"status"`
				VariantID int64  `json:"variant_id"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodPatch, "/subscriptions/"+params.ProviderSubID, patch, &updated); err != nil {
		return nil, err
	}

	itemPatch := map[string]any{
		"data": map[string]any{
			"type": "subscription-items",
			"id":   strconv.FormatInt(itemID, 10),
			"attributes": map[string]any{
				"quantity": params.Seats,
			},
		},
	}
	if err := a.do(ctx, http.MethodPatch, "/subscription-items/"+strconv.FormatInt(itemID, 10), itemPatch, nil); err != nil {
		return nil, err
	}

	return &UpdateResult{
		Status: mapLemonStatus(updated.Data.Attributes.Status),
		Items: []ItemRef{{
			ProviderItemID: strconv.FormatInt(itemID, 10),
			PriceID:        params.PriceID,
			Quantity:       params.Seats,
		}},
	}, nil
}

// CancelSubscription cancels the subscription. LemonSqueezy always cancels
// at the end of the paid period; an immediate cancel is expressed locally
// by the lifecycle manager while the provider side winds down on its own.
func (a *LemonSqueezyAdapter) CancelSubscription(ctx context.Context, providerSubID string, atPeriodEnd bool) error {
	return a.do(ctx, http.MethodDelete, "/subscriptions/"+providerSubID, nil, nil)
}

// ChargeNow is not offered by LemonSqueezy; adjustments settle on the next
// invoice instead.
func (a *LemonSqueezyAdapter) ChargeNow(ctx context.Context, providerSubID string, amount int64, currencyCode string) error {
	return fmt.Errorf("%w: lemonsqueezy settles adjustments on the next invoice", ErrProviderRejected)
}

func (a *LemonSqueezyAdapter) NormalizeWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	if err := verifyLemonSignature(a.webhookSecret, payload, signature); err != nil {
		return nil, err
	}
	return normalizeLemonEvent(payload)
}

// verifyLemonSignature checks the HMAC-SHA256 hex signature over the raw
// body using constant-time comparison.
func verifyLemonSignature(secret string, payload []byte, signature string) error {
	if signature == "" {
		return errors.Join(ErrSignatureInvalid, errors.New("missing signature header"))
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}
	return nil
}

type lemonEnvelope struct {
	Meta struct {
		EventName  string         `json:"event_name"`
		WebhookID  string         `json:"webhook_id"`
		CustomData map[string]any `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string         `json:"id"`
		Attributes map[string]any `json:"attributes"`
	} `json:"data"`
}

func normalizeLemonEvent(payload []byte) (*Event, error) {
	var env lemonEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("parse lemonsqueezy webhook payload: %w", err)
	}

	out := &Event{
		Kind:            mapLemonEventType(env.Meta.EventName),
		Provider:        "lemonsqueezy",
		ProviderEventID: env.Meta.WebhookID,
		ProviderEvent:   env.Meta.EventName,
	}
	if orgID, ok := env.Meta.CustomData["organization_id"].(string); ok {
		out.OrganizationID = orgID
	}

	attrs := env.Data.Attributes
	if status, ok := attrs["status"].(string); ok {
		out.Status = mapLemonStatus(status)
	}

	switch out.Kind {
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionCanceled:
		out.SubscriptionID = env.Data.ID
		if variantID, ok := attrs["variant_id"].(float64); ok {
			out.PlanPriceID = strconv.FormatInt(int64(variantID), 10)
		}
		if item, ok := attrs["first_subscription_item"].(map[string]any); ok {
			if qty, ok := item["quantity"].(float64); ok {
				out.Seats = int(qty)
			}
		}
		if renews, ok := attrs["renews_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, renews); err == nil {
				out.PeriodEnd = t.UTC()
			}
		}

	case KindPaymentSucceeded, KindPaymentFailed:
		if subID, ok := attrs["subscription_id"].(float64); ok {
			out.SubscriptionID = strconv.FormatInt(int64(subID), 10)
		}
		invoice := &InvoiceData{ProviderInvoiceID: env.Data.ID}
		if total, ok := attrs["total"].(float64); ok {
			invoice.AmountTotal = int64(total)
		}
		if currencyCode, ok := attrs["currency"].(string); ok {
			invoice.Currency = currencyCode
		}
		if out.Kind == KindPaymentSucceeded {
			invoice.Status = "paid"
			invoice.AmountPaid = invoice.AmountTotal
			now := time.Now().UTC()
			invoice.PaidAt = &now
		} else {
			invoice.Status = "open"
		}
		out.Invoice = invoice
	}

	return out, nil
}

func mapLemonEventType(eventName string) Kind {
	switch eventName {
	case "subscription_created":
		return KindSubscriptionCreated
	case "subscription_updated", "subscription_resumed", "subscription_unpaused":
		return KindSubscriptionUpdated
	case "subscription_cancelled", "subscription_expired":
		return KindSubscriptionCanceled
	case "subscription_payment_success", "subscription_payment_recovered":
		return KindPaymentSucceeded
	case "subscription_payment_failed":
		return KindPaymentFailed
	default:
		return KindUnknown
	}
}

func mapLemonStatus(status string) string {
	switch status {
	case "on_trial":
		return "trialing"
	case "active":
		return "active"
	case "past_due", "unpaid":
		return "past_due"
	case "cancelled", "expired":
		return "canceled"
	default:
		return status
	}
}

// do executes a JSON:API request and decodes the response into out.
// Non-2xx responses map onto the typed provider errors by status class.
func (a *LemonSqueezyAdapter) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Accept", "application/vnd.api+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/vnd.api+json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return errors.Join(ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Join(ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: lemonsqueezy returned %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: lemonsqueezy returned %d: %s", ErrProviderRejected, resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
