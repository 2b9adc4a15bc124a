// internal/services/stripe_gateway.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/models"
)

// StripeGateway collects the fee with PaymentIntents. The intent id is the payment reference.
type StripeGateway struct {
	publishableKey string
	webhookSecret  string
}

func NewStripeGateway(cfg config.PaymentConfig) *StripeGateway {
	stripe.Key = cfg.StripeSecretKey

	return &StripeGateway{
		publishableKey: cfg.StripePublishableKey,
		webhookSecret:  cfg.StripeWebhookSecret,
	}
}

func (g *StripeGateway) Name() string            { return "stripe" }
func (g *StripeGateway) PublicKey() string       { return g.publishableKey }
func (g *StripeGateway) SignatureHeader() string { return "Stripe-Signature" }

func (g *StripeGateway) Initialize(ctx context.Context, req GatewayInitRequest) (*GatewayInitResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Reference)
	params.AddMetadata("application_id", req.ApplicationID.String())
	params.AddMetadata("reference", req.Reference)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create payment intent: %v", ErrUnavailable, err)
	}

	return &GatewayInitResult{
		AccessCode: pi.ClientSecret,
		Reference:  pi.ID,
	}, nil
}

func (g *StripeGateway) Verify(ctx context.Context, reference string) (*GatewayTransaction, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(reference, params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get payment intent: %v", ErrUnavailable, err)
	}

	raw, _ := json.Marshal(pi)
	tx := stripeTransaction(pi, "verify", raw)
	return tx, nil
}

func (g *StripeGateway) VerifySignature(body []byte, signature string) bool {
	if g.webhookSecret == "" || signature == "" {
		return false
	}
	return webhook.ValidatePayload(body, signature, g.webhookSecret) == nil
}

func (g *StripeGateway) ParseWebhook(body []byte) (*GatewayTransaction, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook payload", ErrBadRequest)
	}

	eventType := string(event.Type)
	if !strings.HasPrefix(eventType, "payment_intent.") || event.Data == nil {
		return &GatewayTransaction{Event: eventType, Raw: body}, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: malformed payment intent in webhook", ErrBadRequest)
	}

	tx := stripeTransaction(&pi, eventType, body)
	switch eventType {
	case "payment_intent.succeeded":
		tx.Status = models.PaymentStatusCompleted
	case "payment_intent.payment_failed", "payment_intent.canceled":
		tx.Status = models.PaymentStatusFailed
	default:
		tx.Status = ""
	}
	return tx, nil
}

func stripeTransaction(pi *stripe.PaymentIntent, event string, raw []byte) *GatewayTransaction {
	tx := &GatewayTransaction{
		Event:     event,
		Reference: pi.ID,
		Amount:    fromMinorUnits(pi.Amount),
		Currency:  strings.ToUpper(string(pi.Currency)),
		Channel:   "card",
		Email:     pi.ReceiptEmail,
		Raw:       raw,
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		tx.Status = models.PaymentStatusCompleted
		paidAt := time.Unix(pi.Created, 0).UTC()
		tx.PaidAt = &paidAt
	case stripe.PaymentIntentStatusCanceled:
		tx.Status = models.PaymentStatusFailed
	default:
		tx.Status = models.PaymentStatusPending
	}

	if len(pi.PaymentMethodTypes) > 0 {
		tx.Channel = pi.PaymentMethodTypes[0]
	}
	if id, err := uuid.Parse(pi.Metadata["application_id"]); err == nil {
		tx.ApplicationID = &id
	}
	return tx
}
