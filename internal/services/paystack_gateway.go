// internal/services/paystack_gateway.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

type PaystackGateway struct {
	client    *resty.Client
	secretKey string
	publicKey string
	callback  string
}

func NewPaystackGateway(cfg config.PaymentConfig) *PaystackGateway {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.PaystackBaseURL, "/")).
		SetAuthToken(cfg.PaystackSecretKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(20 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &PaystackGateway{
		client:    client,
		secretKey: cfg.PaystackSecretKey,
		publicKey: cfg.PaystackPublicKey,
		callback:  cfg.PaystackCallbackURL,
	}
}

func (g *PaystackGateway) Name() string            { return "paystack" }
func (g *PaystackGateway) PublicKey() string       { return g.publicKey }
func (g *PaystackGateway) SignatureHeader() string { return "X-Paystack-Signature" }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackCharge struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Channel   string          `json:"channel"`
	PaidAt    string          `json:"paid_at"`
	Metadata  json.RawMessage `json:"metadata"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

func (g *PaystackGateway) Initialize(ctx context.Context, req GatewayInitRequest) (*GatewayInitResult, error) {
	callback := req.CallbackURL
	if callback == "" {
		callback = g.callback
	}

	body := map[string]interface{}{
		"email":     req.Email,
		"amount":    minorUnits(req.Amount),
		"currency":  req.Currency,
		"reference": req.Reference,
		"metadata": map[string]string{
			"application_id": req.ApplicationID.String(),
		},
	}
	if callback != "" {
		body["callback_url"] = callback
	}

	var out paystackEnvelope
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/transaction/initialize")
	if err != nil {
		return nil, fmt.Errorf("%w: paystack initialize failed: %v", ErrUnavailable, err)
	}
	if resp.IsError() || !out.Status {
		return nil, fmt.Errorf("%w: paystack initialize rejected (%d): %s", ErrUnavailable, resp.StatusCode(), out.Message)
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(out.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode paystack initialize response: %w", err)
	}
	if data.Reference == "" {
		data.Reference = req.Reference
	}

	return &GatewayInitResult{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

func (g *PaystackGateway) Verify(ctx context.Context, reference string) (*GatewayTransaction, error) {
	var out paystackEnvelope
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out).
		Get("/transaction/verify/" + url.PathEscape(reference))
	if err != nil {
		return nil, fmt.Errorf("%w: paystack verify failed: %v", ErrUnavailable, err)
	}
	if resp.IsError() || !out.Status {
		return nil, fmt.Errorf("%w: paystack verify rejected (%d): %s", ErrUnavailable, resp.StatusCode(), out.Message)
	}

	var charge paystackCharge
	if err := json.Unmarshal(out.Data, &charge); err != nil {
		return nil, fmt.Errorf("failed to decode paystack verify response: %w", err)
	}

	tx := charge.toTransaction("verify", resp.Body())
	if tx.Reference == "" {
		tx.Reference = reference
	}
	return tx, nil
}

func (g *PaystackGateway) VerifySignature(body []byte, signature string) bool {
	return utils.VerifyHMACSHA512(g.secretKey, body, strings.ToLower(strings.TrimSpace(signature)))
}

func (g *PaystackGateway) ParseWebhook(body []byte) (*GatewayTransaction, error) {
	var event struct {
		Event string         `json:"event"`
		Data  paystackCharge `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook payload", ErrBadRequest)
	}

	tx := event.Data.toTransaction(event.Event, body)
	switch event.Event {
	case "charge.success":
		tx.Status = models.PaymentStatusCompleted
	case "charge.failed":
		tx.Status = models.PaymentStatusFailed
	default:
		tx.Status = ""
	}
	return tx, nil
}

func (c paystackCharge) toTransaction(event string, raw []byte) *GatewayTransaction {
	tx := &GatewayTransaction{
		Event:     event,
		Reference: c.Reference,
		Status:    paystackStatus(c.Status),
		Amount:    fromMinorUnits(c.Amount),
		Currency:  c.Currency,
		Channel:   c.Channel,
		Email:     c.Customer.Email,
		Raw:       raw,
	}

	if paidAt, err := time.Parse(time.RFC3339, c.PaidAt); err == nil {
		paidAt = paidAt.UTC()
		tx.PaidAt = &paidAt
	}

	// Paystack sends metadata as an object or an empty string.
	var metadata map[string]interface{}
	if len(c.Metadata) > 0 && json.Unmarshal(c.Metadata, &metadata) == nil {
		if value, ok := metadata["application_id"].(string); ok {
			if id, err := uuid.Parse(value); err == nil {
				tx.ApplicationID = &id
			}
		}
	}
	return tx
}

func paystackStatus(status string) models.PaymentStatus {
	switch status {
	case "success":
		return models.PaymentStatusCompleted
	case "failed", "abandoned", "reversed":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}
