// internal/services/payment_gateway.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/models"
)

// PaymentGateway is the card processor the registration fee is collected through.
type PaymentGateway interface {
	Name() string
	PublicKey() string
	SignatureHeader() string
	Initialize(ctx context.Context, req GatewayInitRequest) (*GatewayInitResult, error)
	Verify(ctx context.Context, reference string) (*GatewayTransaction, error)
	VerifySignature(body []byte, signature string) bool
	ParseWebhook(body []byte) (*GatewayTransaction, error)
}

type GatewayInitRequest struct {
	Reference     string
	Email         string
	Amount        decimal.Decimal
	Currency      string
	ApplicationID uuid.UUID
	CallbackURL   string
}

type GatewayInitResult struct {
	AuthorizationURL string `json:"authorization_url,omitempty"`
	AccessCode       string `json:"access_code,omitempty"`
	Reference        string `json:"reference"`
}

// GatewayTransaction is a charge as reported by the gateway, from a verify call or a webhook.
// Status is empty when the event does not settle a charge.
type GatewayTransaction struct {
	Event         string
	Reference     string
	Status        models.PaymentStatus
	Amount        decimal.Decimal
	Currency      string
	Channel       string
	PaidAt        *time.Time
	ApplicationID *uuid.UUID
	Email         string
	Raw           []byte
}

// Resolved reports whether the charge reached a final state.
func (t *GatewayTransaction) Resolved() bool {
	return t.Status == models.PaymentStatusCompleted || t.Status == models.PaymentStatusFailed
}

func NewPaymentGateway(cfg config.PaymentConfig) (PaymentGateway, error) {
	switch cfg.Provider {
	case "paystack":
		return NewPaystackGateway(cfg), nil
	case "stripe":
		return NewStripeGateway(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.Provider)
	}
}

// minorUnits converts a major-unit amount to kobo or cents.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
