// internal/models/payment.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

var PaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

func (s PaymentStatus) Valid() bool {
	for _, candidate := range PaymentStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

type Payment struct {
	BaseModel
	ApplicationID  uuid.UUID       `json:"application_id" gorm:"type:uuid;not null;index"`
	Application    *Application    `json:"application,omitempty" gorm:"foreignKey:ApplicationID"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
	Currency       string          `json:"currency" gorm:"size:3;not null;default:'NGN'"`
	Status         PaymentStatus   `json:"status" gorm:"type:varchar(20);not null;default:'PENDING';index"`
	PaymentMethod  string          `json:"payment_method" gorm:"size:50"`
	TransactionRef string          `json:"transaction_ref" gorm:"size:100;not null;uniqueIndex"`
	PaymentDate    *time.Time      `json:"payment_date"`
	RawPayload     datatypes.JSON  `json:"raw_payload,omitempty"`
}
