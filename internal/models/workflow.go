// internal/models/workflow.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PipelineStep string

const (
	PipelineStepPaymentApproved   PipelineStep = "PAYMENT_APPROVED"
	PipelineStepCertificateIssued PipelineStep = "CERTIFICATE_ISSUED"
	PipelineStepNotified          PipelineStep = "NOTIFIED"
)

// ApprovalPipeline records how far an approval got so it can be resumed.
type ApprovalPipeline struct {
	BaseModel
	ApplicationID uuid.UUID    `json:"application_id" gorm:"type:uuid;not null;uniqueIndex"`
	PaymentID     uuid.UUID    `json:"payment_id" gorm:"type:uuid;not null"`
	Step          PipelineStep `json:"step" gorm:"type:varchar(30);not null;index"`
	CertificateID *uuid.UUID   `json:"certificate_id" gorm:"type:uuid"`
	AdminID       *uuid.UUID   `json:"admin_id" gorm:"type:uuid"`
	Notes         string       `json:"notes" gorm:"type:text"`
	Attempts      int          `json:"attempts" gorm:"not null;default:0"`
	LastError     string       `json:"last_error,omitempty" gorm:"type:text"`
}

type OutboxKind string

const (
	OutboxKindEmail             OutboxKind = "email"
	OutboxKindCertificateUpload OutboxKind = "certificate_upload"
	OutboxKindEvent             OutboxKind = "event"
)

type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusDone    OutboxStatus = "DONE"
	OutboxStatusDead    OutboxStatus = "DEAD"
)

type OutboxTask struct {
	BaseModel
	Kind          OutboxKind   `json:"kind" gorm:"type:varchar(40);not null;index"`
	Payload       JSONB        `json:"payload" gorm:"type:jsonb"`
	Status        OutboxStatus `json:"status" gorm:"type:varchar(20);not null;default:'PENDING';index"`
	Attempts      int          `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts   int          `json:"max_attempts" gorm:"not null"`
	NextAttemptAt time.Time    `json:"next_attempt_at" gorm:"not null;index"`
	LastError     string       `json:"last_error,omitempty" gorm:"type:text"`
	ProcessedAt   *time.Time   `json:"processed_at"`
}

// ActivityLog is the append-only audit trail.
type ActivityLog struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	UserID        *uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	ApplicationID *uuid.UUID `json:"application_id" gorm:"type:uuid;index"`
	Action        string     `json:"action" gorm:"size:100;not null;index"`
	Description   string     `json:"description" gorm:"type:text"`
	Metadata      JSONB      `json:"metadata" gorm:"type:jsonb"`
	IPAddress     string     `json:"ip_address" gorm:"size:45"`
	UserAgent     string     `json:"user_agent" gorm:"type:text"`
	CreatedAt     time.Time  `json:"created_at" gorm:"index"`
}

func (a *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
