// internal/models/application.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type ApplicationStatus string

const (
	ApplicationStatusNew         ApplicationStatus = "NEW"
	ApplicationStatusUnderReview ApplicationStatus = "UNDER_REVIEW"
	ApplicationStatusApproved    ApplicationStatus = "APPROVED"
	ApplicationStatusRejected    ApplicationStatus = "REJECTED"
	ApplicationStatusFlagged     ApplicationStatus = "FLAGGED"
)

// ApplicationStatuses lists every status in display order.
var ApplicationStatuses = []ApplicationStatus{
	ApplicationStatusNew,
	ApplicationStatusUnderReview,
	ApplicationStatusApproved,
	ApplicationStatusRejected,
	ApplicationStatusFlagged,
}

// applicationTransitions maps a target status to the statuses it may be entered from.
var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	ApplicationStatusNew:         {},
	ApplicationStatusUnderReview: {ApplicationStatusNew, ApplicationStatusFlagged, ApplicationStatusRejected},
	ApplicationStatusApproved:    {ApplicationStatusUnderReview},
	ApplicationStatusRejected:    {ApplicationStatusNew, ApplicationStatusUnderReview, ApplicationStatusFlagged},
	ApplicationStatusFlagged:     {ApplicationStatusNew, ApplicationStatusUnderReview, ApplicationStatusApproved},
}

func (s ApplicationStatus) Valid() bool {
	_, ok := applicationTransitions[s]
	return ok
}

// CanTransitionTo reports whether an admin may move an application from s to next.
func (s ApplicationStatus) CanTransitionTo(next ApplicationStatus) bool {
	for _, from := range applicationTransitions[next] {
		if from == s {
			return true
		}
	}
	return false
}

// In reports whether s is one of the given statuses.
func (s ApplicationStatus) In(statuses ...ApplicationStatus) bool {
	for _, candidate := range statuses {
		if s == candidate {
			return true
		}
	}
	return false
}

type Application struct {
	BaseModel
	CooperativeName    string            `json:"cooperative_name" gorm:"size:255;not null"`
	RegistrationNumber string            `json:"registration_number,omitempty" gorm:"size:100"`
	Email              string            `json:"email" gorm:"size:255;not null;index"`
	Phone              string            `json:"phone" gorm:"size:30"`
	Address            string            `json:"address" gorm:"type:text"`
	Status             ApplicationStatus `json:"status" gorm:"type:varchar(20);not null;default:'NEW';index"`
	SubmittedAt        time.Time         `json:"submitted_at" gorm:"not null"`
	ReviewedAt         *time.Time        `json:"reviewed_at"`
	ReviewedBy         *uuid.UUID        `json:"reviewed_by" gorm:"type:uuid"`
	Notes              *string           `json:"notes" gorm:"type:text"`

	// Relationships
	Documents    []Document    `json:"documents,omitempty" gorm:"foreignKey:ApplicationID"`
	Payments     []Payment     `json:"payments,omitempty" gorm:"foreignKey:ApplicationID"`
	Certificates []Certificate `json:"certificates,omitempty" gorm:"foreignKey:ApplicationID"`
}

type Document struct {
	BaseModel
	ApplicationID uuid.UUID `json:"application_id" gorm:"type:uuid;not null;index"`
	Filename      string    `json:"filename" gorm:"size:255;not null"`
	FileURL       string    `json:"file_url" gorm:"type:text;not null"`
	FileKey       string    `json:"file_key,omitempty" gorm:"size:500"`
	DocumentType  string    `json:"document_type" gorm:"size:100;not null"`
	MimeType      string    `json:"mime_type,omitempty" gorm:"size:100"`
	UploadedAt    time.Time `json:"uploaded_at" gorm:"not null"`
}
