// internal/services/activity_log_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

const (
	ActionSubmitApplication       = "SUBMIT_APPLICATION"
	ActionUpdateApplicationStatus = "UPDATE_APPLICATION_STATUS"
	ActionAddDocument             = "ADD_DOCUMENT"
	ActionApprovePayment          = "APPROVE_PAYMENT"
	ActionRejectPayment           = "REJECT_PAYMENT"
	ActionGenerateCertificate     = "GENERATE_CERTIFICATE"
	ActionRevokeCertificate       = "REVOKE_CERTIFICATE"
	ActionLogin                   = "LOGIN"
	ActionCreateUser              = "CREATE_USER"
	ActionUpdateUser              = "UPDATE_USER"
	ActionDeleteUser              = "DELETE_USER"
	ActionUpdateSetting           = "UPDATE_SETTING"
)

// RequestMeta carries caller details for the audit trail.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type ActivityEntry struct {
	UserID        *uuid.UUID
	ApplicationID *uuid.UUID
	Action        string
	Description   string
	Metadata      models.JSONB
	RequestMeta
}

type ActivityFilter struct {
	UserID        *uuid.UUID
	ApplicationID *uuid.UUID
	Action        string
	From          *time.Time
	To            *time.Time
}

type ActivityLogService struct {
	db *gorm.DB
}

func NewActivityLogService(db *gorm.DB) *ActivityLogService {
	return &ActivityLogService{db: db}
}

// Log appends an entry. Failures are logged and swallowed.
func (s *ActivityLogService) Log(ctx context.Context, entry ActivityEntry) {
	row := &models.ActivityLog{
		UserID:        entry.UserID,
		ApplicationID: entry.ApplicationID,
		Action:        entry.Action,
		Description:   entry.Description,
		Metadata:      entry.Metadata,
		IPAddress:     entry.IPAddress,
		UserAgent:     entry.UserAgent,
	}

	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(row).Error; err != nil {
		logrus.WithError(err).WithField("action", entry.Action).Error("Failed to write activity log")
	}
}

func (s *ActivityLogService) List(ctx context.Context, filter ActivityFilter, params utils.PaginationParams) ([]models.ActivityLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.ActivityLog{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.ApplicationID != nil {
		query = query.Where("application_id = ?", *filter.ApplicationID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}
	if params.Search != "" {
		query = query.Where("LOWER(description) LIKE LOWER(?)", "%"+params.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count activity logs: %w", err)
	}

	query = utils.ApplySort(query, params, []string{"created_at", "action"})
	query = utils.ApplyPagination(query, params)

	var logs []models.ActivityLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch activity logs: %w", err)
	}

	return logs, total, nil
}
