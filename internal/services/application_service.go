// internal/services/application_service.go
package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/database"
	"github.com/javajoker/coop-registry/internal/metrics"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

const defaultRejectionReason = "Your application has been rejected. Please contact support for details."

func rejectionReason(notes string) string {
	if reason := strings.TrimSpace(notes); reason != "" {
		return reason
	}
	return defaultRejectionReason
}

type ApplicationService struct {
	db        *gorm.DB
	store     DocumentStore
	notifier  Notifier
	approvals *ApprovalService
	activity  *ActivityLogService
	events    *EventService
	metrics   *metrics.Metrics
}

// DocumentInput is either a reference to an uploaded file or inline base64 content.
type DocumentInput struct {
	Filename     string `json:"filename" validate:"required,max=255"`
	DocumentType string `json:"document_type" validate:"required,max=100"`
	FileURL      string `json:"file_url,omitempty" validate:"omitempty,url"`
	FileKey      string `json:"file_key,omitempty" validate:"omitempty,max=500"`
	MimeType     string `json:"mime_type,omitempty" validate:"omitempty,max=100"`
	Content      string `json:"content,omitempty"`
}

type SubmitApplicationRequest struct {
	CooperativeName    string          `json:"cooperative_name" validate:"required,min=2,max=255"`
	RegistrationNumber string          `json:"registration_number,omitempty" validate:"omitempty,max=100"`
	Email              string          `json:"email" validate:"required,email"`
	Phone              string          `json:"phone,omitempty" validate:"omitempty,phone"`
	Address            string          `json:"address,omitempty" validate:"omitempty,max=1000"`
	Documents          []DocumentInput `json:"documents,omitempty" validate:"omitempty,max=20,dive"`
}

type UpdateStatusRequest struct {
	Status models.ApplicationStatus `json:"status" validate:"required"`
	Notes  string                   `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

type ApplicationStats struct {
	Total       int64 `json:"total"`
	New         int64 `json:"new"`
	UnderReview int64 `json:"under_review"`
	Approved    int64 `json:"approved"`
	Rejected    int64 `json:"rejected"`
	Flagged     int64 `json:"flagged"`
}

func NewApplicationService(
	db *gorm.DB,
	store DocumentStore,
	notifier Notifier,
	approvals *ApprovalService,
	activity *ActivityLogService,
	events *EventService,
	m *metrics.Metrics,
) *ApplicationService {
	return &ApplicationService{
		db:        db,
		store:     store,
		notifier:  notifier,
		approvals: approvals,
		activity:  activity,
		events:    events,
		metrics:   m,
	}
}

func (s *ApplicationService) Submit(ctx context.Context, req *SubmitApplicationRequest, meta RequestMeta) (*models.Application, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	now := time.Now().UTC()
	app := &models.Application{
		CooperativeName:    strings.TrimSpace(req.CooperativeName),
		RegistrationNumber: strings.TrimSpace(req.RegistrationNumber),
		Email:              strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:              strings.TrimSpace(req.Phone),
		Address:            strings.TrimSpace(req.Address),
		Status:             models.ApplicationStatusNew,
		SubmittedAt:        now,
	}

	documents, uploadedKeys, err := s.prepareDocuments(ctx, req.Documents, now)
	if err != nil {
		s.discardUploads(ctx, uploadedKeys)
		return nil, err
	}

	err = database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		if err := tx.Create(app).Error; err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		for i := range documents {
			documents[i].ApplicationID = app.ID
		}
		if len(documents) > 0 {
			if err := tx.Create(&documents).Error; err != nil {
				return fmt.Errorf("failed to store documents: %w", err)
			}
		}
		return s.events.Emit(tx, EventApplicationSubmitted, app.ID.String(), map[string]interface{}{
			"application_id":   app.ID.String(),
			"cooperative_name": app.CooperativeName,
		})
	})
	if err != nil {
		s.discardUploads(ctx, uploadedKeys)
		return nil, err
	}
	app.Documents = documents

	s.notifier.Send(ctx, NotificationRegistrationConfirmation, app.Email, map[string]interface{}{
		"CooperativeName": app.CooperativeName,
		"ApplicationID":   app.ID.String(),
	})
	s.activity.Log(ctx, ActivityEntry{
		ApplicationID: &app.ID,
		Action:        ActionSubmitApplication,
		Description:   fmt.Sprintf("Application submitted for %s", app.CooperativeName),
		Metadata: models.JSONB{
			"email":          app.Email,
			"phone":          app.Phone,
			"documentsCount": len(documents),
		},
		RequestMeta: meta,
	})
	s.metrics.IncApplicationsSubmitted()

	logrus.WithField("application_id", app.ID).Info("Application submitted")
	return app, nil
}

// prepareDocuments uploads inline content and returns the rows to insert plus the keys it uploaded.
func (s *ApplicationService) prepareDocuments(ctx context.Context, inputs []DocumentInput, uploadedAt time.Time) ([]models.Document, []string, error) {
	documents := make([]models.Document, 0, len(inputs))
	var uploaded []string

	for i, input := range inputs {
		doc, key, err := s.prepareDocument(ctx, input, uploadedAt)
		if key != "" {
			uploaded = append(uploaded, key)
		}
		if err != nil {
			return nil, uploaded, fmt.Errorf("document %d (%s): %w", i+1, input.Filename, err)
		}
		documents = append(documents, *doc)
	}

	return documents, uploaded, nil
}

func (s *ApplicationService) prepareDocument(ctx context.Context, input DocumentInput, uploadedAt time.Time) (*models.Document, string, error) {
	doc := &models.Document{
		Filename:     strings.TrimSpace(input.Filename),
		DocumentType: strings.TrimSpace(input.DocumentType),
		FileURL:      input.FileURL,
		FileKey:      input.FileKey,
		MimeType:     input.MimeType,
		UploadedAt:   uploadedAt,
	}

	if input.Content == "" {
		if input.FileURL == "" {
			return nil, "", fmt.Errorf("%w: file_url or content is required", ErrBadRequest)
		}
		return doc, "", nil
	}

	data, mimeType, err := decodeInlineContent(input.Content)
	if err != nil {
		return nil, "", err
	}
	if doc.MimeType == "" {
		doc.MimeType = mimeType
	}

	result, err := s.store.Upload(ctx, data, doc.Filename, "documents", doc.MimeType)
	if err != nil {
		if errors.Is(err, ErrBadRequest) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%w: document upload failed: %v", ErrUnavailable, err)
	}

	doc.FileURL = result.URL
	doc.FileKey = result.Key
	return doc, result.Key, nil
}

// decodeInlineContent accepts plain base64 or a data URL.
func decodeInlineContent(content string) ([]byte, string, error) {
	mimeType := ""
	if strings.HasPrefix(content, "data:") {
		header, payload, ok := strings.Cut(content, ",")
		if !ok {
			return nil, "", fmt.Errorf("%w: malformed data URL", ErrBadRequest)
		}
		mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		content = payload
	}

	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, "", fmt.Errorf("%w: document content is not valid base64", ErrBadRequest)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: document content is empty", ErrBadRequest)
	}
	return data, mimeType, nil
}

func (s *ApplicationService) discardUploads(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("Failed to delete orphaned upload")
		}
	}
}

func (s *ApplicationService) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus models.ApplicationStatus, notes string, reviewerID *uuid.UUID) (*models.Application, error) {
	var app models.Application
	if err := s.db.WithContext(ctx).First(&app, "id = ?", id).Error; err != nil {
		return nil, lookupError("application", err)
	}

	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	previous := app.Status
	if !previous.CanTransitionTo(newStatus) {
		return nil, fmt.Errorf("%w: cannot move application from %s to %s", ErrInvalidState, previous, newStatus)
	}

	notes = strings.TrimSpace(notes)
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":      newStatus,
		"reviewed_at": now,
		"reviewed_by": reviewerID,
	}
	if notes != "" {
		updates["notes"] = notes
	}

	var revoked []models.Certificate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Application{}).
			Where("id = ? AND status = ?", app.ID, previous).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update application status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: application status changed concurrently", ErrInvalidState)
		}

		// A rejected application cannot keep a valid certificate.
		if newStatus == models.ApplicationStatusRejected {
			var err error
			revoked, err = revokeActiveCertificates(tx, s.events, app.ID, rejectionReason(notes), now)
			if err != nil {
				return err
			}
		}

		return s.events.Emit(tx, EventApplicationStatus, app.ID.String(), map[string]interface{}{
			"application_id":  app.ID.String(),
			"previous_status": string(previous),
			"status":          string(newStatus),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncStatusTransition(string(newStatus))
	logger := logrus.WithFields(logrus.Fields{
		"application_id":  app.ID,
		"previous_status": previous,
		"new_status":      newStatus,
	})
	logger.Info("Application status updated")
	for _, cert := range revoked {
		s.metrics.IncCertificatesRevoked()
		logger.WithField("registration_no", cert.RegistrationNo).Info("Certificate revoked with application rejection")
	}

	app.Status = newStatus
	s.applyStatusSideEffects(ctx, &app, notes, reviewerID, logger)

	s.activity.Log(ctx, ActivityEntry{
		UserID:        reviewerID,
		ApplicationID: &app.ID,
		Action:        ActionUpdateApplicationStatus,
		Description:   fmt.Sprintf("Application status changed from %s to %s", previous, newStatus),
		Metadata: models.JSONB{
			"previousStatus": string(previous),
			"newStatus":      string(newStatus),
			"notes":          notes,
		},
	})

	return s.GetByID(ctx, app.ID)
}

// applyStatusSideEffects never fails the status change; problems are logged.
func (s *ApplicationService) applyStatusSideEffects(ctx context.Context, app *models.Application, notes string, reviewerID *uuid.UUID, logger *logrus.Entry) {
	switch app.Status {
	case models.ApplicationStatusApproved:
		payment, err := s.latestPayment(ctx, app.ID)
		if err != nil {
			logger.WithError(err).Warn("Could not load payment for approved application")
			return
		}
		if payment == nil || payment.Status != models.PaymentStatusCompleted {
			logger.Warn("Application approved without a completed payment, no certificate issued")
			return
		}
		if _, err := s.approvals.ApprovePayment(ctx, payment.ID, reviewerID, notes); err != nil {
			logger.WithError(err).Warn("Payment approval after status change did not complete")
		}

	case models.ApplicationStatusRejected:
		reason := rejectionReason(notes)

		payment, err := s.latestPayment(ctx, app.ID)
		if err != nil {
			logger.WithError(err).Warn("Could not load payment for rejected application")
		}
		if payment != nil {
			_, rejectErr := s.approvals.RejectPayment(ctx, payment.ID, reason)
			if rejectErr == nil {
				return
			}
			logger.WithError(rejectErr).Warn("Payment rejection failed, notifying applicant directly")
		}
		s.notifier.Send(ctx, NotificationApplicationRejected, app.Email, map[string]interface{}{
			"CooperativeName": app.CooperativeName,
			"Reason":          reason,
		})

	case models.ApplicationStatusFlagged:
		logger.Warn("Application flagged for further review")
	}
}

func (s *ApplicationService) latestPayment(ctx context.Context, applicationID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("created_at DESC").
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *ApplicationService) GetStats(ctx context.Context) (*ApplicationStats, error) {
	var rows []struct {
		Status models.ApplicationStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&models.Application{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count applications: %w", err)
	}

	stats := &ApplicationStats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case models.ApplicationStatusNew:
			stats.New = row.Count
		case models.ApplicationStatusUnderReview:
			stats.UnderReview = row.Count
		case models.ApplicationStatusApproved:
			stats.Approved = row.Count
		case models.ApplicationStatusRejected:
			stats.Rejected = row.Count
		case models.ApplicationStatusFlagged:
			stats.Flagged = row.Count
		}
	}
	return stats, nil
}

func (s *ApplicationService) List(ctx context.Context, params utils.PaginationParams) ([]models.Application, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Application{})

	if params.Status != "" {
		status := models.ApplicationStatus(strings.ToUpper(params.Status))
		if !status.Valid() {
			return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatus, params.Status)
		}
		query = query.Where("status = ?", status)
	}
	if params.Search != "" {
		like := "%" + strings.ToLower(params.Search) + "%"
		query = query.Where("LOWER(cooperative_name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(registration_number) LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count applications: %w", err)
	}

	query = utils.ApplySort(query, params, []string{"created_at", "submitted_at", "cooperative_name", "status"})
	query = utils.ApplyPagination(query, params)

	var applications []models.Application
	if err := query.Find(&applications).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch applications: %w", err)
	}

	return applications, total, nil
}

func (s *ApplicationService) GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var app models.Application
	if err := s.db.WithContext(ctx).
		Preload("Documents").
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		Preload("Certificates", func(db *gorm.DB) *gorm.DB { return db.Order("issued_at DESC") }).
		First(&app, "id = ?", id).Error; err != nil {
		return nil, lookupError("application", err)
	}
	return &app, nil
}

// AddDocument attaches a document to an existing application.
func (s *ApplicationService) AddDocument(ctx context.Context, applicationID uuid.UUID, input *DocumentInput, actorID *uuid.UUID) (*models.Document, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	var app models.Application
	if err := s.db.WithContext(ctx).First(&app, "id = ?", applicationID).Error; err != nil {
		return nil, lookupError("application", err)
	}

	doc, key, err := s.prepareDocument(ctx, *input, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	doc.ApplicationID = app.ID

	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		if key != "" {
			s.discardUploads(ctx, []string{key})
		}
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	s.activity.Log(ctx, ActivityEntry{
		UserID:        actorID,
		ApplicationID: &app.ID,
		Action:        ActionAddDocument,
		Description:   fmt.Sprintf("Document %s added", doc.Filename),
		Metadata:      models.JSONB{"documentType": doc.DocumentType},
	})

	return doc, nil
}
