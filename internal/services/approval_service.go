// internal/services/approval_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/coop-registry/internal/metrics"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

const defaultApprovalNotes = "Approved after payment verification"

// ApprovalService takes a completed payment through approval, certificate issue and
// notification. Progress is stored on ApprovalPipeline so a failed run can be resumed.
type ApprovalService struct {
	db           *gorm.DB
	certificates *CertificateService
	notifier     Notifier
	events       *EventService
	metrics      *metrics.Metrics
}

type ApprovalResult struct {
	Payment     *models.Payment          `json:"payment"`
	Application *models.Application      `json:"application"`
	Certificate *models.Certificate      `json:"certificate"`
	Pipeline    *models.ApprovalPipeline `json:"pipeline"`
}

type PaymentDetails struct {
	Payment      *models.Payment          `json:"payment"`
	Certificates []models.Certificate     `json:"certificates"`
	Pipeline     *models.ApprovalPipeline `json:"pipeline,omitempty"`
}

type ApprovalStats struct {
	PendingVerification int64           `json:"pending_verification"`
	AwaitingApproval    int64           `json:"awaiting_approval"`
	ApprovedToday       int64           `json:"approved_today"`
	RejectedPayments    int64           `json:"rejected_payments"`
	StalledPipelines    int64           `json:"stalled_pipelines"`
	CompletedAmount     decimal.Decimal `json:"completed_amount"`
}

func NewApprovalService(db *gorm.DB, certificates *CertificateService, notifier Notifier, events *EventService, m *metrics.Metrics) *ApprovalService {
	return &ApprovalService{
		db:           db,
		certificates: certificates,
		notifier:     notifier,
		events:       events,
		metrics:      m,
	}
}

func (s *ApprovalService) ApprovePayment(ctx context.Context, paymentID uuid.UUID, adminID *uuid.UUID, notes string) (*ApprovalResult, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).Preload("Application").First(&payment, "id = ?", paymentID).Error; err != nil {
		return nil, lookupError("payment", err)
	}
	if payment.Application == nil {
		return nil, notFound("application")
	}

	if payment.Status != models.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: payment is %s, only COMPLETED payments can be approved", ErrInvalidState, payment.Status)
	}
	if payment.Application.Status.In(models.ApplicationStatusRejected, models.ApplicationStatusFlagged) {
		return nil, fmt.Errorf("%w: application is %s", ErrInvalidState, payment.Application.Status)
	}

	active, err := s.certificates.activeCertificate(ctx, payment.ApplicationID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: application already holds certificate %s", ErrConflict, active.RegistrationNo)
	}

	notes = strings.TrimSpace(notes)
	if notes == "" {
		notes = defaultApprovalNotes
	}

	now := time.Now().UTC()
	pipeline := &models.ApprovalPipeline{
		ApplicationID: payment.ApplicationID,
		PaymentID:     payment.ID,
		Step:          models.PipelineStepPaymentApproved,
		AdminID:       adminID,
		Notes:         notes,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		paymentUpdates := map[string]interface{}{"updated_at": now}
		if payment.PaymentDate == nil {
			paymentUpdates["payment_date"] = now
		}
		if err := tx.Model(&models.Payment{}).Where("id = ?", payment.ID).Updates(paymentUpdates).Error; err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}

		result := tx.Model(&models.Application{}).
			Where("id = ? AND status IN ?", payment.ApplicationID, []models.ApplicationStatus{
				models.ApplicationStatusNew,
				models.ApplicationStatusUnderReview,
				models.ApplicationStatusApproved,
			}).
			Updates(map[string]interface{}{
				"status":      models.ApplicationStatusApproved,
				"reviewed_at": now,
				"reviewed_by": adminID,
				"notes":       notes,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to approve application: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: application status changed concurrently", ErrInvalidState)
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "application_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"payment_id":     payment.ID,
				"step":           models.PipelineStepPaymentApproved,
				"certificate_id": nil,
				"admin_id":       adminID,
				"notes":          notes,
				"last_error":     "",
				"updated_at":     now,
			}),
		}).Create(pipeline).Error; err != nil {
			return err
		}

		return s.events.Emit(tx, EventApplicationStatus, payment.ApplicationID.String(), map[string]interface{}{
			"application_id": payment.ApplicationID.String(),
			"status":         string(models.ApplicationStatusApproved),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncPaymentResolved(string(models.PaymentStatusCompleted), "approval")
	logrus.WithFields(logrus.Fields{
		"payment_id":     payment.ID,
		"application_id": payment.ApplicationID,
	}).Info("Payment approved")

	return s.advance(ctx, payment.ApplicationID)
}

// ResumeApproval continues a pipeline from its last completed step.
func (s *ApprovalService) ResumeApproval(ctx context.Context, applicationID uuid.UUID) (*ApprovalResult, error) {
	var pipeline models.ApprovalPipeline
	if err := s.db.WithContext(ctx).Where("application_id = ?", applicationID).First(&pipeline).Error; err != nil {
		return nil, lookupError("approval pipeline", err)
	}

	if pipeline.Step != models.PipelineStepNotified {
		s.metrics.IncApprovalsResumed()
	}
	return s.advance(ctx, applicationID)
}

// ResumeStalled resumes every unfinished pipeline untouched for olderThan.
func (s *ApprovalService) ResumeStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var stalled []models.ApprovalPipeline
	if err := s.db.WithContext(ctx).
		Where("step <> ? AND updated_at < ?", models.PipelineStepNotified, cutoff).
		Order("updated_at ASC").
		Limit(100).
		Find(&stalled).Error; err != nil {
		return 0, fmt.Errorf("failed to load stalled approvals: %w", err)
	}

	resumed := 0
	for _, pipeline := range stalled {
		if ctx.Err() != nil {
			return resumed, ctx.Err()
		}
		if _, err := s.ResumeApproval(ctx, pipeline.ApplicationID); err != nil {
			logrus.WithError(err).WithField("application_id", pipeline.ApplicationID).Warn("Approval still stalled")
			continue
		}
		resumed++
	}
	return resumed, nil
}

func (s *ApprovalService) RunReconciler(ctx context.Context, interval, olderThan time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ResumeStalled(ctx, olderThan)
			if err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Error("Approval reconciliation failed")
			}
			if n > 0 {
				logrus.WithField("count", n).Info("Resumed stalled approvals")
			}
		}
	}
}

func (s *ApprovalService) advance(ctx context.Context, applicationID uuid.UUID) (*ApprovalResult, error) {
	logger := logrus.WithField("application_id", applicationID)

	for {
		var pipeline models.ApprovalPipeline
		if err := s.db.WithContext(ctx).Where("application_id = ?", applicationID).First(&pipeline).Error; err != nil {
			return nil, lookupError("approval pipeline", err)
		}

		switch pipeline.Step {
		case models.PipelineStepPaymentApproved:
			if err := s.issueCertificate(ctx, &pipeline); err != nil {
				s.recordFailure(ctx, &pipeline, err)
				logger.WithError(err).Error("Certificate issue failed during approval")
				return nil, err
			}

		case models.PipelineStepCertificateIssued:
			if err := s.notifyApproved(ctx, &pipeline); err != nil {
				s.recordFailure(ctx, &pipeline, err)
				logger.WithError(err).Error("Approval notification failed")
				return nil, err
			}

		case models.PipelineStepNotified:
			return s.result(ctx, &pipeline)

		default:
			return nil, fmt.Errorf("%w: unknown approval step %q", ErrInvalidState, pipeline.Step)
		}
	}
}

func (s *ApprovalService) issueCertificate(ctx context.Context, pipeline *models.ApprovalPipeline) error {
	markIssued := func(tx *gorm.DB, cert *models.Certificate) error {
		return tx.Model(&models.ApprovalPipeline{}).
			Where("id = ? AND step = ?", pipeline.ID, models.PipelineStepPaymentApproved).
			Updates(map[string]interface{}{
				"step":           models.PipelineStepCertificateIssued,
				"certificate_id": cert.ID,
				"attempts":       gorm.Expr("attempts + 1"),
				"last_error":     "",
			}).Error
	}

	_, err := s.certificates.issue(ctx, pipeline.ApplicationID, markIssued)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrConflict) {
		return err
	}

	// A certificate exists from an earlier run or a manual issue; adopt it.
	active, lookupErr := s.certificates.activeCertificate(ctx, pipeline.ApplicationID)
	if lookupErr != nil || active == nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return markIssued(tx, active)
	})
}

func (s *ApprovalService) notifyApproved(ctx context.Context, pipeline *models.ApprovalPipeline) error {
	if pipeline.CertificateID == nil {
		return fmt.Errorf("%w: pipeline has no certificate", ErrInvalidState)
	}

	var cert models.Certificate
	if err := s.db.WithContext(ctx).Preload("Application").First(&cert, "id = ?", *pipeline.CertificateID).Error; err != nil {
		return lookupError("certificate", err)
	}
	if cert.Application == nil {
		return notFound("application")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.notifier.SendTx(tx, NotificationApplicationApproved, cert.Application.Email, map[string]interface{}{
			"CooperativeName": cert.Application.CooperativeName,
			"RegistrationNo":  cert.RegistrationNo,
			"CertificateURL":  cert.CertificateURL,
		}); err != nil {
			return err
		}

		return tx.Model(&models.ApprovalPipeline{}).
			Where("id = ? AND step = ?", pipeline.ID, models.PipelineStepCertificateIssued).
			Updates(map[string]interface{}{
				"step":       models.PipelineStepNotified,
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": "",
			}).Error
	})
}

func (s *ApprovalService) recordFailure(ctx context.Context, pipeline *models.ApprovalPipeline, cause error) {
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&models.ApprovalPipeline{}).
		Where("id = ?", pipeline.ID).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause.Error(),
		}).Error; err != nil {
		logrus.WithError(err).WithField("application_id", pipeline.ApplicationID).Error("Failed to record approval failure")
	}
}

func (s *ApprovalService) result(ctx context.Context, pipeline *models.ApprovalPipeline) (*ApprovalResult, error) {
	result := &ApprovalResult{Pipeline: pipeline}

	var payment models.Payment
	if err := s.db.WithContext(ctx).Preload("Application").First(&payment, "id = ?", pipeline.PaymentID).Error; err != nil {
		return nil, lookupError("payment", err)
	}
	result.Payment = &payment
	result.Application = payment.Application

	if pipeline.CertificateID != nil {
		var cert models.Certificate
		if err := s.db.WithContext(ctx).First(&cert, "id = ?", *pipeline.CertificateID).Error; err != nil {
			return nil, lookupError("certificate", err)
		}
		result.Certificate = &cert
	}

	return result, nil
}

func (s *ApprovalService) RejectPayment(ctx context.Context, paymentID uuid.UUID, reason string) (*models.Payment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrBadRequest)
	}

	var payment models.Payment
	if err := s.db.WithContext(ctx).Preload("Application").First(&payment, "id = ?", paymentID).Error; err != nil {
		return nil, lookupError("payment", err)
	}
	if payment.Application == nil {
		return nil, notFound("application")
	}
	if !(payment.Status == models.PaymentStatusPending || payment.Status == models.PaymentStatusCompleted) {
		return nil, fmt.Errorf("%w: payment is %s", ErrInvalidState, payment.Status)
	}
	if !payment.Application.Status.In(
		models.ApplicationStatusNew,
		models.ApplicationStatusUnderReview,
		models.ApplicationStatusFlagged,
		models.ApplicationStatusRejected,
	) {
		return nil, fmt.Errorf("%w: application is %s", ErrInvalidState, payment.Application.Status)
	}

	now := time.Now().UTC()
	var revoked []models.Certificate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, payment.Status).
			Updates(map[string]interface{}{
				"status":     models.PaymentStatusFailed,
				"updated_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to reject payment: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: payment status changed concurrently", ErrInvalidState)
		}

		if err := tx.Model(&models.Application{}).
			Where("id = ?", payment.ApplicationID).
			Updates(map[string]interface{}{
				"status":      models.ApplicationStatusRejected,
				"reviewed_at": now,
				"notes":       reason,
			}).Error; err != nil {
			return fmt.Errorf("failed to reject application: %w", err)
		}

		certs, err := revokeActiveCertificates(tx, s.events, payment.ApplicationID, reason, now)
		if err != nil {
			return err
		}
		revoked = certs

		if err := s.events.Emit(tx, EventApplicationStatus, payment.ApplicationID.String(), map[string]interface{}{
			"application_id": payment.ApplicationID.String(),
			"status":         string(models.ApplicationStatusRejected),
		}); err != nil {
			return err
		}

		return s.notifier.SendTx(tx, NotificationApplicationRejected, payment.Application.Email, map[string]interface{}{
			"CooperativeName": payment.Application.CooperativeName,
			"Reason":          reason,
		})
	})
	if err != nil {
		return nil, err
	}

	payment.Status = models.PaymentStatusFailed
	payment.Application.Status = models.ApplicationStatusRejected

	s.metrics.IncPaymentResolved(string(models.PaymentStatusFailed), "rejection")
	for range revoked {
		s.metrics.IncCertificatesRevoked()
	}
	logrus.WithFields(logrus.Fields{
		"payment_id":     payment.ID,
		"application_id": payment.ApplicationID,
	}).Info("Payment rejected")

	return &payment, nil
}

// ListPendingPayments lists completed payments whose application has no certificate yet.
func (s *ApprovalService) ListPendingPayments(ctx context.Context, params utils.PaginationParams) ([]models.Payment, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Payment{}).
		Joins("JOIN applications ON applications.id = payments.application_id AND applications.deleted_at IS NULL").
		Where("payments.status = ?", models.PaymentStatusCompleted).
		Where("applications.status IN ?", []models.ApplicationStatus{
			models.ApplicationStatusNew,
			models.ApplicationStatusUnderReview,
		})

	if params.Search != "" {
		like := "%" + strings.ToLower(params.Search) + "%"
		query = query.Where("LOWER(applications.cooperative_name) LIKE ? OR LOWER(payments.transaction_ref) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count pending payments: %w", err)
	}

	var payments []models.Payment
	if err := utils.ApplyPagination(query.Order("payments.created_at ASC"), params).
		Preload("Application").
		Find(&payments).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch pending payments: %w", err)
	}

	return payments, total, nil
}

func (s *ApprovalService) GetPaymentDetails(ctx context.Context, paymentID uuid.UUID) (*PaymentDetails, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).
		Preload("Application").
		Preload("Application.Documents").
		First(&payment, "id = ?", paymentID).Error; err != nil {
		return nil, lookupError("payment", err)
	}

	details := &PaymentDetails{Payment: &payment}

	if err := s.db.WithContext(ctx).
		Where("application_id = ?", payment.ApplicationID).
		Order("issued_at DESC").
		Find(&details.Certificates).Error; err != nil {
		return nil, fmt.Errorf("failed to load certificates: %w", err)
	}

	var pipeline models.ApprovalPipeline
	err := s.db.WithContext(ctx).Where("application_id = ?", payment.ApplicationID).First(&pipeline).Error
	switch {
	case err == nil:
		details.Pipeline = &pipeline
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to load approval pipeline: %w", err)
	}

	return details, nil
}

func (s *ApprovalService) GetApprovalStats(ctx context.Context) (*ApprovalStats, error) {
	stats := &ApprovalStats{}
	db := s.db.WithContext(ctx)

	if err := db.Model(&models.Payment{}).
		Where("status = ?", models.PaymentStatusPending).
		Count(&stats.PendingVerification).Error; err != nil {
		return nil, fmt.Errorf("failed to count pending payments: %w", err)
	}

	if err := db.Model(&models.Payment{}).
		Joins("JOIN applications ON applications.id = payments.application_id AND applications.deleted_at IS NULL").
		Where("payments.status = ? AND applications.status IN ?", models.PaymentStatusCompleted, []models.ApplicationStatus{
			models.ApplicationStatusNew,
			models.ApplicationStatusUnderReview,
		}).
		Count(&stats.AwaitingApproval).Error; err != nil {
		return nil, fmt.Errorf("failed to count payments awaiting approval: %w", err)
	}

	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
	if err := db.Model(&models.ApprovalPipeline{}).
		Where("created_at >= ?", startOfDay).
		Count(&stats.ApprovedToday).Error; err != nil {
		return nil, fmt.Errorf("failed to count approvals: %w", err)
	}

	if err := db.Model(&models.Payment{}).
		Where("status = ?", models.PaymentStatusFailed).
		Count(&stats.RejectedPayments).Error; err != nil {
		return nil, fmt.Errorf("failed to count rejected payments: %w", err)
	}

	if err := db.Model(&models.ApprovalPipeline{}).
		Where("step <> ?", models.PipelineStepNotified).
		Count(&stats.StalledPipelines).Error; err != nil {
		return nil, fmt.Errorf("failed to count stalled approvals: %w", err)
	}

	var amounts []decimal.Decimal
	if err := db.Model(&models.Payment{}).
		Where("status = ?", models.PaymentStatusCompleted).
		Pluck("amount", &amounts).Error; err != nil {
		return nil, fmt.Errorf("failed to sum completed payments: %w", err)
	}
	stats.CompletedAmount = decimal.Sum(decimal.Zero, amounts...)

	return stats, nil
}
