// internal/services/certificate_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/metrics"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

const maxRegistrationAttempts = 3

type CertificateService struct {
	db       *gorm.DB
	config   *config.Config
	sequence RegistrationSequence
	renderer CertificateRenderer
	store    DocumentStore
	outbox   *OutboxService
	events   *EventService
	metrics  *metrics.Metrics
}

type VerificationResult struct {
	Found            bool       `json:"found"`
	IsValid          bool       `json:"is_valid"`
	RegistrationNo   string     `json:"registration_no"`
	CooperativeName  string     `json:"cooperative_name,omitempty"`
	IssuedAt         *time.Time `json:"issued_at,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason *string    `json:"revocation_reason,omitempty"`
	CertificateURL   string     `json:"certificate_url,omitempty"`
}

func NewCertificateService(
	db *gorm.DB,
	config *config.Config,
	sequence RegistrationSequence,
	renderer CertificateRenderer,
	store DocumentStore,
	outbox *OutboxService,
	events *EventService,
	m *metrics.Metrics,
) *CertificateService {
	s := &CertificateService{
		db:       db,
		config:   config,
		sequence: sequence,
		renderer: renderer,
		store:    store,
		outbox:   outbox,
		events:   events,
		metrics:  m,
	}
	outbox.Register(models.OutboxKindCertificateUpload, s.retryUpload)
	return s
}

// Generate issues a certificate for an APPROVED application without an active one.
func (s *CertificateService) Generate(ctx context.Context, applicationID uuid.UUID) (*models.Certificate, error) {
	return s.issue(ctx, applicationID, nil)
}

// issue runs onCreate inside the transaction that inserts the certificate.
func (s *CertificateService) issue(ctx context.Context, applicationID uuid.UUID, onCreate func(tx *gorm.DB, cert *models.Certificate) error) (*models.Certificate, error) {
	var app models.Application
	if err := s.db.WithContext(ctx).First(&app, "id = ?", applicationID).Error; err != nil {
		return nil, lookupError("application", err)
	}

	if app.Status != models.ApplicationStatusApproved {
		return nil, fmt.Errorf("%w: application is %s, certificates are issued for APPROVED applications only", ErrInvalidState, app.Status)
	}

	active, err := s.activeCertificate(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: application already holds certificate %s", ErrConflict, active.RegistrationNo)
	}

	logger := logrus.WithField("application_id", applicationID)
	year := time.Now().UTC().Year()

	var lastErr error
	for attempt := 1; attempt <= maxRegistrationAttempts; attempt++ {
		seq, err := s.sequence.Next(ctx, year)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate registration number: %w", err)
		}

		cert := &models.Certificate{
			ApplicationID:  applicationID,
			RegistrationNo: models.FormatRegistrationNo(year, seq),
			IssuedAt:       time.Now().UTC(),
		}
		uploaded := s.renderAndUpload(ctx, &app, cert)

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(cert).Error; err != nil {
				return err
			}
			if !uploaded {
				if err := s.outbox.Enqueue(ctx, tx, models.OutboxKindCertificateUpload, models.JSONB{
					"certificate_id": cert.ID.String(),
				}); err != nil {
					return err
				}
			}
			if err := s.events.Emit(tx, EventCertificateIssued, cert.RegistrationNo, map[string]interface{}{
				"application_id":  applicationID.String(),
				"registration_no": cert.RegistrationNo,
				"certificate_url": cert.CertificateURL,
			}); err != nil {
				return err
			}
			if onCreate != nil {
				return onCreate(tx, cert)
			}
			return nil
		})
		if err == nil {
			s.metrics.IncCertificatesIssued()
			logger.WithField("registration_no", cert.RegistrationNo).Info("Certificate issued")
			return cert, nil
		}

		if uploaded {
			if delErr := s.store.Delete(context.WithoutCancel(ctx), cert.FileKey); delErr != nil {
				logger.WithError(delErr).Warn("Failed to remove orphaned certificate file")
			}
		}

		if !isDuplicateKey(err) {
			return nil, fmt.Errorf("failed to save certificate: %w", err)
		}

		// The unique violation is either a concurrent issue for this application or a taken number.
		if active, lookupErr := s.activeCertificate(ctx, applicationID); lookupErr == nil && active != nil {
			return nil, fmt.Errorf("%w: application already holds certificate %s", ErrConflict, active.RegistrationNo)
		}

		s.metrics.IncRegistrationRetries()
		logger.WithField("registration_no", cert.RegistrationNo).Warn("Registration number already taken, allocating another")
		lastErr = err
	}

	return nil, fmt.Errorf("failed to allocate a unique registration number after %d attempts: %w", maxRegistrationAttempts, lastErr)
}

// renderAndUpload fills the certificate URL. On failure it uses the public fallback URL and returns false.
func (s *CertificateService) renderAndUpload(ctx context.Context, app *models.Application, cert *models.Certificate) bool {
	result, err := s.renderAndStore(ctx, app, cert)
	if err != nil {
		logrus.WithError(err).WithField("registration_no", cert.RegistrationNo).
			Warn("Certificate upload failed, using fallback URL")
		cert.CertificateURL = s.fallbackURL(cert.RegistrationNo)
		cert.FileKey = ""
		return false
	}

	cert.CertificateURL = result.URL
	cert.FileKey = result.Key
	return true
}

func (s *CertificateService) renderAndStore(ctx context.Context, app *models.Application, cert *models.Certificate) (*UploadResult, error) {
	pdf, err := s.renderer.Render(CertificateData{
		CooperativeName: app.CooperativeName,
		RegistrationNo:  cert.RegistrationNo,
		Address:         app.Address,
		IssuedAt:        cert.IssuedAt,
	})
	if err != nil {
		return nil, err
	}

	return s.store.Upload(ctx, pdf, cert.RegistrationNo+".pdf", "certificates", "application/pdf")
}

func (s *CertificateService) fallbackURL(registrationNo string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(s.config.Certificate.PublicBaseURL, "/"), registrationNo)
}

func (s *CertificateService) retryUpload(ctx context.Context, task *models.OutboxTask) error {
	id, err := uuid.Parse(task.Payload.String("certificate_id"))
	if err != nil {
		return fmt.Errorf("%w: bad certificate id in task", ErrPermanent)
	}

	var cert models.Certificate
	if err := s.db.WithContext(ctx).Preload("Application").First(&cert, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if cert.FileKey != "" || !cert.IsActive() || cert.Application == nil {
		return nil
	}

	result, err := s.renderAndStore(ctx, cert.Application, &cert)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("id = ? AND (file_key = '' OR file_key IS NULL)", cert.ID).
		Updates(map[string]interface{}{
			"certificate_url": result.URL,
			"file_key":        result.Key,
		}).Error
}

func (s *CertificateService) Revoke(ctx context.Context, certificateID uuid.UUID, reason string) (*models.Certificate, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: revocation reason is required", ErrBadRequest)
	}

	var cert models.Certificate
	if err := s.db.WithContext(ctx).First(&cert, "id = ?", certificateID).Error; err != nil {
		return nil, lookupError("certificate", err)
	}
	if !cert.IsActive() {
		return nil, fmt.Errorf("%w: certificate %s is already revoked", ErrInvalidState, cert.RegistrationNo)
	}

	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Certificate{}).
			Where("id = ? AND revoked_at IS NULL", cert.ID).
			Updates(map[string]interface{}{
				"revoked_at":        now,
				"revocation_reason": reason,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to revoke certificate: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: certificate %s is already revoked", ErrInvalidState, cert.RegistrationNo)
		}

		return s.events.Emit(tx, EventCertificateRevoked, cert.RegistrationNo, map[string]interface{}{
			"application_id":  cert.ApplicationID.String(),
			"registration_no": cert.RegistrationNo,
			"reason":          reason,
		})
	})
	if err != nil {
		return nil, err
	}

	cert.RevokedAt = &now
	cert.RevocationReason = &reason

	s.metrics.IncCertificatesRevoked()
	logrus.WithField("registration_no", cert.RegistrationNo).Info("Certificate revoked")

	return &cert, nil
}

// revokeActiveCertificates revokes every unrevoked certificate of an application inside tx.
func revokeActiveCertificates(tx *gorm.DB, events *EventService, applicationID uuid.UUID, reason string, now time.Time) ([]models.Certificate, error) {
	var active []models.Certificate
	if err := tx.Where("application_id = ? AND revoked_at IS NULL", applicationID).Find(&active).Error; err != nil {
		return nil, fmt.Errorf("failed to load active certificates: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	if err := tx.Model(&models.Certificate{}).
		Where("application_id = ? AND revoked_at IS NULL", applicationID).
		Updates(map[string]interface{}{
			"revoked_at":        now,
			"revocation_reason": reason,
		}).Error; err != nil {
		return nil, fmt.Errorf("failed to revoke certificates: %w", err)
	}

	for i := range active {
		active[i].RevokedAt = &now
		active[i].RevocationReason = &reason
		if err := events.Emit(tx, EventCertificateRevoked, active[i].RegistrationNo, map[string]interface{}{
			"application_id":  applicationID.String(),
			"registration_no": active[i].RegistrationNo,
			"reason":          reason,
		}); err != nil {
			return nil, err
		}
	}
	return active, nil
}

// Verify is the public lookup. Unknown numbers are a normal result, not an error.
func (s *CertificateService) Verify(ctx context.Context, registrationNo string) (*VerificationResult, error) {
	registrationNo = strings.ToUpper(strings.TrimSpace(registrationNo))
	result := &VerificationResult{RegistrationNo: registrationNo}
	if registrationNo == "" {
		return result, nil
	}

	var cert models.Certificate
	err := s.db.WithContext(ctx).Preload("Application").
		Where("registration_no = ?", registrationNo).
		First(&cert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up certificate: %w", err)
	}

	issuedAt := cert.IssuedAt
	result.Found = true
	result.IsValid = cert.IsActive()
	result.IssuedAt = &issuedAt
	result.RevokedAt = cert.RevokedAt
	result.RevocationReason = cert.RevocationReason
	result.CertificateURL = cert.CertificateURL
	if cert.Application != nil {
		result.CooperativeName = cert.Application.CooperativeName
	}

	return result, nil
}

func (s *CertificateService) List(ctx context.Context, params utils.PaginationParams) ([]models.Certificate, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Certificate{})

	switch strings.ToLower(params.Status) {
	case "active":
		query = query.Where("revoked_at IS NULL")
	case "revoked":
		query = query.Where("revoked_at IS NOT NULL")
	}
	if params.Search != "" {
		query = query.Where("registration_no LIKE ?", "%"+strings.ToUpper(params.Search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count certificates: %w", err)
	}

	query = utils.ApplySort(query, params, []string{"created_at", "issued_at", "registration_no"})
	query = utils.ApplyPagination(query, params)

	var certificates []models.Certificate
	if err := query.Preload("Application").Find(&certificates).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch certificates: %w", err)
	}

	return certificates, total, nil
}

func (s *CertificateService) GetByID(ctx context.Context, id uuid.UUID) (*models.Certificate, error) {
	var cert models.Certificate
	if err := s.db.WithContext(ctx).Preload("Application").First(&cert, "id = ?", id).Error; err != nil {
		return nil, lookupError("certificate", err)
	}
	return &cert, nil
}

func (s *CertificateService) activeCertificate(ctx context.Context, applicationID uuid.UUID) (*models.Certificate, error) {
	var cert models.Certificate
	err := s.db.WithContext(ctx).
		Where("application_id = ? AND revoked_at IS NULL", applicationID).
		First(&cert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check existing certificates: %w", err)
	}
	return &cert, nil
}
