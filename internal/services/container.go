// internal/services/container.go
package services

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/metrics"
)

// DocumentStorage is what the HTTP layer needs from object storage.
type DocumentStorage interface {
	DocumentStore
	Presigner
}

// Infrastructure groups the external collaborators. Tests substitute fakes field by field.
type Infrastructure struct {
	Gateway   PaymentGateway
	Store     DocumentStorage
	Mailer    Mailer
	Publisher EventPublisher
	Sequence  RegistrationSequence
	Renderer  CertificateRenderer
	Metrics   *metrics.Metrics

	redis *redis.Client
}

// NewInfrastructure connects the optional backends. Redis and Kafka are used only when configured.
func NewInfrastructure(db *gorm.DB, cfg *config.Config, m *metrics.Metrics) (*Infrastructure, error) {
	gateway, err := NewPaymentGateway(cfg.Payment)
	if err != nil {
		return nil, err
	}

	store, err := NewStorageService(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	infra := &Infrastructure{
		Gateway:  gateway,
		Store:    store,
		Mailer:   NewMailer(cfg.Email),
		Renderer: NewPDFCertificateRenderer(cfg.Certificate.IssuerName, cfg.Certificate.VerifyURL),
		Metrics:  m,
	}

	client, err := NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client != nil {
		infra.redis = client
		infra.Sequence = NewRedisSequence(client, db, cfg.Redis.KeyPrefix)
		logrus.Info("Registration numbers allocated from Redis")
	} else {
		infra.Sequence = NewDBSequence(db)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		infra.Publisher = NewKafkaPublisher(cfg.Kafka)
		logrus.WithField("topic", cfg.Kafka.Topic).Info("Domain events published to Kafka")
	}

	return infra, nil
}

func (i *Infrastructure) Close() {
	if i.Publisher != nil {
		if err := i.Publisher.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close event publisher")
		}
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close redis client")
		}
	}
}

type Container struct {
	Outbox        *OutboxService
	Notifications *NotificationService
	Events        *EventService
	Activity      *ActivityLogService
	Certificates  *CertificateService
	Approvals     *ApprovalService
	Applications  *ApplicationService
	Payments      *PaymentService
	Auth          *AuthService
	Users         *UserService
	Settings      *SettingsService
	Reports       *ReportService
	Storage       DocumentStorage
}

func NewContainer(db *gorm.DB, cfg *config.Config, infra *Infrastructure) *Container {
	outbox := NewOutboxService(db, cfg.Outbox, infra.Metrics)
	notifications := NewNotificationService(outbox, infra.Mailer, cfg)
	events := NewEventService(outbox, infra.Publisher)
	activity := NewActivityLogService(db)

	certificates := NewCertificateService(db, cfg, infra.Sequence, infra.Renderer, infra.Store, outbox, events, infra.Metrics)
	approvals := NewApprovalService(db, certificates, notifications, events, infra.Metrics)

	return &Container{
		Outbox:        outbox,
		Notifications: notifications,
		Events:        events,
		Activity:      activity,
		Certificates:  certificates,
		Approvals:     approvals,
		Applications:  NewApplicationService(db, infra.Store, notifications, approvals, activity, events, infra.Metrics),
		Payments:      NewPaymentService(db, cfg, infra.Gateway, notifications, events, infra.Metrics),
		Auth:          NewAuthService(db, cfg, activity),
		Users:         NewUserService(db, notifications, activity),
		Settings:      NewSettingsService(db, activity),
		Reports:       NewReportService(db),
		Storage:       infra.Store,
	}
}
