// internal/services/notification_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/models"
)

type NotificationKind string

const (
	NotificationRegistrationConfirmation NotificationKind = "registration_confirmation"
	NotificationPaymentSuccessful        NotificationKind = "payment_successful"
	NotificationPaymentFailed            NotificationKind = "payment_failed"
	NotificationAdminPaymentNotice       NotificationKind = "admin_payment_notice"
	NotificationApplicationApproved      NotificationKind = "application_approved"
	NotificationApplicationRejected      NotificationKind = "application_rejected"
	NotificationUserInvitation           NotificationKind = "user_invitation"
)

// Notifier queues transactional email. Send never fails the caller.
type Notifier interface {
	Send(ctx context.Context, kind NotificationKind, recipient string, data map[string]interface{})
	SendTx(tx *gorm.DB, kind NotificationKind, recipient string, data map[string]interface{}) error
}

type NotificationService struct {
	outbox *OutboxService
	mailer Mailer
	config *config.Config
}

type EmailTemplate struct {
	Subject string
	Body    string
}

func NewNotificationService(outbox *OutboxService, mailer Mailer, config *config.Config) *NotificationService {
	s := &NotificationService{
		outbox: outbox,
		mailer: mailer,
		config: config,
	}
	outbox.Register(models.OutboxKindEmail, s.deliverTask)
	return s
}

func (s *NotificationService) Send(ctx context.Context, kind NotificationKind, recipient string, data map[string]interface{}) {
	if err := s.outbox.Enqueue(ctx, nil, models.OutboxKindEmail, emailPayload(kind, recipient, data)); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"kind":      kind,
			"recipient": recipient,
		}).Error("Failed to queue notification")
	}
}

func (s *NotificationService) SendTx(tx *gorm.DB, kind NotificationKind, recipient string, data map[string]interface{}) error {
	return s.outbox.Enqueue(tx.Statement.Context, tx, models.OutboxKindEmail, emailPayload(kind, recipient, data))
}

func emailPayload(kind NotificationKind, recipient string, data map[string]interface{}) models.JSONB {
	if data == nil {
		data = map[string]interface{}{}
	}
	return models.JSONB{
		"kind":      string(kind),
		"recipient": recipient,
		"data":      data,
	}
}

func (s *NotificationService) deliverTask(ctx context.Context, task *models.OutboxTask) error {
	kind := NotificationKind(task.Payload.String("kind"))
	recipient := task.Payload.String("recipient")
	if recipient == "" {
		return fmt.Errorf("%w: email task without recipient", ErrPermanent)
	}

	data, _ := task.Payload["data"].(map[string]interface{})
	return s.Deliver(ctx, kind, recipient, data)
}

// Deliver renders and sends an email immediately.
func (s *NotificationService) Deliver(ctx context.Context, kind NotificationKind, recipient string, data map[string]interface{}) error {
	tmpl, ok := emailTemplates[kind]
	if !ok {
		return fmt.Errorf("%w: unknown notification kind %q", ErrPermanent, kind)
	}

	view := map[string]interface{}{
		"RegistryName": s.config.Certificate.IssuerName,
		"FrontendURL":  s.config.Frontend.BaseURL,
	}
	for k, v := range data {
		view[k] = v
	}

	subject, err := s.renderTemplate(tmpl.Subject, view)
	if err != nil {
		return fmt.Errorf("%w: failed to render subject: %v", ErrPermanent, err)
	}
	body, err := s.renderTemplate(tmpl.Body, view)
	if err != nil {
		return fmt.Errorf("%w: failed to render email template: %v", ErrPermanent, err)
	}

	return s.mailer.Send(ctx, EmailMessage{To: recipient, Subject: subject, HTMLBody: body})
}

func (s *NotificationService) renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

var emailTemplates = map[NotificationKind]EmailTemplate{
	NotificationRegistrationConfirmation: {
		Subject: "Application received - {{.CooperativeName}}",
		Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Thank you for applying</h2>
	<p>We have received the registration application for <strong>{{.CooperativeName}}</strong>.</p>
	<p>Your application reference is {{.ApplicationID}}. Complete the registration fee payment to begin review.</p>
	<p>Best regards,<br>{{.RegistryName}}</p>
</body>
</html>`,
	},
	NotificationPaymentSuccessful: {
		Subject: "Payment received - {{.Reference}}",
		Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Payment successful</h2>
	<p>We received {{.Currency}} {{.Amount}} for <strong>{{.CooperativeName}}</strong> (reference {{.Reference}}).</p>
	<p>Your application will now be reviewed.</p>
	<p>Best regards,<br>{{.RegistryName}}</p>
</body>
</html>`,
	},
	NotificationPaymentFailed: {
		Subject: "Payment unsuccessful - {{.Reference}}",
		Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Payment unsuccessful</h2>
	<p>The payment with reference {{.Reference}} for <strong>{{.CooperativeName}}</strong> could not be completed.</p>
	<p>Please try again from <a href="{{.FrontendURL}}">the registry portal</a>.</p>
	<p>Best regards,<br>{{.RegistryName}}</p>
</body>
</html>`,
	},
	NotificationAdminPaymentNotice: {
		Subject: "Payment awaiting verification - {{.CooperativeName}}",
		Body: `
<!DOCTYPE html>
<html>
<body>
	<p>A payment of {{.Currency}} {{.Amount}} (reference {{.Reference}}) was received for <strong>{{.CooperativeName}}</strong>.</p>
	<p><a href="{{.FrontendURL}}/admin/payments/{{.PaymentID}}">Review payment</a></p>
</body>
</html>`,
	},
	NotificationApplicationApproved: {
		Subject: "Registration approved - {{.RegistrationNo}}",
		Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>Congratulations!</h2>
	<p><strong>{{.CooperativeName}}</strong> has been registered with number <strong>{{.RegistrationNo}}</strong>.</p>
	<p><a href="{{.CertificateURL}}">Download your certificate</a></p>
	<p>Best regards,<br>{{.RegistryName}}</p>
</body>
</html>`,
	},
	NotificationApplicationRejected: {
		Subject: "Registration application update - {{.CooperativeName}}",
		Body: `
<!DOCTYPE html>
<html>
<body>
	<p>We are unable to approve the registration application for <strong>{{.CooperativeName}}</strong>.</p>
	<p>Reason: {{.Reason}}</p>
	<p>Best regards,<br>{{.RegistryName}}</p>
</body>
</html>`,
	},
	NotificationUserInvitation: {
		Subject: "Your {{.RegistryName}} account",
		Body: `
<!DOCTYPE html>
<html>
<body>
	<p>Hello {{.Name}},</p>
	<p>An account with role {{.Role}} has been created for you.</p>
	<p>Temporary password: <code>{{.TemporaryPassword}}</code></p>
	<p><a href="{{.FrontendURL}}/login">Sign in</a> and change it right away.</p>
</body>
</html>`,
	},
}
