// internal/services/payment_service.go
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
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/metrics"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

const (
	webhookAlreadyProcessed = "Webhook already processed"
	webhookRecorded         = "Payment recorded successfully"
	webhookUnknownReference = "Unknown payment reference"
	webhookIgnored          = "Event ignored"
)

type PaymentService struct {
	db       *gorm.DB
	config   *config.Config
	gateway  PaymentGateway
	notifier Notifier
	events   *EventService
	metrics  *metrics.Metrics
}

type InitializePaymentRequest struct {
	ApplicationID uuid.UUID `json:"application_id" validate:"required"`
	Email         string    `json:"email,omitempty" validate:"omitempty,email"`
	CallbackURL   string    `json:"callback_url,omitempty" validate:"omitempty,url"`
}

type InitializePaymentResponse struct {
	PaymentID        uuid.UUID       `json:"payment_id"`
	Provider         string          `json:"provider"`
	AuthorizationURL string          `json:"authorization_url,omitempty"`
	AccessCode       string          `json:"access_code,omitempty"`
	Reference        string          `json:"reference"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PublicKey        string          `json:"public_key,omitempty"`
}

type VerifyPaymentRequest struct {
	Reference string `json:"reference" validate:"required,max=100"`
}

type WebhookResult struct {
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
	Message   string `json:"message"`
}

type PaymentStats struct {
	Total           int64           `json:"total"`
	Pending         int64           `json:"pending"`
	Completed       int64           `json:"completed"`
	Failed          int64           `json:"failed"`
	Refunded        int64           `json:"refunded"`
	CompletedAmount decimal.Decimal `json:"completed_amount"`
}

type MonthlyPayments struct {
	Month  string          `json:"month"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type GatewayKey struct {
	Provider  string `json:"provider"`
	PublicKey string `json:"public_key"`
}

func NewPaymentService(db *gorm.DB, config *config.Config, gateway PaymentGateway, notifier Notifier, events *EventService, m *metrics.Metrics) *PaymentService {
	return &PaymentService{
		db:       db,
		config:   config,
		gateway:  gateway,
		notifier: notifier,
		events:   events,
		metrics:  m,
	}
}

func (s *PaymentService) Initialize(ctx context.Context, req *InitializePaymentRequest) (*InitializePaymentResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	var app models.Application
	if err := s.db.WithContext(ctx).First(&app, "id = ?", req.ApplicationID).Error; err != nil {
		return nil, lookupError("application", err)
	}
	if app.Status == models.ApplicationStatusRejected {
		return nil, fmt.Errorf("%w: application has been rejected", ErrInvalidState)
	}

	var paid int64
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("application_id = ? AND status = ?", app.ID, models.PaymentStatusCompleted).
		Count(&paid).Error; err != nil {
		return nil, fmt.Errorf("failed to check existing payments: %w", err)
	}
	if paid > 0 {
		return nil, fmt.Errorf("%w: registration fee already paid", ErrConflict)
	}

	reference, err := newPaymentReference()
	if err != nil {
		return nil, err
	}

	email := req.Email
	if email == "" {
		email = app.Email
	}
	amount := s.config.Payment.RegistrationFee
	currency := s.config.Payment.Currency

	initialized, err := s.gateway.Initialize(ctx, GatewayInitRequest{
		Reference:     reference,
		Email:         email,
		Amount:        amount,
		Currency:      currency,
		ApplicationID: app.ID,
		CallbackURL:   req.CallbackURL,
	})
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ApplicationID:  app.ID,
		Amount:         amount,
		Currency:       currency,
		Status:         models.PaymentStatusPending,
		PaymentMethod:  s.gateway.Name(),
		TransactionRef: initialized.Reference,
	}
	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: payment reference already in use", ErrConflict)
		}
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"payment_id":     payment.ID,
		"application_id": app.ID,
		"reference":      initialized.Reference,
	}).Info("Payment initialized")

	return &InitializePaymentResponse{
		PaymentID:        payment.ID,
		Provider:         s.gateway.Name(),
		AuthorizationURL: initialized.AuthorizationURL,
		AccessCode:       initialized.AccessCode,
		Reference:        initialized.Reference,
		Amount:           amount,
		Currency:         currency,
		PublicKey:        s.gateway.PublicKey(),
	}, nil
}

func newPaymentReference() (string, error) {
	suffix, err := utils.GenerateRandomString(8)
	if err != nil {
		return "", fmt.Errorf("failed to generate payment reference: %w", err)
	}
	return fmt.Sprintf("COOP-%d-%s", time.Now().UnixMilli(), strings.ToUpper(suffix)), nil
}

// Verify asks the gateway about a pending payment. Resolved payments are returned as they are.
func (s *PaymentService) Verify(ctx context.Context, reference string) (*models.Payment, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrBadRequest)
	}

	payment, err := s.findByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, notFound("payment")
	}
	if payment.Status != models.PaymentStatusPending {
		return payment, nil
	}

	charge, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !charge.Resolved() {
		return payment, nil
	}

	if _, err := s.resolve(ctx, payment, charge, "verify"); err != nil {
		return nil, err
	}

	return s.findByReference(ctx, reference)
}

func (s *PaymentService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*WebhookResult, error) {
	if !s.gateway.VerifySignature(rawBody, signature) {
		return nil, fmt.Errorf("%w: invalid webhook signature", ErrUnauthorized)
	}

	charge, err := s.gateway.ParseWebhook(rawBody)
	if err != nil {
		return nil, err
	}

	result := &WebhookResult{Status: "success", Reference: charge.Reference}
	if charge.Reference == "" || !charge.Resolved() {
		result.Message = webhookIgnored
		return result, nil
	}

	logger := logrus.WithFields(logrus.Fields{
		"reference": charge.Reference,
		"event":     charge.Event,
	})

	payment, err := s.findByReference(ctx, charge.Reference)
	if err != nil {
		return nil, err
	}

	if payment != nil {
		if payment.Status != models.PaymentStatusPending {
			result.Message = webhookAlreadyProcessed
			return result, nil
		}
		resolved, err := s.resolve(ctx, payment, charge, "webhook")
		if err != nil {
			return nil, err
		}
		if !resolved {
			result.Message = webhookAlreadyProcessed
			return result, nil
		}
		result.Message = webhookRecorded
		return result, nil
	}

	if charge.ApplicationID == nil {
		logger.Warn("Webhook for unknown payment reference")
		result.Message = webhookUnknownReference
		return result, nil
	}

	created, err := s.recordDirect(ctx, charge)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Warn("Webhook references an unknown application")
			result.Message = webhookUnknownReference
			return result, nil
		}
		if isDuplicateKey(err) {
			result.Message = webhookAlreadyProcessed
			return result, nil
		}
		return nil, err
	}

	logger.WithField("payment_id", created.ID).Info("Payment recorded from webhook")
	result.Message = webhookRecorded
	return result, nil
}

// resolve moves a PENDING payment to the charge's final status exactly once.
// It reports false when another caller resolved it first.
func (s *PaymentService) resolve(ctx context.Context, payment *models.Payment, charge *GatewayTransaction, source string) (bool, error) {
	updates := map[string]interface{}{
		"status":     charge.Status,
		"updated_at": time.Now().UTC(),
	}
	if len(charge.Raw) > 0 {
		updates["raw_payload"] = datatypes.JSON(charge.Raw)
	}
	if charge.Channel != "" {
		updates["payment_method"] = charge.Channel
	}
	if charge.Status == models.PaymentStatusCompleted {
		updates["payment_date"] = paidAt(charge)
		if !charge.Amount.IsZero() && !charge.Amount.Equal(payment.Amount) {
			logrus.WithFields(logrus.Fields{
				"payment_id": payment.ID,
				"expected":   payment.Amount.String(),
				"received":   charge.Amount.String(),
			}).Warn("Gateway amount differs from recorded amount")
		}
	}

	resolved := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, models.PaymentStatusPending).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to resolve payment: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		resolved = true

		payment.Status = charge.Status
		return s.queueOutcome(tx, payment)
	})
	if err != nil {
		return false, err
	}

	if resolved {
		s.afterResolve(payment, source)
	}
	return resolved, nil
}

// recordDirect creates an already-resolved payment for a webhook that carries only the application id.
func (s *PaymentService) recordDirect(ctx context.Context, charge *GatewayTransaction) (*models.Payment, error) {
	var app models.Application
	if err := s.db.WithContext(ctx).First(&app, "id = ?", *charge.ApplicationID).Error; err != nil {
		return nil, lookupError("application", err)
	}

	amount := charge.Amount
	if amount.IsZero() {
		amount = s.config.Payment.RegistrationFee
	}
	currency := charge.Currency
	if currency == "" {
		currency = s.config.Payment.Currency
	}
	method := charge.Channel
	if method == "" {
		method = s.gateway.Name()
	}

	payment := &models.Payment{
		ApplicationID:  app.ID,
		Application:    &app,
		Amount:         amount,
		Currency:       strings.ToUpper(currency),
		Status:         charge.Status,
		PaymentMethod:  method,
		TransactionRef: charge.Reference,
		RawPayload:     datatypes.JSON(charge.Raw),
	}
	if charge.Status == models.PaymentStatusCompleted {
		date := paidAt(charge)
		payment.PaymentDate = &date
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Application").Create(payment).Error; err != nil {
			return err
		}
		return s.queueOutcome(tx, payment)
	})
	if err != nil {
		return nil, err
	}

	s.afterResolve(payment, "webhook")
	return payment, nil
}

func (s *PaymentService) queueOutcome(tx *gorm.DB, payment *models.Payment) error {
	if err := s.events.Emit(tx, EventPaymentResolved, payment.TransactionRef, map[string]interface{}{
		"payment_id":     payment.ID.String(),
		"application_id": payment.ApplicationID.String(),
		"status":         string(payment.Status),
		"amount":         payment.Amount.String(),
		"currency":       payment.Currency,
	}); err != nil {
		return err
	}
	if payment.Application == nil {
		return nil
	}

	data := map[string]interface{}{
		"CooperativeName": payment.Application.CooperativeName,
		"Reference":       payment.TransactionRef,
		"Amount":          payment.Amount.StringFixed(2),
		"Currency":        payment.Currency,
		"PaymentID":       payment.ID.String(),
	}

	switch payment.Status {
	case models.PaymentStatusCompleted:
		if err := s.notifier.SendTx(tx, NotificationPaymentSuccessful, payment.Application.Email, data); err != nil {
			return err
		}
		if s.config.Email.AdminEmail != "" {
			return s.notifier.SendTx(tx, NotificationAdminPaymentNotice, s.config.Email.AdminEmail, data)
		}
	case models.PaymentStatusFailed:
		return s.notifier.SendTx(tx, NotificationPaymentFailed, payment.Application.Email, data)
	}
	return nil
}

func (s *PaymentService) afterResolve(payment *models.Payment, source string) {
	s.metrics.IncPaymentResolved(string(payment.Status), source)
	logrus.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"reference":  payment.TransactionRef,
		"status":     payment.Status,
		"source":     source,
	}).Info("Payment resolved")
}

func paidAt(charge *GatewayTransaction) time.Time {
	if charge.PaidAt != nil {
		return charge.PaidAt.UTC()
	}
	return time.Now().UTC()
}

func (s *PaymentService) findByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Preload("Application").
		Where("transaction_ref = ?", reference).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return &payment, nil
}

func (s *PaymentService) List(ctx context.Context, params utils.PaginationParams) ([]models.Payment, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Payment{})

	if params.Status != "" {
		status := models.PaymentStatus(strings.ToUpper(params.Status))
		if !status.Valid() {
			return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatus, params.Status)
		}
		query = query.Where("status = ?", status)
	}
	if params.Search != "" {
		query = query.Where("LOWER(transaction_ref) LIKE ?", "%"+strings.ToLower(params.Search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	query = utils.ApplySort(query, params, []string{"created_at", "amount", "status", "payment_date"})
	query = utils.ApplyPagination(query, params)

	var payments []models.Payment
	if err := query.Preload("Application").Find(&payments).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch payments: %w", err)
	}

	return payments, total, nil
}

func (s *PaymentService) GetStats(ctx context.Context) (*PaymentStats, error) {
	var rows []struct {
		Status models.PaymentStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count payments: %w", err)
	}

	stats := &PaymentStats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case models.PaymentStatusPending:
			stats.Pending = row.Count
		case models.PaymentStatusCompleted:
			stats.Completed = row.Count
		case models.PaymentStatusFailed:
			stats.Failed = row.Count
		case models.PaymentStatusRefunded:
			stats.Refunded = row.Count
		}
	}

	var amounts []decimal.Decimal
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("status = ?", models.PaymentStatusCompleted).
		Pluck("amount", &amounts).Error; err != nil {
		return nil, fmt.Errorf("failed to sum payments: %w", err)
	}
	stats.CompletedAmount = decimal.Sum(decimal.Zero, amounts...)

	return stats, nil
}

// GetMonthlyBreakdown totals completed payments for the last twelve months, oldest first.
func (s *PaymentService) GetMonthlyBreakdown(ctx context.Context) ([]MonthlyPayments, error) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -11, 0)

	var payments []models.Payment
	if err := s.db.WithContext(ctx).
		Select("amount", "payment_date", "created_at").
		Where("status = ? AND created_at >= ?", models.PaymentStatusCompleted, start).
		Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}

	months := make([]MonthlyPayments, 12)
	index := make(map[string]int, 12)
	for i := range months {
		label := start.AddDate(0, i, 0).Format("2006-01")
		months[i] = MonthlyPayments{Month: label, Amount: decimal.Zero}
		index[label] = i
	}

	for _, payment := range payments {
		when := payment.CreatedAt
		if payment.PaymentDate != nil {
			when = *payment.PaymentDate
		}
		i, ok := index[when.UTC().Format("2006-01")]
		if !ok {
			continue
		}
		months[i].Count++
		months[i].Amount = months[i].Amount.Add(payment.Amount)
	}

	return months, nil
}

func (s *PaymentService) PublicKey() GatewayKey {
	return GatewayKey{Provider: s.gateway.Name(), PublicKey: s.gateway.PublicKey()}
}

// SignatureHeader names the request header carrying the webhook signature.
func (s *PaymentService) SignatureHeader() string {
	return s.gateway.SignatureHeader()
}
