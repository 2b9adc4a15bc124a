// internal/handlers/payment.go
package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/coop-registry/internal/i18n"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/services"
	"github.com/javajoker/coop-registry/internal/utils"
)

const maxWebhookBody = 1 << 20

type PaymentHandler struct {
	paymentService  *services.PaymentService
	approvalService *services.ApprovalService
	activity        *services.ActivityLogService
}

func NewPaymentHandler(paymentService *services.PaymentService, approvalService *services.ApprovalService, activity *services.ActivityLogService) *PaymentHandler {
	return &PaymentHandler{
		paymentService:  paymentService,
		approvalService: approvalService,
		activity:        activity,
	}
}

// POST /payments/initialize
func (h *PaymentHandler) Initialize(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.InitializePaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.paymentService.Initialize(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyPaymentInitialized),
		"payment": response,
	})
}

// POST /payments/verify
func (h *PaymentHandler) Verify(c *gin.Context) {
	var req services.VerifyPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	payment, err := h.paymentService.Verify(c.Request.Context(), req.Reference)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"payment": payment})
}

// GET /payments/public-key
func (h *PaymentHandler) PublicKey(c *gin.Context) {
	utils.SuccessResponse(c, h.paymentService.PublicKey())
}

// POST /payments/webhook
// The gateway retries on anything but 2xx, so ignored and duplicate events still answer 200.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		utils.BadRequestResponse(c, "Unreadable webhook body", nil)
		return
	}

	result, err := h.paymentService.HandleWebhook(c.Request.Context(), body, c.GetHeader(h.paymentService.SignatureHeader()))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GET /admin/payments
func (h *PaymentHandler) List(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	payments, total, err := h.paymentService.List(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(payments, total, params))
}

// GET /admin/payments/stats
func (h *PaymentHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.paymentService.GetStats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	approvals, err := h.approvalService.GetApprovalStats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"stats":     stats,
		"approvals": approvals,
	})
}

// GET /admin/payments/monthly
func (h *PaymentHandler) Monthly(c *gin.Context) {
	months, err := h.paymentService.GetMonthlyBreakdown(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"months": months})
}

// GET /admin/payments/pending
func (h *PaymentHandler) Pending(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	payments, total, err := h.approvalService.ListPendingPayments(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(payments, total, params))
}

// GET /admin/payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	details, err := h.approvalService.GetPaymentDetails(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, details)
}

type approvePaymentRequest struct {
	Notes string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// POST /admin/payments/:id/approve
func (h *PaymentHandler) Approve(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req approvePaymentRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	result, err := h.approvalService.ApprovePayment(c.Request.Context(), id, &caller.SubjectID, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}

	entry := services.ActivityEntry{
		UserID:        &caller.SubjectID,
		ApplicationID: &result.Payment.ApplicationID,
		Action:        services.ActionApprovePayment,
		Description:   fmt.Sprintf("Payment %s approved", result.Payment.TransactionRef),
		Metadata:      models.JSONB{"paymentId": result.Payment.ID.String(), "notes": req.Notes},
		RequestMeta:   requestMeta(c),
	}
	if result.Certificate != nil {
		entry.Metadata["registrationNo"] = result.Certificate.RegistrationNo
	}
	h.activity.Log(c.Request.Context(), entry)

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyPaymentApproved),
		"result":  result,
	})
}

type rejectPaymentRequest struct {
	Reason string `json:"reason"`
}

// POST /admin/payments/:id/reject
func (h *PaymentHandler) Reject(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req rejectPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	payment, err := h.approvalService.RejectPayment(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	h.activity.Log(c.Request.Context(), services.ActivityEntry{
		UserID:        &caller.SubjectID,
		ApplicationID: &payment.ApplicationID,
		Action:        services.ActionRejectPayment,
		Description:   fmt.Sprintf("Payment %s rejected", payment.TransactionRef),
		Metadata:      models.JSONB{"paymentId": payment.ID.String(), "reason": req.Reason},
		RequestMeta:   requestMeta(c),
	})

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyPaymentRejected),
		"payment": payment,
	})
}
