// internal/handlers/certificate.go
package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/coop-registry/internal/i18n"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/services"
	"github.com/javajoker/coop-registry/internal/utils"
)

type CertificateHandler struct {
	certificateService *services.CertificateService
	activity           *services.ActivityLogService
}

func NewCertificateHandler(certificateService *services.CertificateService, activity *services.ActivityLogService) *CertificateHandler {
	return &CertificateHandler{
		certificateService: certificateService,
		activity:           activity,
	}
}

// GET /certificates/verify/:regNo
func (h *CertificateHandler) Verify(c *gin.Context) {
	result, err := h.certificateService.Verify(c.Request.Context(), c.Param("regNo"))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// GET /admin/certificates
func (h *CertificateHandler) List(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	certificates, total, err := h.certificateService.List(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(certificates, total, params))
}

// GET /admin/certificates/:id
func (h *CertificateHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	certificate, err := h.certificateService.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"certificate": certificate})
}

type generateCertificateRequest struct {
	ApplicationID uuid.UUID `json:"application_id" validate:"required"`
}

// POST /admin/certificates
func (h *CertificateHandler) Generate(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req generateCertificateRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.ApplicationID == uuid.Nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "application_id"), nil)
		return
	}

	certificate, err := h.certificateService.Generate(c.Request.Context(), req.ApplicationID)
	if err != nil {
		respondError(c, err)
		return
	}

	h.activity.Log(c.Request.Context(), services.ActivityEntry{
		UserID:        &caller.SubjectID,
		ApplicationID: &certificate.ApplicationID,
		Action:        services.ActionGenerateCertificate,
		Description:   fmt.Sprintf("Certificate %s generated", certificate.RegistrationNo),
		Metadata:      models.JSONB{"certificateId": certificate.ID.String()},
		RequestMeta:   requestMeta(c),
	})

	utils.CreatedResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyCertificateIssued),
		"certificate": certificate,
	})
}

type revokeCertificateRequest struct {
	Reason string `json:"reason"`
}

// PATCH /admin/certificates/:id/revoke
func (h *CertificateHandler) Revoke(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req revokeCertificateRequest
	if !bindJSON(c, &req) {
		return
	}

	certificate, err := h.certificateService.Revoke(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	h.activity.Log(c.Request.Context(), services.ActivityEntry{
		UserID:        &caller.SubjectID,
		ApplicationID: &certificate.ApplicationID,
		Action:        services.ActionRevokeCertificate,
		Description:   fmt.Sprintf("Certificate %s revoked", certificate.RegistrationNo),
		Metadata:      models.JSONB{"certificateId": certificate.ID.String(), "reason": req.Reason},
		RequestMeta:   requestMeta(c),
	})

	utils.SuccessResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyCertificateRevoked),
		"certificate": certificate,
	})
}
