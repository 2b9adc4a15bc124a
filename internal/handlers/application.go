// internal/handlers/application.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/coop-registry/internal/i18n"
	"github.com/javajoker/coop-registry/internal/services"
	"github.com/javajoker/coop-registry/internal/utils"
)

type ApplicationHandler struct {
	applicationService *services.ApplicationService
	approvalService    *services.ApprovalService
}

func NewApplicationHandler(applicationService *services.ApplicationService, approvalService *services.ApprovalService) *ApplicationHandler {
	return &ApplicationHandler{
		applicationService: applicationService,
		approvalService:    approvalService,
	}
}

// POST /applications
func (h *ApplicationHandler) Submit(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.SubmitApplicationRequest
	if !bindJSON(c, &req) {
		return
	}

	application, err := h.applicationService.Submit(c.Request.Context(), &req, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyApplicationSubmitted),
		"application": application,
	})
}

// GET /admin/applications
func (h *ApplicationHandler) List(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	applications, total, err := h.applicationService.List(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(applications, total, params))
}

// GET /admin/applications/stats (also /stats/overview)
func (h *ApplicationHandler) Stats(c *gin.Context) {
	stats, err := h.applicationService.GetStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"stats": stats})
}

// GET /admin/applications/:id
func (h *ApplicationHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	application, err := h.applicationService.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"application": application})
}

// PATCH /admin/applications/:id/status
func (h *ApplicationHandler) UpdateStatus(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req services.UpdateStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	application, err := h.applicationService.UpdateStatus(c.Request.Context(), id, req.Status, req.Notes, &caller.SubjectID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyApplicationStatusUpdated),
		"application": application,
	})
}

// POST /admin/applications/:id/documents
func (h *ApplicationHandler) AddDocument(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req services.DocumentInput
	if !bindJSON(c, &req) {
		return
	}

	document, err := h.applicationService.AddDocument(c.Request.Context(), id, &req, &caller.SubjectID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":  i18n.T(lang, i18n.KeyApplicationDocumentAdded),
		"document": document,
	})
}

// POST /admin/applications/:id/resume-approval
func (h *ApplicationHandler) ResumeApproval(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := h.approvalService.ResumeApproval(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyApplicationResumed),
		"result":  result,
	})
}
