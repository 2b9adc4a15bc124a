// internal/handlers/admin.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/coop-registry/internal/i18n"
	"github.com/javajoker/coop-registry/internal/services"
	"github.com/javajoker/coop-registry/internal/utils"
)

// AdminHandler serves the back-office dashboards, reports, settings and audit trail.
type AdminHandler struct {
	reportService   *services.ReportService
	settingsService *services.SettingsService
	activityService *services.ActivityLogService
}

func NewAdminHandler(reportService *services.ReportService, settingsService *services.SettingsService, activityService *services.ActivityLogService) *AdminHandler {
	return &AdminHandler{
		reportService:   reportService,
		settingsService: settingsService,
		activityService: activityService,
	}
}

// GET /admin/dashboard
func (h *AdminHandler) GetDashboardStats(c *gin.Context) {
	stats, err := h.reportService.Dashboard(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"stats": stats,
	})
}

// GET /admin/reports/applications
func (h *AdminHandler) GetApplicationReport(c *gin.Context) {
	report, err := h.reportService.ApplicationSummary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, report)
}

// GET /admin/reports/payments
func (h *AdminHandler) GetPaymentReport(c *gin.Context) {
	report, err := h.reportService.PaymentSummary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, report)
}

// GET /admin/reports/users
func (h *AdminHandler) GetUserReport(c *gin.Context) {
	report, err := h.reportService.UserActivity(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, report)
}

// GET /admin/settings
func (h *AdminHandler) GetSettings(c *gin.Context) {
	settings, err := h.settingsService.GetAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"settings": settings,
	})
}

// GET /admin/settings/:key
func (h *AdminHandler) GetSetting(c *gin.Context) {
	setting, err := h.settingsService.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"setting": setting,
	})
}

// PUT /admin/settings/:key
func (h *AdminHandler) UpdateSetting(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req services.UpsertSettingRequest
	if !bindJSON(c, &req) {
		return
	}

	setting, err := h.settingsService.Upsert(c.Request.Context(), c.Param("key"), &req, caller.SubjectID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyAdminSettingsUpdated),
		"setting": setting,
	})
}

// GET /admin/activity-logs
func (h *AdminHandler) GetActivityLogs(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	params := utils.GetPaginationParams(c)

	filter := services.ActivityFilter{
		Action: c.Query("action"),
	}

	if userID := c.Query("user_id"); userID != "" {
		id, err := uuid.Parse(userID)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "user_id"), nil)
			return
		}
		filter.UserID = &id
	}

	if applicationID := c.Query("application_id"); applicationID != "" {
		id, err := uuid.Parse(applicationID)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "application_id"), nil)
			return
		}
		filter.ApplicationID = &id
	}

	if from := c.Query("from"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			filter.From = &t
		}
	}

	if to := c.Query("to"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			end := t.Add(24*time.Hour - time.Nanosecond)
			filter.To = &end
		}
	}

	logs, total, err := h.activityService.List(c.Request.Context(), filter, params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(logs, total, params))
}
