// internal/handlers/user.go
package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/coop-registry/internal/i18n"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/services"
	"github.com/javajoker/coop-registry/internal/utils"
)

type UserHandler struct {
	userService *services.UserService
}

func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// GET /admin/users
func (h *UserHandler) List(c *gin.Context) {
	filter := services.UserFilter{
		PaginationParams: utils.GetPaginationParams(c),
	}

	if role := c.Query("role"); role != "" {
		userRole := models.UserRole(strings.ToUpper(role))
		if !userRole.Valid() {
			utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "role"), nil)
			return
		}
		filter.Role = &userRole
	}

	users, total, err := h.userService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(users, total, filter.PaginationParams))
}

// GET /admin/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	user, err := h.userService.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"user": user})
}

// POST /admin/users
func (h *UserHandler) Create(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req services.CreateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.Create(c.Request.Context(), &req, caller)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyUserCreated),
		"user":    user,
	})
}

// PUT /admin/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req services.UpdateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.Update(c.Request.Context(), id, &req, caller)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyUserUpdated),
		"user":    user,
	})
}

type updateUserStatusRequest struct {
	Status models.UserStatus `json:"status" validate:"required"`
}

// PATCH /admin/users/:id/status
func (h *UserHandler) UpdateStatus(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req updateUserStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.UpdateStatus(c.Request.Context(), id, models.UserStatus(strings.ToUpper(string(req.Status))), caller)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyUserUpdated),
		"user":    user,
	})
}

// DELETE /admin/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	caller, ok := principal(c)
	if !ok {
		return
	}

	if err := h.userService.Delete(c.Request.Context(), id, caller); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyUserDeleted),
	})
}

// GET /profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	caller, ok := principal(c)
	if !ok {
		return
	}

	user, err := h.userService.GetByID(c.Request.Context(), caller.SubjectID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"user": user})
}

// PUT /profile
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req services.UpdateProfileRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.UpdateProfile(c.Request.Context(), caller.SubjectID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyUserUpdated),
		"user":    user,
	})
}

// PUT /profile/password
func (h *UserHandler) ChangePassword(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := principal(c)
	if !ok {
		return
	}

	var req services.ChangePasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.userService.ChangePassword(c.Request.Context(), caller.SubjectID, &req); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyUserPasswordChanged),
	})
}
