// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/coop-registry/internal/i18n"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/services"
	"github.com/javajoker/coop-registry/internal/utils"
)

var errorStatuses = []struct {
	target error
	status int
	code   string
}{
	{services.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{services.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
	{services.ErrConflict, http.StatusConflict, "CONFLICT"},
	{services.ErrBadRequest, http.StatusBadRequest, "BAD_REQUEST"},
	{services.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{services.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{services.ErrUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
}

// respondError writes the envelope for a service error.
func respondError(c *gin.Context, err error) {
	if validationErrors := utils.GetValidationErrors(err); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	for _, candidate := range errorStatuses {
		if errors.Is(err, candidate.target) {
			utils.ErrorResponse(c, candidate.status, candidate.code, errorMessage(err, candidate.target), nil)
			return
		}
	}

	logrus.WithError(err).WithFields(logrus.Fields{
		"method": c.Request.Method,
		"path":   c.FullPath(),
	}).Error("Request failed")
	utils.InternalErrorResponse(c, "")
}

// errorMessage drops the sentinel prefix so clients see only the detail.
func errorMessage(err, sentinel error) string {
	msg := err.Error()
	if trimmed := strings.TrimPrefix(msg, sentinel.Error()+": "); trimmed != "" {
		return trimmed
	}
	return msg
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	return true
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, name), nil)
		return uuid.Nil, false
	}
	return id, true
}

func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// principal returns the authenticated caller. Routes using it sit behind AuthRequired.
func principal(c *gin.Context) (models.Principal, bool) {
	p, ok := utils.GetPrincipalFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
	}
	return p, ok
}
