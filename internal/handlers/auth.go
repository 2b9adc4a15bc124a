// internal/handlers/auth.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/coop-registry/internal/i18n"
	"github.com/javajoker/coop-registry/internal/services"
	"github.com/javajoker/coop-registry/internal/utils"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

func tokenPayload(resp *services.AuthResponse) gin.H {
	return gin.H{
		"user":          resp.User,
		"token":         resp.AccessToken,
		"refresh_token": resp.RefreshToken,
		"token_type":    resp.TokenType,
		"expires_in":    resp.ExpiresIn,
	}
}

// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	authResponse, err := h.authService.Login(c.Request.Context(), &req, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}

	payload := tokenPayload(authResponse)
	payload["message"] = i18n.T(lang, i18n.KeyAuthLoginSuccess)
	utils.SuccessResponse(c, payload)
}

// POST /auth/refresh
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req services.RefreshRequest
	if !bindJSON(c, &req) {
		return
	}

	authResponse, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, tokenPayload(authResponse))
}

// POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := principal(c)
	if !ok {
		return
	}

	if err := h.authService.Logout(c.Request.Context(), caller.SubjectID); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyAuthLogoutSuccess),
	})
}

// GET /auth/me
func (h *AuthHandler) GetProfile(c *gin.Context) {
	caller, ok := principal(c)
	if !ok {
		return
	}

	user, err := h.authService.Me(c.Request.Context(), caller.SubjectID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"user": user,
	})
}
