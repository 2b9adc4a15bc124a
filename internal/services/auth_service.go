// internal/services/auth_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

const refreshTokenLength = 48

type AuthService struct {
	db       *gorm.DB
	cfg      *config.Config
	activity *ActivityLogService
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type AuthResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"` // in seconds
}

func NewAuthService(db *gorm.DB, cfg *config.Config, activity *ActivityLogService) *AuthService {
	return &AuthService{
		db:       db,
		cfg:      cfg,
		activity: activity,
	}
}

func (s *AuthService) Login(ctx context.Context, req *LoginRequest, meta RequestMeta) (*AuthResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if err := user.CheckPassword(req.Password); err != nil {
		return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}

	if user.Status != models.UserStatusActive {
		return nil, fmt.Errorf("%w: account is %s", ErrForbidden, strings.ToLower(string(user.Status)))
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).
		Update("last_login_at", now).Error; err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	user.LastLoginAt = &now

	resp, err := s.issueTokens(ctx, s.db.WithContext(ctx), &user, meta.IPAddress)
	if err != nil {
		return nil, err
	}

	s.activity.Log(ctx, ActivityEntry{
		UserID:      &user.ID,
		Action:      ActionLogin,
		Description: fmt.Sprintf("%s signed in", user.Email),
		RequestMeta: meta,
	})

	return resp, nil
}

// Refresh rotates the refresh token. A token can be exchanged only once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*AuthResponse, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("%w: refresh token is required", ErrBadRequest)
	}

	var resp *AuthResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored models.RefreshToken
		if err := tx.Where("token_hash = ?", utils.HashString(refreshToken)).First(&stored).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
			}
			return fmt.Errorf("database error: %w", err)
		}

		now := time.Now().UTC()
		if stored.RevokedAt != nil || now.After(stored.ExpiresAt) {
			return fmt.Errorf("%w: refresh token expired or revoked", ErrUnauthorized)
		}

		result := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", stored.ID).
			Update("revoked_at", now)
		if result.Error != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: refresh token already used", ErrUnauthorized)
		}

		var user models.User
		if err := tx.First(&user, "id = ?", stored.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
			}
			return fmt.Errorf("database error: %w", err)
		}
		if user.Status != models.UserStatusActive {
			return fmt.Errorf("%w: account is not active", ErrForbidden)
		}

		issued, err := s.issueTokens(ctx, tx, &user, meta.IPAddress)
		if err != nil {
			return err
		}
		resp = issued
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// Logout revokes every refresh token of the user.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID) error {
	return revokeSessions(s.db.WithContext(ctx), userID)
}

func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, lookupError("user", err)
	}
	return &user, nil
}

func (s *AuthService) issueTokens(ctx context.Context, db *gorm.DB, user *models.User, ipAddress string) (*AuthResponse, error) {
	accessToken, err := utils.GenerateJWT(user.ID, user.Email, user.Role, s.cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := utils.GenerateRandomString(refreshTokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	stored := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: utils.HashString(refreshToken),
		ExpiresAt: time.Now().UTC().Add(time.Duration(s.cfg.JWT.RefreshTokenTTL) * time.Hour),
		IPAddress: ipAddress,
	}
	if err := db.WithContext(ctx).Create(stored).Error; err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &AuthResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.cfg.JWT.AccessTokenTTL * 3600,
	}, nil
}
