// internal/services/user_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

type UserService struct {
	db       *gorm.DB
	notifier Notifier
	activity *ActivityLogService
}

type UserFilter struct {
	utils.PaginationParams
	Role *models.UserRole `json:"role,omitempty"`
}

type CreateUserRequest struct {
	Email     string          `json:"email" validate:"required,email"`
	FirstName string          `json:"first_name" validate:"required,max=100"`
	LastName  string          `json:"last_name" validate:"required,max=100"`
	Role      models.UserRole `json:"role" validate:"required,oneof=SYSTEM_ADMIN ADMIN STAFF"`
	Password  string          `json:"password,omitempty" validate:"omitempty,strong_password"`
}

type UpdateUserRequest struct {
	FirstName *string          `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  *string          `json:"last_name,omitempty" validate:"omitempty,max=100"`
	Role      *models.UserRole `json:"role,omitempty" validate:"omitempty,oneof=SYSTEM_ADMIN ADMIN STAFF"`
}

type UpdateProfileRequest struct {
	FirstName string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  string `json:"last_name,omitempty" validate:"omitempty,max=100"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,strong_password"`
}

func NewUserService(db *gorm.DB, notifier Notifier, activity *ActivityLogService) *UserService {
	return &UserService{
		db:       db,
		notifier: notifier,
		activity: activity,
	}
}

func (s *UserService) List(ctx context.Context, filter UserFilter) ([]models.User, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.User{})

	if filter.Role != nil {
		query = query.Where("role = ?", *filter.Role)
	}
	if filter.Status != "" {
		status := models.UserStatus(strings.ToUpper(filter.Status))
		if !status.Valid() {
			return nil, 0, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
		}
		query = query.Where("status = ?", status)
	}
	if filter.Search != "" {
		searchTerm := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?", searchTerm, searchTerm, searchTerm)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	allowedSortFields := []string{"created_at", "updated_at", "email", "last_name", "role", "status", "last_login_at"}
	query = utils.ApplySort(query, filter.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, filter.PaginationParams)

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch users: %w", err)
	}

	return users, total, nil
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, lookupError("user", err)
	}
	return &user, nil
}

// Create adds a staff account. Without a password a temporary one is generated and emailed.
func (s *UserService) Create(ctx context.Context, req *CreateUserRequest, actor models.Principal) (*models.User, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if req.Role == models.UserRoleSystemAdmin && actor.Role != models.UserRoleSystemAdmin {
		return nil, fmt.Errorf("%w: only system administrators can create system administrators", ErrForbidden)
	}

	password := req.Password
	temporary := password == ""
	if temporary {
		generated, err := utils.GenerateTemporaryPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to generate password: %w", err)
		}
		password = generated
	}

	user := &models.User{
		Email:     req.Email,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Role:      req.Role,
		Status:    models.UserStatusActive,
	}
	if err := user.SetPassword(password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: a user with this email already exists", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if temporary {
		s.notifier.Send(ctx, NotificationUserInvitation, user.Email, map[string]interface{}{
			"Name":              user.FullName(),
			"Role":              string(user.Role),
			"TemporaryPassword": password,
		})
	}
	s.activity.Log(ctx, ActivityEntry{
		UserID:      &actor.SubjectID,
		Action:      ActionCreateUser,
		Description: fmt.Sprintf("User %s created with role %s", user.Email, user.Role),
		Metadata:    models.JSONB{"targetUserId": user.ID.String()},
	})

	return user, nil
}

func (s *UserService) Update(ctx context.Context, id uuid.UUID, req *UpdateUserRequest, actor models.Principal) (*models.User, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*req.LastName)
	}
	if req.Role != nil && *req.Role != user.Role {
		if actor.Role != models.UserRoleSystemAdmin &&
			(*req.Role == models.UserRoleSystemAdmin || user.Role == models.UserRoleSystemAdmin) {
			return nil, fmt.Errorf("%w: only system administrators can change system administrator roles", ErrForbidden)
		}
		if user.ID == actor.SubjectID {
			return nil, fmt.Errorf("%w: you cannot change your own role", ErrForbidden)
		}
		updates["role"] = *req.Role
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.activity.Log(ctx, ActivityEntry{
		UserID:      &actor.SubjectID,
		Action:      ActionUpdateUser,
		Description: fmt.Sprintf("User %s updated", user.Email),
		Metadata:    models.JSONB{"targetUserId": user.ID.String(), "fields": len(updates)},
	})

	return s.GetByID(ctx, id)
}

// UpdateStatus changes another user's status. System administrators and the caller are protected.
func (s *UserService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.UserStatus, actor models.Principal) (*models.User, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.ID == actor.SubjectID {
		return nil, fmt.Errorf("%w: you cannot change your own status", ErrForbidden)
	}
	if user.Role == models.UserRoleSystemAdmin {
		return nil, fmt.Errorf("%w: system administrator status cannot be changed", ErrForbidden)
	}

	previous := user.Status
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Update("status", status).Error; err != nil {
			return fmt.Errorf("failed to update user status: %w", err)
		}
		if status != models.UserStatusActive {
			return revokeSessions(tx, user.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	user.Status = status

	s.activity.Log(ctx, ActivityEntry{
		UserID:      &actor.SubjectID,
		Action:      ActionUpdateUser,
		Description: fmt.Sprintf("User %s status changed from %s to %s", user.Email, previous, status),
		Metadata: models.JSONB{
			"targetUserId":   user.ID.String(),
			"previousStatus": string(previous),
			"newStatus":      string(status),
		},
	})

	return user, nil
}

func (s *UserService) Delete(ctx context.Context, id uuid.UUID, actor models.Principal) error {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user.ID == actor.SubjectID {
		return fmt.Errorf("%w: you cannot delete your own account", ErrForbidden)
	}
	if user.Role == models.UserRoleSystemAdmin {
		return fmt.Errorf("%w: system administrators cannot be deleted", ErrForbidden)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := revokeSessions(tx, user.ID); err != nil {
			return err
		}
		return tx.Delete(user).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.activity.Log(ctx, ActivityEntry{
		UserID:      &actor.SubjectID,
		Action:      ActionDeleteUser,
		Description: fmt.Sprintf("User %s deleted", user.Email),
		Metadata:    models.JSONB{"targetUserId": user.ID.String()},
	})
	return nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, req *UpdateProfileRequest) (*models.User, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.FirstName != "" {
		user.FirstName = strings.TrimSpace(req.FirstName)
	}
	if req.LastName != "" {
		user.LastName = strings.TrimSpace(req.LastName)
	}

	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	return user, nil
}

// ChangePassword also ends every other session of the user.
func (s *UserService) ChangePassword(ctx context.Context, userID uuid.UUID, req *ChangePasswordRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := user.CheckPassword(req.CurrentPassword); err != nil {
		return fmt.Errorf("%w: current password is incorrect", ErrBadRequest)
	}
	if err := user.SetPassword(req.NewPassword); err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Update("password_hash", user.PasswordHash).Error; err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		return revokeSessions(tx, user.ID)
	})
}

func revokeSessions(tx *gorm.DB, userID uuid.UUID) error {
	if err := tx.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now().UTC()).Error; err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return nil
}
