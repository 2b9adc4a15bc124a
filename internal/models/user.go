// internal/models/user.go
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleSystemAdmin UserRole = "SYSTEM_ADMIN"
	UserRoleAdmin       UserRole = "ADMIN"
	UserRoleStaff       UserRole = "STAFF"
)

func (r UserRole) Valid() bool {
	return r == UserRoleSystemAdmin || r == UserRoleAdmin || r == UserRoleStaff
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusInactive  UserStatus = "INACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

func (s UserStatus) Valid() bool {
	return s == UserStatusActive || s == UserStatusInactive || s == UserStatusSuspended
}

type User struct {
	BaseModel
	Email        string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string     `json:"-" gorm:"size:255;not null"`
	FirstName    string     `json:"first_name" gorm:"size:100"`
	LastName     string     `json:"last_name" gorm:"size:100"`
	Role         UserRole   `json:"role" gorm:"type:varchar(20);not null;default:'STAFF'"`
	Status       UserStatus `json:"status" gorm:"type:varchar(20);not null;default:'ACTIVE';index"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

func (u *User) BeforeSave(tx *gorm.DB) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	return nil
}

func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u *User) Principal() Principal {
	return Principal{SubjectID: u.ID, Email: u.Email, Role: u.Role}
}

// RefreshToken stores only a hash of the opaque token handed to the client.
type RefreshToken struct {
	BaseModel
	UserID    uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index"`
	TokenHash string     `json:"-" gorm:"size:64;not null;uniqueIndex"`
	ExpiresAt time.Time  `json:"expires_at" gorm:"not null"`
	RevokedAt *time.Time `json:"revoked_at"`
	IPAddress string     `json:"ip_address" gorm:"size:45"`
}

type Setting struct {
	BaseModel
	Key         string     `json:"key" gorm:"uniqueIndex;size:100;not null"`
	Value       string     `json:"value" gorm:"type:text"`
	Description string     `json:"description" gorm:"type:text"`
	UpdatedBy   *uuid.UUID `json:"updated_by" gorm:"type:uuid"`
}
