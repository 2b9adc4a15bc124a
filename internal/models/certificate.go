// internal/models/certificate.go
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Certificate struct {
	BaseModel
	ApplicationID    uuid.UUID    `json:"application_id" gorm:"type:uuid;not null;index"`
	Application      *Application `json:"application,omitempty" gorm:"foreignKey:ApplicationID"`
	RegistrationNo   string       `json:"registration_no" gorm:"size:32;not null;uniqueIndex"`
	CertificateURL   string       `json:"certificate_url" gorm:"type:text;not null"`
	FileKey          string       `json:"-" gorm:"size:500"`
	IssuedAt         time.Time    `json:"issued_at" gorm:"not null"`
	RevokedAt        *time.Time   `json:"revoked_at"`
	RevocationReason *string      `json:"revocation_reason" gorm:"type:text"`
}

func (c *Certificate) IsActive() bool {
	return c.RevokedAt == nil
}

// RegistrationCounter holds the last registration number handed out for a year.
type RegistrationCounter struct {
	Year      int       `json:"year" gorm:"primaryKey;autoIncrement:false"`
	LastValue int64     `json:"last_value" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

const registrationPrefix = "REG"

func FormatRegistrationNo(year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", registrationPrefix, year, seq)
}

// RegistrationYearPrefix is the LIKE prefix shared by every number of a year.
func RegistrationYearPrefix(year int) string {
	return fmt.Sprintf("%s-%d-", registrationPrefix, year)
}

// ParseRegistrationNo splits REG-<year>-<seq>.
func ParseRegistrationNo(regNo string) (int, int64, error) {
	parts := strings.Split(regNo, "-")
	if len(parts) != 3 || parts[0] != registrationPrefix {
		return 0, 0, fmt.Errorf("malformed registration number %q", regNo)
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed registration year in %q", regNo)
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed registration sequence in %q", regNo)
	}
	return year, seq, nil
}
