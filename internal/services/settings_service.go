// internal/services/settings_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/utils"
)

type SettingsService struct {
	db       *gorm.DB
	activity *ActivityLogService
}

type UpsertSettingRequest struct {
	Value       string `json:"value" validate:"max=10000"`
	Description string `json:"description,omitempty" validate:"max=500"`
}

func NewSettingsService(db *gorm.DB, activity *ActivityLogService) *SettingsService {
	return &SettingsService{db: db, activity: activity}
}

func (s *SettingsService) GetAll(ctx context.Context) (map[string]models.Setting, error) {
	var settings []models.Setting
	if err := s.db.WithContext(ctx).Order("key").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch settings: %w", err)
	}

	settingsMap := make(map[string]models.Setting, len(settings))
	for _, setting := range settings {
		settingsMap[setting.Key] = setting
	}

	return settingsMap, nil
}

func (s *SettingsService) Get(ctx context.Context, key string) (*models.Setting, error) {
	var setting models.Setting
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		return nil, lookupError("setting", err)
	}
	return &setting, nil
}

// Upsert creates the key or overwrites its value. An empty description keeps the stored one.
func (s *SettingsService) Upsert(ctx context.Context, key string, req *UpsertSettingRequest, actorID uuid.UUID) (*models.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > 100 {
		return nil, fmt.Errorf("%w: setting key must be 1-100 characters", ErrBadRequest)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	previous, err := s.Get(ctx, key)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	setting := &models.Setting{
		Key:         key,
		Value:       req.Value,
		Description: req.Description,
		UpdatedBy:   &actorID,
	}
	columns := []string{"value", "updated_by", "updated_at"}
	if req.Description != "" {
		columns = append(columns, "description")
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(setting).Error; err != nil {
		return nil, fmt.Errorf("failed to save setting: %w", err)
	}

	metadata := models.JSONB{"key": key, "value": req.Value}
	if previous != nil {
		metadata["previousValue"] = previous.Value
	}
	s.activity.Log(ctx, ActivityEntry{
		UserID:      &actorID,
		Action:      ActionUpdateSetting,
		Description: fmt.Sprintf("Setting %s updated", key),
		Metadata:    metadata,
	})

	return s.Get(ctx, key)
}
