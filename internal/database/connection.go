// internal/database/connection.go
package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), GormConfig(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithField("dsn", cfg.Redacted()).Info("Database connection established")
	return db, nil
}

// GormConfig is shared by the server and the sqlite-backed tests.
func GormConfig(logLevel string) *gorm.Config {
	level := logger.Warn
	switch logLevel {
	case "silent":
		level = logger.Silent
	case "error":
		level = logger.Error
	case "info":
		level = logger.Info
	}

	return &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed")
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Debug("Running database migrations")

	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
			return fmt.Errorf("failed to create UUID extension: %w", err)
		}
	}

	err := db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.Setting{},
		&models.Application{},
		&models.Document{},
		&models.Payment{},
		&models.Certificate{},
		&models.RegistrationCounter{},
		&models.ApprovalPipeline{},
		&models.OutboxTask{},
		&models.ActivityLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Debug("Database migrations completed")
	return nil
}

func createIndexes(db *gorm.DB) error {
	required := []string{
		// At most one unrevoked certificate per application
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_certificates_active_application ON certificates(application_id) WHERE revoked_at IS NULL AND deleted_at IS NULL",
	}

	for _, index := range required {
		if err := db.Exec(index).Error; err != nil {
			return fmt.Errorf("%s: %w", index, err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_applications_status_submitted ON applications(status, submitted_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_payments_application_created ON payments(application_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_payments_status_date ON payments(status, payment_date)",
		"CREATE INDEX IF NOT EXISTS idx_outbox_tasks_due ON outbox_tasks(status, next_attempt_at)",
		"CREATE INDEX IF NOT EXISTS idx_activity_logs_created ON activity_logs(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_approval_pipelines_step_updated ON approval_pipelines(step, updated_at)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			logrus.WithError(err).WithField("statement", index).Warn("Failed to create index")
		}
	}

	return nil
}

const DefaultAdminEmail = "admin@bauchicoop.local"

// SeedInitialData creates the bootstrap system administrator and default settings.
func SeedInitialData(db *gorm.DB, adminPassword string) error {
	logrus.Debug("Seeding initial data")

	var adminCount int64
	if err := db.Model(&models.User{}).Where("role = ?", models.UserRoleSystemAdmin).Count(&adminCount).Error; err != nil {
		return fmt.Errorf("failed to count administrators: %w", err)
	}

	if adminCount == 0 {
		admin := &models.User{
			Email:     DefaultAdminEmail,
			FirstName: "System",
			LastName:  "Administrator",
			Role:      models.UserRoleSystemAdmin,
			Status:    models.UserStatusActive,
		}

		if err := admin.SetPassword(adminPassword); err != nil {
			return fmt.Errorf("failed to set admin password: %w", err)
		}

		if err := db.Create(admin).Error; err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}

		logrus.WithField("email", admin.Email).Info("Default admin user created")
	}

	defaultSettings := []models.Setting{
		{Key: "registry_name", Value: "Bauchi State Cooperative Registry", Description: "Name printed on certificates and emails"},
		{Key: "registration_fee", Value: "5000", Description: "Registration fee in naira"},
		{Key: "support_email", Value: "support@bauchicooperative.ng", Description: "Contact address shown to applicants"},
		{Key: "max_documents", Value: "20", Description: "Maximum documents per application"},
	}

	for _, setting := range defaultSettings {
		var count int64
		db.Model(&models.Setting{}).Where("key = ?", setting.Key).Count(&count)

		if count == 0 {
			if err := db.Create(&setting).Error; err != nil {
				logrus.WithError(err).WithField("key", setting.Key).Warn("Failed to create setting")
			}
		}
	}

	return nil
}

// Transaction helper
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
