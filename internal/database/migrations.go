package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeUserPhones = "2026-09-14_normalize_user_phones"
	migrationBackfillSmsStatus   = "2026-09-30_backfill_sms_delivery_status"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeUserPhones, apply: normalizeUserPhones},
		{name: migrationBackfillSmsStatus, apply: backfillSmsDeliveryStatus},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Directory imports occasionally carry padded phone numbers, which the SMS provider rejects.
func normalizeUserPhones(db *gorm.DB) error {
	return db.Model(&models.User{}).
		Where("phone <> TRIM(phone)").
		Update("phone", gorm.Expr("TRIM(phone)")).Error
}

// Rows written before status tracking had an empty delivery_status; they never completed a dispatch.
func backfillSmsDeliveryStatus(db *gorm.DB) error {
	return db.Model(&models.SmsAlert{}).
		Where("delivery_status = ? OR delivery_status IS NULL", "").
		Update("delivery_status", models.DeliveryStatusFailed).Error
}
