package database

import (
	"fmt"

	"gorm.io/gorm"

	"rewardflow/internal/model"
	"rewardflow/pkg/log"
)

// AutoMigrate auto migrate database table schema
func AutoMigrate(db *gorm.DB) error {
	log.Info("Starting database migration...")

	models := []interface{}{
		&model.PlayDurationReport{},
		&model.UserPlayDaily{},
		&model.RewardFlow{},
		&model.RewardOutbox{},
	}

	for _, m := range models {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", m, err)
		}
		log.Infof("Migrated model: %T", m)
	}

	log.Info("Database migration completed successfully")
	return nil
}

// CheckTables check if tables exist
func CheckTables(db *gorm.DB) error {
	tables := []string{
		"play_duration_report",
		"user_play_daily",
		"reward_flow",
		"reward_outbox",
	}

	for _, table := range tables {
		var count int64
		err := db.Raw("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", table).Scan(&count).Error
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}

		if count == 0 {
			log.Warnf("Table not found: %s", table)
		}
	}

	return nil
}
