package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/jurorsync/internal/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDropBlankSessionFields = "2026-09-01_drop_blank_session_fields"

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
		{name: migrationDropBlankSessionFields, apply: dropBlankSessionFields},
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

// dropBlankSessionFields removes rows left behind by interrupted writes; a blank field
// never forms a valid session.
func dropBlankSessionFields(db *gorm.DB) error {
	return db.Where("trim(value) = ''").Delete(&session.StoredField{}).Error
}
