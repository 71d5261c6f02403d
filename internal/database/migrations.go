package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationClearBlankDisplayNames    = "2026-10-01_clear_blank_display_names"
	migrationBackfillDisplayNameSearch = "2026-10-18_backfill_display_name_search"
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
		{name: migrationClearBlankDisplayNames, apply: clearBlankDisplayNames},
		{name: migrationBackfillDisplayNameSearch, apply: backfillDisplayNameSearch},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Profiles saved before display names were normalized may hold whitespace.
func clearBlankDisplayNames(db *gorm.DB) error {
	return db.Model(&store.Profile{}).
		Where("display_name IS NOT NULL AND TRIM(display_name) = ''").
		Updates(map[string]any{
			"display_name":        gorm.Expr("NULL"),
			"display_name_search": gorm.Expr("NULL"),
		}).Error
}

// Profiles saved before the search column existed have no folded key.
func backfillDisplayNameSearch(db *gorm.DB) error {
	var profiles []store.Profile
	if err := db.Where("display_name IS NOT NULL").Find(&profiles).Error; err != nil {
		return err
	}
	for _, profile := range profiles {
		keyed := profile.WithSearchKey()
		err := db.Model(&store.Profile{}).
			Where("id = ?", profile.ID).
			UpdateColumn("display_name_search", keyed.DisplayNameSearch).Error
		if err != nil {
			return err
		}
	}
	return nil
}
