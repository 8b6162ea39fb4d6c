package database

import (
	"errors"
	"time"

	"github.com/notesreview/notesync/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationPruneZeroCommentNotes = "2026-01-20_prune_zero_comment_notes"

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
		{name: migrationPruneZeroCommentNotes, apply: pruneZeroCommentNotes},
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

// Databases written before the delete-on-empty rule may still hold notes
// whose whole comment thread was hidden by moderators. Those rows violate
// the at-least-one-comment invariant and are removed once.
func pruneZeroCommentNotes(db *gorm.DB) error {
	return db.Delete(&notes.Record{}, "comments_json = ?", "[]").Error
}
