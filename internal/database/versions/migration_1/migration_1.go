package migration_1

import (
	"fmt"

	"gorm.io/gorm"
)

// Checkpoint gains an explicit label count and an index on task.
type Checkpoint struct {
	Task      string `gorm:"size:64;not null;index"`
	NumLabels *int
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&Checkpoint{}, "NumLabels"); err != nil {
		return fmt.Errorf("error adding NumLabels column: %w", err)
	}
	if err := db.Migrator().CreateIndex(&Checkpoint{}, "Task"); err != nil {
		return fmt.Errorf("error creating task index: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropIndex(&Checkpoint{}, "Task"); err != nil {
		return fmt.Errorf("error dropping task index: %w", err)
	}
	if err := db.Migrator().DropColumn(&Checkpoint{}, "NumLabels"); err != nil {
		return fmt.Errorf("error dropping NumLabels column: %w", err)
	}
	return nil
}
