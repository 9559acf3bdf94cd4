package migration_0

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Checkpoint struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name      string `gorm:"uniqueIndex;not null"`
	Task      string `gorm:"size:64;not null"`
	ModelType string `gorm:"size:64;not null"`
	ModelDir  string

	Label2ID datatypes.JSON

	CreationTime time.Time
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Checkpoint{}); err != nil {
		return fmt.Errorf("migration 0 failed: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&Checkpoint{}); err != nil {
		return fmt.Errorf("rollback 0 failed: %w", err)
	}
	return nil
}
