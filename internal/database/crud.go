package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCheckpointExists   = errors.New("checkpoint already exists")
)

func CreateCheckpoint(ctx context.Context, db *gorm.DB, checkpoint *Checkpoint) error {
	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var count int64
		if err := txn.Model(&Checkpoint{}).Where("name = ?", checkpoint.Name).Count(&count).Error; err != nil {
			return fmt.Errorf("error checking for checkpoint %s: %w", checkpoint.Name, err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrCheckpointExists, checkpoint.Name)
		}

		if checkpoint.Id == uuid.Nil {
			checkpoint.Id = uuid.New()
		}
		if checkpoint.CreationTime.IsZero() {
			checkpoint.CreationTime = time.Now().UTC()
		}

		if err := txn.Create(checkpoint).Error; err != nil {
			return fmt.Errorf("error creating checkpoint %s: %w", checkpoint.Name, err)
		}
		return nil
	})
}

func GetCheckpoint(ctx context.Context, db *gorm.DB, name string) (Checkpoint, error) {
	var checkpoint Checkpoint
	if err := db.WithContext(ctx).Where("name = ?", name).First(&checkpoint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Checkpoint{}, fmt.Errorf("%w: %s", ErrCheckpointNotFound, name)
		}
		return Checkpoint{}, fmt.Errorf("error getting checkpoint %s: %w", name, err)
	}
	return checkpoint, nil
}

// ListCheckpoints returns every checkpoint, or those of one task when task
// is not empty, ordered by name.
func ListCheckpoints(ctx context.Context, db *gorm.DB, task string) ([]Checkpoint, error) {
	query := db.WithContext(ctx).Order("name")
	if task != "" {
		query = query.Where("task = ?", task)
	}

	var checkpoints []Checkpoint
	if err := query.Find(&checkpoints).Error; err != nil {
		return nil, fmt.Errorf("error listing checkpoints: %w", err)
	}
	return checkpoints, nil
}

func DeleteCheckpoint(ctx context.Context, db *gorm.DB, name string) error {
	result := db.WithContext(ctx).Where("name = ?", name).Delete(&Checkpoint{})
	if result.Error != nil {
		return fmt.Errorf("error deleting checkpoint %s: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrCheckpointNotFound, name)
	}
	return nil
}
