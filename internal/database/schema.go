package database

import (
	"encoding/json"
	"fmt"
	"time"

	"veco-ner/internal/core/labels"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Checkpoint is a named, servable model: which registered constructor builds
// it and where its weights live.
type Checkpoint struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name      string `gorm:"uniqueIndex;not null"`
	Task      string `gorm:"size:64;not null;index"`
	ModelType string `gorm:"size:64;not null"`

	// ModelDir is a local directory or an s3://bucket/prefix URI. Empty
	// means the model is built from a configuration alone.
	ModelDir string

	Label2ID  datatypes.JSON
	NumLabels *int

	CreationTime time.Time
}

func (c *Checkpoint) Labels() (labels.Label2ID, error) {
	if len(c.Label2ID) == 0 {
		return nil, nil
	}
	var mapping labels.Label2ID
	if err := json.Unmarshal(c.Label2ID, &mapping); err != nil {
		return nil, fmt.Errorf("invalid label mapping stored for checkpoint %s: %w", c.Name, err)
	}
	return mapping, nil
}

func (c *Checkpoint) SetLabels(mapping labels.Label2ID) error {
	if mapping == nil {
		c.Label2ID = nil
		return nil
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("error encoding label mapping: %w", err)
	}
	c.Label2ID = datatypes.JSON(data)
	return nil
}
