package core

import (
	"context"
	"fmt"

	"veco-ner/internal/core/registry"
	"veco-ner/internal/core/types"
)

// Model is what the registry builds: a token classification model that can
// be run on encoded batches.
type Model interface {
	NameOrPath() string

	Config() *types.ModelConfig

	Forward(ctx context.Context, inputs *types.Inputs) (*types.AttentionTokenClassificationOutput, error)

	Release()
}

// TokenClassifier is a Roberta-style encoder with a token classification head.
type TokenClassifier interface {
	Config() *types.ModelConfig

	Forward(ctx context.Context, inputs *types.Inputs) (*types.TokenClassifierOutput, error)

	Release()
}

// ClassifierConstructor builds the task model from a full configuration.
type ClassifierConstructor func(cfg *types.ModelConfig) (TokenClassifier, error)

// NewModelRegistry builds the registry of every model family this service
// can construct. Call it once at startup and pass the result around.
func NewModelRegistry(factory Factory) (*registry.Registry[Model], error) {
	reg := registry.New[Model]()

	if err := RegisterVeco(reg, factory); err != nil {
		return nil, fmt.Errorf("error registering veco: %w", err)
	}

	return reg, nil
}
