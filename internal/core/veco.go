package core

import (
	"context"
	"fmt"

	"veco-ner/internal/core/types"
)

// VecoForTokenClassification is the Veco token classification model. It is
// the Roberta token classification architecture combined with the generic
// model base; the configuration's name or path identifies it.
type VecoForTokenClassification struct {
	*BaseModel

	classifier TokenClassifier
}

type vecoOptions struct {
	newClassifier ClassifierConstructor
}

type VecoOption func(*vecoOptions)

// WithClassifier replaces the constructor of the task model. The default is a
// randomly initialised encoder.
func WithClassifier(constructor ClassifierConstructor) VecoOption {
	return func(o *vecoOptions) {
		o.newClassifier = constructor
	}
}

func NewVecoForTokenClassification(cfg *types.ModelConfig, opts ...VecoOption) (*VecoForTokenClassification, error) {
	if cfg == nil {
		return nil, fmt.Errorf("veco model requires a configuration")
	}

	options := vecoOptions{
		newClassifier: func(cfg *types.ModelConfig) (TokenClassifier, error) {
			return NewEncoderTokenClassifier(cfg)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	model := &VecoForTokenClassification{BaseModel: NewBaseModel(cfg.NameOrPath)}

	classifier, err := options.newClassifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("error constructing token classifier: %w", err)
	}
	model.classifier = classifier
	model.OnRelease(classifier.Release)

	return model, nil
}

func (m *VecoForTokenClassification) Config() *types.ModelConfig {
	return m.classifier.Config()
}

// Forward runs the token classifier and repackages its result. The fields
// are passed through unchanged, and errors from the classifier are returned
// as is.
func (m *VecoForTokenClassification) Forward(ctx context.Context, inputs *types.Inputs) (*types.AttentionTokenClassificationOutput, error) {
	out, err := m.classifier.Forward(ctx, inputs)
	if err != nil {
		return nil, err
	}

	return &types.AttentionTokenClassificationOutput{
		Loss:         out.Loss,
		Logits:       out.Logits,
		HiddenStates: out.HiddenStates,
		Attentions:   out.Attentions,
	}, nil
}
