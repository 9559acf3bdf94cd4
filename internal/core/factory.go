package core

import (
	"context"
	"fmt"
	"log/slog"

	"veco-ner/internal/core/labels"
	"veco-ner/internal/core/registry"
	"veco-ner/internal/core/types"
)

// InstantiateOptions select what Factory.Instantiate builds. Every field is
// optional.
type InstantiateOptions struct {
	ModelDir  string
	Label2ID  labels.Label2ID
	ID2Label  labels.ID2Label
	NumLabels *int

	// Config is the starting configuration when there is no ModelDir. Nil
	// means types.DefaultModelConfig.
	Config *types.ModelConfig
}

// PretrainedOptions are the label settings handed to the pretrained loader.
// Nil fields were not resolved and must be left to the checkpoint.
type PretrainedOptions struct {
	NumLabels *int
	Label2ID  labels.Label2ID
	ID2Label  labels.ID2Label
}

type LabelParser func(modelDir string) (labels.Label2ID, error)

type PretrainedLoader func(ctx context.Context, modelDir string, opts PretrainedOptions) (Model, error)

// Factory builds Veco models either from scratch or from a checkpoint
// directory, working out the label mapping on the way.
type Factory struct {
	ParseLabels    LabelParser
	LoadPretrained PretrainedLoader

	// NewClassifier backs models built without a directory. Nil means the
	// random encoder.
	NewClassifier ClassifierConstructor
}

func NewFactory() Factory {
	return Factory{
		ParseLabels:    labels.ParseLabelMapping,
		LoadPretrained: LoadPretrainedVeco,
	}
}

func (f Factory) Instantiate(ctx context.Context, opts InstantiateOptions) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.ModelDir == "" {
		return f.instantiateFromConfig(opts)
	}

	// an explicit mapping in either direction wins over the directory's
	label2id := opts.Label2ID
	if label2id == nil && opts.ID2Label == nil {
		parsed, err := f.ParseLabels(opts.ModelDir)
		if err != nil {
			return nil, fmt.Errorf("error reading label mapping from %s: %w", opts.ModelDir, err)
		}
		label2id = parsed
	}

	id2label := opts.ID2Label
	switch {
	case id2label == nil && label2id != nil:
		id2label = label2id.Invert()
	case label2id == nil && id2label != nil:
		label2id = id2label.Invert()
	}

	numLabels := opts.NumLabels
	if numLabels == nil && label2id != nil {
		n := len(label2id)
		numLabels = &n
	}

	slog.Info("instantiating model from checkpoint", "dir", opts.ModelDir, "labels", len(label2id))

	model, err := f.LoadPretrained(ctx, opts.ModelDir, PretrainedOptions{
		NumLabels: numLabels,
		Label2ID:  label2id,
		ID2Label:  id2label,
	})
	if err != nil {
		return nil, fmt.Errorf("error loading checkpoint %s: %w", opts.ModelDir, err)
	}
	return model, nil
}

func (f Factory) instantiateFromConfig(opts InstantiateOptions) (Model, error) {
	cfg := types.DefaultModelConfig()
	if opts.Config != nil {
		cfg = opts.Config.Clone()
	}
	if opts.Label2ID != nil {
		cfg.Label2ID = opts.Label2ID
	}
	if opts.ID2Label != nil {
		cfg.ID2Label = opts.ID2Label
	}
	if opts.NumLabels != nil {
		cfg.NumLabels = opts.NumLabels
	}

	var veco []VecoOption
	if f.NewClassifier != nil {
		veco = append(veco, WithClassifier(f.NewClassifier))
	}
	return NewVecoForTokenClassification(cfg, veco...)
}

// LoadPretrainedVeco loads the configuration and ONNX graph stored in
// modelDir, with any label settings in opts taking precedence.
func LoadPretrainedVeco(_ context.Context, modelDir string, opts PretrainedOptions) (Model, error) {
	cfg, err := types.LoadModelConfig(modelDir)
	if err != nil {
		return nil, err
	}
	if opts.Label2ID != nil {
		cfg.Label2ID = opts.Label2ID
	}
	if opts.ID2Label != nil {
		cfg.ID2Label = opts.ID2Label
	}
	if opts.NumLabels != nil {
		cfg.NumLabels = opts.NumLabels
	}

	return NewVecoForTokenClassification(cfg, WithClassifier(func(cfg *types.ModelConfig) (TokenClassifier, error) {
		return LoadOnnxTokenClassifier(modelDir, cfg)
	}))
}

// RegisterVeco adds the Veco token classifier to reg.
func RegisterVeco(reg *registry.Registry[Model], factory Factory) error {
	return reg.Register(registry.TokenClassification, registry.Veco, func(ctx context.Context, opts registry.BuildOptions) (Model, error) {
		return factory.Instantiate(ctx, InstantiateOptions{
			ModelDir:  opts.ModelDir,
			Label2ID:  opts.Label2ID,
			ID2Label:  opts.ID2Label,
			NumLabels: opts.NumLabels,
		})
	})
}
