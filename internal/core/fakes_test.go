package core_test

import (
	"context"
	"strings"

	"veco-ner/internal/core"
	"veco-ner/internal/core/labels"
	"veco-ner/internal/core/types"
)

// labelTokenOffset encodes a token's gold label in its id so that
// fakeClassifier can predict it back.
const labelTokenOffset = 10

type fakeClassifier struct {
	cfg      *types.ModelConfig
	out      *types.TokenClassifierOutput
	err      error
	inputs   []*types.Inputs
	released int
}

func (f *fakeClassifier) Config() *types.ModelConfig {
	return f.cfg
}

func (f *fakeClassifier) Forward(_ context.Context, inputs *types.Inputs) (*types.TokenClassifierOutput, error) {
	f.inputs = append(f.inputs, inputs)
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}

	numLabels := f.cfg.ResolvedNumLabels()
	batch, seqLen := inputs.BatchSize(), inputs.SeqLen()
	data := make([]float32, batch*seqLen*numLabels)
	for b, row := range inputs.InputIDs {
		for s, id := range row {
			label := 0
			if id >= labelTokenOffset {
				label = int(id) - labelTokenOffset
			}
			data[(b*seqLen+s)*numLabels+label] = 10
		}
	}
	logits, err := types.NewTensor(data, int64(batch), int64(seqLen), int64(numLabels))
	if err != nil {
		return nil, err
	}
	return &types.TokenClassifierOutput{Logits: logits}, nil
}

func (f *fakeClassifier) Release() {
	f.released++
}

func nerConfig() *types.ModelConfig {
	cfg := types.DefaultModelConfig()
	cfg.NameOrPath = "veco-ner-test"
	cfg.ID2Label = labels.ID2Label{0: "O", 1: "B-PER", 2: "I-PER", 3: "B-LOC", 4: "I-LOC"}
	cfg.Label2ID = cfg.ID2Label.Invert()
	return cfg
}

func newFakeModel(cfg *types.ModelConfig) (*core.VecoForTokenClassification, *fakeClassifier) {
	classifier := &fakeClassifier{cfg: cfg}
	model, err := core.NewVecoForTokenClassification(cfg, core.WithClassifier(func(*types.ModelConfig) (core.TokenClassifier, error) {
		return classifier, nil
	}))
	if err != nil {
		panic(err)
	}
	return model, classifier
}

// fakeTokenizer splits on whitespace and cuts words longer than four bytes
// into two subword tokens. Token ids carry the label of their word.
type fakeTokenizer struct {
	wordLabels map[string]int
	closed     bool
}

func (t *fakeTokenizer) Encode(text string) core.Encoding {
	var enc core.Encoding
	add := func(id int64, start, end int, special bool) {
		enc.IDs = append(enc.IDs, id)
		enc.TypeIDs = append(enc.TypeIDs, 0)
		enc.AttentionMask = append(enc.AttentionMask, 1)
		enc.Offsets = append(enc.Offsets, [2]int{start, end})
		enc.Special = append(enc.Special, special)
	}

	add(0, 0, 0, true)
	pos := 0
	for _, w := range strings.Fields(text) {
		start := pos + strings.Index(text[pos:], w)
		end := start + len(w)
		id := int64(labelTokenOffset + t.wordLabels[w])
		if len(w) > 4 {
			add(id, start, start+4, false)
			add(id, start+4, end, false)
		} else {
			add(id, start, end, false)
		}
		pos = end
	}
	add(2, 0, 0, true)

	return enc
}

func (t *fakeTokenizer) Close() error {
	t.closed = true
	return nil
}

type capturedLoad struct {
	calls int
	dir   string
	opts  core.PretrainedOptions
}

func capturingFactory(parsed labels.Label2ID, parseErr error) (core.Factory, *capturedLoad, *int) {
	captured := &capturedLoad{}
	parseCalls := 0
	factory := core.Factory{
		ParseLabels: func(string) (labels.Label2ID, error) {
			parseCalls++
			return parsed, parseErr
		},
		LoadPretrained: func(_ context.Context, dir string, opts core.PretrainedOptions) (core.Model, error) {
			captured.calls++
			captured.dir = dir
			captured.opts = opts
			model, _ := newFakeModel(nerConfig())
			return model, nil
		},
	}
	return factory, captured, &parseCalls
}
