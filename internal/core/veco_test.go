package core_test

import (
	"context"
	"errors"
	"testing"

	"veco-ner/internal/core"
	"veco-ner/internal/core/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVecoForTokenClassification(t *testing.T) {
	cfg := nerConfig()

	var received *types.ModelConfig
	model, err := core.NewVecoForTokenClassification(cfg, core.WithClassifier(func(c *types.ModelConfig) (core.TokenClassifier, error) {
		received = c
		return &fakeClassifier{cfg: c}, nil
	}))
	require.NoError(t, err)

	assert.Same(t, cfg, received)
	assert.Equal(t, "veco-ner-test", model.NameOrPath())
	assert.Same(t, cfg, model.Config())

	_, isDir := model.ModelDir()
	assert.False(t, isDir)
}

func TestNewVecoForTokenClassificationErrors(t *testing.T) {
	_, err := core.NewVecoForTokenClassification(nil)
	assert.Error(t, err)

	constructErr := errors.New("no weights")
	_, err = core.NewVecoForTokenClassification(nerConfig(), core.WithClassifier(func(*types.ModelConfig) (core.TokenClassifier, error) {
		return nil, constructErr
	}))
	assert.ErrorIs(t, err, constructErr)
}

func TestVecoForwardPassesFieldsThrough(t *testing.T) {
	loss := float32(0.25)
	logits, err := types.NewTensor([]float32{1, 2, 3, 4}, 1, 2, 2)
	require.NoError(t, err)
	hidden := []*types.Tensor{{Shape: []int64{1}, Data: []float32{1}}}
	attentions := []*types.Tensor{{Shape: []int64{1}, Data: []float32{2}}}

	model, classifier := newFakeModel(nerConfig())
	classifier.out = &types.TokenClassifierOutput{
		Loss:         &loss,
		Logits:       logits,
		HiddenStates: hidden,
		Attentions:   attentions,
	}

	inputs := &types.Inputs{InputIDs: [][]int64{{0, 2}}, OutputHiddenStates: true, OutputAttentions: true}
	out, err := model.Forward(context.Background(), inputs)
	require.NoError(t, err)

	assert.Same(t, inputs, classifier.inputs[0])
	assert.Same(t, &loss, out.Loss)
	assert.Same(t, logits, out.Logits)
	assert.Equal(t, hidden, out.HiddenStates)
	assert.Equal(t, attentions, out.Attentions)
}

func TestVecoForwardReturnsClassifierError(t *testing.T) {
	forwardErr := errors.New("bad input")
	model, classifier := newFakeModel(nerConfig())
	classifier.err = forwardErr

	_, err := model.Forward(context.Background(), &types.Inputs{InputIDs: [][]int64{{0}}})
	assert.Equal(t, forwardErr, err)
}

func TestVecoRelease(t *testing.T) {
	model, classifier := newFakeModel(nerConfig())
	model.Release()
	model.Release()
	assert.Equal(t, 1, classifier.released)
}

func TestBaseModelDir(t *testing.T) {
	dir := t.TempDir()
	base := core.NewBaseModel(dir)

	got, ok := base.ModelDir()
	assert.True(t, ok)
	assert.Equal(t, dir, got)

	order := []int{}
	base.OnRelease(func() { order = append(order, 1) })
	base.OnRelease(func() { order = append(order, 2) })
	base.Release()
	assert.Equal(t, []int{2, 1}, order)
}
