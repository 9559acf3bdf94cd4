package types_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"veco-ner/internal/core/labels"
	"veco-ner/internal/core/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadModelConfig(t *testing.T) {
	dir := t.TempDir()
	cfgJSON := `{
		"model_type": "xlm-roberta",
		"hidden_size": 32,
		"num_hidden_layers": 2,
		"num_attention_heads": 4,
		"id2label": {"0": "O", "1": "B-PER"},
		"label2id": {"O": 0, "B-PER": 1}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, types.ConfigFileName), []byte(cfgJSON), 0644))

	cfg, err := types.LoadModelConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.NameOrPath)
	assert.Equal(t, "xlm-roberta", cfg.ModelType)
	assert.Equal(t, 32, cfg.HiddenSize)
	assert.Equal(t, 2, cfg.NumHiddenLayers)
	// untouched fields keep the defaults
	assert.Equal(t, 250002, cfg.VocabSize)
	assert.Equal(t, labels.ID2Label{0: "O", 1: "B-PER"}, cfg.ID2Label)
	assert.Equal(t, labels.Label2ID{"O": 0, "B-PER": 1}, cfg.Label2ID)
	assert.Equal(t, 2, cfg.ResolvedNumLabels())
	assert.Equal(t, "B-PER", cfg.LabelFor(1))
	assert.Equal(t, "LABEL_7", cfg.LabelFor(7))
}

func TestLoadModelConfigMissing(t *testing.T) {
	_, err := types.LoadModelConfig(t.TempDir())
	assert.Error(t, err)
}

func TestModelConfigJSON(t *testing.T) {
	n := 3
	cfg := types.DefaultModelConfig()
	cfg.NameOrPath = "veco-base"
	cfg.ID2Label = labels.ID2Label{0: "O", 1: "B-LOC", 2: "I-LOC"}
	cfg.NumLabels = &n

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var decoded types.ModelConfig
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, cfg, &decoded)
}

func TestResolvedNumLabels(t *testing.T) {
	cfg := types.DefaultModelConfig()
	assert.Equal(t, 2, cfg.ResolvedNumLabels())

	cfg.Label2ID = labels.Label2ID{"O": 0, "B": 1, "I": 2}
	assert.Equal(t, 3, cfg.ResolvedNumLabels())

	n := 9
	cfg.NumLabels = &n
	assert.Equal(t, 9, cfg.ResolvedNumLabels())

	clone := cfg.Clone()
	*clone.NumLabels = 4
	clone.Label2ID["X"] = 3
	assert.Equal(t, 9, cfg.ResolvedNumLabels())
	assert.Len(t, cfg.Label2ID, 3)
}

func TestTensorRow(t *testing.T) {
	tensor, err := types.NewTensor([]float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, 2, 3, 2)
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 1}, tensor.Row(0, 0))
	assert.Equal(t, []float32{4, 5}, tensor.Row(0, 2))
	assert.Equal(t, []float32{8, 9}, tensor.Row(1, 1))

	_, err = types.NewTensor([]float32{1, 2, 3}, 2, 2)
	assert.Error(t, err)
}

func TestCreateEntity(t *testing.T) {
	text := "My name is John Smith and I live in the city of Berlin."
	start := 11
	end := start + len("John Smith")

	entity := types.CreateEntity("PER", text, start, end, 0.9)
	assert.Equal(t, "John Smith", entity.Text)
	assert.Equal(t, "My name is ", entity.LContext)
	assert.Equal(t, " and I live in the c", entity.RContext)
	assert.Equal(t, float32(0.9), entity.Score)

	clamped := types.CreateEntity("LOC", text, 48, 1000, 1)
	assert.Equal(t, "Berlin.", clamped.Text)
	assert.Equal(t, len(text), clamped.End)
}
