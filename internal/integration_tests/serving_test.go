package integrationtests

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	backend "veco-ner/internal/api"
	"veco-ner/internal/core"
	"veco-ner/internal/core/labels"
	"veco-ner/internal/core/types"
	"veco-ner/internal/database"
	"veco-ner/internal/metrics"
	"veco-ner/internal/storage"
	"veco-ner/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vocab = map[string]int64{"Alice": 5, "Paris": 6}

// tableClassifier predicts a fixed label per token id and O for the rest.
type tableClassifier struct {
	cfg     *types.ModelConfig
	labelOf map[int64]string
}

func (c *tableClassifier) Config() *types.ModelConfig {
	return c.cfg
}

func (c *tableClassifier) Forward(_ context.Context, inputs *types.Inputs) (*types.TokenClassifierOutput, error) {
	numLabels := c.cfg.ResolvedNumLabels()
	batch, seqLen := inputs.BatchSize(), inputs.SeqLen()
	data := make([]float32, batch*seqLen*numLabels)
	for b, row := range inputs.InputIDs {
		for s, id := range row {
			label := c.cfg.Label2ID["O"]
			if name, ok := c.labelOf[id]; ok {
				label = c.cfg.Label2ID[name]
			}
			data[(b*seqLen+s)*numLabels+label] = 8
		}
	}
	logits, err := types.NewTensor(data, int64(batch), int64(seqLen), int64(numLabels))
	if err != nil {
		return nil, err
	}
	return &types.TokenClassifierOutput{Logits: logits}, nil
}

func (c *tableClassifier) Release() {}

func loadTableModel(_ context.Context, dir string, opts core.PretrainedOptions) (core.Model, error) {
	if _, err := os.Stat(filepath.Join(dir, labels.LabelMappingFile)); err != nil {
		return nil, err
	}
	cfg := types.DefaultModelConfig()
	cfg.NameOrPath = dir
	cfg.Label2ID, cfg.ID2Label, cfg.NumLabels = opts.Label2ID, opts.ID2Label, opts.NumLabels
	return core.NewVecoForTokenClassification(cfg, core.WithClassifier(func(cfg *types.ModelConfig) (core.TokenClassifier, error) {
		return &tableClassifier{cfg: cfg, labelOf: map[int64]string{5: "B-PER", 6: "B-LOC"}}, nil
	}))
}

func TestServeRemoteCheckpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.Open(setupPostgresContainer(t, ctx))
	require.NoError(t, err)

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        setupMinioContainer(t, ctx),
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)

	checkpoint := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(checkpoint, labels.LabelMappingFile), []byte(`{"O": 0, "B-PER": 1, "I-PER": 2, "B-LOC": 3, "I-LOC": 4}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(checkpoint, core.TokenizerFile), []byte("{}"), 0644))
	require.NoError(t, store.CreateBucket(ctx, "models"))
	require.NoError(t, storage.UploadDir(ctx, store, "models", "ner/people", checkpoint))

	reg, err := core.NewModelRegistry(core.Factory{
		ParseLabels:    labels.ParseLabelMapping,
		LoadPretrained: loadTableModel,
	})
	require.NoError(t, err)

	cacheDir := t.TempDir()
	manager := core.NewModelManager(db, reg, storage.NewCheckpointResolver(store, cacheDir, nil), core.ManagerOptions{
		Pipeline: core.PipelineOptions{Workers: 2},
		LoadTokenizer: func(string) (core.Tokenizer, error) {
			return wordTokenizer{vocab: vocab}, nil
		},
	})
	defer manager.Close()

	router := chi.NewRouter()
	backend.NewModelService(db, reg, manager, metrics.New()).AddRoutes(router)

	var created api.Checkpoint
	require.NoError(t, httpRequest(router, http.MethodPost, "/models", api.RegisterCheckpointRequest{
		Name:     "people",
		ModelDir: "s3://models/ner/people",
	}, &created))
	assert.Equal(t, "veco", created.ModelType)

	var labelsRes api.LabelsResponse
	require.NoError(t, httpRequest(router, http.MethodGet, "/models/people/labels", nil, &labelsRes))
	assert.Equal(t, 5, labelsRes.NumLabels)
	assert.Equal(t, "B-LOC", labelsRes.ID2Label[3])

	assert.FileExists(t, filepath.Join(cacheDir, "models", "ner", "people", labels.LabelMappingFile))

	var predicted api.PredictResponse
	require.NoError(t, httpRequest(router, http.MethodPost, "/models/people/predict", api.PredictRequest{
		Texts: []string{"Alice flew to Paris", "nothing to see"},
	}, &predicted))
	require.Len(t, predicted.Entities, 2)
	require.Len(t, predicted.Entities[0], 2)
	assert.Equal(t, "PER", predicted.Entities[0][0].Label)
	assert.Equal(t, "Alice", predicted.Entities[0][0].Text)
	assert.Equal(t, "LOC", predicted.Entities[0][1].Label)
	assert.Equal(t, 14, predicted.Entities[0][1].Start)
	assert.Empty(t, predicted.Entities[1])

	var models []api.Checkpoint
	require.NoError(t, httpRequest(router, http.MethodGet, "/models", nil, &models))
	require.Len(t, models, 1)
	assert.True(t, models[0].Loaded)

	require.NoError(t, httpRequest(router, http.MethodDelete, "/models/people", nil, nil))
	assert.Error(t, httpRequest(router, http.MethodGet, "/models/people", nil, nil))
}
