package cmd_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"veco-ner/cmd"
	"veco-ner/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifest = `models:
  - name: people
    model_dir: checkpoints/people
    label2id:
      O: 0
      B-PER: 1
  - name: remote
    task: token-classification
    model_type: veco
    model_dir: s3://models/remote
    num_labels: 9
`

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0644))

	requests, err := cmd.LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, requests, 2)

	assert.Equal(t, "people", requests[0].Name)
	assert.Equal(t, filepath.Join(dir, "checkpoints", "people"), requests[0].ModelDir)
	assert.Equal(t, map[string]int{"O": 0, "B-PER": 1}, requests[0].Label2ID)
	assert.Nil(t, requests[0].NumLabels)

	assert.Equal(t, "s3://models/remote", requests[1].ModelDir)
	require.NotNil(t, requests[1].NumLabels)
	assert.Equal(t, 9, *requests[1].NumLabels)
}

func TestLoadManifestErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := cmd.LoadManifest(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("models:\n  - name: a\n    weights: x\n"), 0644))
	_, err = cmd.LoadManifest(unknown)
	assert.Error(t, err)

	unnamed := filepath.Join(dir, "unnamed.yaml")
	require.NoError(t, os.WriteFile(unnamed, []byte("models:\n  - model_dir: x\n"), 0644))
	_, err = cmd.LoadManifest(unnamed)
	assert.Error(t, err)
}

func TestUploadCheckpoint(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "config.json"), []byte("{}"), 0644))

	uri, err := cmd.UploadCheckpoint(ctx, store, "models", "people", src)
	require.NoError(t, err)
	assert.Equal(t, "s3://models/people", uri)

	objects, err := store.ListObjects(ctx, "models", "people")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "people/config.json", objects[0].Name)

	uri, err = cmd.UploadCheckpoint(ctx, nil, "models", "remote", "s3://models/remote")
	require.NoError(t, err)
	assert.Equal(t, "s3://models/remote", uri)

	_, err = cmd.UploadCheckpoint(ctx, nil, "models", "people", src)
	assert.ErrorIs(t, err, storage.ErrNoObjectStore)
}
