package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"veco-ner/internal/config"
	"veco-ner/internal/core"
	"veco-ner/internal/core/registry"
	"veco-ner/internal/metrics"
	"veco-ner/internal/storage"
	"veco-ner/pkg/api"

	"gopkg.in/yaml.v2"
	"gorm.io/gorm"
)

// NewObjectStore returns the S3 store described by cfg, or nil when S3 is
// not configured.
func NewObjectStore(cfg config.Config) (storage.ObjectStore, error) {
	if !cfg.S3Enabled() {
		return nil, nil
	}
	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// InitOnnx loads onnxruntime if a library is configured. Without it only
// models built from a configuration can run.
func InitOnnx(cfg config.Config) {
	if cfg.OnnxRuntimeLib == "" {
		slog.Warn("ONNX_RUNTIME_LIB is not set, checkpoints with an onnx graph cannot be loaded")
		return
	}
	if err := core.InitOnnxRuntime(cfg.OnnxRuntimeLib); err != nil {
		slog.Error("error initializing onnxruntime", "error", err)
	}
}

// NewModelManager wires the registry, the checkpoint resolver and the
// pipeline settings from cfg.
func NewModelManager(cfg config.Config, db *gorm.DB, m *metrics.Metrics, progress io.Writer) (*core.ModelManager, *registry.Registry[core.Model], error) {
	reg, err := core.NewModelRegistry(core.NewFactory())
	if err != nil {
		return nil, nil, err
	}

	store, err := NewObjectStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating object store: %w", err)
	}

	manager := core.NewModelManager(db, reg, storage.NewCheckpointResolver(store, cfg.ModelCacheDir, progress), core.ManagerOptions{
		Pipeline: core.PipelineOptions{
			Workers: cfg.PredictWorkers,
			Metrics: m,
		},
	})

	return manager, reg, nil
}

type ManifestEntry struct {
	Name      string         `yaml:"name"`
	Task      string         `yaml:"task"`
	ModelType string         `yaml:"model_type"`
	ModelDir  string         `yaml:"model_dir"`
	NumLabels *int           `yaml:"num_labels"`
	Label2ID  map[string]int `yaml:"label2id"`
}

type Manifest struct {
	Models []ManifestEntry `yaml:"models"`
}

// LoadManifest reads a yaml list of checkpoints to register. Relative model
// directories are taken relative to the manifest.
func LoadManifest(path string) ([]api.RegisterCheckpointRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.UnmarshalStrict(data, &manifest); err != nil {
		return nil, fmt.Errorf("error parsing manifest %s: %w", path, err)
	}

	requests := make([]api.RegisterCheckpointRequest, 0, len(manifest.Models))
	for i, entry := range manifest.Models {
		if entry.Name == "" {
			return nil, fmt.Errorf("manifest entry %d has no name", i)
		}
		dir := entry.ModelDir
		if dir != "" && !strings.HasPrefix(dir, "s3://") && !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(path), dir)
		}
		requests = append(requests, api.RegisterCheckpointRequest{
			Name:      entry.Name,
			Task:      entry.Task,
			ModelType: entry.ModelType,
			ModelDir:  dir,
			NumLabels: entry.NumLabels,
			Label2ID:  entry.Label2ID,
		})
	}
	return requests, nil
}

// UploadCheckpoint copies a local checkpoint directory to bucket/name and
// returns its s3 uri. Directories that are already remote are returned as is.
func UploadCheckpoint(ctx context.Context, store storage.ObjectStore, bucket, name, dir string) (string, error) {
	if _, _, ok := storage.ParseS3URI(dir); ok || dir == "" {
		return dir, nil
	}
	if store == nil {
		return "", storage.ErrNoObjectStore
	}
	if err := store.CreateBucket(ctx, bucket); err != nil {
		return "", fmt.Errorf("error creating bucket %s: %w", bucket, err)
	}
	if err := storage.UploadDir(ctx, store, bucket, name, dir); err != nil {
		return "", fmt.Errorf("error uploading %s: %w", dir, err)
	}
	uri := fmt.Sprintf("s3://%s/%s", bucket, name)
	slog.Info("uploaded checkpoint", "dir", dir, "uri", uri)
	return uri, nil
}
