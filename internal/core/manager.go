package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"veco-ner/internal/core/registry"
	"veco-ner/internal/core/utils"
	"veco-ner/internal/database"
	"veco-ner/internal/storage"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const preloadConcurrency = 4

type ManagerOptions struct {
	Pipeline PipelineOptions
	// LoadTokenizer opens the tokenizer of a checkpoint directory. Nil means
	// LoadTokenizer.
	LoadTokenizer func(modelDir string) (Tokenizer, error)
}

// ModelManager loads catalog checkpoints on demand and keeps them in memory
// by name.
type ModelManager struct {
	db       *gorm.DB
	registry *registry.Registry[Model]
	resolver *storage.CheckpointResolver
	opts     ManagerOptions

	locks *utils.MutexMap

	mu        sync.RWMutex
	pipelines map[string]*TokenClassificationPipeline
}

func NewModelManager(db *gorm.DB, reg *registry.Registry[Model], resolver *storage.CheckpointResolver, opts ManagerOptions) *ModelManager {
	if opts.LoadTokenizer == nil {
		opts.LoadTokenizer = LoadTokenizer
	}
	return &ModelManager{
		db:        db,
		registry:  reg,
		resolver:  resolver,
		opts:      opts,
		locks:     utils.NewMutexMap(1024),
		pipelines: make(map[string]*TokenClassificationPipeline),
	}
}

func (m *ModelManager) cached(name string) (*TokenClassificationPipeline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[name]
	return p, ok
}

// Get returns the pipeline of the named checkpoint, loading it on first use.
// Concurrent calls for the same name load it once.
func (m *ModelManager) Get(ctx context.Context, name string) (*TokenClassificationPipeline, error) {
	if p, ok := m.cached(name); ok {
		return p, nil
	}

	unlock, err := m.locks.Lock(name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if p, ok := m.cached(name); ok {
		return p, nil
	}

	checkpoint, err := database.GetCheckpoint(ctx, m.db, name)
	if err != nil {
		return nil, err
	}

	p, err := m.load(ctx, checkpoint)
	m.opts.Pipeline.Metrics.ObserveModelLoad(name, err)
	if err != nil {
		return nil, fmt.Errorf("error loading model %s: %w", name, err)
	}

	m.mu.Lock()
	m.pipelines[name] = p
	loaded := len(m.pipelines)
	m.mu.Unlock()
	m.opts.Pipeline.Metrics.SetModelsLoaded(loaded)

	return p, nil
}

func (m *ModelManager) load(ctx context.Context, checkpoint database.Checkpoint) (*TokenClassificationPipeline, error) {
	if registry.Task(checkpoint.Task) != registry.TokenClassification {
		return nil, fmt.Errorf("%w: task %s cannot be served", registry.ErrUnknown, checkpoint.Task)
	}

	modelDir := ""
	if checkpoint.ModelDir != "" {
		dir, err := m.resolver.Resolve(ctx, checkpoint.ModelDir)
		if err != nil {
			return nil, err
		}
		modelDir = dir
	}

	label2id, err := checkpoint.Labels()
	if err != nil {
		return nil, err
	}

	model, err := m.registry.Build(ctx, registry.Task(checkpoint.Task), checkpoint.ModelType, registry.BuildOptions{
		ModelDir:  modelDir,
		Label2ID:  label2id,
		NumLabels: checkpoint.NumLabels,
	})
	if err != nil {
		return nil, err
	}

	var tokenizer Tokenizer
	if modelDir != "" {
		if _, err := os.Stat(filepath.Join(modelDir, TokenizerFile)); err == nil {
			tokenizer, err = m.opts.LoadTokenizer(modelDir)
			if err != nil {
				model.Release()
				return nil, err
			}
		}
	}
	if tokenizer == nil {
		slog.Warn("model has no tokenizer, only forward is available", "model", checkpoint.Name)
	}

	slog.Info("model loaded", "model", checkpoint.Name, "type", checkpoint.ModelType, "dir", modelDir,
		"num_labels", model.Config().ResolvedNumLabels())

	return NewTokenClassificationPipeline(checkpoint.Name, model, tokenizer, m.opts.Pipeline), nil
}

// Preload loads the named checkpoints concurrently and stops at the first
// failure.
func (m *ModelManager) Preload(ctx context.Context, names []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)

	for _, name := range names {
		g.Go(func() error {
			if _, err := m.Get(ctx, name); err != nil {
				return fmt.Errorf("error preloading %s: %w", name, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Loaded returns the names of the models in memory, sorted.
func (m *ModelManager) Loaded() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.pipelines))
	for name := range m.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var ErrModelNotLoaded = errors.New("model is not loaded")

func (m *ModelManager) Unload(name string) error {
	unlock, err := m.locks.Lock(name)
	if err != nil {
		return err
	}
	defer unlock()

	m.mu.Lock()
	p, ok := m.pipelines[name]
	delete(m.pipelines, name)
	loaded := len(m.pipelines)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotLoaded, name)
	}
	p.Release()
	m.opts.Pipeline.Metrics.SetModelsLoaded(loaded)
	slog.Info("model unloaded", "model", name)
	return nil
}

// Close releases every loaded model.
func (m *ModelManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, p := range m.pipelines {
		p.Release()
		delete(m.pipelines, name)
	}
	m.opts.Pipeline.Metrics.SetModelsLoaded(0)
}
