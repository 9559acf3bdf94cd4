package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"veco-ner/internal/core/labels"
)

type Task string

const (
	TokenClassification Task = "token-classification"
)

// Model family names.
const (
	Veco = "veco"
)

var (
	ErrDuplicate = errors.New("model already registered")
	ErrUnknown   = errors.New("unknown model")
)

type Key struct {
	Task Task   `json:"task"`
	Name string `json:"name"`
}

func (k Key) String() string {
	return string(k.Task) + "/" + k.Name
}

// BuildOptions are handed to a constructor when a registered model is built.
type BuildOptions struct {
	ModelDir  string
	Label2ID  labels.Label2ID
	ID2Label  labels.ID2Label
	NumLabels *int
}

type Constructor[M any] func(ctx context.Context, opts BuildOptions) (M, error)

// Registry maps (task, model name) pairs to constructors. It is built once at
// startup and passed to whatever needs to construct models by name.
type Registry[M any] struct {
	mu           sync.RWMutex
	constructors map[Key]Constructor[M]
}

func New[M any]() *Registry[M] {
	return &Registry[M]{constructors: make(map[Key]Constructor[M])}
}

func (r *Registry[M]) Register(task Task, name string, constructor Constructor[M]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{Task: task, Name: name}
	if _, exists := r.constructors[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	r.constructors[key] = constructor
	return nil
}

func (r *Registry[M]) Lookup(task Task, name string) (Constructor[M], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	constructor, ok := r.constructors[Key{Task: task, Name: name}]
	return constructor, ok
}

func (r *Registry[M]) Build(ctx context.Context, task Task, name string, opts BuildOptions) (M, error) {
	constructor, ok := r.Lookup(task, name)
	if !ok {
		var zero M
		return zero, fmt.Errorf("%w %s/%s; registered models: %v", ErrUnknown, task, name, r.Keys())
	}
	return constructor(ctx, opts)
}

// Keys returns the registered keys sorted by task then name.
func (r *Registry[M]) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.constructors))
	for key := range r.constructors {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Task != keys[j].Task {
			return keys[i].Task < keys[j].Task
		}
		return keys[i].Name < keys[j].Name
	})
	return keys
}
