package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"veco-ner/internal/core"
	"veco-ner/internal/core/registry"
	"veco-ner/internal/core/types"
	"veco-ner/internal/database"
	"veco-ner/internal/metrics"
	"veco-ner/internal/storage"
	"veco-ner/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxPredictTexts = 256

type ModelService struct {
	db       *gorm.DB
	registry *registry.Registry[core.Model]
	manager  *core.ModelManager
	metrics  *metrics.Metrics
}

// NewModelService serves the checkpoint catalog and the models loaded by
// manager. metrics may be nil, in which case /metrics is not mounted.
func NewModelService(db *gorm.DB, reg *registry.Registry[core.Model], manager *core.ModelManager, m *metrics.Metrics) *ModelService {
	return &ModelService{db: db, registry: reg, manager: manager, metrics: m}
}

func (s *ModelService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Route("/models", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListModels))
		r.Post("/", RestHandler(s.RegisterModel))
		r.Get("/{name}", RestHandler(s.GetModel))
		r.Delete("/{name}", RestHandler(s.DeleteModel))
		r.Get("/{name}/labels", RestHandler(s.GetLabels))
		r.Post("/{name}/predict", RestHandler(s.Predict))
		r.Post("/{name}/forward", RestHandler(s.Forward))
	})

	r.Get("/registry", RestHandler(s.ListRegistry))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
}

func (s *ModelService) isLoaded() map[string]bool {
	loaded := make(map[string]bool)
	for _, name := range s.manager.Loaded() {
		loaded[name] = true
	}
	return loaded
}

func (s *ModelService) ListModels(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListCheckpointsParams](r)
	if err != nil {
		return nil, err
	}

	checkpoints, err := database.ListCheckpoints(r.Context(), s.db, params.Task)
	if err != nil {
		slog.Error("error listing checkpoints", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing models")
	}

	loaded := s.isLoaded()
	res := make([]api.Checkpoint, 0, len(checkpoints))
	for _, c := range checkpoints {
		converted, err := convertCheckpoint(c, loaded[c.Name])
		if err != nil {
			return nil, CodedError(http.StatusInternalServerError, err)
		}
		res = append(res, converted)
	}
	return res, nil
}

func (s *ModelService) RegisterModel(r *http.Request) (any, error) {
	req, err := ParseRequest[api.RegisterCheckpointRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	if req.Task == "" {
		req.Task = string(registry.TokenClassification)
	}
	if req.ModelType == "" {
		req.ModelType = registry.Veco
	}
	if _, ok := s.registry.Lookup(registry.Task(req.Task), req.ModelType); !ok {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "no model registered for task '%s' and type '%s'", req.Task, req.ModelType)
	}
	if req.NumLabels != nil && *req.NumLabels <= 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "NumLabels must be positive")
	}
	if err := storage.ValidateModelDir(req.ModelDir); err != nil {
		return nil, CodedError(http.StatusUnprocessableEntity, err)
	}

	checkpoint := database.Checkpoint{
		Id:           uuid.New(),
		Name:         req.Name,
		Task:         req.Task,
		ModelType:    req.ModelType,
		ModelDir:     req.ModelDir,
		NumLabels:    req.NumLabels,
		CreationTime: time.Now().UTC(),
	}
	if err := checkpoint.SetLabels(req.Label2ID); err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}

	if err := database.CreateCheckpoint(r.Context(), s.db, &checkpoint); err != nil {
		if errors.Is(err, database.ErrCheckpointExists) {
			return nil, CodedErrorf(http.StatusConflict, "model '%s' already exists", req.Name)
		}
		slog.Error("error registering checkpoint", "name", req.Name, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error registering model")
	}

	slog.Info("registered checkpoint", "name", checkpoint.Name, "task", checkpoint.Task, "type", checkpoint.ModelType, "dir", checkpoint.ModelDir)

	return convertCheckpoint(checkpoint, false)
}

func (s *ModelService) getCheckpoint(r *http.Request) (database.Checkpoint, error) {
	name, err := URLParam(r, "name")
	if err != nil {
		return database.Checkpoint{}, err
	}

	checkpoint, err := database.GetCheckpoint(r.Context(), s.db, name)
	if err != nil {
		if errors.Is(err, database.ErrCheckpointNotFound) {
			return database.Checkpoint{}, CodedErrorf(http.StatusNotFound, "model '%s' not found", name)
		}
		slog.Error("error getting checkpoint", "name", name, "error", err)
		return database.Checkpoint{}, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}
	return checkpoint, nil
}

func (s *ModelService) GetModel(r *http.Request) (any, error) {
	checkpoint, err := s.getCheckpoint(r)
	if err != nil {
		return nil, err
	}
	return convertCheckpoint(checkpoint, s.isLoaded()[checkpoint.Name])
}

func (s *ModelService) DeleteModel(r *http.Request) (any, error) {
	name, err := URLParam(r, "name")
	if err != nil {
		return nil, err
	}

	if err := database.DeleteCheckpoint(r.Context(), s.db, name); err != nil {
		if errors.Is(err, database.ErrCheckpointNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model '%s' not found", name)
		}
		slog.Error("error deleting checkpoint", "name", name, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error deleting model")
	}

	if err := s.manager.Unload(name); err != nil && !errors.Is(err, core.ErrModelNotLoaded) {
		slog.Error("error unloading deleted model", "name", name, "error", err)
	}

	return nil, nil
}

func (s *ModelService) pipeline(r *http.Request) (*core.TokenClassificationPipeline, error) {
	name, err := URLParam(r, "name")
	if err != nil {
		return nil, err
	}

	p, err := s.manager.Get(r.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrCheckpointNotFound):
			return nil, CodedErrorf(http.StatusNotFound, "model '%s' not found", name)
		case errors.Is(err, registry.ErrUnknown):
			return nil, CodedError(http.StatusUnprocessableEntity, err)
		default:
			slog.Error("error loading model", "name", name, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "error loading model '%s'", name)
		}
	}
	return p, nil
}

func (s *ModelService) GetLabels(r *http.Request) (any, error) {
	p, err := s.pipeline(r)
	if err != nil {
		return nil, err
	}

	cfg := p.Model().Config()
	id2label := cfg.ID2Label
	if len(id2label) == 0 {
		id2label = cfg.Label2ID.Invert()
	}
	label2id := cfg.Label2ID
	if len(label2id) == 0 {
		label2id = id2label.Invert()
	}

	return api.LabelsResponse{
		NumLabels: cfg.ResolvedNumLabels(),
		Label2ID:  label2id,
		ID2Label:  id2label,
	}, nil
}

func (s *ModelService) Predict(r *http.Request) (any, error) {
	req, err := ParseRequest[api.PredictRequest](r)
	if err != nil {
		return nil, err
	}

	if len(req.Texts) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "at least one text is required")
	}
	if len(req.Texts) > maxPredictTexts {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "at most %d texts may be sent at once, got %d", maxPredictTexts, len(req.Texts))
	}

	var strategy core.AggregationStrategy
	if req.Aggregation != "" {
		strategy, err = core.ParseAggregationStrategy(req.Aggregation)
		if err != nil {
			return nil, CodedError(http.StatusBadRequest, err)
		}
	}

	p, err := s.pipeline(r)
	if err != nil {
		return nil, err
	}
	if strategy != "" {
		p = p.WithAggregation(strategy)
	}

	entities, err := p.PredictBatch(r.Context(), req.Texts)
	if err != nil {
		if errors.Is(err, core.ErrNoTokenizer) {
			return nil, CodedError(http.StatusUnprocessableEntity, err)
		}
		if errors.Is(err, core.ErrModelNotLoaded) {
			return nil, CodedError(http.StatusServiceUnavailable, err)
		}
		slog.Error("error running prediction", "model", p.Name(), "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error running prediction")
	}

	res := api.PredictResponse{Entities: make([][]api.Entity, len(entities))}
	for i, e := range entities {
		res.Entities[i] = convertEntities(e)
	}
	return res, nil
}

func (s *ModelService) Forward(r *http.Request) (any, error) {
	req, err := ParseRequest[api.ForwardRequest](r)
	if err != nil {
		return nil, err
	}

	p, err := s.pipeline(r)
	if err != nil {
		return nil, err
	}

	out, err := p.Forward(r.Context(), &types.Inputs{
		InputIDs:           req.InputIDs,
		AttentionMask:      req.AttentionMask,
		TokenTypeIDs:       req.TokenTypeIDs,
		Labels:             req.Labels,
		OutputHiddenStates: req.OutputHiddenStates,
		OutputAttentions:   req.OutputAttentions,
	})
	if err != nil {
		if errors.Is(err, core.ErrInvalidInputs) {
			return nil, CodedError(http.StatusBadRequest, err)
		}
		if errors.Is(err, core.ErrModelNotLoaded) {
			return nil, CodedError(http.StatusServiceUnavailable, err)
		}
		slog.Error("error running forward pass", "model", p.Name(), "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error running model")
	}

	return convertForwardOutput(out), nil
}

func (s *ModelService) ListRegistry(r *http.Request) (any, error) {
	keys := s.registry.Keys()
	entries := make([]api.RegistryEntry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, api.RegistryEntry{Task: string(key.Task), Name: key.Name})
	}
	return entries, nil
}
