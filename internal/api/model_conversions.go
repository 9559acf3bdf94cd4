package api

import (
	"math"

	"veco-ner/internal/core/types"
	"veco-ner/internal/database"
	"veco-ner/pkg/api"
)

func convertCheckpoint(c database.Checkpoint, loaded bool) (api.Checkpoint, error) {
	label2id, err := c.Labels()
	if err != nil {
		return api.Checkpoint{}, err
	}
	return api.Checkpoint{
		Id:           c.Id,
		Name:         c.Name,
		Task:         c.Task,
		ModelType:    c.ModelType,
		ModelDir:     c.ModelDir,
		Label2ID:     label2id,
		NumLabels:    c.NumLabels,
		Loaded:       loaded,
		CreationTime: c.CreationTime,
	}, nil
}

func convertEntities(es []types.Entity) []api.Entity {
	entities := make([]api.Entity, 0, len(es))
	for _, e := range es {
		entities = append(entities, api.Entity{
			Label:    e.Label,
			Text:     e.Text,
			Start:    e.Start,
			End:      e.End,
			Score:    e.Score,
			LContext: e.LContext,
			RContext: e.RContext,
		})
	}
	return entities
}

func convertTensor(t *types.Tensor) api.Tensor {
	if t == nil {
		return api.Tensor{}
	}
	return api.Tensor{Shape: t.Shape, Data: t.Data}
}

func convertTensors(ts []*types.Tensor) []api.Tensor {
	if len(ts) == 0 {
		return nil
	}
	tensors := make([]api.Tensor, 0, len(ts))
	for _, t := range ts {
		tensors = append(tensors, convertTensor(t))
	}
	return tensors
}

func convertForwardOutput(out *types.AttentionTokenClassificationOutput) api.ForwardResponse {
	loss := out.Loss
	// batches without a labelled token have no loss
	if loss != nil && math.IsNaN(float64(*loss)) {
		loss = nil
	}
	return api.ForwardResponse{
		Loss:         loss,
		Logits:       convertTensor(out.Logits),
		HiddenStates: convertTensors(out.HiddenStates),
		Attentions:   convertTensors(out.Attentions),
	}
}
