package api

import (
	"time"

	"github.com/google/uuid"
)

type Checkpoint struct {
	Id        uuid.UUID
	Name      string
	Task      string
	ModelType string
	ModelDir  string

	Label2ID  map[string]int `json:"Label2ID,omitempty"`
	NumLabels *int           `json:"NumLabels,omitempty"`

	Loaded       bool
	CreationTime time.Time
}

type RegisterCheckpointRequest struct {
	Name      string
	Task      string
	ModelType string
	ModelDir  string

	Label2ID  map[string]int
	NumLabels *int
}

type ListCheckpointsParams struct {
	Task string `schema:"task"`
}

type RegistryEntry struct {
	Task string
	Name string
}

type LabelsResponse struct {
	NumLabels int
	Label2ID  map[string]int
	ID2Label  map[int]string
}

type PredictRequest struct {
	Texts []string
	// Aggregation is "simple" or "none"; empty uses the server default.
	Aggregation string
}

type Entity struct {
	Label    string
	Text     string
	Start    int
	End      int
	Score    float32
	LContext string
	RContext string
}

type PredictResponse struct {
	Entities [][]Entity
}

type ForwardRequest struct {
	InputIDs      [][]int64
	AttentionMask [][]int64 `json:"AttentionMask,omitempty"`
	TokenTypeIDs  [][]int64 `json:"TokenTypeIDs,omitempty"`
	Labels        [][]int64 `json:"Labels,omitempty"`

	OutputHiddenStates bool
	OutputAttentions   bool
}

type Tensor struct {
	Shape []int64
	Data  []float32
}

// ErrorResponse is the body of every non 2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

type ForwardResponse struct {
	Loss         *float32 `json:"Loss,omitempty"`
	Logits       Tensor
	HiddenStates []Tensor `json:"HiddenStates,omitempty"`
	Attentions   []Tensor `json:"Attentions,omitempty"`
}
