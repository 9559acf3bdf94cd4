package types

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"veco-ner/internal/core/labels"
)

const ConfigFileName = "config.json"

// ModelConfig mirrors the fields of a Roberta-family config.json that the
// token classifiers read.
type ModelConfig struct {
	NameOrPath            string  `json:"_name_or_path"`
	ModelType             string  `json:"model_type"`
	VocabSize             int     `json:"vocab_size"`
	HiddenSize            int     `json:"hidden_size"`
	NumHiddenLayers       int     `json:"num_hidden_layers"`
	NumAttentionHeads     int     `json:"num_attention_heads"`
	IntermediateSize      int     `json:"intermediate_size"`
	MaxPositionEmbeddings int     `json:"max_position_embeddings"`
	TypeVocabSize         int     `json:"type_vocab_size"`
	LayerNormEps          float32 `json:"layer_norm_eps"`
	PadTokenID            int     `json:"pad_token_id"`
	HiddenAct             string  `json:"hidden_act"`

	Label2ID  labels.Label2ID `json:"-"`
	ID2Label  labels.ID2Label `json:"-"`
	NumLabels *int            `json:"-"`
}

// DefaultModelConfig returns the xlm-roberta-base geometry that Veco shares.
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		ModelType:             "veco",
		VocabSize:             250002,
		HiddenSize:            768,
		NumHiddenLayers:       12,
		NumAttentionHeads:     12,
		IntermediateSize:      3072,
		MaxPositionEmbeddings: 514,
		TypeVocabSize:         1,
		LayerNormEps:          1e-5,
		PadTokenID:            1,
		HiddenAct:             "gelu",
	}
}

// ResolvedNumLabels follows the usual config rules: an explicit count wins,
// then the size of id2label, then label2id, then 2.
func (c *ModelConfig) ResolvedNumLabels() int {
	switch {
	case c.NumLabels != nil:
		return *c.NumLabels
	case len(c.ID2Label) > 0:
		return len(c.ID2Label)
	case len(c.Label2ID) > 0:
		return len(c.Label2ID)
	default:
		return 2
	}
}

// LabelFor returns the label name of a class id, falling back to LABEL_<id>.
func (c *ModelConfig) LabelFor(id int) string {
	if label, ok := c.ID2Label[id]; ok {
		return label
	}
	return "LABEL_" + strconv.Itoa(id)
}

func (c *ModelConfig) Clone() *ModelConfig {
	out := *c
	if c.Label2ID != nil {
		out.Label2ID = make(labels.Label2ID, len(c.Label2ID))
		for k, v := range c.Label2ID {
			out.Label2ID[k] = v
		}
	}
	if c.ID2Label != nil {
		out.ID2Label = make(labels.ID2Label, len(c.ID2Label))
		for k, v := range c.ID2Label {
			out.ID2Label[k] = v
		}
	}
	if c.NumLabels != nil {
		n := *c.NumLabels
		out.NumLabels = &n
	}
	return &out
}

func (c *ModelConfig) UnmarshalJSON(data []byte) error {
	type plain ModelConfig
	raw := struct {
		*plain
		Label2ID  map[string]int    `json:"label2id"`
		ID2Label  map[string]string `json:"id2label"`
		NumLabels *int              `json:"num_labels"`
	}{plain: (*plain)(c)}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.Label2ID != nil {
		c.Label2ID = labels.Label2ID(raw.Label2ID)
	}
	if raw.ID2Label != nil {
		c.ID2Label = make(labels.ID2Label, len(raw.ID2Label))
		for key, label := range raw.ID2Label {
			id, err := strconv.Atoi(key)
			if err != nil {
				return fmt.Errorf("invalid id2label key %q: %w", key, err)
			}
			c.ID2Label[id] = label
		}
	}
	if raw.NumLabels != nil {
		c.NumLabels = raw.NumLabels
	}
	return nil
}

func (c *ModelConfig) MarshalJSON() ([]byte, error) {
	type plain ModelConfig
	out := struct {
		*plain
		Label2ID  map[string]int    `json:"label2id,omitempty"`
		ID2Label  map[string]string `json:"id2label,omitempty"`
		NumLabels *int              `json:"num_labels,omitempty"`
	}{plain: (*plain)(c), NumLabels: c.NumLabels}

	if c.Label2ID != nil {
		out.Label2ID = map[string]int(c.Label2ID)
	}
	if c.ID2Label != nil {
		out.ID2Label = make(map[string]string, len(c.ID2Label))
		for id, label := range c.ID2Label {
			out.ID2Label[strconv.Itoa(id)] = label
		}
	}
	return json.Marshal(out)
}

// LoadModelConfig reads config.json from a checkpoint directory on top of the
// default geometry. NameOrPath is set to the directory when the file leaves it
// empty.
func LoadModelConfig(modelDir string) (*ModelConfig, error) {
	path := filepath.Join(modelDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading model config %s: %w", path, err)
	}

	cfg := DefaultModelConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing model config %s: %w", path, err)
	}
	if cfg.NameOrPath == "" {
		cfg.NameOrPath = modelDir
	}
	return cfg, nil
}
