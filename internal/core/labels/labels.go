package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

const (
	LabelMappingFile  = "label_mapping.json"
	ConfigurationFile = "configuration.json"
	ConfigFile        = "config.json"
)

type Label2ID map[string]int

type ID2Label map[int]string

func (m Label2ID) Invert() ID2Label {
	if m == nil {
		return nil
	}
	out := make(ID2Label, len(m))
	for label, id := range m {
		out[id] = label
	}
	return out
}

func (m ID2Label) Invert() Label2ID {
	if m == nil {
		return nil
	}
	out := make(Label2ID, len(m))
	for id, label := range m {
		out[label] = id
	}
	return out
}

// Labels returns the label names ordered by id.
func (m ID2Label) Labels() []string {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

// ParseLabelMapping looks for a label mapping next to a checkpoint. It checks
// label_mapping.json, then the model and preprocessor sections of
// configuration.json, then config.json. A directory with none of these yields
// a nil mapping and no error.
func ParseLabelMapping(modelDir string) (Label2ID, error) {
	mapping, err := readLabelMappingFile(filepath.Join(modelDir, LabelMappingFile))
	if err != nil || mapping != nil {
		return mapping, err
	}

	var configuration struct {
		Model        *mappingFields `json:"model"`
		Preprocessor *mappingFields `json:"preprocessor"`
	}
	found, err := readJSON(filepath.Join(modelDir, ConfigurationFile), &configuration)
	if err != nil {
		return nil, err
	}
	if found {
		for _, section := range []*mappingFields{configuration.Model, configuration.Preprocessor} {
			if section == nil {
				continue
			}
			mapping, err := section.label2id()
			if err != nil {
				return nil, fmt.Errorf("invalid label mapping in %s: %w", ConfigurationFile, err)
			}
			if mapping != nil {
				return mapping, nil
			}
		}
	}

	var config mappingFields
	found, err = readJSON(filepath.Join(modelDir, ConfigFile), &config)
	if err != nil || !found {
		return nil, err
	}
	mapping, err = config.label2id()
	if err != nil {
		return nil, fmt.Errorf("invalid label mapping in %s: %w", ConfigFile, err)
	}
	return mapping, nil
}

type mappingFields struct {
	Label2ID map[string]json.Number `json:"label2id"`
	ID2Label map[string]string      `json:"id2label"`
}

func (f *mappingFields) label2id() (Label2ID, error) {
	if f.Label2ID != nil {
		out := make(Label2ID, len(f.Label2ID))
		for label, raw := range f.Label2ID {
			id, err := parseID(raw.String())
			if err != nil {
				return nil, fmt.Errorf("label %q: %w", label, err)
			}
			out[label] = id
		}
		return out, nil
	}

	if f.ID2Label != nil {
		out := make(Label2ID, len(f.ID2Label))
		for raw, label := range f.ID2Label {
			id, err := parseID(raw)
			if err != nil {
				return nil, fmt.Errorf("label %q: %w", label, err)
			}
			out[label] = id
		}
		return out, nil
	}

	return nil, nil
}

func readLabelMappingFile(path string) (Label2ID, error) {
	var raw map[string]json.Number
	found, err := readJSON(path, &raw)
	if err != nil || !found {
		return nil, err
	}

	out := make(Label2ID, len(raw))
	for label, value := range raw {
		id, err := parseID(value.String())
		if err != nil {
			return nil, fmt.Errorf("invalid label mapping in %s: label %q: %w", path, label, err)
		}
		out[label] = id
	}
	return out, nil
}

func readJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("error reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("error parsing %s: %w", path, err)
	}
	return true, nil
}

func parseID(raw string) (int, error) {
	if id, err := strconv.Atoi(raw); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("id %q is not a number", raw)
	}
	return int(f), nil
}
