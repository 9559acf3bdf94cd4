//go:build !windows

package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"veco-ner/internal/core/types"

	ort "github.com/yalue/onnxruntime_go"
)

const OnnxModelFile = "model.onnx"

var (
	initOnce sync.Once
	initErr  error
)

// InitOnnxRuntime loads the onnxruntime shared library. It is safe to call
// more than once; only the first call does anything.
func InitOnnxRuntime(sharedLibraryPath string) error {
	initOnce.Do(func() {
		if sharedLibraryPath != "" {
			ort.SetSharedLibraryPath(sharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("error initializing onnxruntime: %w", err)
			return
		}
		slog.Info("onnxruntime initialized", "lib", sharedLibraryPath)
	})
	return initErr
}

// OnnxTokenClassifier runs an exported token classification graph. The
// graph takes input_ids, attention_mask and optionally token_type_ids, and
// returns logits plus any hidden_states.N / attentions.N outputs it exposes.
type OnnxTokenClassifier struct {
	cfg     *types.ModelConfig
	session *ort.DynamicAdvancedSession

	hasTokenTypes bool
	hiddenOutputs []string
	attnOutputs   []string

	mu sync.Mutex
}

func LoadOnnxTokenClassifier(modelDir string, cfg *types.ModelConfig) (*OnnxTokenClassifier, error) {
	if !ort.IsInitialized() {
		return nil, errors.New("onnxruntime is not initialized")
	}

	path := filepath.Join(modelDir, OnnxModelFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("error locating onnx graph: %w", err)
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("error reading onnx graph io: %w", err)
	}

	m := &OnnxTokenClassifier{cfg: cfg}

	inputNames := []string{"input_ids", "attention_mask"}
	for _, info := range inputInfo {
		if info.Name == "token_type_ids" {
			m.hasTokenTypes = true
			inputNames = append(inputNames, info.Name)
		}
	}

	outputNames := []string{"logits"}
	for _, info := range outputInfo {
		switch {
		case strings.HasPrefix(info.Name, "hidden_states."):
			m.hiddenOutputs = append(m.hiddenOutputs, info.Name)
		case strings.HasPrefix(info.Name, "attentions."):
			m.attnOutputs = append(m.attnOutputs, info.Name)
		}
	}
	outputNames = append(outputNames, m.hiddenOutputs...)
	outputNames = append(outputNames, m.attnOutputs...)

	session, err := ort.NewDynamicAdvancedSession(path, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating onnx session: %w", err)
	}
	m.session = session

	slog.Info("loaded onnx token classifier", "path", path, "num_labels", cfg.ResolvedNumLabels(),
		"hidden_outputs", len(m.hiddenOutputs), "attention_outputs", len(m.attnOutputs))

	return m, nil
}

func (m *OnnxTokenClassifier) Config() *types.ModelConfig {
	return m.cfg
}

func (m *OnnxTokenClassifier) Forward(ctx context.Context, inputs *types.Inputs) (*types.TokenClassifierOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := validateInputs(inputs); err != nil {
		return nil, err
	}
	batch, seqLen := inputs.BatchSize(), inputs.SeqLen()
	shape := ort.NewShape(int64(batch), int64(seqLen))

	ids, err := flattenBatch(inputs.InputIDs, batch, seqLen, 0)
	if err != nil {
		return nil, fmt.Errorf("input_ids: %w", err)
	}
	mask, err := flattenBatch(inputs.AttentionMask, batch, seqLen, 1)
	if err != nil {
		return nil, fmt.Errorf("attention_mask: %w", err)
	}

	values := make([]ort.Value, 0, 3)
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()

	for _, data := range [][]int64{ids, mask} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("error creating input tensor: %w", err)
		}
		values = append(values, t)
	}
	if m.hasTokenTypes {
		tokenTypes, err := flattenBatch(inputs.TokenTypeIDs, batch, seqLen, 0)
		if err != nil {
			return nil, fmt.Errorf("token_type_ids: %w", err)
		}
		t, err := ort.NewTensor(shape, tokenTypes)
		if err != nil {
			return nil, fmt.Errorf("error creating input tensor: %w", err)
		}
		values = append(values, t)
	}

	outputs := make([]ort.Value, 1+len(m.hiddenOutputs)+len(m.attnOutputs))

	// a session is not safe for concurrent runs with auto-allocated outputs
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: onnx session was released", ErrModelNotLoaded)
	}
	err = m.session.Run(values, outputs)
	m.mu.Unlock()
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	if err != nil {
		return nil, fmt.Errorf("session run error: %w", err)
	}

	logits, err := copyOrtTensor(outputs[0])
	if err != nil {
		return nil, fmt.Errorf("logits: %w", err)
	}
	out := &types.TokenClassifierOutput{Logits: logits}

	if inputs.OutputHiddenStates {
		for i, name := range m.hiddenOutputs {
			t, err := copyOrtTensor(outputs[1+i])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out.HiddenStates = append(out.HiddenStates, t)
		}
	}
	if inputs.OutputAttentions {
		offset := 1 + len(m.hiddenOutputs)
		for i, name := range m.attnOutputs {
			t, err := copyOrtTensor(outputs[offset+i])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out.Attentions = append(out.Attentions, t)
		}
	}

	if inputs.Labels != nil {
		loss, err := TokenClassificationLoss(logits, inputs.Labels)
		if err != nil {
			return nil, err
		}
		out.Loss = &loss
	}

	return out, nil
}

func (m *OnnxTokenClassifier) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		if err := m.session.Destroy(); err != nil {
			slog.Warn("error destroying onnx session", "error", err)
		}
		m.session = nil
	}
}

func copyOrtTensor(v ort.Value) (*types.Tensor, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("expected float32 tensor output, got %T", v)
	}
	data := t.GetData()
	shape := t.GetShape()
	return types.NewTensor(append([]float32(nil), data...), append([]int64(nil), shape...)...)
}
