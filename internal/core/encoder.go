package core

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"veco-ner/internal/core/types"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

const maskedAttention = -1e9

type encoderLayer struct {
	attention     *nn.MultiHeadAttention[*cpu.Backend]
	attentionNorm *nn.LayerNorm[*cpu.Backend]
	intermediate  *nn.Linear[*cpu.Backend]
	output        *nn.Linear[*cpu.Backend]
	outputNorm    *nn.LayerNorm[*cpu.Backend]
}

// EncoderTokenClassifier is a randomly initialised Roberta encoder with a
// linear token classification head, run on the CPU. It backs models that
// are constructed from a configuration alone, with no checkpoint.
type EncoderTokenClassifier struct {
	cfg *types.ModelConfig

	wordEmbeddings      *nn.Embedding[*cpu.Backend]
	positionEmbeddings  *nn.Embedding[*cpu.Backend]
	tokenTypeEmbeddings *nn.Embedding[*cpu.Backend]
	embeddingNorm       *nn.LayerNorm[*cpu.Backend]

	layers     []encoderLayer
	activation func(*cpuTensor) *cpuTensor
	classifier *nn.Linear[*cpu.Backend]
}

func NewEncoderTokenClassifier(cfg *types.ModelConfig) (model *EncoderTokenClassifier, err error) {
	defer recoverTensorPanic("error building encoder", &err)

	if cfg.HiddenSize <= 0 || cfg.NumAttentionHeads <= 0 || cfg.HiddenSize%cfg.NumAttentionHeads != 0 {
		return nil, fmt.Errorf("hidden size %d is not a multiple of the number of attention heads %d", cfg.HiddenSize, cfg.NumAttentionHeads)
	}
	if cfg.VocabSize <= 0 || cfg.MaxPositionEmbeddings <= cfg.PadTokenID+1 {
		return nil, fmt.Errorf("invalid vocabulary (%d) or position (%d) sizes", cfg.VocabSize, cfg.MaxPositionEmbeddings)
	}

	var activation func(*cpuTensor) *cpuTensor
	switch cfg.HiddenAct {
	case "gelu", "gelu_new", "":
		activation = elementwise(gelu)
	case "relu":
		activation = elementwise(relu)
	default:
		return nil, fmt.Errorf("unsupported hidden activation %q", cfg.HiddenAct)
	}

	typeVocab := max(cfg.TypeVocabSize, 1)

	model = &EncoderTokenClassifier{
		cfg:                 cfg,
		wordEmbeddings:      nn.NewEmbedding(cfg.VocabSize, cfg.HiddenSize, cpuBackend),
		positionEmbeddings:  nn.NewEmbedding(cfg.MaxPositionEmbeddings, cfg.HiddenSize, cpuBackend),
		tokenTypeEmbeddings: nn.NewEmbedding(typeVocab, cfg.HiddenSize, cpuBackend),
		embeddingNorm:       nn.NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEps, cpuBackend),
		activation:          activation,
		classifier:          nn.NewLinear(cfg.HiddenSize, cfg.ResolvedNumLabels(), cpuBackend),
	}

	for i := 0; i < cfg.NumHiddenLayers; i++ {
		model.layers = append(model.layers, encoderLayer{
			attention:     nn.NewMultiHeadAttention(cfg.HiddenSize, cfg.NumAttentionHeads, cpuBackend),
			attentionNorm: nn.NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEps, cpuBackend),
			intermediate:  nn.NewLinear(cfg.HiddenSize, cfg.IntermediateSize, cpuBackend),
			output:        nn.NewLinear(cfg.IntermediateSize, cfg.HiddenSize, cpuBackend),
			outputNorm:    nn.NewLayerNorm(cfg.HiddenSize, cfg.LayerNormEps, cpuBackend),
		})
	}

	slog.Info("initialized random encoder", "layers", cfg.NumHiddenLayers, "hidden_size", cfg.HiddenSize,
		"num_labels", cfg.ResolvedNumLabels())

	return model, nil
}

func (m *EncoderTokenClassifier) Config() *types.ModelConfig {
	return m.cfg
}

func (m *EncoderTokenClassifier) Forward(ctx context.Context, inputs *types.Inputs) (out *types.TokenClassifierOutput, err error) {
	defer recoverTensorPanic("encoder forward", &err)

	if err := validateInputs(inputs); err != nil {
		return nil, err
	}
	batch, seqLen, hidden := inputs.BatchSize(), inputs.SeqLen(), m.cfg.HiddenSize

	if seqLen+m.cfg.PadTokenID+1 > m.cfg.MaxPositionEmbeddings {
		return nil, fmt.Errorf("%w: sequence length %d exceeds the maximum of %d", ErrInvalidInputs, seqLen, m.cfg.MaxPositionEmbeddings-m.cfg.PadTokenID-1)
	}

	ids, err := flattenBatch(inputs.InputIDs, batch, seqLen, 0)
	if err != nil {
		return nil, fmt.Errorf("input_ids: %w", err)
	}
	mask, err := flattenBatch(inputs.AttentionMask, batch, seqLen, 1)
	if err != nil {
		return nil, fmt.Errorf("attention_mask: %w", err)
	}
	tokenTypes, err := flattenBatch(inputs.TokenTypeIDs, batch, seqLen, 0)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids: %w", err)
	}

	typeVocab := max(m.cfg.TypeVocabSize, 1)
	wordIDs := make([]int32, len(ids))
	positionIDs := make([]int32, len(ids))
	typeIDs := make([]int32, len(ids))
	for b := 0; b < batch; b++ {
		// positions count up from the padding index over non padding tokens
		position := m.cfg.PadTokenID
		for s := 0; s < seqLen; s++ {
			i := b*seqLen + s
			if ids[i] < 0 || ids[i] >= int64(m.cfg.VocabSize) {
				return nil, fmt.Errorf("%w: token id %d at [%d, %d] is outside the vocabulary", ErrInvalidInputs, ids[i], b, s)
			}
			if tokenTypes[i] < 0 || tokenTypes[i] >= int64(typeVocab) {
				return nil, fmt.Errorf("%w: token type id %d at [%d, %d] is outside [0, %d)", ErrInvalidInputs, tokenTypes[i], b, s, typeVocab)
			}
			wordIDs[i] = int32(ids[i])
			typeIDs[i] = int32(tokenTypes[i])
			if ids[i] == int64(m.cfg.PadTokenID) {
				positionIDs[i] = int32(m.cfg.PadTokenID)
			} else {
				position++
				positionIDs[i] = int32(position)
			}
		}
	}

	additiveMask := make([]float32, batch*seqLen*seqLen)
	for b := 0; b < batch; b++ {
		for q := 0; q < seqLen; q++ {
			for k := 0; k < seqLen; k++ {
				if mask[b*seqLen+k] == 0 {
					additiveMask[(b*seqLen+q)*seqLen+k] = maskedAttention
				}
			}
		}
	}

	shape := tensor.Shape{batch, seqLen}
	wordT, err := tensor.FromSlice(wordIDs, shape, cpuBackend)
	if err != nil {
		return nil, err
	}
	positionT, err := tensor.FromSlice(positionIDs, shape, cpuBackend)
	if err != nil {
		return nil, err
	}
	typeT, err := tensor.FromSlice(typeIDs, shape, cpuBackend)
	if err != nil {
		return nil, err
	}
	maskT, err := tensor.FromSlice(additiveMask, tensor.Shape{batch, 1, seqLen, seqLen}, cpuBackend)
	if err != nil {
		return nil, err
	}

	x := m.wordEmbeddings.Forward(wordT).
		Add(m.positionEmbeddings.Forward(positionT)).
		Add(m.tokenTypeEmbeddings.Forward(typeT))
	x = m.embeddingNorm.Forward(x)

	out = &types.TokenClassifierOutput{}
	if inputs.OutputHiddenStates {
		out.HiddenStates = append(out.HiddenStates, fromBorn(x))
	}

	for i, layer := range m.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attended, weights := layer.attention.ForwardWithWeights(x, x, x, maskT)
		x = layer.attentionNorm.Forward(attended.Add(x))

		ff := layer.intermediate.Forward(x.Reshape(batch*seqLen, hidden))
		ff = layer.output.Forward(m.activation(ff)).Reshape(batch, seqLen, hidden)
		x = layer.outputNorm.Forward(ff.Add(x))

		if inputs.OutputHiddenStates {
			out.HiddenStates = append(out.HiddenStates, fromBorn(x))
		}
		if inputs.OutputAttentions {
			out.Attentions = append(out.Attentions, fromBorn(weights))
		}
		slog.Debug("encoder layer done", "layer", i)
	}

	numLabels := m.cfg.ResolvedNumLabels()
	logits := m.classifier.Forward(x.Reshape(batch*seqLen, hidden)).Reshape(batch, seqLen, numLabels)
	out.Logits = fromBorn(logits)

	if inputs.Labels != nil {
		loss, err := TokenClassificationLoss(out.Logits, inputs.Labels)
		if err != nil {
			return nil, err
		}
		out.Loss = &loss
	}

	return out, nil
}

// elementwise applies fn to every value of a tensor. The plain CPU backend
// has no tanh or relu kernels, so activations run on the raw data.
func elementwise(fn func(float32) float32) func(*cpuTensor) *cpuTensor {
	return func(x *cpuTensor) *cpuTensor {
		data := x.Data()
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = fn(v)
		}
		t, err := tensor.FromSlice(out, x.Shape(), cpuBackend)
		if err != nil {
			panic(err)
		}
		return t
	}
}

var geluScale = math.Sqrt(2 / math.Pi)

// gelu is the tanh approximation used by Roberta.
func gelu(x float32) float32 {
	v := float64(x)
	return float32(0.5 * v * (1 + math.Tanh(geluScale*(v+0.044715*v*v*v))))
}

func relu(x float32) float32 {
	return max(x, 0)
}

// Release is a no-op; the encoder holds only Go memory.
func (m *EncoderTokenClassifier) Release() {}
