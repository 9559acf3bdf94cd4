package core

import (
	"errors"
	"fmt"
	"math"

	"veco-ner/internal/core/types"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

type cpuTensor = tensor.Tensor[float32, *cpu.Backend]

var cpuBackend = cpu.New()

// recoverTensorPanic turns a panic raised by a tensor op into an error.
func recoverTensorPanic(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s: %v", op, r)
	}
}

func fromBorn(t *cpuTensor) *types.Tensor {
	shape := t.Shape()
	out := &types.Tensor{
		Shape: make([]int64, len(shape)),
		Data:  append([]float32(nil), t.Data()...),
	}
	for i, d := range shape {
		out.Shape[i] = int64(d)
	}
	return out
}

// TokenClassificationLoss is the mean cross entropy over every token whose
// label is not types.IgnoreIndex. A batch with no such token yields NaN.
func TokenClassificationLoss(logits *types.Tensor, targets [][]int64) (loss float32, err error) {
	defer recoverTensorPanic("token classification loss", &err)

	if len(logits.Shape) != 3 {
		return 0, fmt.Errorf("expected logits of shape [batch, seq, labels], got %v", logits.Shape)
	}
	batch, seqLen, numLabels := int(logits.Shape[0]), int(logits.Shape[1]), int(logits.Shape[2])
	if len(targets) != batch {
		return 0, fmt.Errorf("%w: labels have %d rows, expected %d", ErrInvalidInputs, len(targets), batch)
	}

	rows := make([]float32, 0, batch*seqLen*numLabels)
	ids := make([]int32, 0, batch*seqLen)
	for b, row := range targets {
		if len(row) != seqLen {
			return 0, fmt.Errorf("%w: labels row %d has length %d, expected %d", ErrInvalidInputs, b, len(row), seqLen)
		}
		for s, label := range row {
			if label == types.IgnoreIndex {
				continue
			}
			if label < 0 || label >= int64(numLabels) {
				return 0, fmt.Errorf("%w: label %d at [%d, %d] is outside [0, %d)", ErrInvalidInputs, label, b, s, numLabels)
			}
			rows = append(rows, logits.Row(b, s)...)
			ids = append(ids, int32(label))
		}
	}

	if len(ids) == 0 {
		return float32(math.NaN()), nil
	}

	logitsT, err := tensor.FromSlice(rows, tensor.Shape{len(ids), numLabels}, cpuBackend)
	if err != nil {
		return 0, err
	}
	targetsT, err := tensor.FromSlice(ids, tensor.Shape{len(ids)}, cpuBackend)
	if err != nil {
		return 0, err
	}

	return nn.NewCrossEntropyLoss(cpuBackend).Forward(logitsT, targetsT).Data()[0], nil
}

// Predictions returns, for every position of a [batch, seq, labels] logits
// tensor, the arg max label id and its softmax probability.
func Predictions(logits *types.Tensor) (ids [][]int, scores [][]float32, err error) {
	if len(logits.Shape) != 3 || logits.Shape[2] == 0 {
		return nil, nil, fmt.Errorf("expected logits of shape [batch, seq, labels], got %v", logits.Shape)
	}
	batch, seqLen := int(logits.Shape[0]), int(logits.Shape[1])
	if int64(len(logits.Data)) != logits.Shape[0]*logits.Shape[1]*logits.Shape[2] {
		return nil, nil, fmt.Errorf("logits data has %d values for shape %v", len(logits.Data), logits.Shape)
	}

	ids = make([][]int, batch)
	scores = make([][]float32, batch)
	for b := 0; b < batch; b++ {
		ids[b] = make([]int, seqLen)
		scores[b] = make([]float32, seqLen)
		for s := 0; s < seqLen; s++ {
			ids[b][s], scores[b][s] = argmaxSoftmax(logits.Row(b, s))
		}
	}
	return ids, scores, nil
}

// argmaxSoftmax returns the index of the largest logit and its probability.
func argmaxSoftmax(row []float32) (int, float32) {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	sum := 0.0
	for _, v := range row {
		sum += math.Exp(float64(v - row[best]))
	}
	return best, float32(1 / sum)
}

// flattenBatch lays out a [batch][seqLen] matrix row-major. A nil matrix is
// filled with fill.
func flattenBatch(rows [][]int64, batch, seqLen int, fill int64) ([]int64, error) {
	flat := make([]int64, batch*seqLen)
	if rows == nil {
		for i := range flat {
			flat[i] = fill
		}
		return flat, nil
	}
	if len(rows) != batch {
		return nil, fmt.Errorf("%w: expected %d rows, got %d", ErrInvalidInputs, batch, len(rows))
	}
	for i, row := range rows {
		if len(row) != seqLen {
			return nil, fmt.Errorf("%w: row %d has length %d, expected %d", ErrInvalidInputs, i, len(row), seqLen)
		}
		copy(flat[i*seqLen:], row)
	}
	return flat, nil
}

// ErrInvalidInputs is returned by Forward for batches the model cannot run.
var ErrInvalidInputs = errors.New("invalid inputs")

func validateInputs(inputs *types.Inputs) error {
	if inputs == nil || inputs.BatchSize() == 0 || inputs.SeqLen() == 0 {
		return fmt.Errorf("%w: empty input batch", ErrInvalidInputs)
	}
	return nil
}
