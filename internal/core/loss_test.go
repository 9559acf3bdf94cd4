package core_test

import (
	"math"
	"testing"

	"veco-ner/internal/core"
	"veco-ner/internal/core/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenClassificationLoss(t *testing.T) {
	// uniform logits give ln(3) whatever the target
	logits, err := types.NewTensor(make([]float32, 1*4*3), 1, 4, 3)
	require.NoError(t, err)

	loss, err := core.TokenClassificationLoss(logits, [][]int64{{0, 2, types.IgnoreIndex, 1}})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(3), loss, 1e-5)

	loss, err = core.TokenClassificationLoss(logits, [][]int64{{types.IgnoreIndex, types.IgnoreIndex, types.IgnoreIndex, types.IgnoreIndex}})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(loss)))

	_, err = core.TokenClassificationLoss(logits, [][]int64{{0, 3, 0, 0}})
	assert.Error(t, err)

	_, err = core.TokenClassificationLoss(logits, [][]int64{{0, 1}})
	assert.Error(t, err)
}

func TestTokenClassificationLossIgnoresPositions(t *testing.T) {
	// the second position is confidently wrong but ignored
	logits, err := types.NewTensor([]float32{
		10, 0,
		0, 10,
	}, 1, 2, 2)
	require.NoError(t, err)

	loss, err := core.TokenClassificationLoss(logits, [][]int64{{0, types.IgnoreIndex}})
	require.NoError(t, err)
	assert.Less(t, loss, float32(1e-3))

	loss, err = core.TokenClassificationLoss(logits, [][]int64{{0, 0}})
	require.NoError(t, err)
	assert.Greater(t, loss, float32(4))
}

func TestPredictions(t *testing.T) {
	logits, err := types.NewTensor([]float32{
		0, 0, 5,
		1, 0, 0,
	}, 1, 2, 3)
	require.NoError(t, err)

	ids, scores, err := core.Predictions(logits)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{2, 0}}, ids)

	e5 := math.Exp(5)
	assert.InDelta(t, e5/(e5+2), scores[0][0], 1e-5)
	assert.InDelta(t, math.E/(math.E+2), scores[0][1], 1e-5)

	_, _, err = core.Predictions(&types.Tensor{Shape: []int64{3}, Data: []float32{1, 2, 3}})
	assert.Error(t, err)
}

func TestPredictionsBatch(t *testing.T) {
	logits, err := types.NewTensor([]float32{
		0, 0, 9,
		9, 0, 0,

		0, 9, 0,
		1, 2, 9,
	}, 2, 2, 3)
	require.NoError(t, err)

	ids, scores, err := core.Predictions(logits)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{2, 0}, {1, 2}}, ids)

	for b := range scores {
		for s := range scores[b] {
			assert.Greater(t, scores[b][s], float32(0.99), "position [%d, %d]", b, s)
		}
	}
}
