package core_test

import (
	"context"
	"testing"
	"time"

	"veco-ner/internal/core"
	"veco-ner/internal/core/types"
	"veco-ner/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleText = "John Smithson lives in Berlin"

func sampleTokenizer() *fakeTokenizer {
	return &fakeTokenizer{wordLabels: map[string]int{
		"John":     1, // B-PER
		"Smithson": 2, // I-PER
		"Berlin":   3, // B-LOC
		"Paris":    3, // B-LOC
	}}
}

func entitySpans(entities []types.Entity) [][3]any {
	spans := make([][3]any, len(entities))
	for i, e := range entities {
		spans[i] = [3]any{e.Label, e.Text, e.Start}
	}
	return spans
}

func TestPredictSimpleAggregation(t *testing.T) {
	model, _ := newFakeModel(nerConfig())
	pipeline := core.NewTokenClassificationPipeline("ner", model, sampleTokenizer(), core.PipelineOptions{})

	entities, err := pipeline.Predict(context.Background(), sampleText)
	require.NoError(t, err)

	assert.Equal(t, [][3]any{
		{"PER", "John Smithson", 0},
		{"LOC", "Berlin", 23},
	}, entitySpans(entities))

	assert.Equal(t, 13, entities[0].End)
	assert.Equal(t, " lives in Berlin", entities[0].RContext)
	assert.Equal(t, "n Smithson lives in ", entities[1].LContext)
	for _, e := range entities {
		assert.InDelta(t, 1, e.Score, 1e-3)
	}
}

func TestPredictNoAggregation(t *testing.T) {
	model, _ := newFakeModel(nerConfig())
	pipeline := core.NewTokenClassificationPipeline("ner", model, sampleTokenizer(), core.PipelineOptions{
		Aggregation: core.AggregateNone,
	})

	entities, err := pipeline.Predict(context.Background(), sampleText)
	require.NoError(t, err)

	assert.Equal(t, [][3]any{
		{"B-PER", "John", 0},
		{"I-PER", "Smithson", 5},
		{"B-LOC", "Berlin", 23},
	}, entitySpans(entities))
}

func TestPipelineWithAggregation(t *testing.T) {
	model, classifier := newFakeModel(nerConfig())
	pipeline := core.NewTokenClassificationPipeline("ner", model, sampleTokenizer(), core.PipelineOptions{})

	entities, err := pipeline.WithAggregation(core.AggregateNone).Predict(context.Background(), sampleText)
	require.NoError(t, err)
	assert.Len(t, entities, 3)

	entities, err = pipeline.Predict(context.Background(), sampleText)
	require.NoError(t, err)
	assert.Len(t, entities, 2)
	assert.Equal(t, 0, classifier.released)
}

func TestPredictBeginStartsNewEntity(t *testing.T) {
	model, _ := newFakeModel(nerConfig())
	pipeline := core.NewTokenClassificationPipeline("ner", model, sampleTokenizer(), core.PipelineOptions{})

	entities, err := pipeline.Predict(context.Background(), "Paris Berlin")
	require.NoError(t, err)

	assert.Equal(t, [][3]any{
		{"LOC", "Paris", 0},
		{"LOC", "Berlin", 6},
	}, entitySpans(entities))
}

func TestPredictIgnoreLabels(t *testing.T) {
	model, _ := newFakeModel(nerConfig())
	pipeline := core.NewTokenClassificationPipeline("ner", model, sampleTokenizer(), core.PipelineOptions{
		IgnoreLabels: []string{"O", "PER"},
	})

	entities, err := pipeline.Predict(context.Background(), sampleText)
	require.NoError(t, err)
	assert.Equal(t, [][3]any{{"LOC", "Berlin", 23}}, entitySpans(entities))
}

func TestPredictChunksLongText(t *testing.T) {
	model, classifier := newFakeModel(nerConfig())
	pipeline := core.NewTokenClassificationPipeline("ner", model, sampleTokenizer(), core.PipelineOptions{
		Aggregation: core.AggregateNone,
		ChunkWords:  2,
	})

	entities, err := pipeline.Predict(context.Background(), sampleText)
	require.NoError(t, err)

	assert.Equal(t, [][3]any{
		{"B-PER", "John", 0},
		{"I-PER", "Smithson", 5},
		{"B-LOC", "Berlin", 23},
	}, entitySpans(entities))

	// three chunks in one padded batch
	require.Len(t, classifier.inputs, 1)
	batch := classifier.inputs[0]
	assert.Equal(t, 3, batch.BatchSize())
	assert.Equal(t, []int64{0, 10 + 3, 10 + 3, 2, 1}, batch.InputIDs[2])
	assert.Equal(t, []int64{1, 1, 1, 1, 0}, batch.AttentionMask[2])
}

func TestPredictEmptyText(t *testing.T) {
	model, classifier := newFakeModel(nerConfig())
	pipeline := core.NewTokenClassificationPipeline("ner", model, sampleTokenizer(), core.PipelineOptions{})

	entities, err := pipeline.Predict(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.Empty(t, classifier.inputs)
}

func TestPredictBatch(t *testing.T) {
	m := metrics.New()
	model, _ := newFakeModel(nerConfig())
	pipeline := core.NewTokenClassificationPipeline("ner", model, sampleTokenizer(), core.PipelineOptions{
		Workers: 3,
		Metrics: m,
	})

	texts := []string{sampleText, "nothing here", "Paris", "John"}
	results, err := pipeline.PredictBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, results, len(texts))

	assert.Len(t, results[0], 2)
	assert.Empty(t, results[1])
	assert.Equal(t, [][3]any{{"LOC", "Paris", 0}}, entitySpans(results[2]))
	assert.Equal(t, [][3]any{{"PER", "John", 0}}, entitySpans(results[3]))

	assert.Equal(t, 4.0, testutil.ToFloat64(m.ForwardTotal.WithLabelValues("ner", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EntitiesTotal.WithLabelValues("ner", "PER")))
}

func TestPredictWithoutTokenizer(t *testing.T) {
	model, classifier := newFakeModel(nerConfig())
	tokenizer := sampleTokenizer()
	pipeline := core.NewTokenClassificationPipeline("ner", model, nil, core.PipelineOptions{})

	_, err := pipeline.Predict(context.Background(), sampleText)
	assert.ErrorIs(t, err, core.ErrNoTokenizer)

	_, err = pipeline.PredictBatch(context.Background(), []string{sampleText})
	assert.ErrorIs(t, err, core.ErrNoTokenizer)

	pipeline.Release()
	assert.Equal(t, 1, classifier.released)
	assert.False(t, tokenizer.closed)
}

func TestPipelineRelease(t *testing.T) {
	model, classifier := newFakeModel(nerConfig())
	tokenizer := sampleTokenizer()
	pipeline := core.NewTokenClassificationPipeline("ner", model, tokenizer, core.PipelineOptions{})

	pipeline.Release()
	assert.Equal(t, 1, classifier.released)
	assert.True(t, tokenizer.closed)
}

type blockingClassifier struct {
	*fakeClassifier
	entered chan struct{}
	proceed chan struct{}
}

func (c *blockingClassifier) Forward(ctx context.Context, inputs *types.Inputs) (*types.TokenClassifierOutput, error) {
	c.entered <- struct{}{}
	<-c.proceed
	return c.fakeClassifier.Forward(ctx, inputs)
}

func TestPipelineReleaseWaitsForInFlightCalls(t *testing.T) {
	classifier := &blockingClassifier{
		fakeClassifier: &fakeClassifier{cfg: nerConfig()},
		entered:        make(chan struct{}),
		proceed:        make(chan struct{}),
	}
	model, err := core.NewVecoForTokenClassification(nerConfig(), core.WithClassifier(func(*types.ModelConfig) (core.TokenClassifier, error) {
		return classifier, nil
	}))
	require.NoError(t, err)
	pipeline := core.NewTokenClassificationPipeline("ner", model, sampleTokenizer(), core.PipelineOptions{})

	predicted := make(chan error, 1)
	go func() {
		_, err := pipeline.Predict(context.Background(), sampleText)
		predicted <- err
	}()
	<-classifier.entered

	released := make(chan struct{})
	go func() {
		pipeline.Release()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("model released while a prediction was running")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, classifier.released)

	close(classifier.proceed)
	require.NoError(t, <-predicted)
	<-released
	assert.Equal(t, 1, classifier.released)

	_, err = pipeline.Forward(context.Background(), &types.Inputs{InputIDs: [][]int64{{0, 2}}})
	assert.ErrorIs(t, err, core.ErrModelNotLoaded)
	_, err = pipeline.WithAggregation(core.AggregateNone).Predict(context.Background(), sampleText)
	assert.ErrorIs(t, err, core.ErrModelNotLoaded)

	pipeline.Release()
	assert.Equal(t, 1, classifier.released)
}

func TestParseAggregationStrategy(t *testing.T) {
	strategy, err := core.ParseAggregationStrategy("NONE")
	require.NoError(t, err)
	assert.Equal(t, core.AggregateNone, strategy)

	strategy, err = core.ParseAggregationStrategy("")
	require.NoError(t, err)
	assert.Equal(t, core.AggregateSimple, strategy)

	_, err = core.ParseAggregationStrategy("max")
	assert.Error(t, err)
}
