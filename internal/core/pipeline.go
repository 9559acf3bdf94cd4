package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"veco-ner/internal/core/types"
	"veco-ner/internal/core/utils"
	"veco-ner/internal/metrics"
)

var ErrNoTokenizer = errors.New("model has no tokenizer")

type AggregationStrategy string

const (
	// AggregateNone reports one entity per tagged word, labels unchanged.
	AggregateNone AggregationStrategy = "none"
	// AggregateSimple merges adjacent words of the same entity type and
	// strips BIO/BIOES prefixes from the labels.
	AggregateSimple AggregationStrategy = "simple"
)

func ParseAggregationStrategy(s string) (AggregationStrategy, error) {
	switch strategy := AggregationStrategy(strings.ToLower(s)); strategy {
	case AggregateNone, AggregateSimple:
		return strategy, nil
	case "":
		return AggregateSimple, nil
	default:
		return "", fmt.Errorf("invalid aggregation strategy %q", s)
	}
}

type PipelineOptions struct {
	Aggregation  AggregationStrategy
	IgnoreLabels []string
	// ChunkWords bounds the number of words sent to the model at once.
	ChunkWords int
	Workers    int
	Metrics    *metrics.Metrics
}

func (o PipelineOptions) withDefaults() PipelineOptions {
	if o.Aggregation == "" {
		o.Aggregation = AggregateSimple
	}
	if o.IgnoreLabels == nil {
		o.IgnoreLabels = []string{"O"}
	}
	if o.ChunkWords <= 0 {
		o.ChunkWords = utils.DefaultChunkWords
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// TokenClassificationPipeline turns raw text into entities with a token
// classification model and its tokenizer.
type TokenClassificationPipeline struct {
	name      string
	model     Model
	tokenizer Tokenizer
	opts      PipelineOptions
	ignore    map[string]bool

	// shared with views from WithAggregation
	state *pipelineState
}

// pipelineState holds readers for every call in flight; Release takes the
// write lock so it waits for them to finish.
type pipelineState struct {
	mu       sync.RWMutex
	released bool
}

// NewTokenClassificationPipeline takes ownership of model and tokenizer; both
// are released by Release. The tokenizer may be nil, in which case only
// Forward is usable.
func NewTokenClassificationPipeline(name string, model Model, tokenizer Tokenizer, opts PipelineOptions) *TokenClassificationPipeline {
	opts = opts.withDefaults()
	ignore := make(map[string]bool, len(opts.IgnoreLabels))
	for _, label := range opts.IgnoreLabels {
		ignore[label] = true
	}
	return &TokenClassificationPipeline{
		name:      name,
		model:     model,
		tokenizer: tokenizer,
		opts:      opts,
		ignore:    ignore,
		state:     &pipelineState{},
	}
}

func (p *TokenClassificationPipeline) acquire() (func(), error) {
	p.state.mu.RLock()
	if p.state.released {
		p.state.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrModelNotLoaded, p.name)
	}
	return p.state.mu.RUnlock, nil
}

func (p *TokenClassificationPipeline) Name() string {
	return p.name
}

func (p *TokenClassificationPipeline) Model() Model {
	return p.model
}

// WithAggregation returns a view of the pipeline that aggregates entities
// with strategy. The view shares the model; release only the original.
func (p *TokenClassificationPipeline) WithAggregation(strategy AggregationStrategy) *TokenClassificationPipeline {
	view := *p
	view.opts.Aggregation = strategy
	return &view
}

func (p *TokenClassificationPipeline) Forward(ctx context.Context, inputs *types.Inputs) (*types.AttentionTokenClassificationOutput, error) {
	release, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	return p.forward(ctx, inputs)
}

func (p *TokenClassificationPipeline) forward(ctx context.Context, inputs *types.Inputs) (*types.AttentionTokenClassificationOutput, error) {
	start := time.Now()
	out, err := p.model.Forward(ctx, inputs)
	p.opts.Metrics.ObserveForward(p.name, time.Since(start), err)
	return out, err
}

type word struct {
	start, end int
	labelID    int
	score      float32
}

func (p *TokenClassificationPipeline) Predict(ctx context.Context, text string) ([]types.Entity, error) {
	if p.tokenizer == nil {
		return nil, ErrNoTokenizer
	}

	release, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	chunks, offsets := utils.ChunkText(text, p.opts.ChunkWords)
	if len(chunks) == 0 {
		return []types.Entity{}, nil
	}

	cfg := p.model.Config()
	maxLen := cfg.MaxPositionEmbeddings - cfg.PadTokenID - 1

	encodings := make([]Encoding, len(chunks))
	seqLen := 0
	for i, chunk := range chunks {
		enc := p.tokenizer.Encode(chunk)
		if maxLen > 0 && enc.Len() > maxLen {
			slog.Warn("truncating chunk", "model", p.name, "tokens", enc.Len(), "max", maxLen)
			enc = enc.Truncate(maxLen)
		}
		encodings[i] = enc
		seqLen = max(seqLen, enc.Len())
	}

	inputs := &types.Inputs{
		InputIDs:      make([][]int64, len(encodings)),
		AttentionMask: make([][]int64, len(encodings)),
		TokenTypeIDs:  make([][]int64, len(encodings)),
	}
	for i, enc := range encodings {
		ids := make([]int64, seqLen)
		mask := make([]int64, seqLen)
		typeIDs := make([]int64, seqLen)
		for j := range ids {
			ids[j] = int64(cfg.PadTokenID)
		}
		copy(ids, enc.IDs)
		copy(mask, enc.AttentionMask)
		copy(typeIDs, enc.TypeIDs)
		inputs.InputIDs[i], inputs.AttentionMask[i], inputs.TokenTypeIDs[i] = ids, mask, typeIDs
	}

	out, err := p.forward(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("error running model: %w", err)
	}

	labelIDs, scores, err := Predictions(out.Logits)
	if err != nil {
		return nil, err
	}

	entities := make([]types.Entity, 0)
	for i, enc := range encodings {
		words := groupWords(chunks[i], enc, labelIDs[i], scores[i])
		for _, span := range p.aggregate(cfg, words) {
			entities = append(entities, types.CreateEntity(
				span.label, text, offsets[i]+span.start, offsets[i]+span.end, span.score,
			))
		}
	}

	p.opts.Metrics.ObserveEntities(p.name, entities)

	return entities, nil
}

// PredictBatch runs Predict over texts on the pipeline's worker pool. The
// result is in the order of texts.
func (p *TokenClassificationPipeline) PredictBatch(ctx context.Context, texts []string) ([][]types.Entity, error) {
	results := utils.RunInPool(ctx, texts, p.opts.Workers, p.Predict)

	entities := make([][]types.Entity, len(results))
	for i, res := range results {
		if res.Error != nil {
			return nil, fmt.Errorf("error predicting text %d: %w", i, res.Error)
		}
		entities[i] = res.Result
	}
	return entities, nil
}

// Release waits for calls in flight, then frees the model and tokenizer.
// Later calls fail with ErrModelNotLoaded.
func (p *TokenClassificationPipeline) Release() {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.released {
		return
	}
	p.state.released = true

	p.model.Release()
	if p.tokenizer != nil {
		if err := p.tokenizer.Close(); err != nil {
			slog.Warn("error closing tokenizer", "model", p.name, "error", err)
		}
	}
}

// groupWords joins the subword tokens of each word; a word takes the label
// of its first token.
func groupWords(text string, enc Encoding, labelIDs []int, scores []float32) []word {
	var words []word
	lastEnd := -1
	for t := 0; t < enc.Len(); t++ {
		start, end := enc.Offsets[t][0], enc.Offsets[t][1]
		if enc.Special[t] || start >= end || end > len(text) || strings.TrimSpace(text[start:end]) == "" {
			continue
		}
		newWord := len(words) == 0 || start > lastEnd || unicode.IsSpace(rune(text[start]))
		if newWord {
			words = append(words, word{start: start, end: end, labelID: labelIDs[t], score: scores[t]})
		} else {
			words[len(words)-1].end = end
		}
		lastEnd = end
	}
	return words
}

type entitySpan struct {
	label      string
	start, end int
	score      float32
	words      int
}

func (p *TokenClassificationPipeline) aggregate(cfg *types.ModelConfig, words []word) []entitySpan {
	var spans []entitySpan

	if p.opts.Aggregation == AggregateNone {
		for _, w := range words {
			label := cfg.LabelFor(w.labelID)
			if p.ignore[label] {
				continue
			}
			spans = append(spans, entitySpan{label: label, start: w.start, end: w.end, score: w.score, words: 1})
		}
		return spans
	}

	var current *entitySpan
	flush := func() {
		if current != nil {
			current.score /= float32(current.words)
			spans = append(spans, *current)
			current = nil
		}
	}

	for _, w := range words {
		label := cfg.LabelFor(w.labelID)
		prefix, entityType := splitTag(label)
		if p.ignore[label] || p.ignore[entityType] {
			flush()
			continue
		}

		continues := current != nil && current.label == entityType && prefix != "B" && prefix != "S"
		if continues {
			current.end = w.end
			current.score += w.score
			current.words++
		} else {
			flush()
			current = &entitySpan{label: entityType, start: w.start, end: w.end, score: w.score, words: 1}
		}

		if prefix == "E" || prefix == "S" {
			flush()
		}
	}
	flush()

	return spans
}

// splitTag separates a BIO/BIOES prefix from the entity type.
func splitTag(label string) (prefix, entityType string) {
	if len(label) > 2 && label[1] == '-' && strings.ContainsRune("BIES", rune(label[0])) {
		return label[:1], label[2:]
	}
	return "", label
}
