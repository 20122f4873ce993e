package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// DefaultDimensions is the vector size of nomic-embed-text.
const DefaultDimensions = 768

// VectorCache stores embeddings by model and text. Implementations are best effort:
// a miss or a failed write never fails an embedding.
type VectorCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool)
	Set(ctx context.Context, model, text string, vector []float32)
}

// ItemRecorder counts embedded items. telemetry.Metrics implements it.
type ItemRecorder interface {
	RecordEmbedding(ctx context.Context, ok bool)
}

// EmbeddingOption configures an EmbeddingService.
type EmbeddingOption func(*EmbeddingService)

// WithVectorCache enables the embedding cache.
func WithVectorCache(c VectorCache) EmbeddingOption {
	return func(s *EmbeddingService) { s.cache = c }
}

// WithEmbeddingLogger sets the logger.
func WithEmbeddingLogger(l zerolog.Logger) EmbeddingOption {
	return func(s *EmbeddingService) { s.log = l.With().Str("component", "knowledge.embedder").Logger() }
}

// WithItemRecorder sets the per-item metrics recorder.
func WithItemRecorder(r ItemRecorder) EmbeddingOption {
	return func(s *EmbeddingService) { s.recorder = r }
}

// EmbeddingService turns text into fixed-dimension vectors through one Embedder.
// Batches fan out on a shared ants pool.
type EmbeddingService struct {
	embedder llm.Embedder
	pool     *ants.Pool
	dims     int
	cache    VectorCache
	recorder ItemRecorder
	log      zerolog.Logger
}

// NewEmbeddingService creates an EmbeddingService. pool bounds batch concurrency and
// is owned by the caller.
func NewEmbeddingService(embedder llm.Embedder, pool *ants.Pool, dims int, opts ...EmbeddingOption) *EmbeddingService {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	s := &EmbeddingService{embedder: embedder, pool: pool, dims: dims, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dimensions returns the vector size every embedding must have.
func (s *EmbeddingService) Dimensions() int { return s.dims }

// Model returns the embedding model name.
func (s *EmbeddingService) Model() string { return s.embedder.EmbeddingModel() }

// Embed embeds one text. Empty text is INVALID_REQUEST; a provider failure or a
// vector of the wrong dimension is EMBEDDING_ERROR.
func (s *EmbeddingService) Embed(ctx context.Context, text string) llm.Result[llm.EmbeddingVector] {
	start := time.Now()
	meta := llm.Meta{Provider: s.embedder.Name()}

	vec, cerr := s.embedOne(ctx, text)
	if s.recorder != nil {
		s.recorder.RecordEmbedding(ctx, cerr == nil)
	}
	if cerr != nil {
		return llm.Fail[llm.EmbeddingVector](cerr, meta.Since(start))
	}
	return llm.Succeed(vec, meta.Since(start))
}

func (s *EmbeddingService) embedOne(ctx context.Context, text string) (llm.EmbeddingVector, *llm.CompletionError) {
	if strings.TrimSpace(text) == "" {
		return llm.EmbeddingVector{}, llm.NewError(llm.CodeEmbedding, "text to embed is empty", map[string]any{
			"provider": s.embedder.Name(),
		})
	}
	model := s.embedder.EmbeddingModel()

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, model, text); ok && len(cached) == s.dims {
			v, _ := llm.NewEmbeddingVector(cached, model, s.dims)
			return v, nil
		}
	}

	values, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return llm.EmbeddingVector{}, llm.NewError(llm.CodeEmbedding, err.Error(), map[string]any{
			"provider": s.embedder.Name(),
		})
	}
	v, err := llm.NewEmbeddingVector(values, model, s.dims)
	if err != nil {
		return llm.EmbeddingVector{}, llm.NewError(llm.CodeEmbedding, err.Error(), map[string]any{
			"provider": s.embedder.Name(),
			"expected": s.dims,
			"actual":   len(values),
		})
	}

	if s.cache != nil {
		s.cache.Set(ctx, model, text, v.Values)
	}
	return v, nil
}

// EmbedBatch embeds every text independently and concurrently and waits for all of
// them. It succeeds when at least one item succeeded: Data holds the successful
// vectors in input order and Meta.Errors one EMBEDDING_ERROR per failed item, with
// details.index set. When every item fails the result is BATCH_EMBEDDING_ERROR.
// An empty batch succeeds with no vectors.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) llm.Result[[]llm.EmbeddingVector] {
	start := time.Now()
	meta := llm.Meta{Provider: s.embedder.Name()}
	if len(texts) == 0 {
		return llm.Succeed([]llm.EmbeddingVector{}, meta.Since(start))
	}

	outcomes := s.runBatch(ctx, texts)

	vectors := make([]llm.EmbeddingVector, 0, len(texts))
	var failures []llm.CompletionError
	for i, o := range outcomes {
		if o.err != nil {
			failures = append(failures, *o.err.WithDetail("index", i))
			continue
		}
		vectors = append(vectors, o.vec)
	}

	if len(vectors) == 0 {
		s.log.Error().Int("items", len(texts)).Msg("batch embedding failed for every item")
		return llm.Fail[[]llm.EmbeddingVector](
			llm.NewError(llm.CodeBatchEmbedding, fmt.Sprintf("all %d items failed", len(texts)), map[string]any{
				"errors": failures,
			}),
			meta.Since(start),
		)
	}
	if len(failures) > 0 {
		s.log.Warn().Int("items", len(texts)).Int("failed", len(failures)).Msg("batch embedding partially failed")
	}
	meta.Errors = failures
	return llm.Succeed(vectors, meta.Since(start))
}

// BatchItem is the per-item outcome of EmbedBatchItems.
type BatchItem struct {
	Vector llm.EmbeddingVector
	Err    *llm.CompletionError
}

// EmbedBatchItems is EmbedBatch keeping one outcome per input position, for callers
// that must pair vectors with their inputs.
func (s *EmbeddingService) EmbedBatchItems(ctx context.Context, texts []string) []BatchItem {
	outcomes := s.runBatch(ctx, texts)
	items := make([]BatchItem, len(outcomes))
	for i, o := range outcomes {
		items[i] = BatchItem{Vector: o.vec, Err: o.err}
	}
	return items
}

type batchOutcome struct {
	vec llm.EmbeddingVector
	err *llm.CompletionError
}

// runBatch fans texts out on the pool. Each branch writes only its own slot.
func (s *EmbeddingService) runBatch(ctx context.Context, texts []string) []batchOutcome {
	outcomes := make([]batchOutcome, len(texts))
	var wg sync.WaitGroup

	for i, text := range texts {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			vec, err := s.embedOne(ctx, text)
			if s.recorder != nil {
				s.recorder.RecordEmbedding(ctx, err == nil)
			}
			outcomes[i] = batchOutcome{vec: vec, err: err}
		}
		if err := s.pool.Submit(task); err != nil {
			outcomes[i] = batchOutcome{err: llm.NewError(llm.CodeEmbedding, "submit to pool: "+err.Error(), nil)}
			wg.Done()
		}
	}
	wg.Wait()
	return outcomes
}
