package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// VectorIndex answers similarity queries for one source collection. Matches come
// back sorted by similarity descending.
type VectorIndex interface {
	Query(ctx context.Context, q VectorQuery) ([]VectorMatch, error)
}

// QueryEmbedder embeds a search query. EmbeddingService implements it.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) llm.Result[llm.EmbeddingVector]
}

// SearchInput carries one semantic search. Limit 0 means 10 and is capped at 50;
// no Sources means every known source.
type SearchInput struct {
	Query       string       `json:"query" validate:"required"`
	WorkspaceID string       `json:"workspace_id"`
	Limit       int          `json:"limit" validate:"gte=0"`
	Threshold   float64      `json:"threshold" validate:"gte=0,lte=1"`
	Sources     []SourceType `json:"sources"`
	Filter      *Filter      `json:"filter,omitempty"`
}

// SemanticSearchService embeds a query and searches every requested source
// collection concurrently.
type SemanticSearchService struct {
	embedder QueryEmbedder
	index    VectorIndex
	log      zerolog.Logger
}

// NewSemanticSearchService creates a SemanticSearchService.
func NewSemanticSearchService(embedder QueryEmbedder, index VectorIndex, log zerolog.Logger) *SemanticSearchService {
	return &SemanticSearchService{
		embedder: embedder,
		index:    index,
		log:      log.With().Str("component", "knowledge.search").Logger(),
	}
}

// Search returns the merged candidates of every source, sorted by similarity
// descending and truncated to the limit. A failing source is reported in
// Meta.Errors; the search fails only when the query cannot be embedded or every
// source fails.
func (s *SemanticSearchService) Search(ctx context.Context, in SearchInput) llm.Result[[]SemanticCandidate] {
	start := time.Now()
	if in.Query == "" {
		return llm.Fail[[]SemanticCandidate](llm.NewError(llm.CodeInvalidRequest, "query is required", nil), llm.Meta{}.Since(start))
	}
	limit := resolveLimit(in.Limit)
	sources := in.Sources
	if len(sources) == 0 {
		sources = AllSources()
	}

	qv := s.embedder.Embed(ctx, in.Query)
	if !qv.Success {
		meta := qv.Meta
		return llm.Fail[[]SemanticCandidate](qv.Error, meta.Since(start))
	}

	type branch struct {
		matches []VectorMatch
		err     error
	}
	results := make([]branch, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := s.index.Query(ctx, VectorQuery{
				Vector:      qv.Data.Values,
				Threshold:   in.Threshold,
				Count:       limit,
				Source:      src,
				WorkspaceID: in.WorkspaceID,
				Filter:      in.Filter,
			})
			results[i] = branch{matches: m, err: err}
		}()
	}
	wg.Wait()

	var (
		merged   []SemanticCandidate
		failures []llm.CompletionError
	)
	for i, r := range results {
		if r.err != nil {
			s.log.Warn().Err(r.err).Str("source", string(sources[i])).Msg("source search failed")
			failures = append(failures, *llm.NewError(llm.CodeSearch, r.err.Error(), map[string]any{
				"source": string(sources[i]),
			}))
			continue
		}
		for _, m := range r.matches {
			merged = append(merged, m.candidate())
		}
	}

	meta := llm.Meta{Provider: qv.Meta.Provider, Errors: failures}
	if len(failures) == len(sources) {
		return llm.Fail[[]SemanticCandidate](
			llm.NewError(llm.CodeSearch, fmt.Sprintf("all %d sources failed", len(sources)), map[string]any{
				"errors": failures,
			}),
			meta.Since(start),
		)
	}

	sortBySimilarity(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []SemanticCandidate{}
	}
	return llm.Succeed(merged, meta.Since(start))
}

// sortBySimilarity orders candidates by similarity descending, keeping the input
// order of ties.
func sortBySimilarity(c []SemanticCandidate) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].SimilarityScore > c[j].SimilarityScore })
}

// resolveLimit applies the default and the cap.
func resolveLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	return min(limit, maxSearchLimit)
}
