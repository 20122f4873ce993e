package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// DefaultTopK is the rerank output size when RerankOptions.TopK is 0.
const DefaultTopK = 5

const rerankSystemPrompt = `You rank search results for a building-materials sales assistant.
Score how well each numbered passage answers the query, from 0 (irrelevant) to 1 (answers it fully).
Respond with one JSON object mapping every passage number to its score, e.g. {"0": 0.9, "1": 0.1}.`

// RerankOptions tunes one rerank. Threshold drops candidates below it; TopK caps the
// output; Model overrides the reranker's model.
type RerankOptions struct {
	Threshold float64 `json:"threshold" validate:"gte=0,lte=1"`
	TopK      int     `json:"top_k" validate:"gte=0"`
	Model     string  `json:"model,omitempty"`
}

// RerankingService re-scores candidates with one call to a fast provider.
type RerankingService struct {
	provider llm.ProviderAdapter
	timeout  time.Duration
	log      zerolog.Logger
}

// RerankOption configures a RerankingService.
type RerankOption func(*RerankingService)

// WithRerankTimeout bounds the rerank call. It defaults to llm.DefaultCallTimeout.
func WithRerankTimeout(d time.Duration) RerankOption {
	return func(s *RerankingService) { s.timeout = d }
}

// NewRerankingService creates a RerankingService on provider.
func NewRerankingService(provider llm.ProviderAdapter, log zerolog.Logger, opts ...RerankOption) *RerankingService {
	s := &RerankingService{
		provider: provider,
		timeout:  llm.DefaultCallTimeout,
		log:      log.With().Str("component", "knowledge.rerank").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rerank asks the provider for a relevance score per candidate, keyed by the
// candidate's position in cands. A position missing from the reply scores 0. The
// survivors (relevance >= Threshold) are sorted by relevance descending and cut to
// TopK.
//
// Rerank never fails on a provider or parse error: it returns the candidates in
// similarity order cut to TopK, with Meta.Degraded set and a RERANK_ERROR in
// Meta.Errors.
func (s *RerankingService) Rerank(ctx context.Context, query string, cands []SemanticCandidate, opts RerankOptions) llm.Result[[]SemanticCandidate] {
	start := time.Now()
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(cands) == 0 {
		return llm.Succeed([]SemanticCandidate{}, llm.Meta{}.Since(start))
	}

	req := llm.CompletionRequest{
		SystemPrompt:    rerankSystemPrompt,
		UserPrompt:      rerankPrompt(query, cands),
		Temperature:     0,
		MaxOutputTokens: 16 * len(cands),
		Model:           opts.Model,
	}
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res := llm.CompleteJSON[map[string]float64](callCtx, s.provider, req)
	if !res.Success {
		return s.degrade(start, cands, topK, res)
	}

	scored := make([]SemanticCandidate, 0, len(cands))
	for i, c := range cands {
		// absence is a penalty: an unscored candidate is irrelevant
		score := clampUnit(res.Data[strconv.Itoa(i)])
		if score >= opts.Threshold {
			scored = append(scored, c.WithRelevance(score))
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return *scored[i].RelevanceScore > *scored[j].RelevanceScore })
	if len(scored) > topK {
		scored = scored[:topK]
	}

	meta := res.Meta
	return llm.Succeed(scored, meta.Since(start))
}

func (s *RerankingService) degrade(start time.Time, cands []SemanticCandidate, topK int, failed llm.Result[map[string]float64]) llm.Result[[]SemanticCandidate] {
	s.log.Warn().Str("code", string(failed.Error.Code)).Str("error", failed.Error.Message).Msg("rerank degraded to similarity order")

	ordered := append([]SemanticCandidate(nil), cands...)
	sortBySimilarity(ordered)
	if len(ordered) > topK {
		ordered = ordered[:topK]
	}

	cause := llm.NewError(llm.CodeRerank, failed.Error.Message, map[string]any{"cause": failed.Error})
	meta := failed.Meta
	meta.Degraded = true
	meta.Errors = append(meta.Errors, *cause)
	return llm.Succeed(ordered, meta.Since(start))
}

func rerankPrompt(query string, cands []SemanticCandidate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nPassages:\n", query)
	for i, c := range cands {
		fmt.Fprintf(&sb, "[%d] %s\n", i, strings.TrimSpace(c.Content))
	}
	return sb.String()
}

// ============================================================================
// PIPELINE
// ============================================================================

// RetrievalPipeline chains semantic search and reranking.
type RetrievalPipeline struct {
	search *SemanticSearchService
	rerank *RerankingService
}

// NewRetrievalPipeline creates a RetrievalPipeline. rerank may be nil to skip the
// second stage.
func NewRetrievalPipeline(search *SemanticSearchService, rerank *RerankingService) *RetrievalPipeline {
	return &RetrievalPipeline{search: search, rerank: rerank}
}

// Retrieve searches, then reranks the candidates against the same query. A failed
// search is returned as is. The result meta reports the combined duration and the
// diagnostics of both stages.
func (p *RetrievalPipeline) Retrieve(ctx context.Context, in SearchInput, opts RerankOptions) llm.Result[[]SemanticCandidate] {
	start := time.Now()
	found := p.search.Search(ctx, in)
	if !found.Success || p.rerank == nil {
		return found
	}

	ranked := p.rerank.Rerank(ctx, in.Query, found.Data, opts)
	meta := ranked.Meta
	meta.Errors = append(append([]llm.CompletionError(nil), found.Meta.Errors...), ranked.Meta.Errors...)
	return llm.Succeed(ranked.Data, meta.Since(start))
}
