package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/matiasleandrokruk/obra/internal/infra/llm"
	"github.com/matiasleandrokruk/obra/internal/infra/sqlite"
)

const testDims = 3

// stubEmbedder returns a fixed vector per text, or an error for texts listed in fail.
type stubEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	fail    map[string]bool
	calls   atomic.Int32
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vectors: map[string][]float32{}, fail: map[string]bool{}}
}

func (s *stubEmbedder) Name() string           { return "stub" }
func (s *stubEmbedder) EmbeddingModel() string { return "stub-embed" }

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[text] {
		return nil, errors.New("embedder unavailable")
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) set(text string, v ...float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[text] = v
}

func (s *stubEmbedder) failOn(text string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[text] = fail
}

func newPool(t *testing.T) *ants.Pool {
	t.Helper()
	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

func newEmbeddingService(t *testing.T, e llm.Embedder, opts ...EmbeddingOption) *EmbeddingService {
	t.Helper()
	return NewEmbeddingService(e, newPool(t), testDims, opts...)
}

// setupTestDB opens a migrated sqlite database in a temp file.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.NewDB(ctx, filepath.Join(t.TempDir(), "knowledge.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = sqlite.MigrateUp(ctx, db, zerolog.Nop())
	require.NoError(t, err)
	return db
}

// provider is a ProviderAdapter returning a fixed reply.
type provider struct {
	reply       string
	fail        bool
	calls       atomic.Int32
	last        llm.CompletionRequest
	hadDeadline bool
}

func (p *provider) Name() string { return "fast" }

func (p *provider) Complete(ctx context.Context, req llm.CompletionRequest) llm.Result[llm.Completion] {
	p.calls.Add(1)
	p.last = req
	_, p.hadDeadline = ctx.Deadline()
	if p.fail {
		return llm.Fail[llm.Completion](llm.NewError(llm.CompletionCode("fast"), "down", nil), llm.Meta{Provider: "fast"})
	}
	usage := llm.NewTokenUsage("fast-model", 50, 10)
	return llm.Succeed(llm.Completion{Content: p.reply, Usage: usage}, llm.Meta{Provider: "fast", TokenUsage: &usage})
}

func candidate(id string, similarity float64, content ...string) SemanticCandidate {
	return SemanticCandidate{
		ID:              id,
		Content:         strings.Join(append([]string{"passage " + id}, content...), " "),
		SimilarityScore: similarity,
		SourceType:      SourceProduct,
		SourceID:        "src-" + id,
	}
}

func ids(cands []SemanticCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}
