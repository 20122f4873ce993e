package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

func saveEmbedded(t *testing.T, s *SQLStore, doc Document, vec ...float32) string {
	t.Helper()
	ctx := context.Background()
	_, chunks, err := s.SaveDocument(ctx, doc, []string{doc.Content})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.NoError(t, s.StoreEmbedding(ctx, chunks[0].ID, llm.EmbeddingVector{Values: vec, Model: "stub-embed"}))
	return chunks[0].ID
}

func TestSQLStore_SaveDocument_ReplacesChunksBySource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSQLStore(setupTestDB(t))
	doc := Document{WorkspaceID: "ws1", SourceType: SourceProduct, SourceID: "sku-1", Title: "Cement", Content: "v1"}

	first, chunks, err := s.SaveDocument(ctx, doc, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.NotEmpty(t, first.ID)

	doc.Content = "v2"
	second, chunks, err := s.SaveDocument(ctx, doc, []string{"c"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.Len(t, chunks, 1)

	stored, err := s.DocumentChunks(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "c", stored[0].Text)
	assert.Equal(t, ChunkPending, stored[0].Status)

	got, err := s.GetDocument(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
}

func TestSQLStore_GetDocument_NotFound(t *testing.T) {
	t.Parallel()

	_, err := NewSQLStore(setupTestDB(t)).GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestSQLStore_EmbeddingLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSQLStore(setupTestDB(t))
	doc, chunks, err := s.SaveDocument(ctx, Document{WorkspaceID: "ws1", SourceType: SourceKBArticle, Content: "x"}, []string{"one", "two"})
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, chunks[0].ID, llm.CodeEmbedding))
	require.NoError(t, s.StoreEmbedding(ctx, chunks[1].ID, llm.EmbeddingVector{Values: []float32{1, 0, 0}, Model: "m"}))

	pending, err := s.PendingChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	retry, err := s.ChunksToEmbed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, ChunkFailed, retry[0].Status)
	assert.Equal(t, string(llm.CodeEmbedding), retry[0].ErrorCode)

	all, err := s.DocumentChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ChunkEmbedded, all[1].Status)
	assert.NotNil(t, all[1].EmbeddedAt)

	assert.Error(t, s.StoreEmbedding(ctx, "nope", llm.EmbeddingVector{Values: []float32{1}}))
}

func TestSQLStore_Query(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSQLStore(setupTestDB(t))

	exact := saveEmbedded(t, s, Document{WorkspaceID: "ws1", SourceType: SourceProduct, SourceID: "sku-1", Title: "Cement",
		Content: "portland cement", Metadata: map[string]string{"brand": "acme"}}, 1, 0, 0)
	near := saveEmbedded(t, s, Document{WorkspaceID: "ws1", SourceType: SourceProduct, SourceID: "sku-2",
		Content: "lime mortar", Metadata: map[string]string{"brand": "other"}}, 1, 1, 0)
	saveEmbedded(t, s, Document{WorkspaceID: "ws1", SourceType: SourceProduct, SourceID: "sku-3", Content: "opposite"}, -1, 0, 0)
	saveEmbedded(t, s, Document{WorkspaceID: "ws2", SourceType: SourceProduct, SourceID: "sku-1", Content: "other tenant"}, 1, 0, 0)
	saveEmbedded(t, s, Document{WorkspaceID: "ws1", SourceType: SourceKBArticle, Content: "article"}, 1, 0, 0)

	q := VectorQuery{Vector: []float32{1, 0, 0}, Source: SourceProduct, WorkspaceID: "ws1", Count: 10, Threshold: 0.5}
	got, err := s.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, exact, got[0].ID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	assert.Equal(t, "sku-1", got[0].SourceID)
	assert.Equal(t, "Cement", got[0].Metadata["title"])
	assert.Equal(t, "acme", got[0].Metadata["brand"])
	assert.Equal(t, near, got[1].ID)
	assert.InDelta(t, 0.7071, got[1].Similarity, 1e-3)

	q.Filter = &Filter{Key: "brand", Value: "other"}
	got, err = s.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, near, got[0].ID)

	q.Filter = nil
	q.Threshold = 0
	q.Count = 1
	got, err = s.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, exact, got[0].ID)

	q.Count = 10
	q.WorkspaceID = ""
	got, err = s.Query(ctx, q)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, 0.0, got[3].Similarity)
}

func TestSQLStore_Query_SourceIDFallsBackToDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSQLStore(setupTestDB(t))
	saveEmbedded(t, s, Document{WorkspaceID: "ws1", SourceType: SourceCallNote, Content: "call"}, 0, 1, 0)

	got, err := s.Query(ctx, VectorQuery{Vector: []float32{0, 1, 0}, Source: SourceCallNote})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, got[0].Metadata["document_id"], got[0].SourceID)
}

func TestSQLStore_Query_EmptyVector(t *testing.T) {
	t.Parallel()

	_, err := NewSQLStore(setupTestDB(t)).Query(context.Background(), VectorQuery{Source: SourceProduct})
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, cosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 0}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
