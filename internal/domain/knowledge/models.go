// Package knowledge is the retrieval side of the AI layer: document ingestion and
// chunking, batch embedding, vector search across source collections and LLM
// reranking of the search candidates.
package knowledge

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// ENUMERATIONS
// ============================================================================

// SourceType names an independent content collection that can be searched.
type SourceType string

const (
	SourceProduct   SourceType = "product"
	SourceKBArticle SourceType = "kb_article"
	SourceCallNote  SourceType = "call_note"
	SourceDocument  SourceType = "document"
)

var knownSources = []SourceType{SourceProduct, SourceKBArticle, SourceCallNote, SourceDocument}

// AllSources returns every known source collection, in a fixed order.
func AllSources() []SourceType {
	return append([]SourceType(nil), knownSources...)
}

// Valid reports whether s is a known source.
func (s SourceType) Valid() bool {
	for _, k := range knownSources {
		if s == k {
			return true
		}
	}
	return false
}

// ParseSourceType normalises s and rejects unknown sources.
func ParseSourceType(s string) (SourceType, error) {
	st := SourceType(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown source type %q", s)
	}
	return st, nil
}

// ChunkStatus tracks a chunk through the embedding pipeline.
type ChunkStatus string

const (
	ChunkPending  ChunkStatus = "pending"
	ChunkEmbedded ChunkStatus = "embedded"
	ChunkFailed   ChunkStatus = "failed"
)

// ============================================================================
// RETRIEVAL TYPES
// ============================================================================

// SemanticCandidate is one search hit. SimilarityScore is in [0,1]; RelevanceScore
// stays nil until the candidate has been reranked.
type SemanticCandidate struct {
	ID              string            `json:"id"`
	Content         string            `json:"content"`
	SimilarityScore float64           `json:"similarity_score"`
	RelevanceScore  *float64          `json:"relevance_score,omitempty"`
	SourceType      SourceType        `json:"source_type"`
	SourceID        string            `json:"source_id"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// WithRelevance returns a copy of c carrying score.
func (c SemanticCandidate) WithRelevance(score float64) SemanticCandidate {
	c.RelevanceScore = &score
	return c
}

// Filter restricts matches to documents whose metadata Key equals Value.
type Filter struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// VectorQuery is what a VectorIndex receives for one source collection.
type VectorQuery struct {
	Vector      []float32
	Threshold   float64
	Count       int
	Source      SourceType
	WorkspaceID string
	Filter      *Filter
}

// VectorMatch is one row returned by a VectorIndex, pre-sorted by Similarity
// descending.
type VectorMatch struct {
	ID         string
	Content    string
	Similarity float64
	SourceType SourceType
	SourceID   string
	Metadata   map[string]string
}

func (m VectorMatch) candidate() SemanticCandidate {
	return SemanticCandidate{
		ID:              m.ID,
		Content:         m.Content,
		SimilarityScore: clampUnit(m.Similarity),
		SourceType:      m.SourceType,
		SourceID:        m.SourceID,
		Metadata:        m.Metadata,
	}
}

// ============================================================================
// INGESTION TYPES
// ============================================================================

// Document is an ingested unit of content: a product sheet, a KB article, a call note.
type Document struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	SourceType  SourceType        `json:"source_type"`
	SourceID    string            `json:"source_id"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// DocumentChunk is a window of a Document's text, embedded independently.
type DocumentChunk struct {
	ID          string      `json:"id"`
	DocumentID  string      `json:"document_id"`
	WorkspaceID string      `json:"workspace_id"`
	Index       int         `json:"index"`
	Text        string      `json:"text"`
	TokenCount  int         `json:"token_count"`
	Status      ChunkStatus `json:"status"`
	ErrorCode   string      `json:"error_code,omitempty"`
	EmbeddedAt  *time.Time  `json:"embedded_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// IngestInput carries a document to index.
type IngestInput struct {
	WorkspaceID string            `json:"workspace_id" validate:"required"`
	SourceType  SourceType        `json:"source_type" validate:"required"`
	SourceID    string            `json:"source_id"`
	Title       string            `json:"title" validate:"max=512"`
	Content     string            `json:"content" validate:"required"`
	Metadata    map[string]string `json:"metadata"`
}

// IngestResult reports what Ingest stored.
type IngestResult struct {
	Document   Document `json:"document"`
	ChunkCount int      `json:"chunk_count"`
}

// BackfillReport summarises one Backfill run.
type BackfillReport struct {
	Attempted int `json:"attempted"`
	Embedded  int `json:"embedded"`
	Failed    int `json:"failed"`
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
