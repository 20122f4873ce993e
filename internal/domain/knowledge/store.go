package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// ErrDocumentNotFound is returned when a document id does not exist.
var ErrDocumentNotFound = errors.New("knowledge: document not found")

// SQLStore keeps documents, chunks and their vectors in sqlite. Vectors are JSON
// TEXT and similarity is computed in memory, so it suits catalogs of up to a few
// hundred thousand chunks per workspace.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore creates a SQLStore over a migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// ============================================================================
// DOCUMENTS
// ============================================================================

// SaveDocument stores doc and replaces its chunks with texts, all pending. When a
// document with the same (workspace, source type, source id) exists it is updated
// in place and keeps its id.
func (s *SQLStore) SaveDocument(ctx context.Context, doc Document, texts []string) (Document, []DocumentChunk, error) {
	now := s.now().UTC()
	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return Document{}, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, nil, fmt.Errorf("knowledge: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	existing, created, err := findBySource(ctx, tx, doc)
	if err != nil {
		return Document{}, nil, err
	}

	doc.UpdatedAt = now
	if existing == "" {
		doc.ID = uuid.NewString()
		doc.CreatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO document (id, workspace_id, source_type, source_id, title, content, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.WorkspaceID, string(doc.SourceType), doc.SourceID, doc.Title, doc.Content, meta,
			now.UnixMilli(), now.UnixMilli())
	} else {
		doc.ID = existing
		doc.CreatedAt = created
		_, err = tx.ExecContext(ctx, `
			UPDATE document SET title = ?, content = ?, metadata = ?, updated_at = ? WHERE id = ?`,
			doc.Title, doc.Content, meta, now.UnixMilli(), doc.ID)
		if err == nil {
			_, err = tx.ExecContext(ctx, `DELETE FROM document_chunk WHERE document_id = ?`, doc.ID)
		}
	}
	if err != nil {
		return Document{}, nil, fmt.Errorf("knowledge: save document: %w", err)
	}

	chunks := make([]DocumentChunk, len(texts))
	for i, text := range texts {
		chunks[i] = DocumentChunk{
			ID:          uuid.NewString(),
			DocumentID:  doc.ID,
			WorkspaceID: doc.WorkspaceID,
			Index:       i,
			Text:        text,
			TokenCount:  len(strings.Fields(text)),
			Status:      ChunkPending,
			CreatedAt:   now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_chunk (id, document_id, workspace_id, chunk_index, text, token_count, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			chunks[i].ID, doc.ID, doc.WorkspaceID, i, text, chunks[i].TokenCount, string(ChunkPending), now.UnixMilli(),
		); err != nil {
			return Document{}, nil, fmt.Errorf("knowledge: insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Document{}, nil, fmt.Errorf("knowledge: commit: %w", err)
	}
	return doc, chunks, nil
}

func findBySource(ctx context.Context, tx *sql.Tx, doc Document) (string, time.Time, error) {
	if doc.SourceID == "" {
		return "", time.Time{}, nil
	}
	var (
		id      string
		created int64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, created_at FROM document WHERE workspace_id = ? AND source_type = ? AND source_id = ?`,
		doc.WorkspaceID, string(doc.SourceType), doc.SourceID,
	).Scan(&id, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("knowledge: find document by source: %w", err)
	}
	return id, time.UnixMilli(created).UTC(), nil
}

// GetDocument loads one document.
func (s *SQLStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var (
		d                Document
		st, meta         string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, source_type, source_id, title, content, metadata, created_at, updated_at
		FROM document WHERE id = ?`, id,
	).Scan(&d.ID, &d.WorkspaceID, &st, &d.SourceID, &d.Title, &d.Content, &meta, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("knowledge: get document: %w", err)
	}
	d.SourceType = SourceType(st)
	d.Metadata = decodeMetadata(meta)
	d.CreatedAt = time.UnixMilli(created).UTC()
	d.UpdatedAt = time.UnixMilli(updated).UTC()
	return d, nil
}

// ============================================================================
// CHUNKS
// ============================================================================

const chunkColumns = `id, document_id, workspace_id, chunk_index, text, token_count, status,
	COALESCE(error_code, ''), embedded_at, created_at`

// PendingChunks returns the pending chunks of one document in index order.
func (s *SQLStore) PendingChunks(ctx context.Context, documentID string) ([]DocumentChunk, error) {
	return s.queryChunks(ctx, `SELECT `+chunkColumns+` FROM document_chunk
		WHERE document_id = ? AND status = 'pending' ORDER BY chunk_index`, documentID)
}

// ChunksToEmbed returns up to limit pending or failed chunks, oldest first.
func (s *SQLStore) ChunksToEmbed(ctx context.Context, limit int) ([]DocumentChunk, error) {
	return s.queryChunks(ctx, `SELECT `+chunkColumns+` FROM document_chunk
		WHERE status IN ('pending', 'failed') ORDER BY created_at, chunk_index LIMIT ?`, limit)
}

// DocumentChunks returns every chunk of a document in index order.
func (s *SQLStore) DocumentChunks(ctx context.Context, documentID string) ([]DocumentChunk, error) {
	return s.queryChunks(ctx, `SELECT `+chunkColumns+` FROM document_chunk
		WHERE document_id = ? ORDER BY chunk_index`, documentID)
}

func (s *SQLStore) queryChunks(ctx context.Context, query string, args ...any) ([]DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge: query chunks: %w", err)
	}
	defer rows.Close()

	var out []DocumentChunk
	for rows.Next() {
		var (
			c        DocumentChunk
			status   string
			embedded sql.NullInt64
			created  int64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.WorkspaceID, &c.Index, &c.Text, &c.TokenCount,
			&status, &c.ErrorCode, &embedded, &created); err != nil {
			return nil, fmt.Errorf("knowledge: scan chunk: %w", err)
		}
		c.Status = ChunkStatus(status)
		c.CreatedAt = time.UnixMilli(created).UTC()
		if embedded.Valid {
			at := time.UnixMilli(embedded.Int64).UTC()
			c.EmbeddedAt = &at
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StoreEmbedding saves the vector of a chunk and marks it embedded.
func (s *SQLStore) StoreEmbedding(ctx context.Context, chunkID string, vec llm.EmbeddingVector) error {
	raw, err := json.Marshal(vec.Values)
	if err != nil {
		return fmt.Errorf("knowledge: encode vector: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE document_chunk
		SET embedding = ?, embedding_model = ?, status = 'embedded', error_code = NULL, embedded_at = ?
		WHERE id = ?`, string(raw), vec.Model, s.now().UnixMilli(), chunkID)
	if err != nil {
		return fmt.Errorf("knowledge: store embedding: %w", err)
	}
	return expectOneRow(res, chunkID)
}

// MarkFailed records that embedding a chunk failed with code.
func (s *SQLStore) MarkFailed(ctx context.Context, chunkID string, code llm.ErrorCode) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE document_chunk SET status = 'failed', error_code = ? WHERE id = ?`, string(code), chunkID)
	if err != nil {
		return fmt.Errorf("knowledge: mark failed: %w", err)
	}
	return expectOneRow(res, chunkID)
}

func expectOneRow(res sql.Result, chunkID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("knowledge: chunk %s not found", chunkID)
	}
	return nil
}

// ============================================================================
// VECTOR INDEX
// ============================================================================

// Query implements VectorIndex over the embedded chunks of one source collection.
// Negative cosine similarity counts as 0; matches below q.Threshold are dropped.
func (s *SQLStore) Query(ctx context.Context, q VectorQuery) ([]VectorMatch, error) {
	if len(q.Vector) == 0 {
		return nil, errors.New("knowledge: empty query vector")
	}

	query := `
		SELECT c.id, c.text, c.embedding, d.id, d.source_id, d.title, d.metadata
		FROM document_chunk c
		JOIN document d ON d.id = c.document_id
		WHERE c.status = 'embedded' AND d.source_type = ?`
	args := []any{string(q.Source)}
	if q.WorkspaceID != "" {
		query += ` AND c.workspace_id = ?`
		args = append(args, q.WorkspaceID)
	}
	if q.Filter != nil {
		query += ` AND json_extract(d.metadata, '$."' || ? || '"') = ?`
		args = append(args, q.Filter.Key, q.Filter.Value)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge: vector query: %w", err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var chunkID, text, raw, docID, sourceID, title, meta string
		if err := rows.Scan(&chunkID, &text, &raw, &docID, &sourceID, &title, &meta); err != nil {
			return nil, fmt.Errorf("knowledge: scan vector row: %w", err)
		}
		vec, err := decodeVector(raw)
		if err != nil {
			continue
		}
		sim := clampUnit(cosineSimilarity(q.Vector, vec))
		if sim < q.Threshold {
			continue
		}
		if sourceID == "" {
			sourceID = docID
		}
		md := decodeMetadata(meta)
		md["document_id"] = docID
		if title != "" {
			md["title"] = title
		}
		matches = append(matches, VectorMatch{
			ID:         chunkID,
			Content:    text,
			Similarity: sim,
			SourceType: q.Source,
			SourceID:   sourceID,
			Metadata:   md,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: vector rows: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if q.Count > 0 && len(matches) > q.Count {
		matches = matches[:q.Count]
	}
	return matches, nil
}

// cosineSimilarity returns 0 when the vectors differ in length or either is zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

func decodeVector(raw string) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeMetadata(md map[string]string) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("knowledge: encode metadata: %w", err)
	}
	return string(raw), nil
}

func decodeMetadata(raw string) map[string]string {
	md := map[string]string{}
	_ = json.Unmarshal([]byte(raw), &md) //nolint:errcheck
	return md
}
