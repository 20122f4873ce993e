package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/obra/internal/infra/eventbus"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// TopicDocumentIngested is published after a document's chunks are stored.
const TopicDocumentIngested = "knowledge.document.ingested"

// DocumentIngested is the payload of TopicDocumentIngested.
type DocumentIngested struct {
	DocumentID  string
	WorkspaceID string
	ChunkCount  int
}

// ChunkStore is the persistence IndexService needs. SQLStore implements it.
type ChunkStore interface {
	SaveDocument(ctx context.Context, doc Document, texts []string) (Document, []DocumentChunk, error)
	PendingChunks(ctx context.Context, documentID string) ([]DocumentChunk, error)
	ChunksToEmbed(ctx context.Context, limit int) ([]DocumentChunk, error)
	StoreEmbedding(ctx context.Context, chunkID string, vec llm.EmbeddingVector) error
	MarkFailed(ctx context.Context, chunkID string, code llm.ErrorCode) error
}

// DefaultBackfillLimit bounds one Backfill run when no limit is given.
const DefaultBackfillLimit = 500

// IndexService ingests documents and keeps their chunk embeddings current. Ingest
// stores pending chunks and publishes an event; Start consumes those events and
// embeds the chunks in the background.
type IndexService struct {
	store    ChunkStore
	embedder *EmbeddingService
	bus      eventbus.EventBus
	validate *validator.Validate
	log      zerolog.Logger

	chunkSize, chunkOverlap int
}

// NewIndexService creates an IndexService.
func NewIndexService(store ChunkStore, embedder *EmbeddingService, bus eventbus.EventBus, log zerolog.Logger) *IndexService {
	return &IndexService{
		store:        store,
		embedder:     embedder,
		bus:          bus,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		log:          log.With().Str("component", "knowledge.index").Logger(),
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
	}
}

// ErrInvalidInput wraps every ingest validation failure.
var ErrInvalidInput = errors.New("knowledge: invalid input")

// Ingest validates in, chunks its content and stores the document with pending
// chunks. Re-ingesting the same source replaces the previous chunks.
func (s *IndexService) Ingest(ctx context.Context, in IngestInput) (IngestResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !in.SourceType.Valid() {
		return IngestResult{}, fmt.Errorf("%w: unknown source type %q", ErrInvalidInput, in.SourceType)
	}

	texts := Chunk(in.Content, s.chunkSize, s.chunkOverlap)
	if len(texts) == 0 {
		return IngestResult{}, fmt.Errorf("%w: content has no words", ErrInvalidInput)
	}

	doc, chunks, err := s.store.SaveDocument(ctx, Document{
		WorkspaceID: in.WorkspaceID,
		SourceType:  in.SourceType,
		SourceID:    strings.TrimSpace(in.SourceID),
		Title:       strings.TrimSpace(in.Title),
		Content:     in.Content,
		Metadata:    in.Metadata,
	}, texts)
	if err != nil {
		return IngestResult{}, err
	}

	s.bus.Publish(TopicDocumentIngested, DocumentIngested{
		DocumentID:  doc.ID,
		WorkspaceID: doc.WorkspaceID,
		ChunkCount:  len(chunks),
	})
	s.log.Info().Str("document_id", doc.ID).Str("source_type", string(doc.SourceType)).Int("chunks", len(chunks)).Msg("document ingested")
	return IngestResult{Document: doc, ChunkCount: len(chunks)}, nil
}

// Start subscribes to ingest events and embeds each ingested document on a
// background goroutine until ctx ends.
func (s *IndexService) Start(ctx context.Context) {
	ch := s.bus.Subscribe(TopicDocumentIngested)
	go s.consume(ctx, ch)
}

func (s *IndexService) consume(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			payload, ok := evt.Payload.(DocumentIngested)
			if !ok {
				continue
			}
			if _, err := s.EmbedDocument(ctx, payload.DocumentID); err != nil {
				s.log.Error().Err(err).Str("document_id", payload.DocumentID).Msg("embed document")
			}
		}
	}
}

// EmbedDocument embeds the pending chunks of one document.
func (s *IndexService) EmbedDocument(ctx context.Context, documentID string) (BackfillReport, error) {
	chunks, err := s.store.PendingChunks(ctx, documentID)
	if err != nil {
		return BackfillReport{}, err
	}
	return s.embedChunks(ctx, chunks)
}

// Backfill re-embeds up to limit pending or failed chunks, oldest first.
func (s *IndexService) Backfill(ctx context.Context, limit int) (BackfillReport, error) {
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	chunks, err := s.store.ChunksToEmbed(ctx, limit)
	if err != nil {
		return BackfillReport{}, err
	}
	report, err := s.embedChunks(ctx, chunks)
	if err == nil {
		s.log.Info().Int("attempted", report.Attempted).Int("embedded", report.Embedded).Int("failed", report.Failed).Msg("backfill finished")
	}
	return report, err
}

// embedChunks embeds a set of chunks as one batch and records every outcome.
func (s *IndexService) embedChunks(ctx context.Context, chunks []DocumentChunk) (BackfillReport, error) {
	report := BackfillReport{Attempted: len(chunks)}
	if len(chunks) == 0 {
		return report, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	for i, item := range s.embedder.EmbedBatchItems(ctx, texts) {
		chunk := chunks[i]
		if item.Err != nil {
			report.Failed++
			if err := s.store.MarkFailed(ctx, chunk.ID, item.Err.Code); err != nil {
				return report, err
			}
			continue
		}
		if err := s.store.StoreEmbedding(ctx, chunk.ID, item.Vector); err != nil {
			return report, err
		}
		report.Embedded++
	}
	return report, nil
}
