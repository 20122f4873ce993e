package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/obra/internal/domain/knowledge"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// Indexer ingests and re-embeds documents. *knowledge.IndexService implements it.
type Indexer interface {
	Ingest(ctx context.Context, in knowledge.IngestInput) (knowledge.IngestResult, error)
	Backfill(ctx context.Context, limit int) (knowledge.BackfillReport, error)
}

// Searcher runs the first retrieval stage. *knowledge.SemanticSearchService
// implements it.
type Searcher interface {
	Search(ctx context.Context, in knowledge.SearchInput) llm.Result[[]knowledge.SemanticCandidate]
}

// Retriever runs search then rerank. *knowledge.RetrievalPipeline implements it.
type Retriever interface {
	Retrieve(ctx context.Context, in knowledge.SearchInput, opts knowledge.RerankOptions) llm.Result[[]knowledge.SemanticCandidate]
}

// KnowledgeHandler serves document ingestion and semantic search.
type KnowledgeHandler struct {
	index     Indexer
	search    Searcher
	retriever Retriever
	log       zerolog.Logger
}

// NewKnowledgeHandler creates a KnowledgeHandler.
func NewKnowledgeHandler(index Indexer, search Searcher, retriever Retriever, log zerolog.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		index:     index,
		search:    search,
		retriever: retriever,
		log:       log.With().Str("component", "api.knowledge").Logger(),
	}
}

// ingestRequest is the JSON body of POST /api/v1/knowledge/documents.
type ingestRequest struct {
	SourceType string            `json:"source_type"`
	SourceID   string            `json:"source_id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
}

// IngestDocument handles POST /api/v1/knowledge/documents. The chunks are embedded
// in the background; the response reports them as pending.
func (h *KnowledgeHandler) IngestDocument(w http.ResponseWriter, r *http.Request) {
	id, err := getIdentity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing workspace context")
		return
	}

	var req ingestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	source, err := knowledge.ParseSourceType(req.SourceType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.index.Ingest(r.Context(), knowledge.IngestInput{
		WorkspaceID: id.WorkspaceID,
		SourceType:  source,
		SourceID:    req.SourceID,
		Title:       req.Title,
		Content:     req.Content,
		Metadata:    req.Metadata,
	})
	if errors.Is(err, knowledge.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("ingest document")
		writeError(w, http.StatusInternalServerError, "failed to ingest document")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// searchRequest is the JSON body of POST /api/v1/knowledge/search. A non-nil
// Rerank runs the second stage with those options.
type searchRequest struct {
	Query     string                   `json:"query"`
	Limit     int                      `json:"limit"`
	Threshold float64                  `json:"threshold"`
	Sources   []string                 `json:"sources"`
	Filter    *knowledge.Filter        `json:"filter"`
	Rerank    *knowledge.RerankOptions `json:"rerank"`
}

// Search handles POST /api/v1/knowledge/search.
func (h *KnowledgeHandler) Search(w http.ResponseWriter, r *http.Request) {
	id, err := getIdentity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing workspace context")
		return
	}

	var req searchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeInvalid[[]knowledge.SemanticCandidate](w, err)
		return
	}
	sources := make([]knowledge.SourceType, 0, len(req.Sources))
	for _, s := range req.Sources {
		st, perr := knowledge.ParseSourceType(s)
		if perr != nil {
			writeInvalid[[]knowledge.SemanticCandidate](w, perr)
			return
		}
		sources = append(sources, st)
	}

	in := knowledge.SearchInput{
		Query:       req.Query,
		WorkspaceID: id.WorkspaceID,
		Limit:       req.Limit,
		Threshold:   req.Threshold,
		Sources:     sources,
		Filter:      req.Filter,
	}
	if req.Rerank != nil {
		writeResult(w, h.retriever.Retrieve(r.Context(), in, *req.Rerank))
		return
	}
	writeResult(w, h.search.Search(r.Context(), in))
}

type backfillRequest struct {
	Limit int `json:"limit"`
}

// Backfill handles POST /api/v1/knowledge/backfill. An empty body uses the default
// limit.
func (h *KnowledgeHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	if _, err := getIdentity(r); err != nil {
		writeError(w, http.StatusUnauthorized, "missing workspace context")
		return
	}

	var req backfillRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}

	report, err := h.index.Backfill(r.Context(), req.Limit)
	if err != nil {
		h.log.Error().Err(err).Msg("backfill")
		writeError(w, http.StatusInternalServerError, "backfill failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
