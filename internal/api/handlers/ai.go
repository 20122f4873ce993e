package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/obra/internal/domain/audit"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// ChainSelector picks the fallback chain for a task. *llm.TaskRouter implements it.
type ChainSelector interface {
	Orchestrator(t llm.TaskType) *llm.Orchestrator
}

// TextEmbedder is the embedding side the API exposes. *knowledge.EmbeddingService
// implements it.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) llm.Result[llm.EmbeddingVector]
	EmbedBatch(ctx context.Context, texts []string) llm.Result[[]llm.EmbeddingVector]
}

// UsageLedger records and lists AI usage. *audit.Ledger implements it.
type UsageLedger interface {
	Record(ctx context.Context, rec audit.UsageRecord) error
	ListByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]audit.UsageRecord, int, error)
	Totals(ctx context.Context, workspaceID string, since time.Time) (audit.UsageTotals, error)
}

// defaultUsageWindow is the Totals window of GET /ai/usage without ?since.
const defaultUsageWindow = 30 * 24 * time.Hour

// AIHandler exposes the raw completion and embedding operations.
type AIHandler struct {
	chains   ChainSelector
	embedder TextEmbedder
	ledger   UsageLedger
	log      zerolog.Logger
}

// NewAIHandler creates an AIHandler.
func NewAIHandler(chains ChainSelector, embedder TextEmbedder, ledger UsageLedger, log zerolog.Logger) *AIHandler {
	return &AIHandler{
		chains:   chains,
		embedder: embedder,
		ledger:   ledger,
		log:      log.With().Str("component", "api.ai").Logger(),
	}
}

// completeRequest is the JSON body of POST /api/v1/ai/complete. Task picks the
// preferred tier; it defaults to reasoning. With json_mode set, a tier whose reply
// holds no JSON object or array fails and the next tier is tried.
type completeRequest struct {
	llm.CompletionRequest
	Task string `json:"task"`
}

// Complete handles POST /api/v1/ai/complete.
func (h *AIHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := getIdentity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing workspace context")
		return
	}

	var req completeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeInvalid[llm.Completion](w, err)
		return
	}

	task := llm.ParseTaskType(req.Task)
	chain := h.chains.Orchestrator(task)
	var res llm.Result[llm.Completion]
	if req.JSONMode {
		res = jsonCompletion(llm.Orchestrate[json.RawMessage](r.Context(), chain, req.CompletionRequest))
	} else {
		res = chain.Complete(r.Context(), req.CompletionRequest)
	}
	h.record(r.Context(), audit.FromResult(audit.Call{
		WorkspaceID: id.WorkspaceID,
		ActorID:     id.UserID,
		Operation:   "ai.complete",
		Task:        task,
	}, res))
	writeResult(w, res)
}

// jsonCompletion reports an extracted JSON value as a Completion whose Content is
// the JSON text.
func jsonCompletion(res llm.Result[json.RawMessage]) llm.Result[llm.Completion] {
	if !res.Success {
		return llm.Recast[json.RawMessage, llm.Completion](res)
	}
	out := llm.Completion{Content: string(res.Data)}
	if res.Meta.TokenUsage != nil {
		out.Usage = *res.Meta.TokenUsage
	}
	return llm.Succeed(out, res.Meta)
}

// embedRequest is the JSON body of POST /api/v1/ai/embed: one text or a batch.
type embedRequest struct {
	Text  string   `json:"text"`
	Texts []string `json:"texts"`
}

// Embed handles POST /api/v1/ai/embed.
func (h *AIHandler) Embed(w http.ResponseWriter, r *http.Request) {
	if _, err := getIdentity(r); err != nil {
		writeError(w, http.StatusUnauthorized, "missing workspace context")
		return
	}

	var req embedRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeInvalid[llm.EmbeddingVector](w, err)
		return
	}

	if req.Texts != nil {
		writeResult(w, h.embedder.EmbedBatch(r.Context(), req.Texts))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeInvalid[llm.EmbeddingVector](w, errors.New("text is required"))
		return
	}
	writeResult(w, h.embedder.Embed(r.Context(), req.Text))
}

type usageResponse struct {
	Records []audit.UsageRecord `json:"records"`
	Total   int                 `json:"total"`
	Since   time.Time           `json:"since"`
	Totals  audit.UsageTotals   `json:"totals"`
}

// Usage handles GET /api/v1/ai/usage?limit=&offset=&since=RFC3339.
func (h *AIHandler) Usage(w http.ResponseWriter, r *http.Request) {
	id, err := getIdentity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing workspace context")
		return
	}

	since := time.Now().UTC().Add(-defaultUsageWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = parsed.UTC()
	}

	page := parsePaginationParams(r)
	records, total, err := h.ledger.ListByWorkspace(r.Context(), id.WorkspaceID, page.Limit, page.Offset)
	if err != nil {
		h.log.Error().Err(err).Msg("list usage")
		writeError(w, http.StatusInternalServerError, "failed to list usage")
		return
	}
	totals, err := h.ledger.Totals(r.Context(), id.WorkspaceID, since)
	if err != nil {
		h.log.Error().Err(err).Msg("usage totals")
		writeError(w, http.StatusInternalServerError, "failed to compute usage totals")
		return
	}
	if records == nil {
		records = []audit.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, usageResponse{Records: records, Total: total, Since: since, Totals: totals})
}

func (h *AIHandler) record(ctx context.Context, rec audit.UsageRecord) {
	if h.ledger == nil {
		return
	}
	if err := h.ledger.Record(ctx, rec); err != nil {
		h.log.Warn().Err(err).Str("operation", rec.Operation).Msg("usage not recorded")
	}
}
