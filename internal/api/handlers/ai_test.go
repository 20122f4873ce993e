package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matiasleandrokruk/obra/internal/domain/audit"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

type fakeEmbedder struct {
	single llm.Result[llm.EmbeddingVector]
	batch  llm.Result[[]llm.EmbeddingVector]
	texts  []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) llm.Result[llm.EmbeddingVector] {
	f.texts = []string{text}
	return f.single
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) llm.Result[[]llm.EmbeddingVector] {
	f.texts = texts
	return f.batch
}

type aiFixture struct {
	handler                       *AIHandler
	primary, secondary, tertiary *stubAdapter
	embedder                      *fakeEmbedder
	ledger                        *memoryLedger
}

func newAIFixture(primaryFails bool) aiFixture {
	f := aiFixture{
		primary:   &stubAdapter{name: "gemini", content: "from gemini", fail: primaryFails},
		secondary: &stubAdapter{name: "groq", content: "from groq"},
		tertiary:  &stubAdapter{name: "ollama", content: "from ollama"},
		embedder:  &fakeEmbedder{},
		ledger:    &memoryLedger{},
	}
	f.handler = NewAIHandler(newChains(f.primary, f.secondary, f.tertiary), f.embedder, f.ledger, zerolog.Nop())
	return f
}

// ===== COMPLETE =====

func TestAIHandler_Complete_Success(t *testing.T) {
	t.Parallel()

	f := newAIFixture(false)
	rr := httptest.NewRecorder()
	f.handler.Complete(rr, authedRequest(http.MethodPost, "/api/v1/ai/complete",
		`{"system_prompt":"be brief","user_prompt":"price of rebar?","temperature":0.2}`))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	env := decodeEnvelope(t, rr)
	assert.True(t, env.Success)
	assert.Equal(t, llm.TierPrimary, env.Meta.Provider)

	var data llm.Completion
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "from gemini", data.Content)
	assert.Equal(t, 20, data.Usage.TotalTokens)

	require.Len(t, f.ledger.records, 1)
	rec := f.ledger.records[0]
	assert.Equal(t, "ai.complete", rec.Operation)
	assert.Equal(t, testWorkspace, rec.WorkspaceID)
	assert.Equal(t, testUser, rec.ActorID)
	assert.Equal(t, llm.TierPrimary, rec.Provider)
	assert.True(t, rec.Success)
}

func TestAIHandler_Complete_ScoringTaskPrefersSecondary(t *testing.T) {
	t.Parallel()

	f := newAIFixture(false)
	rr := httptest.NewRecorder()
	f.handler.Complete(rr, authedRequest(http.MethodPost, "/api/v1/ai/complete",
		`{"user_prompt":"score this","task":"scoring"}`))

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.Equal(t, llm.TierSecondary, env.Meta.Provider)
	assert.Equal(t, 0, f.primary.calls)
}

func TestAIHandler_Complete_FallsBack(t *testing.T) {
	t.Parallel()

	f := newAIFixture(true)
	rr := httptest.NewRecorder()
	f.handler.Complete(rr, authedRequest(http.MethodPost, "/api/v1/ai/complete", `{"user_prompt":"hi"}`))

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.Equal(t, llm.TierSecondary, env.Meta.Provider)
	assert.Equal(t, 0, f.tertiary.calls)
}

func TestAIHandler_Complete_JSONModeFallsThroughUnparseableReply(t *testing.T) {
	t.Parallel()

	f := newAIFixture(false)
	f.primary.content = "```json\nnull\n```"
	f.secondary.content = "Here you go: {\"sku\": \"RB-12\", \"qty\": 40} hope it helps"
	rr := httptest.NewRecorder()
	f.handler.Complete(rr, authedRequest(http.MethodPost, "/api/v1/ai/complete",
		`{"user_prompt":"extract the order line","json_mode":true}`))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	env := decodeEnvelope(t, rr)
	assert.Equal(t, llm.TierSecondary, env.Meta.Provider)

	var data llm.Completion
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.JSONEq(t, `{"sku": "RB-12", "qty": 40}`, data.Content)
	assert.Equal(t, 1, f.primary.calls)
	assert.Equal(t, 0, f.tertiary.calls)
}

func TestAIHandler_Complete_JSONModeNoJSONAnywhere(t *testing.T) {
	t.Parallel()

	f := newAIFixture(false)
	for _, a := range []*stubAdapter{f.primary, f.secondary, f.tertiary} {
		a.content = "no structured answer"
	}
	rr := httptest.NewRecorder()
	f.handler.Complete(rr, authedRequest(http.MethodPost, "/api/v1/ai/complete",
		`{"user_prompt":"extract","json_mode":true}`))

	require.Equal(t, http.StatusBadGateway, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.Equal(t, llm.CodeAllProvidersFailed, env.Error.Code)
}

func TestAIHandler_Complete_AllFail_Returns502(t *testing.T) {
	t.Parallel()

	f := newAIFixture(true)
	f.secondary.fail = true
	f.tertiary.fail = true
	rr := httptest.NewRecorder()
	f.handler.Complete(rr, authedRequest(http.MethodPost, "/api/v1/ai/complete", `{"user_prompt":"hi"}`))

	require.Equal(t, http.StatusBadGateway, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.Equal(t, llm.CodeAllProvidersFailed, env.Error.Code)
	assert.Contains(t, env.Error.Details, llm.TierPrimary)

	require.Len(t, f.ledger.records, 1)
	assert.Equal(t, string(llm.CodeAllProvidersFailed), f.ledger.records[0].ErrorCode)
}

func TestAIHandler_Complete_InvalidRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"missing user prompt", `{"system_prompt":"x"}`},
		{"temperature out of range", `{"user_prompt":"x","temperature":3}`},
		{"unknown field", `{"user_prompt":"x","stream":true}`},
		{"malformed json", `{not json`},
		{"empty body", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAIFixture(false)
			rr := httptest.NewRecorder()
			f.handler.Complete(rr, authedRequest(http.MethodPost, "/api/v1/ai/complete", tt.body))

			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			env := decodeEnvelope(t, rr)
			assert.Equal(t, llm.CodeInvalidRequest, env.Error.Code)
			assert.Equal(t, 0, f.primary.calls)
		})
	}
}

func TestAIHandler_Complete_LedgerFailureStillAnswers(t *testing.T) {
	t.Parallel()

	f := newAIFixture(false)
	f.ledger.err = errors.New("disk full")
	rr := httptest.NewRecorder()
	f.handler.Complete(rr, authedRequest(http.MethodPost, "/api/v1/ai/complete", `{"user_prompt":"hi"}`))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAIHandler_MissingWorkspace_Returns401(t *testing.T) {
	t.Parallel()

	f := newAIFixture(false)
	for name, serve := range map[string]http.HandlerFunc{
		"complete": f.handler.Complete,
		"embed":    f.handler.Embed,
		"usage":    f.handler.Usage,
	} {
		rr := httptest.NewRecorder()
		serve(rr, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, name)
	}
}

// ===== EMBED =====

func TestAIHandler_Embed_Single(t *testing.T) {
	t.Parallel()

	f := newAIFixture(false)
	f.embedder.single = llm.Succeed(llm.EmbeddingVector{Values: []float32{0.1, 0.2}, Model: "nomic"}, llm.Meta{Provider: "ollama"})
	rr := httptest.NewRecorder()
	f.handler.Embed(rr, authedRequest(http.MethodPost, "/api/v1/ai/embed", `{"text":"cement"}`))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"cement"}, f.embedder.texts)
	var vec llm.EmbeddingVector
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rr).Data, &vec))
	assert.Equal(t, []float32{0.1, 0.2}, vec.Values)
}

func TestAIHandler_Embed_BatchPartialFailure(t *testing.T) {
	t.Parallel()

	f := newAIFixture(false)
	f.embedder.batch = llm.Succeed(
		[]llm.EmbeddingVector{{Values: []float32{1}}, {Values: []float32{2}}},
		llm.Meta{Errors: []llm.CompletionError{*llm.NewError(llm.CodeEmbedding, "boom", map[string]any{"index": 1})}},
	)
	rr := httptest.NewRecorder()
	f.handler.Embed(rr, authedRequest(http.MethodPost, "/api/v1/ai/embed", `{"texts":["a","b","c"]}`))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"a", "b", "c"}, f.embedder.texts)
	env := decodeEnvelope(t, rr)
	require.Len(t, env.Meta.Errors, 1)
	assert.Equal(t, llm.CodeEmbedding, env.Meta.Errors[0].Code)
}

func TestAIHandler_Embed_EmptyTextIsInvalid(t *testing.T) {
	t.Parallel()

	f := newAIFixture(false)
	rr := httptest.NewRecorder()
	f.handler.Embed(rr, authedRequest(http.MethodPost, "/api/v1/ai/embed", `{"text":"  "}`))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, f.embedder.texts)
}

// ===== USAGE =====

func TestAIHandler_Usage_ListsWorkspaceRecords(t *testing.T) {
	t.Parallel()

	f := newAIFixture(false)
	f.ledger.records = []audit.UsageRecord{
		{ID: "u1", WorkspaceID: testWorkspace, Operation: "copilot.score_lead", Success: true, TotalTokens: 30},
		{ID: "u2", WorkspaceID: "other", Operation: "copilot.score_lead", Success: true, TotalTokens: 99},
		{ID: "u3", WorkspaceID: testWorkspace, Operation: "ai.complete", Success: false},
	}

	rr := httptest.NewRecorder()
	f.handler.Usage(rr, authedRequest(http.MethodGet, "/api/v1/ai/usage?limit=1", ""))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp usageResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "u1", resp.Records[0].ID)
	assert.Equal(t, audit.UsageTotals{Calls: 2, Failures: 1, TotalTokens: 30}, resp.Totals)
}

func TestAIHandler_Usage_Errors(t *testing.T) {
	t.Parallel()

	f := newAIFixture(false)
	rr := httptest.NewRecorder()
	f.handler.Usage(rr, authedRequest(http.MethodGet, "/api/v1/ai/usage?since=yesterday", ""))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	f.ledger.err = errors.New("db closed")
	rr = httptest.NewRecorder()
	f.handler.Usage(rr, authedRequest(http.MethodGet, "/api/v1/ai/usage", ""))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
