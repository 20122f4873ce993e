package copilot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/matiasleandrokruk/obra/internal/domain/audit"
	"github.com/matiasleandrokruk/obra/internal/domain/knowledge"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// scripted is a ProviderAdapter answering with a fixed reply, or failing.
type scripted struct {
	name  string
	reply string
	fail  bool
	calls atomic.Int32

	mu   sync.Mutex
	last llm.CompletionRequest
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Complete(_ context.Context, req llm.CompletionRequest) llm.Result[llm.Completion] {
	s.calls.Add(1)
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if s.fail {
		return llm.Fail[llm.Completion](llm.NewError(llm.CompletionCode(s.name), s.name+" is down", nil), llm.Meta{Provider: s.name})
	}
	usage := llm.NewTokenUsage(s.name+"-model", 40, 12)
	return llm.Succeed(llm.Completion{Content: s.reply, Usage: usage}, llm.Meta{Provider: s.name, TokenUsage: &usage})
}

func (s *scripted) lastRequest() llm.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type tiers struct {
	primary, secondary, tertiary *scripted
}

func newTiers(primaryReply, secondaryReply string) *tiers {
	return &tiers{
		primary:   &scripted{name: "gemini", reply: primaryReply},
		secondary: &scripted{name: "groq", reply: secondaryReply},
		tertiary:  &scripted{name: "ollama", reply: "{}"},
	}
}

func (t *tiers) failAll() *tiers {
	t.primary.fail, t.secondary.fail, t.tertiary.fail = true, true, true
	return t
}

func (t *tiers) router(tr llm.Transcriber) *llm.TaskRouter {
	o := llm.NewOrchestrator(llm.StandardTiers(t.primary, t.secondary, t.tertiary))
	return llm.NewTaskRouter(o, nil, tr)
}

// fakeTranscriber returns text, or a transcription error when fail is set.
type fakeTranscriber struct {
	text  string
	fail  bool
	calls atomic.Int32
	got   llm.AudioInput
}

func (f *fakeTranscriber) Name() string { return "gemini" }

func (f *fakeTranscriber) Transcribe(_ context.Context, audio llm.AudioInput) llm.Result[llm.Transcript] {
	f.calls.Add(1)
	f.got = audio
	if f.fail {
		return llm.Fail[llm.Transcript](llm.NewError(llm.CodeTranscription, "unreadable audio", nil), llm.Meta{Provider: "gemini"})
	}
	return llm.Succeed(llm.Transcript{Text: f.text}, llm.Meta{Provider: "gemini"})
}

// memoryLedger collects usage records.
type memoryLedger struct {
	mu      sync.Mutex
	records []audit.UsageRecord
	err     error
}

func (m *memoryLedger) Record(_ context.Context, rec audit.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryLedger) all() []audit.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.UsageRecord(nil), m.records...)
}

// fakeRetriever returns a fixed retrieval result.
type fakeRetriever struct {
	res   llm.Result[[]knowledge.SemanticCandidate]
	calls atomic.Int32
	got   knowledge.SearchInput
	opts  knowledge.RerankOptions
}

func (f *fakeRetriever) Retrieve(_ context.Context, in knowledge.SearchInput, opts knowledge.RerankOptions) llm.Result[[]knowledge.SemanticCandidate] {
	f.calls.Add(1)
	f.got, f.opts = in, opts
	return f.res
}

func passages(contents ...string) []knowledge.SemanticCandidate {
	out := make([]knowledge.SemanticCandidate, len(contents))
	for i, c := range contents {
		out[i] = knowledge.SemanticCandidate{
			ID:              "chunk-" + string(rune('a'+i)),
			Content:         c,
			SimilarityScore: 0.9 - float64(i)/10,
			SourceType:      knowledge.SourceProduct,
			SourceID:        "sku-" + string(rune('a'+i)),
		}
	}
	return out
}

var errLedgerDown = errors.New("ledger down")

// constEmbedder embeds every query to the same unit vector.
type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, _ string) llm.Result[llm.EmbeddingVector] {
	return llm.Succeed(llm.EmbeddingVector{Values: []float32{1, 0, 0}, Model: "const"}, llm.Meta{Provider: "const"})
}

// pipelineIndex holds a single match for its own source collection.
type pipelineIndex struct {
	match knowledge.VectorMatch
}

func (p pipelineIndex) Query(_ context.Context, q knowledge.VectorQuery) ([]knowledge.VectorMatch, error) {
	if q.Source != p.match.SourceType {
		return nil, nil
	}
	return []knowledge.VectorMatch{p.match}, nil
}
