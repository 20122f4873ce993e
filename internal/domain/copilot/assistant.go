package copilot

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/matiasleandrokruk/obra/internal/domain/audit"
	"github.com/matiasleandrokruk/obra/internal/domain/knowledge"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

const (
	defaultContextPassages = 5
	maxSnippetRunes        = 240
	noContextAnswer        = "No indexed knowledge matches this question."
)

// Retriever finds context passages. knowledge.RetrievalPipeline implements it.
type Retriever interface {
	Retrieve(ctx context.Context, in knowledge.SearchInput, opts knowledge.RerankOptions) llm.Result[[]knowledge.SemanticCandidate]
}

// AskInput is a question to answer from the knowledge base.
type AskInput struct {
	WorkspaceID string                 `json:"workspace_id" validate:"required"`
	ActorID     string                 `json:"-"`
	Question    string                 `json:"question" validate:"required,max=2000"`
	Sources     []knowledge.SourceType `json:"sources"`
	Passages    int                    `json:"passages" validate:"gte=0,lte=20"`
}

// Citation points at the passage behind an [n] marker of the answer.
type Citation struct {
	Index      int                  `json:"index"`
	SourceType knowledge.SourceType `json:"source_type"`
	SourceID   string               `json:"source_id"`
	ChunkID    string               `json:"chunk_id"`
	Snippet    string               `json:"snippet"`
}

// Answer is the reply with the passages it cites.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}

// KnowledgeAssistant answers questions from retrieved passages with the reasoning tier.
type KnowledgeAssistant struct {
	base
	retriever Retriever
}

// NewKnowledgeAssistant creates a KnowledgeAssistant.
func NewKnowledgeAssistant(router *llm.TaskRouter, retriever Retriever, opts ...Option) *KnowledgeAssistant {
	return &KnowledgeAssistant{base: newBase(router, "copilot.assistant", opts), retriever: retriever}
}

// Answer retrieves passages, then asks for an answer citing them by number. No
// matching passage means a fixed answer and no completion call. Retrieval
// diagnostics are carried into the result meta.
func (k *KnowledgeAssistant) Answer(ctx context.Context, in AskInput) llm.Result[Answer] {
	start := time.Now()
	if verr := k.checkInput(in); verr != nil {
		return llm.Fail[Answer](verr, llm.Meta{}.Since(start))
	}
	passages := in.Passages
	if passages == 0 {
		passages = defaultContextPassages
	}

	found := k.retriever.Retrieve(ctx, knowledge.SearchInput{
		Query:       in.Question,
		WorkspaceID: in.WorkspaceID,
		Limit:       passages * 2,
		Sources:     in.Sources,
	}, knowledge.RerankOptions{TopK: passages})
	if !found.Success {
		return llm.Recast[[]knowledge.SemanticCandidate, Answer](found)
	}
	if len(found.Data) == 0 {
		meta := found.Meta
		return llm.Succeed(Answer{Text: noContextAnswer, Citations: []Citation{}}, meta.Since(start))
	}

	res := k.router.Text(ctx, llm.ReasoningTask{
		System: k.prompts.KnowledgeAnswer.System,
		Prompt: answerPrompt(in.Question, found.Data),
	})
	record(ctx, &k.base, audit.Call{WorkspaceID: in.WorkspaceID, ActorID: in.ActorID, Operation: "copilot.ask", Task: llm.TaskReasoning}, res)
	if !res.Success {
		return llm.Recast[llm.Completion, Answer](res)
	}

	text := strings.TrimSpace(res.Data.Content)
	meta := res.Meta
	meta.Errors = append(append([]llm.CompletionError(nil), found.Meta.Errors...), meta.Errors...)
	meta.Degraded = meta.Degraded || found.Meta.Degraded
	return llm.Succeed(Answer{Text: text, Citations: citations(text, found.Data)}, meta.Since(start))
}

func answerPrompt(question string, passages []knowledge.SemanticCandidate) string {
	b := strings.Builder{}
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nContext:\n")
	for i, p := range passages {
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] ")
		b.WriteString(strings.TrimSpace(p.Content))
		b.WriteString("\n")
	}
	return b.String()
}

var citeRe = regexp.MustCompile(`\[(\d+)\]`)

// citations resolves the [n] markers of text against passages, in order of first
// appearance. Out of range markers are ignored.
func citations(text string, passages []knowledge.SemanticCandidate) []Citation {
	out := []Citation{}
	seen := map[int]struct{}{}
	for _, m := range citeRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(passages) {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		p := passages[n-1]
		out = append(out, Citation{
			Index:      n,
			SourceType: p.SourceType,
			SourceID:   p.SourceID,
			ChunkID:    p.ID,
			Snippet:    snippet(p.Content),
		})
	}
	return out
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxSnippetRunes {
		return s
	}
	return strings.TrimSpace(string(r[:maxSnippetRunes])) + "…"
}
