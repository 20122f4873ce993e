package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TaskType is the closed set of logical AI tasks.
type TaskType int

const (
	TaskReasoning TaskType = iota
	TaskScoring
	TaskTranscription
	TaskEmbedding
	TaskSummarization
)

var taskNames = map[TaskType]string{
	TaskReasoning:     "reasoning",
	TaskScoring:       "scoring",
	TaskTranscription: "transcription",
	TaskEmbedding:     "embedding",
	TaskSummarization: "summarization",
}

func (t TaskType) String() string {
	if name, ok := taskNames[t]; ok {
		return name
	}
	return fmt.Sprintf("task(%d)", int(t))
}

// ParseTaskType maps a task name to its TaskType. Unknown names fail open to
// TaskReasoning.
func ParseTaskType(s string) TaskType {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range taskNames {
		if name == s {
			return t
		}
	}
	return TaskReasoning
}

// TaskDefaults are the sampling settings applied when a payload leaves them unset.
type TaskDefaults struct {
	Temperature     float64
	MaxOutputTokens int
}

var defaultTaskSettings = map[TaskType]TaskDefaults{
	TaskReasoning:     {Temperature: 0.7, MaxOutputTokens: 2048},
	TaskScoring:       {Temperature: 0.1, MaxOutputTokens: 512},
	TaskSummarization: {Temperature: 0.3, MaxOutputTokens: 1024},
}

// ============================================================================
// TASK PAYLOADS
// ============================================================================

// TaskPayload is a typed request for one completion task. The set of
// implementations is closed: ReasoningTask, ScoringTask, SummarizationTask.
type TaskPayload interface {
	Task() TaskType
	sealed()
}

// Sampling overrides the task defaults. Zero values keep the default.
type Sampling struct {
	Temperature     *float64
	MaxOutputTokens int
}

// ReasoningTask is a free-form prompt answered by the reasoning tier.
type ReasoningTask struct {
	System string
	Prompt string
	Sampling
}

// ScoringTask asks for a judgement over a subject and numeric metrics.
type ScoringTask struct {
	System  string
	Subject string
	Metrics map[string]float64
	Sampling
}

// SummarizationTask condenses Text, optionally guided by Instructions.
type SummarizationTask struct {
	System       string
	Instructions string
	Text         string
	Sampling
}

// TranscriptionTask carries audio by URL or inline base64, exactly one of them.
type TranscriptionTask struct {
	AudioURL    string
	AudioBase64 string
	MimeType    string
}

func (ReasoningTask) Task() TaskType     { return TaskReasoning }
func (ScoringTask) Task() TaskType       { return TaskScoring }
func (SummarizationTask) Task() TaskType { return TaskSummarization }

func (ReasoningTask) sealed()     {}
func (ScoringTask) sealed()       {}
func (SummarizationTask) sealed() {}

// ============================================================================
// ROUTER
// ============================================================================

// TaskRouter maps tasks to providers and shapes task payloads into requests.
// It is built once at startup with every collaborator injected.
type TaskRouter struct {
	orchestrator *Orchestrator
	embedder     Embedder
	transcriber  Transcriber
	defaults     map[TaskType]TaskDefaults
}

// NewTaskRouter creates a TaskRouter. embedder and transcriber may be nil when the
// deployment does not use those tasks.
func NewTaskRouter(o *Orchestrator, embedder Embedder, transcriber Transcriber) *TaskRouter {
	defaults := make(map[TaskType]TaskDefaults, len(defaultTaskSettings))
	for k, v := range defaultTaskSettings {
		defaults[k] = v
	}
	return &TaskRouter{orchestrator: o, embedder: embedder, transcriber: transcriber, defaults: defaults}
}

// tierFor is the exhaustive task to tier mapping. Unknown tasks take the
// reasoning tier.
func tierFor(t TaskType) string {
	switch t {
	case TaskReasoning, TaskSummarization:
		return TierPrimary
	case TaskScoring:
		return TierSecondary
	case TaskTranscription, TaskEmbedding:
		return ""
	default:
		return TierPrimary
	}
}

// Route returns the adapter that serves t. Embedding and transcription return the
// dedicated adapter when it is also a ProviderAdapter; everything else, including
// unknown task types, falls back to the reasoning provider.
func (r *TaskRouter) Route(t TaskType) ProviderAdapter {
	switch t {
	case TaskEmbedding:
		if p, ok := r.embedder.(ProviderAdapter); ok {
			return p
		}
	case TaskTranscription:
		if p, ok := r.transcriber.(ProviderAdapter); ok {
			return p
		}
	}
	if p, ok := r.orchestrator.Adapter(tierFor(t)); ok {
		return p
	}
	if p, ok := r.orchestrator.Adapter(TierPrimary); ok {
		return p
	}
	tiers := r.orchestrator.Tiers()
	if len(tiers) == 0 {
		return nil
	}
	return tiers[0].Adapter
}

// Embedder returns the embedding adapter.
func (r *TaskRouter) Embedder() Embedder { return r.embedder }

// Orchestrator returns the chain preferred for t.
func (r *TaskRouter) Orchestrator(t TaskType) *Orchestrator {
	if tier := tierFor(t); tier != "" {
		return r.orchestrator.Prefer(tier)
	}
	return r.orchestrator
}

// Request shapes a payload into a CompletionRequest with the task defaults applied.
func (r *TaskRouter) Request(p TaskPayload) CompletionRequest {
	d := r.defaults[p.Task()]
	var req CompletionRequest
	var s Sampling

	switch v := p.(type) {
	case ReasoningTask:
		req = CompletionRequest{SystemPrompt: v.System, UserPrompt: v.Prompt}
		s = v.Sampling
	case ScoringTask:
		req = CompletionRequest{SystemPrompt: v.System, UserPrompt: renderScoring(v)}
		s = v.Sampling
	case SummarizationTask:
		req = CompletionRequest{SystemPrompt: v.System, UserPrompt: renderSummarization(v)}
		s = v.Sampling
	}

	req.Temperature = d.Temperature
	if s.Temperature != nil {
		req.Temperature = *s.Temperature
	}
	req.MaxOutputTokens = d.MaxOutputTokens
	if s.MaxOutputTokens > 0 {
		req.MaxOutputTokens = s.MaxOutputTokens
	}
	return req
}

// Run executes a JSON task through the fallback chain preferred for its type.
func Run[T any](ctx context.Context, r *TaskRouter, p TaskPayload) Result[T] {
	return Orchestrate[T](ctx, r.Orchestrator(p.Task()), r.Request(p))
}

// Text executes a plain text task through the fallback chain preferred for its type.
func (r *TaskRouter) Text(ctx context.Context, p TaskPayload) Result[Completion] {
	return r.Orchestrator(p.Task()).Complete(ctx, r.Request(p))
}

// Transcribe sends the audio to the transcription adapter, by URL or by inline data,
// under the chain's per-call deadline.
func (r *TaskRouter) Transcribe(ctx context.Context, t TranscriptionTask) Result[Transcript] {
	start := time.Now()
	if r.transcriber == nil {
		return Fail[Transcript](NewError(CodeTranscription, "no transcription provider configured", nil), Meta{}.Since(start))
	}

	var audio AudioInput
	switch {
	case t.AudioURL != "" && t.AudioBase64 != "":
		return invalid[Transcript](start, NewError(CodeInvalidRequest, "set either audio URL or base64 audio, not both", nil))
	case t.AudioURL != "":
		audio = AudioInput{URL: t.AudioURL, MimeType: t.MimeType}
	case t.AudioBase64 != "":
		audio = AudioInput{Base64: t.AudioBase64, MimeType: t.MimeType}
	default:
		return invalid[Transcript](start, NewError(CodeInvalidRequest, "audio URL or base64 audio is required", nil))
	}
	if d := r.orchestrator.CallTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return r.transcriber.Transcribe(ctx, audio)
}

// ─── payload rendering ───────────────────────────────────────────────────────

func renderScoring(t ScoringTask) string {
	keys := make([]string, 0, len(t.Metrics))
	for k := range t.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(t.Subject)
	sb.WriteString("\n\nmetrics:\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %s: %g\n", k, t.Metrics[k])
	}
	return sb.String()
}

func renderSummarization(t SummarizationTask) string {
	if t.Instructions == "" {
		return t.Text
	}
	return t.Instructions + "\n\n" + t.Text
}
