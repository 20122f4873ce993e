package copilot

import (
	"context"
	"strings"
	"time"

	"github.com/matiasleandrokruk/obra/internal/domain/audit"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// Sentiment of a call.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

func parseSentiment(s string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// CallInput carries a sales call as a transcript or as audio. Audio is only
// transcribed when Transcript is empty.
type CallInput struct {
	WorkspaceID string `json:"workspace_id" validate:"required"`
	ActorID     string `json:"-"`
	CallID      string `json:"call_id"`
	Transcript  string `json:"transcript"`
	AudioURL    string `json:"audio_url" validate:"omitempty,url"`
	AudioBase64 string `json:"audio_base64" validate:"omitempty,base64"`
	MimeType    string `json:"mime_type"`
}

// CallSummary is the CRM-ready digest of a call.
type CallSummary struct {
	CallID      string    `json:"call_id,omitempty"`
	Summary     string    `json:"summary"`
	ActionItems []string  `json:"action_items"`
	Sentiment   Sentiment `json:"sentiment"`
	Transcript  string    `json:"transcript"`
}

type callReply struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"action_items"`
	Sentiment   string   `json:"sentiment"`
}

// CallSummarizer turns a call into a summary, transcribing audio first if needed.
type CallSummarizer struct {
	base
}

// NewCallSummarizer creates a CallSummarizer.
func NewCallSummarizer(router *llm.TaskRouter, opts ...Option) *CallSummarizer {
	return &CallSummarizer{base: newBase(router, "copilot.call", opts)}
}

// Summarize transcribes the audio when no transcript is given, then runs the
// summarization task. A failed transcription is returned as is.
func (s *CallSummarizer) Summarize(ctx context.Context, in CallInput) llm.Result[CallSummary] {
	start := time.Now()
	if verr := s.checkInput(in); verr != nil {
		return llm.Fail[CallSummary](verr, llm.Meta{}.Since(start))
	}

	transcript := strings.TrimSpace(in.Transcript)
	if transcript == "" {
		tr := s.router.Transcribe(ctx, llm.TranscriptionTask{
			AudioURL:    in.AudioURL,
			AudioBase64: in.AudioBase64,
			MimeType:    in.MimeType,
		})
		record(ctx, &s.base, audit.Call{WorkspaceID: in.WorkspaceID, ActorID: in.ActorID, Operation: "copilot.transcribe_call", Task: llm.TaskTranscription}, tr)
		if !tr.Success {
			return llm.Recast[llm.Transcript, CallSummary](tr)
		}
		transcript = tr.Data.Text
	}

	res := llm.Run[callReply](ctx, s.router, llm.SummarizationTask{
		System:       s.prompts.CallSummary.System,
		Instructions: s.prompts.CallSummary.Instructions,
		Text:         transcript,
	})
	record(ctx, &s.base, audit.Call{WorkspaceID: in.WorkspaceID, ActorID: in.ActorID, Operation: "copilot.summarize_call", Task: llm.TaskSummarization}, res)
	if !res.Success {
		return llm.Recast[callReply, CallSummary](res)
	}

	meta := res.Meta
	return llm.Succeed(CallSummary{
		CallID:      in.CallID,
		Summary:     strings.TrimSpace(res.Data.Summary),
		ActionItems: cleanList(res.Data.ActionItems, 10),
		Sentiment:   parseSentiment(res.Data.Sentiment),
		Transcript:  transcript,
	}, meta.Since(start))
}
