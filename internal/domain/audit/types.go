package audit

import (
	"time"

	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// Outcome represents the result of an audited AI call
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeDegraded Outcome = "degraded"
	OutcomeError    Outcome = "error"
)

// UsageRecord is a single AI usage entry.
// This is immutable - once written it is never updated
type UsageRecord struct {
	ID           string    `json:"id"`
	WorkspaceID  string    `json:"workspace_id"`
	ActorID      string    `json:"actor_id,omitempty"`
	Operation    string    `json:"operation"`
	Task         string    `json:"task,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Success      bool      `json:"success"`
	ErrorCode    string    `json:"error_code,omitempty"`
	Degraded     bool      `json:"degraded"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Outcome classifies the record.
func (r UsageRecord) Outcome() Outcome {
	switch {
	case !r.Success:
		return OutcomeError
	case r.Degraded:
		return OutcomeDegraded
	default:
		return OutcomeSuccess
	}
}

// Call identifies who asked for an AI operation.
type Call struct {
	WorkspaceID string
	ActorID     string
	Operation   string
	Task        llm.TaskType
}

// FromResult builds the record of one finished call from its envelope.
func FromResult[T any](c Call, res llm.Result[T]) UsageRecord {
	rec := UsageRecord{
		WorkspaceID: c.WorkspaceID,
		ActorID:     c.ActorID,
		Operation:   c.Operation,
		Task:        c.Task.String(),
		Provider:    res.Meta.Provider,
		Success:     res.Success,
		Degraded:    res.Meta.Degraded,
		DurationMs:  res.Meta.ProcessingTimeMs,
	}
	if res.Error != nil {
		rec.ErrorCode = string(res.Error.Code)
	}
	if u := res.Meta.TokenUsage; u != nil {
		rec.Model = u.Model
		rec.InputTokens = u.InputTokens
		rec.OutputTokens = u.OutputTokens
		rec.TotalTokens = u.TotalTokens
	}
	return rec
}

// UsageTotals aggregates the ledger of one workspace.
type UsageTotals struct {
	Calls       int `json:"calls"`
	Failures    int `json:"failures"`
	Degraded    int `json:"degraded"`
	TotalTokens int `json:"total_tokens"`
}
