package copilot

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/matiasleandrokruk/obra/internal/domain/audit"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// LeadTier buckets a lead score.
type LeadTier string

const (
	TierHot  LeadTier = "hot"
	TierWarm LeadTier = "warm"
	TierCold LeadTier = "cold"
)

// TierFor maps a 0-100 score to its tier.
func TierFor(score int) LeadTier {
	switch {
	case score >= 70:
		return TierHot
	case score >= 40:
		return TierWarm
	default:
		return TierCold
	}
}

// LeadInput describes the lead to score. Metrics are free-form numeric signals such
// as visits, deal_size or age_days.
type LeadInput struct {
	WorkspaceID string             `json:"workspace_id" validate:"required"`
	ActorID     string             `json:"-"`
	LeadID      string             `json:"lead_id"`
	Company     string             `json:"company" validate:"required,max=256"`
	Notes       string             `json:"notes" validate:"max=4000"`
	Metrics     map[string]float64 `json:"metrics"`
}

// LeadScore is the scored lead.
type LeadScore struct {
	LeadID  string   `json:"lead_id,omitempty"`
	Score   int      `json:"score"`
	Tier    LeadTier `json:"tier"`
	Reasons []string `json:"reasons"`
}

type leadReply struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// LeadScorer rates leads through the scoring task.
type LeadScorer struct {
	base
}

// NewLeadScorer creates a LeadScorer.
func NewLeadScorer(router *llm.TaskRouter, opts ...Option) *LeadScorer {
	return &LeadScorer{base: newBase(router, "copilot.lead", opts)}
}

// Score asks the scoring tier for a 0-100 score. The tier is derived from the score,
// never taken from the model.
func (s *LeadScorer) Score(ctx context.Context, in LeadInput) llm.Result[LeadScore] {
	start := time.Now()
	call := audit.Call{WorkspaceID: in.WorkspaceID, ActorID: in.ActorID, Operation: "copilot.score_lead", Task: llm.TaskScoring}
	if verr := s.checkInput(in); verr != nil {
		return llm.Fail[LeadScore](verr, llm.Meta{}.Since(start))
	}

	res := llm.Run[leadReply](ctx, s.router, llm.ScoringTask{
		System:  s.prompts.LeadScore.System,
		Subject: leadSubject(in),
		Metrics: in.Metrics,
	})
	record(ctx, &s.base, call, res)
	if !res.Success {
		return llm.Recast[leadReply, LeadScore](res)
	}

	score := int(math.Round(clamp(res.Data.Score, 0, 100)))
	out := LeadScore{
		LeadID:  in.LeadID,
		Score:   score,
		Tier:    TierFor(score),
		Reasons: cleanList(res.Data.Reasons, 3),
	}
	s.log.Debug().Str("lead_id", in.LeadID).Int("score", score).Str("provider", res.Meta.Provider).Msg("lead scored")
	return llm.Succeed(out, res.Meta)
}

func leadSubject(in LeadInput) string {
	b := strings.Builder{}
	b.WriteString("Company: ")
	b.WriteString(strings.TrimSpace(in.Company))
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		b.WriteString("\nNotes: ")
		b.WriteString(notes)
	}
	return b.String()
}
