package copilot

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/matiasleandrokruk/obra/internal/domain/audit"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// DefaultMaxDiscountPct caps a suggestion when the input sets no cap.
const DefaultMaxDiscountPct = 25.0

// Suggestion sources.
const (
	SourceAI    = "ai"
	SourceRules = "rules"
)

// DiscountInput describes one quote line.
type DiscountInput struct {
	WorkspaceID     string  `json:"workspace_id" validate:"required"`
	ActorID         string  `json:"-"`
	Product         string  `json:"product" validate:"required,max=256"`
	ListPrice       float64 `json:"list_price" validate:"gt=0"`
	Quantity        int     `json:"quantity" validate:"gte=1"`
	CustomerTier    string  `json:"customer_tier" validate:"omitempty,oneof=new regular key"`
	CompetitorPrice float64 `json:"competitor_price" validate:"gte=0"`
	MaxDiscountPct  float64 `json:"max_discount_pct" validate:"gte=0,lte=100"`
}

// DiscountSuggestion is the recommended discount on the unit price.
type DiscountSuggestion struct {
	DiscountPct float64 `json:"discount_pct"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
	Rationale   string  `json:"rationale"`
	Source      string  `json:"source"`
}

type discountReply struct {
	DiscountPct float64 `json:"discount_pct"`
	Rationale   string  `json:"rationale"`
}

// DiscountAdvisor suggests discounts with the scoring tier and falls back to volume
// rules when every provider fails.
type DiscountAdvisor struct {
	base
}

// NewDiscountAdvisor creates a DiscountAdvisor.
func NewDiscountAdvisor(router *llm.TaskRouter, opts ...Option) *DiscountAdvisor {
	return &DiscountAdvisor{base: newBase(router, "copilot.discount", opts)}
}

// Suggest never fails once the input is valid. When the AI result fails the
// rule-based suggestion is returned with Source "rules", Meta.Degraded set and the
// AI error in Meta.Errors.
func (a *DiscountAdvisor) Suggest(ctx context.Context, in DiscountInput) llm.Result[DiscountSuggestion] {
	start := time.Now()
	call := audit.Call{WorkspaceID: in.WorkspaceID, ActorID: in.ActorID, Operation: "copilot.suggest_discount", Task: llm.TaskScoring}
	if verr := a.checkInput(in); verr != nil {
		return llm.Fail[DiscountSuggestion](verr, llm.Meta{}.Since(start))
	}
	ceiling := in.MaxDiscountPct
	if ceiling == 0 {
		ceiling = DefaultMaxDiscountPct
	}

	res := llm.Run[discountReply](ctx, a.router, llm.ScoringTask{
		System:  a.prompts.Discount.System + "\n" + a.prompts.Discount.Instructions,
		Subject: discountSubject(in),
		Metrics: discountMetrics(in, ceiling),
	})

	var out llm.Result[DiscountSuggestion]
	if res.Success {
		pct := clamp(res.Data.DiscountPct, 0, ceiling)
		out = llm.Succeed(priced(in, pct, strings.TrimSpace(res.Data.Rationale), SourceAI), res.Meta)
	} else {
		a.log.Warn().Str("code", string(res.Error.Code)).Str("product", in.Product).Msg("discount AI failed, using rules")
		meta := res.Meta
		meta.Degraded = true
		meta.Errors = append(meta.Errors, *res.Error)
		pct, why := RuleDiscount(in, ceiling)
		out = llm.Succeed(priced(in, pct, why, SourceRules), meta.Since(start))
	}
	record(ctx, &a.base, call, out)
	return out
}

// RuleDiscount is the deterministic fallback: a volume break plus a customer tier
// bonus, raised to match a lower competitor price, capped at ceiling.
func RuleDiscount(in DiscountInput, ceiling float64) (float64, string) {
	var pct float64
	reasons := make([]string, 0, 3)

	switch {
	case in.Quantity >= 100:
		pct = 10
	case in.Quantity >= 50:
		pct = 7
	case in.Quantity >= 10:
		pct = 3
	}
	if pct > 0 {
		reasons = append(reasons, fmt.Sprintf("volume break for %d units", in.Quantity))
	}

	switch in.CustomerTier {
	case "key":
		pct += 5
		reasons = append(reasons, "key account")
	case "regular":
		pct += 2
		reasons = append(reasons, "regular customer")
	}

	if in.CompetitorPrice > 0 && in.CompetitorPrice < in.ListPrice {
		match := (in.ListPrice - in.CompetitorPrice) / in.ListPrice * 100
		if match > pct {
			pct = match
			reasons = append(reasons, "matches competitor price")
		}
	}

	pct = round2(clamp(pct, 0, ceiling))
	if len(reasons) == 0 {
		return pct, "no discount rule applies"
	}
	return pct, strings.Join(reasons, ", ")
}

func priced(in DiscountInput, pct float64, rationale, source string) DiscountSuggestion {
	pct = round2(pct)
	unit := round2(in.ListPrice * (1 - pct/100))
	return DiscountSuggestion{
		DiscountPct: pct,
		UnitPrice:   unit,
		Total:       round2(unit * float64(in.Quantity)),
		Rationale:   rationale,
		Source:      source,
	}
}

func discountSubject(in DiscountInput) string {
	tier := in.CustomerTier
	if tier == "" {
		tier = "unknown"
	}
	return fmt.Sprintf("Product: %s\nCustomer tier: %s", strings.TrimSpace(in.Product), tier)
}

func discountMetrics(in DiscountInput, ceiling float64) map[string]float64 {
	m := map[string]float64{
		"list_price":       in.ListPrice,
		"quantity":         float64(in.Quantity),
		"max_discount_pct": ceiling,
	}
	if in.CompetitorPrice > 0 {
		m["competitor_price"] = in.CompetitorPrice
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
