package handlers

import (
	"context"
	"net/http"

	"github.com/matiasleandrokruk/obra/internal/domain/copilot"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// The copilot kernels, as the handler sees them.
type (
	LeadScorer interface {
		Score(ctx context.Context, in copilot.LeadInput) llm.Result[copilot.LeadScore]
	}
	DiscountAdvisor interface {
		Suggest(ctx context.Context, in copilot.DiscountInput) llm.Result[copilot.DiscountSuggestion]
	}
	CallSummarizer interface {
		Summarize(ctx context.Context, in copilot.CallInput) llm.Result[copilot.CallSummary]
	}
	Assistant interface {
		Answer(ctx context.Context, in copilot.AskInput) llm.Result[copilot.Answer]
	}
)

// CopilotHandler serves the CRM copilot features. The workspace and actor always
// come from the token, never from the body.
type CopilotHandler struct {
	leads     LeadScorer
	discounts DiscountAdvisor
	calls     CallSummarizer
	assistant Assistant
}

// NewCopilotHandler creates a CopilotHandler.
func NewCopilotHandler(leads LeadScorer, discounts DiscountAdvisor, calls CallSummarizer, assistant Assistant) *CopilotHandler {
	return &CopilotHandler{leads: leads, discounts: discounts, calls: calls, assistant: assistant}
}

// ScoreLead handles POST /api/v1/copilot/leads/score.
func (h *CopilotHandler) ScoreLead(w http.ResponseWriter, r *http.Request) {
	serveKernel(w, r, h.leads.Score, func(in *copilot.LeadInput, id identity) {
		in.WorkspaceID, in.ActorID = id.WorkspaceID, id.UserID
	})
}

// SuggestDiscount handles POST /api/v1/copilot/discounts.
func (h *CopilotHandler) SuggestDiscount(w http.ResponseWriter, r *http.Request) {
	serveKernel(w, r, h.discounts.Suggest, func(in *copilot.DiscountInput, id identity) {
		in.WorkspaceID, in.ActorID = id.WorkspaceID, id.UserID
	})
}

// SummarizeCall handles POST /api/v1/copilot/calls/summarize.
func (h *CopilotHandler) SummarizeCall(w http.ResponseWriter, r *http.Request) {
	serveKernel(w, r, h.calls.Summarize, func(in *copilot.CallInput, id identity) {
		in.WorkspaceID, in.ActorID = id.WorkspaceID, id.UserID
	})
}

// Ask handles POST /api/v1/copilot/ask.
func (h *CopilotHandler) Ask(w http.ResponseWriter, r *http.Request) {
	serveKernel(w, r, h.assistant.Answer, func(in *copilot.AskInput, id identity) {
		in.WorkspaceID, in.ActorID = id.WorkspaceID, id.UserID
	})
}

// serveKernel decodes In, stamps the caller identity on it, runs the kernel and
// writes its envelope.
func serveKernel[In, Out any](
	w http.ResponseWriter,
	r *http.Request,
	run func(context.Context, In) llm.Result[Out],
	stamp func(*In, identity),
) {
	id, err := getIdentity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing workspace context")
		return
	}

	var in In
	if err := decodeBody(w, r, &in); err != nil {
		writeInvalid[Out](w, err)
		return
	}
	stamp(&in, id)
	writeResult(w, run(r.Context(), in))
}
