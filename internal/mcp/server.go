// Package mcp exposes the knowledge search and the scoring kernels as Model Context
// Protocol tools. The server is bound to one workspace; there is no bearer token on
// a stdio transport.
package mcp

import (
	"context"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/obra/internal/domain/copilot"
	"github.com/matiasleandrokruk/obra/internal/domain/knowledge"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// Tool names.
const (
	ToolSearchKnowledge = "search_knowledge"
	ToolScoreLead       = "score_lead"
	ToolSuggestDiscount = "suggest_discount"
)

// ActorID is the actor recorded in the usage ledger for tool calls.
const ActorID = "mcp"

type (
	Searcher interface {
		Search(ctx context.Context, in knowledge.SearchInput) llm.Result[[]knowledge.SemanticCandidate]
	}
	LeadScorer interface {
		Score(ctx context.Context, in copilot.LeadInput) llm.Result[copilot.LeadScore]
	}
	DiscountAdvisor interface {
		Suggest(ctx context.Context, in copilot.DiscountInput) llm.Result[copilot.DiscountSuggestion]
	}
)

// Services are the operations the tools call.
type Services struct {
	Search    Searcher
	Leads     LeadScorer
	Discounts DiscountAdvisor
}

// ErrNoWorkspace is returned by NewServer without a workspace id.
var ErrNoWorkspace = errors.New("mcp: workspace id is required")

// SearchArgs are the arguments of search_knowledge.
type SearchArgs struct {
	Query     string   `json:"query" jsonschema:"natural language query"`
	Sources   []string `json:"sources,omitempty" jsonschema:"source collections to search: product, kb_article, call_note, document; all when empty"`
	Limit     int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Threshold float64  `json:"threshold,omitempty" jsonschema:"minimum similarity between 0 and 1"`
}

// SearchResults is the output of search_knowledge.
type SearchResults struct {
	Results []knowledge.SemanticCandidate `json:"results"`
}

// LeadArgs are the arguments of score_lead.
type LeadArgs struct {
	LeadID  string             `json:"lead_id,omitempty" jsonschema:"CRM id of the lead"`
	Company string             `json:"company" jsonschema:"company name"`
	Notes   string             `json:"notes,omitempty" jsonschema:"free-form notes about the lead"`
	Metrics map[string]float64 `json:"metrics,omitempty" jsonschema:"numeric signals such as visits or deal_size"`
}

// DiscountArgs are the arguments of suggest_discount.
type DiscountArgs struct {
	Product         string  `json:"product" jsonschema:"product name or SKU"`
	ListPrice       float64 `json:"list_price" jsonschema:"unit list price"`
	Quantity        int     `json:"quantity" jsonschema:"number of units"`
	CustomerTier    string  `json:"customer_tier,omitempty" jsonschema:"new, regular or key"`
	CompetitorPrice float64 `json:"competitor_price,omitempty" jsonschema:"competitor unit price, if known"`
	MaxDiscountPct  float64 `json:"max_discount_pct,omitempty" jsonschema:"discount ceiling in percent"`
}

type server struct {
	svc       Services
	workspace string
	log       zerolog.Logger
}

// NewServer builds the MCP server with the three tools registered.
func NewServer(svc Services, workspaceID, version string, log zerolog.Logger) (*mcpsdk.Server, error) {
	if workspaceID == "" {
		return nil, ErrNoWorkspace
	}
	s := &server{svc: svc, workspace: workspaceID, log: log.With().Str("component", "mcp").Logger()}

	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "obra", Version: version}, nil)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolSearchKnowledge,
		Description: "Semantic search over the product catalog, knowledge base articles and call notes.",
	}, s.searchKnowledge)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolScoreLead,
		Description: "Score a sales lead from 0 to 100 and bucket it as hot, warm or cold.",
	}, s.scoreLead)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolSuggestDiscount,
		Description: "Suggest a discount for a quote line. Falls back to volume rules when no model answers.",
	}, s.suggestDiscount)
	return srv, nil
}

func (s *server) searchKnowledge(ctx context.Context, _ *mcpsdk.CallToolRequest, args SearchArgs) (*mcpsdk.CallToolResult, SearchResults, error) {
	sources := make([]knowledge.SourceType, 0, len(args.Sources))
	for _, raw := range args.Sources {
		st, err := knowledge.ParseSourceType(raw)
		if err != nil {
			return nil, SearchResults{}, err
		}
		sources = append(sources, st)
	}
	res := s.svc.Search.Search(ctx, knowledge.SearchInput{
		Query:       args.Query,
		WorkspaceID: s.workspace,
		Limit:       args.Limit,
		Threshold:   args.Threshold,
		Sources:     sources,
	})
	if err := toolError(ToolSearchKnowledge, res.Success, res.Error); err != nil {
		return nil, SearchResults{}, err
	}
	out := SearchResults{Results: res.Data}
	if out.Results == nil {
		out.Results = []knowledge.SemanticCandidate{}
	}
	return nil, out, nil
}

func (s *server) scoreLead(ctx context.Context, _ *mcpsdk.CallToolRequest, args LeadArgs) (*mcpsdk.CallToolResult, copilot.LeadScore, error) {
	res := s.svc.Leads.Score(ctx, copilot.LeadInput{
		WorkspaceID: s.workspace,
		ActorID:     ActorID,
		LeadID:      args.LeadID,
		Company:     args.Company,
		Notes:       args.Notes,
		Metrics:     args.Metrics,
	})
	if err := toolError(ToolScoreLead, res.Success, res.Error); err != nil {
		return nil, copilot.LeadScore{}, err
	}
	return nil, res.Data, nil
}

func (s *server) suggestDiscount(ctx context.Context, _ *mcpsdk.CallToolRequest, args DiscountArgs) (*mcpsdk.CallToolResult, copilot.DiscountSuggestion, error) {
	res := s.svc.Discounts.Suggest(ctx, copilot.DiscountInput{
		WorkspaceID:     s.workspace,
		ActorID:         ActorID,
		Product:         args.Product,
		ListPrice:       args.ListPrice,
		Quantity:        args.Quantity,
		CustomerTier:    args.CustomerTier,
		CompetitorPrice: args.CompetitorPrice,
		MaxDiscountPct:  args.MaxDiscountPct,
	})
	if err := toolError(ToolSuggestDiscount, res.Success, res.Error); err != nil {
		return nil, copilot.DiscountSuggestion{}, err
	}
	if res.Meta.Degraded {
		s.log.Warn().Str("tool", ToolSuggestDiscount).Msg("served rule-based discount")
	}
	return nil, res.Data, nil
}

// toolError turns a failed envelope into the error the SDK reports as a tool
// error result.
func toolError(tool string, ok bool, cerr *llm.CompletionError) error {
	if ok {
		return nil
	}
	return fmt.Errorf("%s: %w", tool, cerr)
}
