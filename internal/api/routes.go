package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/obra/internal/api/handlers"
	apmiddleware "github.com/matiasleandrokruk/obra/internal/api/middleware"
)

// Dependencies are the services the router serves. Every field except Probes and
// Recorder is required.
type Dependencies struct {
	Logger   zerolog.Logger
	Tokens   apmiddleware.TokenParser
	Recorder apmiddleware.RequestRecorder

	DB     handlers.Pinger
	Probes map[string]handlers.Probe

	Chains   handlers.ChainSelector
	Embedder handlers.TextEmbedder
	Ledger   handlers.UsageLedger

	Index     handlers.Indexer
	Search    handlers.Searcher
	Retriever handlers.Retriever

	Leads     handlers.LeadScorer
	Discounts handlers.DiscountAdvisor
	Calls     handlers.CallSummarizer
	Assistant handlers.Assistant
}

// NewRouter builds the chi router: public probes at the root and the
// token-protected API under /api/v1.
func NewRouter(deps Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apmiddleware.AccessLog(deps.Logger, deps.Recorder))
	r.Use(middleware.Recoverer)

	// ===== PUBLIC ROUTES =====

	health := handlers.NewHealthHandler(deps.DB, deps.Probes)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	// ===== PROTECTED ROUTES =====

	ai := handlers.NewAIHandler(deps.Chains, deps.Embedder, deps.Ledger, deps.Logger)
	kb := handlers.NewKnowledgeHandler(deps.Index, deps.Search, deps.Retriever, deps.Logger)
	cp := handlers.NewCopilotHandler(deps.Leads, deps.Discounts, deps.Calls, deps.Assistant)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apmiddleware.Auth(deps.Tokens))

		r.Route("/ai", func(r chi.Router) {
			r.Post("/complete", ai.Complete) // POST /api/v1/ai/complete
			r.Post("/embed", ai.Embed)       // POST /api/v1/ai/embed
			r.Get("/usage", ai.Usage)        // GET /api/v1/ai/usage
		})

		r.Route("/knowledge", func(r chi.Router) {
			r.Post("/documents", kb.IngestDocument)
			r.Post("/search", kb.Search)
			r.Post("/backfill", kb.Backfill)
		})

		r.Route("/copilot", func(r chi.Router) {
			r.Post("/leads/score", cp.ScoreLead)
			r.Post("/discounts", cp.SuggestDiscount)
			r.Post("/calls/summarize", cp.SummarizeCall)
			r.Post("/ask", cp.Ask)
		})
	})

	return r
}
