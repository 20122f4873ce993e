// Package app builds obra's object graph from configuration: one database, one
// HTTP client, one goroutine pool and one Redis client shared by every service.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/obra/internal/api"
	"github.com/matiasleandrokruk/obra/internal/api/handlers"
	"github.com/matiasleandrokruk/obra/internal/domain/audit"
	"github.com/matiasleandrokruk/obra/internal/domain/copilot"
	"github.com/matiasleandrokruk/obra/internal/domain/knowledge"
	"github.com/matiasleandrokruk/obra/internal/infra/cache"
	"github.com/matiasleandrokruk/obra/internal/infra/config"
	"github.com/matiasleandrokruk/obra/internal/infra/eventbus"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
	"github.com/matiasleandrokruk/obra/internal/infra/sqlite"
	"github.com/matiasleandrokruk/obra/internal/infra/telemetry"
	"github.com/matiasleandrokruk/obra/internal/version"
	pkgauth "github.com/matiasleandrokruk/obra/pkg/auth"
)

// ServiceName tags logs and metrics.
const ServiceName = "obra"

// ErrNoJWTSecret is returned by Handler when auth.jwt_secret is unset.
var ErrNoJWTSecret = errors.New("app: auth.jwt_secret (AUTH_JWT_SECRET) is required to serve the API")

// App holds every long-lived service. Build it once and Close it on shutdown.
type App struct {
	Config config.Config
	Log    zerolog.Logger
	DB     *sql.DB

	Router     *llm.TaskRouter
	Ollama     *llm.OllamaAdapter
	Metrics    *telemetry.Metrics
	Ledger     *audit.Ledger
	Embeddings *knowledge.EmbeddingService
	Index      *knowledge.IndexService
	Search     *knowledge.SemanticSearchService
	Retrieval  *knowledge.RetrievalPipeline

	Leads     *copilot.LeadScorer
	Discounts *copilot.DiscountAdvisor
	Calls     *copilot.CallSummarizer
	Assistant *copilot.KnowledgeAssistant

	pool    *ants.Pool
	redis   *redis.Client
	closers []func(context.Context) error
}

// Build opens the database, applies pending migrations and wires every service.
// On error everything opened so far is closed.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	shutdownMeter, err := telemetry.InitMeter(ctx, cfg.Telemetry, ServiceName, version.Version)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownMeter)
	if a.Metrics, err = telemetry.NewMetrics(telemetry.Meter()); err != nil {
		return nil, err
	}

	if a.DB, err = sqlite.NewDB(ctx, cfg.Database.Path); err != nil {
		return nil, err
	}
	applied, err := sqlite.MigrateUp(ctx, a.DB, log)
	if err != nil {
		return nil, err
	}
	if applied > 0 {
		log.Info().Int("applied", applied).Msg("database migrated")
	}

	a.pool, err = ants.NewPool(cfg.Embedding.Concurrency, ants.WithPreAlloc(false))
	if err != nil {
		return nil, fmt.Errorf("app: embedding pool: %w", err)
	}

	if err := a.buildLLM(); err != nil {
		return nil, err
	}
	if err := a.buildKnowledge(ctx); err != nil {
		return nil, err
	}

	a.Ledger = audit.NewLedger(a.DB)
	opts := []copilot.Option{copilot.WithUsageRecorder(a.Ledger), copilot.WithLogger(log)}
	a.Leads = copilot.NewLeadScorer(a.Router, opts...)
	a.Discounts = copilot.NewDiscountAdvisor(a.Router, opts...)
	a.Calls = copilot.NewCallSummarizer(a.Router, opts...)
	a.Assistant = copilot.NewKnowledgeAssistant(a.Router, a.Retrieval, opts...)
	return a, nil
}

// buildLLM wires the fallback chain. Gemini and Groq join only when they have an
// API key; Ollama is always the last tier and serves embeddings.
func (a *App) buildLLM() error {
	cfg := a.Config.LLM
	client := &http.Client{Timeout: cfg.CallTimeout + 5*time.Second}
	adapterOpts := func(rps float64) []llm.AdapterOption {
		return []llm.AdapterOption{
			llm.WithHTTPClient(client),
			llm.WithRateLimit(rps, max(int(rps), 1)),
			llm.WithLogger(a.Log),
		}
	}

	var (
		primary, secondary llm.ProviderAdapter
		transcriber        llm.Transcriber
	)
	if cfg.Gemini.APIKey != "" {
		gemini := llm.NewGeminiAdapter(llm.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
			Model:   cfg.Gemini.Model,
		}, adapterOpts(cfg.Gemini.RPS)...)
		primary, transcriber = gemini, gemini
	}
	if cfg.Groq.APIKey != "" {
		groq, err := llm.NewOpenAIAdapter(llm.OpenAIConfig{
			Name:            "groq",
			APIKey:          cfg.Groq.APIKey,
			BaseURL:         cfg.Groq.BaseURL,
			Model:           cfg.Groq.Model,
			MinOutputTokens: cfg.Groq.MinOutputTokens,
		}, adapterOpts(cfg.Groq.RPS)...)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		secondary = groq
	}
	a.Ollama = llm.NewOllamaAdapter(llm.OllamaConfig{
		BaseURL:    cfg.Ollama.BaseURL,
		ChatModel:  cfg.Ollama.ChatModel,
		EmbedModel: cfg.Ollama.EmbedModel,
	}, adapterOpts(cfg.Ollama.RPS)...)

	tiers := llm.StandardTiers(primary, secondary, a.Ollama)
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = t.Name + "=" + t.Adapter.Name()
	}
	a.Log.Info().Strs("tiers", names).Dur("call_timeout", cfg.CallTimeout).Msg("llm fallback chain")

	orchestrator := llm.NewOrchestrator(tiers,
		llm.WithCallTimeout(cfg.CallTimeout),
		llm.WithOrchestratorLogger(a.Log),
		llm.WithRecorder(a.Metrics),
	)
	a.Router = llm.NewTaskRouter(orchestrator, a.Ollama, transcriber)
	return nil
}

func (a *App) buildKnowledge(ctx context.Context) error {
	embedOpts := []knowledge.EmbeddingOption{
		knowledge.WithEmbeddingLogger(a.Log),
		knowledge.WithItemRecorder(a.Metrics),
	}
	if addr := a.Config.Redis.Addr; addr != "" {
		client, err := cache.Connect(ctx, addr)
		if err != nil {
			return err
		}
		a.redis = client
		embedOpts = append(embedOpts, knowledge.WithVectorCache(
			cache.NewVectorCache(client, a.Config.Redis.TTL, cache.WithLogger(a.Log)),
		))
		a.Log.Info().Str("addr", addr).Dur("ttl", a.Config.Redis.TTL).Msg("embedding cache enabled")
	}

	a.Embeddings = knowledge.NewEmbeddingService(a.Ollama, a.pool, a.Config.Embedding.Dimensions, embedOpts...)
	store := knowledge.NewSQLStore(a.DB)
	bus := eventbus.New(eventbus.WithLogger(a.Log))
	a.Index = knowledge.NewIndexService(store, a.Embeddings, bus, a.Log)
	a.Search = knowledge.NewSemanticSearchService(a.Embeddings, store, a.Log)
	a.Retrieval = knowledge.NewRetrievalPipeline(a.Search, knowledge.NewRerankingService(
		a.Router.Route(llm.TaskScoring), a.Log, knowledge.WithRerankTimeout(a.Config.LLM.CallTimeout),
	))
	return nil
}

// Handler starts the background embedding worker and returns the HTTP API. The
// worker stops when ctx ends.
func (a *App) Handler(ctx context.Context) (http.Handler, error) {
	if a.Config.Auth.JWTSecret == "" {
		return nil, ErrNoJWTSecret
	}
	signer, err := pkgauth.NewSigner(a.Config.Auth.JWTSecret, pkgauth.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.Index.Start(ctx)
	return api.NewRouter(api.Dependencies{
		Logger:    a.Log,
		Tokens:    signer,
		Recorder:  a.Metrics,
		DB:        a.DB,
		Probes:    map[string]handlers.Probe{"ollama": a.Ollama},
		Chains:    a.Router,
		Embedder:  a.Embeddings,
		Ledger:    a.Ledger,
		Index:     a.Index,
		Search:    a.Search,
		Retriever: a.Retrieval,
		Leads:     a.Leads,
		Discounts: a.Discounts,
		Calls:     a.Calls,
		Assistant: a.Assistant,
	}), nil
}

// Close releases the pool, the Redis client, the database and the meter provider.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		a.pool.Release()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	for _, c := range a.closers {
		errs = append(errs, c(ctx))
	}
	return errors.Join(errs...)
}
