package llm

// Ollama adapter. Endpoints used:
//   - POST /api/chat        non-streaming chat completion
//   - POST /api/embeddings  single text embedding
//   - GET  /api/tags        health check (lists available models)

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	ollamaName             = "ollama"
	ollamaDefaultMaxTokens = 1024
)

// OllamaConfig selects the local Ollama instance and its models.
type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

// OllamaAdapter is the local tier. It also serves embeddings and health checks.
type OllamaAdapter struct {
	adapterBase
	cfg OllamaConfig
}

// NewOllamaAdapter creates an OllamaAdapter.
func NewOllamaAdapter(cfg OllamaConfig, opts ...AdapterOption) *OllamaAdapter {
	return &OllamaAdapter{adapterBase: newAdapterBase(ollamaName, opts), cfg: cfg}
}

// ─── internal Ollama JSON types ──────────────────────────────────────────────

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format,omitempty"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         ollamaChatMessage `json:"message"`
	DoneReason      string            `json:"done_reason"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

// ─── ProviderAdapter ─────────────────────────────────────────────────────────

// Name returns "ollama".
func (p *OllamaAdapter) Name() string { return ollamaName }

// Complete performs a non-streaming chat via POST /api/chat.
func (p *OllamaAdapter) Complete(ctx context.Context, req CompletionRequest) Result[Completion] {
	start := time.Now()
	limit := ceiling(req.MaxOutputTokens, ollamaDefaultMaxTokens, 0)
	model := pick(req.Model, p.cfg.ChatModel)

	if err := p.wait(ctx); err != nil {
		return p.fail(start, limit, err)
	}

	body := ollamaChatRequest{
		Model:    model,
		Messages: buildOllamaMessages(req),
		Stream:   false,
		Options:  buildChatOptions(req.Temperature, limit),
	}
	if req.JSONMode {
		body.Format = "json"
	}

	var resp ollamaChatResponse
	if err := p.postJSON(ctx, p.cfg.BaseURL+"/api/chat", nil, body, &resp); err != nil {
		return p.fail(start, limit, err)
	}
	if resp.Message.Content == "" {
		return p.fail(start, limit, fmt.Errorf("ollama: empty completion (done_reason=%q)", resp.DoneReason))
	}

	usage := NewTokenUsage(pick(resp.Model, model), resp.PromptEvalCount, resp.EvalCount)
	return p.succeed(start, limit, resp.Message.Content, usage)
}

func buildOllamaMessages(req CompletionRequest) []ollamaChatMessage {
	msgs := make([]ollamaChatMessage, 0, 2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, ollamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	return append(msgs, ollamaChatMessage{Role: "user", Content: req.UserPrompt})
}

// buildChatOptions converts temperature and the token ceiling into Ollama options.
func buildChatOptions(temperature float64, maxTokens int) map[string]any {
	opts := map[string]any{"temperature": temperature}
	if maxTokens > 0 {
		opts["num_predict"] = maxTokens
	}
	return opts
}

// ─── Embedder ────────────────────────────────────────────────────────────────

// EmbeddingModel returns the configured embedding model.
func (p *OllamaAdapter) EmbeddingModel() string { return p.cfg.EmbedModel }

// Embed sends a single /api/embeddings call and returns the vector.
// Ollama does not support batch embeddings in a single call.
func (p *OllamaAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	var resp ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: p.cfg.EmbedModel, Prompt: text}
	if err := p.postJSON(ctx, p.cfg.BaseURL+"/api/embeddings", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embed: empty vector")
	}
	return resp.Embedding, nil
}

// ─── HealthChecker ───────────────────────────────────────────────────────────

// HealthCheck calls GET /api/tags and returns nil when Ollama is reachable.
func (p *OllamaAdapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama healthcheck: build request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama healthcheck: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama healthcheck: status %d", resp.StatusCode)
	}
	return nil
}
