package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

const (
	openAIDefaultName    = "groq"
	openAIDefaultBaseURL = "https://api.groq.com/openai/v1"
	openAIDefaultFloor   = 4096
)

// OpenAIConfig selects an OpenAI-compatible chat completions endpoint.
// MinOutputTokens is the ceiling floor: smaller requested ceilings are raised to it.
type OpenAIConfig struct {
	Name            string
	APIKey          string
	BaseURL         string
	Model           string
	MinOutputTokens int
}

// OpenAIAdapter is the fast secondary tier, speaking the OpenAI chat API through langchaingo.
type OpenAIAdapter struct {
	adapterBase
	cfg    OpenAIConfig
	client llms.Model
}

// NewOpenAIAdapter builds the langchaingo client for cfg.
func NewOpenAIAdapter(cfg OpenAIConfig, opts ...AdapterOption) (*OpenAIAdapter, error) {
	if cfg.Name == "" {
		cfg.Name = openAIDefaultName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIDefaultBaseURL
	}
	if cfg.MinOutputTokens <= 0 {
		cfg.MinOutputTokens = openAIDefaultFloor
	}
	base := newAdapterBase(cfg.Name, opts)

	// local OpenAI-compatible servers accept any token
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	client, err := lcopenai.New(
		lcopenai.WithBaseURL(cfg.BaseURL),
		lcopenai.WithToken(token),
		lcopenai.WithModel(cfg.Model),
		lcopenai.WithHTTPClient(base.http),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: create client: %w", cfg.Name, err)
	}
	return &OpenAIAdapter{adapterBase: base, cfg: cfg, client: client}, nil
}

// Name returns the configured adapter name.
func (a *OpenAIAdapter) Name() string { return a.cfg.Name }

// Complete sends one chat completion. The ceiling is raised to MinOutputTokens so fast
// models do not truncate structured output.
func (a *OpenAIAdapter) Complete(ctx context.Context, req CompletionRequest) Result[Completion] {
	start := time.Now()
	limit := ceiling(req.MaxOutputTokens, a.cfg.MinOutputTokens, a.cfg.MinOutputTokens)
	model := pick(req.Model, a.cfg.Model)

	if err := a.wait(ctx); err != nil {
		return a.fail(start, limit, err)
	}

	messages := make([]llms.MessageContent, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.UserPrompt))

	callOpts := []llms.CallOption{
		llms.WithModel(model),
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(limit),
	}
	if req.JSONMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := a.client.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return a.fail(start, limit, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return a.fail(start, limit, fmt.Errorf("%s: no choices returned", a.cfg.Name))
	}

	choice := resp.Choices[0]
	usage := NewTokenUsage(model,
		infoInt(choice.GenerationInfo, "PromptTokens"),
		infoInt(choice.GenerationInfo, "CompletionTokens"))
	return a.succeed(start, limit, choice.Content, usage)
}

// infoInt reads a token count from langchaingo's GenerationInfo map.
func infoInt(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
