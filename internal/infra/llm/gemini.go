package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	geminiName             = "gemini"
	geminiDefaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultMaxTokens = 2048
	geminiAPIKeyHeader     = "x-goog-api-key"
	transcribeInstruction  = "Transcribe this audio verbatim. Return only the transcript text."
)

// GeminiConfig selects the Gemini endpoint and model.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GeminiAdapter is the primary tier. It also transcribes audio.
type GeminiAdapter struct {
	adapterBase
	cfg GeminiConfig
}

// NewGeminiAdapter creates a GeminiAdapter; an empty BaseURL uses the public API.
func NewGeminiAdapter(cfg GeminiConfig, opts ...AdapterOption) *GeminiAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = geminiDefaultBaseURL
	}
	return &GeminiAdapter{adapterBase: newAdapterBase(geminiName, opts), cfg: cfg}
}

// ─── internal Gemini JSON types ──────────────────────────────────────────────

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// text joins the parts of the first candidate.
func (r geminiResponse) text() (string, string) {
	if len(r.Candidates) == 0 {
		return "", ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), r.Candidates[0].FinishReason
}

// ─── ProviderAdapter ─────────────────────────────────────────────────────────

// Name returns "gemini".
func (a *GeminiAdapter) Name() string { return geminiName }

// Complete calls models/{model}:generateContent.
func (a *GeminiAdapter) Complete(ctx context.Context, req CompletionRequest) Result[Completion] {
	start := time.Now()
	limit := ceiling(req.MaxOutputTokens, geminiDefaultMaxTokens, 0)
	model := pick(req.Model, a.cfg.Model)

	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.UserPrompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: limit,
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	if req.JSONMode {
		body.GenerationConfig.ResponseMimeType = mimeJSON
	}

	resp, err := a.generate(ctx, model, body)
	if err != nil {
		return a.fail(start, limit, err)
	}
	content, finish := resp.text()
	if content == "" {
		return a.fail(start, limit, fmt.Errorf("gemini: empty completion (finishReason=%q)", finish))
	}

	usage := NewTokenUsage(pick(resp.ModelVersion, model),
		resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount)
	return a.succeed(start, limit, content, usage)
}

// ─── Transcriber ─────────────────────────────────────────────────────────────

// Transcribe sends audio as inline base64 data or as a file URI, whichever is set.
func (a *GeminiAdapter) Transcribe(ctx context.Context, audio AudioInput) Result[Transcript] {
	start := time.Now()
	part, perr := audioPart(audio)
	if perr != nil {
		return Fail[Transcript](perr, Meta{Provider: geminiName}.Since(start))
	}

	body := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: transcribeInstruction}, part}}},
		GenerationConfig: geminiGenerationConfig{Temperature: 0},
	}
	resp, err := a.generate(ctx, a.cfg.Model, body)
	if err != nil {
		kind, status := classify(err)
		details := map[string]any{"kind": kind, "provider": geminiName}
		if status != 0 {
			details["status"] = status
		}
		return Fail[Transcript](NewError(CodeTranscription, err.Error(), details), Meta{Provider: geminiName}.Since(start))
	}

	text, _ := resp.text()
	usage := NewTokenUsage(pick(resp.ModelVersion, a.cfg.Model),
		resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount)
	meta := Meta{Provider: geminiName, TokenUsage: &usage}.Since(start)
	if strings.TrimSpace(text) == "" {
		return Fail[Transcript](NewError(CodeTranscription, "empty transcript", map[string]any{"provider": geminiName}), meta)
	}
	return Succeed(Transcript{Text: strings.TrimSpace(text), Usage: usage}, meta)
}

func audioPart(audio AudioInput) (geminiPart, *CompletionError) {
	hasURL, hasData := audio.URL != "", audio.Base64 != ""
	switch {
	case hasURL && hasData:
		return geminiPart{}, NewError(CodeInvalidRequest, "audio must be a URL or base64 data, not both", nil)
	case hasURL:
		return geminiPart{FileData: &geminiFileData{MimeType: audio.MimeType, FileURI: audio.URL}}, nil
	case hasData:
		mime := audio.MimeType
		if mime == "" {
			mime = "audio/mpeg"
		}
		return geminiPart{InlineData: &geminiInlineData{MimeType: mime, Data: audio.Base64}}, nil
	default:
		return geminiPart{}, NewError(CodeInvalidRequest, "audio URL or base64 data is required", nil)
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (a *GeminiAdapter) generate(ctx context.Context, model string, body geminiRequest) (geminiResponse, error) {
	var resp geminiResponse
	if err := a.wait(ctx); err != nil {
		return resp, err
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", a.cfg.BaseURL, model)
	headers := map[string]string{geminiAPIKeyHeader: a.cfg.APIKey}
	err := a.postJSON(ctx, url, headers, body, &resp)
	return resp, err
}
