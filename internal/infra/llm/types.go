// Package llm is the AI completion orchestration layer: provider adapters behind a
// uniform contract, structured output extraction, ordered fallback across tiers and
// task routing. Every operation returns a Result envelope; errors are data here.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// ERROR CODES
// ============================================================================

// ErrorCode classifies a CompletionError.
type ErrorCode string

const (
	CodeJSONParse          ErrorCode = "JSON_PARSE_ERROR"
	CodeAllProvidersFailed ErrorCode = "ALL_PROVIDERS_FAILED"
	CodeEmbedding          ErrorCode = "EMBEDDING_ERROR"
	CodeBatchEmbedding     ErrorCode = "BATCH_EMBEDDING_ERROR"
	CodeRerank             ErrorCode = "RERANK_ERROR"
	CodeTranscription      ErrorCode = "TRANSCRIPTION_ERROR"
	CodeSearch             ErrorCode = "SEARCH_ERROR"
	CodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
)

// CompletionCode returns the <ADAPTER>_COMPLETION_ERROR code for an adapter name.
func CompletionCode(adapter string) ErrorCode {
	name := strings.ToUpper(strings.ReplaceAll(adapter, "-", "_"))
	return ErrorCode(name + "_COMPLETION_ERROR")
}

// CompletionError is the error shape carried by a failed Result.
type CompletionError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewError builds a CompletionError. details may be nil.
func NewError(code ErrorCode, message string, details map[string]any) *CompletionError {
	return &CompletionError{Code: code, Message: message, Details: details}
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail returns a copy of e with key set in Details.
func (e *CompletionError) WithDetail(key string, value any) *CompletionError {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &CompletionError{Code: e.Code, Message: e.Message, Details: details}
}

// ============================================================================
// REQUEST / USAGE
// ============================================================================

// CompletionRequest is one text completion call. MaxOutputTokens 0 means the
// adapter default; Model empty means the adapter's configured model.
type CompletionRequest struct {
	SystemPrompt    string  `json:"system_prompt"`
	UserPrompt      string  `json:"user_prompt" validate:"required"`
	MaxOutputTokens int     `json:"max_output_tokens" validate:"gte=0"`
	Temperature     float64 `json:"temperature" validate:"gte=0,lte=2"`
	JSONMode        bool    `json:"json_mode"`
	Model           string  `json:"model,omitempty"`
}

// TokenUsage is always built through NewTokenUsage so that
// TotalTokens == InputTokens + OutputTokens.
type TokenUsage struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
	Model        string `json:"model"`
}

// NewTokenUsage clamps negative counts to zero and derives the total.
func NewTokenUsage(model string, input, output int) TokenUsage {
	input = max(input, 0)
	output = max(output, 0)
	return TokenUsage{
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
		Model:        model,
	}
}

// Completion is the payload of a successful ProviderAdapter.Complete call.
type Completion struct {
	Content string     `json:"content"`
	Usage   TokenUsage `json:"usage"`
}

// EmbeddingVector is a fixed-dimension embedding.
type EmbeddingVector struct {
	Values []float32 `json:"values"`
	Model  string    `json:"model"`
}

// NewEmbeddingVector rejects vectors whose length is not dims.
func NewEmbeddingVector(values []float32, model string, dims int) (EmbeddingVector, error) {
	if len(values) != dims {
		return EmbeddingVector{}, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", dims, len(values))
	}
	out := make([]float32, len(values))
	copy(out, values)
	return EmbeddingVector{Values: out, Model: model}, nil
}

// ============================================================================
// RESULT ENVELOPE
// ============================================================================

// Meta describes how a result was produced.
type Meta struct {
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	TokenUsage       *TokenUsage       `json:"token_usage,omitempty"`
	Provider         string            `json:"provider,omitempty"`
	MaxOutputTokens  int               `json:"max_output_tokens,omitempty"`
	Errors           []CompletionError `json:"errors,omitempty"`
	Degraded         bool              `json:"degraded,omitempty"`
}

// Since returns a copy of m with ProcessingTimeMs measured from start.
func (m Meta) Since(start time.Time) Meta {
	m.ProcessingTimeMs = time.Since(start).Milliseconds()
	return m
}

// Result is the envelope returned by every orchestration operation.
// Build it with Succeed or Fail only.
type Result[T any] struct {
	Success bool             `json:"success"`
	Data    T                `json:"data"`
	Error   *CompletionError `json:"error"`
	Meta    Meta             `json:"meta"`
}

// Succeed wraps data in a successful envelope.
func Succeed[T any](data T, meta Meta) Result[T] {
	return Result[T]{Success: true, Data: data, Meta: meta}
}

// Fail wraps err in a failed envelope. A nil err is replaced by a generic one so the
// envelope never reports failure without an error.
func Fail[T any](err *CompletionError, meta Meta) Result[T] {
	if err == nil {
		err = NewError("UNKNOWN_ERROR", "operation failed without an error", nil)
	}
	return Result[T]{Success: false, Error: err, Meta: meta}
}

// Recast moves a failed envelope to another data type, keeping error and meta.
func Recast[T, U any](r Result[T]) Result[U] {
	return Fail[U](r.Error, r.Meta)
}

// MarshalJSON writes data as null on failure.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	var data any
	if r.Success {
		data = r.Data
	}
	return json.Marshal(struct {
		Success bool             `json:"success"`
		Data    any              `json:"data"`
		Error   *CompletionError `json:"error"`
		Meta    Meta             `json:"meta"`
	}{r.Success, data, r.Error, r.Meta})
}
