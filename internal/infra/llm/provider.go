package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// ProviderAdapter wraps one LLM backend behind the completion contract.
// Complete performs exactly one outbound call and never panics or returns a Go error:
// every failure is a failed Result carrying a <NAME>_COMPLETION_ERROR.
type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) Result[Completion]
}

// Embedder produces raw embedding vectors. Not covered by fallback.
type Embedder interface {
	Name() string
	EmbeddingModel() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Transcriber turns audio into text. Not covered by fallback.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio AudioInput) Result[Transcript]
}

// HealthChecker is implemented by adapters that can probe their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// AudioInput is either a fetchable URL or inline base64 data, never both.
type AudioInput struct {
	URL      string
	Base64   string
	MimeType string
}

// Transcript is the text produced from an AudioInput.
type Transcript struct {
	Text  string     `json:"text"`
	Usage TokenUsage `json:"usage"`
}

// CompleteJSON asks p for JSON output and decodes it into T. An unparseable
// response is a JSON_PARSE_ERROR that keeps the adapter's meta.
func CompleteJSON[T any](ctx context.Context, p ProviderAdapter, req CompletionRequest) Result[T] {
	req.JSONMode = true
	res := p.Complete(ctx, req)
	if !res.Success {
		return Recast[Completion, T](res)
	}

	data, perr := DecodeJSON[T](res.Data.Content)
	if perr != nil {
		return Fail[T](perr.WithDetail("provider", p.Name()), res.Meta)
	}
	return Succeed(data, res.Meta)
}

// ============================================================================
// VALIDATION
// ============================================================================

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the request constraints. It returns nil or an INVALID_REQUEST error
// listing each failing field.
func (r CompletionRequest) Validate() *CompletionError {
	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewError(CodeInvalidRequest, err.Error(), nil)
	}
	fields := make(map[string]any, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return NewError(CodeInvalidRequest, strings.Join(msgs, "; "), map[string]any{"fields": fields})
}

// invalid returns a failed envelope for a request that did not pass Validate.
func invalid[T any](start time.Time, err *CompletionError) Result[T] {
	return Fail[T](err, Meta{}.Since(start))
}
