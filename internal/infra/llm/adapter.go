package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	mimeJSON          = "application/json"
	headerContentType = "Content-Type"
	maxErrorBody      = 2048
)

// Error kinds recorded in CompletionError.Details["kind"].
const (
	KindRateLimit  = "rate_limit"
	KindAuth       = "auth"
	KindTimeout    = "timeout"
	KindCanceled   = "canceled"
	KindValidation = "validation"
	KindProvider   = "provider"
	KindNetwork    = "network"
)

// AdapterOption configures the pieces every adapter shares.
type AdapterOption func(*adapterBase)

// WithRateLimit caps outbound calls per second. rps <= 0 disables the limiter.
func WithRateLimit(rps float64, burst int) AdapterOption {
	return func(b *adapterBase) {
		if rps <= 0 {
			b.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithHTTPClient replaces the adapter's HTTP client.
func WithHTTPClient(c *http.Client) AdapterOption {
	return func(b *adapterBase) { b.http = c }
}

// WithLogger sets the adapter logger.
func WithLogger(l zerolog.Logger) AdapterOption {
	return func(b *adapterBase) { b.log = l }
}

// adapterBase holds the transport, limiter and logger of one adapter.
type adapterBase struct {
	name    string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newAdapterBase(name string, opts []AdapterOption) adapterBase {
	b := adapterBase{
		name:    name,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 0),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.log = b.log.With().Str("component", "llm."+name).Logger()
	return b
}

// wait blocks on the rate limiter until a call slot is free or ctx ends.
func (b *adapterBase) wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// fail converts err into a failed completion envelope.
func (b *adapterBase) fail(start time.Time, ceiling int, err error) Result[Completion] {
	kind, status := classify(err)
	details := map[string]any{"kind": kind, "provider": b.name}
	if status != 0 {
		details["status"] = status
	}
	b.log.Warn().Err(err).Str("kind", kind).Msg("completion failed")
	return Fail[Completion](
		NewError(CompletionCode(b.name), err.Error(), details),
		Meta{Provider: b.name, MaxOutputTokens: ceiling}.Since(start),
	)
}

// succeed wraps content and usage in a successful completion envelope.
func (b *adapterBase) succeed(start time.Time, ceiling int, content string, usage TokenUsage) Result[Completion] {
	meta := Meta{Provider: b.name, MaxOutputTokens: ceiling, TokenUsage: &usage}.Since(start)
	b.log.Debug().
		Int("input_tokens", usage.InputTokens).
		Int("output_tokens", usage.OutputTokens).
		Int64("ms", meta.ProcessingTimeMs).
		Msg("completion succeeded")
	return Succeed(Completion{Content: content, Usage: usage}, meta)
}

// postJSON sends in as JSON to url and decodes a 2xx response into out.
// Non-2xx responses become a *StatusError.
func (b *adapterBase) postJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", b.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", b.name, err)
	}
	req.Header.Set(headerContentType, mimeJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: post: %w", b.name, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Provider: b.name, Status: resp.StatusCode, Body: string(snippet)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", b.name, err)
	}
	return nil
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
}

// classify maps an adapter error to an error kind and, when known, the HTTP status.
func classify(err error) (string, int) {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusTooManyRequests:
			return KindRateLimit, se.Status
		case se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden:
			return KindAuth, se.Status
		case se.Status == http.StatusRequestTimeout || se.Status == http.StatusGatewayTimeout:
			return KindTimeout, se.Status
		case se.Status >= 400 && se.Status < 500:
			return KindValidation, se.Status
		default:
			return KindProvider, se.Status
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, 0
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled, 0
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout, 0
		}
		return KindNetwork, 0
	}
	return KindProvider, 0
}

// ceiling picks the requested max tokens, the adapter default when unset, and never
// less than floor.
func ceiling(requested, fallback, floor int) int {
	n := requested
	if n <= 0 {
		n = fallback
	}
	return max(n, floor)
}

// pick returns override when set, otherwise fallback.
func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
