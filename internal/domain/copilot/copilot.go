// Package copilot holds the sales copilot kernels built on the completion layer:
// lead scoring, discount advice, call summaries and knowledge answers.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/obra/internal/domain/audit"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

// UsageRecorder persists one usage record per kernel call. audit.Ledger implements it.
type UsageRecorder interface {
	Record(ctx context.Context, rec audit.UsageRecord) error
}

// Option configures a kernel.
type Option func(*base)

// WithUsageRecorder records every call in the usage ledger.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(b *base) { b.usage = r }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *base) { b.log = l }
}

// WithCatalog replaces the embedded prompt catalog.
func WithCatalog(c Catalog) Option {
	return func(b *base) { b.prompts = c }
}

// base carries what every kernel shares.
type base struct {
	router   *llm.TaskRouter
	usage    UsageRecorder
	log      zerolog.Logger
	prompts  Catalog
	validate *validator.Validate
}

func newBase(router *llm.TaskRouter, component string, opts []Option) base {
	b := base{
		router:   router,
		log:      zerolog.Nop(),
		prompts:  DefaultCatalog(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.log = b.log.With().Str("component", component).Logger()
	return b
}

// record writes the usage of one finished call. Ledger failures are logged, never
// returned: the caller already has its answer.
func record[T any](ctx context.Context, b *base, call audit.Call, res llm.Result[T]) {
	if b.usage == nil || call.WorkspaceID == "" {
		return
	}
	if err := b.usage.Record(ctx, audit.FromResult(call, res)); err != nil {
		b.log.Warn().Err(err).Str("operation", call.Operation).Msg("usage not recorded")
	}
}

// checkInput validates in and returns an INVALID_REQUEST naming each failing field.
func (b *base) checkInput(in any) *llm.CompletionError {
	err := b.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return llm.NewError(llm.CodeInvalidRequest, err.Error(), nil)
	}
	fields := make(map[string]any, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return llm.NewError(llm.CodeInvalidRequest, strings.Join(msgs, "; "), map[string]any{"fields": fields})
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

// cleanList trims items, drops empty ones and keeps at most n.
func cleanList(items []string, n int) []string {
	out := make([]string, 0, min(len(items), n))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		out = append(out, it)
		if len(out) == n {
			break
		}
	}
	return out
}
