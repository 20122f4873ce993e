package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Tier names, in fallback order.
const (
	TierPrimary   = "primary"
	TierSecondary = "secondary"
	TierTertiary  = "tertiary"
)

// DefaultCallTimeout bounds each attempt when no timeout is configured.
const DefaultCallTimeout = 30 * time.Second

// Attempt is one step of a fallback chain.
type Attempt[T any] struct {
	Name string
	Call func(ctx context.Context) Result[T]
}

// FirstSuccess runs attempts strictly in order and returns the first successful
// result, with Meta.Provider set to the attempt name. Each attempt gets its own
// deadline when timeout > 0. When every attempt fails the result is
// ALL_PROVIDERS_FAILED with each attempt's error under its name in Details.
func FirstSuccess[T any](ctx context.Context, timeout time.Duration, attempts []Attempt[T]) Result[T] {
	start := time.Now()
	failures := make(map[string]any, len(attempts))

	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			failures["aborted"] = err.Error()
			break
		}

		res := runAttempt(ctx, timeout, a)
		if res.Success {
			meta := res.Meta
			meta.Provider = a.Name
			return Succeed(res.Data, meta.Since(start))
		}
		failures[a.Name] = res.Error
	}

	return Fail[T](
		NewError(CodeAllProvidersFailed, fmt.Sprintf("all %d providers failed", len(attempts)), failures),
		Meta{}.Since(start),
	)
}

// runAttempt applies the per-call deadline and converts a panic into a failure.
func runAttempt[T any](ctx context.Context, timeout time.Duration, a Attempt[T]) (res Result[T]) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			res = Fail[T](NewError(CompletionCode(a.Name), fmt.Sprintf("panic: %v", r), map[string]any{"kind": "panic"}), Meta{})
		}
	}()

	res = a.Call(ctx)
	if !res.Success && res.Error == nil {
		res = Fail[T](nil, res.Meta)
	}
	return res
}

// ============================================================================
// ORCHESTRATOR
// ============================================================================

// Tier is a named adapter position in the fallback chain.
type Tier struct {
	Name    string
	Adapter ProviderAdapter
}

// Recorder receives one observation per attempt. telemetry.Metrics implements it.
type Recorder interface {
	RecordAttempt(ctx context.Context, tier, provider string, success bool, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordAttempt(context.Context, string, string, bool, time.Duration) {}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithCallTimeout sets the per-attempt deadline.
func WithCallTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l.With().Str("component", "llm.fallback").Logger() }
}

// WithRecorder sets the attempt metrics recorder.
func WithRecorder(r Recorder) OrchestratorOption {
	return func(o *Orchestrator) { o.recorder = r }
}

// Orchestrator drives the ordered fallback across tiers. It is immutable after
// construction; Prefer returns a reordered copy.
type Orchestrator struct {
	tiers    []Tier
	timeout  time.Duration
	log      zerolog.Logger
	recorder Recorder
}

// NewOrchestrator creates an Orchestrator over tiers, tried in the given order.
func NewOrchestrator(tiers []Tier, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		tiers:    append([]Tier(nil), tiers...),
		timeout:  DefaultCallTimeout,
		log:      zerolog.Nop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StandardTiers names three adapters primary, secondary and tertiary, skipping nils.
func StandardTiers(primary, secondary, tertiary ProviderAdapter) []Tier {
	tiers := make([]Tier, 0, 3)
	for _, t := range []Tier{
		{Name: TierPrimary, Adapter: primary},
		{Name: TierSecondary, Adapter: secondary},
		{Name: TierTertiary, Adapter: tertiary},
	} {
		if t.Adapter != nil {
			tiers = append(tiers, t)
		}
	}
	return tiers
}

// CallTimeout returns the per-attempt deadline.
func (o *Orchestrator) CallTimeout() time.Duration { return o.timeout }

// Tiers returns a copy of the chain.
func (o *Orchestrator) Tiers() []Tier {
	return append([]Tier(nil), o.tiers...)
}

// Adapter returns the adapter registered under tier name, if any.
func (o *Orchestrator) Adapter(name string) (ProviderAdapter, bool) {
	for _, t := range o.tiers {
		if t.Name == name {
			return t.Adapter, true
		}
	}
	return nil, false
}

// Prefer returns a copy of o with the named tier moved to the front. The relative
// order of the other tiers is unchanged. Unknown names return o unchanged.
func (o *Orchestrator) Prefer(name string) *Orchestrator {
	idx := -1
	for i, t := range o.tiers {
		if t.Name == name {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return o
	}
	reordered := make([]Tier, 0, len(o.tiers))
	reordered = append(reordered, o.tiers[idx])
	reordered = append(reordered, o.tiers[:idx]...)
	reordered = append(reordered, o.tiers[idx+1:]...)

	cp := *o
	cp.tiers = reordered
	return &cp
}

// Complete runs a plain text completion through the chain.
func (o *Orchestrator) Complete(ctx context.Context, req CompletionRequest) Result[Completion] {
	return orchestrate[Completion](ctx, o, req, func(ctx context.Context, p ProviderAdapter, req CompletionRequest) Result[Completion] {
		return p.Complete(ctx, req)
	})
}

// Orchestrate runs a JSON completion through o's chain. A tier whose output cannot be
// decoded into T counts as failed and the next tier is tried.
func Orchestrate[T any](ctx context.Context, o *Orchestrator, req CompletionRequest) Result[T] {
	return orchestrate(ctx, o, req, CompleteJSON[T])
}

func orchestrate[T any](
	ctx context.Context,
	o *Orchestrator,
	req CompletionRequest,
	call func(context.Context, ProviderAdapter, CompletionRequest) Result[T],
) Result[T] {
	start := time.Now()
	if verr := req.Validate(); verr != nil {
		return invalid[T](start, verr)
	}

	attempts := make([]Attempt[T], len(o.tiers))
	for i, tier := range o.tiers {
		attempts[i] = Attempt[T]{
			Name: tier.Name,
			Call: func(ctx context.Context) (res Result[T]) {
				t0 := time.Now()
				recorded := false
				defer func() {
					// a panicking adapter still counts as a failed attempt
					if !recorded {
						o.observe(ctx, tier, false, NewError(CompletionCode(tier.Adapter.Name()), "attempt panicked", nil), time.Since(t0))
					}
				}()
				res = call(ctx, tier.Adapter, req)
				o.observe(ctx, tier, res.Success, res.Error, time.Since(t0))
				recorded = true
				return res
			},
		}
	}

	res := FirstSuccess(ctx, o.timeout, attempts)
	if !res.Success {
		o.log.Error().Str("code", string(res.Error.Code)).Int("tiers", len(attempts)).Msg("fallback chain exhausted")
	}
	return res
}

func (o *Orchestrator) observe(ctx context.Context, tier Tier, ok bool, cerr *CompletionError, d time.Duration) {
	o.recorder.RecordAttempt(ctx, tier.Name, tier.Adapter.Name(), ok, d)
	ev := o.log.Debug()
	if !ok {
		ev = o.log.Warn()
		if cerr != nil {
			ev = ev.Str("code", string(cerr.Code)).Str("error", cerr.Message)
		}
	}
	ev.Str("tier", tier.Name).Str("provider", tier.Adapter.Name()).Bool("ok", ok).Dur("took", d).Msg("tier attempt")
}
