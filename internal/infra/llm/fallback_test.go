package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedAttempt struct {
	tier, provider string
	ok             bool
}

type captureRecorder struct {
	mu       sync.Mutex
	attempts []recordedAttempt
}

func (c *captureRecorder) RecordAttempt(_ context.Context, tier, provider string, ok bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, recordedAttempt{tier, provider, ok})
}

// ============================================================================
// FirstSuccess
// ============================================================================

func TestFirstSuccess_StopsAtFirstSuccess(t *testing.T) {
	t.Parallel()

	var calls []string
	attempt := func(name string, ok bool) Attempt[int] {
		return Attempt[int]{Name: name, Call: func(context.Context) Result[int] {
			calls = append(calls, name)
			if ok {
				return Succeed(7, Meta{})
			}
			return Fail[int](NewError("X", name, nil), Meta{})
		}}
	}

	res := FirstSuccess(context.Background(), time.Second, []Attempt[int]{
		attempt("a", false), attempt("b", true), attempt("c", true),
	})
	require.True(t, res.Success)
	assert.Equal(t, 7, res.Data)
	assert.Equal(t, "b", res.Meta.Provider)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestFirstSuccess_EmptyChainFails(t *testing.T) {
	t.Parallel()

	res := FirstSuccess[int](context.Background(), time.Second, nil)
	require.False(t, res.Success)
	assert.Equal(t, CodeAllProvidersFailed, res.Error.Code)
}

func TestFirstSuccess_RecoversPanic(t *testing.T) {
	t.Parallel()

	res := FirstSuccess(context.Background(), time.Second, []Attempt[string]{
		{Name: "boom", Call: func(context.Context) Result[string] { panic("kaboom") }},
		{Name: "ok", Call: func(context.Context) Result[string] { return Succeed("fine", Meta{}) }},
	})
	require.True(t, res.Success)
	assert.Equal(t, "fine", res.Data)
	assert.Equal(t, "ok", res.Meta.Provider)
}

func TestFirstSuccess_CanceledContextAborts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	res := FirstSuccess(ctx, time.Second, []Attempt[int]{
		{Name: "a", Call: func(context.Context) Result[int] { called = true; return Succeed(1, Meta{}) }},
	})
	require.False(t, res.Success)
	assert.False(t, called)
	assert.Contains(t, res.Error.Details, "aborted")
}

// ============================================================================
// Orchestrator
// ============================================================================

func TestOrchestrator_PrimaryFails_SecondaryWins(t *testing.T) {
	t.Parallel()

	primary := failAdapter("gemini")
	secondary := okAdapter("groq", "hello")
	tertiary := okAdapter("ollama", "unused")
	rec := &captureRecorder{}
	o := NewOrchestrator(StandardTiers(primary, secondary, tertiary), WithRecorder(rec))

	res := o.Complete(context.Background(), validRequest())
	require.True(t, res.Success)
	assert.Equal(t, "hello", res.Data.Content)
	assert.Equal(t, TierSecondary, res.Meta.Provider)
	assert.EqualValues(t, 1, primary.calls.Load())
	assert.EqualValues(t, 1, secondary.calls.Load())
	assert.EqualValues(t, 0, tertiary.calls.Load())

	require.Len(t, rec.attempts, 2)
	assert.Equal(t, recordedAttempt{TierPrimary, "gemini", false}, rec.attempts[0])
	assert.Equal(t, recordedAttempt{TierSecondary, "groq", true}, rec.attempts[1])
}

func TestOrchestrator_AllFail_ReportsEveryTier(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(StandardTiers(failAdapter("gemini"), failAdapter("groq"), failAdapter("ollama")))
	res := o.Complete(context.Background(), validRequest())

	require.False(t, res.Success)
	assert.Equal(t, CodeAllProvidersFailed, res.Error.Code)
	require.Len(t, res.Error.Details, 3)
	for tier, provider := range map[string]string{TierPrimary: "gemini", TierSecondary: "groq", TierTertiary: "ollama"} {
		sub, ok := res.Error.Details[tier].(*CompletionError)
		require.True(t, ok, tier)
		assert.Equal(t, CompletionCode(provider), sub.Code)
	}
}

func TestOrchestrator_InvalidRequest_CallsNoTier(t *testing.T) {
	t.Parallel()

	primary := okAdapter("gemini", "x")
	o := NewOrchestrator(StandardTiers(primary, nil, nil))
	res := o.Complete(context.Background(), CompletionRequest{Temperature: 3})

	require.False(t, res.Success)
	assert.Equal(t, CodeInvalidRequest, res.Error.Code)
	assert.EqualValues(t, 0, primary.calls.Load())
}

func TestOrchestrator_UnparseableOutputFallsThrough(t *testing.T) {
	t.Parallel()

	primary := okAdapter("gemini", "I cannot answer in JSON, sorry.")
	secondary := okAdapter("groq", "```json\n{\"score\": 42}\n```")
	o := NewOrchestrator(StandardTiers(primary, secondary, nil))

	res := Orchestrate[struct {
		Score int `json:"score"`
	}](context.Background(), o, validRequest())

	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, 42, res.Data.Score)
	assert.Equal(t, TierSecondary, res.Meta.Provider)
	require.NotNil(t, res.Meta.TokenUsage)
	assert.Equal(t, "groq-model", res.Meta.TokenUsage.Model)
}

func TestOrchestrator_NullOutputFallsThrough(t *testing.T) {
	t.Parallel()

	primary := okAdapter("gemini", "```json\nnull\n```")
	secondary := okAdapter("groq", `{"a": 1}`)
	o := NewOrchestrator(StandardTiers(primary, secondary, nil))

	res := Orchestrate[map[string]any](context.Background(), o, validRequest())
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, TierSecondary, res.Meta.Provider)
	assert.Equal(t, map[string]any{"a": float64(1)}, res.Data)
	assert.EqualValues(t, 1, primary.calls.Load())
}

func TestOrchestrator_PanickingTierIsRecorded(t *testing.T) {
	t.Parallel()

	primary := &stubAdapter{name: "gemini", fn: func(context.Context, CompletionRequest) Result[Completion] {
		panic("adapter bug")
	}}
	secondary := okAdapter("groq", "fine")
	rec := &captureRecorder{}
	o := NewOrchestrator(StandardTiers(primary, secondary, nil), WithRecorder(rec))

	res := o.Complete(context.Background(), validRequest())
	require.True(t, res.Success)
	assert.Equal(t, TierSecondary, res.Meta.Provider)

	require.Len(t, rec.attempts, 2)
	assert.Equal(t, recordedAttempt{TierPrimary, "gemini", false}, rec.attempts[0])
	assert.Equal(t, recordedAttempt{TierSecondary, "groq", true}, rec.attempts[1])
}

func TestOrchestrator_HangingTierIsAbandoned(t *testing.T) {
	t.Parallel()

	primary := hangingAdapter("gemini")
	secondary := okAdapter("groq", "done")
	o := NewOrchestrator(StandardTiers(primary, secondary, nil), WithCallTimeout(50*time.Millisecond))

	start := time.Now()
	res := o.Complete(context.Background(), validRequest())
	require.True(t, res.Success)
	assert.Equal(t, TierSecondary, res.Meta.Provider)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOrchestrator_Prefer(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(StandardTiers(okAdapter("gemini", "p"), okAdapter("groq", "s"), okAdapter("ollama", "t")))

	preferred := o.Prefer(TierTertiary)
	names := func(ts []Tier) []string {
		out := make([]string, len(ts))
		for i, t := range ts {
			out[i] = t.Name
		}
		return out
	}
	assert.Equal(t, []string{TierTertiary, TierPrimary, TierSecondary}, names(preferred.Tiers()))
	assert.Equal(t, []string{TierPrimary, TierSecondary, TierTertiary}, names(o.Tiers()))
	assert.Same(t, o, o.Prefer("unknown"))
	assert.Same(t, o, o.Prefer(TierPrimary))

	res := preferred.Complete(context.Background(), validRequest())
	require.True(t, res.Success)
	assert.Equal(t, "t", res.Data.Content)
}

func TestStandardTiers_SkipsNil(t *testing.T) {
	t.Parallel()

	tiers := StandardTiers(nil, okAdapter("groq", ""), nil)
	require.Len(t, tiers, 1)
	assert.Equal(t, TierSecondary, tiers[0].Name)
}
