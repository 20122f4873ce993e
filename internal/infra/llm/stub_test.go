package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// stubAdapter is a ProviderAdapter whose behaviour is a function.
type stubAdapter struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, req CompletionRequest) Result[Completion]
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Complete(ctx context.Context, req CompletionRequest) Result[Completion] {
	s.calls.Add(1)
	return s.fn(ctx, req)
}

func okAdapter(name, content string) *stubAdapter {
	return &stubAdapter{name: name, fn: func(_ context.Context, _ CompletionRequest) Result[Completion] {
		usage := NewTokenUsage(name+"-model", 10, 5)
		return Succeed(Completion{Content: content, Usage: usage}, Meta{Provider: name, TokenUsage: &usage})
	}}
}

func failAdapter(name string) *stubAdapter {
	base := newAdapterBase(name, nil)
	return &stubAdapter{name: name, fn: func(_ context.Context, _ CompletionRequest) Result[Completion] {
		return base.fail(time.Now(), 0, errors.New(name+" is down"))
	}}
}

// hangingAdapter blocks until its context ends.
func hangingAdapter(name string) *stubAdapter {
	base := newAdapterBase(name, nil)
	return &stubAdapter{name: name, fn: func(ctx context.Context, _ CompletionRequest) Result[Completion] {
		<-ctx.Done()
		return base.fail(time.Now(), 0, ctx.Err())
	}}
}

func validRequest() CompletionRequest {
	return CompletionRequest{SystemPrompt: "system", UserPrompt: "user", Temperature: 0.2, MaxOutputTokens: 100}
}
