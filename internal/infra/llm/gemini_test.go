package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiServer(t *testing.T, capture *geminiRequest, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-test:generateContent" {
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
			return
		}
		if r.Header.Get(geminiAPIKeyHeader) != "key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if capture != nil {
			json.NewDecoder(r.Body).Decode(capture) //nolint:errcheck
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(reply)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

const geminiReply = `{
  "candidates": [{"content": {"role": "model", "parts": [{"text": "{\"score\": "}, {"text": "0.9}"}]}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 30, "candidatesTokenCount": 7},
  "modelVersion": "gemini-test-001"
}`

func TestGeminiAdapter_Complete_Success(t *testing.T) {
	t.Parallel()

	var got geminiRequest
	srv := geminiServer(t, &got, geminiReply)
	a := NewGeminiAdapter(GeminiConfig{APIKey: "key", BaseURL: srv.URL, Model: "gemini-test"})

	req := validRequest()
	req.JSONMode = true
	res := a.Complete(context.Background(), req)

	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, `{"score": 0.9}`, res.Data.Content)
	assert.Equal(t, 37, res.Data.Usage.TotalTokens)
	assert.Equal(t, "gemini-test-001", res.Data.Usage.Model)
	assert.Equal(t, "gemini", res.Meta.Provider)
	assert.Equal(t, 100, res.Meta.MaxOutputTokens)
	require.NotNil(t, res.Meta.TokenUsage)

	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "system", got.SystemInstruction.Parts[0].Text)
	assert.Equal(t, mimeJSON, got.GenerationConfig.ResponseMimeType)
	assert.Equal(t, "user", got.Contents[0].Parts[0].Text)
}

func TestGeminiAdapter_Complete_DefaultCeiling(t *testing.T) {
	t.Parallel()

	var got geminiRequest
	srv := geminiServer(t, &got, geminiReply)
	a := NewGeminiAdapter(GeminiConfig{APIKey: "key", BaseURL: srv.URL, Model: "gemini-test"})

	res := a.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.True(t, res.Success)
	assert.Equal(t, geminiDefaultMaxTokens, got.GenerationConfig.MaxOutputTokens)
	assert.Nil(t, got.SystemInstruction)
}

func TestGeminiAdapter_Complete_AuthFailure(t *testing.T) {
	t.Parallel()

	srv := geminiServer(t, nil, geminiReply)
	a := NewGeminiAdapter(GeminiConfig{APIKey: "wrong", BaseURL: srv.URL, Model: "gemini-test"})

	res := a.Complete(context.Background(), validRequest())
	require.False(t, res.Success)
	assert.Equal(t, ErrorCode("GEMINI_COMPLETION_ERROR"), res.Error.Code)
	assert.Equal(t, KindAuth, res.Error.Details["kind"])
}

func TestGeminiAdapter_Complete_NoCandidates(t *testing.T) {
	t.Parallel()

	srv := geminiServer(t, nil, `{"candidates": []}`)
	a := NewGeminiAdapter(GeminiConfig{APIKey: "key", BaseURL: srv.URL, Model: "gemini-test"})

	res := a.Complete(context.Background(), validRequest())
	assert.False(t, res.Success)
}

// ============================================================================
// Transcription
// ============================================================================

func TestGeminiAdapter_Transcribe_URLUsesFileData(t *testing.T) {
	t.Parallel()

	var got geminiRequest
	srv := geminiServer(t, &got, `{"candidates":[{"content":{"parts":[{"text":"  hello there \n"}]}}]}`)
	a := NewGeminiAdapter(GeminiConfig{APIKey: "key", BaseURL: srv.URL, Model: "gemini-test"})

	res := a.Transcribe(context.Background(), AudioInput{URL: "gs://bucket/call.mp3", MimeType: "audio/mp3"})
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, "hello there", res.Data.Text)

	parts := got.Contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[1].FileData)
	assert.Equal(t, "gs://bucket/call.mp3", parts[1].FileData.FileURI)
	assert.Nil(t, parts[1].InlineData)
}

func TestGeminiAdapter_Transcribe_Base64UsesInlineData(t *testing.T) {
	t.Parallel()

	var got geminiRequest
	srv := geminiServer(t, &got, `{"candidates":[{"content":{"parts":[{"text":"hola"}]}}]}`)
	a := NewGeminiAdapter(GeminiConfig{APIKey: "key", BaseURL: srv.URL, Model: "gemini-test"})

	res := a.Transcribe(context.Background(), AudioInput{Base64: "AAAA"})
	require.True(t, res.Success)

	part := got.Contents[0].Parts[1]
	require.NotNil(t, part.InlineData)
	assert.Equal(t, "audio/mpeg", part.InlineData.MimeType)
	assert.Equal(t, "AAAA", part.InlineData.Data)
}

func TestGeminiAdapter_Transcribe_RejectsAmbiguousInput(t *testing.T) {
	t.Parallel()

	a := NewGeminiAdapter(GeminiConfig{APIKey: "key", Model: "gemini-test"})

	both := a.Transcribe(context.Background(), AudioInput{URL: "u", Base64: "b"})
	require.False(t, both.Success)
	assert.Equal(t, CodeInvalidRequest, both.Error.Code)

	neither := a.Transcribe(context.Background(), AudioInput{})
	require.False(t, neither.Success)
	assert.Equal(t, CodeInvalidRequest, neither.Error.Code)
}

func TestGeminiAdapter_Transcribe_EmptyTranscriptFails(t *testing.T) {
	t.Parallel()

	srv := geminiServer(t, nil, `{"candidates":[{"content":{"parts":[{"text":"   "}]}}]}`)
	a := NewGeminiAdapter(GeminiConfig{APIKey: "key", BaseURL: srv.URL, Model: "gemini-test"})

	res := a.Transcribe(context.Background(), AudioInput{URL: "u"})
	require.False(t, res.Success)
	assert.Equal(t, CodeTranscription, res.Error.Code)
}
