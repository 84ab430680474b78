package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confera-app/backend/internal/config"
	"github.com/confera-app/backend/internal/utils"
)

func newStubClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.GeminiConfig{
		APIKey:   "test-key",
		Model:    "gemini-1.5-flash",
		Endpoint: srv.URL,
		Timeout:  5 * time.Second,
	})
}

func TestGenerateContent(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "models/gemini-1.5-flash:generateContent")
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "summarize this", req.Contents[0].Parts[0].Text)
		assert.Equal(t, 0.3, req.GenerationConfig.Temperature)
		assert.Equal(t, 40, req.GenerationConfig.TopK)
		assert.Equal(t, 8192, req.GenerationConfig.MaxOutputTokens)

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"part one "},{"text":"part two"}]}}],"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":30,"totalTokenCount":42}}`))
	})

	text, tokens, err := client.GenerateContent(context.Background(), "summarize this")
	require.NoError(t, err)
	assert.Equal(t, "part one part two", text, "candidate parts concatenate")
	assert.Equal(t, 42, tokens)
}

func TestGenerateContentMissingUsageMetadata(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	})

	text, tokens, err := client.GenerateContent(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Zero(t, tokens)
}

func TestGenerateContentRateLimited(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	})

	_, _, err := client.GenerateContent(context.Background(), "prompt")
	assert.ErrorIs(t, err, utils.ErrResourceExhausted)
}

func TestGenerateContentServerError(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded"}}`))
	})

	_, _, err := client.GenerateContent(context.Background(), "prompt")
	assert.ErrorIs(t, err, utils.ErrUnavailable)
}

func TestGenerateContentNoCandidates(t *testing.T) {
	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	_, _, err := client.GenerateContent(context.Background(), "prompt")
	assert.Error(t, err)
}

func TestGenerateContentWithoutKey(t *testing.T) {
	client := NewClient(config.GeminiConfig{Model: "gemini-1.5-flash", Timeout: time.Second})
	assert.False(t, client.Configured())

	_, _, err := client.GenerateContent(context.Background(), "prompt")
	assert.ErrorIs(t, err, utils.ErrFailedPrecondition)
}
