package nodes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

func aiRequest(config map[string]any) *Request {
	return &Request{
		ExecutionID: "exec-1",
		Node:        &schema.Node{ID: "summarize", Kind: schema.NodeKindAI},
		Config:      config,
	}
}

func TestAIExecutorCompletion(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "test-model",
			"choices": [{"message": {"content": "A concise summary."}}]
		}`))
	}))
	defer srv.Close()

	e := NewAIExecutor(AIConfig{BaseURL: srv.URL, APIKey: "sk-test"}, nil)
	res, err := e.Execute(context.Background(), aiRequest(map[string]any{
		"prompt": "Summarize the order",
		"system": "You are terse.",
	}))
	require.NoError(t, err)

	out := res.Output.(map[string]any)
	assert.Equal(t, "A concise summary.", out["text"])
	assert.Equal(t, "test-model", out["model"])

	messages := gotReq["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
}

func TestAIExecutorStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"model":"test-model","choices":[{"delta":{"content":"Hello"}}]}`,
			`data: {"choices":[{"delta":{"content":" world"}}]}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte(c + "\n\n"))
		}
	}))
	defer srv.Close()

	var received []string
	e := NewAIExecutor(AIConfig{BaseURL: srv.URL}, nil)
	req := aiRequest(map[string]any{"prompt": "greet", "stream": true})
	req.OnChunk = func(chunk string) { received = append(received, chunk) }

	res, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	out := res.Output.(map[string]any)
	assert.Equal(t, "Hello world", out["text"])
	assert.Equal(t, []string{"Hello", " world"}, received)
}

func TestAIExecutorSecretLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer from-vault", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	lookup := func(ctx context.Context, name string) (string, error) {
		require.Equal(t, "openai_key", name)
		return "from-vault", nil
	}

	e := NewAIExecutor(AIConfig{BaseURL: srv.URL}, lookup)
	_, err := e.Execute(context.Background(), aiRequest(map[string]any{
		"prompt":         "hi",
		"api_key_secret": "openai_key",
	}))
	require.NoError(t, err)
}

func TestAIExecutorErrors(t *testing.T) {
	t.Run("missing prompt", func(t *testing.T) {
		e := NewAIExecutor(AIConfig{BaseURL: "http://localhost"}, nil)
		_, err := e.Execute(context.Background(), aiRequest(map[string]any{}))
		require.Error(t, err)
	})

	t.Run("secret without vault", func(t *testing.T) {
		e := NewAIExecutor(AIConfig{BaseURL: "http://localhost"}, nil)
		_, err := e.Execute(context.Background(), aiRequest(map[string]any{
			"prompt":         "hi",
			"api_key_secret": "k",
		}))
		require.Error(t, err)
		var ee *schema.EngineError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, schema.ErrCodeSecret, ee.Code)
	})

	t.Run("upstream overload is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		e := NewAIExecutor(AIConfig{BaseURL: srv.URL}, nil)
		_, err := e.Execute(context.Background(), aiRequest(map[string]any{"prompt": "hi"}))
		require.Error(t, err)
		var ee *schema.EngineError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, schema.ErrCodeUpstream, ee.Code)
		assert.True(t, ee.Retryable())
	})
}
