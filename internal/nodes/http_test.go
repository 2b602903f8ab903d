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

func httpRequest(config map[string]any) *Request {
	return &Request{
		ExecutionID: "exec-1",
		Node:        &schema.Node{ID: "call", Kind: schema.NodeKindHTTP},
		Config:      config,
	}
}

func TestHTTPExecutorSuccess(t *testing.T) {
	var gotAuth, gotHeader string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotHeader = r.Header.Get("X-Request-Id")
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true,"items":[1,2,3]}`))
	}))
	defer srv.Close()

	e := NewHTTPExecutor(HTTPConfig{})
	res, err := e.Execute(context.Background(), httpRequest(map[string]any{
		"method":  "POST",
		"url":     srv.URL,
		"headers": map[string]any{"X-Request-Id": "abc-123"},
		"body":    map[string]any{"amount": float64(42)},
		"auth":    map[string]any{"type": "bearer", "token": "tok-1"},
	}))
	require.NoError(t, err)

	out := res.Output.(map[string]any)
	assert.Equal(t, 200, out["status_code"])
	body := out["body"].(map[string]any)
	assert.Equal(t, true, body["ok"])

	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "abc-123", gotHeader)
	assert.Equal(t, float64(42), gotBody["amount"])
}

func TestHTTPExecutorStatusTaxonomy(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  string
		retryable bool
	}{
		{"server error is transient", 500, schema.ErrCodeUpstream, true},
		{"bad gateway is transient", 502, schema.ErrCodeUpstream, true},
		{"rate limit is transient", 429, schema.ErrCodeRateLimited, true},
		{"unauthorized is permanent", 401, schema.ErrCodeUnauthorized, false},
		{"forbidden is permanent", 403, schema.ErrCodeUnauthorized, false},
		{"not found is permanent", 404, schema.ErrCodeNotFound, false},
		{"bad request is permanent", 400, schema.ErrCodeValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			e := NewHTTPExecutor(HTTPConfig{})
			_, err := e.Execute(context.Background(), httpRequest(map[string]any{"url": srv.URL}))
			require.Error(t, err)

			var ee *schema.EngineError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.wantCode, ee.Code)
			assert.Equal(t, tt.retryable, ee.Retryable())
		})
	}
}

func TestHTTPExecutorValidation(t *testing.T) {
	e := NewHTTPExecutor(HTTPConfig{})

	_, err := e.Execute(context.Background(), httpRequest(map[string]any{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")

	_, err = e.Execute(context.Background(), httpRequest(map[string]any{"url": "ftp://nope"}))
	require.Error(t, err)
}

func TestHTTPExecutorConnectionRefused(t *testing.T) {
	e := NewHTTPExecutor(HTTPConfig{})
	_, err := e.Execute(context.Background(), httpRequest(map[string]any{
		"url": "http://127.0.0.1:1",
	}))
	require.Error(t, err)

	var ee *schema.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, schema.ErrCodeUpstream, ee.Code)
	assert.True(t, ee.Retryable())
}

func TestHTTPExecutorCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go cancel()

	e := NewHTTPExecutor(HTTPConfig{})
	_, err := e.Execute(ctx, httpRequest(map[string]any{"url": srv.URL}))
	require.Error(t, err)
}
