package nodes

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// AIConfig holds defaults for the AI executor. BaseURL points at any
// OpenAI-compatible chat completions endpoint.
type AIConfig struct {
	BaseURL        string
	APIKey         string
	DefaultModel   string
	DefaultTimeout time.Duration
}

// SecretLookup resolves a named secret at dispatch time. Secret values are
// never written to checkpoints, events, or logs.
type SecretLookup func(ctx context.Context, name string) (string, error)

// AIExecutor runs ai nodes against an OpenAI-compatible chat endpoint.
// When the node config sets "stream": true, partial output is forwarded
// through Request.OnChunk as it arrives; the final Result still carries the
// complete text.
type AIExecutor struct {
	config  AIConfig
	secrets SecretLookup
	client  *http.Client
}

// NewAIExecutor creates an ai executor. lookup may be nil when no vault is
// configured.
func NewAIExecutor(cfg AIConfig, lookup SecretLookup) *AIExecutor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 120 * time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o-mini"
	}
	return &AIExecutor{
		config:  cfg,
		secrets: lookup,
		client:  &http.Client{},
	}
}

func (e *AIExecutor) Kind() schema.NodeKind { return schema.NodeKindAI }

func (e *AIExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	params := req.Config

	prompt := stringParam(params, "prompt", "")
	if prompt == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "ai node: missing required param 'prompt'")
	}

	baseURL := stringParam(params, "base_url", e.config.BaseURL)
	if baseURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "ai node: no base_url configured")
	}

	apiKey, err := e.resolveKey(ctx, params)
	if err != nil {
		return nil, err
	}

	model := stringParam(params, "model", e.config.DefaultModel)
	stream := boolParam(params, "stream", false)
	timeout := durationParam(params, "timeout", e.config.DefaultTimeout)

	messages := []map[string]any{}
	if system := stringParam(params, "system", ""); system != "" {
		messages = append(messages, map[string]any{"role": "system", "content": system})
	}
	messages = append(messages, map[string]any{"role": "user", "content": prompt})

	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   stream,
	}
	if _, ok := params["temperature"]; ok {
		payload["temperature"] = floatParam(params, "temperature", 0)
	}
	if max := intParam(params, "max_tokens", 0); max > 0 {
		payload["max_tokens"] = max
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "ai node: failed to marshal request").WithCause(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := strings.TrimRight(baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "ai node: failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"ai node: request exceeded timeout %s", timeout).WithCause(err)
		}
		if ctx.Err() != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "ai node: request cancelled").WithCause(ctx.Err())
		}
		return nil, schema.NewErrorf(schema.ErrCodeUpstream, "ai node: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		if serr := statusError(resp.StatusCode); serr != nil {
			return nil, serr.WithDetails(map[string]any{"response": string(respBody)})
		}
	}

	var text string
	var model2 string
	if stream {
		text, model2, err = readStream(resp.Body, req.OnChunk)
	} else {
		text, model2, err = readCompletion(resp.Body)
	}
	if err != nil {
		if reqCtx.Err() != nil && ctx.Err() == nil {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"ai node: response exceeded timeout %s", timeout).WithCause(err)
		}
		return nil, err
	}
	if model2 != "" {
		model = model2
	}

	return &Result{Output: map[string]any{
		"text":        text,
		"model":       model,
		"duration_ms": time.Since(start).Milliseconds(),
	}}, nil
}

func (e *AIExecutor) resolveKey(ctx context.Context, params map[string]any) (string, error) {
	if name := stringParam(params, "api_key_secret", ""); name != "" {
		if e.secrets == nil {
			return "", schema.NewErrorf(schema.ErrCodeSecret,
				"ai node: api_key_secret %q set but no vault configured", name)
		}
		key, err := e.secrets(ctx, name)
		if err != nil {
			return "", err
		}
		return key, nil
	}
	if key := stringParam(params, "api_key", ""); key != "" {
		return key, nil
	}
	return e.config.APIKey, nil
}

type chatCompletion struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func readCompletion(r io.Reader) (string, string, error) {
	var completion chatCompletion
	if err := json.NewDecoder(r).Decode(&completion); err != nil {
		return "", "", schema.NewError(schema.ErrCodeUpstream, "ai node: failed to decode response").WithCause(err)
	}
	if len(completion.Choices) == 0 {
		return "", "", schema.NewError(schema.ErrCodeUpstream, "ai node: response contained no choices")
	}
	return completion.Choices[0].Message.Content, completion.Model, nil
}

// readStream consumes an SSE response, forwarding each content delta to
// onChunk and accumulating the full text.
func readStream(r io.Reader, onChunk func(string)) (string, string, error) {
	var full strings.Builder
	var model string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk chatCompletion
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onChunk != nil {
			onChunk(delta)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", schema.NewError(schema.ErrCodeUpstream, "ai node: stream read failed").WithCause(err)
	}

	return full.String(), model, nil
}

var _ Executor = (*AIExecutor)(nil)
