package nodes

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// HTTPConfig configures the HTTP executor.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPExecutor runs http nodes: one outbound request per attempt with full
// control over method, headers, body, auth, and redirects. Response status
// is mapped to the engine's error taxonomy so the retry controller can
// classify failures without inspecting HTTP internals.
type HTTPExecutor struct {
	config HTTPConfig
}

// NewHTTPExecutor creates an http executor.
func NewHTTPExecutor(cfg HTTPConfig) *HTTPExecutor {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPExecutor{config: cfg}
}

func (e *HTTPExecutor) Kind() schema.NodeKind { return schema.NodeKindHTTP }

func (e *HTTPExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	params := req.Config
	if params == nil {
		params = map[string]any{}
	}

	rawURL := stringParam(params, "url", "")
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "http node: missing required param 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "http node: invalid url %q", rawURL)
	}

	method := strings.ToUpper(stringParam(params, "method", "GET"))
	bodyEncoding := stringParam(params, "body_encoding", "json")
	followRedirects := boolParam(params, "follow_redirects", true)
	maxRedirects := intParam(params, "max_redirects", 10)
	tlsSkipVerify := boolParam(params, "tls_skip_verify", false)
	timeout := durationParam(params, "timeout", e.config.DefaultTimeout)

	// Build request body
	var bodyReader io.Reader
	var contentType string
	if rawBody, ok := params["body"]; ok && rawBody != nil {
		switch bodyEncoding {
		case "form":
			formData, ok := rawBody.(map[string]any)
			if ok {
				vals := url.Values{}
				for k, v := range formData {
					vals.Set(k, fmt.Sprintf("%v", v))
				}
				bodyReader = strings.NewReader(vals.Encode())
				contentType = "application/x-www-form-urlencoded"
			}
		case "text":
			bodyReader = strings.NewReader(fmt.Sprintf("%v", rawBody))
			contentType = "text/plain"
		case "raw":
			bodyReader = strings.NewReader(fmt.Sprintf("%v", rawBody))
		default: // json
			b, err := json.Marshal(rawBody)
			if err != nil {
				return nil, schema.NewError(schema.ErrCodeExecution, "http node: failed to marshal body as JSON").WithCause(err)
			}
			bodyReader = strings.NewReader(string(b))
			contentType = "application/json"
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "http node: failed to create request").WithCause(err)
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	// Set custom headers
	if hdrs, ok := params["headers"]; ok {
		if hm, ok := hdrs.(map[string]any); ok {
			for k, v := range hm {
				httpReq.Header.Set(k, fmt.Sprintf("%v", v))
			}
		}
	}

	applyAuth(httpReq, params)

	// Always create a new client to avoid mutating shared state.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := &http.Client{Transport: transport}

	if !followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if maxRedirects > 0 {
		limit := maxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"http node: request exceeded timeout %s", timeout).WithCause(err)
		}
		if ctx.Err() != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "http node: request cancelled").WithCause(ctx.Err())
		}
		return nil, schema.NewErrorf(schema.ErrCodeUpstream, "http node: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	limitedReader := io.LimitReader(resp.Body, e.config.MaxResponseBody)
	bodyBytes, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeUpstream, "http node: failed to read response body").WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	if len(bodyBytes) == 0 {
		parsedBody = nil
	} else if strings.Contains(respContentType, "application/json") {
		var jsonBody any
		if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	} else {
		parsedBody = string(bodyBytes)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	output := map[string]any{
		"status_code":  resp.StatusCode,
		"status":       resp.Status,
		"headers":      respHeaders,
		"body":         parsedBody,
		"content_type": respContentType,
		"duration_ms":  durationMs,
	}

	if err := statusError(resp.StatusCode); err != nil {
		return nil, err.WithDetails(output)
	}

	return &Result{Output: output}, nil
}

// statusError maps an HTTP response status to the error taxonomy. 2xx and
// 3xx succeed; 5xx and 429 are transient; other 4xx are permanent.
func statusError(status int) *schema.EngineError {
	switch {
	case status < 400:
		return nil
	case status >= 500:
		return schema.NewErrorf(schema.ErrCodeUpstream, "http node: server returned %d", status)
	case status == http.StatusTooManyRequests:
		return schema.NewError(schema.ErrCodeRateLimited, "http node: rate limited (429)")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return schema.NewErrorf(schema.ErrCodeUnauthorized, "http node: authentication rejected (%d)", status)
	case status == http.StatusNotFound:
		return schema.NewError(schema.ErrCodeNotFound, "http node: resource not found (404)")
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "http node: client error (%d)", status)
	}
}

func applyAuth(req *http.Request, params map[string]any) {
	authRaw, ok := params["auth"]
	if !ok {
		return
	}
	auth, ok := authRaw.(map[string]any)
	if !ok {
		return
	}
	switch stringParam(auth, "type", "") {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
	case "basic":
		req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
	case "api_key":
		headerName := stringParam(auth, "header_name", "")
		if headerName != "" {
			req.Header.Set(headerName, stringParam(auth, "header_value", ""))
		}
	}
}

var _ Executor = (*HTTPExecutor)(nil)
