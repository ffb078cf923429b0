package provider

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/archestra-ai/gateway/pkg/config"
	"github.com/archestra-ai/gateway/pkg/errors"
)

const anthropicDefaultBaseURL = "https://api.anthropic.com/v1"

// anthropicAdapter speaks the Messages API wire shape: auth via
// x-api-key rather than a Bearer Authorization header, and a required
// anthropic-version header.
type anthropicAdapter struct {
	baseURL string
	client  *http.Client
	retry   config.RetryConfig
}

func newAnthropicAdapter(pc config.ProviderConfig, cfg *config.Config, client *http.Client) Adapter {
	baseURL := pc.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &anthropicAdapter{baseURL: baseURL, client: client, retry: cfg.Retry}
}

func (a *anthropicAdapter) newRequest(ctx context.Context, body []byte, cred string) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("x-api-key", cred)
	return httpReq, nil
}

func (a *anthropicAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	return retryUnary(ctx, a.retry, func() (*ChatResult, error) {
		httpReq, err := a.newRequest(ctx, req.Body, req.Credential.Value)
		if err != nil {
			return nil, errors.NewNetworkError("build anthropic request", err)
		}
		resp, err := a.client.Do(httpReq)
		if err != nil {
			return nil, errors.NewNetworkError("anthropic request failed", err)
		}
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.NewNetworkError("read anthropic response", err)
		}
		if clsErr := classifyStatus(Anthropic, resp.StatusCode, raw); clsErr != nil {
			return nil, clsErr
		}
		var text strings.Builder
		gjson.GetBytes(raw, "content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				text.WriteString(block.Get("text").String())
			}
			return true
		})
		return &ChatResult{
			Text:         strings.TrimSpace(text.String()),
			Raw:          raw,
			InputTokens:  int(gjson.GetBytes(raw, "usage.input_tokens").Int()),
			OutputTokens: int(gjson.GetBytes(raw, "usage.output_tokens").Int()),
		}, nil
	})
}

func (a *anthropicAdapter) ChatWithSchema(ctx context.Context, req ChatRequest, schema []byte) (*ChatResult, error) {
	body, err := injectStructuredOutputInstruction(req.Body, "messages", schema)
	if err != nil {
		return nil, errors.NewInvalidRequestError("shaping anthropic structured-output fallback", err)
	}
	shaped := req
	shaped.Body = body
	result, err := a.Chat(ctx, shaped)
	if err != nil {
		return nil, err
	}
	result.Text = stripCodeFence(result.Text)
	return result, nil
}

func (a *anthropicAdapter) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	httpReq, err := a.newRequest(ctx, req.Body, req.Credential.Value)
	if err != nil {
		return nil, errors.NewNetworkError("build anthropic stream request", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewNetworkError("anthropic stream request failed", err)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, classifyStatus(Anthropic, resp.StatusCode, raw)
	}
	out := make(chan StreamChunk)
	go streamSSELines(ctx, resp.Body, out)
	return out, nil
}
