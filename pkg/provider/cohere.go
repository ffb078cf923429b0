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

const cohereDefaultBaseURL = "https://api.cohere.com/v2"

// cohereAdapter speaks the Chat v2 wire shape (Bearer auth, "message"
// top-level field convention). Cohere needs the synthetic-instruction
// structured-output fallback, since it has no native JSON-schema mode.
type cohereAdapter struct {
	baseURL string
	client  *http.Client
	retry   config.RetryConfig
}

func newCohereAdapter(pc config.ProviderConfig, cfg *config.Config, client *http.Client) Adapter {
	baseURL := pc.BaseURL
	if baseURL == "" {
		baseURL = cohereDefaultBaseURL
	}
	return &cohereAdapter{baseURL: baseURL, client: client, retry: cfg.Retry}
}

func (a *cohereAdapter) newRequest(ctx context.Context, body []byte, cred string) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred)
	return httpReq, nil
}

func (a *cohereAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	return retryUnary(ctx, a.retry, func() (*ChatResult, error) {
		httpReq, err := a.newRequest(ctx, req.Body, req.Credential.Value)
		if err != nil {
			return nil, errors.NewNetworkError("build cohere request", err)
		}
		resp, err := a.client.Do(httpReq)
		if err != nil {
			return nil, errors.NewNetworkError("cohere request failed", err)
		}
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.NewNetworkError("read cohere response", err)
		}
		if clsErr := classifyStatus(Cohere, resp.StatusCode, raw); clsErr != nil {
			return nil, clsErr
		}
		return &ChatResult{
			Text:         strings.TrimSpace(gjson.GetBytes(raw, "message.content.0.text").String()),
			Raw:          raw,
			InputTokens:  int(gjson.GetBytes(raw, "usage.tokens.input_tokens").Int()),
			OutputTokens: int(gjson.GetBytes(raw, "usage.tokens.output_tokens").Int()),
		}, nil
	})
}

func (a *cohereAdapter) ChatWithSchema(ctx context.Context, req ChatRequest, schema []byte) (*ChatResult, error) {
	body, err := injectStructuredOutputInstruction(req.Body, "messages", schema)
	if err != nil {
		return nil, errors.NewInvalidRequestError("shaping cohere structured-output fallback", err)
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

func (a *cohereAdapter) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	body, err := setJSONField(req.Body, "stream", true)
	if err != nil {
		return nil, errors.NewInvalidRequestError("setting cohere stream flag", err)
	}
	httpReq, err := a.newRequest(ctx, body, req.Credential.Value)
	if err != nil {
		return nil, errors.NewNetworkError("build cohere stream request", err)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewNetworkError("cohere stream request failed", err)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, classifyStatus(Cohere, resp.StatusCode, raw)
	}
	out := make(chan StreamChunk)
	go streamSSELines(ctx, resp.Body, out)
	return out, nil
}
