package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/archestra-ai/gateway/pkg/config"
	"github.com/archestra-ai/gateway/pkg/errors"
)

// openAICompatibleAdapter handles the OpenAI chat/completions wire shape
// shared, with minor variance, by OpenAI itself and by Cerebras, Mistral,
// vLLM, Ollama, and Zhipuai's OpenAI-compatibility endpoints. id selects
// the provider-specific structured-output fallback; authHeader/authPrefix
// let each provider's auth scheme differ while reusing one pipeline.
type openAICompatibleAdapter struct {
	id         ID
	baseURL    string
	authHeader string
	authPrefix string
	client     *http.Client
	retry      config.RetryConfig
}

// newOpenAICompatibleAdapter returns a Factory that builds an
// openAICompatibleAdapter for id, falling back to defaultBaseURL when the
// resolved config has no per-provider override.
func newOpenAICompatibleAdapter(id ID, defaultBaseURL, authHeader, authPrefix string) Factory {
	return func(pc config.ProviderConfig, cfg *config.Config, client *http.Client) Adapter {
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		return &openAICompatibleAdapter{
			id:         id,
			baseURL:    baseURL,
			authHeader: authHeader,
			authPrefix: authPrefix,
			client:     client,
			retry:      cfg.Retry,
		}
	}
}

func (a *openAICompatibleAdapter) endpoint() string {
	return a.baseURL + "/chat/completions"
}

func (a *openAICompatibleAdapter) newRequest(ctx context.Context, body []byte, cred string) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(a.authHeader, a.authPrefix+cred)
	return httpReq, nil
}

// classifyStatus maps an OpenAI-compatible HTTP status to the gateway's
// error taxonomy ("Failure policy").
func classifyStatus(id ID, status int, body []byte) error {
	msg := fmt.Sprintf("%s upstream returned status %d", id, status)
	switch {
	case status == http.StatusUnauthorized:
		return errors.NewAuthenticationError(msg, fmt.Errorf("%s", body))
	case status == http.StatusTooManyRequests:
		return errors.NewRateLimitError(msg, fmt.Errorf("%s", body))
	case status >= 400 && status < 500:
		return errors.NewInvalidRequestError(msg, fmt.Errorf("%s", body))
	case status >= 500:
		return errors.NewServerError(msg, fmt.Errorf("%s", body))
	default:
		return nil
	}
}

func (a *openAICompatibleAdapter) doUnary(ctx context.Context, body []byte, cred string) (*ChatResult, error) {
	return retryUnary(ctx, a.retry, func() (*ChatResult, error) {
		httpReq, err := a.newRequest(ctx, body, cred)
		if err != nil {
			return nil, errors.NewNetworkError("build "+string(a.id)+" request", err)
		}
		resp, err := a.client.Do(httpReq)
		if err != nil {
			return nil, errors.NewNetworkError(string(a.id)+" request failed", err)
		}
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.NewNetworkError("read "+string(a.id)+" response", err)
		}
		if clsErr := classifyStatus(a.id, resp.StatusCode, raw); clsErr != nil {
			return nil, clsErr
		}
		return &ChatResult{
			Text:         strings.TrimSpace(gjson.GetBytes(raw, "choices.0.message.content").String()),
			Raw:          raw,
			InputTokens:  int(gjson.GetBytes(raw, "usage.prompt_tokens").Int()),
			OutputTokens: int(gjson.GetBytes(raw, "usage.completion_tokens").Int()),
		}, nil
	})
}

func (a *openAICompatibleAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	return a.doUnary(ctx, req.Body, req.Credential.Value)
}

func (a *openAICompatibleAdapter) ChatWithSchema(ctx context.Context, req ChatRequest, schema []byte) (*ChatResult, error) {
	body := req.Body
	if needsStructuredFallback(a.id) {
		shaped, err := injectStructuredOutputInstruction(body, "messages", schema)
		if err != nil {
			return nil, errors.NewInvalidRequestError("shaping structured-output fallback", err)
		}
		body = shaped
	} else {
		shaped, err := sjson.SetBytes(body, "response_format.type", "json_object")
		if err != nil {
			return nil, errors.NewInvalidRequestError("setting native response_format", err)
		}
		body = shaped
	}
	result, err := a.doUnary(ctx, body, req.Credential.Value)
	if err != nil {
		return nil, err
	}
	if needsStructuredFallback(a.id) {
		result.Text = stripCodeFence(result.Text)
	}
	return result, nil
}

func (a *openAICompatibleAdapter) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	body, err := sjson.SetBytes(req.Body, "stream", true)
	if err != nil {
		return nil, errors.NewInvalidRequestError("setting stream flag", err)
	}
	httpReq, err := a.newRequest(ctx, body, req.Credential.Value)
	if err != nil {
		return nil, errors.NewNetworkError("build "+string(a.id)+" stream request", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewNetworkError(string(a.id)+" stream request failed", err)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, classifyStatus(a.id, resp.StatusCode, raw)
	}

	out := make(chan StreamChunk)
	go streamSSELines(ctx, resp.Body, out)
	return out, nil
}

// streamSSELines relays an SSE body as raw per-line chunks, closing the
// channel (and the upstream body) when the context is cancelled or the
// upstream stream ends, preserving order.
func streamSSELines(ctx context.Context, body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		chunk := make([]byte, len(line))
		copy(chunk, line)
		select {
		case out <- StreamChunk{Data: chunk}:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case out <- StreamChunk{Err: errors.NewNetworkError("stream read error", err)}:
		case <-ctx.Done():
		}
	}
}
