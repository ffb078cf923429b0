package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/archestra-ai/gateway/pkg/config"
	"github.com/archestra-ai/gateway/pkg/errors"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiAdapter speaks the generateContent wire shape. The API key is a
// query parameter rather than a header; in Vertex AI mode
// no key is required at all, since ADC-equivalent external credentials
// are assumed to already be wired into the upstream network path.
type geminiAdapter struct {
	baseURL    string
	vertexMode bool
	client     *http.Client
	retry      config.RetryConfig
}

func newGeminiAdapter(pc config.ProviderConfig, cfg *config.Config, client *http.Client) Adapter {
	baseURL := pc.BaseURL
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	return &geminiAdapter{
		baseURL:    baseURL,
		vertexMode: cfg.GeminiVertex.Enabled,
		client:     client,
		retry:      cfg.Retry,
	}
}

func (a *geminiAdapter) endpoint(model, cred string) string {
	path := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, model)
	if a.vertexMode || cred == "" {
		return path
	}
	return path + "?key=" + cred
}

func (a *geminiAdapter) newRequest(ctx context.Context, req ChatRequest) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(req.Model, req.Credential.Value), strings.NewReader(string(req.Body)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.vertexMode && req.Credential.Value != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credential.Value)
	}
	return httpReq, nil
}

func (a *geminiAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	return retryUnary(ctx, a.retry, func() (*ChatResult, error) {
		httpReq, err := a.newRequest(ctx, req)
		if err != nil {
			return nil, errors.NewNetworkError("build gemini request", err)
		}
		resp, err := a.client.Do(httpReq)
		if err != nil {
			return nil, errors.NewNetworkError("gemini request failed", err)
		}
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.NewNetworkError("read gemini response", err)
		}
		if clsErr := classifyStatus(Gemini, resp.StatusCode, raw); clsErr != nil {
			return nil, clsErr
		}
		var text strings.Builder
		gjson.GetBytes(raw, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
			text.WriteString(part.Get("text").String())
			return true
		})
		return &ChatResult{
			Text:         strings.TrimSpace(text.String()),
			Raw:          raw,
			InputTokens:  int(gjson.GetBytes(raw, "usageMetadata.promptTokenCount").Int()),
			OutputTokens: int(gjson.GetBytes(raw, "usageMetadata.candidatesTokenCount").Int()),
		}, nil
	})
}

// ChatWithSchema uses Gemini's native responseSchema/responseMimeType
// generationConfig fields rather than the synthetic-instruction fallback,
// since Gemini supports JSON-schema response mode natively.
func (a *geminiAdapter) ChatWithSchema(ctx context.Context, req ChatRequest, schema []byte) (*ChatResult, error) {
	body, err := setJSONField(req.Body, "generationConfig.responseMimeType", "application/json")
	if err != nil {
		return nil, errors.NewInvalidRequestError("setting gemini responseMimeType", err)
	}
	body, err = setRawJSONField(body, "generationConfig.responseSchema", schema)
	if err != nil {
		return nil, errors.NewInvalidRequestError("setting gemini responseSchema", err)
	}
	shaped := req
	shaped.Body = body
	return a.Chat(ctx, shaped)
}

func (a *geminiAdapter) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	streamURL := strings.Replace(a.endpoint(req.Model, req.Credential.Value), ":generateContent", ":streamGenerateContent", 1)
	if !strings.Contains(streamURL, "?") {
		streamURL += "?alt=sse"
	} else {
		streamURL += "&alt=sse"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, streamURL, strings.NewReader(string(req.Body)))
	if err != nil {
		return nil, errors.NewNetworkError("build gemini stream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if a.vertexMode && req.Credential.Value != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credential.Value)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewNetworkError("gemini stream request failed", err)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, classifyStatus(Gemini, resp.StatusCode, raw)
	}
	out := make(chan StreamChunk)
	go streamSSELines(ctx, resp.Body, out)
	return out, nil
}
