package provider

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/archestra-ai/gateway/pkg/config"
	"github.com/archestra-ai/gateway/pkg/errors"
	"github.com/archestra-ai/gateway/pkg/provider/bedrock"
)

const bedrockDefaultBaseURL = "https://bedrock-runtime.us-east-1.amazonaws.com"

// bedrockAdapter is the Adapter implementation for AWS Bedrock: unary and
// streaming calls go through bedrock.Client, with streaming responses
// decoded frame-by-frame through bedrock.Decoder.
type bedrockAdapter struct {
	client *bedrock.Client
	retry  config.RetryConfig
}

func newBedrockAdapter(pc config.ProviderConfig, cfg *config.Config, httpClient *http.Client) Adapter {
	baseURL := cfg.Bedrock.BaseURL
	if baseURL == "" {
		baseURL = pc.BaseURL
	}
	if baseURL == "" {
		baseURL = bedrockDefaultBaseURL
	}

	region := cfg.Bedrock.Region
	if region == "" {
		region = bedrockRegionFromBaseURL(baseURL)
	}
	sign := &bedrock.SigningConfig{
		AccessKeyID:     cfg.Bedrock.AWSAccessKeyID,
		SecretAccessKey: cfg.Bedrock.AWSSecretAccessKey,
		SessionToken:    cfg.Bedrock.AWSSessionToken,
		Region:          region,
	}

	return &bedrockAdapter{
		client: bedrock.NewClient(baseURL, httpClient, sign),
		retry:  cfg.Retry,
	}
}

// bedrockRegionFromBaseURL extracts the region segment out of the
// standard "bedrock-runtime.<region>.amazonaws.com" hostname shape so
// SigV4 signing has a region even when the operator configured only a
// base URL override.
func bedrockRegionFromBaseURL(baseURL string) string {
	const prefix = "bedrock-runtime."
	idx := strings.Index(baseURL, prefix)
	if idx < 0 {
		return "us-east-1"
	}
	rest := baseURL[idx+len(prefix):]
	if dot := strings.Index(rest, "."); dot > 0 {
		return rest[:dot]
	}
	return "us-east-1"
}

func (a *bedrockAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	return retryUnary(ctx, a.retry, func() (*ChatResult, error) {
		raw, resp, err := a.client.Invoke(ctx, req.Model, req.Body, req.Credential.Value)
		if err != nil {
			return nil, errors.NewNetworkError("bedrock invoke failed", err)
		}
		if clsErr := classifyStatus(Bedrock, resp.StatusCode, raw); clsErr != nil {
			return nil, clsErr
		}
		var text strings.Builder
		gjson.GetBytes(raw, "output.message.content").ForEach(func(_, block gjson.Result) bool {
			text.WriteString(block.Get("text").String())
			return true
		})
		return &ChatResult{
			Text:         strings.TrimSpace(text.String()),
			Raw:          raw,
			InputTokens:  int(gjson.GetBytes(raw, "usage.inputTokens").Int()),
			OutputTokens: int(gjson.GetBytes(raw, "usage.outputTokens").Int()),
		}, nil
	})
}

// ChatWithSchema uses the synthetic-instruction fallback: Bedrock's
// Converse tool-choice schema support does not reliably enforce arbitrary
// JSON schemas across the models it fronts.
func (a *bedrockAdapter) ChatWithSchema(ctx context.Context, req ChatRequest, schema []byte) (*ChatResult, error) {
	body, err := injectStructuredOutputInstruction(req.Body, "messages", schema)
	if err != nil {
		return nil, errors.NewInvalidRequestError("shaping bedrock structured-output fallback", err)
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

func (a *bedrockAdapter) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := a.client.InvokeStream(ctx, req.Model, req.Body, req.Credential.Value)
	if err != nil {
		return nil, errors.NewNetworkError("bedrock stream invoke failed", err)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, classifyStatus(Bedrock, resp.StatusCode, raw)
	}

	out := make(chan StreamChunk)
	go a.decodeStream(ctx, resp.Body, out)
	return out, nil
}

// decodeStream reads raw bytes off body, feeds them through a
// bedrock.Decoder, and emits one StreamChunk per decoded event's JSON
// body, preserving order.
func (a *bedrockAdapter) decodeStream(ctx context.Context, body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer func() { _ = body.Close() }()

	decoder := bedrock.NewDecoder()
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			events, err := decoder.Feed(buf[:n])
			if err != nil {
				sendChunk(ctx, out, StreamChunk{Err: errors.NewNetworkError("bedrock event-stream decode error", err)})
				return
			}
			for _, ev := range events {
				if !sendChunk(ctx, out, StreamChunk{Data: ev.Body}) {
					return
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				sendChunk(ctx, out, StreamChunk{Err: errors.NewNetworkError("bedrock stream read error", readErr)})
			}
			return
		}
	}
}

func sendChunk(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
