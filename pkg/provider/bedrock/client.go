package bedrock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Client issues Bedrock runtime HTTP calls directly (rather than through
// the AWS SDK's bedrockruntime.Client), so the gateway controls the exact
// wire bytes crossing the event-stream codec in this package.
type Client struct {
	baseURL string
	http    *http.Client
	sign    *SigningConfig // nil when a bearer token is used instead
}

// NewClient constructs a Client against baseURL (e.g.
// "https://bedrock-runtime.us-east-1.amazonaws.com"). sign is nil when
// the caller will instead set a bearer token per request.
func NewClient(baseURL string, httpClient *http.Client, sign *SigningConfig) *Client {
	return &Client{baseURL: baseURL, http: httpClient, sign: sign}
}

func (c *Client) invokeURL(modelID string, stream bool) string {
	action := "invoke"
	if stream {
		action = "invoke-with-response-stream"
	}
	return fmt.Sprintf("%s/model/%s/%s", c.baseURL, modelID, action)
}

func (c *Client) newRequest(ctx context.Context, modelID string, body []byte, bearerToken string, stream bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.invokeURL(modelID, stream), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "application/vnd.amazon.eventstream")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
		return req, nil
	}
	if c.sign == nil {
		return nil, fmt.Errorf("bedrock: no bearer token and no SigV4 signing config available")
	}
	if err := SignRequest(ctx, req, body, *c.sign); err != nil {
		return nil, fmt.Errorf("bedrock: signing request: %w", err)
	}
	return req, nil
}

// Invoke performs a unary invoke-model call and returns the raw JSON
// response body.
func (c *Client) Invoke(ctx context.Context, modelID string, body []byte, bearerToken string) ([]byte, *http.Response, error) {
	req, err := c.newRequest(ctx, modelID, body, bearerToken, false)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, err
	}
	return raw, resp, nil
}

// InvokeStream performs a streaming invoke-model call and returns the
// live response for the caller to decode frame-by-frame with a Decoder.
func (c *Client) InvokeStream(ctx context.Context, modelID string, body []byte, bearerToken string) (*http.Response, error) {
	req, err := c.newRequest(ctx, modelID, body, bearerToken, true)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}
