package provider

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archestra-ai/gateway/pkg/config"
	"github.com/archestra-ai/gateway/pkg/credential"
	providerbedrock "github.com/archestra-ai/gateway/pkg/provider/bedrock"
)

func TestBedrockAdapter_Chat_ExtractsConverseText(t *testing.T) {
	t.Parallel()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"output":{"message":{"content":[{"text":"hi "},{"text":"there"}]}},"usage":{"inputTokens":3,"outputTokens":2}}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Bedrock.BaseURL = srv.URL
	a := newBedrockAdapter(config.ProviderConfig{APIKey: "bearer-tok"}, cfg, srv.Client())
	result, err := a.Chat(t.Context(), ChatRequest{
		Model:      "anthropic.claude-3",
		Body:       []byte(`{}`),
		Credential: credential.ResolvedCredential{Value: "bearer-tok"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", result.Text)
	assert.Equal(t, "Bearer bearer-tok", gotAuth)
}

func TestBedrockAdapter_Stream_DecodesEventStreamFrames(t *testing.T) {
	t.Parallel()
	frame1, err := providerbedrock.EncodeEvent(providerbedrock.Headers{EventType: "content-block-delta", MessageType: "event", ContentType: "application/json"}, []byte(`{"delta":"hi"}`))
	require.NoError(t, err)
	frame2, err := providerbedrock.EncodeEvent(providerbedrock.Headers{EventType: "message-stop", MessageType: "event", ContentType: "application/json"}, []byte(`{"stopReason":"end_turn"}`))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(frame1)
		_, _ = w.Write(frame2)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Bedrock.BaseURL = srv.URL
	a := newBedrockAdapter(config.ProviderConfig{APIKey: "tok"}, cfg, srv.Client())

	ch, err := a.Stream(t.Context(), ChatRequest{
		Model:      "anthropic.claude-3",
		Body:       []byte(`{}`),
		Credential: credential.ResolvedCredential{Value: "tok"},
	})
	require.NoError(t, err)

	var bodies []string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		bodies = append(bodies, string(chunk.Data))
	}
	require.Len(t, bodies, 2)
	assert.JSONEq(t, `{"delta":"hi"}`, bodies[0])
	assert.JSONEq(t, `{"stopReason":"end_turn"}`, bodies[1])
}

func TestBedrockAdapter_SignsWhenNoAPIKeyConfigured(t *testing.T) {
	t.Parallel()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"output":{"message":{"content":[]}}}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Bedrock.BaseURL = srv.URL
	cfg.Bedrock.AWSAccessKeyID = "AKIAEXAMPLE"
	cfg.Bedrock.AWSSecretAccessKey = "secretExample"
	a := newBedrockAdapter(config.ProviderConfig{}, cfg, srv.Client())
	_, err := a.Chat(t.Context(), ChatRequest{
		Model:      "anthropic.claude-3",
		Body:       []byte(`{}`),
		Credential: credential.ResolvedCredential{Value: ""},
	})
	require.NoError(t, err)
	assert.Contains(t, gotAuth, "AWS4-HMAC-SHA256")
}

func TestBedrockRegionFromBaseURL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"standard host", "https://bedrock-runtime.eu-west-1.amazonaws.com", "eu-west-1"},
		{"no region marker", "https://custom.example.com", "us-east-1"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, c.want, bedrockRegionFromBaseURL(c.url))
		})
	}
}
