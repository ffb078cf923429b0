package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archestra-ai/gateway/pkg/config"
	"github.com/archestra-ai/gateway/pkg/credential"
	"github.com/archestra-ai/gateway/pkg/errors"
)

func newTestOpenAIAdapter(t *testing.T, handler http.HandlerFunc) (*openAICompatibleAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	factory := newOpenAICompatibleAdapter(OpenAI, srv.URL, "Authorization", "Bearer ")
	a := factory(config.ProviderConfig{}, testConfig(), srv.Client())
	return a.(*openAICompatibleAdapter), srv
}

func TestOpenAICompatible_Chat_HappyPath(t *testing.T) {
	t.Parallel()
	var gotAuth string
	a, srv := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  hello  "}}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`))
	})
	defer srv.Close()

	result, err := a.Chat(t.Context(), ChatRequest{
		Body:       []byte(`{"model":"gpt-4o","messages":[]}`),
		Credential: credential.ResolvedCredential{Value: "sk-test"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
	assert.Equal(t, 5, result.InputTokens)
	assert.Equal(t, 2, result.OutputTokens)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestOpenAICompatible_Chat_ClassifiesUpstreamErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		status int
		check  func(*testing.T, error)
	}{
		{"unauthorized", http.StatusUnauthorized, func(t *testing.T, err error) { assert.True(t, errors.IsAuthentication(err)) }},
		{"rate limited", http.StatusTooManyRequests, func(t *testing.T, err error) { assert.True(t, errors.IsRateLimit(err)) }},
		{"bad request", http.StatusBadRequest, func(t *testing.T, err error) { assert.True(t, errors.IsInvalidRequest(err)) }},
		{"server error", http.StatusInternalServerError, func(t *testing.T, err error) { assert.True(t, errors.IsServerError(err)) }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			a, srv := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				_, _ = w.Write([]byte(`{"error":"boom"}`))
			})
			defer srv.Close()
			a.retry.MaxRetries = 0

			_, err := a.Chat(t.Context(), ChatRequest{Body: []byte(`{}`), Credential: credential.ResolvedCredential{Value: "k"}})
			require.Error(t, err)
			c.check(t, err)
		})
	}
}

func TestOpenAICompatible_ChatWithSchema_NativeProviderSetsResponseFormat(t *testing.T) {
	t.Parallel()
	var gotBody []byte
	a, srv := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	})
	defer srv.Close()

	_, err := a.ChatWithSchema(t.Context(), ChatRequest{
		Body:       []byte(`{"messages":[{"role":"user","content":"hi"}]}`),
		Credential: credential.ResolvedCredential{Value: "k"},
	}, []byte(`{"type":"object"}`))
	require.NoError(t, err)
	assert.Contains(t, string(gotBody), `"response_format":{"type":"json_object"}`)
}

func TestOpenAICompatible_ChatWithSchema_FallbackProviderInjectsInstructionAndStripsFence(t *testing.T) {
	t.Parallel()
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"choices\":[{\"message\":{\"content\":\"```json\\n{\\\"a\\\":1}\\n```\"}}]}"))
	}))
	defer srv.Close()
	factory := newOpenAICompatibleAdapter(Ollama, srv.URL, "Authorization", "Bearer ")
	a := factory(config.ProviderConfig{}, testConfig(), srv.Client()).(*openAICompatibleAdapter)

	result, err := a.ChatWithSchema(t.Context(), ChatRequest{
		Body:       []byte(`{"messages":[{"role":"user","content":"hi"}]}`),
		Credential: credential.ResolvedCredential{Value: "k"},
	}, []byte(`{"type":"object"}`))
	require.NoError(t, err)
	assert.Contains(t, string(gotBody), "You must respond with valid JSON")
	assert.Equal(t, `{"a":1}`, result.Text)
}

func TestOpenAICompatible_Stream_RelaysLinesInOrder(t *testing.T) {
	t.Parallel()
	a, srv := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: chunk1\n"))
		_, _ = w.Write([]byte("data: chunk2\n"))
	})
	defer srv.Close()

	ch, err := a.Stream(t.Context(), ChatRequest{Body: []byte(`{}`), Credential: credential.ResolvedCredential{Value: "k"}})
	require.NoError(t, err)

	var lines []string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		lines = append(lines, string(chunk.Data))
	}
	assert.Equal(t, []string{"data: chunk1", "data: chunk2"}, lines)
}

func TestOpenAICompatible_Stream_CancellationClosesChannel(t *testing.T) {
	t.Parallel()
	blockCh := make(chan struct{})
	a, srv := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: chunk1\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-blockCh
	})
	defer srv.Close()
	defer close(blockCh)

	ctx, cancelFn := context.WithCancel(t.Context())
	ch, err := a.Stream(ctx, ChatRequest{Body: []byte(`{}`), Credential: credential.ResolvedCredential{Value: "k"}})
	require.NoError(t, err)

	<-ch
	cancelFn()

	_, ok := <-ch
	assert.False(t, ok, "channel should close after cancellation")
}
