package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/collab/memstore"
	"github.com/archestra-ai/gateway/pkg/credential"
	"github.com/archestra-ai/gateway/pkg/dispatcher"
	"github.com/archestra-ai/gateway/pkg/provider"
	"github.com/archestra-ai/gateway/pkg/usage"
)

// fakeAdapter is a provider.Adapter test double whose Chat responses are
// scripted turn by turn, so a test can drive the agentic tool loop without
// a live provider.
type fakeAdapter struct {
	turns []string
	calls int
}

func (f *fakeAdapter) Chat(_ context.Context, _ provider.ChatRequest) (*provider.ChatResult, error) {
	raw := f.turns[f.calls]
	if f.calls < len(f.turns)-1 {
		f.calls++
	}
	return &provider.ChatResult{Raw: []byte(raw), InputTokens: 10, OutputTokens: 5}, nil
}

func (f *fakeAdapter) Stream(_ context.Context, _ provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	ch := make(chan provider.StreamChunk, 1)
	ch <- provider.StreamChunk{Data: []byte(`data: {"done":true}`)}
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) ChatWithSchema(ctx context.Context, req provider.ChatRequest, _ []byte) (*provider.ChatResult, error) {
	return f.Chat(ctx, req)
}

// testHarness wires a Gateway against memstore fakes and a caller-supplied
// adapter for provider.OpenAI, with no auth (identity provider unset).
type testHarness struct {
	store *memstore.Store
	gw    *Gateway
}

func newTestHarness(t *testing.T, adapter provider.Adapter) *testHarness {
	t.Helper()

	store := memstore.New()
	secrets := memstore.NewSecretStore()
	pods := memstore.NewPodOrchestrator()

	registry := provider.NewRegistryFromAdapters(map[provider.ID]provider.Adapter{
		provider.OpenAI: adapter,
	})

	envLookup := func(p string) (string, bool) {
		if p == "openai" {
			return "env-openai-key", true
		}
		return "", false
	}
	resolver := credential.New(store, secrets, envLookup)
	guard := usage.NewGuard(store, nil)
	recorder := usage.NewRecorder(store)

	dialer := dispatcher.NewPodDialer(store, secrets, pods, 4)
	disp := dispatcher.NewDispatcher(store, secrets, pods, dialer, 4)

	gw := New(store, registry, resolver, guard, recorder, disp, nil, WithRateLimit(100, 100), WithPrometheusRegisterer(nil))

	return &testHarness{store: store, gw: gw}
}

func putTestAgent(store *memstore.Store, id string) *collab.Agent {
	agent := &collab.Agent{ID: id, OrgID: "org-1", Teams: nil}
	store.PutAgent(agent)
	return agent
}

func TestHandleChatUnaryHappyPath(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{turns: []string{
		`{"choices":[{"message":{"role":"assistant","content":"hello there"}}]}`,
	}}
	h := newTestHarness(t, adapter)
	putTestAgent(h.store, "agent-1")

	req := httptest.NewRequest(http.MethodPost, "/v1/openai/agent-1/chat/completions", strings.NewReader(`{"model":"gpt-4o","messages":[]}`))
	req.Header.Set(headerSessionID, "sess-42")
	req.Header.Set(headerExecutionID, "exec-1")
	req.Header.Set(headerAgentID, "ext-agent-9")
	rec := httptest.NewRecorder()

	h.gw.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello there")

	interactions := h.store.Interactions()
	require.Len(t, interactions, 1)
	in := interactions[0]
	assert.Equal(t, "agent-1", in.AgentID)
	assert.Equal(t, "gpt-4o", in.Model)
	assert.Equal(t, "openai:chatCompletions", in.Type)
	require.NotNil(t, in.SessionID)
	assert.Equal(t, "sess-42", *in.SessionID)
	require.NotNil(t, in.ExecutionID)
	assert.Equal(t, "exec-1", *in.ExecutionID)
	require.NotNil(t, in.ExternalAgentID)
	assert.Equal(t, "ext-agent-9", *in.ExternalAgentID)
}

func TestHandleChatRateLimitDenied(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{turns: []string{
		`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`,
	}}
	h := newTestHarness(t, adapter)
	putTestAgent(h.store, "agent-1")
	h.gw.limiters = newAgentLimiters(0, 1, nil)

	body := `{"model":"gpt-4o","messages":[]}`

	req1 := httptest.NewRequest(http.MethodPost, "/v1/openai/agent-1/chat/completions", strings.NewReader(body))
	rec1 := httptest.NewRecorder()
	h.gw.Router().ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/openai/agent-1/chat/completions", strings.NewReader(body))
	rec2 := httptest.NewRecorder()
	h.gw.Router().ServeHTTP(rec2, req2)

	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limit_error", resp["code"])
}

func TestHandleChatAdmissionDenied(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{turns: []string{
		`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`,
	}}
	h := newTestHarness(t, adapter)
	putTestAgent(h.store, "agent-1")
	h.store.PutLimit(&collab.Limit{
		ID:         "limit-1",
		EntityType: collab.EntityAgent,
		EntityID:   "agent-1",
		LimitType:  "cost",
		LimitValue: -1,
		Models:     []string{"gpt-4o"},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/openai/agent-1/chat/completions", strings.NewReader(`{"model":"gpt-4o","messages":[]}`))
	rec := httptest.NewRecorder()
	h.gw.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, h.store.Interactions())
}

func TestHandleChatToolLoop(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{turns: []string{
		`{"choices":[{"message":{"role":"assistant","tool_calls":[{"id":"call-1","function":{"name":"missing-tool","arguments":"{}"}}]}}]}`,
		`{"choices":[{"message":{"role":"assistant","content":"done after tool error"}}]}`,
	}}
	h := newTestHarness(t, adapter)
	putTestAgent(h.store, "agent-1")

	req := httptest.NewRequest(http.MethodPost, "/v1/openai/agent-1/chat/completions", strings.NewReader(`{"model":"gpt-4o","messages":[]}`))
	rec := httptest.NewRecorder()
	h.gw.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "done after tool error")
	assert.Equal(t, 2, adapter.calls+1, "adapter should have been called twice across the loop")

	interactions := h.store.Interactions()
	require.Len(t, interactions, 1)
	assert.Contains(t, string(interactions[0].Request), "missing-tool")
}

func TestHandleChatStream(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{turns: []string{`{}`}}
	h := newTestHarness(t, adapter)
	putTestAgent(h.store, "agent-1")

	req := httptest.NewRequest(http.MethodPost, "/v1/openai/agent-1/chat/completions", strings.NewReader(`{"model":"gpt-4o","stream":true,"messages":[]}`))
	rec := httptest.NewRecorder()
	h.gw.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"done":true`)
	assert.Empty(t, h.store.Interactions(), "streamed responses are not recorded as interactions")
}
