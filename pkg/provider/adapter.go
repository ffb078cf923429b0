// Package provider implements the gateway's provider router and
// transcoder: a protocol adapter per upstream LLM provider that forwards a
// client's native request body to the provider's endpoint, injecting the
// resolved credential and streaming chunk-for-chunk when the upstream
// streams.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/archestra-ai/gateway/pkg/config"
	"github.com/archestra-ai/gateway/pkg/credential"
)

// ID identifies one of the ten supported provider protocols.
type ID string

// The ten supported provider protocols.
const (
	OpenAI    ID = "openai"
	Anthropic ID = "anthropic"
	Gemini    ID = "gemini"
	Bedrock   ID = "bedrock"
	Cohere    ID = "cohere"
	Cerebras  ID = "cerebras"
	Mistral   ID = "mistral"
	VLLM      ID = "vllm"
	Ollama    ID = "ollama"
	Zhipuai   ID = "zhipuai"
)

// ChatRequest is the canonical input to an Adapter operation: the
// provider's native request body, forwarded untouched except for the
// thin shaping an adapter is allowed to do (credential injection,
// structured-output fallback instruction, Bedrock frame re-padding).
type ChatRequest struct {
	Model      string
	Body       []byte
	Credential credential.ResolvedCredential
}

// ChatResult is an Adapter's unary response: the full native response body
// (returned to the client as-is) plus the trimmed assistant text extracted
// from it (needed by the agentic tool loop and usage metering).
type ChatResult struct {
	Text         string
	Raw          []byte
	InputTokens  int
	OutputTokens int
}

// StreamChunk is one unit of a streaming response. A non-nil Err ends the
// sequence; Data is empty on the final chunk that carries only Err.
type StreamChunk struct {
	Data []byte
	Err  error
}

// Adapter is the contract every provider protocol satisfies: chat is
// unary, stream is a lazy finite
// sequence whose cancellation propagates to the upstream request, and
// chatWithSchema falls back to a synthetic instruction when the provider
// lacks native structured output.
type Adapter interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
	ChatWithSchema(ctx context.Context, req ChatRequest, schema []byte) (*ChatResult, error)
}

// Factory builds an Adapter from the resolved gateway config. The factories
// map used by NewRegistry is the single table mapping every supported ID to
// its Factory.
type Factory func(pc config.ProviderConfig, cfg *config.Config, client *http.Client) Adapter

var factories = map[ID]Factory{
	OpenAI:    newOpenAICompatibleAdapter(OpenAI, "https://api.openai.com/v1", "Authorization", "Bearer "),
	Anthropic: newAnthropicAdapter,
	Gemini:    newGeminiAdapter,
	Bedrock:   newBedrockAdapter,
	Cohere:    newCohereAdapter,
	Cerebras:  newOpenAICompatibleAdapter(Cerebras, "https://api.cerebras.ai/v1", "Authorization", "Bearer "),
	Mistral:   newOpenAICompatibleAdapter(Mistral, "https://api.mistral.ai/v1", "Authorization", "Bearer "),
	VLLM:      newOpenAICompatibleAdapter(VLLM, "", "Authorization", "Bearer "),
	Ollama:    newOpenAICompatibleAdapter(Ollama, "http://localhost:11434/v1", "Authorization", "Bearer "),
	Zhipuai:   newOpenAICompatibleAdapter(Zhipuai, "https://open.bigmodel.cn/api/paas/v4", "Authorization", "Bearer "),
}

// Registry holds one constructed Adapter per provider in the factories
// table, whether or not that provider is enabled in config.
type Registry struct {
	adapters map[ID]Adapter
}

// NewRegistry builds every provider's Adapter from cfg. factories is a
// fixed map literal covering all ten IDs; the compiler does not check that
// it is complete, so a missing provider shows up as an "unsupported
// provider" error from Adapter, which TestNewRegistry_CoversAllTenProviders
// checks for.
func NewRegistry(cfg *config.Config, client *http.Client) *Registry {
	if client == nil {
		client = http.DefaultClient
	}
	r := &Registry{adapters: make(map[ID]Adapter, len(factories))}
	for id, factory := range factories {
		r.adapters[id] = factory(cfg.Providers[string(id)], cfg, client)
	}
	return r
}

// NewRegistryFromAdapters builds a Registry directly from a caller-supplied
// adapter set, bypassing the factory table. Used by tests that need a fake
// Adapter standing in for a real provider.
func NewRegistryFromAdapters(adapters map[ID]Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Adapter returns the Adapter for id, or an error if id is not one of the
// ten supported providers.
func (r *Registry) Adapter(id ID) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("provider: unsupported provider %q", id)
	}
	return a, nil
}
