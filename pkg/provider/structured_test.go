package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestNeedsStructuredFallback(t *testing.T) {
	t.Parallel()
	assert.True(t, needsStructuredFallback(Anthropic))
	assert.True(t, needsStructuredFallback(Cohere))
	assert.True(t, needsStructuredFallback(Ollama))
	assert.True(t, needsStructuredFallback(VLLM))
	assert.True(t, needsStructuredFallback(Zhipuai))
	assert.False(t, needsStructuredFallback(OpenAI))
	assert.False(t, needsStructuredFallback(Gemini))
	assert.False(t, needsStructuredFallback(Bedrock))
}

func TestInjectStructuredOutputInstruction_PrependsToFirstUserMessage(t *testing.T) {
	t.Parallel()
	body := []byte(`{"messages":[{"role":"system","content":"be nice"},{"role":"user","content":"give me weather"}]}`)
	schema := []byte(`{"type":"object","properties":{"temp":{"type":"number"}}}`)

	out, err := injectStructuredOutputInstruction(body, "messages", schema)
	require.NoError(t, err)

	content := gjson.GetBytes(out, "messages.1.content").String()
	assert.Contains(t, content, "You must respond with valid JSON")
	assert.Contains(t, content, "give me weather")
	// unrelated fields pass through untouched.
	assert.Equal(t, "be nice", gjson.GetBytes(out, "messages.0.content").String())
}

func TestInjectStructuredOutputInstruction_NoUserMessageIsNoop(t *testing.T) {
	t.Parallel()
	body := []byte(`{"messages":[{"role":"system","content":"be nice"}]}`)
	out, err := injectStructuredOutputInstruction(body, "messages", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, in, want string
	}{
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, c.want, stripCodeFence(c.in))
		})
	}
}
