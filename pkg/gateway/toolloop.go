package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/archestra-ai/gateway/pkg/ids"
	"github.com/archestra-ai/gateway/pkg/provider"
)

// maxToolLoopTurns bounds the number of upstream round-trips a single
// chat request may drive through the MCP Tool Dispatcher, so a model
// that never stops requesting tools cannot pin an ingress goroutine
// forever.
const maxToolLoopTurns = 8

// toolCallDirective is one model-requested tool invocation, extracted
// from a provider's native response shape.
type toolCallDirective struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// toolCallResult is the text result of executing one toolCallDirective,
// fed back to the upstream provider in its native follow-up shape.
type toolCallResult struct {
	ID      string
	Text    string
	IsError bool
}

// extractToolCalls reads tool-call directives out of a provider's raw
// native response body. Returns nil when the response carries none (the
// common case, a final assistant answer).
func extractToolCalls(id provider.ID, raw []byte) []toolCallDirective {
	switch id {
	case provider.Anthropic:
		return extractAnthropicToolCalls(raw, "content")
	case provider.Bedrock:
		return extractBedrockToolCalls(raw, "output.message.content")
	case provider.Gemini:
		return extractGeminiToolCalls(raw, "candidates.0.content.parts")
	case provider.Cohere:
		return extractOpenAIToolCalls(raw, "message.tool_calls")
	default:
		// OpenAI, Cerebras, Mistral, vLLM, Ollama, Zhipuai all share the
		// chat/completions wire shape.
		return extractOpenAIToolCalls(raw, "choices.0.message.tool_calls")
	}
}

func extractOpenAIToolCalls(raw []byte, path string) []toolCallDirective {
	calls := gjson.GetBytes(raw, path)
	if !calls.IsArray() {
		return nil
	}
	var out []toolCallDirective
	calls.ForEach(func(_, call gjson.Result) bool {
		var args map[string]any
		_ = json.Unmarshal([]byte(call.Get("function.arguments").String()), &args)
		out = append(out, toolCallDirective{
			ID:        orGeneratedID(call.Get("id").String()),
			Name:      call.Get("function.name").String(),
			Arguments: args,
		})
		return true
	})
	return out
}

func extractAnthropicToolCalls(raw []byte, path string) []toolCallDirective {
	blocks := gjson.GetBytes(raw, path)
	if !blocks.IsArray() {
		return nil
	}
	var out []toolCallDirective
	blocks.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() != "tool_use" {
			return true
		}
		var args map[string]any
		_ = json.Unmarshal([]byte(block.Get("input").Raw), &args)
		out = append(out, toolCallDirective{
			ID:        orGeneratedID(block.Get("id").String()),
			Name:      block.Get("name").String(),
			Arguments: args,
		})
		return true
	})
	return out
}

func extractBedrockToolCalls(raw []byte, path string) []toolCallDirective {
	blocks := gjson.GetBytes(raw, path)
	if !blocks.IsArray() {
		return nil
	}
	var out []toolCallDirective
	blocks.ForEach(func(_, block gjson.Result) bool {
		use := block.Get("toolUse")
		if !use.Exists() {
			return true
		}
		var args map[string]any
		_ = json.Unmarshal([]byte(use.Get("input").Raw), &args)
		out = append(out, toolCallDirective{
			ID:        orGeneratedID(use.Get("toolUseId").String()),
			Name:      use.Get("name").String(),
			Arguments: args,
		})
		return true
	})
	return out
}

func extractGeminiToolCalls(raw []byte, path string) []toolCallDirective {
	parts := gjson.GetBytes(raw, path)
	if !parts.IsArray() {
		return nil
	}
	var out []toolCallDirective
	parts.ForEach(func(_, part gjson.Result) bool {
		fc := part.Get("functionCall")
		if !fc.Exists() {
			return true
		}
		var args map[string]any
		_ = json.Unmarshal([]byte(fc.Get("args").Raw), &args)
		out = append(out, toolCallDirective{
			ID:        ids.New(),
			Name:      fc.Get("name").String(),
			Arguments: args,
		})
		return true
	})
	return out
}

func orGeneratedID(id string) string {
	if id == "" {
		return ids.New()
	}
	return id
}

// appendToolResults folds the assistant's tool-call turn plus the
// Dispatcher's results back into body, in the provider's native
// follow-up shape, ready for the next upstream round-trip.
func appendToolResults(id provider.ID, body, raw []byte, results []toolCallResult) ([]byte, error) {
	switch id {
	case provider.Anthropic:
		return appendAnthropicTurn(body, raw, "content", "messages", results)
	case provider.Bedrock:
		return appendBedrockTurn(body, raw, results)
	case provider.Gemini:
		return appendGeminiTurn(body, raw, results)
	case provider.Cohere:
		return appendOpenAITurn(body, raw, "message", "messages", results)
	default:
		return appendOpenAITurn(body, raw, "choices.0.message", "messages", results)
	}
}

func appendOpenAITurn(body, raw []byte, assistantPath, messagesPath string, results []toolCallResult) ([]byte, error) {
	assistant := gjson.GetBytes(raw, assistantPath)
	if !assistant.Exists() {
		return body, nil
	}
	body, err := sjson.SetRawBytes(body, messagesPath+".-1", []byte(assistant.Raw))
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		body, err = sjson.SetBytes(body, messagesPath+".-1", map[string]any{
			"role":         "tool",
			"tool_call_id": r.ID,
			"content":      r.Text,
		})
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

func appendAnthropicTurn(body, raw []byte, contentPath, messagesPath string, results []toolCallResult) ([]byte, error) {
	content := gjson.GetBytes(raw, contentPath)
	if !content.Exists() {
		return body, nil
	}
	body, err := sjson.SetRawBytes(body, messagesPath+".-1", []byte(fmt.Sprintf(`{"role":"assistant","content":%s}`, content.Raw)))
	if err != nil {
		return nil, err
	}
	var toolResults []map[string]any
	for _, r := range results {
		toolResults = append(toolResults, map[string]any{
			"type":        "tool_result",
			"tool_use_id": r.ID,
			"content":     r.Text,
			"is_error":    r.IsError,
		})
	}
	return sjson.SetBytes(body, messagesPath+".-1", map[string]any{
		"role":    "user",
		"content": toolResults,
	})
}

func appendBedrockTurn(body, raw []byte, results []toolCallResult) ([]byte, error) {
	content := gjson.GetBytes(raw, "output.message.content")
	if !content.Exists() {
		return body, nil
	}
	body, err := sjson.SetRawBytes(body, "messages.-1", []byte(fmt.Sprintf(`{"role":"assistant","content":%s}`, content.Raw)))
	if err != nil {
		return nil, err
	}
	var toolResults []map[string]any
	for _, r := range results {
		status := "success"
		if r.IsError {
			status = "error"
		}
		toolResults = append(toolResults, map[string]any{
			"toolResult": map[string]any{
				"toolUseId": r.ID,
				"content":   []map[string]any{{"text": r.Text}},
				"status":    status,
			},
		})
	}
	return sjson.SetBytes(body, "messages.-1", map[string]any{
		"role":    "user",
		"content": toolResults,
	})
}

func appendGeminiTurn(body, raw []byte, results []toolCallResult) ([]byte, error) {
	parts := gjson.GetBytes(raw, "candidates.0.content.parts")
	if !parts.Exists() {
		return body, nil
	}
	body, err := sjson.SetRawBytes(body, "contents.-1", []byte(fmt.Sprintf(`{"role":"model","parts":%s}`, parts.Raw)))
	if err != nil {
		return nil, err
	}
	var respParts []map[string]any
	directives := extractGeminiToolCalls(raw, "candidates.0.content.parts")
	for i, r := range results {
		name := ""
		if i < len(directives) {
			name = directives[i].Name
		}
		respParts = append(respParts, map[string]any{
			"functionResponse": map[string]any{
				"name":     name,
				"response": map[string]any{"content": r.Text},
			},
		})
	}
	return sjson.SetBytes(body, "contents.-1", map[string]any{
		"role":  "user",
		"parts": respParts,
	})
}
