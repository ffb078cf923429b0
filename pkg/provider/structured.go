package provider

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// fallbackInstructionProviders lack a native JSON-schema response mode, or
// it is unreliable for them. For these providers ChatWithSchema sends the
// synthetic prompt instruction on every call; no native structured-output
// request is attempted first.
var fallbackInstructionProviders = map[ID]bool{
	Anthropic: true,
	Cohere:    true,
	Ollama:    true,
	VLLM:      true,
	Zhipuai:   true,
}

// needsStructuredFallback reports whether id requires the synthetic
// instruction path rather than a native structured-output request field.
func needsStructuredFallback(id ID) bool {
	return fallbackInstructionProviders[id]
}

// injectStructuredOutputInstruction prepends a synthetic JSON-schema
// instruction to the first user message's content, using gjson to locate
// it and sjson to rewrite only that field so every other field in body
// passes through untouched.
func injectStructuredOutputInstruction(body []byte, messagesPath string, schema []byte) ([]byte, error) {
	messages := gjson.GetBytes(body, messagesPath)
	if !messages.IsArray() {
		return body, nil
	}

	var targetIndex = -1
	messages.ForEach(func(key, value gjson.Result) bool {
		if value.Get("role").String() == "user" {
			targetIndex = int(key.Int())
			return false
		}
		return true
	})
	if targetIndex < 0 {
		return body, nil
	}

	contentPath := messagesPath + "." + strconv.Itoa(targetIndex) + ".content"
	original := gjson.GetBytes(body, contentPath).String()
	instruction := "You must respond with valid JSON matching this schema: " + string(schema) + ". Return only the JSON object.\n\n"

	return sjson.SetBytes(body, contentPath, instruction+original)
}

// stripCodeFence removes a surrounding ```json ... ``` or ``` ... ``` fence
// if present, so permissive JSON parsing of a structured-output fallback
// response tolerates providers that ignore the "return only JSON" request.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
