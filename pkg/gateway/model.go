package gateway

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/archestra-ai/gateway/pkg/provider"
)

// modelAndEndpoint derives the upstream model id and the endpoint
// discriminator used in Interaction.Type ("{provider}:{endpoint}") from
// the trailing path segment(s) a client appends after {agentId} and, for
// providers that carry the model in the request body rather than the
// URL, from the body itself.
//
// The trailing path mirrors each provider's own native REST shape, e.g.
// "/chat/completions" (OpenAI-compatible), "/messages" (Anthropic),
// "/models/gemini-1.5-pro:generateContent" (Gemini), or
// "/model/anthropic.claude-3/invoke" (Bedrock) - so the model id lives
// wherever that provider's real API puts it.
func modelAndEndpoint(id provider.ID, rest string, body []byte) (model, endpoint string) {
	rest = strings.Trim(rest, "/")

	switch id {
	case provider.Gemini:
		return modelFromColonPath(rest)
	case provider.Bedrock:
		return modelFromBedrockPath(rest)
	default:
		model = gjson.GetBytes(body, "model").String()
		return model, camelJoin(rest)
	}
}

// modelFromColonPath handles Gemini's "models/{model}:{method}" shape.
func modelFromColonPath(rest string) (model, endpoint string) {
	segs := strings.Split(rest, "/")
	last := segs[len(segs)-1]
	if idx := strings.LastIndex(last, ":"); idx >= 0 {
		endpoint = last[idx+1:]
		model = last[:idx]
		if model == "" && len(segs) > 1 {
			model = segs[len(segs)-2]
		}
		return model, endpoint
	}
	return "", camelJoin(rest)
}

// modelFromBedrockPath handles Bedrock's "model/{modelId}/invoke" and
// "model/{modelId}/converse" shapes.
func modelFromBedrockPath(rest string) (model, endpoint string) {
	segs := strings.Split(rest, "/")
	for i, s := range segs {
		if s == "model" && i+1 < len(segs) {
			model = segs[i+1]
		}
	}
	if len(segs) > 0 {
		endpoint = segs[len(segs)-1]
	}
	if endpoint == "" {
		endpoint = "invoke"
	}
	return model, endpoint
}

// camelJoin turns a "/"-separated path like "chat/completions" into the
// camelCase discriminator "chatCompletions". An empty path maps to "chat".
func camelJoin(rest string) string {
	if rest == "" {
		return "chat"
	}
	segs := strings.Split(rest, "/")
	var b strings.Builder
	for i, s := range segs {
		if s == "" {
			continue
		}
		if i == 0 {
			b.WriteString(s)
			continue
		}
		b.WriteString(strings.ToUpper(s[:1]))
		b.WriteString(s[1:])
	}
	return b.String()
}
