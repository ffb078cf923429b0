package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/credential"
	"github.com/archestra-ai/gateway/pkg/dispatcher"
	"github.com/archestra-ai/gateway/pkg/errors"
	"github.com/archestra-ai/gateway/pkg/provider"
)

// handleChat is the single handler behind POST /v1/{provider}/{agentId}
// and its wildcard sibling: it resolves credentials, checks usage
// admission, dispatches to the upstream provider (driving the agentic
// tool-call loop against the MCP Tool Dispatcher when the model asks for
// one), writes the response in the provider's native framing, and
// records the resulting Interaction.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	providerParam := chi.URLParam(r, "provider")
	agentID := chi.URLParam(r, "agentId")
	rest := chi.URLParam(r, "*")

	pid := provider.ID(providerParam)
	adapter, err := g.registry.Adapter(pid)
	if err != nil {
		writeError(w, errors.NewInvalidRequestError("unsupported provider "+providerParam, err))
		return
	}

	if !g.limiters.Allow(agentID) {
		g.metrics.rateLimitDenials.WithLabelValues(agentID).Inc()
		writeError(w, errors.NewRateLimitError("too many requests for this agent", nil))
		return
	}

	rc := parseRequestContext(r.Header)
	tac, _ := tokenAuthContextFromContext(ctx)

	agent, err := g.store.GetAgent(ctx, agentID)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errors.NewInvalidRequestError("failed to read request body", err))
		return
	}

	model, endpoint := modelAndEndpoint(pid, rest, body)

	admitted, err := g.guard.Admit(ctx, agent, model)
	if err != nil {
		writeError(w, err)
		return
	}
	if !admitted {
		g.metrics.admissionDenials.WithLabelValues(agentID, model).Inc()
		writeError(w, errors.NewRateLimitError("usage limit exceeded for this model", nil))
		return
	}

	agentKeyID := ""
	if agent.LlmAPIKeyID != nil {
		agentKeyID = *agent.LlmAPIKeyID
	}
	resolved, err := g.resolver.Resolve(ctx, credential.Request{
		OrgID:            tac.OrgID,
		UserID:           tac.UserID,
		UserTeamIDs:      tac.TeamIDs,
		Provider:         providerParam,
		ConversationID:   rc.sessionID,
		AgentLlmAPIKeyID: agentKeyID,
		AgentID:          agent.ID,
		IsAdmin:          tac.IsOrgToken,
		GeminiVertexMode: g.geminiVertexMode,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	chatReq := provider.ChatRequest{Model: model, Body: body, Credential: *resolved}
	interactionType := string(pid) + ":" + endpoint

	if gjson.GetBytes(body, "stream").Bool() {
		g.handleStream(ctx, w, adapter, pid, chatReq, start)
		return
	}

	target := dispatcher.TargetContext{
		UserID:        tac.UserID,
		TeamMemberIDs: tac.TeamIDs,
		IsOrgToken:    tac.IsOrgToken,
		IsExternalIdp: tac.IsExternalIdp,
	}

	result, err := g.runToolLoop(ctx, pid, adapter, agent.ID, rc.sessionID, tac.UserID, target, &chatReq)
	if err != nil {
		writeError(w, err)
		return
	}

	interaction := &collab.Interaction{
		ID:              newInteractionID(),
		AgentID:         agent.ID,
		OrgID:           ptrOrNil(agent.OrgID),
		UserID:          ptrOrNil(tac.UserID),
		SessionID:       ptrOrNil(rc.sessionID),
		ExternalAgentID: ptrOrNil(rc.externalAgentID),
		ExecutionID:     ptrOrNil(rc.executionID),
		Request:         chatReq.Body,
		Response:        result.Raw,
		Model:           model,
		InputTokens:     int64(result.InputTokens),
		OutputTokens:    int64(result.OutputTokens),
		Type:            interactionType,
	}
	if err := g.recorder.Record(ctx, interaction); err != nil {
		writeError(w, err)
		return
	}

	g.metrics.requestsTotal.WithLabelValues(string(pid), "ok").Inc()
	g.metrics.requestDuration.WithLabelValues(string(pid)).Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Raw)
}

// runToolLoop drives up to maxToolLoopTurns round-trips against adapter,
// feeding each tool-call directive to the MCP Tool Dispatcher and the
// result back to the upstream until the model stops asking for tools.
// req.Body is updated in place with every tool turn it appends.
func (g *Gateway) runToolLoop(ctx context.Context, pid provider.ID, adapter provider.Adapter, agentID, conversationID, userID string, target dispatcher.TargetContext, req *provider.ChatRequest) (*provider.ChatResult, error) {
	for turn := 0; turn < maxToolLoopTurns; turn++ {
		result, err := adapter.Chat(ctx, *req)
		if err != nil {
			return nil, err
		}

		calls := extractToolCalls(pid, result.Raw)
		if len(calls) == 0 {
			return result, nil
		}

		results := make([]toolCallResult, 0, len(calls))
		for _, call := range calls {
			text, isErr := g.callTool(ctx, agentID, conversationID, userID, target, call)
			results = append(results, toolCallResult{ID: call.ID, Text: text, IsError: isErr})
		}

		body, err := appendToolResults(pid, req.Body, result.Raw, results)
		if err != nil {
			return nil, err
		}
		req.Body = body
	}
	return nil, errors.NewServerError("tool loop exceeded maximum turns without a final answer", nil)
}

// callTool resolves call.Name to a Tool scoped to agentID and dispatches
// it; dispatcher errors are fed back to the model as a tool-error result
// rather than aborting the whole request, so the model can recover.
func (g *Gateway) callTool(ctx context.Context, agentID, conversationID, userID string, target dispatcher.TargetContext, call toolCallDirective) (text string, isError bool) {
	tool, catalog, err := g.findAgentTool(ctx, agentID, call.Name)
	if err != nil {
		return err.Error(), true
	}

	result, err := g.dispatcher.Call(ctx, dispatcher.CallRequest{
		AgentID:        agentID,
		ConversationID: conversationID,
		ExtIdpUserID:   userID,
		Tool:           tool,
		CatalogItem:    catalog,
		Target:         target,
		Arguments:      call.Arguments,
		AuthMethod:     "resolved",
	})
	g.metrics.toolCallsTotal.WithLabelValues(call.Name, outcomeLabel(err)).Inc()
	if err != nil {
		return err.Error(), true
	}
	return result, false
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// handleStream proxies a streaming response chunk-for-chunk in the
// provider's native framing. The agentic tool loop only applies to the
// unary path: reconciling a model's tool-call directives mid-stream
// would require buffering the whole stream to detect them, which defeats
// the point of streaming, so a streaming request that triggers a tool
// call is returned to the caller as-is for it to resubmit unary if it
// wants tool execution. Usage is not recorded for streamed responses,
// since native stream framing carries no reliable token-count trailer
// across all ten providers to build an Interaction from.
func (g *Gateway) handleStream(ctx context.Context, w http.ResponseWriter, adapter provider.Adapter, pid provider.ID, req provider.ChatRequest, start time.Time) {
	chunks, err := adapter.Stream(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}

	ndjson := pid == provider.Bedrock
	if ndjson {
		w.Header().Set("Content-Type", "application/x-ndjson")
	} else {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	for chunk := range chunks {
		if chunk.Err != nil {
			g.metrics.requestsTotal.WithLabelValues(string(pid), "error").Inc()
			return
		}
		if len(chunk.Data) == 0 {
			continue
		}
		if ndjson {
			_, _ = w.Write(chunk.Data)
			_, _ = w.Write([]byte("\n"))
		} else {
			_, _ = w.Write(chunk.Data)
			_, _ = w.Write([]byte("\n\n"))
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	g.metrics.requestsTotal.WithLabelValues(string(pid), "ok").Inc()
	g.metrics.requestDuration.WithLabelValues(string(pid)).Observe(time.Since(start).Seconds())
}
