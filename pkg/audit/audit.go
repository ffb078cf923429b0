// Package audit implements the MCP Tool Dispatcher's audit trail
// ("Persistence of tool calls"): every non-high-frequency
// tool call is appended to a log, filtering out screenshot/viewport
// chatter by name substring.
package audit

import (
	"context"
	"strings"

	"github.com/archestra-ai/gateway/pkg/logger"
)

// highFrequencySubstrings names the tool-call substrings filtered out of
// the audit log (screenshots and tab/viewport chatter).
var highFrequencySubstrings = []string{"screenshot", "tab_", "viewport"}

// Event is one recorded tool call.
type Event struct {
	AgentID    string
	ToolName   string
	ToolCall   []byte
	ToolResult []byte
	IsError    bool
	UserID     string
	AuthMethod string
}

// IsHighFrequency reports whether toolName matches one of the
// high-frequency substrings that should be excluded from the log.
func IsHighFrequency(toolName string) bool {
	lower := strings.ToLower(toolName)
	for _, substr := range highFrequencySubstrings {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}

// Logger appends Events to the audit trail, dropping high-frequency ones.
type Logger struct{}

// NewLogger constructs a Logger.
func NewLogger() *Logger {
	return &Logger{}
}

// Record logs event unless its ToolName is high-frequency.
func (l *Logger) Record(_ context.Context, event Event) {
	if IsHighFrequency(event.ToolName) {
		return
	}

	attrs := []any{
		"agentId", event.AgentID,
		"toolName", event.ToolName,
		"isError", event.IsError,
	}
	if event.UserID != "" {
		attrs = append(attrs, "userId", event.UserID)
	}
	if event.AuthMethod != "" {
		attrs = append(attrs, "authMethod", event.AuthMethod)
	}
	attrs = append(attrs, "toolCall", string(event.ToolCall), "toolResult", string(event.ToolResult))

	if event.IsError {
		logger.Errorw("tool call audit", attrs...)
		return
	}
	logger.Infow("tool call audit", attrs...)
}
