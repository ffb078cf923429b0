package gateway

import (
	"net/http"
	"strings"
)

// Header names consumed at the HTTP boundary.
const (
	headerAgentID     = "X-Archestra-Agent-Id"
	headerUserID      = "X-Archestra-User-Id"
	headerSessionID   = "X-Archestra-Session-Id"
	headerExecutionID = "X-Archestra-Execution-Id"
	headerMeta        = "X-Archestra-Meta"
)

// requestContext is the per-request attribution data parsed off the
// X-Archestra-* headers, before any store lookups happen.
type requestContext struct {
	externalAgentID string
	userID          string
	sessionID       string
	executionID     string
}

// parseRequestContext applies the X-Archestra-Meta composite shortcut
// first, then lets the individual X-Archestra-* headers win on conflict,
// since a caller may set the composite once and override just one field.
func parseRequestContext(h http.Header) requestContext {
	var rc requestContext

	if meta := h.Get(headerMeta); meta != "" {
		parts := strings.SplitN(meta, "/", 3)
		if len(parts) > 0 {
			rc.externalAgentID = parts[0]
		}
		if len(parts) > 1 {
			rc.executionID = parts[1]
		}
		if len(parts) > 2 {
			rc.sessionID = parts[2]
		}
	}

	if v := h.Get(headerAgentID); v != "" {
		rc.externalAgentID = v
	}
	if v := h.Get(headerUserID); v != "" {
		rc.userID = v
	}
	if v := h.Get(headerSessionID); v != "" {
		rc.sessionID = v
	}
	if v := h.Get(headerExecutionID); v != "" {
		rc.executionID = v
	}

	return rc
}

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
