// Package ids centralizes random identifier generation for interaction
// and audit entry IDs.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a random UUIDv4 string, used for Interaction and audit entry IDs.
func New() string {
	return uuid.NewString()
}

// ConnectionKey joins agentID and mcpServerID as "agent/server". The
// Dispatcher's connection pool does not use it; its keys come from
// dispatcher.ConnectionKey.
func ConnectionKey(agentID, mcpServerID string) string {
	return fmt.Sprintf("%s/%s", agentID, mcpServerID)
}

// SessionSuffix returns a short random suffix appended to a connection key
// when a fresh session must be distinguished from a stale one still
// draining in the pool.
func SessionSuffix() string {
	return uuid.NewString()[:8]
}
