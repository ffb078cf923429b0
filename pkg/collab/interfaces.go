package collab

import (
	"context"
	"time"
)

// Store is the persistent, relational-with-JSON-columns store the gateway
// consumes read-mostly. Every write except McpHttpSession rows, the audit
// log, and the usage counters originates from excluded flows.
type Store interface {
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserTeamIDs(ctx context.Context, userID string) ([]string, error)
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// GetChatAPIKey returns a specific key by ID.
	GetChatAPIKey(ctx context.Context, id string) (*ChatApiKey, error)
	// FindPersonalKey returns the personal key for (orgID, provider, userID), if any.
	FindPersonalKey(ctx context.Context, orgID, provider, userID string) (*ChatApiKey, error)
	// FindTeamKeys returns team keys for (orgID, provider) whose TeamID is in teamIDs,
	// ordered oldest-CreatedAt-first.
	FindTeamKeys(ctx context.Context, orgID, provider string, teamIDs []string) ([]*ChatApiKey, error)
	// FindOrgWideKey returns the org-wide key for (orgID, provider), if any.
	FindOrgWideKey(ctx context.Context, orgID, provider string) (*ChatApiKey, error)

	GetMcpCatalogItem(ctx context.Context, id string) (*McpCatalogItem, error)
	GetMcpServer(ctx context.Context, id string) (*McpServer, error)
	// FindMcpServersByCatalog returns every McpServer instantiating catalogID.
	FindMcpServersByCatalog(ctx context.Context, catalogID string) ([]*McpServer, error)
	UpdateMcpServerOAuthStatus(ctx context.Context, serverID string, refreshError *string, failedAt *time.Time) error

	GetTool(ctx context.Context, id string) (*Tool, error)
	// FindAgentTools returns every Tool reachable by agentID: tools whose
	// owning McpServer is team-scoped to one of the agent's teams. Used by
	// the gateway's agentic tool loop to resolve a model-requested tool
	// name into a callable Tool without the caller needing to know the
	// owning McpServer or catalog item in advance.
	FindAgentTools(ctx context.Context, agentID string) ([]*Tool, error)

	GetMcpHttpSession(ctx context.Context, connectionKey string) (*McpHttpSession, error)
	PutMcpHttpSession(ctx context.Context, session *McpHttpSession) error
	DeleteMcpHttpSession(ctx context.Context, connectionKey string) error
	// DisassociateSessionsForProcess clears SessionEndpointPodName for every
	// row whose SessionEndpointPodName equals processInstanceID, used on
	// graceful shutdown.
	DisassociateSessionsForProcess(ctx context.Context, processInstanceID string) error

	RecordInteraction(ctx context.Context, interaction *Interaction) error

	// FindLimits returns every Limit attached to (entityType, entityID).
	FindLimits(ctx context.Context, entityType LimitEntityType, entityID string) ([]*Limit, error)
	// GetOrCreateModelCounter lazily creates the per-model counter row.
	GetOrCreateModelCounter(ctx context.Context, limitID, model string) (*LimitModelCounter, error)
	// IncrementModelCounter atomically adds to the per-model counter.
	IncrementModelCounter(ctx context.Context, limitID, model string, inDelta, outDelta int64) error
	// FindStaleLimits returns Limits whose LastCleanup is nil or older than cutoff.
	FindStaleLimits(ctx context.Context, cutoff time.Time) ([]*Limit, error)
	// ResetLimitCounters atomically zeroes all per-model counters for limitID
	// and stamps LastCleanup.
	ResetLimitCounters(ctx context.Context, limitID string, now time.Time) error
}

// SecretStore resolves Secret values, including vault-reference ("path#key")
// indirection.
type SecretStore interface {
	Get(ctx context.Context, secretID string) (*Secret, error)
	ResolveVault(ctx context.Context, path, key string) (string, error)
	// UpdateSecretValue overwrites secretID's Value, used by the MCP Tool
	// Dispatcher to persist a refreshed OAuth token pair back onto the
	// server's secret after a successful refresh.
	UpdateSecretValue(ctx context.Context, secretID, value string) error
}

// PodOrchestrator is the Kubernetes collaborator that runs tool-server pods.
// The gateway never manages pod lifecycle itself; it only attaches to or
// discovers already-running pods.
type PodOrchestrator interface {
	GetOrLoadDeployment(ctx context.Context, serverID string) (string, error)
	GetRunningPod(ctx context.Context, serverID string) (string, error)
	// Attach opens a stdio pipe to container in the given namespace/pod.
	Attach(ctx context.Context, namespace, pod, container string) (stdin, stdout WriteReader, err error)
	GetHTTPEndpoint(ctx context.Context, serverID string) (string, error)
}

// WriteReader is the minimal stdio pipe surface PodOrchestrator.Attach hands
// back, avoiding a direct dependency on any particular I/O package here.
type WriteReader interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// IdentityProvider validates inbound bearer tokens into a TokenAuthContext.
// The concrete implementation is pkg/auth.JWTValidator; this interface lets
// the rest of the gateway depend only on the shape.
type IdentityProvider interface {
	Authenticate(ctx context.Context, bearerToken string) (TokenAuthContext, error)
}

// TokenAuthContext mirrors pkg/auth.TokenAuthContext so pkg/collab has no
// import-cycle dependency on pkg/auth; pkg/gateway converts between the two
// at the HTTP boundary.
type TokenAuthContext struct {
	TokenID       string
	UserID        string
	OrgID         string
	TeamIDs       []string
	IsOrgToken    bool
	IsExternalIdp bool
	RawToken      string
}
