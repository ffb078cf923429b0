// Package collab defines the entities and abstract collaborator
// interfaces the gateway consumes but does not own: the persistent
// store, the secret vault, the pod orchestrator, and the identity
// provider.
package collab

import "time"

// ChatApiKeyScope is the visibility scope of a ChatApiKey.
type ChatApiKeyScope string

// The three scopes a ChatApiKey can carry.
const (
	ScopePersonal ChatApiKeyScope = "personal"
	ScopeTeam     ChatApiKeyScope = "team"
	ScopeOrgWide  ChatApiKeyScope = "org_wide"
)

// McpServerType distinguishes a locally pod-attached server from a
// remotely reachable one.
type McpServerType string

// The two catalog server types.
const (
	ServerTypeLocal  McpServerType = "local"
	ServerTypeRemote McpServerType = "remote"
)

// LimitEntityType is the level of the tenant hierarchy a Limit applies to.
type LimitEntityType string

// The three levels a Limit can be attached to.
const (
	EntityAgent LimitEntityType = "agent"
	EntityTeam  LimitEntityType = "team"
	EntityOrg   LimitEntityType = "organization"
)

// Organization is the top of the tenant hierarchy.
type Organization struct {
	ID string
}

// Team belongs to exactly one Organization.
type Team struct {
	ID    string
	OrgID string
}

// User belongs to exactly one Organization and 0..n Teams.
type User struct {
	ID    string
	OrgID string
}

// Agent is a configured assistant tied to teams and tool assignments.
type Agent struct {
	ID            string
	OrgID         string
	Teams         []string
	LlmAPIKeyID   *string
	SystemPrompt  string
}

// Conversation is mutated on every message exchanged with an Agent.
type Conversation struct {
	ID                     string
	OrgID                  string
	UserID                 string
	AgentID                string
	Provider               *string
	Model                  *string
	ChatAPIKeyID           *string
	HasCustomToolSelection bool
}

// ChatApiKey names which secret to use for a provider at a given scope.
//
// Invariants: scope=personal ⇒ UserID set, TeamID nil;
// scope=team ⇒ TeamID set, UserID nil; scope=org_wide ⇒ both nil.
type ChatApiKey struct {
	ID        string
	OrgID     string
	Provider  string
	Scope     ChatApiKeyScope
	UserID    *string
	TeamID    *string
	SecretID  *string
	IsSystem  bool
	CreatedAt time.Time
}

// Secret is owned by SecretStore; a Value may be a plain string or a
// vault-reference of the form "path#key".
type Secret struct {
	ID    string
	Value string
}

// McpOAuthConfig describes the OAuth configuration of a catalog item, if any.
type McpOAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	AuthURL      string
	Scopes       []string
}

// McpCatalogItem describes a tool server template.
type McpCatalogItem struct {
	ID         string
	ServerType McpServerType
	ServerURL  *string
	OAuth      *McpOAuthConfig
}

// McpServer is an instance of a McpCatalogItem for an owner or team.
// OAuth refresh failures are latched until the next successful refresh.
type McpServer struct {
	ID                   string
	CatalogID            string
	OwnerID              *string
	TeamID               *string
	SecretID             *string
	OAuthRefreshError    *string
	OAuthRefreshFailedAt *time.Time
}

// Tool is a named capability exposed by a McpServer (or catalog template).
//
// Invariant: if UseDynamicTeamCredential is false, exactly one of
// ExecutionSourceMcpServerID / CredentialSourceMcpServerID is set,
// depending on the owning catalog item's ServerType.
type Tool struct {
	ID                          string
	McpServerID                 *string
	CatalogID                   *string
	Name                        string
	ResponseModifierTemplate    *string
	UseDynamicTeamCredential    bool
	ExecutionSourceMcpServerID  *string
	CredentialSourceMcpServerID *string
}

// McpHttpSession is shared across gateway replicas; exactly one row per
// ConnectionKey, TTL-expired by UpdatedAt.
type McpHttpSession struct {
	ConnectionKey          string
	SessionID              string
	SessionEndpointURL     *string
	SessionEndpointPodName *string
	UpdatedAt              time.Time
}

// Interaction is an append-only record of one provider exchange.
type Interaction struct {
	ID              string
	AgentID         string
	OrgID           *string
	UserID          *string
	SessionID       *string
	ExternalAgentID *string
	ExecutionID     *string
	Request         []byte
	Response        []byte
	Model           string
	InputTokens     int64
	OutputTokens    int64
	Cost            *float64
	Type            string
}

// LimitModelCounter is the per-model accumulator row under a Limit.
type LimitModelCounter struct {
	LimitID               string
	Model                 string
	CurrentUsageTokensIn  int64
	CurrentUsageTokensOut int64
}

// Limit is a token-cost budget attached to an agent, team, or organization.
type Limit struct {
	ID          string
	EntityType  LimitEntityType
	EntityID    string
	LimitType   string
	LimitValue  float64
	Models      []string
	LastCleanup *time.Time
}
