// Package dispatcher implements the MCP Tool Dispatcher:
// pooled, session-affine connections to backend tool servers, resilient
// to pod restarts, OAuth expiry, and stale HTTP sessions.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/archestra-ai/gateway/pkg/audit"
	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/errors"
	"github.com/archestra-ai/gateway/pkg/logger"
)

// TargetContext carries the caller identity used by dynamic target-server
// resolution ("Target server resolution").
type TargetContext struct {
	UserID           string
	TeamMemberIDs    []string
	IsOrgToken       bool
	IsExternalIdp    bool
}

// CallRequest is one tool invocation.
type CallRequest struct {
	AgentID        string
	ConversationID string
	ExtIdpUserID   string
	Tool           *collab.Tool
	CatalogItem    *collab.McpCatalogItem
	Target         TargetContext
	Arguments      map[string]any
	AuthMethod     string
}

// Dispatcher executes tool calls against the correct backend, owning the
// connection pool, session-recovery coalescing, OAuth refresh, and audit
// logging.
type Dispatcher struct {
	store      collab.Store
	secrets    collab.SecretStore
	pods       collab.PodOrchestrator
	pool       *ConnectionPool
	dialer     ConnectionDialer
	auditLog   *audit.Logger
	recoveries singleflight.Group

	httpConcurrencyLimit int64
}

// NewDispatcher constructs a Dispatcher. httpConcurrencyLimit (default 4
// when below 1) is stored on the Dispatcher only; the in-flight cap each
// connection enforces is the one dialer gives it when dialing (PodDialer
// takes its own HTTP limit and always uses 1 for stdio). secrets may be nil if no catalog item in use
// carries OAuth configuration (the refresh-and-retry path is then
// unreachable: every tool call against such a deployment either succeeds
// or fails without ever producing a 401).
func NewDispatcher(store collab.Store, secrets collab.SecretStore, pods collab.PodOrchestrator, dialer ConnectionDialer, httpConcurrencyLimit int64) *Dispatcher {
	if httpConcurrencyLimit < 1 {
		httpConcurrencyLimit = 4
	}
	return &Dispatcher{
		store:                store,
		secrets:              secrets,
		pods:                 pods,
		pool:                 NewConnectionPool(),
		dialer:               dialer,
		auditLog:             audit.NewLogger(),
		httpConcurrencyLimit: httpConcurrencyLimit,
	}
}

// ConnectionKey builds the pool key:
// "{catalogId}:{serverId}[:{agentId}:{conversationId}][:ext:{extIdpUserId}]".
func ConnectionKey(catalogID, serverID, agentID, conversationID, extIdpUserID string) string {
	key := catalogID + ":" + serverID
	if agentID != "" && conversationID != "" {
		key += ":" + agentID + ":" + conversationID
	}
	if extIdpUserID != "" {
		key += ":ext:" + extIdpUserID
	}
	return key
}

// ResolveTargetServer resolves which McpServer a tool call should run
// against, given its catalog item and calling context.
func ResolveTargetServer(ctx context.Context, store collab.Store, tool *collab.Tool, catalog *collab.McpCatalogItem, target TargetContext) (*collab.McpServer, error) {
	if !tool.UseDynamicTeamCredential {
		var id *string
		if catalog.ServerType == collab.ServerTypeLocal {
			id = tool.ExecutionSourceMcpServerID
		} else {
			id = tool.CredentialSourceMcpServerID
		}
		if id == nil {
			return nil, errors.NewMisconfiguredError("tool has no fixed source server for its catalog server type", nil)
		}
		return store.GetMcpServer(ctx, *id)
	}

	servers, err := store.FindMcpServersByCatalog(ctx, catalog.ID)
	if err != nil {
		return nil, err
	}

	teamMembers := map[string]bool{}
	for _, id := range target.TeamMemberIDs {
		teamMembers[id] = true
	}

	// (1) user-owned, unshared.
	for _, s := range servers {
		if s.OwnerID != nil && *s.OwnerID == target.UserID && s.TeamID == nil {
			return s, nil
		}
	}
	// (2) owned by a team member, unshared.
	for _, s := range servers {
		if s.TeamID == nil && s.OwnerID != nil && teamMembers[*s.OwnerID] {
			return s, nil
		}
	}
	// (3) any server whose owner is a team member.
	for _, s := range servers {
		if s.OwnerID != nil && teamMembers[*s.OwnerID] {
			return s, nil
		}
	}
	// (4) any server if caller is an org token.
	if target.IsOrgToken && len(servers) > 0 {
		return servers[0], nil
	}
	// (5) any server if external-IdP.
	if target.IsExternalIdp && len(servers) > 0 {
		return servers[0], nil
	}

	return nil, errors.NewNotFoundError(
		fmt.Sprintf("no accessible mcp server instance for catalog item %s; install one first", catalog.ID), nil)
}

// Close closes every pooled connection. Call once, at process shutdown.
func (d *Dispatcher) Close() error {
	return d.pool.Close()
}

// Call executes req end to end: resolves the target server, gets or
// dials the pooled connection, translates and invokes the tool, retries
// once on a detected stale session or an Authentication (401) error if
// an OAuth refresh succeeds, re-renders the result through the tool's
// response-modifier template if any, and writes the audit event.
func (d *Dispatcher) Call(ctx context.Context, req CallRequest) (string, error) {
	server, err := ResolveTargetServer(ctx, d.store, req.Tool, req.CatalogItem, req.Target)
	if err != nil {
		return "", err
	}

	connKey := ConnectionKey(req.CatalogItem.ID, server.ID, req.AgentID, req.ConversationID, req.ExtIdpUserID)

	result, callErr := d.callOnce(ctx, connKey, server, req)
	switch {
	case callErr != nil && errors.IsStaleSession(callErr):
		result, callErr = d.recoverAndRetry(ctx, connKey, server, req)
	case callErr != nil && errors.IsAuthentication(callErr):
		result, callErr = d.refreshAndRetry(ctx, connKey, server, req)
	}

	isError := callErr != nil
	var resultText string
	if callErr == nil {
		resultText = result
	}

	d.auditLog.Record(ctx, audit.Event{
		AgentID:    req.AgentID,
		ToolName:   req.Tool.Name,
		ToolCall:   encodeArgs(req.Arguments),
		ToolResult: []byte(resultText),
		IsError:    isError,
		UserID:     req.Target.UserID,
		AuthMethod: req.AuthMethod,
	})

	if callErr != nil {
		return "", callErr
	}
	return applyResponseModifier(req.Tool, resultText), nil
}

func (d *Dispatcher) callOnce(ctx context.Context, connKey string, server *collab.McpServer, req CallRequest) (string, error) {
	conn, err := d.pool.GetOrCreate(ctx, connKey, func(ctx context.Context) (*Connection, error) {
		return d.dialer.Dial(ctx, connKey, server, req.CatalogItem)
	})
	if err != nil {
		return "", err
	}

	if err := conn.Ping(ctx); err != nil {
		d.evictSession(ctx, connKey)
		return "", errors.NewStaleSessionError("connection failed ping, evicted", err)
	}

	result, err := conn.Call(ctx, req.Tool.Name, req.Arguments)
	if err != nil {
		if errors.IsAuthentication(err) || shouldEvictOnError(unwrapCause(err)) {
			d.evictSession(ctx, connKey)
		}
		return "", err
	}
	return concatText(result), nil
}

// evictSession evicts the pooled connection for connKey and deletes its
// persisted session row, so a replica that later resumes connKey dials a
// fresh session rather than one this process already gave up on.
func (d *Dispatcher) evictSession(ctx context.Context, connKey string) {
	d.pool.Evict(connKey)
	if err := d.store.DeleteMcpHttpSession(ctx, connKey); err != nil {
		logger.Errorw("dispatcher: failed to delete stale mcp session row", "connectionKey", connKey, "error", err)
	}
}

// recoverAndRetry coalesces concurrent stale-session recoveries for the
// same connectionKey onto a single recreate.
func (d *Dispatcher) recoverAndRetry(ctx context.Context, connKey string, server *collab.McpServer, req CallRequest) (string, error) {
	d.evictSession(ctx, connKey)

	_, err, _ := d.recoveries.Do(connKey, func() (any, error) {
		conn, dialErr := d.dialer.Dial(ctx, connKey, server, req.CatalogItem)
		if dialErr != nil {
			return nil, dialErr
		}
		_, poolErr := d.pool.GetOrCreate(ctx, connKey, func(context.Context) (*Connection, error) { return conn, nil })
		return nil, poolErr
	})
	if err != nil {
		return "", errors.NewStaleSessionError("session recovery failed", err)
	}

	return d.callOnce(ctx, connKey, server, req)
}

// refreshAndRetry handles a tool-path 401: the connection is already
// evicted (by callOnce, since Authentication triggers the same eviction
// as a dead socket). It attempts an OAuth refresh for server's secret; on
// success the refreshed token is persisted and the call is retried
// exactly once against a freshly dialed connection. On failure, or when
// server has no refresh token to use, the server's latched
// oauthRefreshError is left set by refreshOAuth and refreshOAuth's
// Authentication error is returned without a retry.
func (d *Dispatcher) refreshAndRetry(ctx context.Context, connKey string, server *collab.McpServer, req CallRequest) (string, error) {
	if err := d.refreshOAuth(ctx, server, req.CatalogItem); err != nil {
		return "", err
	}
	return d.callOnce(ctx, connKey, server, req)
}

// refreshOAuth attempts to refresh server's OAuth access token using its
// catalog item's static client registration and the refresh token stored
// in server's secret. On success it clears oauthRefreshError and
// persists the refreshed token pair back onto the secret. On failure (or
// when there is nothing to refresh) it latches oauthRefreshError via
// MonitoredTokenSource / UpdateMcpServerOAuthStatus and returns an error;
// the caller must not retry in that case.
func (d *Dispatcher) refreshOAuth(ctx context.Context, server *collab.McpServer, catalog *collab.McpCatalogItem) error {
	if catalog.OAuth == nil || server.SecretID == nil || d.secrets == nil {
		now := time.Now()
		_ = d.store.UpdateMcpServerOAuthStatus(ctx, server.ID, strPtr(noRefreshTokenReason), &now)
		return errors.NewAuthenticationError("server "+server.ID+" has no oauth configuration to refresh", nil)
	}

	secret, err := d.secrets.Get(ctx, *server.SecretID)
	if err != nil {
		now := time.Now()
		_ = d.store.UpdateMcpServerOAuthStatus(ctx, server.ID, strPtr(noRefreshTokenReason), &now)
		return errors.NewAuthenticationError("server "+server.ID+" has no stored secret to refresh", err)
	}

	stored, ok := decodeOAuthToken(secret.Value)
	if !ok || stored.RefreshToken == "" {
		now := time.Now()
		_ = d.store.UpdateMcpServerOAuthStatus(ctx, server.ID, strPtr(noRefreshTokenReason), &now)
		return errors.NewAuthenticationError("server "+server.ID+" has no refresh token stored", nil)
	}

	cfg := &oauth2.Config{
		ClientID:     catalog.OAuth.ClientID,
		ClientSecret: catalog.OAuth.ClientSecret,
		Scopes:       catalog.OAuth.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  catalog.OAuth.AuthURL,
			TokenURL: catalog.OAuth.TokenURL,
		},
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: stored.RefreshToken})
	monitored := NewMonitoredTokenSource(ctx, src, server.ID, d.store)

	tok, err := monitored.Token()
	if err != nil {
		// MonitoredTokenSource.Token already latched oauthRefreshError="refresh_failed".
		return errors.NewAuthenticationError("oauth refresh failed for server "+server.ID, err)
	}

	refreshed := storedOAuthToken{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}
	if refreshed.RefreshToken == "" {
		// Most OAuth servers only return a new refresh token when it rotates.
		refreshed.RefreshToken = stored.RefreshToken
	}
	if err := d.secrets.UpdateSecretValue(ctx, *server.SecretID, encodeOAuthToken(refreshed)); err != nil {
		return errors.NewAuthenticationError("persisting refreshed oauth token for server "+server.ID, err)
	}

	return d.store.UpdateMcpServerOAuthStatus(ctx, server.ID, nil, nil)
}

func applyResponseModifier(tool *collab.Tool, content string) string {
	if tool.ResponseModifierTemplate == nil || *tool.ResponseModifierTemplate == "" {
		return content
	}

	tmpl, err := template.New("response-modifier").Parse(*tool.ResponseModifierTemplate)
	if err != nil {
		logger.Errorw("dispatcher: invalid response modifier template", "toolId", tool.ID, "error", err)
		return content
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, map[string]string{"Result": content}); err != nil {
		logger.Errorw("dispatcher: response modifier template execution failed", "toolId", tool.ID, "error", err)
		return content
	}
	return out.String()
}

func concatText(result *mcp.CallToolResult) string {
	var parts []string
	for _, item := range result.Content {
		switch c := item.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func encodeArgs(args map[string]any) []byte {
	var b strings.Builder
	b.WriteString("{")
	first := true
	for k, v := range args {
		if !first {
			b.WriteString(",")
		}
		first = false
		fmt.Fprintf(&b, "%q:%q", k, fmt.Sprintf("%v", v))
	}
	b.WriteString("}")
	return []byte(b.String())
}

func unwrapCause(err error) error {
	type causer interface{ Unwrap() error }
	if c, ok := err.(causer); ok {
		if cause := c.Unwrap(); cause != nil {
			return cause
		}
	}
	return err
}
