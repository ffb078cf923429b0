package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/errors"
)

// sessionIDHeader is the HTTP header the streamable-HTTP MCP transport
// uses to carry the session identifier, both on resume and once assigned
// by the upstream server.
const sessionIDHeader = "Mcp-Session-Id"

// ConnectionDialer constructs a ready Connection for connectionKey's
// target server, picking the transport by server type.
type ConnectionDialer interface {
	Dial(ctx context.Context, connectionKey string, server *collab.McpServer, catalog *collab.McpCatalogItem) (*Connection, error)
}

// PodDialer dials local catalog items over stdio-over-pod-attach unless
// the server advertises streamable HTTP, and remote catalog items always
// over streamable HTTP. For streamable HTTP it resumes a persisted MCP
// session across gateway replicas via store, and authenticates with the
// server's current secret, if any.
type PodDialer struct {
	store   collab.Store
	secrets collab.SecretStore
	pods    collab.PodOrchestrator

	httpConcurrencyLimit int64
}

// NewPodDialer constructs a PodDialer. secrets may be nil for catalog
// items that never carry a SecretID (no Authorization header is ever
// attempted in that case).
func NewPodDialer(store collab.Store, secrets collab.SecretStore, pods collab.PodOrchestrator, httpConcurrencyLimit int64) *PodDialer {
	if httpConcurrencyLimit < 1 {
		httpConcurrencyLimit = 4
	}
	return &PodDialer{store: store, secrets: secrets, pods: pods, httpConcurrencyLimit: httpConcurrencyLimit}
}

// Dial implements ConnectionDialer.
func (d *PodDialer) Dial(ctx context.Context, connectionKey string, server *collab.McpServer, catalog *collab.McpCatalogItem) (*Connection, error) {
	switch catalog.ServerType {
	case collab.ServerTypeRemote:
		var url string
		if catalog.ServerURL != nil {
			url = *catalog.ServerURL
		}
		return d.dialStreamableHTTP(ctx, connectionKey, "", server, catalog, url)
	case collab.ServerTypeLocal:
		return d.dialLocal(ctx, connectionKey, server, catalog)
	default:
		return nil, errors.NewMisconfiguredError(fmt.Sprintf("unknown catalog server type %q", catalog.ServerType), nil)
	}
}

// dialLocal attaches over stdio to the server's pod unless the catalog
// item advertises a streamable HTTP endpoint, in which case it prefers
// that over stdio: a local server may still advertise streamable HTTP,
// in which case it is used instead of stdio.
func (d *PodDialer) dialLocal(ctx context.Context, connectionKey string, server *collab.McpServer, catalog *collab.McpCatalogItem) (*Connection, error) {
	if catalog.ServerURL != nil && *catalog.ServerURL != "" {
		return d.dialStreamableHTTP(ctx, connectionKey, "", server, catalog, *catalog.ServerURL)
	}
	if endpoint, err := d.pods.GetHTTPEndpoint(ctx, server.ID); err == nil && endpoint != "" {
		podName, _ := d.pods.GetRunningPod(ctx, server.ID)
		return d.dialStreamableHTTP(ctx, connectionKey, podName, server, catalog, endpoint)
	}

	deploymentID, err := d.pods.GetOrLoadDeployment(ctx, server.ID)
	if err != nil {
		return nil, errors.NewNetworkError("load deployment for server "+server.ID, err)
	}
	pod, err := d.pods.GetRunningPod(ctx, deploymentID)
	if err != nil {
		return nil, errors.NewNetworkError("find running pod for server "+server.ID, err)
	}

	stdin, stdout, err := d.pods.Attach(ctx, "", pod, "")
	if err != nil {
		return nil, errors.NewNetworkError("attach to pod "+pod, err)
	}

	inner := newStdioAttachClient(stdin, stdout)
	if _, err := inner.Initialize(ctx, initializeRequest()); err != nil {
		_ = inner.Close()
		return nil, errors.NewNetworkError("initialize stdio mcp client for "+server.ID, err)
	}

	conn := NewConnection(connectionKey, inner, 1)
	if err := conn.MarkReady(); err != nil {
		return nil, err
	}
	return conn, nil
}

// dialStreamableHTTP resumes a persisted session for connectionKey when
// one exists, authenticates with server's current secret when one is
// configured, and persists the resulting session back to store so a
// later dial (possibly from a different gateway replica) can resume it.
// A resumed session rejected by the upstream server is surfaced as
// StaleSession, with the stale row deleted, so the caller retries once
// against a fresh session.
func (d *PodDialer) dialStreamableHTTP(ctx context.Context, connectionKey, podName string, server *collab.McpServer, catalog *collab.McpCatalogItem, url string) (*Connection, error) {
	if url == "" {
		return nil, errors.NewMisconfiguredError("catalog item has no server URL for streamable HTTP transport", nil)
	}

	resumed, err := d.store.GetMcpHttpSession(ctx, connectionKey)
	if err != nil {
		return nil, errors.NewNetworkError("load persisted mcp session for "+connectionKey, err)
	}

	headers := map[string]string{}
	if resumed != nil {
		headers[sessionIDHeader] = resumed.SessionID
	}
	if token, ok := d.resolveAuthHeader(ctx, server); ok {
		headers["Authorization"] = "Bearer " + token
	}

	var opts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}

	inner, err := mcpclient.NewStreamableHttpClient(url, opts...)
	if err != nil {
		return nil, errors.NewNetworkError("create streamable http client for "+catalog.ID, err)
	}
	if err := inner.Start(ctx); err != nil {
		return nil, errors.NewNetworkError("start streamable http client for "+catalog.ID, err)
	}
	if _, err := inner.Initialize(ctx, initializeRequest()); err != nil {
		_ = inner.Close()
		if resumed != nil && isStaleSessionError(err) {
			_ = d.store.DeleteMcpHttpSession(ctx, connectionKey)
			return nil, errors.NewStaleSessionError("resumed mcp session rejected by upstream for "+catalog.ID, err)
		}
		return nil, errors.NewNetworkError("initialize streamable http mcp client for "+catalog.ID, err)
	}

	conn := NewConnection(connectionKey, inner, d.httpConcurrencyLimit)
	if err := conn.MarkReady(); err != nil {
		return nil, err
	}

	if sessionID := inner.GetSessionId(); sessionID != "" {
		conn.SetSessionInfo(sessionID, url, podName)
		session := &collab.McpHttpSession{
			ConnectionKey:          connectionKey,
			SessionID:              sessionID,
			SessionEndpointURL:     strPtr(url),
			SessionEndpointPodName: nonEmptyStrPtr(podName),
			UpdatedAt:              time.Now(),
		}
		if err := d.store.PutMcpHttpSession(ctx, session); err != nil {
			_ = conn.Close()
			return nil, errors.NewNetworkError("persist mcp session for "+connectionKey, err)
		}
	}

	return conn, nil
}

// resolveAuthHeader resolves server's current secret into a bearer token,
// if server carries one. An OAuth-backed secret stores a storedOAuthToken
// JSON blob; any other value is used verbatim as a static bearer token.
func (d *PodDialer) resolveAuthHeader(ctx context.Context, server *collab.McpServer) (string, bool) {
	if server == nil || server.SecretID == nil || d.secrets == nil {
		return "", false
	}
	secret, err := d.secrets.Get(ctx, *server.SecretID)
	if err != nil {
		return "", false
	}
	if tok, ok := decodeOAuthToken(secret.Value); ok {
		return tok.AccessToken, tok.AccessToken != ""
	}
	return secret.Value, secret.Value != ""
}

// isStaleSessionError reports whether err looks like the upstream
// rejecting a resumed session identifier, rather than a generic transport
// failure. mcp-go carries no dedicated typed error for this over HTTP, so
// the signal is the same one the teacher's own session middleware uses:
// a "session not found"-shaped message.
func isStaleSessionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{"session not found", "session expired", "invalid session", "unknown session"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return strings.Contains(msg, "404")
}

func nonEmptyStrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func initializeRequest() mcp.InitializeRequest {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "archestra-gateway",
		Version: "1.0.0",
	}
	return req
}
