package dispatcher

import (
	"context"
	goerrors "errors"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/semaphore"

	"github.com/archestra-ai/gateway/pkg/errors"
)

// mcpTransportClient is the subset of mark3labs/mcp-go's client.MCPClient
// that Connection needs. Both the stdio-over-pod-attach bridge and the
// streamable HTTP client satisfy it.
type mcpTransportClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// Connection wraps a single upstream MCP client for one connectionKey,
// guarded by the per-connection concurrency limit and state machine.
type Connection struct {
	mu sync.Mutex

	connectionKey string
	inner         mcpTransportClient
	state         State

	// sem serializes calls: weight 1 for stdio, HTTP_CONCURRENCY_LIMIT for
	// HTTP streamable ("Per-connection concurrency").
	sem *semaphore.Weighted

	// toolNames maps lowercased tool name -> upstream canonical name,
	// built lazily on first call after connect.
	toolNames map[string]string

	// session fields, used only for HTTP-streamable connections, so a
	// resumed client can be reconstructed identically across replicas.
	sessionID              string
	sessionEndpointURL      string
	sessionEndpointPodName  string
}

// NewConnection wraps inner with a concurrency limit of capacity
// in-flight calls.
func NewConnection(connectionKey string, inner mcpTransportClient, capacity int64) *Connection {
	if capacity < 1 {
		capacity = 1
	}
	return &Connection{
		connectionKey: connectionKey,
		inner:         inner,
		state:         StateConnecting,
		sem:           semaphore.NewWeighted(capacity),
	}
}

// transition validates and applies a state edge.
func (c *Connection) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !CanTransition(c.state, to) {
		return &ErrInvalidTransition{From: c.state, To: to}
	}
	c.state = to
	return nil
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkReady transitions Connecting -> Ready after a successful handshake.
func (c *Connection) MarkReady() error { return c.transition(StateReady) }

// MarkClosing transitions to Closing, from any state that allows it
// (ping failure in Ready, stale-session signal in Connecting/Ready).
func (c *Connection) MarkClosing() error { return c.transition(StateClosing) }

// MarkClosed transitions Closing -> Closed.
func (c *Connection) MarkClosed() error { return c.transition(StateClosed) }

// resolveToolName builds the lowercase->canonical map on first use, then
// translates name.
func (c *Connection) resolveToolName(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	built := c.toolNames != nil
	c.mu.Unlock()

	if !built {
		result, err := c.inner.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return "", errors.NewNetworkError("list tools for name resolution", err)
		}
		names := make(map[string]string, len(result.Tools))
		for _, t := range result.Tools {
			names[strings.ToLower(t.Name)] = t.Name
		}
		c.mu.Lock()
		c.toolNames = names
		c.mu.Unlock()
	}

	c.mu.Lock()
	canonical, ok := c.toolNames[strings.ToLower(name)]
	c.mu.Unlock()
	if !ok {
		return name, nil // upstream may still recognize it; let CallTool surface NotFound
	}
	return canonical, nil
}

// Call acquires the concurrency slot, transitions Ready -> InUse -> Ready,
// resolves the tool name, and invokes it.
func (c *Connection) Call(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.NewNetworkError("acquire connection concurrency slot", err)
	}
	defer c.sem.Release(1)

	if err := c.transition(StateInUse); err != nil {
		return nil, err
	}
	defer func() { _ = c.transition(StateReady) }()

	canonical, err := c.resolveToolName(ctx, toolName)
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = canonical
	req.Params.Arguments = args

	result, err := c.inner.CallTool(ctx, req)
	if err != nil {
		if isUnauthorized(err) {
			return nil, errors.NewAuthenticationError("call tool "+canonical, err)
		}
		return nil, errors.NewNetworkError("call tool "+canonical, err)
	}
	return result, nil
}

// statusCoder is satisfied by transport errors that carry the upstream
// HTTP status code; mcp-go's streamable HTTP transport wraps non-2xx
// responses this way.
type statusCoder interface {
	StatusCode() int
}

// isUnauthorized reports whether err represents an upstream 401, so the
// caller can classify it as Authentication rather than NetworkError and
// trigger an OAuth refresh-and-retry. No vendored mcp-go error type is
// available to assert here with certainty, so a typed StatusCode() check
// is tried first, falling back to matching the error text the way
// shouldEvictOnError falls back to net.Error for connection resets.
func isUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	var coder statusCoder
	if goerrors.As(err, &coder) {
		return coder.StatusCode() == 401
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized")
}

// Ping checks liveness; on failure the caller should evict and transition
// to Closing.
func (c *Connection) Ping(ctx context.Context) error {
	if err := c.inner.Ping(ctx); err != nil {
		return errors.NewNetworkError("ping connection", err)
	}
	return nil
}

// Close tears down the underlying client.
func (c *Connection) Close() error {
	return c.inner.Close()
}

// SessionInfo returns the persisted HTTP-streamable session triple, for
// storing into collab.McpHttpSession.
func (c *Connection) SessionInfo() (sessionID, endpointURL, endpointPodName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.sessionEndpointURL, c.sessionEndpointPodName
}

// SetSessionInfo stamps the HTTP-streamable session triple after connect
// or resume.
func (c *Connection) SetSessionInfo(sessionID, endpointURL, endpointPodName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.sessionEndpointURL = endpointURL
	c.sessionEndpointPodName = endpointPodName
}
