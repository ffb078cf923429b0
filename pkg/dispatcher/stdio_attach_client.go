package dispatcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/archestra-ai/gateway/pkg/collab"
)

// stdioAttachClient speaks newline-delimited JSON-RPC 2.0 directly over
// the stdin/stdout pipes collab.PodOrchestrator.Attach hands back, for
// servers attached to an already-running pod rather than spawned as a
// subprocess. It implements the same mcpTransportClient surface the
// streamable HTTP client does, so Connection is transport-agnostic.
type stdioAttachClient struct {
	stdin  collab.WriteReader
	stdout collab.WriteReader

	nextID int64

	mu      sync.Mutex
	pending map[int64]chan rpcResponse
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("mcp stdio rpc error %d: %s", e.Code, e.Message) }

func newStdioAttachClient(stdin, stdout collab.WriteReader) *stdioAttachClient {
	c := &stdioAttachClient{
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[int64]chan rpcResponse),
	}
	go c.readLoop()
	return c
}

func (c *stdioAttachClient) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var envelope struct {
			ID     int64           `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *rpcError       `json:"error"`
		}
		if err := json.Unmarshal(line, &envelope); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[envelope.ID]
		if ok {
			delete(c.pending, envelope.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- rpcResponse{Result: envelope.Result, Error: envelope.Error}
		}
	}
}

func (c *stdioAttachClient) call(ctx context.Context, method string, params any, out any) error {
	id := atomic.AddInt64(&c.nextID, 1)
	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := c.stdin.Write(payload); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	}
}

func (c *stdioAttachClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	var result mcp.InitializeResult
	if err := c.call(ctx, "initialize", req.Params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *stdioAttachClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	var result mcp.ListToolsResult
	if err := c.call(ctx, "tools/list", req.Params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *stdioAttachClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var result mcp.CallToolResult
	if err := c.call(ctx, "tools/call", req.Params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *stdioAttachClient) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", nil, nil)
}

func (c *stdioAttachClient) Close() error {
	_ = c.stdin.Close()
	return c.stdout.Close()
}
