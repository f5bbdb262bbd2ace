package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openraccoon/raccoon/internal/observability"
)

const (
	defaultCallTimeout = 20 * time.Second

	// maxCallTimeout caps any single server request, including callers
	// that arrive with a generous deadline for long-running tools.
	maxCallTimeout = 120 * time.Second
)

// ErrNotConnected is returned for operations naming a server that was
// never connected (or was disconnected).
var ErrNotConnected = errors.New("not connected to server")

// connection is the per-server state: endpoint, credentials, and the
// tool list cached by the last discovery.
type connection struct {
	url   string
	auth  ServerAuth
	tools []RemoteTool
}

// ClientOptions tunes the client. Zero values get defaults.
type ClientOptions struct {
	Logger      *observability.Logger
	Tracer      *observability.Tracer
	HTTPClient  *http.Client
	CallTimeout time.Duration
}

// Client talks JSON-RPC 2.0 over HTTP POST to remote tool servers. All
// methods are safe for concurrent use; requests to servers happen
// outside the connection lock.
type Client struct {
	mu    sync.RWMutex
	conns map[string]*connection

	httpClient  *http.Client
	logger      *observability.Logger
	tracer      *observability.Tracer
	callTimeout time.Duration
}

// NewClient creates a remote tool client with no connections.
func NewClient(opts ClientOptions) *Client {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}
	if opts.Tracer == nil {
		opts.Tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	return &Client{
		conns:       make(map[string]*connection),
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
		callTimeout: opts.CallTimeout,
	}
}

// Connect records a server under name. No request is made; the tool
// cache starts empty until Discover fills it. Reconnecting an existing
// name replaces its state.
func (c *Client) Connect(name, url string, auth ServerAuth) error {
	if name == "" {
		return errors.New("server name is required")
	}
	if url == "" {
		return errors.New("server url is required")
	}

	c.mu.Lock()
	c.conns[name] = &connection{url: url, auth: auth}
	c.mu.Unlock()

	c.logger.Info(context.Background(), "tool server connected", "server", name, "url", url)
	return nil
}

// Disconnect forgets a server. Unknown names are a no-op.
func (c *Client) Disconnect(name string) {
	c.mu.Lock()
	_, existed := c.conns[name]
	delete(c.conns, name)
	c.mu.Unlock()

	if existed {
		c.logger.Info(context.Background(), "tool server disconnected", "server", name)
	}
}

// DisconnectAll forgets every server.
func (c *Client) DisconnectAll() {
	c.mu.Lock()
	c.conns = make(map[string]*connection)
	c.mu.Unlock()
}

// ConnectedServers returns the connected server names, sorted.
func (c *Client) ConnectedServers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.conns))
	for name := range c.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnectionCount returns the number of connected servers.
func (c *Client) ConnectionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// IsConnected reports whether name is a connected server.
func (c *Client) IsConnected(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.conns[name]
	return ok
}

// Discover queries tools/list and returns descriptors annotated with
// their server name. With server empty every connected server is
// queried; otherwise only the named one. Results are cached on the
// connection and any server failure aborts the discovery.
func (c *Client) Discover(ctx context.Context, server string) ([]RemoteTool, error) {
	names := c.ConnectedServers()
	if server != "" {
		if !c.IsConnected(server) {
			return nil, fmt.Errorf("%w: %s", ErrNotConnected, server)
		}
		names = []string{server}
	}

	var tools []RemoteTool
	for _, name := range names {
		discovered, err := c.discoverServer(ctx, name)
		if err != nil {
			return nil, err
		}
		tools = append(tools, discovered...)
	}
	return tools, nil
}

func (c *Client) discoverServer(ctx context.Context, name string) ([]RemoteTool, error) {
	conn, ok := c.snapshot(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, name)
	}

	ctx, span := c.tracer.TraceRemoteToolCall(ctx, name, "tools/list")
	defer span.End()

	raw, err := c.rpcCall(ctx, name, conn, "tools/list", struct{}{})
	if err != nil {
		c.tracer.RecordError(span, err)
		return nil, err
	}

	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		err = fmt.Errorf("invalid tools/list result from server %s: %w", name, err)
		c.tracer.RecordError(span, err)
		return nil, err
	}

	tools := make([]RemoteTool, len(result.Tools))
	for i, tool := range result.Tools {
		tool.Server = name
		tools[i] = tool
	}

	c.mu.Lock()
	if conn, ok := c.conns[name]; ok {
		conn.tools = tools
	}
	c.mu.Unlock()

	c.logger.Debug(ctx, "tool discovery complete", "server", name, "tools", len(tools))
	return tools, nil
}

// CachedTools returns the tools cached by the last discovery against
// the named server, without touching the network.
func (c *Client) CachedTools(server string) []RemoteTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.conns[server]
	if !ok {
		return nil
	}
	tools := make([]RemoteTool, len(conn.tools))
	copy(tools, conn.tools)
	return tools
}

// ServerForTool resolves which connected server exposes a tool, using
// the discovery cache. Servers are scanned in sorted name order so the
// answer is stable when several expose the same tool.
func (c *Client) ServerForTool(tool string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.conns))
	for name := range c.conns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, t := range c.conns[name].tools {
			if t.Name == tool {
				return name, true
			}
		}
	}
	return "", false
}

// CallTool executes a tool on the named server via tools/call and
// returns the raw JSON-RPC result.
func (c *Client) CallTool(ctx context.Context, server, tool string, args map[string]any) (json.RawMessage, error) {
	conn, ok := c.snapshot(server)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, server)
	}

	ctx, span := c.tracer.TraceRemoteToolCall(ctx, server, "tools/call")
	defer span.End()

	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.rpcCall(ctx, server, conn, "tools/call", callToolParams{Name: tool, Arguments: args})
	if err != nil {
		c.tracer.RecordError(span, err)
		c.logger.Warn(ctx, "remote tool call failed", "server", server, "tool", tool, "error", err)
		return nil, err
	}
	return raw, nil
}

func (c *Client) snapshot(name string) (connection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.conns[name]
	if !ok {
		return connection{}, false
	}
	return connection{url: conn.url, auth: conn.auth}, true
}

// rpcCall posts one JSON-RPC request and decodes the response envelope.
// A body that is not valid JSON and an error object in the envelope are
// both fatal.
func (c *Client) rpcCall(ctx context.Context, name string, conn connection, method string, params any) (json.RawMessage, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req.Params = paramsJSON

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if conn.auth.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+conn.auth.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("server %s: HTTP %d: %s", name, resp.StatusCode, string(msg))
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("invalid JSON from server %s: %w", name, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("server %s returned error %d: %s", name, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// callContext bounds a server request: the default call timeout when
// the caller set no deadline, and never more than maxCallTimeout even
// for long-running tools.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) > maxCallTimeout {
			return context.WithTimeout(ctx, maxCallTimeout)
		}
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}
