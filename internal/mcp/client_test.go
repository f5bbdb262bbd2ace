package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/openraccoon/raccoon/internal/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})
}

func newTestClient() *Client {
	return NewClient(ClientOptions{Logger: testLogger()})
}

// newToolServer returns an httptest server speaking JSON-RPC 2.0. The
// respond callback receives each decoded request and returns either a
// result value or an error object.
func newToolServer(t *testing.T, respond func(req JSONRPCRequest, r *http.Request) (any, *JSONRPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("server received undecodable request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.JSONRPC != "2.0" {
			t.Errorf("jsonrpc version = %q, want 2.0", req.JSONRPC)
		}
		if req.ID == nil || req.ID == "" {
			t.Error("request has no id")
		}

		result, rpcErr := respond(req, r)
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		if rpcErr == nil {
			data, err := json.Marshal(result)
			if err != nil {
				t.Errorf("marshal result: %v", err)
			}
			resp.Result = data
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestConnectionBookkeeping(t *testing.T) {
	c := newTestClient()

	if err := c.Connect("beta", "http://localhost:1", ServerAuth{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Connect("alpha", "http://localhost:2", ServerAuth{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if got := c.ConnectedServers(); !reflect.DeepEqual(got, []string{"alpha", "beta"}) {
		t.Errorf("ConnectedServers = %v, want sorted [alpha beta]", got)
	}
	if c.ConnectionCount() != 2 {
		t.Errorf("ConnectionCount = %d", c.ConnectionCount())
	}
	if !c.IsConnected("alpha") || c.IsConnected("gamma") {
		t.Error("IsConnected answered wrong")
	}

	c.Disconnect("alpha")
	c.Disconnect("alpha") // idempotent
	if c.IsConnected("alpha") {
		t.Error("alpha still connected after Disconnect")
	}

	c.DisconnectAll()
	if c.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount after DisconnectAll = %d", c.ConnectionCount())
	}
}

func TestConnectRejectsEmptyFields(t *testing.T) {
	c := newTestClient()
	if err := c.Connect("", "http://localhost:1", ServerAuth{}); err == nil {
		t.Error("Connect accepted an empty name")
	}
	if err := c.Connect("alpha", "", ServerAuth{}); err == nil {
		t.Error("Connect accepted an empty url")
	}
}

func TestDiscoverCachesToolsWithAttribution(t *testing.T) {
	server := newToolServer(t, func(req JSONRPCRequest, _ *http.Request) (any, *JSONRPCError) {
		if req.Method != "tools/list" {
			t.Errorf("method = %q, want tools/list", req.Method)
		}
		if string(req.Params) != "{}" {
			t.Errorf("params = %s, want {}", req.Params)
		}
		return listToolsResult{Tools: []RemoteTool{
			{Name: "lookup_ticket", Description: "Look up a ticket"},
			{Name: "create_ticket"},
		}}, nil
	})
	defer server.Close()

	c := newTestClient()
	if err := c.Connect("tracker", server.URL, ServerAuth{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	tools, err := c.Discover(context.Background(), "")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	for _, tool := range tools {
		if tool.Server != "tracker" {
			t.Errorf("tool %q server = %q, want tracker", tool.Name, tool.Server)
		}
	}

	cached := c.CachedTools("tracker")
	if len(cached) != 2 {
		t.Fatalf("cached %d tools, want 2", len(cached))
	}
	if server, ok := c.ServerForTool("lookup_ticket"); !ok || server != "tracker" {
		t.Errorf("ServerForTool = %q, %v", server, ok)
	}
	if _, ok := c.ServerForTool("nonexistent"); ok {
		t.Error("ServerForTool found a tool nobody exposes")
	}
}

func TestDiscoverNamedServerOnly(t *testing.T) {
	var alphaCalls atomic.Int32
	alpha := newToolServer(t, func(JSONRPCRequest, *http.Request) (any, *JSONRPCError) {
		alphaCalls.Add(1)
		return listToolsResult{}, nil
	})
	defer alpha.Close()
	beta := newToolServer(t, func(JSONRPCRequest, *http.Request) (any, *JSONRPCError) {
		return listToolsResult{Tools: []RemoteTool{{Name: "beta_tool"}}}, nil
	})
	defer beta.Close()

	c := newTestClient()
	if err := c.Connect("alpha", alpha.URL, ServerAuth{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Connect("beta", beta.URL, ServerAuth{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	tools, err := c.Discover(context.Background(), "beta")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "beta_tool" {
		t.Errorf("tools = %+v", tools)
	}
	if alphaCalls.Load() != 0 {
		t.Errorf("alpha was queried %d times for a named discovery", alphaCalls.Load())
	}
}

func TestDiscoverUnknownServer(t *testing.T) {
	c := newTestClient()
	if _, err := c.Discover(context.Background(), "ghost"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestDiscoverInvalidJSONIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("this is not json"))
	}))
	defer server.Close()

	c := newTestClient()
	if err := c.Connect("broken", server.URL, ServerAuth{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	_, err := c.Discover(context.Background(), "broken")
	if err == nil {
		t.Fatal("Discover accepted a non-JSON body")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Errorf("err = %v", err)
	}
}

func TestDiscoverServerErrorIsFatal(t *testing.T) {
	server := newToolServer(t, func(JSONRPCRequest, *http.Request) (any, *JSONRPCError) {
		return nil, &JSONRPCError{Code: ErrCodeMethodNotFound, Message: "no such method"}
	})
	defer server.Close()

	c := newTestClient()
	if err := c.Connect("strict", server.URL, ServerAuth{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	_, err := c.Discover(context.Background(), "strict")
	if err == nil {
		t.Fatal("Discover swallowed a server error")
	}
	if !strings.Contains(err.Error(), "no such method") {
		t.Errorf("err = %v", err)
	}
}

func TestCallToolSendsAuthAndParams(t *testing.T) {
	server := newToolServer(t, func(req JSONRPCRequest, r *http.Request) (any, *JSONRPCError) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Authorization = %q", got)
		}
		if req.Method != "tools/call" {
			t.Errorf("method = %q, want tools/call", req.Method)
		}
		var params callToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Errorf("params undecodable: %v", err)
		}
		if params.Name != "lookup_ticket" {
			t.Errorf("params.name = %q", params.Name)
		}
		if !reflect.DeepEqual(params.Arguments, map[string]any{"id": "JIRA-42"}) {
			t.Errorf("params.arguments = %#v", params.Arguments)
		}
		return map[string]any{"status": "open"}, nil
	})
	defer server.Close()

	c := newTestClient()
	if err := c.Connect("tracker", server.URL, ServerAuth{Token: "secret-token"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	raw, err := c.CallTool(context.Background(), "tracker", "lookup_ticket", map[string]any{"id": "JIRA-42"})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("result undecodable: %v", err)
	}
	if result["status"] != "open" {
		t.Errorf("result = %v", result)
	}
}

func TestCallToolUnknownServer(t *testing.T) {
	c := newTestClient()
	_, err := c.CallTool(context.Background(), "ghost", "anything", nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestCallToolHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient()
	if err := c.Connect("flaky", server.URL, ServerAuth{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	_, err := c.CallTool(context.Background(), "flaky", "anything", nil)
	if err == nil || !strings.Contains(err.Error(), "HTTP 503") {
		t.Errorf("err = %v, want HTTP 503", err)
	}
}

func TestRouterResolvesServerAndJoinsText(t *testing.T) {
	server := newToolServer(t, func(req JSONRPCRequest, _ *http.Request) (any, *JSONRPCError) {
		if req.Method == "tools/list" {
			return listToolsResult{Tools: []RemoteTool{{Name: "lookup_ticket"}}}, nil
		}
		return ToolCallResult{Content: []ToolResultContent{
			{Type: "text", Text: "ticket JIRA-42"},
			{Type: "text", Text: "status: open"},
		}}, nil
	})
	defer server.Close()

	c := newTestClient()
	if err := c.Connect("tracker", server.URL, ServerAuth{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := c.Discover(context.Background(), ""); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	value, err := c.Router().CallTool(context.Background(), "lookup_ticket", map[string]any{"id": "JIRA-42"})
	if err != nil {
		t.Fatalf("router CallTool failed: %v", err)
	}
	if value != "ticket JIRA-42\nstatus: open" {
		t.Errorf("value = %q", value)
	}
}

func TestRouterPropagatesErrorEnvelope(t *testing.T) {
	server := newToolServer(t, func(req JSONRPCRequest, _ *http.Request) (any, *JSONRPCError) {
		if req.Method == "tools/list" {
			return listToolsResult{Tools: []RemoteTool{{Name: "lookup_ticket"}}}, nil
		}
		return ToolCallResult{
			Content: []ToolResultContent{{Type: "text", Text: "ticket does not exist"}},
			IsError: true,
		}, nil
	})
	defer server.Close()

	c := newTestClient()
	if err := c.Connect("tracker", server.URL, ServerAuth{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := c.Discover(context.Background(), ""); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	_, err := c.Router().CallTool(context.Background(), "lookup_ticket", nil)
	if err == nil || err.Error() != "ticket does not exist" {
		t.Errorf("err = %v, want the error text from the envelope", err)
	}
}

func TestRouterUnknownTool(t *testing.T) {
	c := newTestClient()
	_, err := c.Router().CallTool(context.Background(), "unmapped_tool", nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestRouterPassesThroughNonEnvelopeResult(t *testing.T) {
	server := newToolServer(t, func(req JSONRPCRequest, _ *http.Request) (any, *JSONRPCError) {
		if req.Method == "tools/list" {
			return listToolsResult{Tools: []RemoteTool{{Name: "fetch_report"}}}, nil
		}
		return map[string]any{"rows": []any{"a", "b"}}, nil
	})
	defer server.Close()

	c := newTestClient()
	if err := c.Connect("reports", server.URL, ServerAuth{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := c.Discover(context.Background(), ""); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	value, err := c.Router().CallTool(context.Background(), "fetch_report", nil)
	if err != nil {
		t.Fatalf("router CallTool failed: %v", err)
	}
	want := map[string]any{"rows": []any{"a", "b"}}
	if !reflect.DeepEqual(value, want) {
		t.Errorf("value = %#v, want %#v", value, want)
	}
}
