package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Router exposes the client as the orchestrator's remote execution hook:
// given only a tool name, it resolves the owning server from the
// discovery cache and forwards the call.
type Router struct {
	client *Client
}

// Router returns the routing adapter for this client.
func (c *Client) Router() *Router {
	return &Router{client: c}
}

// CallTool executes a remote tool by name. The tool must have been
// discovered on some connected server first.
func (r *Router) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	server, ok := r.client.ServerForTool(name)
	if !ok {
		return nil, fmt.Errorf("%w: no connected server exposes tool %q", ErrNotConnected, name)
	}
	raw, err := r.client.CallTool(ctx, server, name, args)
	if err != nil {
		return nil, err
	}
	return renderToolResult(raw)
}

// renderToolResult unwraps the conventional content envelope when the
// result carries one: all-text content is joined into a single string,
// and an error flag becomes an error. Any other shape passes through as
// decoded JSON.
func renderToolResult(raw json.RawMessage) (any, error) {
	var envelope ToolCallResult
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Content) > 0 {
		text, allText := joinTextContent(envelope.Content)
		if envelope.IsError {
			if !allText || text == "" {
				text = string(raw)
			}
			return nil, errors.New(text)
		}
		if allText {
			return text, nil
		}
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw), nil
	}
	return value, nil
}

func joinTextContent(parts []ToolResultContent) (string, bool) {
	var combined strings.Builder
	for _, part := range parts {
		if part.Type != "text" {
			return "", false
		}
		if part.Text == "" {
			continue
		}
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString(part.Text)
	}
	return combined.String(), true
}
