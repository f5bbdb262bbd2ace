// Package models provides the domain types shared across the Raccoon
// agent runtime: turn requests, tool descriptors, and the event unions
// produced by providers, turns, and sandboxes.
package models

import "encoding/json"

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single conversation message as supplied by the caller.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolDescriptor declares a tool the model may invoke during a turn.
// InputSchema is a JSON-Schema fragment: an object with "properties",
// optional "required", and type keywords drawn from string, integer,
// number, boolean, array, object.
type ToolDescriptor struct {
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	InputSchema      json.RawMessage `json:"input_schema,omitempty"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
}

// AgentConfig carries the per-turn generation parameters.
type AgentConfig struct {
	// Model routes the turn to a provider by prefix ("claude..." or "gpt...").
	// Empty means the runtime default.
	Model string `json:"model,omitempty"`

	// Temperature defaults to 0.7 when unset.
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens defaults to 4096 when zero.
	MaxTokens int `json:"max_tokens,omitempty"`

	SystemPrompt string           `json:"system_prompt,omitempty"`
	Tools        []ToolDescriptor `json:"tools,omitempty"`

	// DeadlineSeconds bounds the whole turn. Zero means the runtime default.
	DeadlineSeconds int `json:"deadline_seconds,omitempty"`
}

// ToolFor returns the descriptor for the named tool, or nil.
func (c *AgentConfig) ToolFor(name string) *ToolDescriptor {
	for i := range c.Tools {
		if c.Tools[i].Name == name {
			return &c.Tools[i]
		}
	}
	return nil
}

// TurnRequest is the input to one agent turn.
type TurnRequest struct {
	ConversationID string      `json:"conversation_id"`
	AgentID        string      `json:"agent_id"`
	Messages       []Message   `json:"messages"`
	Config         AgentConfig `json:"config"`

	// APIKey, when set, overrides the configured provider credential for
	// this turn only (bring-your-own-key).
	APIKey string `json:"api_key,omitempty"`
}

// ApprovalScope describes how long an approval decision should hold.
// allow_for_session and always_for_agent_tool are accepted and recorded
// but currently behave as allow_once.
type ApprovalScope string

const (
	ScopeAllowOnce          ApprovalScope = "allow_once"
	ScopeAllowForSession    ApprovalScope = "allow_for_session"
	ScopeAlwaysForAgentTool ApprovalScope = "always_for_agent_tool"
)

// ApprovalScopes lists every scope offered to the client when an
// approval-gated tool call arrives.
func ApprovalScopes() []ApprovalScope {
	return []ApprovalScope{ScopeAllowOnce, ScopeAllowForSession, ScopeAlwaysForAgentTool}
}

// ApprovalDecision is the out-of-band answer to an approval request.
type ApprovalDecision struct {
	Approved bool          `json:"approved"`
	Scope    ApprovalScope `json:"scope,omitempty"`
}
