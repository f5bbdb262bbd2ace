// Package wire defines the request and response messages carried over the
// runtime's gRPC surface. The gateway encodes them with a JSON codec, so
// every message is a plain JSON-tagged struct; the streaming RPCs deliver
// pkg/models event types directly, one message per event.
package wire

import (
	"github.com/openraccoon/raccoon/pkg/models"
)

// ExecuteAgentRequest starts one agent turn. The response is a server
// stream of models.TurnEvent terminated by a complete or error event.
type ExecuteAgentRequest struct {
	ConversationID string             `json:"conversation_id"`
	AgentID        string             `json:"agent_id"`
	Messages       []models.Message   `json:"messages"`
	Config         models.AgentConfig `json:"config"`

	// APIKey overrides the configured provider credential for this turn.
	APIKey string `json:"api_key,omitempty"`
}

// TurnRequest converts the wire request into the orchestrator's input.
func (r *ExecuteAgentRequest) TurnRequest() *models.TurnRequest {
	return &models.TurnRequest{
		ConversationID: r.ConversationID,
		AgentID:        r.AgentID,
		Messages:       r.Messages,
		Config:         r.Config,
		APIKey:         r.APIKey,
	}
}

// GetAgentConfigRequest asks for the effective runtime defaults.
type GetAgentConfigRequest struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
}

// GetAgentConfigResponse reports the defaults a turn runs with when the
// request leaves the corresponding field unset.
type GetAgentConfigResponse struct {
	Model           string                  `json:"model"`
	Temperature     float64                 `json:"temperature"`
	MaxTokens       int                     `json:"max_tokens"`
	SystemPrompt    string                  `json:"system_prompt"`
	Tools           []models.ToolDescriptor `json:"tools"`
	DeadlineSeconds int                     `json:"deadline_seconds"`
}

// ValidateToolsRequest checks a list of tool descriptors without
// registering anything.
type ValidateToolsRequest struct {
	Tools []models.ToolDescriptor `json:"tools"`
}

// ToolValidation is the per-tool verdict.
type ToolValidation struct {
	ToolName string   `json:"tool_name"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
}

// ValidateToolsResponse carries one verdict per submitted tool, in order.
type ValidateToolsResponse struct {
	Results []ToolValidation `json:"results"`
}

// SubmitToolApprovalRequest delivers the out-of-band decision for a
// pending approval-gated tool call.
type SubmitToolApprovalRequest struct {
	RequestID string               `json:"request_id"`
	Approved  bool                 `json:"approved"`
	Scope     models.ApprovalScope `json:"scope,omitempty"`
}

// SubmitToolApprovalResponse reports whether the decision reached a
// pending approval. Unknown or already-resolved ids are not accepted.
type SubmitToolApprovalResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// CreateSandboxRequest provisions a code-execution sandbox.
type CreateSandboxRequest struct {
	ConversationID string                `json:"conversation_id"`
	Template       string                `json:"template,omitempty"`
	Limits         *models.SandboxLimits `json:"limits,omitempty"`
}

// CreateSandboxResponse describes the provisioned sandbox.
type CreateSandboxResponse struct {
	Sandbox models.SandboxInfo `json:"sandbox"`
}

// ExecuteCodeRequest runs code in an existing sandbox. The response is a
// server stream of models.SandboxEvent terminated by a result or error
// event.
type ExecuteCodeRequest struct {
	SandboxID string `json:"sandbox_id"`
	Code      string `json:"code"`
	Language  string `json:"language,omitempty"`
}

// UploadFileRequest writes a file into a sandbox before execution.
// Content is base64 on the wire, per encoding/json.
type UploadFileRequest struct {
	SandboxID string `json:"sandbox_id"`
	Path      string `json:"path"`
	Content   []byte `json:"content"`
}

// UploadFileResponse confirms the upload.
type UploadFileResponse struct {
	File models.FileUpload `json:"file"`
}

// DestroySandboxRequest releases a sandbox. Destroying an unknown id is
// not an error.
type DestroySandboxRequest struct {
	SandboxID string `json:"sandbox_id"`
}

// DestroySandboxResponse acknowledges the release.
type DestroySandboxResponse struct {
	Destroyed bool `json:"destroyed"`
}
