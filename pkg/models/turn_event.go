package models

import "time"

// TurnEvent is the public event stream of one agent turn. It is what the
// gateway re-encodes onto the wire, one message per event.
//
// Design principles:
//   - Single Type discriminator with optional payload pointers; exactly one
//     payload is non-nil for a given Type.
//   - A complete or error event, when emitted, is last.
//   - Events arrive in the order the orchestrator produced them.
type TurnEvent struct {
	Type TurnEventType `json:"type"`

	// Time is when the event was produced.
	Time time.Time `json:"time"`

	Status            *StatusPayload            `json:"status,omitempty"`
	Token             *TokenPayload             `json:"token,omitempty"`
	CodeBlock         *CodeBlockPayload         `json:"code_block,omitempty"`
	ToolCall          *ToolCallPayload          `json:"tool_call,omitempty"`
	ApprovalRequested *ApprovalRequestedPayload `json:"approval_requested,omitempty"`
	AwaitingApproval  *AwaitingApprovalPayload  `json:"awaiting_approval,omitempty"`
	ToolResult        *ToolResultPayload        `json:"tool_result,omitempty"`
	Complete          *CompletePayload          `json:"complete,omitempty"`
	Error             *ErrorPayload             `json:"error,omitempty"`
}

// TurnEventType identifies the kind of turn event.
type TurnEventType string

const (
	TurnStatus            TurnEventType = "status"
	TurnToken             TurnEventType = "token"
	TurnCodeBlock         TurnEventType = "code_block"
	TurnToolCall          TurnEventType = "tool_call"
	TurnApprovalRequested TurnEventType = "approval_requested"
	TurnAwaitingApproval  TurnEventType = "awaiting_approval"
	TurnToolResult        TurnEventType = "tool_result"
	TurnComplete          TurnEventType = "complete"
	TurnError             TurnEventType = "error"
)

// StatusPayload is a short human-facing progress message.
type StatusPayload struct {
	Message  string `json:"message"`
	Category string `json:"category"`
}

// TokenPayload is a fragment of model output, forwarded verbatim.
type TokenPayload struct {
	Text string `json:"text"`
}

// CodeBlockPayload is a structured observation of a fenced code block
// detected in the token stream. The raw tokens are still delivered; this
// event is additional.
type CodeBlockPayload struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Filename string `json:"filename"`
}

// ToolCallPayload announces that an approved (or approval-free) tool
// invocation is about to execute.
type ToolCallPayload struct {
	RequestID string         `json:"request_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// ApprovalRequestedPayload asks the caller to approve or deny a gated tool
// invocation.
type ApprovalRequestedPayload struct {
	RequestID        string          `json:"request_id"`
	ToolName         string          `json:"tool_name"`
	ArgumentsPreview map[string]any  `json:"arguments_preview"`
	AvailableScopes  []ApprovalScope `json:"available_scopes"`
}

// AwaitingApprovalPayload signals the turn is suspended on a decision.
type AwaitingApprovalPayload struct {
	RequestID string `json:"request_id"`
}

// ToolResultPayload reports the outcome of one tool invocation. Errors are
// data: handler failures, denials, and per-tool timeouts all arrive here
// with IsError set, and the turn continues.
type ToolResultPayload struct {
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error,omitempty"`
}

// CompletePayload terminates a successful turn.
type CompletePayload struct {
	Model            string `json:"model"`
	StopReason       string `json:"stop_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// ErrorPayload terminates a failed turn.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Error codes used in ErrorPayload.Code.
const (
	ErrCodeDeadlineExceeded = "deadline_exceeded"
	ErrCodeExecutionTimeout = "execution_timeout"
	ErrCodeInternal         = "internal_error"
)

// Terminal reports whether no further events may follow this one.
func (e *TurnEvent) Terminal() bool {
	return e.Type == TurnComplete || e.Type == TurnError
}
