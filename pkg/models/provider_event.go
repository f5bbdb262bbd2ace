package models

// ProviderEventType identifies a unified provider stream event.
type ProviderEventType string

const (
	// ProviderToken is a fragment of free-text output.
	ProviderToken ProviderEventType = "token"

	// ProviderToolUseStart marks the beginning of a streamed tool invocation.
	ProviderToolUseStart ProviderEventType = "tool_use_start"

	// ProviderToolInputDelta is an incremental JSON fragment for the most
	// recently started tool invocation.
	ProviderToolInputDelta ProviderEventType = "tool_input_delta"

	// ProviderToolUse is a fully assembled tool invocation.
	ProviderToolUse ProviderEventType = "tool_use"

	// ProviderComplete terminates the stream with usage and a stop reason.
	ProviderComplete ProviderEventType = "complete"

	// ProviderError reports a stream failure. It is internal to the
	// adapter/orchestrator hand-off and never reaches the public stream
	// directly; the orchestrator converts it into a terminal error event.
	ProviderError ProviderEventType = "error"
)

// Normalized stop reasons. Vendor-specific reasons outside this set pass
// through unmapped.
const (
	StopEndTurn       = "end_turn"
	StopMaxTokens     = "max_tokens"
	StopToolUse       = "tool_use"
	StopContentFilter = "content_filter"
)

// Usage carries token accounting from the provider's terminal event.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderEvent is the unified representation every provider adapter
// produces and the orchestrator consumes. Exactly the fields relevant to
// Type are set:
//
//	token            Text
//	tool_use_start   ToolID, ToolName
//	tool_input_delta Text
//	tool_use         ToolID, ToolName, Input
//	complete         Usage, StopReason
//	error            Err
type ProviderEvent struct {
	Type ProviderEventType `json:"type"`

	Text string `json:"text,omitempty"`

	ToolID   string         `json:"tool_id,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`

	Usage      *Usage `json:"usage,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`

	Err error `json:"-"`
}
