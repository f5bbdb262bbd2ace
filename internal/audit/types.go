// Package audit provides a structured audit trail for agent turns, tool
// invocations, approval decisions, and sandbox lifecycle events.
package audit

import (
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	// Turn events
	EventTurnStarted   EventType = "turn.started"
	EventTurnCompleted EventType = "turn.completed"
	EventTurnFailed    EventType = "turn.failed"

	// Tool events
	EventToolInvocation EventType = "tool.invocation"
	EventToolCompletion EventType = "tool.completion"
	EventToolDenied     EventType = "tool.denied"

	// Approval events
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalGranted   EventType = "approval.granted"
	EventApprovalDenied    EventType = "approval.denied"

	// Sandbox events
	EventSandboxCreated   EventType = "sandbox.created"
	EventSandboxExecuted  EventType = "sandbox.executed"
	EventSandboxDestroyed EventType = "sandbox.destroyed"

	// Remote tool server events
	EventServerConnected EventType = "mcp.connected"
	EventRemoteToolCall  EventType = "mcp.call"

	// Service events
	EventServerStartup  EventType = "server.startup"
	EventServerShutdown EventType = "server.shutdown"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a single audit log entry.
type Event struct {
	// ID is a unique identifier for this audit event.
	ID string `json:"id"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Level is the severity level.
	Level Level `json:"level"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// ConversationID identifies the conversation the event belongs to.
	ConversationID string `json:"conversation_id,omitempty"`

	// AgentID identifies the agent involved.
	AgentID string `json:"agent_id,omitempty"`

	// RequestID links tool and approval events to a specific tool call.
	RequestID string `json:"request_id,omitempty"`

	// ToolName identifies the tool for tool-related events.
	ToolName string `json:"tool_name,omitempty"`

	// SandboxID identifies the sandbox for sandbox events.
	SandboxID string `json:"sandbox_id,omitempty"`

	// Action describes what happened.
	Action string `json:"action"`

	// Details contains event-specific structured data.
	Details map[string]any `json:"details,omitempty"`

	// Duration is the time taken for timed operations.
	Duration time.Duration `json:"duration,omitempty"`

	// Error contains error information if applicable.
	Error string `json:"error,omitempty"`

	// TraceID for distributed tracing correlation.
	TraceID string `json:"trace_id,omitempty"`

	// SpanID for distributed tracing correlation.
	SpanID string `json:"span_id,omitempty"`
}

// OutputFormat specifies the audit log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config configures the audit logger.
type Config struct {
	// Enabled determines if audit logging is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Level is the minimum level to log.
	Level Level `json:"level" yaml:"level"`

	// Format specifies the output format.
	Format OutputFormat `json:"format" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `json:"output" yaml:"output"`

	// IncludeToolInput determines if raw tool inputs are logged.
	// When false, inputs are recorded as a hash only.
	IncludeToolInput bool `json:"include_tool_input" yaml:"include_tool_input"`

	// MaxFieldSize limits the size of logged fields.
	MaxFieldSize int `json:"max_field_size" yaml:"max_field_size"`

	// EventTypes filters which event types to log (empty = all).
	EventTypes []EventType `json:"event_types" yaml:"event_types"`

	// SampleRate controls what fraction of events are logged (0.0 to 1.0).
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// FlushInterval is how often to flush the buffer.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		Level:            LevelInfo,
		Format:           FormatJSON,
		Output:           "stdout",
		IncludeToolInput: false,
		MaxFieldSize:     1024,
		SampleRate:       1.0,
		BufferSize:       1000,
		FlushInterval:    5 * time.Second,
	}
}
