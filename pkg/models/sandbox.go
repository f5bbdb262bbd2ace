package models

// SandboxLimits bounds the resources granted to one sandbox.
type SandboxLimits struct {
	CPUCount       int  `json:"cpu_count"`
	MemoryMB       int  `json:"memory_mb"`
	TimeoutSeconds int  `json:"timeout_seconds"`
	NetworkEnabled bool `json:"network_enabled"`
}

// SandboxInfo describes a provisioned sandbox.
type SandboxInfo struct {
	SandboxID      string        `json:"sandbox_id"`
	Status         string        `json:"status"`
	Template       string        `json:"template"`
	ConversationID string        `json:"conversation_id"`
	Limits         SandboxLimits `json:"limits"`
}

// FileUpload is the result of uploading a file into a sandbox.
type FileUpload struct {
	Path      string `json:"path"`
	SizeBytes int    `json:"size_bytes"`
}

// SandboxEventType identifies a code-execution stream event.
type SandboxEventType string

const (
	SandboxStdout SandboxEventType = "stdout"
	SandboxStderr SandboxEventType = "stderr"
	SandboxResult SandboxEventType = "result"
	SandboxError  SandboxEventType = "error"
)

// SandboxEvent is one event in a code-execution stream. stdout/stderr
// events carry Text; the terminal result carries Output, Files, ExitCode
// and DurationMS; an error event carries Code and Message instead.
type SandboxEvent struct {
	Type SandboxEventType `json:"type"`

	Text string `json:"text,omitempty"`

	Output     string   `json:"output,omitempty"`
	Files      []string `json:"files,omitempty"`
	ExitCode   int      `json:"exit_code"`
	DurationMS float64  `json:"duration_ms,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Terminal reports whether this event ends the execution stream.
func (e *SandboxEvent) Terminal() bool {
	return e.Type == SandboxResult || e.Type == SandboxError
}
