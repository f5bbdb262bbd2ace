package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openraccoon/raccoon/internal/observability"
)

// Logger writes audit events asynchronously through a buffered channel.
// Events carry trace correlation when a span is active on the context, and
// tool inputs are hashed unless IncludeToolInput is set.
//
// Usage:
//
//	logger, err := audit.NewLogger(audit.Config{
//	    Enabled: true,
//	    Output:  "stdout",
//	})
//	defer logger.Close()
//
//	logger.LogToolInvocation(ctx, "web_search", "req-123", input)
type Logger struct {
	config     Config
	output     io.WriteCloser
	slogger    *slog.Logger
	buffer     chan *Event
	wg         sync.WaitGroup
	done       chan struct{}
	eventTypes map[EventType]bool
}

// NewLogger creates an audit logger. A disabled config returns a logger
// whose methods are all no-ops.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxFieldSize == 0 {
		config.MaxFieldSize = 1024
	}

	var output io.WriteCloser
	switch config.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	}

	eventTypes := make(map[EventType]bool)
	for _, et := range config.EventTypes {
		eventTypes[et] = true
	}

	l := &Logger{
		config:     config,
		output:     output,
		buffer:     make(chan *Event, config.BufferSize),
		done:       make(chan struct{}),
		eventTypes: eventTypes,
	}

	var handler slog.Handler
	if config.Format == FormatText {
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	} else {
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})
	}
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

// Close flushes remaining events and closes the logger.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}

	close(l.done)
	l.wg.Wait()

	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log writes an audit event. The write is non-blocking: when the buffer is
// full the event is written synchronously instead of dropped.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if !l.config.Enabled {
		return
	}

	if l.config.SampleRate < 1.0 && rand.Float64() > l.config.SampleRate {
		return
	}
	if len(l.eventTypes) > 0 && !l.eventTypes[event.Type] {
		return
	}
	if !l.shouldLog(event.Level) {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.TraceID == "" {
		event.TraceID = observability.GetTraceID(ctx)
	}
	if event.SpanID == "" {
		event.SpanID = observability.GetSpanID(ctx)
	}
	if event.ConversationID == "" {
		event.ConversationID = observability.GetConversationID(ctx)
	}
	if event.AgentID == "" {
		event.AgentID = observability.GetAgentID(ctx)
	}

	select {
	case l.buffer <- event:
	default:
		l.writeEvent(event)
	}
}

// LogTurnStarted logs the start of an agent turn.
func (l *Logger) LogTurnStarted(ctx context.Context, conversationID, agentID, model string) {
	l.Log(ctx, &Event{
		Type:           EventTurnStarted,
		Level:          LevelInfo,
		ConversationID: conversationID,
		AgentID:        agentID,
		Action:         "turn_started",
		Details: map[string]any{
			"model": model,
		},
	})
}

// LogTurnCompleted logs a successfully completed turn with its token usage.
func (l *Logger) LogTurnCompleted(ctx context.Context, conversationID, agentID, model, stopReason string, duration time.Duration, promptTokens, completionTokens int) {
	l.Log(ctx, &Event{
		Type:           EventTurnCompleted,
		Level:          LevelInfo,
		ConversationID: conversationID,
		AgentID:        agentID,
		Action:         "turn_completed",
		Duration:       duration,
		Details: map[string]any{
			"model":             model,
			"stop_reason":       stopReason,
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
		},
	})
}

// LogTurnFailed logs a turn that ended with a terminal error.
func (l *Logger) LogTurnFailed(ctx context.Context, conversationID, agentID, code, errMsg string) {
	l.Log(ctx, &Event{
		Type:           EventTurnFailed,
		Level:          LevelError,
		ConversationID: conversationID,
		AgentID:        agentID,
		Action:         "turn_failed",
		Error:          errMsg,
		Details: map[string]any{
			"code": code,
		},
	})
}

// LogToolInvocation logs a tool invocation event. The raw input is only
// included when IncludeToolInput is set; otherwise a hash is recorded.
func (l *Logger) LogToolInvocation(ctx context.Context, toolName, requestID string, input json.RawMessage) {
	details := map[string]any{}

	if l.config.IncludeToolInput && input != nil {
		inputStr := string(input)
		if len(inputStr) > l.config.MaxFieldSize {
			inputStr = inputStr[:l.config.MaxFieldSize] + "...(truncated)"
		}
		details["input"] = inputStr
	} else if input != nil {
		details["input_hash"] = hashString(string(input))
	}

	l.Log(ctx, &Event{
		Type:      EventToolInvocation,
		Level:     LevelInfo,
		ToolName:  toolName,
		RequestID: requestID,
		Action:    "tool_invoked",
		Details:   details,
	})
}

// LogToolCompletion logs a tool completion event.
func (l *Logger) LogToolCompletion(ctx context.Context, toolName, requestID string, success bool, output string, duration time.Duration) {
	level := LevelInfo
	if !success {
		level = LevelWarn
	}

	details := map[string]any{
		"success":     success,
		"duration_ms": duration.Milliseconds(),
	}
	if output != "" {
		details["output_size"] = len(output)
	}

	l.Log(ctx, &Event{
		Type:      EventToolCompletion,
		Level:     level,
		ToolName:  toolName,
		RequestID: requestID,
		Action:    "tool_completed",
		Details:   details,
		Duration:  duration,
	})
}

// LogToolDenied logs a tool execution that was denied.
func (l *Logger) LogToolDenied(ctx context.Context, toolName, requestID, reason string) {
	l.Log(ctx, &Event{
		Type:      EventToolDenied,
		Level:     LevelWarn,
		ToolName:  toolName,
		RequestID: requestID,
		Action:    "tool_denied",
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogApprovalRequested logs that a gated tool is waiting on a decision.
func (l *Logger) LogApprovalRequested(ctx context.Context, toolName, requestID string) {
	l.Log(ctx, &Event{
		Type:      EventApprovalRequested,
		Level:     LevelInfo,
		ToolName:  toolName,
		RequestID: requestID,
		Action:    "approval_requested",
	})
}

// LogApprovalDecision logs the outcome of an approval prompt, including the
// scope the caller selected.
func (l *Logger) LogApprovalDecision(ctx context.Context, toolName, requestID string, approved bool, scope string) {
	eventType := EventApprovalGranted
	level := LevelInfo
	if !approved {
		eventType = EventApprovalDenied
		level = LevelWarn
	}

	l.Log(ctx, &Event{
		Type:      eventType,
		Level:     level,
		ToolName:  toolName,
		RequestID: requestID,
		Action:    "approval_decided",
		Details: map[string]any{
			"approved": approved,
			"scope":    scope,
		},
	})
}

// LogSandboxCreated logs a sandbox provisioning event.
func (l *Logger) LogSandboxCreated(ctx context.Context, sandboxID, conversationID, template string) {
	l.Log(ctx, &Event{
		Type:           EventSandboxCreated,
		Level:          LevelInfo,
		SandboxID:      sandboxID,
		ConversationID: conversationID,
		Action:         "sandbox_created",
		Details: map[string]any{
			"template": template,
		},
	})
}

// LogSandboxExecuted logs a code execution inside a sandbox.
func (l *Logger) LogSandboxExecuted(ctx context.Context, sandboxID, language string, exitCode int, duration time.Duration) {
	level := LevelInfo
	if exitCode != 0 {
		level = LevelWarn
	}

	l.Log(ctx, &Event{
		Type:      EventSandboxExecuted,
		Level:     level,
		SandboxID: sandboxID,
		Action:    "sandbox_executed",
		Duration:  duration,
		Details: map[string]any{
			"language":  language,
			"exit_code": exitCode,
		},
	})
}

// LogSandboxDestroyed logs a sandbox teardown. Reason is "explicit" for
// caller-initiated teardown, "idle" when the reaper collected it.
func (l *Logger) LogSandboxDestroyed(ctx context.Context, sandboxID, reason string) {
	l.Log(ctx, &Event{
		Type:      EventSandboxDestroyed,
		Level:     LevelInfo,
		SandboxID: sandboxID,
		Action:    "sandbox_destroyed",
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// WithTurn returns a logger bound to a conversation and agent. Tool and
// approval events logged through it carry both identifiers.
func (l *Logger) WithTurn(conversationID, agentID string) *TurnLogger {
	return &TurnLogger{
		logger:         l,
		conversationID: conversationID,
		agentID:        agentID,
	}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}

	if event.ConversationID != "" {
		attrs = append(attrs, "conversation_id", event.ConversationID)
	}
	if event.AgentID != "" {
		attrs = append(attrs, "agent_id", event.AgentID)
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	if event.ToolName != "" {
		attrs = append(attrs, "tool_name", event.ToolName)
	}
	if event.SandboxID != "" {
		attrs = append(attrs, "sandbox_id", event.SandboxID)
	}
	if event.TraceID != "" {
		attrs = append(attrs, "trace_id", event.TraceID)
	}
	if event.SpanID != "" {
		attrs = append(attrs, "span_id", event.SpanID)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}

	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelInfo:
		l.slogger.Info("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	}
}

func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.config.Level]
}

func (l *Logger) slogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// hashString returns the first 16 hex chars of the SHA256 of s.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

// TurnLogger is an audit logger bound to a single turn. Events logged
// through it carry the turn's conversation and agent identifiers.
type TurnLogger struct {
	logger         *Logger
	conversationID string
	agentID        string
}

func (t *TurnLogger) bind(ctx context.Context) context.Context {
	ctx = observability.AddConversationID(ctx, t.conversationID)
	if t.agentID != "" {
		ctx = observability.AddAgentID(ctx, t.agentID)
	}
	return ctx
}

// LogToolInvocation logs a tool invocation with the turn identifiers pre-set.
func (t *TurnLogger) LogToolInvocation(ctx context.Context, toolName, requestID string, input json.RawMessage) {
	t.logger.LogToolInvocation(t.bind(ctx), toolName, requestID, input)
}

// LogToolCompletion logs a tool completion with the turn identifiers pre-set.
func (t *TurnLogger) LogToolCompletion(ctx context.Context, toolName, requestID string, success bool, output string, duration time.Duration) {
	t.logger.LogToolCompletion(t.bind(ctx), toolName, requestID, success, output, duration)
}

// LogToolDenied logs a tool denial with the turn identifiers pre-set.
func (t *TurnLogger) LogToolDenied(ctx context.Context, toolName, requestID, reason string) {
	t.logger.LogToolDenied(t.bind(ctx), toolName, requestID, reason)
}

// LogApprovalRequested logs an approval request with the turn identifiers pre-set.
func (t *TurnLogger) LogApprovalRequested(ctx context.Context, toolName, requestID string) {
	t.logger.LogApprovalRequested(t.bind(ctx), toolName, requestID)
}

// LogApprovalDecision logs an approval decision with the turn identifiers pre-set.
func (t *TurnLogger) LogApprovalDecision(ctx context.Context, toolName, requestID string, approved bool, scope string) {
	t.logger.LogApprovalDecision(t.bind(ctx), toolName, requestID, approved, scope)
}
