package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLogger_Disabled(t *testing.T) {
	logger, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	// Should not panic on disabled logger
	logger.Log(context.Background(), &Event{Type: EventToolInvocation})
	if err := logger.Close(); err != nil {
		t.Errorf("unexpected error closing: %v", err)
	}
}

func TestNewLogger_InvalidOutput(t *testing.T) {
	_, err := NewLogger(Config{
		Enabled: true,
		Output:  "/nonexistent-dir/audit.log",
	})
	if err == nil {
		t.Error("expected error for unwritable output path")
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(Config{
		Enabled: true,
		Level:   LevelInfo,
		Output:  path,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.LogToolInvocation(context.Background(), "web_search", "req-1", json.RawMessage(`{"query":"weather"}`))
	if err := logger.Close(); err != nil {
		t.Fatalf("unexpected error closing: %v", err)
	}
}

func TestLogger_LogLevels(t *testing.T) {
	tests := []struct {
		configLevel Level
		eventLevel  Level
		shouldLog   bool
	}{
		{LevelDebug, LevelDebug, true},
		{LevelDebug, LevelError, true},
		{LevelInfo, LevelDebug, false},
		{LevelInfo, LevelInfo, true},
		{LevelInfo, LevelWarn, true},
		{LevelWarn, LevelInfo, false},
		{LevelWarn, LevelError, true},
		{LevelError, LevelWarn, false},
		{LevelError, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.configLevel)+"_"+string(tt.eventLevel), func(t *testing.T) {
			logger := &Logger{
				config: Config{
					Enabled: true,
					Level:   tt.configLevel,
				},
			}
			if got := logger.shouldLog(tt.eventLevel); got != tt.shouldLog {
				t.Errorf("shouldLog(%s) with config level %s = %v, want %v",
					tt.eventLevel, tt.configLevel, got, tt.shouldLog)
			}
		})
	}
}

func TestLogger_EventTypeFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := &Logger{
		config: Config{
			Enabled:    true,
			Level:      LevelInfo,
			SampleRate: 1.0,
		},
		eventTypes: map[EventType]bool{
			EventToolInvocation: true,
		},
		output: &nopWriteCloser{buf},
		buffer: make(chan *Event, 10),
		done:   make(chan struct{}),
	}

	// Filtered out
	logger.Log(context.Background(), &Event{
		Type:  EventToolCompletion,
		Level: LevelInfo,
	})

	// Passes the filter
	logger.Log(context.Background(), &Event{
		Type:  EventToolInvocation,
		Level: LevelInfo,
	})

	select {
	case event := <-logger.buffer:
		if event.Type != EventToolInvocation {
			t.Errorf("expected EventToolInvocation, got %v", event.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("expected event in buffer")
	}
}

func TestLogger_ToolInputHashing(t *testing.T) {
	logger := &Logger{
		config: Config{
			Enabled:          true,
			Level:            LevelInfo,
			SampleRate:       1.0,
			IncludeToolInput: false,
			MaxFieldSize:     1024,
		},
		eventTypes: make(map[EventType]bool),
		buffer:     make(chan *Event, 10),
		done:       make(chan struct{}),
	}

	input := json.RawMessage(`{"query":"secret search"}`)
	logger.LogToolInvocation(context.Background(), "web_search", "req-1", input)

	event := <-logger.buffer
	if _, ok := event.Details["input"]; ok {
		t.Error("expected raw input to be omitted when IncludeToolInput is false")
	}
	hash, ok := event.Details["input_hash"].(string)
	if !ok || len(hash) != 16 {
		t.Errorf("expected 16-char input hash, got %v", event.Details["input_hash"])
	}
}

func TestLogger_ToolInputTruncation(t *testing.T) {
	logger := &Logger{
		config: Config{
			Enabled:          true,
			Level:            LevelInfo,
			SampleRate:       1.0,
			IncludeToolInput: true,
			MaxFieldSize:     10,
		},
		eventTypes: make(map[EventType]bool),
		buffer:     make(chan *Event, 10),
		done:       make(chan struct{}),
	}

	logger.LogToolInvocation(context.Background(), "web_search", "req-1", json.RawMessage(`{"query":"a very long input payload"}`))

	event := <-logger.buffer
	input, ok := event.Details["input"].(string)
	if !ok {
		t.Fatal("expected input in details")
	}
	if !strings.HasSuffix(input, "...(truncated)") {
		t.Errorf("expected truncated input, got %q", input)
	}
}

func TestLogger_ApprovalDecision(t *testing.T) {
	logger := &Logger{
		config: Config{
			Enabled:    true,
			Level:      LevelInfo,
			SampleRate: 1.0,
		},
		eventTypes: make(map[EventType]bool),
		buffer:     make(chan *Event, 10),
		done:       make(chan struct{}),
	}

	logger.LogApprovalDecision(context.Background(), "execute_code", "req-1", true, "allow_once")
	event := <-logger.buffer
	if event.Type != EventApprovalGranted {
		t.Errorf("expected EventApprovalGranted, got %v", event.Type)
	}

	logger.LogApprovalDecision(context.Background(), "execute_code", "req-2", false, "")
	event = <-logger.buffer
	if event.Type != EventApprovalDenied {
		t.Errorf("expected EventApprovalDenied, got %v", event.Type)
	}
	if event.Level != LevelWarn {
		t.Errorf("expected warn level on denial, got %v", event.Level)
	}
}

func TestTurnLogger(t *testing.T) {
	logger := &Logger{
		config: Config{
			Enabled:    true,
			Level:      LevelInfo,
			SampleRate: 1.0,
		},
		eventTypes: make(map[EventType]bool),
		buffer:     make(chan *Event, 10),
		done:       make(chan struct{}),
	}

	turnLogger := logger.WithTurn("conv-123", "agent-7")
	turnLogger.LogToolDenied(context.Background(), "execute_code", "req-1", "denied by user")

	event := <-logger.buffer
	if event.ConversationID != "conv-123" {
		t.Errorf("expected conversation ID conv-123, got %q", event.ConversationID)
	}
	if event.AgentID != "agent-7" {
		t.Errorf("expected agent ID agent-7, got %q", event.AgentID)
	}
}

func TestHashString(t *testing.T) {
	hash1 := hashString("test input")
	hash2 := hashString("test input")
	if hash1 != hash2 {
		t.Errorf("expected same hash for same input, got %s and %s", hash1, hash2)
	}

	if hash3 := hashString("different input"); hash1 == hash3 {
		t.Error("expected different hash for different input")
	}

	if len(hash1) != 16 {
		t.Errorf("expected hash length 16, got %d", len(hash1))
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Enabled {
		t.Error("expected Enabled to be false")
	}
	if cfg.Level != LevelInfo {
		t.Errorf("expected Level to be LevelInfo, got %v", cfg.Level)
	}
	if cfg.Format != FormatJSON {
		t.Errorf("expected Format to be FormatJSON, got %v", cfg.Format)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected SampleRate to be 1.0, got %v", cfg.SampleRate)
	}
}

func TestEvent_Marshaling(t *testing.T) {
	event := &Event{
		ID:             "test-id",
		Type:           EventToolInvocation,
		Level:          LevelInfo,
		Timestamp:      time.Now(),
		ConversationID: "conv-123",
		ToolName:       "web_search",
		RequestID:      "req-123",
		Action:         "tool_invoked",
		Details: map[string]any{
			"query": "test query",
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}

	if decoded.ID != event.ID {
		t.Errorf("expected ID %s, got %s", event.ID, decoded.ID)
	}
	if decoded.Type != event.Type {
		t.Errorf("expected Type %s, got %s", event.Type, decoded.Type)
	}
	if decoded.RequestID != event.RequestID {
		t.Errorf("expected RequestID %s, got %s", event.RequestID, decoded.RequestID)
	}
}

// nopWriteCloser wraps an io.Writer to implement io.WriteCloser
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
