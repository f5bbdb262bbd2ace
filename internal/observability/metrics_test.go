package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTurnLifecycle(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.TurnStarted()
	if got := testutil.ToFloat64(m.ActiveTurns); got != 1 {
		t.Errorf("Expected 1 active turn, got %v", got)
	}

	m.TurnEnded("claude-sonnet-4-6", "complete", 2.5)
	if got := testutil.ToFloat64(m.ActiveTurns); got != 0 {
		t.Errorf("Expected 0 active turns after end, got %v", got)
	}

	expected := `
		# HELP raccoon_turns_total Total number of agent turns by model and final status
		# TYPE raccoon_turns_total counter
		raccoon_turns_total{model="claude-sonnet-4-6",status="complete"} 1
	`
	if err := testutil.CollectAndCompare(m.TurnCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected turn counter value: %v", err)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordLLMRequest("anthropic", "claude-sonnet-4-6", "success", 1.2, 100, 50)
	m.RecordLLMRequest("openai", "gpt-4o", "error", 0.3, 0, 0)

	if count := testutil.CollectAndCount(m.LLMRequestCounter); count != 2 {
		t.Errorf("Expected 2 request counter series, got %d", count)
	}

	// Zero token counts must not create series.
	expected := `
		# HELP raccoon_llm_tokens_total Total number of tokens used by provider, model, and type
		# TYPE raccoon_llm_tokens_total counter
		raccoon_llm_tokens_total{model="claude-sonnet-4-6",provider="anthropic",type="completion"} 50
		raccoon_llm_tokens_total{model="claude-sonnet-4-6",provider="anthropic",type="prompt"} 100
	`
	if err := testutil.CollectAndCompare(m.LLMTokensUsed, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected token counter value: %v", err)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordToolExecution("web_search", "success", 0.25)
	m.RecordToolExecution("web_search", "success", 0.5)
	m.RecordToolExecution("execute_code", "error", 10)

	expected := `
		# HELP raccoon_tool_executions_total Total number of tool executions by tool name and status
		# TYPE raccoon_tool_executions_total counter
		raccoon_tool_executions_total{status="error",tool_name="execute_code"} 1
		raccoon_tool_executions_total{status="success",tool_name="web_search"} 2
	`
	if err := testutil.CollectAndCompare(m.ToolExecutionCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected tool counter value: %v", err)
	}

	if count := testutil.CollectAndCount(m.ToolExecutionDuration); count != 2 {
		t.Errorf("Expected 2 duration series, got %d", count)
	}
}

func TestRecordApproval(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordApproval("approved")
	m.RecordApproval("approved")
	m.RecordApproval("denied")

	if got := testutil.ToFloat64(m.ApprovalCounter.WithLabelValues("approved")); got != 2 {
		t.Errorf("Expected 2 approved, got %v", got)
	}
	if got := testutil.ToFloat64(m.ApprovalCounter.WithLabelValues("denied")); got != 1 {
		t.Errorf("Expected 1 denied, got %v", got)
	}
}

func TestRecordCodeBlock(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordCodeBlock("python")
	m.RecordCodeBlock("")

	if got := testutil.ToFloat64(m.CodeBlockCounter.WithLabelValues("python")); got != 1 {
		t.Errorf("Expected 1 python block, got %v", got)
	}
	if got := testutil.ToFloat64(m.CodeBlockCounter.WithLabelValues("plain")); got != 1 {
		t.Errorf("Expected empty language to count as plain, got %v", got)
	}
}

func TestSandboxLifecycle(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.SandboxCreated()
	m.SandboxCreated()
	if got := testutil.ToFloat64(m.ActiveSandboxes); got != 2 {
		t.Errorf("Expected 2 active sandboxes, got %v", got)
	}

	m.SandboxDestroyed("destroyed")
	m.SandboxDestroyed("expired")
	if got := testutil.ToFloat64(m.ActiveSandboxes); got != 0 {
		t.Errorf("Expected 0 active sandboxes, got %v", got)
	}

	if got := testutil.ToFloat64(m.SandboxCounter.WithLabelValues("expired")); got != 1 {
		t.Errorf("Expected 1 expired event, got %v", got)
	}

	m.RecordSandboxExecution("python", 1.5)
	if count := testutil.CollectAndCount(m.SandboxExecutionDuration); count != 1 {
		t.Errorf("Expected 1 execution duration series, got %d", count)
	}
}

func TestRecordError(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordError("orchestrator", "deadline_exceeded")
	m.RecordError("orchestrator", "deadline_exceeded")
	m.RecordError("sandbox", "execution_timeout")

	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("orchestrator", "deadline_exceeded")); got != 2 {
		t.Errorf("Expected 2 orchestrator errors, got %v", got)
	}
}

func TestConcurrentMetrics(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	done := make(chan bool)
	iterations := 100

	go func() {
		for i := 0; i < iterations; i++ {
			m.RecordToolExecution("a", "success", 0.01)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < iterations; i++ {
			m.RecordToolExecution("b", "success", 0.01)
		}
		done <- true
	}()

	<-done
	<-done

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("a", "success")); got != float64(iterations) {
		t.Errorf("Expected %d executions for a, got %v", iterations, got)
	}
}
