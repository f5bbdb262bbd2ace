// Package agent drives one agent turn: it resolves a provider adapter,
// consumes the unified provider stream, detects fenced code blocks in
// free text, gates tool calls behind the approval protocol, executes
// approved tools under nested deadlines, and emits the public event
// stream the gateway puts on the wire.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openraccoon/raccoon/internal/agent/providers"
	"github.com/openraccoon/raccoon/internal/audit"
	"github.com/openraccoon/raccoon/internal/observability"
	"github.com/openraccoon/raccoon/internal/status"
	"github.com/openraccoon/raccoon/pkg/models"
)

const (
	// turnEventBuffer sizes the public event channel.
	turnEventBuffer = 64

	defaultTemperature  = 0.7
	defaultMaxTokens    = 4096
	defaultTurnDeadline = 60 * time.Second
	defaultToolDeadline = 20 * time.Second

	deniedResultText   = "Tool execution denied by user"
	timedOutResultText = "Tool execution timed out"
)

// ProviderResolver maps a model name (and optional per-request key) to a
// provider adapter. *ProviderCache is the production implementation.
type ProviderResolver interface {
	Resolve(model, apiKey string) (providers.Provider, error)
}

// RemoteToolRouter executes tools that are declared but carry no local
// handler, typically by forwarding to a remote tool server.
type RemoteToolRouter interface {
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// Options carries the orchestrator's tuning and ambient collaborators.
// Zero values get runtime defaults; a nil Metrics disables metrics.
type Options struct {
	// DefaultModel is used when a request omits the model.
	DefaultModel string

	// TurnDeadline bounds a whole turn unless the request overrides it.
	TurnDeadline time.Duration

	// ToolDeadline bounds each tool invocation inside a turn.
	ToolDeadline time.Duration

	// Remote receives tool calls the registry cannot execute locally.
	Remote RemoteToolRouter

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Audit   *audit.Logger
}

// Orchestrator runs agent turns. A single instance serves all turns;
// per-turn state lives in the turn struct and never crosses turns.
type Orchestrator struct {
	resolver  ProviderResolver
	registry  *ToolRegistry
	approvals *ApprovalBroker
	remote    RemoteToolRouter

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	audit   *audit.Logger

	defaultModel string
	turnDeadline time.Duration
	toolDeadline time.Duration
}

// NewOrchestrator creates an orchestrator. registry and approvals may be
// nil, in which case fresh instances are created.
func NewOrchestrator(resolver ProviderResolver, registry *ToolRegistry, approvals *ApprovalBroker, opts Options) *Orchestrator {
	if registry == nil {
		registry = NewToolRegistry()
	}
	if approvals == nil {
		approvals = NewApprovalBroker()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}
	if opts.Tracer == nil {
		opts.Tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	if opts.Audit == nil {
		opts.Audit, _ = audit.NewLogger(audit.Config{})
	}
	if opts.TurnDeadline <= 0 {
		opts.TurnDeadline = defaultTurnDeadline
	}
	if opts.ToolDeadline <= 0 {
		opts.ToolDeadline = defaultToolDeadline
	}

	return &Orchestrator{
		resolver:     resolver,
		registry:     registry,
		approvals:    approvals,
		remote:       opts.Remote,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
		audit:        opts.Audit,
		defaultModel: opts.DefaultModel,
		turnDeadline: opts.TurnDeadline,
		toolDeadline: opts.ToolDeadline,
	}
}

// Registry returns the shared tool registry so callers can register
// local tools at setup.
func (o *Orchestrator) Registry() *ToolRegistry {
	return o.registry
}

// SubmitApproval delivers an out-of-band approval decision to the turn
// waiting on requestID.
func (o *Orchestrator) SubmitApproval(requestID string, decision models.ApprovalDecision) error {
	return o.approvals.Resolve(requestID, decision)
}

// Run starts one agent turn and returns its public event stream. The
// channel is closed after the terminal complete or error event; callers
// must drain it even when they stop forwarding events.
func (o *Orchestrator) Run(ctx context.Context, req *models.TurnRequest) (<-chan models.TurnEvent, error) {
	if req == nil {
		return nil, errors.New("turn request is nil")
	}
	out := make(chan models.TurnEvent, turnEventBuffer)
	go o.runTurn(ctx, req, out)
	return out, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, req *models.TurnRequest, out chan<- models.TurnEvent) {
	defer close(out)

	model := req.Config.Model
	if model == "" {
		model = o.defaultModel
	}

	ctx = observability.AddConversationID(ctx, req.ConversationID)
	if req.AgentID != "" {
		ctx = observability.AddAgentID(ctx, req.AgentID)
	}
	ctx, span := o.tracer.TraceTurn(ctx, req.ConversationID, req.AgentID, model)
	defer span.End()

	deadline := o.turnDeadline
	if req.Config.DeadlineSeconds > 0 {
		deadline = time.Duration(req.Config.DeadlineSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if o.metrics != nil {
		o.metrics.TurnStarted()
	}
	start := time.Now()

	t := &turn{
		o:      o,
		ctx:    ctx,
		req:    req,
		model:  model,
		out:    out,
		start:  start,
		bank:   status.NewBank(),
		parser: newFenceParser(),
	}
	t.run()

	if t.failed {
		o.tracer.RecordError(span, errors.New(t.failMessage))
	}
	if o.metrics != nil {
		result := "complete"
		if t.failed {
			result = "error"
		}
		o.metrics.TurnEnded(model, result, time.Since(start).Seconds())
	}
}

// turn holds the state of one in-flight turn. It is confined to the
// goroutine running the turn; the approval channel is the only hand-off
// point with the outside.
type turn struct {
	o      *Orchestrator
	ctx    context.Context
	req    *models.TurnRequest
	model  string
	out    chan<- models.TurnEvent
	start  time.Time
	bank   *status.Bank
	parser *fenceParser

	terminalSent bool
	failed       bool
	failMessage  string
}

func (t *turn) run() {
	provider, err := t.o.resolver.Resolve(t.model, t.req.APIKey)
	if err != nil {
		t.o.logger.Error(t.ctx, "provider resolution failed", "model", t.model, "error", err)
		if t.o.metrics != nil {
			t.o.metrics.RecordError("orchestrator", "provider_resolution")
		}
		t.terminal(models.ErrCodeInternal, err.Error())
		return
	}

	t.o.audit.LogTurnStarted(t.ctx, t.req.ConversationID, t.req.AgentID, t.model)

	if !t.emitStatus(status.Thinking) {
		t.finish()
		return
	}

	llmStart := time.Now()
	events, err := provider.Stream(t.ctx, t.streamRequest())
	if err != nil {
		t.o.logger.Error(t.ctx, "provider stream setup failed", "provider", provider.Name(), "error", err)
		t.terminal(models.ErrCodeInternal, err.Error())
		return
	}

	for ev := range events {
		var ok bool
		switch ev.Type {
		case models.ProviderToken:
			ok = t.handleToken(ev.Text)
		case models.ProviderToolUseStart, models.ProviderToolInputDelta:
			// Streaming-progress events with no public counterpart.
			ok = true
		case models.ProviderToolUse:
			ok = t.handleToolUse(ev)
		case models.ProviderComplete:
			ok = t.handleComplete(provider.Name(), ev, time.Since(llmStart))
		case models.ProviderError:
			t.handleProviderError(provider.Name(), ev.Err, time.Since(llmStart))
			ok = false
		default:
			ok = true
		}
		if !ok {
			break
		}
	}

	t.finish()
}

// finish emits the terminal error for turns that ended without one: the
// deadline fired, the client cancelled, or the provider closed early.
func (t *turn) finish() {
	if t.terminalSent {
		return
	}
	if t.ctx.Err() != nil {
		t.terminal(models.ErrCodeDeadlineExceeded, "turn deadline exceeded")
		return
	}
	t.terminal(models.ErrCodeInternal, "provider stream ended unexpectedly")
}

func (t *turn) streamRequest() *providers.StreamRequest {
	temperature := t.req.Config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := t.req.Config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &providers.StreamRequest{
		Model:       t.model,
		System:      t.req.Config.SystemPrompt,
		Messages:    t.req.Messages,
		Tools:       t.req.Config.Tools,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

func (t *turn) handleToken(text string) bool {
	blocks := t.parser.Feed(text)
	if !t.send(models.TurnEvent{
		Type:  models.TurnToken,
		Token: &models.TokenPayload{Text: text},
	}) {
		return false
	}
	for i := range blocks {
		if t.o.metrics != nil {
			t.o.metrics.RecordCodeBlock(blocks[i].Language)
		}
		if !t.send(models.TurnEvent{Type: models.TurnCodeBlock, CodeBlock: &blocks[i]}) {
			return false
		}
	}
	return true
}

func (t *turn) handleToolUse(ev models.ProviderEvent) bool {
	desc := t.req.Config.ToolFor(ev.ToolName)
	if desc != nil && desc.RequiresApproval {
		approved, ok := t.awaitApproval(ev)
		if !ok {
			return false
		}
		if !approved {
			t.o.audit.LogToolDenied(t.ctx, ev.ToolName, ev.ToolID, "denied by user")
			return t.sendToolResult(ev, deniedResultText, true)
		}
	}

	if category := status.CategoryForTool(ev.ToolName); category != "" {
		if !t.emitStatus(category) {
			return false
		}
	}
	if !t.send(models.TurnEvent{
		Type: models.TurnToolCall,
		ToolCall: &models.ToolCallPayload{
			RequestID: ev.ToolID,
			ToolName:  ev.ToolName,
			Arguments: ev.Input,
		},
	}) {
		return false
	}

	rawInput, _ := json.Marshal(ev.Input)
	t.o.audit.LogToolInvocation(t.ctx, ev.ToolName, ev.ToolID, rawInput)

	toolStart := time.Now()
	value, err := t.executeTool(ev.ToolName, ev.Input)
	elapsed := time.Since(toolStart)

	if err != nil {
		if t.ctx.Err() != nil {
			// The turn deadline fired while the tool ran; finish emits
			// the terminal error.
			return false
		}
		message := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			message = timedOutResultText
		}
		t.o.logger.Warn(t.ctx, "tool execution failed",
			"tool", ev.ToolName, "request_id", ev.ToolID, "error", err)
		if t.o.metrics != nil {
			t.o.metrics.RecordToolExecution(ev.ToolName, "error", elapsed.Seconds())
		}
		t.o.audit.LogToolCompletion(t.ctx, ev.ToolName, ev.ToolID, false, message, elapsed)
		return t.sendToolResult(ev, message, true)
	}

	result := stringifyToolResult(value)
	if t.o.metrics != nil {
		t.o.metrics.RecordToolExecution(ev.ToolName, "success", elapsed.Seconds())
	}
	t.o.audit.LogToolCompletion(t.ctx, ev.ToolName, ev.ToolID, true, result, elapsed)
	return t.sendToolResult(ev, result, false)
}

// awaitApproval suspends the turn on the approval rendez-vous. The
// second return is false when the turn ended before a decision arrived;
// the pending entry is removed on every path.
func (t *turn) awaitApproval(ev models.ProviderEvent) (approved, ok bool) {
	ch := t.o.approvals.Create(ev.ToolID)
	defer t.o.approvals.Remove(ev.ToolID)

	if !t.send(models.TurnEvent{
		Type: models.TurnApprovalRequested,
		ApprovalRequested: &models.ApprovalRequestedPayload{
			RequestID:        ev.ToolID,
			ToolName:         ev.ToolName,
			ArgumentsPreview: ev.Input,
			AvailableScopes:  models.ApprovalScopes(),
		},
	}) {
		return false, false
	}
	t.o.audit.LogApprovalRequested(t.ctx, ev.ToolName, ev.ToolID)
	if !t.send(models.TurnEvent{
		Type:             models.TurnAwaitingApproval,
		AwaitingApproval: &models.AwaitingApprovalPayload{RequestID: ev.ToolID},
	}) {
		return false, false
	}

	select {
	case decision := <-ch:
		t.o.audit.LogApprovalDecision(t.ctx, ev.ToolName, ev.ToolID, decision.Approved, string(decision.Scope))
		if t.o.metrics != nil {
			outcome := "approved"
			if !decision.Approved {
				outcome = "denied"
			}
			t.o.metrics.RecordApproval(outcome)
		}
		return decision.Approved, true
	case <-t.ctx.Done():
		if t.o.metrics != nil {
			t.o.metrics.RecordApproval("timeout")
		}
		return false, false
	}
}

// executeTool runs one tool under the tool-call deadline, routing
// handler-less tools to the remote router when one is configured.
func (t *turn) executeTool(name string, args map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(t.ctx, t.o.toolDeadline)
	defer cancel()
	ctx, span := t.o.tracer.TraceToolExecution(ctx, name)
	defer span.End()

	value, err := t.o.registry.Execute(ctx, name, args)
	if errors.Is(err, ErrNoHandler) && t.o.remote != nil {
		value, err = t.o.remote.CallTool(ctx, name, args)
	}
	if err != nil {
		t.o.tracer.RecordError(span, err)
	}
	return value, err
}

func (t *turn) handleComplete(providerName string, ev models.ProviderEvent, llmElapsed time.Duration) bool {
	var usage models.Usage
	if ev.Usage != nil {
		usage = *ev.Usage
	}
	if t.o.metrics != nil {
		t.o.metrics.RecordLLMRequest(providerName, t.model, "success", llmElapsed.Seconds(), usage.PromptTokens, usage.CompletionTokens)
	}
	if !t.send(models.TurnEvent{
		Type: models.TurnComplete,
		Complete: &models.CompletePayload{
			Model:            t.model,
			StopReason:       ev.StopReason,
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
	}) {
		return false
	}
	t.terminalSent = true
	t.o.audit.LogTurnCompleted(t.ctx, t.req.ConversationID, t.req.AgentID, t.model, ev.StopReason,
		time.Since(t.start), usage.PromptTokens, usage.CompletionTokens)
	return true
}

func (t *turn) handleProviderError(providerName string, err error, llmElapsed time.Duration) {
	message := "provider stream failed"
	if err != nil {
		message = err.Error()
	}
	t.o.logger.Error(t.ctx, "provider stream failed",
		"provider", providerName, "model", t.model, "error", err)
	if t.o.metrics != nil {
		t.o.metrics.RecordLLMRequest(providerName, t.model, "error", llmElapsed.Seconds(), 0, 0)
		t.o.metrics.RecordError("provider", providerName)
	}
	t.terminal(models.ErrCodeInternal, message)
}

func (t *turn) sendToolResult(ev models.ProviderEvent, result string, isError bool) bool {
	return t.send(models.TurnEvent{
		Type: models.TurnToolResult,
		ToolResult: &models.ToolResultPayload{
			RequestID: ev.ToolID,
			ToolName:  ev.ToolName,
			Result:    result,
			IsError:   isError,
		},
	})
}

func (t *turn) emitStatus(category string) bool {
	return t.send(models.TurnEvent{
		Type: models.TurnStatus,
		Status: &models.StatusPayload{
			Message:  t.bank.Pick(category),
			Category: category,
		},
	})
}

// send delivers one event, giving up when the turn context ends.
func (t *turn) send(ev models.TurnEvent) bool {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case t.out <- ev:
		return true
	case <-t.ctx.Done():
		return false
	}
}

// terminal emits the final error event. It sends unconditionally: the
// turn context is typically already dead here, and the Run contract
// obliges the caller to drain the channel.
func (t *turn) terminal(code, message string) {
	t.out <- models.TurnEvent{
		Type: models.TurnError,
		Time: time.Now(),
		Error: &models.ErrorPayload{
			Code:      code,
			Message:   message,
			Retryable: true,
		},
	}
	t.terminalSent = true
	t.failed = true
	t.failMessage = message
	t.o.audit.LogTurnFailed(t.ctx, t.req.ConversationID, t.req.AgentID, code, message)
}

// stringifyToolResult renders a handler's return value for the event
// stream: strings pass through, everything else is JSON.
func stringifyToolResult(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
