package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/openraccoon/raccoon/internal/observability"
	"github.com/openraccoon/raccoon/pkg/models"
)

const (
	// defaultAnthropicModel is used when a request does not name a model.
	defaultAnthropicModel = "claude-sonnet-4-6"

	// defaultMaxTokens bounds generation when the request leaves it unset.
	defaultMaxTokens = 4096

	// maxEmptyStreamEvents terminates streams that produce this many
	// consecutive events with no usable payload.
	maxEmptyStreamEvents = 300

	// inputPreviewBytes caps how much of an unparseable tool-input
	// accumulator is logged.
	inputPreviewBytes = 200
)

// AnthropicConfig holds construction parameters for the Anthropic adapter.
// Only APIKey is required.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API (required).
	APIKey string

	// BaseURL overrides the API base URL, used by tests to point the SDK
	// at a local server.
	BaseURL string

	// DefaultModel is used when a request does not specify one.
	DefaultModel string

	// MaxRetries caps retry attempts for failures before any event has
	// been delivered. Default 3.
	MaxRetries int

	// RetryDelay is the base backoff delay. Default 1s.
	RetryDelay time.Duration

	Logger *observability.Logger
}

// AnthropicProvider adapts the Anthropic Messages streaming API. Vendor
// events arrive as content-block deltas: a tool invocation opens with
// content_block_start, accumulates input JSON across content_block_delta
// events, and settles at content_block_stop.
type AnthropicProvider struct {
	BaseProvider

	client       anthropic.Client
	logger       *observability.Logger
	defaultModel string
}

// NewAnthropicProvider creates the adapter, validating that an API key is
// present.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultAnthropicModel
	}
	if config.Logger == nil {
		config.Logger = observability.NewLogger(observability.LogConfig{})
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
		client:       anthropic.NewClient(options...),
		logger:       config.Logger,
		defaultModel: config.DefaultModel,
	}, nil
}

// Stream opens a streaming completion and translates block-delta events
// into unified provider events.
func (p *AnthropicProvider) Stream(ctx context.Context, req *StreamRequest) (<-chan models.ProviderEvent, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertAnthropicMessages(req.Messages),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	out := make(chan models.ProviderEvent, eventBuffer)

	go func() {
		defer close(out)

		// Retry only until the first event has been delivered downstream;
		// after that a reconnect would replay tokens the consumer already
		// observed.
		var emittedAny bool
		err := p.Retry(ctx,
			func(err error) bool { return !emittedAny && IsRetryable(err) },
			func() error {
				stream := p.client.Messages.NewStreaming(ctx, params)
				n, err := p.pump(ctx, stream, out, model)
				if n > 0 {
					emittedAny = true
				}
				return err
			},
		)
		if err != nil && ctx.Err() == nil {
			sendEvent(ctx, out, models.ProviderEvent{
				Type: models.ProviderError,
				Err:  p.wrapAPIError(err, model),
			})
		}
	}()

	return out, nil
}

// pendingTool accumulates a streamed tool invocation between its
// content_block_start and the event that settles it.
type pendingTool struct {
	id    string
	name  string
	input strings.Builder
}

// pump drains one SSE stream, emitting unified events. It returns the
// number of events delivered and a non-nil error if the stream failed;
// the caller decides whether to retry or surface the error.
func (p *AnthropicProvider) pump(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- models.ProviderEvent, model string) (int, error) {
	var (
		pending    []*pendingTool
		usage      models.Usage
		stopReason string
		emitted    int
		emptyCount int
	)

	emit := func(ev models.ProviderEvent) bool {
		if !sendEvent(ctx, out, ev) {
			return false
		}
		emitted++
		return true
	}

	// flushPending settles every not-yet-emitted tool invocation: parsed
	// input when the accumulated JSON decodes, empty input otherwise.
	flushPending := func() bool {
		for _, t := range pending {
			input := map[string]any{}
			if raw := t.input.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &input); err != nil {
					preview := raw
					if len(preview) > inputPreviewBytes {
						preview = preview[:inputPreviewBytes]
					}
					p.logger.Warn(ctx, "tool input JSON did not parse, using empty input",
						"tool", t.name,
						"tool_id", t.id,
						"input_prefix", preview,
						"error", err.Error())
					input = map[string]any{}
				}
			}
			if !emit(models.ProviderEvent{
				Type:     models.ProviderToolUse,
				ToolID:   t.id,
				ToolName: t.name,
				Input:    input,
			}) {
				return false
			}
		}
		pending = pending[:0]
		return true
	}

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				usage.PromptTokens = int(messageStart.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				pending = append(pending, &pendingTool{id: toolUse.ID, name: toolUse.Name})
				if !emit(models.ProviderEvent{
					Type:     models.ProviderToolUseStart,
					ToolID:   toolUse.ID,
					ToolName: toolUse.Name,
				}) {
					return emitted, ctx.Err()
				}
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !emit(models.ProviderEvent{Type: models.ProviderToken, Text: delta.Text}) {
						return emitted, ctx.Err()
					}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					if len(pending) > 0 {
						pending[len(pending)-1].input.WriteString(delta.PartialJSON)
					} else {
						p.logger.Debug(ctx, "input JSON fragment with no open tool block")
					}
					if !emit(models.ProviderEvent{Type: models.ProviderToolInputDelta, Text: delta.PartialJSON}) {
						return emitted, ctx.Err()
					}
					processed = true
				}
			}

		case "content_block_stop":
			if len(pending) > 0 {
				if !flushPending() {
					return emitted, ctx.Err()
				}
				processed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(messageDelta.Usage.OutputTokens)
			}
			if sr := string(messageDelta.Delta.StopReason); sr != "" {
				stopReason = sr
			}
			processed = true

		case "message_stop":
			// Tool blocks whose content_block_stop never arrived settle
			// here so no started invocation is lost.
			if !flushPending() {
				return emitted, ctx.Err()
			}
			if stopReason == "" {
				stopReason = models.StopEndTurn
			}
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			if !emit(models.ProviderEvent{
				Type:       models.ProviderComplete,
				Usage:      &usage,
				StopReason: stopReason,
			}) {
				return emitted, ctx.Err()
			}
			return emitted, nil

		case "error":
			return emitted, errors.New("anthropic stream error")
		}

		if processed {
			emptyCount = 0
		} else {
			emptyCount++
			if emptyCount >= maxEmptyStreamEvents {
				return emitted, fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyCount)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return emitted, err
	}
	if ctx.Err() != nil {
		return emitted, ctx.Err()
	}
	return emitted, errors.New("anthropic stream ended without message_stop")
}

// CountTokens counts tokens through the API's count-tokens endpoint,
// falling back to a chars/4 estimate when the call fails.
func (p *AnthropicProvider) CountTokens(ctx context.Context, text string) (int, error) {
	res, err := p.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(p.defaultModel),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		p.logger.Debug(ctx, "count-tokens endpoint failed, estimating", "error", err.Error())
		return len(text) / 4, nil
	}
	return int(res.InputTokens), nil
}

func maxTokensOrDefault(maxTokens int) int {
	if maxTokens <= 0 {
		return defaultMaxTokens
	}
	return maxTokens
}

// convertAnthropicMessages maps caller messages to API params. The system
// prompt travels separately in params.System, so system-role messages are
// skipped here. Tool transcripts arrive as plain text and are forwarded
// as user content.
func convertAnthropicMessages(msgs []models.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}

func convertAnthropicTools(tools []models.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("tool %q: invalid input schema: %w", tool.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("tool %q: conversion failed", tool.Name)
		}
		if tool.Description != "" {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapAPIError converts SDK errors into structured request errors,
// pulling the status code, error type, and request ID out of the API
// error body when present.
func (p *AnthropicProvider) wrapAPIError(err error, model string) error {
	if err == nil {
		return nil
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrapped := NewRequestError("anthropic", model, err).WithStatus(apiErr.StatusCode)

		if id := apiErr.RequestID; id != "" {
			wrapped = wrapped.WithRequestID(id)
		}
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					wrapped = wrapped.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					wrapped = wrapped.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					wrapped = wrapped.WithRequestID(payload.RequestID)
				}
			}
		}
		return wrapped
	}

	return NewRequestError("anthropic", model, err)
}

// sendEvent delivers ev unless ctx is cancelled first.
func sendEvent(ctx context.Context, out chan<- models.ProviderEvent, ev models.ProviderEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
