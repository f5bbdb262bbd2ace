package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/openraccoon/raccoon/internal/observability"
	"github.com/openraccoon/raccoon/pkg/models"
)

// defaultOpenAIModel is used when a request does not name a model.
const defaultOpenAIModel = "gpt-4o"

// openaiEncoding is the tokenizer used for local token counting.
const openaiEncoding = "cl100k_base"

// OpenAIConfig holds construction parameters for the OpenAI adapter.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI API (required).
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

// OpenAIProvider adapts the OpenAI chat-completion streaming API. Vendor
// chunks carry at most one choice whose delta holds text content and
// indexed tool-call fragments; fragments are assembled per index and
// settled when the stream ends.
type OpenAIProvider struct {
	BaseProvider

	client       *openai.Client
	logger       *observability.Logger
	defaultModel string

	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
}

// NewOpenAIProvider creates the adapter, validating that an API key is
// present.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultOpenAIModel
	}
	if config.Logger == nil {
		config.Logger = observability.NewLogger(observability.LogConfig{})
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		BaseProvider: NewBaseProvider("openai", config.MaxRetries, config.RetryDelay),
		client:       openai.NewClientWithConfig(clientConfig),
		logger:       config.Logger,
		defaultModel: config.DefaultModel,
	}, nil
}

// Stream opens a streaming chat completion and translates choice-delta
// chunks into unified provider events.
func (p *OpenAIProvider) Stream(ctx context.Context, req *StreamRequest) (<-chan models.ProviderEvent, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	out := make(chan models.ProviderEvent, eventBuffer)

	go func() {
		defer close(out)

		var emittedAny bool
		err := p.Retry(ctx,
			func(err error) bool { return !emittedAny && IsRetryable(err) },
			func() error {
				stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
				if err != nil {
					return err
				}
				n, err := p.pump(ctx, stream, out)
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

// assembledCall collects one indexed tool call across chunks: any id or
// name fragment overwrites, argument fragments concatenate.
type assembledCall struct {
	id   string
	name string
	args strings.Builder
}

// pump drains one chat-completion stream. Tool calls settle only at
// upstream end, in ascending index order; entries missing an id or name,
// or whose arguments fail to parse, are dropped with a log line.
func (p *OpenAIProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- models.ProviderEvent) (int, error) {
	defer stream.Close()

	var (
		calls        = make(map[int]*assembledCall)
		usage        models.Usage
		finishReason string
		emitted      int
	)

	emit := func(ev models.ProviderEvent) bool {
		if !sendEvent(ctx, out, ev) {
			return false
		}
		emitted++
		return true
	}

	for {
		if ctx.Err() != nil {
			return emitted, ctx.Err()
		}

		response, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return emitted, err
			}

			indexes := make([]int, 0, len(calls))
			for idx := range calls {
				indexes = append(indexes, idx)
			}
			sort.Ints(indexes)

			for _, idx := range indexes {
				call := calls[idx]
				if call.id == "" {
					p.logger.Warn(ctx, "dropping tool call without id", "index", idx, "tool", call.name)
					continue
				}
				if call.name == "" {
					p.logger.Warn(ctx, "dropping tool call without name", "index", idx, "tool_id", call.id)
					continue
				}
				input := map[string]any{}
				if raw := call.args.String(); raw != "" {
					if err := json.Unmarshal([]byte(raw), &input); err != nil {
						p.logger.Error(ctx, "dropping tool call with unparseable arguments",
							"index", idx,
							"tool", call.name,
							"tool_id", call.id,
							"error", err.Error())
						continue
					}
				}
				if !emit(models.ProviderEvent{
					Type:     models.ProviderToolUse,
					ToolID:   call.id,
					ToolName: call.name,
					Input:    input,
				}) {
					return emitted, ctx.Err()
				}
			}

			if !emit(models.ProviderEvent{
				Type:       models.ProviderComplete,
				Usage:      &usage,
				StopReason: mapOpenAIFinishReason(finishReason),
			}) {
				return emitted, ctx.Err()
			}
			return emitted, nil
		}

		// The usage chunk arrives last with an empty choice list.
		if response.Usage != nil {
			usage.PromptTokens = response.Usage.PromptTokens
			usage.CompletionTokens = response.Usage.CompletionTokens
			usage.TotalTokens = response.Usage.TotalTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			if !emit(models.ProviderEvent{Type: models.ProviderToken, Text: choice.Delta.Content}) {
				return emitted, ctx.Err()
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := calls[index]
			if call == nil {
				call = &assembledCall{}
				calls[index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.args.WriteString(tc.Function.Arguments)
			}
		}

		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
	}
}

// CountTokens counts tokens locally with the cl100k_base tokenizer,
// estimating chars/4 if the encoding cannot be loaded.
func (p *OpenAIProvider) CountTokens(ctx context.Context, text string) (int, error) {
	p.encodingOnce.Do(func() {
		p.encoding, p.encodingErr = tiktoken.GetEncoding(openaiEncoding)
	})
	if p.encodingErr != nil {
		p.logger.Debug(ctx, "tokenizer unavailable, estimating", "error", p.encodingErr.Error())
		return len(text) / 4, nil
	}
	return len(p.encoding.Encode(text, nil, nil)), nil
}

// mapOpenAIFinishReason normalizes finish reasons to the unified stop
// vocabulary; unrecognized reasons pass through unchanged.
func mapOpenAIFinishReason(reason string) string {
	switch reason {
	case "", "stop":
		return models.StopEndTurn
	case "length":
		return models.StopMaxTokens
	case "tool_calls":
		return models.StopToolUse
	case "content_filter":
		return models.StopContentFilter
	default:
		return reason
	}
}

// convertOpenAIMessages prepends the system prompt as the first message
// and maps caller roles. Tool transcripts arrive as plain text and are
// forwarded as user content, since no tool-call id survives across turns.
func convertOpenAIMessages(msgs []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range msgs {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		result = append(result, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return result
}

func convertOpenAITools(tools []models.ToolDescriptor) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var params map[string]any
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &params); err != nil {
				params = nil
			}
		}
		if params == nil {
			params = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

// wrapAPIError converts SDK errors into structured request errors,
// extracting the status and vendor error code when present.
func (p *OpenAIProvider) wrapAPIError(err error, model string) error {
	if err == nil {
		return nil
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped := NewRequestError("openai", model, err).
			WithStatus(apiErr.HTTPStatusCode).
			WithMessage(apiErr.Message)
		if apiErr.Type != "" {
			wrapped = wrapped.WithCode(apiErr.Type)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			wrapped = wrapped.WithCode(code)
		}
		return wrapped
	}

	return NewRequestError("openai", model, fmt.Errorf("request failed: %w", err))
}
