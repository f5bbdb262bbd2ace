// Package providers adapts vendor LLM streaming APIs to the unified
// event stream consumed by the turn orchestrator. Each adapter translates
// its vendor's wire events (Anthropic block deltas, OpenAI choice deltas)
// into models.ProviderEvent values on a channel, so the orchestrator never
// sees vendor-specific shapes.
package providers

import (
	"context"

	"github.com/openraccoon/raccoon/pkg/models"
)

// StreamRequest describes one model invocation.
type StreamRequest struct {
	Model       string
	System      string
	Messages    []models.Message
	Tools       []models.ToolDescriptor
	Temperature float64
	MaxTokens   int
}

// Provider streams one completion as unified events. Stream returns an
// error only for request construction problems (missing credentials,
// unconvertible tools); failures after the stream opens arrive as a
// ProviderError event followed by channel close. The returned channel is
// always closed when the stream ends, errors, or ctx is cancelled.
type Provider interface {
	// Name identifies the vendor ("anthropic", "openai").
	Name() string

	// Stream opens a streaming completion and emits unified events.
	Stream(ctx context.Context, req *StreamRequest) (<-chan models.ProviderEvent, error)

	// CountTokens estimates the token count of text for this vendor's
	// tokenizer. Estimates are approximate and used for budgeting only.
	CountTokens(ctx context.Context, text string) (int, error)
}

// eventBuffer is the channel capacity for adapter output. Large enough to
// absorb bursts of small token events without blocking the reader loop on
// every send.
const eventBuffer = 64
