package agent

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/openraccoon/raccoon/internal/agent/providers"
	"github.com/openraccoon/raccoon/internal/config"
	"github.com/openraccoon/raccoon/internal/observability"
)

// ErrUnknownModel reports a model name whose prefix maps to no provider.
var ErrUnknownModel = errors.New("unknown model")

const (
	vendorAnthropic = "anthropic"
	vendorOpenAI    = "openai"
)

// ProviderCache resolves model names to provider adapters. Each vendor's
// adapter is built on first use with the configured credential and then
// shared across turns; a turn that brings its own API key gets a fresh
// instance and never touches the cache.
type ProviderCache struct {
	mu        sync.Mutex
	providers config.ProvidersConfig
	logger    *observability.Logger
	instances map[string]providers.Provider
}

// NewProviderCache creates an empty cache over the configured credentials.
func NewProviderCache(cfg config.ProvidersConfig, logger *observability.Logger) *ProviderCache {
	return &ProviderCache{
		providers: cfg,
		logger:    logger,
		instances: make(map[string]providers.Provider),
	}
}

// Resolve returns the provider for model. When apiKey is non-empty the
// returned instance is private to the caller.
func (c *ProviderCache) Resolve(model, apiKey string) (providers.Provider, error) {
	vendor, err := vendorForModel(model)
	if err != nil {
		return nil, err
	}

	if apiKey != "" {
		return c.build(vendor, apiKey)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.instances[vendor]; ok {
		return p, nil
	}

	p, err := c.build(vendor, "")
	if err != nil {
		return nil, err
	}
	c.instances[vendor] = p
	return p, nil
}

func (c *ProviderCache) build(vendor, apiKey string) (providers.Provider, error) {
	switch vendor {
	case vendorAnthropic:
		key := apiKey
		if key == "" {
			key = c.providers.AnthropicAPIKey
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       key,
			DefaultModel: c.providers.DefaultModel,
			Logger:       c.logger,
		})
	case vendorOpenAI:
		key := apiKey
		if key == "" {
			key = c.providers.OpenAIAPIKey
		}
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey: key,
			Logger: c.logger,
		})
	default:
		return nil, fmt.Errorf("%w: no builder for vendor %q", ErrUnknownModel, vendor)
	}
}

// vendorForModel maps a model name to its vendor by prefix.
func vendorForModel(model string) (string, error) {
	switch {
	case strings.HasPrefix(model, "claude"):
		return vendorAnthropic, nil
	case strings.HasPrefix(model, "gpt"):
		return vendorOpenAI, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
}
