package executor

import (
	"fmt"

	"github.com/scholarpipe/deep-research-service/internal/domain"
)

// Registry resolves the StepExecutor for a provider lane.
type Registry struct {
	executors map[domain.Provider]StepExecutor
}

// FactoryConfig holds the per-provider parameters needed to build a Registry.
type FactoryConfig struct {
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig
	// Gemini contains Gemini-specific settings.
	Gemini GeminiConfig
}

// NewRegistry builds executors for every provider with a configured API key.
// Returns an error if no provider is configured.
func NewRegistry(cfg FactoryConfig) (*Registry, error) {
	executors := make(map[domain.Provider]StepExecutor)
	if cfg.OpenAI.APIKey != "" {
		executors[domain.ProviderOpenAI] = NewOpenAIExecutor(cfg.OpenAI)
	}
	if cfg.Gemini.APIKey != "" {
		executors[domain.ProviderGemini] = NewGeminiExecutor(cfg.Gemini)
	}
	if len(executors) == 0 {
		return nil, fmt.Errorf("no research provider configured")
	}
	return &Registry{executors: executors}, nil
}

// NewRegistryFromMap builds a Registry from pre-built executors. Used by
// tests and single-provider deployments.
func NewRegistryFromMap(executors map[domain.Provider]StepExecutor) *Registry {
	return &Registry{executors: executors}
}

// For returns the executor for the given provider.
func (r *Registry) For(provider domain.Provider) (StepExecutor, error) {
	exec, ok := r.executors[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported research provider: %q", provider)
	}
	return exec, nil
}

// Providers lists the provider lanes this registry can serve.
func (r *Registry) Providers() []domain.Provider {
	providers := make([]domain.Provider, 0, len(r.executors))
	for _, p := range domain.Providers() {
		if _, ok := r.executors[p]; ok {
			providers = append(providers, p)
		}
	}
	return providers
}
