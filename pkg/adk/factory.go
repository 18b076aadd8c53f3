package adk

import (
	"context"
	"fmt"
)

// Providers lists the provider names NewProvider understands.
var Providers = []string{"gemini", "openai", "nebius"}

func NewProvider(ctx context.Context, providerName, apiKey, modelName, baseURL string) (LLMProvider, error) {
	switch providerName {
	case "gemini":
		return NewGeminiProvider(ctx, apiKey, modelName)
	case "openai":
		return NewOpenAIProvider(apiKey, modelName, baseURL), nil
	case "nebius":
		return NewNebiusProvider(apiKey, modelName, baseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
}
