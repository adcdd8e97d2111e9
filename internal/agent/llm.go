package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// ModelConfig selects the chat model provider.
type ModelConfig struct {
	Provider  string
	Model     string
	APIKeyEnv string
	BaseURL   string
}

// NewModel builds a langchaingo chat model for cfg.Provider.
func NewModel(ctx context.Context, cfg ModelConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "googleai", "google", "gemini":
		key, err := apiKey(cfg.APIKeyEnv, "GOOGLE_API_KEY")
		if err != nil {
			return nil, err
		}
		return googleai.New(ctx,
			googleai.WithAPIKey(key),
			googleai.WithDefaultModel(cfg.Model),
		)
	case "openai":
		key, err := apiKey(cfg.APIKeyEnv, "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(key)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}

func apiKey(env, fallback string) (string, error) {
	if env == "" {
		env = fallback
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("missing API key in env %s", env)
	}
	return key, nil
}
