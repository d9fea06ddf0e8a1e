package inference

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is one role/content entry sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the normalized request every provider accepts.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ModelInfo describes a model a provider can serve.
type ModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
	Size       int64     `json:"size,omitempty"`
}

// FragmentHandler receives streamed text in arrival order. Returning an
// error asks the provider to stop.
type FragmentHandler func(fragment string) error

// Provider talks to one inference backend.
type Provider interface {
	Name() string
	// Stream sends req and calls onFragment for every text delta until the
	// backend signals the end of the message.
	Stream(ctx context.Context, req ChatRequest, onFragment FragmentHandler) error
	// Complete returns a whole reply without streaming.
	Complete(ctx context.Context, req ChatRequest) (string, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Config controls provider construction.
type Config struct {
	Mode          string
	OllamaHost    string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	GeminiAPIKey  string
}

func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoProvider(ctx, cfg)
	case "ollama":
		host := strings.TrimSpace(cfg.OllamaHost)
		if host == "" {
			host = DefaultOllamaHost
		}
		return NewOllamaProvider(host), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIBaseURL) == "" {
			return nil, fmt.Errorf("OPENAI_BASE_URL is required for openai mode")
		}
		return NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey), nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for gemini mode")
		}
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported inference provider %q", cfg.Mode)
	}
}

func newAutoProvider(ctx context.Context, cfg Config) (Provider, error) {
	if host := strings.TrimSpace(cfg.OllamaHost); host != "" {
		return NewOllamaProvider(host), nil
	}
	if base := strings.TrimSpace(cfg.OpenAIBaseURL); base != "" {
		return NewOpenAIProvider(base, cfg.OpenAIAPIKey), nil
	}
	if key := strings.TrimSpace(cfg.GeminiAPIKey); key != "" {
		return NewGeminiProvider(ctx, key)
	}
	return NewMockProvider(), nil
}
