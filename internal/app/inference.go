package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/llmchat/internal/config"
	"github.com/ent0n29/llmchat/internal/httpapi"
	"github.com/ent0n29/llmchat/internal/inference"
)

type inferenceSetup struct {
	provider inference.Provider
	detail   string
	ready    httpapi.ReadinessCheck
}

func resolveInference(ctx context.Context, cfg config.Config) (inferenceSetup, error) {
	provider, err := inference.NewProvider(ctx, inference.Config{
		Mode:          cfg.InferenceProvider,
		OllamaHost:    cfg.OllamaHost,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		GeminiAPIKey:  cfg.GeminiAPIKey,
	})
	if err != nil {
		return inferenceSetup{}, fmt.Errorf("inference provider init failed: %w", err)
	}

	setup := inferenceSetup{provider: provider}
	switch provider.Name() {
	case "ollama":
		host := strings.TrimSpace(cfg.OllamaHost)
		if host == "" {
			host = inference.DefaultOllamaHost
		}
		setup.detail = "ollama at " + host
		setup.ready = tcpReadiness(host)
	case "openai":
		setup.detail = "openai-compatible at " + strings.TrimSpace(cfg.OpenAIBaseURL)
		setup.ready = tcpReadiness(cfg.OpenAIBaseURL)
	case "gemini":
		setup.detail = "gemini api"
	default:
		setup.detail = "mock echo (no inference backend configured)"
	}
	return setup, nil
}
