package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaHost is used when ollama mode is forced without OLLAMA_HOST.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaProvider speaks the Ollama /api/chat protocol, which streams one
// JSON object per line.
type OllamaProvider struct {
	backend httpBackend
}

func NewOllamaProvider(host string) *OllamaProvider {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return &OllamaProvider{backend: httpBackend{baseURL: host, client: newHTTPClient()}}
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func newOllamaRequest(req ChatRequest, stream bool) ollamaChatRequest {
	return ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
		Options:  ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}
}

func (p *OllamaProvider) Stream(ctx context.Context, req ChatRequest, onFragment FragmentHandler) error {
	res, err := p.backend.do(ctx, http.MethodPost, "/api/chat", newOllamaRequest(req, true))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	return scanLines(res.Body, func(line string) (bool, error) {
		var chunk ollamaChatChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return false, fmt.Errorf("decode ollama chunk: %w", err)
		}
		if chunk.Error != "" {
			return false, fmt.Errorf("ollama: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := onFragment(chunk.Message.Content); err != nil {
				return false, err
			}
		}
		return chunk.Done, nil
	})
}

func (p *OllamaProvider) Complete(ctx context.Context, req ChatRequest) (string, error) {
	var out ollamaChatChunk
	if err := p.backend.postJSON(ctx, "/api/chat", newOllamaRequest(req, false), &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	return out.Message.Content, nil
}

func (p *OllamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out struct {
		Models []struct {
			Name       string    `json:"name"`
			ModifiedAt time.Time `json:"modified_at"`
			Size       int64     `json:"size"`
		} `json:"models"`
	}
	if err := p.backend.getJSON(ctx, "/api/tags", &out); err != nil {
		return nil, err
	}
	models := make([]ModelInfo, 0, len(out.Models))
	for _, m := range out.Models {
		models = append(models, ModelInfo{Name: m.Name, ModifiedAt: m.ModifiedAt, Size: m.Size})
	}
	return models, nil
}
