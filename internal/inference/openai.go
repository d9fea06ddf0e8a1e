package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider speaks the OpenAI-compatible chat completions protocol
// with server-sent events.
type OpenAIProvider struct {
	backend httpBackend
}

func NewOpenAIProvider(baseURL, apiKey string) *OpenAIProvider {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	headers := map[string]string{}
	if key := strings.TrimSpace(apiKey); key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	return &OpenAIProvider{backend: httpBackend{baseURL: baseURL, headers: headers, client: newHTTPClient()}}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason *string `json:"finish_reason"`
}

type openAIChatResponse struct {
	Choices []openAIChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newOpenAIRequest(req ChatRequest, stream bool) openAIChatRequest {
	return openAIChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req ChatRequest, onFragment FragmentHandler) error {
	res, err := p.backend.do(ctx, http.MethodPost, "/v1/chat/completions", newOpenAIRequest(req, true))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	return scanLines(res.Body, func(line string) (bool, error) {
		// SSE comments and non-data fields carry no text.
		if !strings.HasPrefix(line, "data:") {
			return false, nil
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return true, nil
		}
		var chunk openAIChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return false, fmt.Errorf("decode openai chunk: %w", err)
		}
		if chunk.Error != nil {
			return false, fmt.Errorf("openai: %s", chunk.Error.Message)
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			if err := onFragment(c.Delta.Content); err != nil {
				return false, err
			}
		}
		return false, nil
	})
}

func (p *OpenAIProvider) Complete(ctx context.Context, req ChatRequest) (string, error) {
	var out openAIChatResponse
	if err := p.backend.postJSON(ctx, "/v1/chat/completions", newOpenAIRequest(req, false), &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("openai: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out struct {
		Data []struct {
			ID      string `json:"id"`
			Created int64  `json:"created"`
		} `json:"data"`
	}
	if err := p.backend.getJSON(ctx, "/v1/models", &out); err != nil {
		return nil, err
	}
	models := make([]ModelInfo, 0, len(out.Data))
	for _, m := range out.Data {
		info := ModelInfo{Name: m.ID}
		if m.Created > 0 {
			info.ModifiedAt = time.Unix(m.Created, 0).UTC()
		}
		models = append(models, info)
	}
	return models, nil
}
