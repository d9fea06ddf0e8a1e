package inference

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider echoes the last user message word by word so the service
// runs without an inference backend.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Stream(ctx context.Context, req ChatRequest, onFragment FragmentHandler) error {
	for _, fragment := range mockFragments(buildMockReply(req)) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := onFragment(fragment); err != nil {
			return err
		}
	}
	return nil
}

func (p *MockProvider) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return buildMockReply(req), nil
}

func (p *MockProvider) ListModels(context.Context) ([]ModelInfo, error) {
	return []ModelInfo{{Name: "mock"}}, nil
}

func buildMockReply(req ChatRequest) string {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", last)
}

// mockFragments splits text after each space so the fragments concatenate
// back to text exactly.
func mockFragments(text string) []string {
	var out []string
	for text != "" {
		i := strings.IndexByte(text, ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}
