package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/llmchat/internal/config"
	"github.com/ent0n29/llmchat/internal/inference"
)

func TestBuildWiresMockProviderAndMemoryStore(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace:    "test_app_build_" + strings.ReplaceAll(time.Now().Format("150405.000000000"), ".", "_"),
		InferenceProvider:   "mock",
		DefaultModel:        "mock",
		StoreConnectRetries: 1,
		StoreRetryInterval:  time.Millisecond,
	}
	built, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if built.Inference.Provider != "mock" {
		t.Fatalf("provider = %q, want mock", built.Inference.Provider)
	}
	if built.StoreKind != "memory" {
		t.Fatalf("store kind = %q, want memory", built.StoreKind)
	}

	out, err := built.Controller.SubmitTurn(context.Background(), "", "hello", inference.SinkFunc(func(string) error { return nil }))
	if err != nil {
		t.Fatalf("SubmitTurn() error = %v", err)
	}
	if got := out.Session.Turns[len(out.Session.Turns)-1].Content; got != "I heard you: hello" {
		t.Fatalf("assistant reply = %q", got)
	}

	ts := httptest.NewServer(built.API.Handler())
	defer ts.Close()
	res, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestBuildRejectsBadStoreURL(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace:    "test_app_badstore_" + strings.ReplaceAll(time.Now().Format("150405.000000000"), ".", "_"),
		InferenceProvider:   "mock",
		DefaultModel:        "mock",
		StoreURL:            "ftp://nowhere",
		StoreConnectRetries: 1,
	}
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatalf("Build() error = nil, want unsupported scheme error")
	}
}

func TestDialAddr(t *testing.T) {
	cases := map[string]string{
		"http://localhost:11434":     "localhost:11434",
		"https://api.example.com/v1": "api.example.com:443",
		"ollama:11434":               "ollama:11434",
		"":                           "",
	}
	for raw, want := range cases {
		if got := dialAddr(raw); got != want {
			t.Fatalf("dialAddr(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestTCPReadiness(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	check := tcpReadiness(ts.URL)
	if check == nil {
		t.Fatalf("tcpReadiness() = nil, want a check")
	}
	if err := check(context.Background()); err != nil {
		t.Fatalf("check() error = %v, want nil while listening", err)
	}
	ts.Close()
	if err := check(context.Background()); err == nil {
		t.Fatalf("check() error = nil after the listener closed")
	}
}
