package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.InferenceProvider != "auto" {
		t.Fatalf("InferenceProvider = %q, want %q", cfg.InferenceProvider, "auto")
	}
	if cfg.StoreURL != "" {
		t.Fatalf("StoreURL = %q, want empty default", cfg.StoreURL)
	}
	if cfg.StreamIdleTimeout != 60*time.Second {
		t.Fatalf("StreamIdleTimeout = %s, want 60s", cfg.StreamIdleTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.ServiceName != "llmchat" {
		t.Fatalf("ServiceName = %q, want llmchat", cfg.ServiceName)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("INFERENCE_PROVIDER", "Ollama")
	t.Setenv("OLLAMA_HOST", "http://localhost:11434")
	t.Setenv("DEFAULT_TEMPERATURE", "0.9")
	t.Setenv("MAX_TOKENS", "128")
	t.Setenv("STREAM_IDLE_TIMEOUT", "5s")
	t.Setenv("STORE_URL", "redis://localhost:6379/0")
	t.Setenv("APP_SERVICE_NAME", "chat-eu")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want explicit value", cfg.BindAddr)
	}
	if cfg.InferenceProvider != "ollama" {
		t.Fatalf("InferenceProvider = %q, want lowercased ollama", cfg.InferenceProvider)
	}
	if cfg.DefaultTemperature != 0.9 {
		t.Fatalf("DefaultTemperature = %v, want 0.9", cfg.DefaultTemperature)
	}
	if cfg.MaxTokens != 128 {
		t.Fatalf("MaxTokens = %d, want 128", cfg.MaxTokens)
	}
	if cfg.StreamIdleTimeout != 5*time.Second {
		t.Fatalf("StreamIdleTimeout = %s, want 5s", cfg.StreamIdleTimeout)
	}
	if cfg.StoreURL != "redis://localhost:6379/0" {
		t.Fatalf("StoreURL = %q", cfg.StoreURL)
	}
	if cfg.ServiceName != "chat-eu" {
		t.Fatalf("ServiceName = %q, want chat-eu", cfg.ServiceName)
	}
}

func TestLoadYAMLFileBeneathEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "llmchat.yaml")
	body := []byte(`bind_addr: ":7070"
default_model: mistral
system_prompt: be brief
stream_idle_timeout: 12s
store_url: "sqlite:chat.db"
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("LLMCHAT_CONFIG_FILE", path)
	t.Setenv("DEFAULT_MODEL", "llama3.1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":7070" {
		t.Fatalf("BindAddr = %q, want file value", cfg.BindAddr)
	}
	if cfg.DefaultModel != "llama3.1" {
		t.Fatalf("DefaultModel = %q, want env to win over file", cfg.DefaultModel)
	}
	if cfg.SystemPrompt != "be brief" {
		t.Fatalf("SystemPrompt = %q", cfg.SystemPrompt)
	}
	if cfg.StreamIdleTimeout != 12*time.Second {
		t.Fatalf("StreamIdleTimeout = %s, want 12s", cfg.StreamIdleTimeout)
	}
	if cfg.StoreURL != "sqlite:chat.db" {
		t.Fatalf("StoreURL = %q", cfg.StoreURL)
	}
	if cfg.MaxTokens != 2048 {
		t.Fatalf("MaxTokens = %d, want default kept", cfg.MaxTokens)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("INFERENCE_PROVIDER", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want provider validation error")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("STREAM_IDLE_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want duration parse error")
	}
}

func TestLoadDebugForcesDebugLevel(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"LLMCHAT_CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"APP_SERVICE_NAME",
		"DEBUG",
		"INFERENCE_PROVIDER",
		"OLLAMA_HOST",
		"OPENAI_BASE_URL",
		"OPENAI_API_KEY",
		"GEMINI_API_KEY",
		"DEFAULT_MODEL",
		"DEFAULT_TEMPERATURE",
		"MAX_TOKENS",
		"SYSTEM_PROMPT",
		"STREAM_IDLE_TIMEOUT",
		"AUTO_TITLE",
		"STORE_URL",
		"STORE_CONNECT_RETRIES",
		"STORE_RETRY_INTERVAL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
