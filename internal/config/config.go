package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr         string        `yaml:"bind_addr"`
	ShutdownTimeout  time.Duration `yaml:"-"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
	AllowAnyOrigin   bool          `yaml:"allow_any_origin"`
	LogLevel         string        `yaml:"log_level"`
	ServiceName      string        `yaml:"service_name"`

	InferenceProvider  string        `yaml:"inference_provider"`
	OllamaHost         string        `yaml:"ollama_host"`
	OpenAIBaseURL      string        `yaml:"openai_base_url"`
	OpenAIAPIKey       string        `yaml:"-"`
	GeminiAPIKey       string        `yaml:"-"`
	DefaultModel       string        `yaml:"default_model"`
	DefaultTemperature float64       `yaml:"default_temperature"`
	MaxTokens          int           `yaml:"max_tokens"`
	SystemPrompt       string        `yaml:"system_prompt"`
	StreamIdleTimeout  time.Duration `yaml:"-"`
	AutoTitle          bool          `yaml:"auto_title"`

	StoreURL            string        `yaml:"store_url"`
	StoreConnectRetries int           `yaml:"store_connect_retries"`
	StoreRetryInterval  time.Duration `yaml:"-"`
}

// fileConfig mirrors Config for YAML; durations are strings there.
type fileConfig struct {
	Config             `yaml:",inline"`
	ShutdownTimeout    string `yaml:"shutdown_timeout"`
	StreamIdleTimeout  string `yaml:"stream_idle_timeout"`
	StoreRetryInterval string `yaml:"store_retry_interval"`
}

func defaults() Config {
	return Config{
		BindAddr:            ":8080",
		ShutdownTimeout:     15 * time.Second,
		MetricsNamespace:    "llmchat",
		LogLevel:            "info",
		ServiceName:         "llmchat",
		InferenceProvider:   "auto",
		DefaultModel:        "llama3.2",
		DefaultTemperature:  0.5,
		MaxTokens:           2048,
		StreamIdleTimeout:   60 * time.Second,
		StoreConnectRetries: 3,
		StoreRetryInterval:  time.Second,
	}
}

// Load reads .env, the optional YAML file named by LLMCHAT_CONFIG_FILE and
// environment variables, in increasing order of precedence.
func Load() (Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := defaults()
	if path := stringsTrimSpace("LLMCHAT_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.ServiceName = envOrDefault("APP_SERVICE_NAME", cfg.ServiceName)
	cfg.InferenceProvider = strings.ToLower(envOrDefault("INFERENCE_PROVIDER", cfg.InferenceProvider))
	cfg.OllamaHost = envOrDefault("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIAPIKey = stringsTrimSpace("OPENAI_API_KEY")
	cfg.GeminiAPIKey = stringsTrimSpace("GEMINI_API_KEY")
	cfg.DefaultModel = envOrDefault("DEFAULT_MODEL", cfg.DefaultModel)
	cfg.SystemPrompt = envOrDefault("SYSTEM_PROMPT", cfg.SystemPrompt)
	cfg.StoreURL = envOrDefault("STORE_URL", cfg.StoreURL)

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamIdleTimeout, err = durationFromEnv("STREAM_IDLE_TIMEOUT", cfg.StreamIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreRetryInterval, err = durationFromEnv("STORE_RETRY_INTERVAL", cfg.StoreRetryInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AutoTitle, err = boolFromEnv("AUTO_TITLE", cfg.AutoTitle)
	if err != nil {
		return Config{}, err
	}
	debug, err := boolFromEnv("DEBUG", false)
	if err != nil {
		return Config{}, err
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	cfg.DefaultTemperature, err = floatFromEnv("DEFAULT_TEMPERATURE", cfg.DefaultTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTokens, err = intFromEnv("MAX_TOKENS", cfg.MaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreConnectRetries, err = intFromEnv("STORE_CONNECT_RETRIES", cfg.StoreConnectRetries)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.InferenceProvider {
	case "auto", "ollama", "openai", "gemini", "mock":
	default:
		return fmt.Errorf("INFERENCE_PROVIDER must be one of auto|ollama|openai|gemini|mock, got %q", c.InferenceProvider)
	}
	if strings.TrimSpace(c.DefaultModel) == "" {
		return fmt.Errorf("DEFAULT_MODEL must not be empty")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("MAX_TOKENS must be >= 0")
	}
	if c.StoreConnectRetries <= 0 {
		return fmt.Errorf("STORE_CONNECT_RETRIES must be positive")
	}
	if c.StreamIdleTimeout < 0 {
		return fmt.Errorf("STREAM_IDLE_TIMEOUT must be >= 0")
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	fc := fileConfig{Config: *cfg}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := fc.Config
	durations := []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{fc.ShutdownTimeout, &out.ShutdownTimeout, "shutdown_timeout"},
		{fc.StreamIdleTimeout, &out.StreamIdleTimeout, "stream_idle_timeout"},
		{fc.StoreRetryInterval, &out.StoreRetryInterval, "store_retry_interval"},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%s parse error: %w", d.key, err)
		}
		*d.dst = v
	}
	*cfg = out
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
