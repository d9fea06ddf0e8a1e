package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/llmchat/internal/chat"
	"github.com/ent0n29/llmchat/internal/config"
	"github.com/ent0n29/llmchat/internal/httpapi"
	"github.com/ent0n29/llmchat/internal/inference"
	"github.com/ent0n29/llmchat/internal/kvstore"
	"github.com/ent0n29/llmchat/internal/observability"
	"github.com/ent0n29/llmchat/internal/session"
)

type InferenceInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Store      *session.Store
	Controller *chat.Controller
	Metrics    *observability.Metrics
	Inference  InferenceInfo
	StoreKind  string

	// Cleanup should be called on shutdown to release the store connection.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	kv, err := kvstore.Open(ctx, cfg.StoreURL, kvstore.RetryOptions{
		Attempts: cfg.StoreConnectRetries,
		Interval: cfg.StoreRetryInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}

	setup, err := resolveInference(ctx, cfg)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	store := session.NewStore(kv, cfg.DefaultModel)
	store.SetErrorHook(metrics.IncStoreError)

	relay := inference.NewRelay(setup.provider, inference.RelayOptions{
		SystemPrompt: cfg.SystemPrompt,
		IdleTimeout:  cfg.StreamIdleTimeout,
	})
	controller := chat.NewController(store, relay, metrics, chat.Options{
		Temperature: cfg.DefaultTemperature,
		MaxTokens:   cfg.MaxTokens,
		AutoTitle:   cfg.AutoTitle,
	})

	api := httpapi.New(cfg, store, controller, relay, metrics)
	if pinger, ok := kv.(kvstore.Pinger); ok {
		api.AddReadinessCheck("store", pinger.Ping)
	}
	if setup.ready != nil {
		api.AddReadinessCheck("inference", setup.ready)
	}

	cleanup := func() error {
		// Pending title saves need the store.
		controller.Wait()
		if err := kv.Close(); err != nil && !errors.Is(err, kvstore.ErrUnavailable) {
			return fmt.Errorf("close session store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Store:      store,
		Controller: controller,
		Metrics:    metrics,
		Inference: InferenceInfo{
			Provider: setup.provider.Name(),
			Detail:   setup.detail,
		},
		StoreKind: kvstore.Kind(cfg.StoreURL),
		Cleanup:   cleanup,
	}, nil
}
