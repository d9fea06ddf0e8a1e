package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ent0n29/llmchat/internal/app"
	"github.com/ent0n29/llmchat/internal/config"
	"github.com/ent0n29/llmchat/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Log.Errorf("config error: %v", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel, cfg.ServiceName)

	built, err := app.Build(context.Background(), cfg)
	if err != nil {
		logging.Log.Errorf("startup failed: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logging.Log.Warnf("cleanup failed: %v", err)
		}
	}()

	logging.InfoWithFields("llmchat configured", logging.Fields{
		"inference":     built.Inference.Provider,
		"detail":        built.Inference.Detail,
		"store":         built.StoreKind,
		"default_model": cfg.DefaultModel,
		"auto_title":    cfg.AutoTitle,
	})

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Log.Infof("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logging.Log.Info("shutdown signal received")
	case err := <-serveErr:
		logging.Log.Errorf("listen error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Log.Warnf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	logging.Log.Info("shutdown complete")
}
