// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	throttle "github.com/plsmphnx/go-throttle"
)

// main launches throttled.
func main() {
	os.Exit(run())
}

// run executes throttled and returns an exit code.
func run() int {
	configPath := flag.String("config", "throttled.yaml", "path to throttled config")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	counters := throttle.NewCounters()
	lc := throttle.NewLifecycle(append(storeConfigs(cfg),
		throttle.WithLogger(logger.Named("store")),
		throttle.WithRecorder(counters),
	)...)
	store, err := lc.Load()
	if err != nil {
		logger.Error("store init failed", zap.Error(err))
		return 1
	}
	defer lc.Unload()

	handler, err := newHandler(cfg, store, counters, logger.Named("http"))
	if err != nil {
		logger.Error("router init failed", zap.Error(err))
		return 1
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("upstream", cfg.Upstream))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			return 1
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return 0
}

// newLogger builds the process logger.
func newLogger(cfg config) (*zap.Logger, error) {
	if cfg.Log.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
