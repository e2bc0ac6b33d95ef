package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway/treestore"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway/wsgateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/logging"
	"github.com/Taiwoayodeji/ChatGifs/internal/profile"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8787", "listen address")
	dataDir := flag.String("data", filepath.Join(profile.BaseDir(), "hub"), "tree store directory")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := logging.Console(*level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*addr, *dataDir, logger); err != nil {
		logger.Error("hub exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(addr, dataDir string, logger *zap.Logger) error {
	store, err := treestore.Open(dataDir, treestore.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("open tree store: %w", err)
	}
	defer func() { _ = store.Close() }()

	hub := wsgateway.NewServer(store, logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           hub.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hub listening", zap.String("addr", addr), zap.String("data_dir", dataDir))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	hub.Close()
	return srv.Shutdown(shutdownCtx)
}
