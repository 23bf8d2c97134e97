// Command server runs the multiplayer state-replication core against a
// small SQLite-backed demo store: one counter per context key, an
// increment/reset reducer, and a filter that requires identity for
// "reset".
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whizzter/redux-multiplayer/internal/app"
	"github.com/whizzter/redux-multiplayer/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := os.Getenv("REDUX_CONFIG_FILE")
	cfg := config.LoadWithPrecedence(configPath)

	store, err := newDemoStore(cfg.Directory.Path)
	if err != nil {
		return fmt.Errorf("open demo store: %w", err)
	}
	defer store.Close()

	var identityCfg *config.IdentityConfig
	if key := os.Getenv("REDUX_JWT_SIGNING_KEY"); key != "" {
		identityCfg = &config.IdentityConfig{
			SigningKey: key,
			Issuer:     os.Getenv("REDUX_JWT_ISSUER"),
		}
	}

	application, err := app.New(cfg, store.Hydrate, store.Reduce, store.Filter, identityCfg)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := application.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		log.Printf("received signal %v, shutting down gracefully", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := application.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	}
}
