package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/whizzter/redux-multiplayer/internal/config"
	"github.com/whizzter/redux-multiplayer/pkg/collab"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Directory.Path = filepath.Join(dir, "contexts.db")
	cfg.Keypair.Path = filepath.Join(dir, "keypair.json")
	cfg.HTTP.Port = 19347 // arbitrary high port, unlikely to collide in CI
	return cfg
}

func noopReducer(state any, action collab.Action) any { return state }

func noopHydrate(ctx context.Context, key string, identity any) (any, error) {
	return map[string]any{"count": 0}, nil
}

func noopFilter(ctx context.Context, fc collab.FilterContext, action collab.Action) (collab.Verdict, error) {
	return collab.AcceptAction(action), nil
}

func TestNewApplicationWiresComponents(t *testing.T) {
	application, err := New(testConfig(t), noopHydrate, noopReducer, noopFilter, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if application.registry == nil || application.directory == nil || application.genSvc == nil {
		t.Fatalf("expected all core components to be wired")
	}
}

func TestApplicationStartAndStop(t *testing.T) {
	application, err := New(testConfig(t), noopHydrate, noopReducer, noopFilter, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := application.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewApplicationRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = -1
	if _, err := New(cfg, noopHydrate, noopReducer, noopFilter, nil); err == nil {
		t.Fatalf("expected an error for an invalid configuration")
	}
}
