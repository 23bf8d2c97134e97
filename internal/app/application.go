// Package app wires the core's components together in dependency order
// and drives graceful startup/shutdown.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whizzter/redux-multiplayer/internal/config"
	"github.com/whizzter/redux-multiplayer/internal/directory"
	"github.com/whizzter/redux-multiplayer/internal/identity"
	"github.com/whizzter/redux-multiplayer/internal/registry"
	"github.com/whizzter/redux-multiplayer/internal/transport"
	"github.com/whizzter/redux-multiplayer/pkg/collab"
	"github.com/whizzter/redux-multiplayer/pkg/genparams"
)

// Application coordinates every component: keypair → directory →
// registry → identity → transport → HTTP.
type Application struct {
	config     *config.Config
	keypair    *genparams.Keypair
	genSvc     *genparams.Service
	directory  *directory.Directory
	registry   *registry.Registry
	identity   *identity.Resolver
	httpServer *http.Server
}

// New builds an Application from cfg and the domain collaborators
// (hydrate, reducer, filter) that a concrete deployment supplies.
// identityCfg may be nil, in which case every connection resolves to a
// nil identity.
func New(cfg *config.Config, hydrate collab.Hydrate, reducer collab.Reducer, filter collab.ActionFilter, identityCfg *config.IdentityConfig) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	keypair, err := genparams.LoadOrCreateKeypair(cfg.Keypair.Path)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}
	genSvc := genparams.NewService(keypair)

	dir, err := directory.Open(cfg.Directory.Path)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}

	reg := registry.New(hydrate, reducer, filter, genSvc, dir)

	var idResolver *identity.Resolver
	if identityCfg != nil && identityCfg.SigningKey != "" {
		idResolver = identity.NewResolver([]byte(identityCfg.SigningKey), identityCfg.Issuer)
	} else {
		idResolver = identity.NewResolver(nil, "")
	}

	wsHandler := transport.NewHandler(reg, idResolver, cfg.WebSocket.BufferSize)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/contexts", handleListContexts(dir))
	mux.HandleFunc("/contexts/", handleGetContext(dir))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      requestIDMiddleware(mux),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		keypair:    keypair,
		genSvc:     genSvc,
		directory:  dir,
		registry:   reg,
		identity:   idResolver,
		httpServer: httpServer,
	}, nil
}

// Start begins serving HTTP/WebSocket traffic. It returns the listen
// error if one arrives within 100ms, ctx's error if ctx is done first,
// and nil otherwise.
func (a *Application) Start(ctx context.Context) error {
	log.Printf("starting server on %s", a.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("server started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down the HTTP server and closes the directory.
func (a *Application) Stop(ctx context.Context) error {
	log.Printf("shutting down server")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := a.directory.Close(); err != nil {
		log.Printf("directory shutdown error: %v", err)
	}
	return nil
}

func (a *Application) Addr() string { return a.httpServer.Addr }

// requestIDMiddleware stamps every request with a correlation id, logged
// alongside method and path so a connect or hydrate failure can be
// traced back to the HTTP request that triggered it.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		log.Printf("request %s: %s %s", id, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleListContexts(dir *directory.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := dir.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(records)
	}
}

func handleGetContext(dir *directory.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/contexts/")
		if key == "" {
			http.Error(w, "missing context key", http.StatusBadRequest)
			return
		}
		record, ok, err := dir.Get(r.Context(), key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "unknown context key", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(record)
	}
}
