// Package registry implements the context registry from spec.md §4.4:
// a key → Context map with single-flight hydration, so concurrent
// connects to a cold key coalesce onto exactly one hydrate call.
package registry

import (
	"context"
	"sync"

	"github.com/whizzter/redux-multiplayer/internal/corectx"
	"github.com/whizzter/redux-multiplayer/pkg/collab"
	"github.com/whizzter/redux-multiplayer/pkg/genparams"
)

// Directory receives best-effort bookkeeping notifications when a lookup
// hydrates a context or hydrate returns an error; a "no such store"
// result is not reported. Registry makes these calls synchronously,
// after releasing its lock and before returning to the caller, so
// implementations must not block for long.
type Directory interface {
	RecordContext(key string, identity any)
	RecordHydrateFailure(key string)
}

// Registry is the shared, concurrency-safe key → StateContext map.
type Registry struct {
	hydrate collab.Hydrate
	reducer collab.Reducer
	filter  collab.ActionFilter
	genSvc  *genparams.Service
	dir     Directory

	mu       sync.Mutex
	contexts map[string]*corectx.StateContext
	pending  map[string]*future
}

type future struct {
	done chan struct{}
	ctx  *corectx.StateContext
	err  error
}

// New constructs a Registry. dir may be nil, in which case bookkeeping
// notifications are skipped.
func New(hydrate collab.Hydrate, reducer collab.Reducer, filter collab.ActionFilter, genSvc *genparams.Service, dir Directory) *Registry {
	return &Registry{
		hydrate:  hydrate,
		reducer:  reducer,
		filter:   filter,
		genSvc:   genSvc,
		dir:      dir,
		contexts: make(map[string]*corectx.StateContext),
		pending:  make(map[string]*future),
	}
}

// GetOrCreate returns the StateContext for key, hydrating it on first
// access. Exactly one hydrate call is ever in flight per key; a nil
// result with a nil error means "no such store" and is never cached, so
// a later call retries hydration.
func (r *Registry) GetOrCreate(ctx context.Context, key string, identity any) (*corectx.StateContext, error) {
	r.mu.Lock()
	if c, ok := r.contexts[key]; ok {
		r.mu.Unlock()
		return c, nil
	}
	if f, ok := r.pending[key]; ok {
		r.mu.Unlock()
		<-f.done
		return f.ctx, f.err
	}

	f := &future{done: make(chan struct{})}
	r.pending[key] = f
	r.mu.Unlock()

	state, err := r.hydrate(ctx, key, identity)

	r.mu.Lock()
	delete(r.pending, key)

	if err != nil {
		f.err = err
		r.mu.Unlock()
		close(f.done)
		if r.dir != nil {
			r.dir.RecordHydrateFailure(key)
		}
		return nil, err
	}

	if state == nil {
		r.mu.Unlock()
		close(f.done)
		return nil, nil
	}

	c := corectx.New(key, state, r.reducer, r.filter, r.genSvc)
	r.contexts[key] = c
	f.ctx = c
	r.mu.Unlock()
	close(f.done)

	if r.dir != nil {
		r.dir.RecordContext(key, identity)
	}
	return c, nil
}

// Lookup returns the already-hydrated context for key, if any, without
// triggering hydration.
func (r *Registry) Lookup(key string) (*corectx.StateContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[key]
	return c, ok
}

// Keys returns every currently-hydrated context key.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.contexts))
	for k := range r.contexts {
		keys = append(keys, k)
	}
	return keys
}
