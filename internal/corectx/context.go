// Package corectx implements the per-context serial worker and action
// ingestion pipeline: one StateContext per hydrated key, running its own
// cooperative task queue so state mutations on that key never race.
package corectx

import (
	"context"
	"crypto/rand"
	"log"
	"sync"
	"time"

	"github.com/whizzter/redux-multiplayer/internal/session"
	"github.com/whizzter/redux-multiplayer/pkg/collab"
	"github.com/whizzter/redux-multiplayer/pkg/genparams"
	"github.com/whizzter/redux-multiplayer/pkg/uuid7"
)

// idleInterval is the worker's liveness-probe wake-up period when its
// queue is empty; it never evicts the context.
const idleInterval = 10 * time.Second

// StateContext is the server-side singleton per key: state, the reducer
// closed over it, attached clients, and the worker that serializes all
// of the above.
type StateContext struct {
	key     string
	reducer collab.Reducer
	filter  collab.ActionFilter
	genSvc  *genparams.Service

	stateMu      sync.RWMutex
	state        any
	lastActionID uuid7.UUID
	idState      uuid7.GenState

	clientsMu sync.RWMutex
	clients   map[*session.ClientSession]struct{}

	queueMu sync.Mutex
	queue   []func(context.Context)
	wake    chan struct{}
}

// New constructs a StateContext with initialState already hydrated, and
// starts its worker goroutine. The caller is responsible for ensuring
// at most one StateContext exists per key (see internal/registry).
func New(key string, initialState any, reducer collab.Reducer, filter collab.ActionFilter, genSvc *genparams.Service) *StateContext {
	c := &StateContext{
		key:     key,
		state:   initialState,
		reducer: reducer,
		filter:  filter,
		genSvc:  genSvc,
		clients: make(map[*session.ClientSession]struct{}),
		idState: newIDState(),
		wake:    make(chan struct{}, 1),
	}
	c.lastActionID = uuid7.Mint(&c.idState)

	go c.run()
	return c
}

func newIDState() uuid7.GenState {
	var seed [74]byte
	if _, err := rand.Read(seed[:]); err != nil {
		log.Printf("corectx: read random seed for id minting: %v", err)
	}
	return uuid7.GenState{Seed: seed}
}

func (c *StateContext) Key() string { return c.key }

// Snapshot returns the current state and last accepted action id without
// requiring the caller to run on the worker. Safe to call from an HTTP
// debug handler or the directory's bookkeeping path.
func (c *StateContext) Snapshot() (state any, lastActionID string) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state, c.lastActionID.String()
}

// AddClient attaches sess to this context's fan-out set. Safe to call
// from any goroutine.
func (c *StateContext) AddClient(sess *session.ClientSession) {
	c.clientsMu.Lock()
	c.clients[sess] = struct{}{}
	c.clientsMu.Unlock()
}

// RemoveClient detaches sess; idempotent.
func (c *StateContext) RemoveClient(sess *session.ClientSession) {
	c.clientsMu.Lock()
	delete(c.clients, sess)
	c.clientsMu.Unlock()
}

func (c *StateContext) ClientCount() int {
	c.clientsMu.RLock()
	defer c.clientsMu.RUnlock()
	return len(c.clients)
}

// Schedule enqueues task to run on this context's worker. Never blocks
// and is safe to call from any goroutine; a task that panics is logged
// and does not kill the worker loop.
func (c *StateContext) Schedule(task func(context.Context)) {
	c.queueMu.Lock()
	c.queue = append(c.queue, task)
	c.queueMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *StateContext) popTask() func(context.Context) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	task := c.queue[0]
	c.queue = c.queue[1:]
	return task
}

// run is the worker loop: drain the FIFO to empty, then sleep until
// either a wake-up signal or the idle timer fires.
func (c *StateContext) run() {
	idle := time.NewTimer(idleInterval)
	defer idle.Stop()

	for {
		if task := c.popTask(); task != nil {
			c.runTask(task)
			continue
		}

		select {
		case <-c.wake:
		case <-idle.C:
		}
		idle.Reset(idleInterval)
	}
}

func (c *StateContext) runTask(task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("corectx: task panic in context %q: %v", c.key, r)
		}
	}()
	task(context.Background())
}

// fanout sends msg to every client except excluded.
func (c *StateContext) fanout(excluded *session.ClientSession, msg any) {
	c.clientsMu.RLock()
	defer c.clientsMu.RUnlock()
	for other := range c.clients {
		if other == excluded {
			continue
		}
		other.Send(msg)
	}
}
