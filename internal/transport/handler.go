package transport

import (
	"context"
	"crypto/rand"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/whizzter/redux-multiplayer/internal/registry"
	"github.com/whizzter/redux-multiplayer/internal/session"
	"github.com/whizzter/redux-multiplayer/pkg/uuid7"
	"github.com/whizzter/redux-multiplayer/pkg/wire"
)

// IdentityResolver extracts an authenticated principal (or nil) from an
// incoming upgrade request. Implemented by internal/identity.
type IdentityResolver interface {
	Resolve(r *http.Request) any
}

// Handler upgrades HTTP requests to WebSocket connections and drives
// each socket's Buffering → Live attachment sequence (spec.md §4.6).
type Handler struct {
	upgrader   websocket.Upgrader
	registry   *registry.Registry
	identity   IdentityResolver
	bufferSize int

	idMu    sync.Mutex
	idState uuid7.GenState
}

// NewHandler constructs a Handler bound to reg for context lookup and
// identity for principal resolution. bufferSize sizes each session's
// pendingInbox.
func NewHandler(reg *registry.Registry, identity IdentityResolver, bufferSize int) *Handler {
	h := &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		registry:   reg,
		identity:   identity,
		bufferSize: bufferSize,
	}
	if _, err := rand.Read(h.idState.Seed[:]); err != nil {
		log.Printf("transport: read random seed for client ids: %v", err)
	}
	return h
}

func (h *Handler) mintClientID() uuid7.UUID {
	h.idMu.Lock()
	defer h.idMu.Unlock()
	return uuid7.Mint(&h.idState)
}

// ServeHTTP upgrades the connection, mints an autoClientId, and spawns
// the read pump and the asynchronous context-attachment sequence.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key query parameter", http.StatusBadRequest)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("transport: upgrade failed: %v", err)
		return
	}

	identity := h.identity.Resolve(r)
	conn := newConnection(wsConn)
	sess := session.New(conn, h.mintClientID(), h.bufferSize)

	go h.readPump(sess, conn)
	// net/http cancels r.Context() as soon as ServeHTTP returns, which
	// happens right after the goroutines below are started, so the
	// hydrate call in attach must not be tied to it.
	go h.attach(context.Background(), sess, key, identity)
}

func (h *Handler) readPump(sess *session.ClientSession, conn *Connection) {
	defer sess.Close()
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.Receive(data)
	}
}

// attach implements the attachment sequence from spec.md §4.6: hydrate,
// re-check the socket is still open, then either close on failure or
// bind the session to the context's live dispatch handler.
func (h *Handler) attach(ctx context.Context, sess *session.ClientSession, key string, identity any) {
	stateCtx, err := h.registry.GetOrCreate(ctx, key, identity)

	if sess.IsClosed() {
		return
	}
	if err != nil {
		log.Printf("transport: hydrate %q: %v", key, err)
		sess.Close()
		return
	}
	if stateCtx == nil {
		sess.Send(wire.NewInvalidStore())
		sess.Close()
		return
	}

	sess.Identity = identity
	stateCtx.AddClient(sess)
	sess.SetOnClose(func() { stateCtx.RemoveClient(sess) })
	if ok := sess.Attach(key, stateCtx.Dispatch(sess)); !ok {
		// The socket closed between the IsClosed check above and here,
		// so onClose never fired: detach explicitly or sess leaks in
		// stateCtx.clients forever.
		stateCtx.RemoveClient(sess)
	}
}
