// Package session implements the per-socket ClientSession state machine
// from spec.md §4.6: Buffering while a context is being attached, Live
// once bound to a context's dispatch pipeline, Closed on disconnect.
package session

import (
	"log"
	"sync"

	"github.com/whizzter/redux-multiplayer/pkg/genparams"
	"github.com/whizzter/redux-multiplayer/pkg/uuid7"
)

type Phase int

const (
	Buffering Phase = iota
	Live
	Closed
)

func (p Phase) String() string {
	switch p {
	case Buffering:
		return "buffering"
	case Live:
		return "live"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sender abstracts the outbound half of a socket so this package never
// imports a transport library directly.
type Sender interface {
	Send(v any) error
	Close() error
}

// defaultInboxCapacity bounds pendingInbox when the caller configures no
// explicit WebSocket buffer size.
const defaultInboxCapacity = 64

// ClientSession is one server-side binding of a socket to a context, per
// spec.md §3.
type ClientSession struct {
	AutoClientID uuid7.UUID
	ClientID     string
	ContextKey   string
	GenParams    *genparams.SignedParams
	GenState     genparams.GenState
	Identity     any

	mu       sync.Mutex
	sender   Sender
	phase    Phase
	inboxCap int
	inbox    [][]byte
	dispatch func(raw []byte)
	onClose  func()
}

// SetOnClose registers a callback invoked exactly once, when Close
// transitions the session out of Buffering/Live. Used by the transport
// layer to detach the session from its context's fan-out set.
func (s *ClientSession) SetOnClose(fn func()) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

// New constructs a session in the Buffering phase, bound to sender and
// stamped with a freshly minted autoClientId.
func New(sender Sender, autoClientID uuid7.UUID, inboxCap int) *ClientSession {
	if inboxCap <= 0 {
		inboxCap = defaultInboxCapacity
	}
	return &ClientSession{
		AutoClientID: autoClientID,
		sender:       sender,
		phase:        Buffering,
		inboxCap:     inboxCap,
	}
}

func (s *ClientSession) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *ClientSession) IsClosed() bool {
	return s.Phase() == Closed
}

// Receive is called by the transport layer for every inbound message. In
// Buffering it queues onto pendingInbox; in Live it dispatches
// immediately; in Closed it drops the message.
func (s *ClientSession) Receive(raw []byte) {
	s.mu.Lock()
	switch s.phase {
	case Buffering:
		if len(s.inbox) >= s.inboxCap {
			s.inbox = s.inbox[1:]
			log.Printf("session: pendingInbox full for client %s, dropping oldest buffered message", s.AutoClientID)
		}
		s.inbox = append(s.inbox, raw)
		s.mu.Unlock()
	case Live:
		dispatch := s.dispatch
		s.mu.Unlock()
		dispatch(raw)
	case Closed:
		s.mu.Unlock()
	}
}

// Attach transitions Buffering → Live: installs the live dispatch
// handler and replays every buffered message through it, in arrival
// order, per spec.md §4.6. A no-op if the session is no longer
// Buffering (e.g. the socket closed while the context was hydrating).
func (s *ClientSession) Attach(contextKey string, dispatch func(raw []byte)) bool {
	s.mu.Lock()
	if s.phase != Buffering {
		s.mu.Unlock()
		return false
	}
	s.ContextKey = contextKey
	s.dispatch = dispatch
	s.phase = Live
	buffered := s.inbox
	s.inbox = nil
	s.mu.Unlock()

	for _, raw := range buffered {
		dispatch(raw)
	}
	return true
}

// Close transitions to Closed and closes the underlying sender.
// Idempotent.
func (s *ClientSession) Close() {
	s.mu.Lock()
	if s.phase == Closed {
		s.mu.Unlock()
		return
	}
	s.phase = Closed
	s.inbox = nil
	onClose := s.onClose
	s.mu.Unlock()
	_ = s.sender.Close()
	if onClose != nil {
		onClose()
	}
}

// Send is a best-effort write to the socket; failures are logged and
// never propagated into the caller's dispatch logic, per spec.md §7
// ("socket send failed").
func (s *ClientSession) Send(v any) {
	if err := s.sender.Send(v); err != nil {
		log.Printf("session: send to client %s failed: %v", s.AutoClientID, err)
	}
}
