// Package collab defines the collaborator interfaces the core consumes:
// the reducer, the hydrate callback, and the action filter. None of these
// are implemented here — cmd/server wires sample implementations, and any
// embedder is expected to supply its own.
package collab

import "context"

// Action is an unstructured action payload. Only the "type" field is
// introspected by the core; everything else is opaque and passed through
// to the reducer and filter untouched.
type Action map[string]any

// Type returns the action's discriminant, or "" if absent or not a string.
func (a Action) Type() string {
	t, _ := a["type"].(string)
	return t
}

// Clone returns a shallow copy of a, suitable for a filter that wants to
// signal a rewrite by returning a new map rather than mutating the input.
func (a Action) Clone() Action {
	if a == nil {
		return nil
	}
	c := make(Action, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// Reducer applies an action to the current state and returns the next
// state. Must be pure, deterministic, and synchronous — the core never
// calls it with a context and never expects it to block.
type Reducer func(state any, action Action) any

// Hydrate loads the initial state for a context key. A nil state with a
// nil error means "no such store" — the caller responds with invalidStore
// and does not retain a tombstone, so a later call retries. A non-nil
// error propagates to every caller currently coalesced on this key.
type Hydrate func(ctx context.Context, key string, identity any) (state any, err error)

// VerdictKind is the four-way outcome of invoking an ActionFilter.
type VerdictKind int

const (
	Accept VerdictKind = iota
	Reject
	NeedAuth
	BadAuth
)

// Verdict is the filter's decision for one action. Action is only
// meaningful when Kind == Accept; Message is only meaningful for the
// three fault kinds, and defaults to a generic message if empty.
type Verdict struct {
	Kind    VerdictKind
	Action  Action
	Message string
}

// AcceptAction returns an Accept verdict carrying action unchanged or
// rewritten (filters signal a rewrite by returning a distinct map value;
// see FilterContext and the dispatch pipeline's replaced detection).
func AcceptAction(action Action) Verdict { return Verdict{Kind: Accept, Action: action} }

// RejectWith returns a Reject verdict.
func RejectWith(message string) Verdict { return Verdict{Kind: Reject, Message: message} }

// NeedAuthWith returns a NeedAuth verdict.
func NeedAuthWith(message string) Verdict { return Verdict{Kind: NeedAuth, Message: message} }

// BadAuthWith returns a BadAuth verdict.
func BadAuthWith(message string) Verdict { return Verdict{Kind: BadAuth, Message: message} }

// FilterContext is what an ActionFilter is given alongside the action
// itself: read-only access to the context's current state, a way to
// schedule deferred work onto the context's own worker, and a way to
// verify that a UUID the client claims to have minted was actually
// derived from the generation parameters the server issued it.
type FilterContext interface {
	Key() string
	State() any
	Schedule(task func(context.Context))
	VerifyUUID(id string) bool
	Identity() any
}

// ActionFilter inspects (and may rewrite or reject) an action before it
// reaches the reducer. It runs inside the owning context's single worker
// goroutine, so it may block on I/O without affecting any other context —
// that blocking is this system's equivalent of "asynchronous" filtering.
type ActionFilter func(ctx context.Context, fc FilterContext, action Action) (Verdict, error)
