package corectx

import (
	"context"
	"fmt"
	"log"
	"reflect"

	"github.com/whizzter/redux-multiplayer/internal/session"
	"github.com/whizzter/redux-multiplayer/pkg/collab"
	"github.com/whizzter/redux-multiplayer/pkg/genparams"
	"github.com/whizzter/redux-multiplayer/pkg/uuid7"
	"github.com/whizzter/redux-multiplayer/pkg/wire"
)

// Dispatch is the entry point a session's Attach call installs as its
// live handler: it schedules message handling onto this context's
// worker so every dispatch for this key, regardless of which socket it
// arrived on, is fully serialized.
func (c *StateContext) Dispatch(sess *session.ClientSession) func(raw []byte) {
	return func(raw []byte) {
		c.Schedule(func(ctx context.Context) {
			c.handleMessage(ctx, sess, raw)
		})
	}
}

func (c *StateContext) handleMessage(ctx context.Context, sess *session.ClientSession, raw []byte) {
	msg, err := wire.DecodeClientMessage(raw)
	if err != nil {
		log.Printf("corectx: dropping malformed message in context %q: %v", c.key, err)
		return
	}

	switch m := msg.(type) {
	case *wire.ConnectMessage:
		c.handleConnect(sess, m)
	case *wire.ActionMessage:
		c.handleAction(ctx, sess, m)
	}
}

// handleConnect implements spec.md §4.7.1.
func (c *StateContext) handleConnect(sess *session.ClientSession, msg *wire.ConnectMessage) {
	if msg.ClientID != "" {
		sess.ClientID = msg.ClientID
	}

	bundle, state := c.resolveGenParams(msg.UUIDParams)
	sess.GenParams = &bundle
	sess.GenState = state

	clientID := sess.ClientID
	if clientID == "" {
		clientID = sess.AutoClientID.String()
	}

	state2, _ := c.Snapshot()
	sess.Send(wire.Connected{
		Type:         wire.TypeConnected,
		InitialState: state2,
		ClientID:     clientID,
		UUIDParams:   bundle,
	})
}

// resolveGenParams verifies a client-presented bundle and falls back to
// minting a fresh one on absence or verification failure.
func (c *StateContext) resolveGenParams(presented *genparams.SignedParams) (genparams.SignedParams, genparams.GenState) {
	if presented != nil && c.genSvc.Verify(*presented) {
		decoded, err := c.genSvc.Decode(*presented)
		if err == nil {
			return *presented, decoded
		}
		log.Printf("corectx: decode verified bundle in context %q: %v", c.key, err)
	}

	bundle, state, err := c.genSvc.MintSigned()
	if err != nil {
		log.Printf("corectx: mint generation params in context %q: %v", c.key, err)
	}
	return bundle, state
}

// handleAction implements spec.md §4.7.2.
func (c *StateContext) handleAction(ctx context.Context, sess *session.ClientSession, msg *wire.ActionMessage) {
	if msg.ActionData == nil {
		return
	}

	id := c.resolveActionID(msg.ActionID)

	verdict, err := c.filter(ctx, &filterContext{c: c, sess: sess}, msg.ActionData)
	if err != nil {
		log.Printf("corectx: action filter error in context %q: %v", c.key, err)
		return
	}

	switch verdict.Kind {
	case collab.Reject:
		sess.Send(wire.RejectAction{
			Type:     wire.TypeRejectAction,
			Message:  defaultMessage(verdict.Message, wire.TypeRejectAction),
			ActionID: msg.ActionID,
		})
		return
	case collab.NeedAuth:
		sess.Send(wire.NeedAuthentication{
			Type:     wire.TypeNeedAuthentication,
			ActionID: msg.ActionID,
			Message:  defaultMessage(verdict.Message, wire.TypeNeedAuthentication),
		})
		return
	case collab.BadAuth:
		sess.Send(wire.BadAuthorization{
			Type:     wire.TypeBadAuthorization,
			ActionID: msg.ActionID,
			Message:  defaultMessage(verdict.Message, wire.TypeBadAuthorization),
		})
		return
	}

	accepted := verdict.Action
	if accepted == nil {
		accepted = msg.ActionData
	}
	replaced := !sameAction(accepted, msg.ActionData)

	newState, ok := c.applyReducer(accepted)
	if !ok {
		// Reducer panicked: state unchanged, no client-visible response
		// (spec.md §9 open question 4).
		return
	}

	c.stateMu.Lock()
	c.state = newState
	c.lastActionID = id
	c.stateMu.Unlock()

	switch {
	case replaced:
		sess.Send(wire.ReplaceAction{
			Type:   wire.TypeReplaceAction,
			FromID: msg.ActionID,
			ToID:   id.String(),
			Action: accepted,
		})
	case id.String() != msg.ActionID:
		sess.Send(wire.RenameId{
			Type:   wire.TypeRenameId,
			FromID: msg.ActionID,
			ToID:   id.String(),
		})
	default:
		sess.Send(wire.AckAction{Type: wire.TypeAckAction, ID: msg.ActionID})
	}

	c.fanout(sess, wire.ActionFanout{Type: wire.TypeActionFanout, Action: accepted, ID: id.String()})
}

// resolveActionID applies the id policy from spec.md §4.7.2: a stale or
// future-dated client id (or one that fails to parse) is overridden by a
// freshly minted id. An id exactly equal to lastActionID counts as
// stale too; equality is not fresh, per spec.md §8/§9 open question 2.
func (c *StateContext) resolveActionID(actionID string) uuid7.UUID {
	c.stateMu.Lock()
	next := uuid7.Mint(&c.idState)
	last := c.lastActionID
	c.stateMu.Unlock()

	parsed, ok := uuid7.ParseString(actionID)
	if !ok || !uuid7.Less(last, parsed) || uuid7.Less(next, parsed) {
		return next
	}
	return parsed
}

// applyReducer invokes the reducer, recovering from a panic so it can
// never take down the worker loop.
func (c *StateContext) applyReducer(action collab.Action) (newState any, ok bool) {
	c.stateMu.RLock()
	current := c.state
	c.stateMu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("corectx: reducer panicked in context %q: %v", c.key, r)
			ok = false
		}
	}()
	newState = c.reducer(current, action)
	ok = true
	return
}

// sameAction detects a filter rewrite via reference identity, matching
// the source's reference-equality check (spec.md §9).
func sameAction(a, b collab.Action) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func defaultMessage(msg, respType string) string {
	if msg != "" {
		return msg
	}
	return fmt.Sprintf("no extra message given for %s", respType)
}

// filterContext is the FilterContext handed to the external action
// filter collaborator for one dispatch.
type filterContext struct {
	c    *StateContext
	sess *session.ClientSession
}

func (f *filterContext) Key() string {
	return f.c.key
}

func (f *filterContext) State() any {
	state, _ := f.c.Snapshot()
	return state
}

func (f *filterContext) Schedule(task func(context.Context)) {
	f.c.Schedule(task)
}

// Identity returns the authenticated principal forwarded from the
// session, per spec.md §3 ("identity ... forwarded to filter and
// hydrate").
func (f *filterContext) Identity() any {
	return f.sess.Identity
}

// VerifyUUID parses id, rejects non-v7 values, and reconstructs a
// candidate UUID under the session's genState for byte-equality
// comparison — the core's proof-of-origin check (spec.md §4.7.2).
func (f *filterContext) VerifyUUID(id string) bool {
	parsed, ok := uuid7.ParseString(id)
	if !ok || !parsed.IsV7() {
		return false
	}
	reconstructed := uuid7.Build(f.sess.GenState.Seed, parsed.Timestamp(), int32(parsed.Sequence()))
	return reconstructed == parsed
}
