// Package wire defines the JSON message taxonomy exchanged between a
// client and the core, per spec.md §6.2. Client messages are decoded
// generically (by "type" discriminant, then dispatched); server messages
// are concrete structs with their own MarshalJSON-friendly "type" field
// so each one can be sent with a single json.Marshal call.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/whizzter/redux-multiplayer/pkg/collab"
	"github.com/whizzter/redux-multiplayer/pkg/genparams"
)

// Client → server message types.
const (
	TypeConnect = "connect"
	TypeAction  = "action"
)

// Server → client message types.
const (
	TypeInvalidStore       = "invalidStore"
	TypeNeedAuthentication = "needAuthentication"
	TypeBadAuthorization   = "badAuthorization"
	TypeConnected          = "connected"
	TypeResumeConnection   = "resumeConnection"
	TypeReplaceState       = "replaceState"
	TypeActionFanout       = "action"
	TypeAckAction          = "ackAction"
	TypeReplaceAction      = "replaceAction"
	TypeRenameId           = "renameId"
	TypeRejectAction       = "rejectAction"
)

// ClientEnvelope is used only to read the "type" discriminant before
// decoding the rest of a client message into its concrete shape.
type ClientEnvelope struct {
	Type string `json:"type"`
}

// ConnectMessage is the client → server "connect" message.
type ConnectMessage struct {
	Type       string                  `json:"type"`
	LastSeen   string                  `json:"lastSeen"`
	ClientID   string                  `json:"clientId,omitempty"`
	UUIDParams *genparams.SignedParams `json:"uuidParams,omitempty"`
}

// ActionMessage is the client → server "action" message.
type ActionMessage struct {
	Type       string        `json:"type"`
	ActionID   string        `json:"actionId"`
	ActionData collab.Action `json:"actionData"`
}

// DecodeClientMessage decodes raw into either a *ConnectMessage or an
// *ActionMessage based on its "type" field.
func DecodeClientMessage(raw []byte) (any, error) {
	var env ClientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode client envelope: %w", err)
	}

	switch env.Type {
	case TypeConnect:
		var msg ConnectMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode connect message: %w", err)
		}
		return &msg, nil
	case TypeAction:
		var msg ActionMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode action message: %w", err)
		}
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown client message type %q", env.Type)
	}
}

// InvalidStore is sent when a context key has no backing store.
type InvalidStore struct {
	Type string `json:"type"`
}

func NewInvalidStore() InvalidStore { return InvalidStore{Type: TypeInvalidStore} }

// NeedAuthentication is the sender-side response to a NeedAuth verdict.
type NeedAuthentication struct {
	Type     string `json:"type"`
	ActionID string `json:"actionId"`
	Message  string `json:"message"`
}

// BadAuthorization is the sender-side response to a BadAuth verdict.
type BadAuthorization struct {
	Type     string `json:"type"`
	ActionID string `json:"actionId"`
	Message  string `json:"message"`
}

// Connected is sent in response to a connect message.
type Connected struct {
	Type         string                 `json:"type"`
	InitialState any                    `json:"initialState"`
	ClientID     string                 `json:"clientId"`
	UUIDParams   genparams.SignedParams `json:"uuidParams"`
}

// ResumeConnection is reserved: replay/resume across disconnect is a
// non-goal (spec.md §1), but the shape is carried so the reserved wire
// type exists for forward compatibility.
type ResumeConnection struct {
	Type    string          `json:"type"`
	Actions []ResumedAction `json:"actions"`
}

type ResumedAction struct {
	ID         string        `json:"id"`
	ReplacesID string        `json:"replacesId,omitempty"`
	Action     collab.Action `json:"action"`
}

// ReplaceState is reserved for a future full-state resync push.
type ReplaceState struct {
	Type  string `json:"type"`
	State any    `json:"state"`
}

// ActionFanout is sent to every other client when an action is accepted.
type ActionFanout struct {
	Type   string        `json:"type"`
	Action collab.Action `json:"action"`
	ID     string        `json:"id"`
}

// AckAction is the sender-side response when its id was accepted as-is.
type AckAction struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ReplaceAction is the sender-side response when the filter rewrote the
// action (and, incidentally, possibly also renamed its id).
type ReplaceAction struct {
	Type   string        `json:"type"`
	FromID string        `json:"fromId"`
	ToID   string        `json:"toId"`
	Action collab.Action `json:"action"`
}

// RenameId is the sender-side response when the id changed but the
// action body did not.
type RenameId struct {
	Type   string `json:"type"`
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
}

// RejectAction is the sender-side response to a Reject verdict.
type RejectAction struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	ActionID string `json:"actionId"`
}
