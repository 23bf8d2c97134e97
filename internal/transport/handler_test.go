package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/whizzter/redux-multiplayer/internal/registry"
	"github.com/whizzter/redux-multiplayer/pkg/collab"
	"github.com/whizzter/redux-multiplayer/pkg/genparams"
)

type nilIdentity struct{}

func (nilIdentity) Resolve(r *http.Request) any { return nil }

func testGenService(t *testing.T) *genparams.Service {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return genparams.NewService(&genparams.Keypair{Private: priv, Public: &priv.PublicKey})
}

func startTestServer(t *testing.T, hydrate collab.Hydrate) (wsURL string, reg *registry.Registry) {
	t.Helper()
	reducer := func(state any, action collab.Action) any { return state }
	filter := func(ctx context.Context, fc collab.FilterContext, action collab.Action) (collab.Verdict, error) {
		return collab.AcceptAction(action), nil
	}

	reg = registry.New(hydrate, reducer, filter, testGenService(t), nil)
	handler := NewHandler(reg, nilIdentity{}, 16)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", reg
}

func TestConnectReceivesConnectedMessage(t *testing.T) {
	hydrate := func(ctx context.Context, key string, identity any) (any, error) {
		return map[string]any{"count": 0}, nil
	}
	url, _ := startTestServer(t, hydrate)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?key=room/a", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "connect", "lastSeen": ""}); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != "connected" {
		t.Fatalf("expected connected, got %v", msg)
	}
}

func TestInvalidStoreClosesSocket(t *testing.T) {
	hydrate := func(ctx context.Context, key string, identity any) (any, error) {
		return nil, nil
	}
	url, _ := startTestServer(t, hydrate)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?key=ghost/room", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != "invalidStore" {
		t.Fatalf("expected invalidStore, got %v", msg)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the socket to be closed after invalidStore")
	}
}

func TestMissingKeyRejectsUpgrade(t *testing.T) {
	url, _ := startTestServer(t, func(ctx context.Context, key string, identity any) (any, error) {
		return map[string]any{}, nil
	})

	_, resp, err := websocket.DefaultDialer.Dial(strings.Replace(url, "?key=room/a", "", 1), nil)
	if err == nil {
		t.Fatalf("expected upgrade to fail without a key query parameter")
	}
	if resp != nil && resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// TestHydrateContextOutlivesRequest guards against tying the attach
// goroutine's context to the request context: net/http cancels that
// context as soon as ServeHTTP returns, which happens right after the
// upgrade completes, so a hydrate call relying on it would very likely
// observe ctx.Err() != nil before it finishes.
func TestHydrateContextOutlivesRequest(t *testing.T) {
	ctxErrCh := make(chan error, 1)
	hydrate := func(ctx context.Context, key string, identity any) (any, error) {
		time.Sleep(200 * time.Millisecond)
		ctxErrCh <- ctx.Err()
		return map[string]any{"count": 0}, nil
	}
	url, _ := startTestServer(t, hydrate)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?key=room/outlives", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case ctxErr := <-ctxErrCh:
		if ctxErr != nil {
			t.Fatalf("hydrate observed a canceled context: %v", ctxErr)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for hydrate to run")
	}
}

func TestActionRoundTripsAckAndFanout(t *testing.T) {
	hydrate := func(ctx context.Context, key string, identity any) (any, error) {
		return map[string]any{"count": 0}, nil
	}
	url, _ := startTestServer(t, hydrate)

	connA, _, err := websocket.DefaultDialer.Dial(url+"?key=room/fanout", nil)
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer connA.Close()
	connB, _, err := websocket.DefaultDialer.Dial(url+"?key=room/fanout", nil)
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer connB.Close()

	for _, c := range []*websocket.Conn{connA, connB} {
		c.WriteJSON(map[string]any{"type": "connect", "lastSeen": ""})
		c.SetReadDeadline(time.Now().Add(3 * time.Second))
		var connected map[string]any
		if err := c.ReadJSON(&connected); err != nil {
			t.Fatalf("read connected: %v", err)
		}
	}

	connA.WriteJSON(map[string]any{
		"type":       "action",
		"actionId":   "018f0000-0000-7000-8000-000000000001",
		"actionData": map[string]any{"type": "inc"},
	})

	connA.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ack map[string]any
	if err := connA.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack on A: %v", err)
	}

	connB.SetReadDeadline(time.Now().Add(3 * time.Second))
	var fanout map[string]any
	if err := connB.ReadJSON(&fanout); err != nil {
		t.Fatalf("read fan-out on B: %v", err)
	}
	if fanout["type"] != "action" {
		t.Fatalf("expected fan-out action on B, got %v", fanout)
	}
}
