package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/whizzter/redux-multiplayer/pkg/uuid7"
)

type fakeSender struct {
	mu     sync.Mutex
	sent   []any
	closed bool
	sendErr error
}

func (f *fakeSender) Send(v any) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSender) Close() error {
	f.closed = true
	return nil
}

func TestReceiveBuffersWhileBuffering(t *testing.T) {
	sess := New(&fakeSender{}, uuid7.UUID{}, 4)

	sess.Receive([]byte(`{"type":"action"}`))
	sess.Receive([]byte(`{"type":"action"}`))

	if got := len(sess.inbox); got != 2 {
		t.Fatalf("pendingInbox length = %d, want 2", got)
	}
	if sess.Phase() != Buffering {
		t.Fatalf("phase = %v, want Buffering", sess.Phase())
	}
}

func TestAttachReplaysBufferedMessagesInOrder(t *testing.T) {
	sess := New(&fakeSender{}, uuid7.UUID{}, 4)

	sess.Receive([]byte("first"))
	sess.Receive([]byte("second"))

	var replayed [][]byte
	ok := sess.Attach("room/a", func(raw []byte) {
		replayed = append(replayed, raw)
	})
	if !ok {
		t.Fatalf("Attach returned false")
	}
	if sess.Phase() != Live {
		t.Fatalf("phase = %v, want Live", sess.Phase())
	}
	if len(replayed) != 2 || string(replayed[0]) != "first" || string(replayed[1]) != "second" {
		t.Fatalf("unexpected replay order: %v", replayed)
	}

	sess.Receive([]byte("third"))
	if len(replayed) != 3 || string(replayed[2]) != "third" {
		t.Fatalf("live dispatch did not receive post-attach message")
	}
}

func TestInboxDropsOldestWhenFull(t *testing.T) {
	sess := New(&fakeSender{}, uuid7.UUID{}, 2)

	sess.Receive([]byte("a"))
	sess.Receive([]byte("b"))
	sess.Receive([]byte("c"))

	if len(sess.inbox) != 2 {
		t.Fatalf("inbox length = %d, want 2", len(sess.inbox))
	}
	if string(sess.inbox[0]) != "b" || string(sess.inbox[1]) != "c" {
		t.Fatalf("unexpected inbox contents after overflow: %v", sess.inbox)
	}
}

func TestAttachIsNoOpOnceClosed(t *testing.T) {
	sess := New(&fakeSender{}, uuid7.UUID{}, 4)
	sess.Close()

	ok := sess.Attach("room/a", func(raw []byte) {})
	if ok {
		t.Fatalf("Attach on a closed session returned true")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fs := &fakeSender{}
	sess := New(fs, uuid7.UUID{}, 4)

	sess.Close()
	sess.Close()

	if !fs.closed {
		t.Fatalf("expected underlying sender to be closed")
	}
	if sess.Phase() != Closed {
		t.Fatalf("phase = %v, want Closed", sess.Phase())
	}
}

func TestReceiveDroppedOnceClosed(t *testing.T) {
	sess := New(&fakeSender{}, uuid7.UUID{}, 4)
	sess.Close()
	sess.Receive([]byte("ignored"))

	if len(sess.inbox) != 0 {
		t.Fatalf("expected no buffering after close")
	}
}

func TestSendLogsAndSwallowsError(t *testing.T) {
	fs := &fakeSender{sendErr: errors.New("socket gone")}
	sess := New(fs, uuid7.UUID{}, 4)

	sess.Send(map[string]any{"type": "ackAction"})
}

func TestOnCloseFiresExactlyOnce(t *testing.T) {
	sess := New(&fakeSender{}, uuid7.UUID{}, 4)

	var calls int
	sess.SetOnClose(func() { calls++ })

	sess.Close()
	sess.Close()

	if calls != 1 {
		t.Fatalf("onClose fired %d times, want 1", calls)
	}
}
