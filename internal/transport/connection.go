// Package transport adapts the core's session.Sender contract onto
// gorilla/websocket: one dedicated writer goroutine per socket owns
// every outbound frame (JSON payloads and protocol pings alike), which
// is what gorilla/websocket requires for concurrent-safe writes.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 5 * time.Second
	pongWait  = 60 * time.Second
)

// pingInterval is a var rather than a const so tests can shrink it
// instead of waiting out the real heartbeat cadence.
var pingInterval = 30 * time.Second

var (
	errWriteBufferFull  = errors.New("transport: write buffer full")
	errConnectionClosed = errors.New("transport: connection closed")
)

// Connection wraps a single upgraded socket. It implements
// session.Sender.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(conn *websocket.Conn) *Connection {
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, 100),
		closed:  make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writeLoop()
	return c
}

// writeLoop is the connection's single writer. It multiplexes queued
// outbound frames with the heartbeat ping so gorilla/websocket never
// sees two concurrent writers on the same socket.
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("transport: write failed: %v", err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			// Flush frames queued before Close (such as a final
			// invalidStore) before the deferred socket close.
			for {
				select {
				case data := <-c.writeCh:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// Send marshals v and queues it for the write loop. Best-effort: a full
// buffer or a closed connection returns an error that callers are
// expected to log and swallow, per spec.md §7.
func (c *Connection) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	select {
	case <-c.closed:
		return errConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeWait):
		return errWriteBufferFull
	case <-c.closed:
		return errConnectionClosed
	}
}

// Close stops accepting new frames and signals the write loop, which
// flushes frames already queued and then closes the underlying socket.
// Idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

// ReadMessage blocks for the next inbound frame. Only the handler's read
// pump calls this; gorilla/websocket requires a single reader too.
func (c *Connection) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}
