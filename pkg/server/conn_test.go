package server

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"wavelink/pkg/protocol"
)

// fakeConn is an in-memory Conn. Inbound frames are pushed with push;
// everything the server writes is captured for inspection.
type fakeConn struct {
	in chan []byte

	mu        sync.Mutex
	out       [][]byte
	closed    bool
	closeCode websocket.StatusCode
	pingErr   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16)}
}

func (c *fakeConn) push(data string) {
	c.in <- []byte(data)
}

func (c *fakeConn) hangup() {
	close(c.in)
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.MessageText, data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.out = append(c.out, buf)
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) Close(code websocket.StatusCode, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeCode = code
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) closeStatus() websocket.StatusCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// written decodes every captured outbound frame.
func (c *fakeConn) written(t *testing.T) []protocol.ServerMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]protocol.ServerMessage, 0, len(c.out))
	for _, data := range c.out {
		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			t.Fatalf("parse captured frame %s: %v", data, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
