package broker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeConn records everything written to it.
type fakeConn struct {
	mu       sync.Mutex
	messages []string
	pings    int
	controls []int
	closed   bool
	writeErr error

	received chan string
}

func newFakeConn() *fakeConn {
	return &fakeConn{received: make(chan string, 256)}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("use of closed connection")
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	switch messageType {
	case websocket.TextMessage:
		c.messages = append(c.messages, string(data))
		c.received <- string(data)
	case websocket.PingMessage:
		c.pings++
	}
	return nil
}

func (c *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, messageType)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// blockingConn blocks every write until it is closed.
type blockingConn struct {
	fakeConn
	started   chan struct{}
	startOnce sync.Once
	release   chan struct{}
	closeOnce sync.Once
}

func newBlockingConn() *blockingConn {
	return &blockingConn{
		fakeConn: fakeConn{received: make(chan string, 256)},
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (c *blockingConn) WriteMessage(int, []byte) error {
	c.startOnce.Do(func() { close(c.started) })
	<-c.release
	return errors.New("use of closed connection")
}

func (c *blockingConn) Close() error {
	c.closeOnce.Do(func() { close(c.release) })
	return c.fakeConn.Close()
}

func expectMessage(t *testing.T, c *fakeConn, want string) {
	t.Helper()
	select {
	case got := <-c.received:
		if got != want {
			t.Fatalf("message = %s, want %s", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func expectNoMessage(t *testing.T, c *fakeConn) {
	t.Helper()
	select {
	case got := <-c.received:
		t.Fatalf("unexpected message %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitClosed(t *testing.T, s *Subscriber) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("subscriber was not closed")
	}
}
