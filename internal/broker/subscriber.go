package broker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrSubscriberClosed is returned when delivering to a subscriber whose
	// connection has already been closed.
	ErrSubscriberClosed = errors.New("subscriber closed")
	// ErrSubscriberSlow is returned when the subscriber's send queue is full.
	ErrSubscriberSlow = errors.New("subscriber send queue full")
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
)

// Conn is the outbound half of a live connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// SubscriberOptions tunes a subscriber's writer. Zero values use defaults;
// a zero PingInterval disables protocol pings.
type SubscriberOptions struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	Clock        clockwork.Clock
}

// Subscriber is a live connection registered for broadcasts. Messages are
// queued on a buffered channel and written by a single writer goroutine, so
// each subscriber receives messages in the order they were delivered.
type Subscriber struct {
	id           uuid.UUID
	conn         Conn
	clock        clockwork.Clock
	writeTimeout time.Duration
	pingInterval time.Duration

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSubscriber wraps conn and starts its writer goroutine.
func NewSubscriber(conn Conn, opts SubscriberOptions) *Subscriber {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	s := &Subscriber{
		id:           uuid.New(),
		conn:         conn,
		clock:        opts.Clock,
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() uuid.UUID {
	return s.id
}

// Deliver queues msg for sending without blocking.
func (s *Subscriber) Deliver(msg []byte) error {
	select {
	case <-s.done:
		return ErrSubscriberClosed
	default:
	}

	select {
	case s.send <- msg:
		return nil
	default:
		return ErrSubscriberSlow
	}
}

// Done is closed once the subscriber has been closed, either explicitly or
// because a write failed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Close stops the writer and closes the connection. Safe to call repeatedly.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// CloseWithReason sends a close frame before closing the connection.
func (s *Subscriber) CloseWithReason(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		// The writer must be gone before the close frame goes out.
		s.wg.Wait()
		deadline := s.clock.Now().Add(s.writeTimeout)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = s.conn.Close()
	})
}

func (s *Subscriber) run() {
	defer s.wg.Done()

	var pings <-chan time.Time
	if s.pingInterval > 0 {
		ticker := s.clock.NewTicker(s.pingInterval)
		defer ticker.Stop()
		pings = ticker.Chan()
	}

	for {
		select {
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				s.fail(err)
				return
			}
		case <-pings:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.fail(err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Subscriber) write(messageType int, data []byte) error {
	_ = s.conn.SetWriteDeadline(s.clock.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *Subscriber) fail(err error) {
	slog.Debug("live write failed, closing subscriber",
		slog.String("subscriber_id", s.id.String()),
		slog.Any("error", err),
	)
	s.Close()
}
