package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestEncodeWireFormat(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"poll created", PollCreated{PollID: 3, Question: "What's for lunch?"}, `{"type":"new_poll","poll_id":3}`},
		{"vote cast", VoteCast{PollID: 1, OptionID: 2, NewVotes: 5}, `{"type":"vote_update","poll_id":1,"option_id":2,"new_votes":5}`},
		{"poll liked", PollLiked{PollID: 4, NewLikes: 9}, `{"type":"like_update","poll_id":4,"new_likes":9}`},
		{"pong", Pong{}, `{"type":"pong"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.event)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Encode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeliverAfterClose(t *testing.T) {
	s := NewSubscriber(newFakeConn(), SubscriberOptions{})
	s.Close()
	s.Close() // idempotent

	if err := s.Deliver([]byte("x")); !errors.Is(err, ErrSubscriberClosed) {
		t.Errorf("Deliver() error = %v, want ErrSubscriberClosed", err)
	}
}

func TestDeliverPreservesOrder(t *testing.T) {
	conn := newFakeConn()
	s := NewSubscriber(conn, SubscriberOptions{})
	defer s.Close()

	for _, msg := range []string{"a", "b", "c"} {
		if err := s.Deliver([]byte(msg)); err != nil {
			t.Fatalf("Deliver(%s) error = %v", msg, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		expectMessage(t, conn, want)
	}
}

func TestWriteFailureClosesSubscriber(t *testing.T) {
	conn := newFakeConn()
	conn.writeErr = errors.New("connection reset")
	s := NewSubscriber(conn, SubscriberOptions{})

	if err := s.Deliver(PongMessage()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	waitClosed(t, s)
	if !conn.isClosed() {
		t.Error("connection should be closed after write failure")
	}
}

func TestPingsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn()
	s := NewSubscriber(conn, SubscriberOptions{PingInterval: 25 * time.Second, Clock: clock})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker never started: %v", err)
	}

	clock.Advance(25 * time.Second)

	deadline := time.Now().Add(time.Second)
	for conn.pingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected a ping after the interval elapsed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNoPingsWhenDisabled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn()
	s := NewSubscriber(conn, SubscriberOptions{Clock: clock})
	defer s.Close()

	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)

	if conn.pingCount() != 0 {
		t.Errorf("pings = %d, want 0", conn.pingCount())
	}
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	a := NewSubscriber(newFakeConn(), SubscriberOptions{})
	b := NewSubscriber(newFakeConn(), SubscriberOptions{})
	defer a.Close()
	defer b.Close()

	r.Register(a)
	snap := r.Snapshot()
	r.Register(b)
	r.Unregister(a)

	if len(snap) != 1 || snap[0] != a {
		t.Errorf("snapshot changed after registry mutation: %v", snap)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}
