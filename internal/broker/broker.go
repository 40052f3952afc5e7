// Package broker fans domain events out to live subscribers.
// It is used by the poll service after every committed mutation and by the
// WebSocket handler to register connections.
package broker

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/quickpoll/backend/internal/metrics"
)

// Report summarizes one Publish call.
type Report struct {
	Attempted int
	Delivered int
	Dropped   int
}

// Broker delivers events to every registered subscriber. A failed delivery
// drops that subscriber and never affects the others or the publisher.
// Publishes are serialized so every subscriber sees events in the same order.
type Broker struct {
	registry *Registry
	metrics  *metrics.Metrics
	mu       sync.Mutex
}

// New creates a Broker with an empty registry. A nil m records to an
// unexported registry.
func New(m *metrics.Metrics) *Broker {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Broker{
		registry: NewRegistry(),
		metrics:  m,
	}
}

// Register adds s to the broadcast set.
func (b *Broker) Register(s *Subscriber) bool {
	added := b.registry.Register(s)
	if added {
		b.metrics.ActiveSubscribers.Inc()
		slog.Debug("live subscriber registered",
			slog.String("subscriber_id", s.ID().String()),
			slog.Int("subscribers", b.registry.Len()),
		)
	}
	return added
}

// Unregister removes s from the broadcast set. It does not close s.
// Unregistering an absent subscriber is a no-op.
func (b *Broker) Unregister(s *Subscriber) bool {
	removed := b.registry.Unregister(s)
	if removed {
		b.metrics.ActiveSubscribers.Dec()
		slog.Debug("live subscriber unregistered",
			slog.String("subscriber_id", s.ID().String()),
			slog.Int("subscribers", b.registry.Len()),
		)
	}
	return removed
}

// Count returns the number of registered subscribers.
func (b *Broker) Count() int {
	return b.registry.Len()
}

// Publish encodes event once and queues it on every subscriber registered at
// the time of the call. It never blocks on network I/O.
func (b *Broker) Publish(event Event) Report {
	data, err := Encode(event)
	if err != nil {
		slog.Error("failed to encode live event",
			slog.String("type", event.EventType()),
			slog.Any("error", err),
		)
		return Report{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.registry.Snapshot()
	report := Report{Attempted: len(subs)}
	for _, s := range subs {
		if err := s.Deliver(data); err != nil {
			b.drop(s, err)
			report.Dropped++
			continue
		}
		report.Delivered++
	}

	b.metrics.EventsPublished.WithLabelValues(event.EventType()).Inc()
	return report
}

func (b *Broker) drop(s *Subscriber, err error) {
	reason := metrics.ReasonClosed
	if errors.Is(err, ErrSubscriberSlow) {
		reason = metrics.ReasonSlow
	}
	b.metrics.DeliveryFailures.WithLabelValues(reason).Inc()

	slog.Debug("dropping live subscriber",
		slog.String("subscriber_id", s.ID().String()),
		slog.String("reason", reason),
	)

	b.Unregister(s)
	s.Close()
}

// Shutdown sends a going-away close frame to every subscriber and empties
// the registry.
func (b *Broker) Shutdown() {
	subs := b.registry.drain()
	b.metrics.ActiveSubscribers.Sub(float64(len(subs)))

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *Subscriber) {
			defer wg.Done()
			s.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		}(s)
	}
	wg.Wait()

	slog.Info("live broker shut down", slog.Int("closed_subscribers", len(subs)))
}
