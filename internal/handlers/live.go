package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/quickpoll/backend/internal/broker"
	"github.com/quickpoll/backend/internal/config"
	"github.com/quickpoll/backend/internal/logging"
)

// maxInboundFrame bounds client frames. Clients only send heartbeats.
const maxInboundFrame = 4 << 10

// LiveHandler upgrades requests to WebSocket connections and keeps them
// registered with the broker until the client goes away.
type LiveHandler struct {
	broker   *broker.Broker
	cfg      config.LiveConfig
	clock    clockwork.Clock
	upgrader websocket.Upgrader
}

// NewLiveHandler creates a LiveHandler. Origins are checked against the CORS
// allow list; a wildcard entry accepts any origin.
func NewLiveHandler(b *broker.Broker, cfg *config.Config, clock clockwork.Clock) *LiveHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	allowAll := cfg.AllowsAnyOrigin()
	allowed := make(map[string]bool, len(cfg.CORSAllowedOrigins))
	for _, origin := range cfg.CORSAllowedOrigins {
		allowed[origin] = true
	}

	h := &LiveHandler{
		broker: b,
		cfg:    cfg.Live,
		clock:  clock,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowAll || origin == "" || allowed[origin] {
				return true
			}
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventOriginRejected, "live connection from disallowed origin")
			return false
		},
	}
	return h
}

// Serve runs one live connection: upgrade, register, then read heartbeats
// until the connection fails or goes silent for longer than the heartbeat
// timeout. Every inbound text frame is answered with a pong message.
func (h *LiveHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		slog.DebugContext(r.Context(), "live upgrade failed", slog.Any("error", err))
		return
	}

	sub := broker.NewSubscriber(conn, broker.SubscriberOptions{
		SendBuffer:   h.cfg.SendBuffer,
		WriteTimeout: h.cfg.WriteTimeout,
		PingInterval: h.cfg.PingInterval,
		Clock:        h.clock,
	})
	ctx := logging.WithSubscriberID(r.Context(), sub.ID().String())

	h.broker.Register(sub)
	defer func() {
		h.broker.Unregister(sub)
		sub.Close()
	}()

	h.readLoop(ctx, conn, sub)
}

func (h *LiveHandler) readLoop(ctx context.Context, conn *websocket.Conn, sub *broker.Subscriber) {
	conn.SetReadLimit(maxInboundFrame)

	extend := func() {
		if h.cfg.HeartbeatTimeout > 0 {
			_ = conn.SetReadDeadline(h.clock.Now().Add(h.cfg.HeartbeatTimeout))
		}
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		messageType, _, err := conn.ReadMessage()
		if err != nil {
			h.logReadError(ctx, err)
			return
		}
		extend()

		if messageType != websocket.TextMessage {
			continue
		}
		if err := sub.Deliver(broker.PongMessage()); err != nil {
			slog.DebugContext(ctx, "live pong not queued", append(logging.RequestFields(ctx), slog.Any("error", err))...)
			return
		}
	}
}

func (h *LiveHandler) logReadError(ctx context.Context, err error) {
	fields := logging.RequestFields(ctx)
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logging.LogSecurityEvent(ctx, logging.SecurityEventOversizedFrame, "live frame exceeded read limit")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		slog.InfoContext(ctx, "live connection closed unexpectedly", append(fields, slog.Any("error", err))...)
	default:
		slog.DebugContext(ctx, "live connection closed", append(fields, slog.Any("error", err))...)
	}
}
