package handlers_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quickpoll/backend/internal/broker"
	"github.com/quickpoll/backend/internal/config"
)

func startLiveServer(t *testing.T, cfg *config.Config) (*httptest.Server, *broker.Broker) {
	t.Helper()
	app := newTestApp(t, cfg)
	srv := httptest.NewServer(app.handler)
	t.Cleanup(srv.Close)
	return srv, app.broker
}

func dialLive(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, b *broker.Broker, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", b.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if messageType != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", messageType)
	}
	return string(data)
}

func post(t *testing.T, srv *httptest.Server, path, body string) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s status = %d, want %d", path, resp.StatusCode, http.StatusOK)
	}
}

func TestLive_HeartbeatGetsPong(t *testing.T) {
	srv, _ := startLiveServer(t, testConfig())
	conn := dialLive(t, srv, nil)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	if got := readText(t, conn); got != `{"type":"pong"}` {
		t.Errorf("reply = %s, want pong", got)
	}
}

func TestLive_BinaryFramesIgnored(t *testing.T) {
	srv, _ := startLiveServer(t, testConfig())
	conn := dialLive(t, srv, nil)

	conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
	conn.WriteMessage(websocket.TextMessage, []byte("anything"))

	if got := readText(t, conn); got != `{"type":"pong"}` {
		t.Fatalf("reply = %s, want pong", got)
	}

	// Only the text frame is answered.
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected message %s", data)
	}
}

func TestLive_BroadcastsMutations(t *testing.T) {
	srv, b := startLiveServer(t, testConfig())
	first := dialLive(t, srv, nil)
	second := dialLive(t, srv, nil)
	waitForSubscribers(t, b, 2)

	post(t, srv, "/api/polls", `{"question":"What's for lunch?","options":["Pizza","Salad"]}`)
	post(t, srv, "/api/polls/1/vote", `{"option_id":1}`)
	post(t, srv, "/api/polls/1/like", ``)

	want := []string{
		`{"type":"new_poll","poll_id":1}`,
		`{"type":"vote_update","poll_id":1,"option_id":1,"new_votes":1}`,
		`{"type":"like_update","poll_id":1,"new_likes":1}`,
	}
	for _, conn := range []*websocket.Conn{first, second} {
		for _, w := range want {
			if got := readText(t, conn); got != w {
				t.Errorf("message = %s, want %s", got, w)
			}
		}
	}
}

func TestLive_FailedMutationBroadcastsNothing(t *testing.T) {
	srv, b := startLiveServer(t, testConfig())
	conn := dialLive(t, srv, nil)
	waitForSubscribers(t, b, 1)

	resp, err := http.Post(srv.URL+"/api/polls/999/vote", "application/json", strings.NewReader(`{"option_id":1}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected message %s", data)
	}
}

func TestLive_DisconnectUnregisters(t *testing.T) {
	srv, b := startLiveServer(t, testConfig())
	conn := dialLive(t, srv, nil)
	waitForSubscribers(t, b, 1)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitForSubscribers(t, b, 0)

	// Broadcasting with nobody listening is still fine.
	post(t, srv, "/api/polls", `{"question":"Anyone?","options":[]}`)
}

func TestLive_SilentClientTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.Live.HeartbeatTimeout = 100 * time.Millisecond
	srv, b := startLiveServer(t, cfg)
	conn := dialLive(t, srv, nil)
	waitForSubscribers(t, b, 1)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the server to close a silent connection")
	}
	waitForSubscribers(t, b, 0)
}

func TestLive_HeartbeatsKeepConnectionOpen(t *testing.T) {
	cfg := testConfig()
	cfg.Live.HeartbeatTimeout = 150 * time.Millisecond
	srv, b := startLiveServer(t, cfg)
	conn := dialLive(t, srv, nil)

	for i := 0; i < 4; i++ {
		time.Sleep(75 * time.Millisecond)
		if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		if got := readText(t, conn); got != `{"type":"pong"}` {
			t.Fatalf("reply = %s, want pong", got)
		}
	}
	if b.Count() != 1 {
		t.Errorf("subscribers = %d, want 1", b.Count())
	}
}

func TestLive_OversizedFrameClosesConnection(t *testing.T) {
	srv, b := startLiveServer(t, testConfig())
	conn := dialLive(t, srv, nil)
	waitForSubscribers(t, b, 1)

	conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 8<<10)))

	waitForSubscribers(t, b, 0)
}

func TestLive_OriginCheck(t *testing.T) {
	cfg := testConfig()
	cfg.CORSAllowedOrigins = []string{"https://polls.example"}
	srv, _ := startLiveServer(t, cfg)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("Dial() error = %v, want ErrBadHandshake", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}

	conn := dialLive(t, srv, http.Header{"Origin": {"https://polls.example"}})
	conn.WriteMessage(websocket.TextMessage, []byte("ping"))
	if got := readText(t, conn); got != `{"type":"pong"}` {
		t.Errorf("reply = %s, want pong", got)
	}
}

func TestLive_ShutdownSendsGoingAway(t *testing.T) {
	srv, b := startLiveServer(t, testConfig())
	conn := dialLive(t, srv, nil)
	waitForSubscribers(t, b, 1)

	b.Shutdown()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want going-away close", err)
	}
}

func TestHealthCountsLiveSubscribers(t *testing.T) {
	srv, b := startLiveServer(t, testConfig())
	dialLive(t, srv, nil)
	dialLive(t, srv, nil)
	waitForSubscribers(t, b, 2)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Subscribers int `json:"subscribers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body.Subscribers != 2 {
		t.Errorf("subscribers = %d, want 2", body.Subscribers)
	}
}
