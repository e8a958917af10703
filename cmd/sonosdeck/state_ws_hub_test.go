package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Hub tests use Clients with a nil websocket.Conn; the hub guards against nil
// when it disconnects someone.

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(quietLogger(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func runHub(t *testing.T, hub *Hub) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(cancel)
	return cancel, done
}

func registerClient(t *testing.T, hub *Hub, name string, buf int) *Client {
	t.Helper()
	c := NewClient(hub, nil, name, quietLogger())
	c.send = make(chan []byte, buf)
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, name+" not registered in time")
	return c
}

func recvFrame(t *testing.T, c *Client, timeout time.Duration) []byte {
	t.Helper()
	select {
	case got, ok := <-c.send:
		if !ok {
			t.Fatalf("%s: send channel closed", c.remoteAddr)
		}
		return got
	case <-time.After(timeout):
		t.Fatalf("%s: timeout waiting for frame", c.remoteAddr)
		return nil
	}
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	cancel, done := runHub(t, hub)

	c1 := registerClient(t, hub, "c1", 4)
	c2 := registerClient(t, hub, "c2", 4)

	msg := []byte(`{"type":"state_changed","data":{"volume":53}}`)
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		if got := recvFrame(t, c, 500*time.Millisecond); string(got) != string(msg) {
			t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}
	if hub.clientCount() != 0 {
		t.Fatalf("expected all clients dropped on shutdown, got %d", hub.clientCount())
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	hub := newTestHub(t, 1, 8)
	runHub(t, hub)

	slow := registerClient(t, hub, "slow", 1)
	fast := registerClient(t, hub, "fast", 8)

	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"command_failed"}`)
	hub.broadcast <- msg

	if got := recvFrame(t, fast, 500*time.Millisecond); string(got) != string(msg) {
		t.Fatalf("fast client got %q, want %q", got, msg)
	}

	// Drain the pre-filled frame, then the channel must be closed.
	select {
	case <-slow.send:
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	if hub.clientCount() != 1 {
		t.Fatalf("expected 1 remaining client, got %d", hub.clientCount())
	}
}

func TestRunBroadcaster_CoalescesStateChanges(t *testing.T) {
	hub := newTestHub(t, 16, 16)
	runHub(t, hub)
	c := registerClient(t, hub, "watcher", 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := make(chan StateBroadcast, 8)
	go RunBroadcaster(ctx, hub, src, quietLogger())

	for v := 50; v <= 55; v++ {
		src <- BroadcastStateChanged{Snapshot: StateSnapshot{Volume: v, VolumeKnown: true}}
	}

	var frame struct {
		Type string        `json:"type"`
		Data StateSnapshot `json:"data"`
	}
	if err := json.Unmarshal(recvFrame(t, c, time.Second), &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Type != "state_changed" || frame.Data.Volume != 55 {
		t.Fatalf("expected latest state_changed (volume 55), got %+v", frame)
	}

	// Nothing else is pending.
	select {
	case extra := <-c.send:
		t.Fatalf("expected a single coalesced frame, also got %s", extra)
	case <-time.After(3 * stateCoalesceWindow):
	}

	src <- BroadcastCommandFailed{Command: "SetVolume(56)", Error: "remote unavailable"}
	got := recvFrame(t, c, time.Second)
	if !strings.Contains(string(got), `"type":"command_failed"`) || !strings.Contains(string(got), "SetVolume(56)") {
		t.Fatalf("unexpected command_failed frame %s", got)
	}
}

func TestStatusServer_SendsStateInit(t *testing.T) {
	events := make(chan Event, 1)
	s := NewStatusServer(quietLogger(), events, HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub().Run(ctx)

	// Stand in for the loop.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if req, ok := ev.(RequestStateSnapshot); ok {
					req.Reply <- StateSnapshot{Title: "Song", Status: "playing"}
				}
			}
		}
	}()

	mux := http.NewServeMux()
	s.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type string        `json:"type"`
		Ts   *time.Time    `json:"ts"`
		Data StateSnapshot `json:"data"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Type != "state_init" || frame.Data.Title != "Song" || frame.Ts == nil {
		t.Fatalf("unexpected first frame %+v", frame)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
