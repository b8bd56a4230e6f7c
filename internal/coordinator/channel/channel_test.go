package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// testPeer is one attached connection with its client side.
type testPeer struct {
	conn   *Conn
	client *websocket.Conn
}

func (p *testPeer) read(t *testing.T) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg map[string]interface{}
	if err := wsjson.Read(ctx, p.client, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func newTestChannel(t *testing.T) (*Channel, func(role Role) *testPeer) {
	t.Helper()
	logger := zerolog.Nop()
	ch := New(&logger)

	attached := make(chan *Conn, 1)
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		attached <- ch.Attach(ws, ParseRole(r.URL.Query().Get("role")))
		<-done
	}))
	t.Cleanup(func() {
		close(done)
		srv.Close()
	})

	dial := func(role Role) *testPeer {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		url := strings.Replace(srv.URL, "http", "ws", 1) + "?role=" + string(role)
		client, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })
		return &testPeer{conn: <-attached, client: client}
	}
	return ch, dial
}

func TestBroadcastReachesEveryRole(t *testing.T) {
	ch, dial := newTestChannel(t)
	caster := dial(RoleCaster)
	viewer := dial(RoleViewer)

	ch.Broadcast(context.Background(), NewTrackAdded("t1"))

	for _, p := range []*testPeer{caster, viewer} {
		msg := p.read(t)
		if msg["type"] != TypeTrackAdded || msg["trackName"] != "t1" {
			t.Fatalf("unexpected event: %v", msg)
		}
	}
}

func TestBroadcastOrder(t *testing.T) {
	ch, dial := newTestChannel(t)
	viewer := dial(RoleViewer)

	names := []string{"a", "b", "c", "d"}
	for _, name := range names {
		ch.Broadcast(context.Background(), NewTrackAdded(name))
	}
	for _, want := range names {
		msg := viewer.read(t)
		if msg["trackName"] != want {
			t.Fatalf("got event for %v, want %q", msg["trackName"], want)
		}
	}
}

func TestRelaySkipsSender(t *testing.T) {
	ch, dial := newTestChannel(t)
	sender := dial(RoleViewer)
	receiver := dial(RoleViewer)

	payload := json.RawMessage(`{"type":"signal","sdp":"abc"}`)
	ch.Relay(context.Background(), sender.conn, payload)

	msg := receiver.read(t)
	if msg["type"] != TypeSignal || msg["sdp"] != "abc" {
		t.Fatalf("unexpected relayed message: %v", msg)
	}

	// The sender must not receive its own signal. A follow-up broadcast
	// arriving first proves nothing was queued before it.
	ch.Broadcast(context.Background(), NewTrackRemoved("marker"))
	msg = sender.read(t)
	if msg["type"] != TypeTrackRemoved {
		t.Fatalf("sender received %v, want only the marker broadcast", msg)
	}
}

func TestDetachPrunesConnection(t *testing.T) {
	ch, dial := newTestChannel(t)
	peer := dial(RoleViewer)
	if ch.Len() != 1 {
		t.Fatalf("len = %d, want 1", ch.Len())
	}

	ch.Detach(peer.conn)
	if ch.Len() != 0 {
		t.Fatalf("len = %d, want 0", ch.Len())
	}
	// Detach is idempotent.
	ch.Detach(peer.conn)
}

func TestBroadcastDropsClosedConnection(t *testing.T) {
	ch, dial := newTestChannel(t)
	peer := dial(RoleViewer)
	live := dial(RoleViewer)

	peer.client.Close(websocket.StatusNormalClosure, "")
	// Give the close handshake a moment to reach the server side.
	time.Sleep(100 * time.Millisecond)

	ch.Broadcast(context.Background(), NewTrackAdded("t1"))
	msg := live.read(t)
	if msg["trackName"] != "t1" {
		t.Fatalf("live connection missed broadcast: %v", msg)
	}
}
