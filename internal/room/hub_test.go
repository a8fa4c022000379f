package room

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		roomName := parts[len(parts)-1]
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(conn, roomName, "user-"+roomName, "Tester")
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialRoom(t *testing.T, srv *httptest.Server, roomName string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/" + roomName
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", roomName, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// expectNoFrame asserts nothing arrives within a short window. The read
// timeout leaves the connection unusable, so this must be the last read
// on conn.
func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var f Frame
	if err := conn.ReadJSON(&f); err == nil {
		t.Fatalf("expected no frame, got %+v", f)
	}
}

func readWelcome(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != FrameWelcome {
		t.Fatalf("first frame = %q, want welcome", f.Type)
	}
	if f.ClientID == "" {
		t.Fatal("welcome frame missing client id")
	}
	return f
}

func TestWelcomeFrameOnJoin(t *testing.T) {
	_, srv := startTestServer(t)
	conn := dialRoom(t, srv, "doc-w1")
	welcome := readWelcome(t, conn)
	if welcome.Room != "doc-w1" {
		t.Fatalf("welcome.Room = %q, want doc-w1", welcome.Room)
	}
	if len(welcome.State) != 0 {
		t.Fatalf("fresh room should have empty state, got %v", welcome.State)
	}
}

func TestStateFanOutExcludesSender(t *testing.T) {
	_, srv := startTestServer(t)
	sender := dialRoom(t, srv, "doc-f1")
	readWelcome(t, sender)
	peer := dialRoom(t, srv, "doc-f1")
	readWelcome(t, peer)

	write := Frame{Type: FrameState, Key: "canvas", Value: json.RawMessage(`{"title":"x"}`), UpdatedAt: 100}
	if err := sender.WriteJSON(write); err != nil {
		t.Fatalf("write state: %v", err)
	}

	got := readFrame(t, peer)
	if got.Type != FrameState || got.Key != "canvas" || got.UpdatedAt != 100 {
		t.Fatalf("peer got %+v", got)
	}
	if got.Origin == "" {
		t.Fatal("broadcast frame should carry the origin client id")
	}
	// The write must not echo back to its sender.
	expectNoFrame(t, sender)
}

func TestStaleWriteIsDropped(t *testing.T) {
	_, srv := startTestServer(t)
	a := dialRoom(t, srv, "doc-lww")
	readWelcome(t, a)
	b := dialRoom(t, srv, "doc-lww")
	readWelcome(t, b)

	a.WriteJSON(Frame{Type: FrameState, Key: "canvas", Value: json.RawMessage(`"new"`), UpdatedAt: 200})
	if got := readFrame(t, b); got.UpdatedAt != 200 {
		t.Fatalf("expected UpdatedAt 200, got %d", got.UpdatedAt)
	}

	// An older write loses last-writer-wins and is not propagated. The
	// room handles b's writes in order, so if the stale one had been
	// broadcast, a would read it before the fresher one.
	b.WriteJSON(Frame{Type: FrameState, Key: "canvas", Value: json.RawMessage(`"stale"`), UpdatedAt: 100})
	b.WriteJSON(Frame{Type: FrameState, Key: "canvas", Value: json.RawMessage(`"newest"`), UpdatedAt: 300})
	if got := readFrame(t, a); got.UpdatedAt != 300 {
		t.Fatalf("expected UpdatedAt 300, got %d", got.UpdatedAt)
	}
}

func TestLateJoinerReceivesStateSnapshot(t *testing.T) {
	_, srv := startTestServer(t)
	writer := dialRoom(t, srv, "doc-late")
	readWelcome(t, writer)
	witness := dialRoom(t, srv, "doc-late")
	readWelcome(t, witness)

	writer.WriteJSON(Frame{Type: FrameState, Key: "canvas", Value: json.RawMessage(`{"v":1}`), UpdatedAt: 42})
	// Once the witness sees the broadcast the room has applied the write.
	readFrame(t, witness)

	late := dialRoom(t, srv, "doc-late")
	welcome := readWelcome(t, late)
	entry, ok := welcome.State["canvas"]
	if !ok {
		t.Fatalf("late joiner welcome missing canvas state: %+v", welcome)
	}
	if entry.UpdatedAt != 42 {
		t.Fatalf("entry.UpdatedAt = %d, want 42", entry.UpdatedAt)
	}
}

func TestAwarenessFanOutAndDisconnectClear(t *testing.T) {
	_, srv := startTestServer(t)
	a := dialRoom(t, srv, "doc-aw")
	readWelcome(t, a)
	b := dialRoom(t, srv, "doc-aw")
	readWelcome(t, b)

	a.WriteJSON(Frame{Type: FrameAwareness, AwarenessState: json.RawMessage(`{"userId":"u1"}`)})
	got := readFrame(t, b)
	if got.Type != FrameAwareness || got.AwarenessState == nil {
		t.Fatalf("peer got %+v", got)
	}
	aID := got.ClientID

	// No explicit leave: closing the connection must clear the peer.
	a.Close()
	got = readFrame(t, b)
	if got.Type != FrameAwareness || got.ClientID != aID {
		t.Fatalf("expected awareness clear for %s, got %+v", aID, got)
	}
	if got.AwarenessState != nil {
		t.Fatalf("expected null awareness state, got %s", got.AwarenessState)
	}
}

func TestRoomIsRemovedWhenEmpty(t *testing.T) {
	hub, srv := startTestServer(t)
	conn := dialRoom(t, srv, "doc-gone")
	readWelcome(t, conn)
	if hub.ActiveRooms() != 1 {
		t.Fatalf("ActiveRooms() = %d, want 1", hub.ActiveRooms())
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ActiveRooms() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("room not removed, ActiveRooms() = %d", hub.ActiveRooms())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
