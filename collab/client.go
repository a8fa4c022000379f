// Package collab is the client side of canvas live sync. A Client owns one
// replicated canvas snapshot and one websocket connection scoped to a room,
// relays document updates with last-writer-wins reconciliation, and shares
// ephemeral presence with peers over the same connection.
//
// Collaboration is strictly additive: a client built without a sync
// endpoint or identity reports itself disabled and the canvas stays fully
// editable locally.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"canvaslive/internal/room"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// CanvasKey is the replicated key holding the whole canvas snapshot.
const CanvasKey = "canvas"

// cursorInterval is the minimum spacing between outbound cursor frames.
// Calls inside the window are dropped, never queued.
const cursorInterval = 50 * time.Millisecond

var (
	ErrDisabled  = errors.New("collaboration disabled")
	ErrClosed    = errors.New("client torn down")
	ErrNotJoined = errors.New("not joined")
	ErrJoined    = errors.New("already joined")
)

type Config struct {
	// Endpoint is the sync server base URL (http://, https://, ws:// or
	// wss://). Empty means collaboration is not configured.
	Endpoint    string
	DocumentID  string
	UserID      string
	DisplayName string
	// Token is the canvas-scoped join token from POST /api/collab/token.
	Token string

	// OnPeersChanged fires with the full recomputed peer set on every
	// awareness change. Callbacks run on the connection's read goroutine.
	OnPeersChanged func([]PresenceState)

	// Dialer overrides the websocket dialer, for tests.
	Dialer *websocket.Dialer
}

// Snapshot is a whole-canvas value plus the timestamp used purely for
// reconciliation priority.
type Snapshot struct {
	Data      json.RawMessage
	UpdatedAt time.Time
}

// Client is the per-view connection manager. One Client maps to exactly
// one replicated document handle and one transport connection; a torn-down
// Client is terminal and a re-mounted view must create a fresh one.
type Client struct {
	cfg     Config
	enabled bool

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	joined    bool
	connected bool
	closed    bool
	clientID  string

	state     *room.StateMap
	bound     bool
	cancelObs func()

	presence    PresenceState
	cursorLimit *rate.Limiter
	peers       map[string]PresenceState
}

// New builds a client. If the endpoint or the required identifiers are
// missing the client is permanently disabled rather than an error: the
// feature must never block core editing.
func New(cfg Config) *Client {
	c := &Client{
		cfg:         cfg,
		enabled:     cfg.Endpoint != "" && cfg.DocumentID != "" && cfg.UserID != "",
		state:       room.NewStateMap(),
		cursorLimit: rate.NewLimiter(rate.Every(cursorInterval), 1),
		peers:       make(map[string]PresenceState),
	}
	return c
}

// Enabled reports whether collaboration is configured for this client.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Connected reports live transport state. Callers treat it as advisory;
// false never blocks editing.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ClientID is the per-activation connection id assigned by the server. It
// distinguishes two simultaneous sessions of the same user.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Join dials the room derived from the configured canvas id, presents the
// token for handshake verification, and starts processing frames. It
// returns once the server's welcome frame has been applied.
func (c *Client) Join(ctx context.Context) error {
	if !c.enabled {
		return ErrDisabled
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.joined {
		c.mu.Unlock()
		return ErrJoined
	}
	c.joined = true
	c.mu.Unlock()

	dialer := c.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)

	conn, resp, err := dialer.DialContext(ctx, c.roomURL(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		// Surfaces as "not connected" only; verification detail stays
		// server-side.
		return fmt.Errorf("join room: %w", err)
	}

	var welcome room.Frame
	if err := conn.ReadJSON(&welcome); err != nil || welcome.Type != room.FrameWelcome {
		conn.Close()
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("unexpected first frame %q", welcome.Type)
		}
		return fmt.Errorf("join room: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		// Torn down while the handshake was in flight; discard it.
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.connected = true
	c.clientID = welcome.ClientID
	for key, e := range welcome.State {
		c.state.Set(key, e)
	}
	for id, raw := range welcome.Awareness {
		if p, ok := decodePresence(raw); ok {
			c.peers[id] = p
		}
	}
	c.initPresenceLocked()
	peers := c.peerListLocked()
	c.mu.Unlock()

	c.notifyPeers(peers)
	c.sendPresence()

	go c.readLoop(conn)
	return nil
}

// Leave tears the client down: the connection and the replicated handle
// are released, every observer is deregistered, and anything that resolves
// afterwards is discarded. Leave is idempotent and the client is terminal
// after the first call.
func (c *Client) Leave() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	cancel := c.cancelObs
	c.cancelObs = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
}

func (c *Client) roomURL() string {
	base := strings.TrimSuffix(c.cfg.Endpoint, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/rooms/" + room.Name(c.cfg.DocumentID)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		var f room.Frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("collab: connection lost: %v", err)
			}
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		switch f.Type {
		case room.FrameState:
			// Peer write; the local replica's observer delivers it.
			c.state.Set(f.Key, room.Entry{Value: f.Value, UpdatedAt: f.UpdatedAt, Origin: f.Origin})
		case room.FrameAwareness:
			c.applyAwareness(f)
		}
	}
}

func (c *Client) applyAwareness(f room.Frame) {
	c.mu.Lock()
	if f.AwarenessState == nil {
		delete(c.peers, f.ClientID)
	} else if p, ok := decodePresence(f.AwarenessState); ok {
		c.peers[f.ClientID] = p
	}
	peers := c.peerListLocked()
	c.mu.Unlock()
	c.notifyPeers(peers)
}

func (c *Client) notifyPeers(peers []PresenceState) {
	if c.cfg.OnPeersChanged != nil {
		c.cfg.OnPeersChanged(peers)
	}
}

// send marshals f and writes it on the connection. Writes are serialized;
// locally issued frames reach the server in issuance order.
func (c *Client) send(f room.Frame) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotJoined
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}
