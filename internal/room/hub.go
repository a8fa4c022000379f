package room

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to read the next pong before the connection is
	// considered dead and its presence entry is dropped.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second

	maxFrameSize  = 1 << 20 // whole-canvas snapshots go over the wire
	sendQueueSize = 64
)

// Hub tracks the active rooms. Rooms are created when the first connection
// joins and torn down when the last one leaves.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

// room returns the named room, creating it if needed, and reserves a join
// slot so the room cannot shut down between this call and the register.
func (h *Hub) room(name string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[name]
	if !ok {
		r = newRoom(name, h)
		h.rooms[name] = r
		go r.run()
	}
	r.pending++
	return r
}

// ActiveRooms reports how many rooms currently have connections.
func (h *Hub) ActiveRooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Serve attaches an already-verified connection to the named room and
// blocks until the connection closes. The caller must have run the
// handshake verifier before calling Serve.
func (h *Hub) Serve(conn *websocket.Conn, roomName, userID, displayName string) {
	r := h.room(roomName)
	c := &client{
		id:     uuid.NewString(),
		userID: userID,
		name:   displayName,
		room:   r,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
	r.register <- c

	go c.writePump()
	c.readPump()
}

// Room is one synchronization scope. All room state is owned by the run
// loop; clients talk to it exclusively through channels.
type Room struct {
	name  string
	hub   *Hub
	state *StateMap

	register   chan *client
	unregister chan *client
	inbound    chan inbound

	clients   map[*client]bool
	awareness map[string]json.RawMessage

	// pending counts reserved joins that have not hit the register
	// channel yet. Guarded by hub.mu.
	pending int
}

type inbound struct {
	from  *client
	frame Frame
}

func newRoom(name string, hub *Hub) *Room {
	return &Room{
		name:       name,
		hub:        hub,
		state:      NewStateMap(),
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inbound),
		clients:    make(map[*client]bool),
		awareness:  make(map[string]json.RawMessage),
	}
}

func (r *Room) run() {
	for {
		select {
		case c := <-r.register:
			r.hub.mu.Lock()
			r.pending--
			r.hub.mu.Unlock()
			r.clients[c] = true
			c.enqueue(Frame{
				Type:      FrameWelcome,
				ClientID:  c.id,
				Room:      r.name,
				State:     r.state.Snapshot(),
				Awareness: r.snapshotAwareness(),
			})

		case c := <-r.unregister:
			if !r.clients[c] {
				continue
			}
			delete(r.clients, c)
			close(c.send)
			if _, ok := r.awareness[c.id]; ok {
				delete(r.awareness, c.id)
				// Peers learn about departures from this broadcast
				// alone; there is no application-level leave message.
				r.broadcast(c, Frame{Type: FrameAwareness, ClientID: c.id})
			}
			if len(r.clients) == 0 && r.tryClose() {
				return
			}

		case in := <-r.inbound:
			r.handle(in.from, in.frame)
		}
	}
}

// tryClose removes the room from the hub unless a join is in flight.
func (r *Room) tryClose() bool {
	r.hub.mu.Lock()
	defer r.hub.mu.Unlock()
	if r.pending > 0 {
		return false
	}
	delete(r.hub.rooms, r.name)
	return true
}

func (r *Room) handle(from *client, f Frame) {
	switch f.Type {
	case FrameState:
		if f.Key == "" {
			return
		}
		entry := Entry{Value: f.Value, UpdatedAt: f.UpdatedAt, Origin: from.id}
		if !r.state.Set(f.Key, entry) {
			// Lost the last-writer-wins race; the sender's replica will
			// be corrected by the winning write's broadcast.
			return
		}
		r.broadcast(from, Frame{
			Type:      FrameState,
			Key:       f.Key,
			Value:     entry.Value,
			UpdatedAt: entry.UpdatedAt,
			Origin:    entry.Origin,
		})

	case FrameAwareness:
		r.awareness[from.id] = f.AwarenessState
		r.broadcast(from, Frame{
			Type:           FrameAwareness,
			ClientID:       from.id,
			AwarenessState: f.AwarenessState,
		})
	}
}

// broadcast sends f to every client in the room except from.
func (r *Room) broadcast(from *client, f Frame) {
	buf, err := json.Marshal(f)
	if err != nil {
		log.Printf("room %s: marshal frame: %v", r.name, err)
		return
	}
	for c := range r.clients {
		if c == from {
			continue
		}
		select {
		case c.send <- buf:
		default:
			// Slow consumer; drop the frame rather than stall the room.
			log.Printf("room %s: dropping frame for slow client %s", r.name, c.id)
		}
	}
}

func (r *Room) snapshotAwareness() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(r.awareness))
	for id, s := range r.awareness {
		out[id] = s
	}
	return out
}

type client struct {
	id     string
	userID string
	name   string
	room   *Room
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
}

func (c *client) enqueue(f Frame) {
	buf, err := json.Marshal(f)
	if err != nil {
		log.Printf("room %s: marshal frame: %v", c.room.name, err)
		return
	}
	select {
	case c.send <- buf:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.room.unregister <- c
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("room %s: read error: %v", c.room.name, err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(buf, &f); err != nil {
			log.Printf("room %s: bad frame from %s: %v", c.room.name, c.id, err)
			continue
		}
		c.room.inbound <- inbound{from: c, frame: f}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
