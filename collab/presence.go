package collab

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"time"

	"canvaslive/internal/room"
)

// Actions a peer can be performing. "refining" is the AI-assisted rewrite
// flow in the canvas UI.
const (
	ActionViewing  = "viewing"
	ActionEditing  = "editing"
	ActionRefining = "refining"
)

// palette is the fixed set of presence colors. Distinct users may collide;
// that is cosmetic, not a correctness concern.
var palette = []string{
	"#e63946", "#f4a261", "#e9c46a", "#2a9d8f",
	"#264653", "#457b9d", "#8338ec", "#d62828",
}

// Cursor is a position on the canvas.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PresenceState is the ephemeral, per-connection identity and activity
// record broadcast to peers. It is never persisted and vanishes when the
// owning connection's liveness lapses.
type PresenceState struct {
	UserID       string    `json:"userId"`
	ClientID     string    `json:"clientId"`
	DisplayName  string    `json:"displayName"`
	Color        string    `json:"color"`
	Cursor       *Cursor   `json:"cursor,omitempty"`
	View         string    `json:"view,omitempty"`
	ActiveField  string    `json:"activeField,omitempty"`
	Action       string    `json:"action,omitempty"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// PresenceUpdate is a partial merge into the local presence state. Nil
// fields are left unchanged.
type PresenceUpdate struct {
	View        *string
	ActiveField *string
	Action      *string
}

func (c *Client) initPresenceLocked() {
	c.presence = PresenceState{
		UserID:       c.cfg.UserID,
		ClientID:     c.clientID,
		DisplayName:  c.cfg.DisplayName,
		Color:        ColorFor(c.cfg.UserID),
		Action:       ActionViewing,
		LastActiveAt: time.Now(),
	}
}

// Presence returns the local presence state.
func (c *Client) Presence() PresenceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence
}

// UpdatePresence merges the partial update into the local state, stamps
// the activity time, and broadcasts. Cheap; call it on discrete events
// such as focusing a field.
func (c *Client) UpdatePresence(u PresenceUpdate) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if u.View != nil {
		c.presence.View = *u.View
	}
	if u.ActiveField != nil {
		c.presence.ActiveField = *u.ActiveField
	}
	if u.Action != nil {
		c.presence.Action = *u.Action
	}
	c.presence.LastActiveAt = time.Now()
	c.mu.Unlock()

	return c.sendPresence()
}

// UpdateCursor merges a cursor position, rate limited to one outbound
// frame per window. Calls inside the window are dropped, not queued.
func (c *Client) UpdateCursor(x, y float64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.cursorLimit.Allow() {
		c.mu.Unlock()
		return nil
	}
	c.presence.Cursor = &Cursor{X: x, Y: y}
	c.presence.LastActiveAt = time.Now()
	c.mu.Unlock()

	return c.sendPresence()
}

// Peers returns the current peer presence records, excluding this client,
// ordered by client id for stable rendering. Removal of a vanished peer is
// driven by the transport's liveness mechanism; there is no explicit
// leave signal.
func (c *Client) Peers() []PresenceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerListLocked()
}

func (c *Client) peerListLocked() []PresenceState {
	out := make([]PresenceState, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

func (c *Client) sendPresence() error {
	c.mu.Lock()
	raw, err := json.Marshal(c.presence)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.send(frameAwareness(raw))
}

// ColorFor deterministically assigns a palette color to a user id. Pure
// function; no coordination between peers is needed for everyone to see
// the same color.
func ColorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}

func frameAwareness(state json.RawMessage) room.Frame {
	return room.Frame{Type: room.FrameAwareness, AwarenessState: state}
}

func decodePresence(raw json.RawMessage) (PresenceState, bool) {
	var p PresenceState
	if err := json.Unmarshal(raw, &p); err != nil {
		return PresenceState{}, false
	}
	return p, true
}
