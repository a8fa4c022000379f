package room

import "encoding/json"

// Frame types exchanged over a room connection. One JSON object per
// websocket text message.
const (
	FrameWelcome   = "welcome"
	FrameState     = "state"
	FrameAwareness = "awareness"
)

// Frame is the wire envelope. Fields are populated according to Type:
//
//	welcome   (server→client) ClientID, Room, State, Awareness
//	state     (both)          Key, Value, UpdatedAt; Origin set by server
//	awareness (client→server) AwarenessState
//	awareness (server→client) ClientID, AwarenessState (null = peer gone)
type Frame struct {
	Type           string                     `json:"type"`
	ClientID       string                     `json:"clientId,omitempty"`
	Room           string                     `json:"room,omitempty"`
	Key            string                     `json:"key,omitempty"`
	Value          json.RawMessage            `json:"value,omitempty"`
	UpdatedAt      int64                      `json:"updatedAt,omitempty"`
	Origin         string                     `json:"origin,omitempty"`
	State          map[string]Entry           `json:"state,omitempty"`
	Awareness      map[string]json.RawMessage `json:"awareness,omitempty"`
	AwarenessState json.RawMessage            `json:"awarenessState,omitempty"`
}
