// Package room implements the server side of canvas live sync: room naming,
// the replicated state map, and the websocket hub that fans document and
// awareness updates out to connected peers.
package room

import (
	"errors"
	"strings"
)

// NamePrefix is the fixed prefix for room names. A room named
// "doc-<canvasID>" is the synchronization scope for that canvas; token
// issuance and handshake verification both derive the canvas id from the
// same scheme, so the two derivations can never drift.
const NamePrefix = "doc-"

var ErrBadRoomName = errors.New("bad room name")

// Name returns the room name for a canvas id.
func Name(documentID string) string {
	return NamePrefix + documentID
}

// DocumentID extracts the canvas id embedded in a room name.
func DocumentID(name string) (string, error) {
	if !strings.HasPrefix(name, NamePrefix) {
		return "", ErrBadRoomName
	}
	id := strings.TrimPrefix(name, NamePrefix)
	if id == "" {
		return "", ErrBadRoomName
	}
	return id, nil
}
