package collab

import (
	"sync"
	"time"

	"canvaslive/internal/room"
)

// Bind reconciles the local snapshot against the room's shared value and
// starts relaying remote writes through onRemote.
//
// Reconciliation on first bind: if the shared key is empty the local
// snapshot seeds it (first writer wins the seed); otherwise the fresher
// updatedAt is authoritative — a remote value at least as fresh is
// delivered and the local value is never pushed, while a strictly fresher
// local value (edits made while disconnected) overwrites the shared key.
//
// onRemote never fires for a write this client produced. The returned
// unbind deregisters the observer exactly once and is safe to call many
// times.
func (c *Client) Bind(initial Snapshot, onRemote func(Snapshot)) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if !c.joined {
		c.mu.Unlock()
		return nil, ErrNotJoined
	}
	if c.bound {
		c.mu.Unlock()
		return nil, ErrJoined
	}
	c.bound = true
	clientID := c.clientID
	c.mu.Unlock()

	cancel := c.state.Observe(func(key string, e room.Entry) {
		if key != CanvasKey {
			return
		}
		// Every local write carries this client's id as origin, so the
		// comparison alone separates echoes from peer writes. It must
		// stay per-event: a flag shared with Broadcast would race the
		// read loop and swallow concurrent peer updates.
		if e.Origin == clientID {
			return
		}
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		onRemote(snapshotFromEntry(e))
	})
	c.mu.Lock()
	c.cancelObs = cancel
	c.mu.Unlock()

	current, ok := c.state.Get(CanvasKey)
	switch {
	case !ok:
		// Empty room; seed with the local snapshot.
		if err := c.Broadcast(initial); err != nil {
			c.unbindWith(cancel)()
			return nil, err
		}
	case current.UpdatedAt >= initial.UpdatedAt.UnixMilli():
		onRemote(snapshotFromEntry(current))
	default:
		// Local edits are strictly fresher (made while disconnected).
		if err := c.Broadcast(initial); err != nil {
			c.unbindWith(cancel)()
			return nil, err
		}
	}

	return c.unbindWith(cancel), nil
}

func (c *Client) unbindWith(cancel func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			c.mu.Lock()
			c.bound = false
			if c.cancelObs != nil {
				c.cancelObs = nil
			}
			c.mu.Unlock()
		})
	}
}

// Broadcast replaces the whole shared canvas with s: it applies the write
// to the local replica under this client's origin id (which is what keeps
// it out of onRemote) and sends the state frame. There is no field-level
// merge; concurrent writers are resolved by the timestamp rule alone.
func (c *Client) Broadcast(s Snapshot) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	clientID := c.clientID
	c.mu.Unlock()

	entry := room.Entry{
		Value:     s.Data,
		UpdatedAt: s.UpdatedAt.UnixMilli(),
		Origin:    clientID,
	}

	c.state.Set(CanvasKey, entry)

	return c.send(room.Frame{
		Type:      room.FrameState,
		Key:       CanvasKey,
		Value:     entry.Value,
		UpdatedAt: entry.UpdatedAt,
	})
}

// Current returns the replica's view of the shared canvas, if any.
func (c *Client) Current() (Snapshot, bool) {
	e, ok := c.state.Get(CanvasKey)
	if !ok {
		return Snapshot{}, false
	}
	return snapshotFromEntry(e), true
}

func snapshotFromEntry(e room.Entry) Snapshot {
	return Snapshot{
		Data:      e.Value,
		UpdatedAt: time.UnixMilli(e.UpdatedAt),
	}
}
