package chat

import (
	"log/slog"
	"sync"

	v1 "courier/shared/contracts/chat/v1"
)

// Tracker maps each logical user to the set of live connections currently
// representing them. A user is "connected" iff that set is non-empty.
//
// Grouping is per user id, not per session id: a resumed session joins the
// same presence group as the user's other live connections.
//
// Concurrency guarantees:
// - Register/Unregister are safe under concurrent Broadcast.
// - Unregister and its emptiness check are a single locked operation, so two
//   racing disconnects for the same user cannot both observe "now empty".
// - Broadcast never blocks (drops under backpressure) and is panic-safe
//   because Client.Send is never closed by the server.
type Tracker struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[string]*Client // user id -> conn id -> client
}

// NewTracker constructs a presence Tracker.
func NewTracker(log *slog.Logger) *Tracker {
	return &Tracker{
		log:   log,
		users: make(map[string]map[string]*Client),
	}
}

// Register adds a connection to the user's live set. Idempotent per handle.
func (t *Tracker) Register(c *Client) {
	if t == nil || c == nil || c.ConnID == "" {
		return
	}
	userID := c.Identity.UserID

	t.mu.Lock()
	set := t.users[userID]
	if set == nil {
		set = make(map[string]*Client)
		t.users[userID] = set
	}
	set[c.ConnID] = c
	n := len(set)
	t.mu.Unlock()

	t.log.Info("presence.conn.register", "user_id", userID, "conn_id", c.ConnID, "live", n)
}

// Unregister removes a connection from the user's live set and reports
// whether the set is now empty (the "fully disconnected" signal). The removal
// and the emptiness check are atomic.
func (t *Tracker) Unregister(userID, connID string) bool {
	if t == nil || userID == "" || connID == "" {
		return false
	}

	var cl *Client
	empty := false

	t.mu.Lock()
	set := t.users[userID]
	if set != nil {
		if c, ok := set[connID]; ok {
			cl = c
			delete(set, connID)
			if len(set) == 0 {
				delete(t.users, userID)
				empty = true
			}
		}
	}
	t.mu.Unlock()

	// Signal client shutdown after removing from membership.
	// This ordering avoids race windows where a broadcaster still holds a pointer
	// while the client goroutines are being torn down.
	if cl != nil {
		cl.Close()
	}

	t.log.Info("presence.conn.unregister", "user_id", userID, "conn_id", connID, "offline", empty)
	return empty
}

// Connections returns a snapshot of the user's live connections.
func (t *Tracker) Connections(userID string) []*Client {
	if t == nil || userID == "" {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.users[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Broadcast fanouts an envelope to every live connection except exceptConnID.
// Non-blocking: if a member queue is full or the client is shutting down, it is dropped.
func (t *Tracker) Broadcast(env v1.Envelope, exceptConnID string) {
	if t == nil {
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, set := range t.users {
		for _, c := range set {
			if c == nil || c.ConnID == exceptConnID {
				continue
			}
			deliver(c, env)
		}
	}
}

// deliver attempts a non-blocking enqueue, skipping clients that are shutting down.
func deliver(c *Client, env v1.Envelope) bool {
	select {
	case <-c.Done():
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		// Drop rather than block the whole fanout.
		return false
	}
}
