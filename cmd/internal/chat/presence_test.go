package chat

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	v1 "courier/shared/contracts/chat/v1"
)

func TestTracker_RegisterIdempotentPerHandle(t *testing.T) {
	t.Parallel()

	tr := NewTracker(discardLogger())
	c := newTestClient("u1")

	tr.Register(c)
	tr.Register(c)

	if got := len(tr.Connections("u1")); got != 1 {
		t.Fatalf("live connections=%d want=1", got)
	}
}

func TestTracker_GroupsBySessionUser(t *testing.T) {
	t.Parallel()

	tr := NewTracker(discardLogger())

	// Two connections for the same user under different session tokens still
	// share one presence group.
	a := NewClient(Identity{UserID: "u1", SessionID: "s1", Username: "alice"}, 8)
	b := NewClient(Identity{UserID: "u1", SessionID: "s2", Username: "alice"}, 8)
	tr.Register(a)
	tr.Register(b)

	if got := len(tr.Connections("u1")); got != 2 {
		t.Fatalf("live connections=%d want=2", got)
	}
}

func TestTracker_UnregisterEmptySignal(t *testing.T) {
	t.Parallel()

	tr := NewTracker(discardLogger())
	a := newTestClient("u1")
	b := newTestClient("u1")
	tr.Register(a)
	tr.Register(b)

	if empty := tr.Unregister("u1", a.ConnID); empty {
		t.Fatalf("first unregister must not report empty")
	}
	if empty := tr.Unregister("u1", a.ConnID); empty {
		t.Fatalf("repeated unregister of same handle must not report empty")
	}
	if empty := tr.Unregister("u1", b.ConnID); !empty {
		t.Fatalf("last unregister must report empty")
	}
	if got := len(tr.Connections("u1")); got != 0 {
		t.Fatalf("live connections=%d want=0", got)
	}
}

func TestTracker_ConcurrentDisconnectsSignalEmptyOnce(t *testing.T) {
	t.Parallel()

	tr := NewTracker(discardLogger())

	const n = 16
	clients := make([]*Client, 0, n)
	for i := 0; i < n; i++ {
		c := newTestClient("u1")
		clients = append(clients, c)
		tr.Register(c)
	}

	var empties int64
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(connID string) {
			defer wg.Done()
			if tr.Unregister("u1", connID) {
				atomic.AddInt64(&empties, 1)
			}
		}(c.ConnID)
	}
	wg.Wait()

	if empties != 1 {
		t.Fatalf("empty signal fired %d times, want exactly 1", empties)
	}
}

func TestTracker_BroadcastSkipsExceptedConn(t *testing.T) {
	t.Parallel()

	tr := NewTracker(discardLogger())
	a := newTestClient("u1")
	b := newTestClient("u2")
	c := newTestClient("u3")
	for _, cl := range []*Client{a, b, c} {
		tr.Register(cl)
	}

	env := newEnvelope(v1.TypeUserConnected, mustMarshal(v1.PresencePayload{UserID: "u1"}), time.Now().UTC())
	tr.Broadcast(env, a.ConnID)

	mustNoRecv(t, a)
	mustRecv(t, b, v1.TypeUserConnected)
	mustRecv(t, c, v1.TypeUserConnected)
}

func TestTracker_BroadcastSkipsClosedClients(t *testing.T) {
	t.Parallel()

	tr := NewTracker(discardLogger())
	a := newTestClient("u1")
	b := newTestClient("u2")
	tr.Register(a)
	tr.Register(b)
	b.Close()

	env := newEnvelope(v1.TypeUserDisconnected, mustMarshal(v1.PresencePayload{UserID: "u3"}), time.Now().UTC())
	tr.Broadcast(env, "")

	mustRecv(t, a, v1.TypeUserDisconnected)
	mustNoRecv(t, b)
}
