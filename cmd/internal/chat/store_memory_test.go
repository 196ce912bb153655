package chat

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryStore_SessionUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()

	sess := Session{SessionID: "s1", UserID: "u1", Username: "alice", PublicKey: "pk1", Connected: true}
	if err := st.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := st.FindSession(ctx, "s1")
	if err != nil {
		t.Fatalf("FindSession: %v", err)
	}
	if got != sess {
		t.Fatalf("FindSession=%+v want=%+v", got, sess)
	}

	sess.Connected = false
	if err := st.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession (update): %v", err)
	}

	got, err = st.FindSession(ctx, "s1")
	if err != nil {
		t.Fatalf("FindSession after update: %v", err)
	}
	if got.Connected {
		t.Fatalf("expected connected=false after update")
	}

	all, err := st.FindAllSessions(ctx)
	if err != nil {
		t.Fatalf("FindAllSessions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("upsert must not duplicate: got %d sessions", len(all))
	}
}

func TestInMemoryStore_FindSession_NotFound(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	_, err := st.FindSession(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err=%v want ErrSessionNotFound", err)
	}
}

func TestInMemoryStore_FindAllSessions_StableOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()

	for _, id := range []string{"a", "b", "c"} {
		if err := st.SaveSession(ctx, Session{SessionID: id, UserID: "u-" + id}); err != nil {
			t.Fatalf("SaveSession(%s): %v", id, err)
		}
	}
	// Updating must not change enumeration order.
	if err := st.SaveSession(ctx, Session{SessionID: "b", UserID: "u-b", Connected: true}); err != nil {
		t.Fatalf("SaveSession(update b): %v", err)
	}

	all, err := st.FindAllSessions(ctx)
	if err != nil {
		t.Fatalf("FindAllSessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len=%d want=3", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i].SessionID != want {
			t.Fatalf("all[%d].SessionID=%q want=%q", i, all[i].SessionID, want)
		}
	}
}

func TestInMemoryStore_Messages_AppendOrderAndFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()

	msgs := []Message{
		{From: "u1", To: "u2", Content: "one"},
		{From: "u2", To: "u1", Content: "two"},
		{From: "u1", To: "u3", Content: "three"},
		{From: "u3", To: "u2", Content: "four"},
	}
	for _, m := range msgs {
		if err := st.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage(%+v): %v", m, err)
		}
	}

	got, err := st.FindMessagesForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("FindMessagesForUser: %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("len=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i].Content != want[i] {
			t.Fatalf("got[%d].Content=%q want=%q", i, got[i].Content, want[i])
		}
	}

	none, err := st.FindMessagesForUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("FindMessagesForUser(nobody): %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no messages for uninvolved user, got %d", len(none))
	}
}

func TestInMemoryStore_SaveMessage_RejectsInvalid(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	if err := st.SaveMessage(context.Background(), Message{From: "", To: "u2"}); err == nil {
		t.Fatalf("expected error for missing sender")
	}
}
