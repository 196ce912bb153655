package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when COURIER_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_SessionUpsertAndLookup(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewPGStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sess := Session{
		SessionID: "it-sess-" + NewRandomHex(8),
		UserID:    "it-user-" + NewRandomHex(8),
		Username:  "alice",
		PublicKey: "pk-1",
		Connected: true,
	}
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save session: %v", err)
	}

	got, err := store.FindSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if got != sess {
		t.Fatalf("find session: got %+v want %+v", got, sess)
	}

	// Same token, flipped flag: the row is updated, not duplicated.
	sess.Connected = false
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save session (upsert): %v", err)
	}
	got, err = store.FindSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("find session after upsert: %v", err)
	}
	if got.Connected {
		t.Fatalf("upsert did not flip connected: %+v", got)
	}
	if cnt := mustCountSessions(t, pool, schema, sess.SessionID); cnt != 1 {
		t.Fatalf("expected 1 session row, got %d", cnt)
	}

	_, err = store.FindSession(ctx, "no-such-token")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("find unknown token: err=%v want ErrSessionNotFound", err)
	}
}

func TestPostgresStore_FindAllSessionsOrdered(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewPGStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Saved out of order on purpose.
	for _, id := range []string{"it-c", "it-a", "it-b"} {
		if err := store.SaveSession(ctx, Session{
			SessionID: id,
			UserID:    "user-" + id,
			Username:  id,
		}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	all, err := store.FindAllSessions(ctx)
	if err != nil {
		t.Fatalf("find all sessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}
	for i, want := range []string{"it-a", "it-b", "it-c"} {
		if all[i].SessionID != want {
			t.Fatalf("session[%d]=%s want=%s (order must be by session_id)", i, all[i].SessionID, want)
		}
	}
}

func TestPostgresStore_MessageAppendOrderAndFilter(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewPGStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	seed := []Message{
		{From: "alice", To: "bob", Content: "1"},
		{From: "bob", To: "alice", Content: "2"},
		{From: "carol", To: "dave", Content: "3"}, // does not touch alice
		{From: "alice", To: "carol", Content: "4"},
	}
	for _, m := range seed {
		if err := store.SaveMessage(ctx, m); err != nil {
			t.Fatalf("save message %+v: %v", m, err)
		}
	}

	got, err := store.FindMessagesForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("find messages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages touching alice, got %d: %+v", len(got), got)
	}
	for i, want := range []string{"1", "2", "4"} {
		if got[i].Content != want {
			t.Fatalf("message[%d]=%q want=%q (bigserial append order)", i, got[i].Content, want)
		}
	}

	if err := store.SaveMessage(ctx, Message{To: "bob", Content: "no sender"}); err == nil {
		t.Fatalf("expected error for message without sender")
	}
}

// ---- test helpers ----

func mustNewPGStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	return st
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("COURIER_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: COURIER_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse COURIER_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	// Validate acquire quickly.
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "courier_it_" + strings.ToLower(NewRandomHex(8))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	sessions := pgIdent(schema, "sessions")
	messages := pgIdent(schema, "messages")

	// Minimal schema required by PostgresStore.
	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  session_id TEXT PRIMARY KEY,
  user_id    TEXT NOT NULL,
  username   TEXT NOT NULL,
  public_key TEXT NOT NULL DEFAULT '',
  connected  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS %s (
  id           BIGSERIAL PRIMARY KEY,
  from_user_id TEXT NOT NULL,
  to_user_id   TEXT NOT NULL,
  content      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_from_user ON %s (from_user_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_to_user   ON %s (to_user_id, id);
`, sessions, messages, messages, messages)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustCountSessions(t *testing.T, pool *pgxpool.Pool, schema, sessionID string) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cnt int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+pgIdent(schema, "sessions")+` WHERE session_id = $1`,
		sessionID,
	).Scan(&cnt); err != nil {
		t.Fatalf("count sessions: %v", err)
	}

	return cnt
}
