package chat

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements SessionStore and MessageStore over PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Schema (in the configured schema, default "courier"):
//
//	sessions(session_id text primary key, user_id text, username text,
//	         public_key text, connected boolean)
//	messages(id bigserial primary key, from_user_id text, to_user_id text,
//	         content text)
//
// Message append order is the bigserial id order.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "courier").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "courier",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// SaveSession upserts a session record by session_id.
func (s *PostgresStore) SaveSession(ctx context.Context, sess Session) error {
	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}
	if sess.SessionID == "" {
		return errors.New("missing session id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sessions := pgIdent(s.schema, "sessions")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+sessions+` (session_id, user_id, username, public_key, connected)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO UPDATE SET
		   user_id = EXCLUDED.user_id,
		   username = EXCLUDED.username,
		   public_key = EXCLUDED.public_key,
		   connected = EXCLUDED.connected`,
		sess.SessionID, sess.UserID, sess.Username, sess.PublicKey, sess.Connected,
	)
	return err
}

// FindSession loads a session by token, returning ErrSessionNotFound when absent.
func (s *PostgresStore) FindSession(ctx context.Context, sessionID string) (Session, error) {
	if s == nil || s.pool == nil {
		return Session{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	sessions := pgIdent(s.schema, "sessions")

	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, user_id, username, public_key, connected
		 FROM `+sessions+` WHERE session_id = $1`,
		sessionID,
	).Scan(&sess.SessionID, &sess.UserID, &sess.Username, &sess.PublicKey, &sess.Connected)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// FindAllSessions returns every session, ordered by session_id (stable, total).
func (s *PostgresStore) FindAllSessions(ctx context.Context) ([]Session, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sessions := pgIdent(s.schema, "sessions")

	rows, err := s.pool.Query(ctx,
		`SELECT session_id, user_id, username, public_key, connected
		 FROM `+sessions+` ORDER BY session_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.SessionID, &sess.UserID, &sess.Username, &sess.PublicKey, &sess.Connected); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SaveMessage appends a message; order is allocated by the bigserial id.
func (s *PostgresStore) SaveMessage(ctx context.Context, m Message) error {
	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}
	if m.From == "" || m.To == "" {
		return errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	messages := pgIdent(s.schema, "messages")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (from_user_id, to_user_id, content) VALUES ($1, $2, $3)`,
		m.From, m.To, m.Content,
	)
	return err
}

// FindMessagesForUser returns all messages touching userID, in append order.
func (s *PostgresStore) FindMessagesForUser(ctx context.Context, userID string) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT from_user_id, to_user_id, content
		 FROM `+messages+` WHERE from_user_id = $1 OR to_user_id = $1
		 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.From, &m.To, &m.Content); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- identifier quoting ----

var pgIdentRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func isValidPGIdent(s string) bool {
	return pgIdentRe.MatchString(s)
}

func pgIdent(schema, table string) string {
	return `"` + schema + `"."` + table + `"`
}
