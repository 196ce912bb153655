// Package chat contains Courier's presence, identity and private-messaging core
// plus the WebSocket gateway that exposes it.
package chat

import "context"

// Session is the persistent identity record for one logical user.
// It survives reconnects and is keyed by the resumable SessionID token.
//
// The paired private key for PublicKey is held only by the owning connection
// and is never persisted.
type Session struct {
	SessionID string
	UserID    string
	Username  string
	PublicKey string
	Connected bool
}

// SessionStore abstracts persistence for session records.
//
// Requirements:
//   - SaveSession is an upsert by SessionID (sessions are never deleted)
//   - FindAllSessions is total: every session ever saved appears exactly once,
//     in a stable (but otherwise unspecified) order
type SessionStore interface {
	SaveSession(ctx context.Context, s Session) error

	// FindSession returns ErrSessionNotFound for unknown tokens.
	FindSession(ctx context.Context, sessionID string) (Session, error)

	FindAllSessions(ctx context.Context) ([]Session, error)
}
