package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	v1 "courier/shared/contracts/chat/v1"
)

// Identity is the immutable binding produced by a successful handshake.
// It is created once and carried alongside the connection handle for the
// connection's lifetime; it is never mutated afterwards.
type Identity struct {
	UserID    string
	SessionID string
	Username  string
	Keys      KeyPair
}

// Resolver turns a handshake payload into a bound identity.
//
// It never mutates state for rejected handshakes: a connection that fails
// here must not appear in any roster and must not trigger any notification.
type Resolver struct {
	sessions SessionStore
}

// NewResolver constructs a Resolver over the given session store.
func NewResolver(sessions SessionStore) *Resolver {
	return &Resolver{sessions: sessions}
}

// Resolve binds a connection to an identity.
//
//   - sessionId present: resume that session (same userId/username, no new
//     key pair). An unknown token fails with ErrInvalidSession; a store
//     failure propagates unchanged so callers can tell the two apart.
//   - else username present and non-empty: mint a fresh userId, sessionId and
//     key pair.
//   - else: fail with ErrInvalidUsername.
func (r *Resolver) Resolve(ctx context.Context, hello v1.HelloPayload) (Identity, error) {
	if token := strings.TrimSpace(hello.SessionID); token != "" {
		sess, err := r.sessions.FindSession(ctx, token)
		if errors.Is(err, ErrSessionNotFound) {
			return Identity{}, fmt.Errorf("%w: %s", ErrInvalidSession, token)
		}
		if err != nil {
			// Store trouble is not a verdict on the token.
			return Identity{}, fmt.Errorf("find session: %w", err)
		}
		return Identity{
			UserID:    sess.UserID,
			SessionID: sess.SessionID,
			Username:  sess.Username,
			Keys:      KeyPair{Public: sess.PublicKey},
		}, nil
	}

	username := strings.TrimSpace(hello.Username)
	if username == "" {
		return Identity{}, ErrInvalidUsername
	}

	now := time.Now().UTC()
	userID, err := NewULID(now)
	if err != nil {
		return Identity{}, fmt.Errorf("mint user id: %w", err)
	}
	sessionID, err := NewULID(now)
	if err != nil {
		return Identity{}, fmt.Errorf("mint session id: %w", err)
	}
	keys, err := NewKeyPair()
	if err != nil {
		return Identity{}, fmt.Errorf("mint key pair: %w", err)
	}

	return Identity{
		UserID:    userID,
		SessionID: sessionID,
		Username:  username,
		Keys:      keys,
	}, nil
}

// Session materializes the store record for this identity with the given
// connectivity flag. The private key half never crosses this boundary.
func (id Identity) Session(connected bool) Session {
	return Session{
		SessionID: id.SessionID,
		UserID:    id.UserID,
		Username:  id.Username,
		PublicKey: id.Keys.Public,
		Connected: connected,
	}
}
