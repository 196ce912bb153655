package chat

import "errors"

var (
	// ErrInvalidUsername is returned when a handshake carries neither a
	// session token nor a non-empty username.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrInvalidSession is returned when a handshake carries a session token
	// that does not resolve to any stored session.
	ErrInvalidSession = errors.New("invalid session")

	// ErrSessionNotFound is returned by SessionStore lookups for unknown tokens.
	ErrSessionNotFound = errors.New("session not found")
)
