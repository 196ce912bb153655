// Package v1 defines the Courier Chat Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello authenticates a new connection (client -> server).
	// It must be the first envelope sent on a connection.
	TypeHello = "hello"

	// TypeSession delivers the resolved session identity (server -> client).
	TypeSession = "session"
	// TypeUsers delivers the roster of all other sessions with per-peer history (server -> client).
	TypeUsers = "users"

	// TypeUserConnected announces a user coming online (server -> everyone else).
	TypeUserConnected = "user connected"
	// TypeUserDisconnected announces a user going fully offline (server -> everyone else).
	TypeUserDisconnected = "user disconnected"

	// TypePrivateMessage is a private message send (client -> server) or delivery (server -> recipient).
	TypePrivateMessage = "private message"

	// TypeUserMessages requests the history exchanged with one peer (client -> server).
	TypeUserMessages = "user messages"
	// TypeUserMessage returns the history exchanged with one peer (server -> client).
	TypeUserMessage = "user message"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeSession,
		TypeUsers,
		TypeUserConnected,
		TypeUserDisconnected,
		TypePrivateMessage,
		TypeUserMessages,
		TypeUserMessage,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload carries the handshake credentials: a resumable session token,
// or a username for a fresh session. Exactly one of the two is expected.
type HelloPayload struct {
	Username  string `json:"username,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// SessionPayload is the resolved identity echoed to the connection that owns it.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}

// MessagePayload is one private message on the wire.
// From may be omitted on the inbound (send) direction; the server stamps it.
type MessagePayload struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Content string `json:"content"`
}

// UserPayload is one roster entry: a peer session annotated with the
// history that peer has exchanged with the receiving user.
type UserPayload struct {
	UserID        string           `json:"userId"`
	UserPublicKey string           `json:"userPublicKey"`
	Username      string           `json:"username"`
	Connected     bool             `json:"connected"`
	Messages      []MessagePayload `json:"messages"`
}

// UsersPayload is the full roster delivered after a successful handshake.
type UsersPayload []UserPayload

// PresencePayload announces a presence transition for one user.
type PresencePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// UserMessagesPayload requests the history exchanged with the named peer.
type UserMessagesPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// UserMessagePayload returns the history exchanged with the named peer.
type UserMessagePayload struct {
	UserID   string           `json:"userId"`
	Username string           `json:"username"`
	Messages []MessagePayload `json:"messages"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
