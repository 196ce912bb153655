package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	v1 "courier/shared/contracts/chat/v1"
)

// Service orchestrates the connection lifecycle: handshake admission, roster
// delivery, presence notifications, private sends and history requests.
//
// It is transport-agnostic on purpose: the WebSocket gateway drives it, and
// tests drive it directly through Clients.
type Service struct {
	log      *slog.Logger
	sessions SessionStore
	presence *Tracker
	resolver *Resolver
	router   *Router
	history  *Assembler
	metrics  *Metrics
}

// NewService wires the chat core over the given stores.
func NewService(log *slog.Logger, sessions SessionStore, messages MessageStore, metrics *Metrics) *Service {
	presence := NewTracker(log)
	return &Service{
		log:      log,
		sessions: sessions,
		presence: presence,
		resolver: NewResolver(sessions),
		router:   NewRouter(log, messages, presence, metrics),
		history:  NewAssembler(messages),
		metrics:  metrics,
	}
}

// Connect admits a connection: resolve the identity, mark the session
// connected, register presence, queue the session + roster envelopes to the
// new connection, and announce the user to everyone else.
//
// On a resolver error nothing is mutated and nothing is broadcast.
func (s *Service) Connect(ctx context.Context, hello v1.HelloPayload, sendQueueSize int) (*Client, error) {
	id, err := s.resolver.Resolve(ctx, hello)
	if err != nil {
		return nil, err
	}

	c := NewClient(id, sendQueueSize)
	now := time.Now().UTC()

	if err := s.sessions.SaveSession(ctx, id.Session(true)); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	hist, err := s.history.Assemble(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("assemble history: %w", err)
	}

	all, err := s.sessions.FindAllSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	s.presence.Register(c)
	s.metrics.ConnOpened()

	deliver(c, newEnvelope(v1.TypeSession, mustMarshal(v1.SessionPayload{
		SessionID: id.SessionID,
		UserID:    id.UserID,
		Username:  id.Username,
	}), now))

	roster := make(v1.UsersPayload, 0, len(all))
	for _, sess := range all {
		if sess.UserID == id.UserID {
			continue
		}
		roster = append(roster, v1.UserPayload{
			UserID:        sess.UserID,
			UserPublicKey: sess.PublicKey,
			Username:      sess.Username,
			Connected:     sess.Connected,
			Messages:      wireMessages(hist[sess.UserID]),
		})
	}
	deliver(c, newEnvelope(v1.TypeUsers, mustMarshal(roster), now))

	s.presence.Broadcast(newEnvelope(v1.TypeUserConnected, mustMarshal(v1.PresencePayload{
		UserID:   id.UserID,
		Username: id.Username,
	}), now), c.ConnID)

	s.log.Info("chat.conn.admitted",
		"user_id", id.UserID,
		"session_id", id.SessionID,
		"conn_id", c.ConnID,
		"resumed", strings.TrimSpace(hello.SessionID) != "",
	)
	return c, nil
}

// Disconnect tears down one connection. Only when it was the user's last live
// connection is the session marked disconnected and the departure announced.
func (s *Service) Disconnect(ctx context.Context, c *Client) {
	if c == nil {
		return
	}

	empty := s.presence.Unregister(c.Identity.UserID, c.ConnID)
	s.metrics.ConnClosed()
	if !empty {
		return
	}

	if err := s.sessions.SaveSession(ctx, c.Identity.Session(false)); err != nil {
		s.log.Error("chat.session.save.fail", "session_id", c.Identity.SessionID, "err", err)
	}

	s.presence.Broadcast(newEnvelope(v1.TypeUserDisconnected, mustMarshal(v1.PresencePayload{
		UserID:   c.Identity.UserID,
		Username: c.Identity.Username,
	}), time.Now().UTC()), c.ConnID)

	s.log.Info("chat.user.offline", "user_id", c.Identity.UserID)
}

// SendPrivate routes one private message from this connection.
func (s *Service) SendPrivate(ctx context.Context, c *Client, p v1.MessagePayload) error {
	_, err := s.router.SendPrivate(ctx, c, p.To, p.Content)
	return err
}

// PeerHistory answers an on-demand "history with user X" request by queueing a
// user message envelope back to the requesting connection.
func (s *Service) PeerHistory(ctx context.Context, c *Client, p v1.UserMessagesPayload) error {
	peer := strings.TrimSpace(p.UserID)
	if peer == "" {
		return errors.New("missing userId")
	}

	hist, err := s.history.Assemble(ctx, c.Identity.UserID)
	if err != nil {
		return fmt.Errorf("assemble history: %w", err)
	}

	env := newEnvelope(v1.TypeUserMessage, mustMarshal(v1.UserMessagePayload{
		UserID:   peer,
		Username: p.Username,
		Messages: wireMessages(hist[peer]),
	}), time.Now().UTC())

	if !deliver(c, env) {
		return errors.New("backpressure: user message")
	}
	return nil
}
