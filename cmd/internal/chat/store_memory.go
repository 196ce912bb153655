package chat

import (
	"context"
	"errors"
	"sync"
)

// InMemoryStore keeps sessions and messages in process memory.
// It is the default backend: state lives for the process lifetime only.
//
// It implements both SessionStore and MessageStore. The two record families
// are guarded independently so a long message scan never blocks session saves.
type InMemoryStore struct {
	smu      sync.Mutex
	sessions map[string]Session
	order    []string // session ids in first-save order, for stable enumeration

	mmu      sync.Mutex
	messages []Message
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]Session),
		messages: make([]Message, 0, 256),
	}
}

// SaveSession upserts a session record by SessionID.
func (s *InMemoryStore) SaveSession(ctx context.Context, sess Session) error {
	if sess.SessionID == "" {
		return errors.New("missing session id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.smu.Lock()
	defer s.smu.Unlock()

	if _, ok := s.sessions[sess.SessionID]; !ok {
		s.order = append(s.order, sess.SessionID)
	}
	s.sessions[sess.SessionID] = sess
	return nil
}

// FindSession returns the session for a token, or ErrSessionNotFound.
func (s *InMemoryStore) FindSession(ctx context.Context, sessionID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.smu.Lock()
	defer s.smu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// FindAllSessions returns every saved session in first-save order.
func (s *InMemoryStore) FindAllSessions(ctx context.Context) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.smu.Lock()
	defer s.smu.Unlock()

	out := make([]Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id])
	}
	return out, nil
}

// SaveMessage appends a message to the log.
func (s *InMemoryStore) SaveMessage(ctx context.Context, m Message) error {
	if m.From == "" || m.To == "" {
		return errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mmu.Lock()
	s.messages = append(s.messages, m)
	s.mmu.Unlock()
	return nil
}

// FindMessagesForUser returns all messages touching userID, in append order.
func (s *InMemoryStore) FindMessagesForUser(ctx context.Context, userID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mmu.Lock()
	defer s.mmu.Unlock()

	var out []Message
	for _, m := range s.messages {
		if m.From == userID || m.To == userID {
			out = append(out, m)
		}
	}
	return out, nil
}
