package chat

import "context"

// Message is one private message. Immutable once stored; the store's append
// order is the only defined order.
type Message struct {
	From    string
	To      string
	Content string
}

// MessageStore persists and queries private messages.
//
// Requirements:
//   - SaveMessage is append-only; no update or delete operation exists
//   - FindMessagesForUser returns every message where the user is sender or
//     recipient, in append order
type MessageStore interface {
	SaveMessage(ctx context.Context, m Message) error
	FindMessagesForUser(ctx context.Context, userID string) ([]Message, error)
}
