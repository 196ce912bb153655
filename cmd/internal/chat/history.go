package chat

import "context"

// Assembler answers "what have user A and user B exchanged" by partitioning a
// user's stored messages by counterparty.
type Assembler struct {
	messages MessageStore
}

// NewAssembler constructs an Assembler over the given message store.
func NewAssembler(messages MessageStore) *Assembler {
	return &Assembler{messages: messages}
}

// Assemble returns the user's full message history bucketed per peer, with
// store append order preserved inside every bucket.
//
// This is a pure read-side projection: no mutation, safe to call repeatedly,
// always the full history (no incremental mode).
func (a *Assembler) Assemble(ctx context.Context, userID string) (map[string][]Message, error) {
	msgs, err := a.messages.FindMessagesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]Message, 8)
	for _, m := range msgs {
		peer := m.To
		if m.To == userID {
			peer = m.From
		}
		out[peer] = append(out[peer], m)
	}
	return out, nil
}
