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

// Router accepts private message sends: persist first, then fan out to every
// live connection of the recipient.
type Router struct {
	log      *slog.Logger
	messages MessageStore
	presence *Tracker
	metrics  *Metrics
}

// NewRouter constructs a Router.
func NewRouter(log *slog.Logger, messages MessageStore, presence *Tracker, metrics *Metrics) *Router {
	return &Router{log: log, messages: messages, presence: presence, metrics: metrics}
}

// SendPrivate persists the message and delivers it to all live connections of
// the recipient, excluding the sending connection itself.
//
// Persistence must succeed before any delivery is attempted; a recipient with
// zero live connections is a successful send (the message is recoverable via
// history), not an error.
func (r *Router) SendPrivate(ctx context.Context, sender *Client, toUserID, content string) (Message, error) {
	if sender == nil {
		return Message{}, errors.New("nil sender")
	}
	toUserID = strings.TrimSpace(toUserID)
	if toUserID == "" {
		return Message{}, errors.New("missing recipient")
	}
	if len([]rune(content)) > maxMessageChars {
		return Message{}, fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	msg := Message{
		From:    sender.Identity.UserID,
		To:      toUserID,
		Content: content,
	}
	if err := r.messages.SaveMessage(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("store message: %w", err)
	}
	r.metrics.MessagePersisted()

	env := newEnvelope(v1.TypePrivateMessage, mustMarshal(v1.MessagePayload{
		From:    msg.From,
		To:      msg.To,
		Content: msg.Content,
	}), time.Now().UTC())

	delivered := 0
	for _, c := range r.presence.Connections(toUserID) {
		if c.ConnID == sender.ConnID {
			continue
		}
		if deliver(c, env) {
			delivered++
		}
	}
	r.metrics.MessagesDelivered(delivered)

	r.log.Info("router.message.sent",
		"from", msg.From,
		"to", msg.To,
		"delivered", delivered,
	)
	return msg, nil
}
