package chat

import (
	"encoding/json"
	"time"

	v1 "courier/shared/contracts/chat/v1"
)

// newEnvelope wraps a payload in the canonical wire envelope.
func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      ts,
		Payload: payload,
	}
}

// mustMarshal marshals payload types that cannot fail (plain structs/slices
// of strings and bools).
func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// wireMessages converts stored messages into wire payloads, always returning
// a non-nil slice so rosters serialize an empty history as [].
func wireMessages(msgs []Message) []v1.MessagePayload {
	out := make([]v1.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, v1.MessagePayload{From: m.From, To: m.To, Content: m.Content})
	}
	return out
}
