package chat

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "courier/shared/contracts/chat/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(userID string) *Client {
	return NewClient(Identity{
		UserID:    userID,
		SessionID: "sess-" + userID,
		Username:  "user-" + userID,
	}, 16)
}

// mustRecv receives the next queued envelope for a client and asserts its type.
func mustRecv(t *testing.T, c *Client, wantType string) v1.Envelope {
	t.Helper()

	select {
	case env := <-c.Send:
		if env.Type != wantType {
			t.Fatalf("envelope type=%q want=%q", env.Type, wantType)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %q envelope", wantType)
		return v1.Envelope{}
	}
}

// mustNoRecv asserts no envelope is queued for a client.
func mustNoRecv(t *testing.T, c *Client) {
	t.Helper()

	select {
	case env := <-c.Send:
		t.Fatalf("unexpected envelope type=%q", env.Type)
	default:
	}
}

func decodePayload[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		t.Fatalf("decode %q payload: %v", env.Type, err)
	}
	return out
}
