// Package main provides a CI-friendly WebSocket smoke test for Courier.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello -> session establishment
//   - roster delivery with per-peer history
//   - presence fanout (user connected / user disconnected)
//   - private message delivery
//   - per-peer history fetch
//   - session resumption
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "courier/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "courier.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string
	userID    string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:4000/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text    = flag.String("text", "hello courier", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	alice := mustConnect(root, "alice", *wsURL, *origin, v1.HelloPayload{Username: "smoke-alice"}, *timeout)
	defer closeWS(alice.conn)

	bob := mustConnect(root, "bob", *wsURL, *origin, v1.HelloPayload{Username: "smoke-bob"}, *timeout)
	defer closeWS(bob.conn)

	if *verbose {
		fmt.Printf("connected: alice=%s bob=%s origin=%q\n", alice.userID, bob.userID, *origin)
	}

	mustRosterContains(root, bob, alice.userID, *timeout)
	mustPresence(root, alice, v1.TypeUserConnected, bob.userID, *timeout)

	mustSendPrivate(root, alice, bob.userID, *text, *timeout)
	mustReceivePrivate(root, bob, alice.userID, bob.userID, *text, *timeout)

	mustHistoryContains(root, bob, alice.userID, *text, *timeout)

	// Resume bob's session on a second connection: the roster replays history.
	bob2 := mustConnect(root, "bob2", *wsURL, *origin, v1.HelloPayload{SessionID: bob.sessionID}, *timeout)
	defer closeWS(bob2.conn)
	if bob2.userID != bob.userID {
		fatalf("resume bound user_id=%s want=%s", bob2.userID, bob.userID)
	}
	mustRosterHistoryContains(root, bob2, alice.userID, *text, *timeout)

	closeWS(alice.conn)
	mustPresence(root, bob, v1.TypeUserDisconnected, alice.userID, *timeout)

	fmt.Printf("OK: alice=%s bob=%s\n", alice.userID, bob.userID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, hello v1.HelloPayload, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(hello),
	}
	mustWriteWithTimeout(parent, conn, env, stepTimeout)

	sess := c.mustReadUntilType(parent, v1.TypeSession, stepTimeout, nil)

	var p v1.SessionPayload
	if err := json.Unmarshal(sess.Payload, &p); err != nil {
		fatalf("unmarshal session payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" || strings.TrimSpace(p.UserID) == "" {
		fatalf("session missing ids (%s): %+v", name, p)
	}
	c.sessionID = p.SessionID
	c.userID = p.UserID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustRosterContains(parent context.Context, c *smokeClient, peerUserID string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeUsers, stepTimeout, nil)

	var roster v1.UsersPayload
	if err := json.Unmarshal(env.Payload, &roster); err != nil {
		fatalf("unmarshal users payload (%s): %v", c.name, err)
	}
	for _, entry := range roster {
		if entry.UserID == peerUserID {
			return
		}
	}
	fatalf("roster (%s) missing peer %s: %+v", c.name, peerUserID, roster)
}

func mustRosterHistoryContains(parent context.Context, c *smokeClient, peerUserID, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeUsers, stepTimeout, nil)

	var roster v1.UsersPayload
	if err := json.Unmarshal(env.Payload, &roster); err != nil {
		fatalf("unmarshal users payload (%s): %v", c.name, err)
	}
	for _, entry := range roster {
		if entry.UserID != peerUserID {
			continue
		}
		for _, m := range entry.Messages {
			if m.Content == text {
				return
			}
		}
		fatalf("roster entry for %s (%s) missing message %q: %+v", peerUserID, c.name, text, entry.Messages)
	}
	fatalf("roster (%s) missing peer %s: %+v", c.name, peerUserID, roster)
}

func mustPresence(parent context.Context, c *smokeClient, typ, wantUserID string, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypeUserConnected: {}}
	delete(skip, typ)

	env := c.mustReadUntilType(parent, typ, stepTimeout, skip)

	var p v1.PresencePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal %s payload (%s): %v", typ, c.name, err)
	}
	if p.UserID != wantUserID {
		fatalf("%s (%s): user_id=%s want=%s", typ, c.name, p.UserID, wantUserID)
	}
}

func mustSendPrivate(parent context.Context, c *smokeClient, toUserID, text string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypePrivateMessage,
		ID:   fmt.Sprintf("%s-send-%d", c.name, time.Now().UnixNano()),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.MessagePayload{
			To:      toUserID,
			Content: text,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustReceivePrivate(parent context.Context, c *smokeClient, wantFrom, wantTo, wantText string, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypeUserConnected: {}, v1.TypeUserDisconnected: {}}
	env := c.mustReadUntilType(parent, v1.TypePrivateMessage, stepTimeout, skip)

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal private message payload (%s): %v", c.name, err)
	}
	if p.From != wantFrom || p.To != wantTo || p.Content != wantText {
		fatalf("private message (%s): got=%+v want from=%s to=%s content=%q", c.name, p, wantFrom, wantTo, wantText)
	}
}

func mustHistoryContains(parent context.Context, c *smokeClient, peerUserID, text string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeUserMessages,
		ID:      fmt.Sprintf("%s-hist-%d", c.name, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.UserMessagesPayload{UserID: peerUserID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	skip := map[string]struct{}{v1.TypeUserConnected: {}, v1.TypeUserDisconnected: {}}
	got := c.mustReadUntilType(parent, v1.TypeUserMessage, stepTimeout, skip)

	var p v1.UserMessagePayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		fatalf("unmarshal history payload (%s): %v", c.name, err)
	}
	if p.UserID != peerUserID {
		fatalf("history (%s): user_id=%s want=%s", c.name, p.UserID, peerUserID)
	}
	for _, m := range p.Messages {
		if m.Content == text {
			return
		}
	}
	fatalf("history (%s) missing message %q: %+v", c.name, text, p.Messages)
}

func (c *smokeClient) mustReadUntilType(parent context.Context, want string, stepTimeout time.Duration, skip map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s)", want, c.name)
		case err := <-c.errCh:
			fatalf("read loop failed while waiting for %q (%s): %v", want, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", want, c.name)
			}
			if env.Type == want {
				return env
			}
			if skip != nil {
				if _, ok := skip[env.Type]; ok {
					continue
				}
			}
			if env.Type == v1.TypeError {
				fatalf("server error while waiting for %q (%s): %s", want, c.name, string(env.Payload))
			}
			// Unexpected but harmless envelope types are skipped.
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal %s: %v", env.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
