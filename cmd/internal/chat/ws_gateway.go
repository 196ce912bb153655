package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	v1 "courier/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "courier.chat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout     = 5 * time.Second
	wsDefaultReadIdle         = 2 * time.Minute
	wsDefaultHandshakeTimeout = 10 * time.Second
	wsCloseGrace              = 1 * time.Second

	wsMaxPingFailures = 3
)

// GatewayOptions are the transport knobs. Zero values fall back to secure
// defaults; the app layer fills them from the environment.
type GatewayOptions struct {
	// Origin policy: Origin is required by default and only localhost is
	// allowed by default (secure-by-default for dev).
	OriginRequired *bool
	AllowedOrigins []string

	// DevInsecure skips TLS verification (dev-only knob, not an origin policy).
	DevInsecure bool

	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	HandshakeTimeout time.Duration
	SendQueueSize    int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

// WSGateway is the WebSocket entrypoint for Courier.
//
// It enforces origin policy and subprotocol selection, runs the in-band
// authentication handshake, and routes validated envelopes to the Service.
type WSGateway struct {
	log     *slog.Logger
	svc     *Service
	metrics *Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout     time.Duration
	readIdleTimeout  time.Duration
	handshakeTimeout time.Duration
	sendQueueSize    int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
func NewWSGateway(log *slog.Logger, svc *Service, metrics *Metrics, opts GatewayOptions) *WSGateway {
	g := &WSGateway{log: log, svc: svc, metrics: metrics}

	g.devInsecure = opts.DevInsecure
	g.originRequired = true
	if opts.OriginRequired != nil {
		g.originRequired = *opts.OriginRequired
	}
	g.allowedOrigins = opts.AllowedOrigins
	if len(g.allowedOrigins) == 0 {
		g.allowedOrigins = []string{"http://localhost", "http://127.0.0.1"}
	}
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = nonZero(opts.WriteTimeout, wsDefaultWriteTimeout)
	g.readIdleTimeout = nonZero(opts.ReadIdleTimeout, wsDefaultReadIdle)
	g.handshakeTimeout = nonZero(opts.HandshakeTimeout, wsDefaultHandshakeTimeout)

	g.sendQueueSize = opts.SendQueueSize
	if g.sendQueueSize <= 0 {
		g.sendQueueSize = wsDefaultSendQueueSize
	}
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = nonZero(opts.HeartbeatInterval, heartbeatInterval)
	g.heartbeatTimeout = nonZero(opts.HeartbeatTimeout, heartbeatTimeout)

	g.rateEvents = opts.RateEvents
	if g.rateEvents <= 0 {
		g.rateEvents = rateLimitEvents
	}
	g.rateWindow = nonZero(opts.RateWindow, rateLimitWindow)

	return g
}

func nonZero(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the chat loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Accept() authorizes same-host origins only; cross-origin requests
		// need the allowed origin hosts spelled out.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client, ok := g.admit(ctx, conn)
	if !ok {
		return
	}

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: presence removal happens before client.Close (inside
	// Service.Disconnect via Tracker.Unregister).
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			// Use a fresh context: the request context is already dying on
			// most teardown paths and the disconnect bookkeeping must run.
			g.svc.Disconnect(context.Background(), client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", client.ConnID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", client.ConnID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", client.ConnID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypePrivateMessage:
			var p v1.MessagePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				g.trySendError(ctx, client, "bad_payload", "invalid payload")
				continue readLoop
			}
			if err := g.svc.SendPrivate(ctx, client, p); err != nil {
				g.trySendError(ctx, client, "send_failed", err.Error())
				continue readLoop
			}

		case v1.TypeUserMessages:
			var p v1.UserMessagesPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				g.trySendError(ctx, client, "bad_payload", "invalid payload")
				continue readLoop
			}
			if err := g.svc.PeerHistory(ctx, client, p); err != nil {
				g.trySendError(ctx, client, "history_failed", err.Error())
				continue readLoop
			}

		case v1.TypeHello:
			g.trySendError(ctx, client, "already_authenticated", "hello already processed")

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// admit runs the in-band authentication handshake: the first envelope must be
// a valid hello, resolved by the Service before the connection joins any
// broadcast group. Rejections write an error envelope straight to the socket
// and close it; nothing is registered and nothing fans out.
func (g *WSGateway) admit(ctx context.Context, conn *websocket.Conn) (*Client, bool) {
	hsCtx, hsCancel := context.WithTimeout(ctx, g.handshakeTimeout)
	env, err := readEnvelope(hsCtx, conn)
	hsCancel()
	if err != nil {
		g.log.Info("ws.handshake.read.fail", "err", err)
		g.metrics.HandshakeRejected("no_hello")
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return nil, false
	}

	if err := env.Validate(); err != nil || env.Type != v1.TypeHello {
		g.writeHandshakeError(ctx, conn, "hello_required", "first envelope must be hello")
		g.metrics.HandshakeRejected("no_hello")
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return nil, false
	}

	var hello v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		g.writeHandshakeError(ctx, conn, "bad_payload", "invalid hello payload")
		g.metrics.HandshakeRejected("bad_payload")
		_ = conn.Close(websocket.StatusPolicyViolation, "bad hello")
		return nil, false
	}

	client, err := g.svc.Connect(ctx, hello, g.sendQueueSize)
	if err != nil {
		code := "handshake_failed"
		switch {
		case errors.Is(err, ErrInvalidUsername):
			code = "invalid_username"
		case errors.Is(err, ErrInvalidSession):
			code = "invalid_session"
		}
		g.log.Info("ws.handshake.reject", "code", code, "err", err)
		g.writeHandshakeError(ctx, conn, code, err.Error())
		g.metrics.HandshakeRejected(code)
		_ = conn.Close(websocket.StatusPolicyViolation, code)
		return nil, false
	}

	return client, true
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// writeHandshakeError writes directly to the socket: rejected connections
// never get a Client or a writer goroutine.
func (g *WSGateway) writeHandshakeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = writeEnvelope(ctx, conn, env, g.writeTimeout)
}

// ---- envelope IO ----

// errBadJSON marks decode failures so the read loop can keep the connection
// open instead of tearing it down.
var errBadJSON = errors.New("bad json")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	if errors.Is(err, errBadJSON) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)

	return out
}
