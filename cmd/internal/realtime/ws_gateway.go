package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"protoimsg/cmd/internal/auth/session"
	"protoimsg/cmd/internal/moderation"
	v1 "protoimsg/shared/contracts/realtime/v1"
)

// Authenticator resolves the credential carried by an auth frame.
type Authenticator interface {
	Verify(ctx context.Context, credential string) (session.Session, error)
}

// BanChecker reports globally banned identities.
type BanChecker interface {
	IsBanned(did string) bool
}

const (
	authPending int32 = iota
	authDone
	authTimedOut
)

// WSGateway is the websocket entrypoint.
//
// A connection must authenticate with its first frame; afterwards frames are rate limited,
// validated and dispatched in order by the read loop while a writer goroutine drains the
// bounded send queue.
type WSGateway struct {
	log     *slog.Logger
	reg     *Registry
	auth    Authenticator
	bans    BanChecker
	limiter moderation.RateLimiter
	cfg     GatewayConfig

	originPatterns []string
}

// NewWSGateway wires a gateway. bans and limiter may be nil.
func NewWSGateway(log *slog.Logger, reg *Registry, auth Authenticator, bans BanChecker, limiter moderation.RateLimiter, cfg GatewayConfig) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = wsDefaultSendQueueSize
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = wsDefaultAuthTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = wsDefaultWriteTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = wsDefaultMaxFrameBytes
	}
	if cfg.MaxPingFailures <= 0 {
		cfg.MaxPingFailures = wsMaxPingFailures
	}
	if cfg.RatePerSecond <= 0 || cfg.RateBurst <= 0 {
		cfg.RatePerSecond, cfg.RateBurst = rateLimitPerSecond, rateLimitBurst
	}
	return &WSGateway{
		log:            log,
		reg:            reg,
		auth:           auth,
		bans:           bans,
		limiter:        limiter,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a websocket connection and runs it until close.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	id, err := NewConnID(time.Now().UTC())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	client := NewClient(id, clientAddr(r, g.cfg.TrustProxy), g.cfg.SendQueueSize)

	if err := g.reg.Admit(client); err != nil {
		status := http.StatusTooManyRequests
		if errors.Is(err, ErrShuttingDown) {
			status = http.StatusServiceUnavailable
		}
		g.log.Info("ws.reject.admit", "err", err, "origin", client.Origin)
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer g.reg.Detach(client)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(g.cfg.MaxFrameBytes)

	client.setCloser(func(code websocket.StatusCode, reason string) {
		_ = conn.Close(code, reason)
	})
	if client.Closed() {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, client)
	}()

	if !g.authenticate(ctx, conn, client) {
		cancel()
		<-writerDone
		return
	}

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client)
	}()

	g.readLoop(ctx, conn, client)

	client.Close(websocket.StatusNormalClosure, "bye")
	cancel()
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// authenticate waits for the auth frame. Every failure closes the socket with its
// cause-specific code.
func (g *WSGateway) authenticate(ctx context.Context, conn *websocket.Conn, client *Client) bool {
	var state atomic.Int32
	timer := time.AfterFunc(g.cfg.AuthTimeout, func() {
		if state.CompareAndSwap(authPending, authTimedOut) {
			closesTotal.WithLabelValues("auth_timeout").Inc()
			g.log.Info("ws.auth.timeout", "conn_id", client.ID)
			client.Close(websocket.StatusCode(v1.CloseAuthTimeout), "auth timeout")
		}
	})
	defer timer.Stop()

	fail := func(code int, reason, metric string) bool {
		if !state.CompareAndSwap(authPending, authDone) {
			return false
		}
		closesTotal.WithLabelValues(metric).Inc()
		client.Close(websocket.StatusCode(code), reason)
		return false
	}

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return false
	}
	if typ != websocket.MessageText {
		return fail(v1.CloseProtocolViolation, "text frames only", "protocol_violation")
	}
	t, err := v1.PeekType(data)
	if err != nil || t != v1.TypeAuth {
		g.log.Info("ws.auth.protocol", "conn_id", client.ID, "type", t)
		return fail(v1.CloseProtocolViolation, "first message must be auth", "protocol_violation")
	}

	var msg v1.Auth
	if err := (v1.Frame{Type: t, Raw: data}).Body(&msg); err != nil || msg.Token == "" {
		return fail(v1.CloseProtocolViolation, "malformed auth", "protocol_violation")
	}

	sess, err := g.auth.Verify(ctx, msg.Token)
	if err != nil {
		if !session.IsCredentialError(err) {
			g.log.Warn("ws.auth.fail", "conn_id", client.ID, "err", err)
		}
		return fail(v1.CloseInvalidCredential, "invalid credential", "invalid_credential")
	}
	if g.bans != nil && g.bans.IsBanned(sess.DID) {
		g.log.Info("ws.auth.banned", "conn_id", client.ID, "did", sess.DID)
		return fail(v1.CloseInvalidCredential, "invalid credential", "invalid_credential")
	}

	if !state.CompareAndSwap(authPending, authDone) {
		return false
	}

	client.DID = sess.DID
	client.Handle = sess.Handle
	client.Enqueue(encode(v1.AuthSuccess{Type: v1.TypeAuthSuccess, DID: sess.DID, Handle: sess.Handle}))

	if err := g.reg.Attach(ctx, client); err != nil {
		g.log.Warn("ws.attach.fail", "conn_id", client.ID, "did", client.DID, "err", err)
	}
	g.log.Info("ws.auth.ok", "conn_id", client.ID, "did", client.DID)
	return true
}

func (g *WSGateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	connLimit := rate.NewLimiter(rate.Limit(g.cfg.RatePerSecond), g.cfg.RateBurst)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
				g.log.Debug("ws.read.fail", "conn_id", client.ID, "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			client.Enqueue(errorFrame(v1.ErrCodeInvalidMessage, "Text frames only"))
			continue
		}

		if !connLimit.Allow() {
			rateLimited.WithLabelValues("connection").Inc()
			client.Enqueue(errorFrame(v1.ErrCodeRateLimited, "Too many messages"))
			continue
		}
		if g.limiter != nil {
			ok, err := g.limiter.Check(ctx, "ws:"+client.DID)
			if err != nil {
				g.log.Warn("ws.ratelimit.fail", "did", client.DID, "err", err)
			} else if !ok {
				rateLimited.WithLabelValues("identity").Inc()
				client.Enqueue(errorFrame(v1.ErrCodeRateLimited, "Too many messages"))
				continue
			}
		}

		frame, err := v1.Decode(data)
		if err != nil {
			framesIn.WithLabelValues("unknown").Inc()
			client.Enqueue(errorFrame(v1.ErrCodeInvalidMessage, "Invalid message"))
			continue
		}
		framesIn.WithLabelValues(frame.Type).Inc()
		g.reg.Blocks().Touch(client.DID)

		if err := g.reg.Dispatch(ctx, client, frame); err != nil {
			ce, clientFault := describeError(err)
			if !clientFault {
				g.log.Error("ws.handler.fail", "conn_id", client.ID, "did", client.DID, "type", frame.Type, "err", err)
			}
			client.Enqueue(errorFrame(ce.Code, ce.Message))
		}
	}
}

func (g *WSGateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case frame := <-client.Outbound():
			wctx, cancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				g.log.Info("ws.write.fail", "conn_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
				_ = conn.CloseNow()
				return
			}
		}
	}
}

func (g *WSGateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client) {
	every := g.cfg.HeartbeatEvery
	if every <= 0 {
		every = heartbeatInterval
	}
	timeout := g.cfg.HeartbeatTimeout
	if timeout <= 0 {
		timeout = heartbeatTimeout
	}

	t := time.NewTicker(every)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, timeout)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			g.log.Info("ws.ping.fail", "conn_id", client.ID, "failures", failures, "err", err)
			if failures >= g.cfg.MaxPingFailures {
				closesTotal.WithLabelValues("heartbeat").Inc()
				client.Close(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}
