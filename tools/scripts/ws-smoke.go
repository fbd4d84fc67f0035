// Package main is a manual smoke client for the realtime gateway.
//
// It mints two dev sessions (the server must run with IMSG_DEV_SESSIONS=true), then checks:
//   - handshake, subprotocol and auth
//   - room join with presence fan-out to the other member
//   - status change delivery
//   - dm_open, dm_send, dm_message echo and dm_incoming for the recipient
//   - ping/pong
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	v1 "protoimsg/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20

type frame struct {
	Type string
	Raw  []byte
}

type smokeClient struct {
	name string
	did  string
	conn *websocket.Conn

	inbox chan frame
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "HTTP base URL for dev sessions")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		room    = flag.String("room", "smoke-room", "Room to join")
		text    = flag.String("text", "hello from the smoke test", "DM text to send")
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
	suffix := time.Now().UnixNano()

	a := mustConnect(root, "A", fmt.Sprintf("did:plc:smokea%d", suffix), *apiURL, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	b := mustConnect(root, "B", fmt.Sprintf("did:plc:smokeb%d", suffix), *apiURL, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.did, b.did, *origin)
	}

	mustJoin(root, a, *room, *timeout)
	mustJoin(root, b, *room, *timeout)
	mustSeePresence(root, a, b.did, "online", *timeout)

	mustWrite(root, b, v1.TypeStatusChange, v1.StatusChange{Status: "away", AwayMessage: "smoke"}, *timeout)
	mustSeePresence(root, a, b.did, "away", *timeout)

	mustWrite(root, a, v1.TypeDMOpen, v1.DMOpen{RecipientDID: b.did}, *timeout)
	var opened v1.DMOpened
	a.mustReadInto(root, v1.TypeDMOpened, &opened, *timeout)
	if opened.RecipientDID != b.did || opened.ConversationID == "" {
		fatalf("dm_opened mismatch: %+v", opened)
	}

	mustWrite(root, a, v1.TypeDMSend, v1.DMSend{ConversationID: opened.ConversationID, Text: *text}, *timeout)
	var echo v1.DMMessageEvent
	a.mustReadInto(root, v1.TypeDMMessage, &echo, *timeout)
	if echo.Data.Text != *text || echo.Data.SenderDID != a.did {
		fatalf("dm_message echo mismatch: %+v", echo.Data)
	}
	var incoming v1.DMIncoming
	b.mustReadInto(root, v1.TypeDMIncoming, &incoming, *timeout)
	if incoming.ConversationID != opened.ConversationID || incoming.SenderDID != a.did {
		fatalf("dm_incoming mismatch: %+v", incoming)
	}

	mustWrite(root, b, v1.TypePing, struct{}{}, *timeout)
	b.mustReadInto(root, v1.TypePong, nil, *timeout)

	fmt.Printf("OK: A=%s B=%s room=%s conversation=%s\n", a.did, b.did, *room, opened.ConversationID)
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

func mintSession(ctx context.Context, apiURL, did string) (string, error) {
	body, _ := json.Marshal(map[string]string{"did": did, "handle": strings.TrimPrefix(did, "did:plc:") + ".smoke"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(apiURL, "/")+"/v1/dev/sessions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("dev session: status %d (is IMSG_DEV_SESSIONS=true?)", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func mustConnect(parent context.Context, name, did, apiURL, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	tok, err := mintSession(ctx, apiURL, did)
	if err != nil {
		fatalf("session %s: %v", name, err)
	}

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	assertSubprotocol(resp, v1.Subprotocol)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		did:   did,
		conn:  conn,
		inbox: make(chan frame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, c, v1.TypeAuth, v1.Auth{Token: tok}, stepTimeout)
	var ok v1.AuthSuccess
	c.mustReadInto(parent, v1.TypeAuthSuccess, &ok, stepTimeout)
	if ok.DID != did {
		fatalf("auth_success did mismatch (%s): got=%q want=%q", name, ok.DID, did)
	}
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != "" && got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unexpected message type: %v", mt))
				return
			}
			var head struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &head); err != nil || head.Type == "" {
				c.fail(fmt.Errorf("bad frame: %s", data))
				return
			}
			select {
			case c.inbox <- frame{Type: head.Type, Raw: data}:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustJoin(parent context.Context, c *smokeClient, room string, stepTimeout time.Duration) {
	mustWrite(parent, c, v1.TypeJoinRoom, v1.JoinRoom{RoomID: room}, stepTimeout)
	var joined v1.RoomJoined
	c.mustReadInto(parent, v1.TypeRoomJoined, &joined, stepTimeout)
	if joined.RoomID != room {
		fatalf("room_joined mismatch (%s): got=%q want=%q", c.name, joined.RoomID, room)
	}
}

func mustSeePresence(parent context.Context, c *smokeClient, did, status string, stepTimeout time.Duration) {
	deadline := time.Now().Add(stepTimeout)
	for time.Now().Before(deadline) {
		var p v1.Presence
		c.mustReadInto(parent, v1.TypePresence, &p, time.Until(deadline))
		if p.Data.DID == did && p.Data.Status == status {
			return
		}
	}
	fatalf("%s never saw %s as %s", c.name, did, status)
}

func mustWrite(parent context.Context, c *smokeClient, typ string, body any, stepTimeout time.Duration) {
	raw, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal %s: %v", typ, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		fatalf("marshal %s: %v", typ, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	m["type"] = typ
	out, _ := json.Marshal(m)

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, out); err != nil {
		fatalf("write %s (%s): %v", typ, c.name, err)
	}
}

// mustReadInto skips frames until one of type typ arrives. Server error frames abort.
func (c *smokeClient) mustReadInto(parent context.Context, typ string, dst any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s)", typ, c.name)
		case err := <-c.errCh:
			fatalf("connection closed (%s): %v", c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %s (%s)", typ, c.name)
			}
			if f.Type == v1.TypeError && typ != v1.TypeError {
				var e v1.Error
				_ = json.Unmarshal(f.Raw, &e)
				fatalf("server error (%s): code=%q msg=%q", c.name, e.Code, e.Message)
			}
			if f.Type != typ {
				continue
			}
			if dst != nil {
				if err := json.Unmarshal(f.Raw, dst); err != nil {
					fatalf("decode %s (%s): %v", typ, c.name, err)
				}
			}
			return
		}
	}
}

func closeWS(conn *websocket.Conn) {
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "smoke done")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
