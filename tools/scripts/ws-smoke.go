// Package main is a CI-friendly smoke test for the Gatehouse revocation push.
//
// It logs the same account in twice (a cookie-based web session and a bearer
// mobile session), opens /ws with the web session, revokes every session
// through the mobile one, and expects the socket to receive
// sessions.revoked_all and then close with policy violation.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "gatehouse.v1"
	maxReadBytes = 1 << 16
)

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type loginResponse struct {
	SessionID string `json:"session_id"`
	Tokens    *struct {
		Access string `json:"access"`
	} `json:"tokens"`
}

func main() {
	var (
		base       = flag.String("base", "http://127.0.0.1:8080", "Gatehouse base URL")
		origin     = flag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		identifier = flag.String("identifier", "demo@gatehouse.local", "login email or phone")
		password   = flag.String("password", "demo-kettle-42", "login password")
		timeout    = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose    = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	baseURL, err := validateBase(*base)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}
	root := context.Background()

	jar, _ := cookiejar.New(nil)
	web := &http.Client{Jar: jar, Timeout: *timeout}
	mobile := &http.Client{Timeout: *timeout}

	webLogin := mustLogin(web, baseURL, *identifier, *password, "web")
	mobileLogin := mustLogin(mobile, baseURL, *identifier, *password, "mobile")
	if mobileLogin.Tokens == nil || mobileLogin.Tokens.Access == "" {
		fatalf("mobile login returned no access token")
	}
	if *verbose {
		fmt.Printf("logged in: web=%s mobile=%s\n", webLogin.SessionID, mobileLogin.SessionID)
	}

	conn := mustConnect(root, web, baseURL, *origin, *timeout)
	defer func() { _ = conn.CloseNow() }()

	ack := mustRead(root, conn, *timeout)
	if ack.Type != "hello.ack" {
		fatalf("first frame: got %q want hello.ack", ack.Type)
	}
	if *verbose {
		fmt.Printf("hello.ack: %s\n", ack.Payload)
	}

	mustLogoutAll(mobile, baseURL, mobileLogin.Tokens.Access)

	ev := mustRead(root, conn, *timeout)
	if ev.Type != "sessions.revoked_all" {
		fatalf("push: got %q want sessions.revoked_all", ev.Type)
	}

	ctx, cancel := context.WithTimeout(root, *timeout)
	defer cancel()
	_, _, err = conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		fatalf("close: got status %d (%v) want %d", status, err, websocket.StatusPolicyViolation)
	}

	fmt.Printf("OK: web=%s revoked via mobile=%s\n", webLogin.SessionID, mobileLogin.SessionID)
}

func validateBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func mustLogin(c *http.Client, base *url.URL, identifier, password, clientType string) loginResponse {
	body, _ := json.Marshal(map[string]string{"identifier": identifier, "password": password})
	req, err := http.NewRequest(http.MethodPost, base.String()+"/auth/login", bytes.NewReader(body))
	if err != nil {
		fatalf("login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Type", clientType)

	resp, err := c.Do(req)
	if err != nil {
		fatalf("login %s: %v", clientType, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		fatalf("login %s: status %d: %s", clientType, resp.StatusCode, b)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("login %s: decode: %v", clientType, err)
	}
	return out
}

func mustLogoutAll(c *http.Client, base *url.URL, access string) {
	req, err := http.NewRequest(http.MethodPost, base.String()+"/auth/logout/all", nil)
	if err != nil {
		fatalf("logout-all request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+access)

	resp, err := c.Do(req)
	if err != nil {
		fatalf("logout-all: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatalf("logout-all: status %d", resp.StatusCode)
	}
}

func mustConnect(parent context.Context, c *http.Client, base *url.URL, origin string, timeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	wsURL := *base
	wsURL.Scheme = "ws"
	if base.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path = "/ws"

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL.String(), &websocket.DialOptions{
		HTTPClient:   c,
		HTTPHeader:   h,
		Subprotocols: []string{subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if conn.Subprotocol() != subprotocol {
		fatalf("subprotocol: got %q want %q", conn.Subprotocol(), subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustRead(parent context.Context, conn *websocket.Conn, timeout time.Duration) envelope {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		fatalf("read: unexpected message type %v", typ)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fatalf("read: bad envelope %q: %v", data, err)
	}
	return env
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
