package http

import (
	"context"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/msgroom-server/internal/config"
	"github.com/vovakirdan/msgroom-server/internal/identity"
	"github.com/vovakirdan/msgroom-server/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, nil)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketAuthAndMessage(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, aliceAuth := env.login(t, ctx, "203.0.113.1", "alice")
	if aliceAuth.Identity != identity.Derive("203.0.113.1", false) {
		t.Fatalf("identity not derived from proxy header: %q", aliceAuth.Identity)
	}
	bob, _ := env.login(t, ctx, "203.0.113.2", "bob")

	send(t, ctx, alice, proto.InboundTypeMessage, proto.MessageData{Content: "hi there"})

	var msg proto.Message
	readUntil(t, ctx, bob, "message", &msg)
	if msg.User != "alice" || msg.Content != "hi there" || msg.SessionID != aliceAuth.SessionID {
		t.Fatalf("unexpected message payload: %+v", msg)
	}
	if msg.Date == "" || msg.Color == "" {
		t.Fatalf("message missing date or color: %+v", msg)
	}
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, "203.0.113.1")
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var perr proto.Error
	readUntil(t, ctx, conn, "mrcs-error", &perr)
	if perr.Code != "bad-request" {
		t.Fatalf("expected bad-request, got %+v", perr)
	}

	send(t, ctx, conn, "dance", struct{}{})
	readUntil(t, ctx, conn, "mrcs-error", &perr)
	if perr.Code != "bad-request" {
		t.Fatalf("expected bad-request for unknown type, got %+v", perr)
	}

	send(t, ctx, conn, proto.InboundTypeAuth, proto.AuthData{User: "alice"})
	readUntil(t, ctx, conn, "auth-complete", nil)
}

func TestWebSocketAuthErrorClosesConnection(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, "203.0.113.1")
	send(t, ctx, conn, proto.InboundTypeAuth, proto.AuthData{User: "System"})

	var authErr proto.AuthError
	readUntil(t, ctx, conn, "auth-error", &authErr)
	if authErr.Reason != "invalid-nickname" {
		t.Fatalf("unexpected reason: %+v", authErr)
	}

	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v (%v)", status, err)
	}
}

func TestWebSocketAuthTimeout(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) {
		cfg.AuthTimeout = 100 * time.Millisecond
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, "203.0.113.1")
	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v (%v)", status, err)
	}
}

func TestWebSocketConnectionThrottle(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) {
		cfg.ConnectRate = 0.001
		cfg.ConnectBurst = 1
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env.dial(t, ctx, "203.0.113.7")

	wsURL := "ws" + env.ts.URL[len("http"):] + "/ws"
	_, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Cf-Connecting-Ip": {"203.0.113.7"}},
	})
	if err == nil {
		t.Fatalf("expected the second connection to be throttled")
	}
	if resp == nil || resp.StatusCode != 429 {
		t.Fatalf("expected 429, got %+v", resp)
	}
}

func TestWebSocketIgnoresHeaderFromUntrustedPeer(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) {
		cfg.TrustedProxies = nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, loopback := range []string{"127.0.0.1", "::1"} {
		if _, err := env.hub.Ban(ctx, identity.Derive(loopback, false)); err != nil {
			t.Fatalf("ban %s: %v", loopback, err)
		}
	}

	conn := env.dial(t, ctx, "1.2.3.4")
	send(t, ctx, conn, proto.InboundTypeAuth, proto.AuthData{User: "mallory"})

	var authErr proto.AuthError
	readUntil(t, ctx, conn, "auth-error", &authErr)
	if authErr.Reason != "banned" {
		t.Fatalf("expected banned, got %+v", authErr)
	}
}
