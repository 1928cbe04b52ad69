package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/msgroom-server/internal/auth"
	"github.com/vovakirdan/msgroom-server/internal/config"
	"github.com/vovakirdan/msgroom-server/internal/core"
	"github.com/vovakirdan/msgroom-server/internal/identity"
	"github.com/vovakirdan/msgroom-server/internal/metrics"
	"github.com/vovakirdan/msgroom-server/internal/proto"
)

const testSecret = "test-secret"

type testEnv struct {
	ts  *httptest.Server
	hub *core.Hub
}

func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.AdminSecret = testSecret
	cfg.ConnectRate = 0
	cfg.IPHeader = identity.CloudflareHeader
	cfg.TrustedProxies = []string{"127.0.0.1", "::1"}
	if mutate != nil {
		mutate(&cfg)
	}

	settings := core.DefaultSettings()
	settings.RateInterval = time.Minute
	hub := core.NewHub(nil, settings)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	handler, err := NewRouter(ctx, Deps{
		Hub:     hub,
		Auth:    auth.NewService(cfg.AdminSecret, cfg.TokenTTL),
		Metrics: metrics.New(),
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub}
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, addr string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	header := stdhttp.Header{}
	if addr != "" {
		header.Set(identity.CloudflareHeader, addr)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Envelope{Type: typ, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil reads frames until one of type typ arrives and decodes its data
// into out.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, out any) {
	t.Helper()

	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if env.Type != typ {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(env.Data, out); err != nil {
				t.Fatalf("decode %s: %v", typ, err)
			}
		}
		return
	}
}

func (e *testEnv) login(t *testing.T, ctx context.Context, addr, name string) (*websocket.Conn, proto.AuthComplete) {
	t.Helper()

	conn := e.dial(t, ctx, addr)
	send(t, ctx, conn, proto.InboundTypeAuth, proto.AuthData{User: name})
	var done proto.AuthComplete
	readUntil(t, ctx, conn, "auth-complete", &done)
	readUntil(t, ctx, conn, "online", nil)
	return conn, done
}
