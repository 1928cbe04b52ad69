package core

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/msgroom-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustNotice waits for a sys-message with the given content.
func mustNotice(t *testing.T, c *Client, content string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := mustEvent(t, c.Events, EventSysMessage)
		if ev.Sys.Content == content {
			return
		}
	}
	t.Fatalf("notice %q not received", content)
}

// mustUpdate waits for a user-update about the session target.
func mustUpdate(t *testing.T, c *Client, target string) *UserUpdate {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := mustEvent(t, c.Events, EventUserUpdate)
		if ev.Update.Target == target {
			return ev.Update
		}
	}
	t.Fatalf("user-update for %s not received", target)
	return nil
}

func noEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event %v: %+v", kind, ev)
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func waitClosed(t *testing.T, c *Client) {
	t.Helper()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("client %s was not closed", c.ID)
	}
}

func testSettings() Settings {
	s := DefaultSettings()
	s.UserLimit = 0
	s.RateInterval = time.Minute
	return s
}

func startHub(t *testing.T, mod *store.Moderation, settings Settings) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(mod, settings)
	go hub.Run(ctx)
	return hub
}

func openModeration(t *testing.T, st *store.State) (*store.Moderation, *store.MemoryBackend) {
	t.Helper()

	backend := store.NewMemoryBackend(st)
	mod, err := store.Open(context.Background(), backend)
	if err != nil {
		t.Fatalf("open moderation: %v", err)
	}
	return mod, backend
}

func connect(hub *Hub, addr string, req *AuthRequest) *Client {
	c := NewClient(addr+"/"+req.User, addr)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandAuth, Auth: req}
	return c
}

// login authenticates a client and drains the handshake events, including
// the client's own join announcement.
func login(t *testing.T, hub *Hub, addr, name string) (*Client, *Event) {
	t.Helper()

	c := connect(hub, addr, &AuthRequest{User: name})
	done := mustEvent(t, c.Events, EventAuthComplete)
	mustEvent(t, c.Events, EventOnline)
	mustEvent(t, c.Events, EventUserJoin)
	return c, done
}

func say(c *Client, content string) {
	c.Commands <- &Command{Kind: CommandSendMessage, Content: content}
}

func sessionCount(t *testing.T, hub *Hub) int {
	t.Helper()

	n, err := hub.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
