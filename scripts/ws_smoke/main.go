package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/msgroom-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run connects a sender and a listener to the same channel and checks that
// the listener receives the sender's message.
func run() error {
	addr := flag.String("addr", "ws://localhost:4096/ws", "WebSocket address")
	channel := flag.String("channel", "", "channel to use (server default when empty)")
	text := flag.String("text", "hello from smoke test", "message content to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	listener, err := login(ctx, *addr, "smoke-listener", *channel)
	if err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	defer listener.Close(websocket.StatusNormalClosure, "bye")

	sender, err := login(ctx, *addr, "smoke-sender", *channel)
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	defer sender.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, sender, proto.InboundTypeMessage, proto.MessageData{Content: *text}); err != nil {
		return err
	}

	var msg proto.Message
	if err := await(ctx, listener, "message", &msg); err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	if msg.Content != *text || msg.User != "smoke-sender" {
		return fmt.Errorf("unexpected message: %+v", msg)
	}

	log.Printf("ok: %s relayed %q in %s", msg.User, msg.Content, msg.Channel)
	return nil
}

func login(ctx context.Context, addr, user, channel string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if err := send(ctx, conn, proto.InboundTypeAuth, proto.AuthData{User: user, Channel: channel}); err != nil {
		conn.CloseNow()
		return nil, err
	}
	var done proto.AuthComplete
	if err := await(ctx, conn, "auth-complete", &done); err != nil {
		conn.CloseNow()
		return nil, err
	}
	log.Printf("%s authenticated: identity=%s session=%s", user, done.Identity, done.SessionID)
	return conn, nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Envelope{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// await reads frames until one of type typ arrives. An auth-error ends the
// wait early.
func await(ctx context.Context, conn *websocket.Conn, typ string, out any) error {
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return fmt.Errorf("waiting for %s: %w", typ, err)
		}
		switch env.Type {
		case typ:
			return json.Unmarshal(env.Data, out)
		case "auth-error":
			return fmt.Errorf("auth-error: %s", string(env.Data))
		}
	}
}
