package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/msgroom-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:4096/ws", "WebSocket address")
	user := flag.String("user", "cli-user", "nickname")
	channel := flag.String("channel", "", "channel to join (server default when empty)")
	staffKey := flag.String("staff-key", "", "staff key to authorize with")
	loginKey := flag.String("login-key", "", "login key, when the server requires one")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.InboundTypeAuth, proto.AuthData{
		User:     *user,
		Channel:  *channel,
		StaffKey: *staffKey,
		LoginKey: *loginKey,
	}); err != nil {
		return err
	}

	fmt.Printf("Connected to %s as %s\n", *addr, *user)
	fmt.Println("Type messages and press Enter. /nick <name>, /join <channel>, /block <id>, /unblock <id>; /a help for moderation. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
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

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch status := websocket.CloseStatus(err); status {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			case -1:
				log.Printf("read error: %v", err)
			default:
				log.Printf("connection closed (%d): %v", status, err)
			}
			return
		}
		printEvent(env)
	}
}

func printEvent(env proto.Envelope) {
	switch env.Type {
	case "message":
		var m proto.Message
		if json.Unmarshal(env.Data, &m) == nil {
			fmt.Printf("[%s] %s: %s\n", m.Channel, m.User, m.Content)
			return
		}
	case "sys-message":
		var m proto.SysMessage
		if json.Unmarshal(env.Data, &m) == nil {
			fmt.Printf("* [%s] %s\n", m.Type, m.Content)
			return
		}
	case "user-join", "user-leave":
		var u proto.User
		if json.Unmarshal(env.Data, &u) == nil {
			verb := "joined"
			if env.Type == "user-leave" {
				verb = "left"
			}
			fmt.Printf("* %s (%s) %s %s\n", u.User, u.SessionID, verb, u.Channel)
			return
		}
	case "nick-changed":
		var n proto.NickChanged
		if json.Unmarshal(env.Data, &n) == nil {
			fmt.Printf("* %s is now %s\n", n.OldUser, n.NewUser)
			return
		}
	case "auth-error":
		var e proto.AuthError
		if json.Unmarshal(env.Data, &e) == nil {
			fmt.Printf("! auth failed: %s %s\n", e.Reason, e.Message)
			return
		}
	}
	fmt.Printf("%s %s\n", env.Type, string(env.Data))
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := dispatch(ctx, conn, text); err != nil {
				log.Print(err)
				return
			}
		}
	}
}

// dispatch maps local shortcuts onto protocol frames; anything else, /a
// commands included, goes out as a chat message.
func dispatch(ctx context.Context, conn *websocket.Conn, text string) error {
	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	switch {
	case cmd == "/nick" && arg != "":
		return send(ctx, conn, proto.InboundTypeChangeUser, proto.ChangeUserData{Name: arg})
	case cmd == "/join" && arg != "":
		return send(ctx, conn, proto.InboundTypeSwitchChannel, proto.SwitchChannelData{Channel: arg})
	case cmd == "/block" && arg != "":
		return send(ctx, conn, proto.InboundTypeBlockUser, proto.BlockUserData{User: arg})
	case cmd == "/unblock" && arg != "":
		return send(ctx, conn, proto.InboundTypeUnblockUser, proto.BlockUserData{User: arg})
	default:
		return send(ctx, conn, proto.InboundTypeMessage, proto.MessageData{Content: text})
	}
}
