package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/msgroom-server/internal/core"
	"github.com/vovakirdan/msgroom-server/internal/identity"
	"github.com/vovakirdan/msgroom-server/internal/proto"
)

var (
	errAuthTimeout  = errors.New("authentication timeout")
	errClosedByCore = errors.New("closed by server")
)

// WSConfig configures the WebSocket endpoint.
type WSConfig struct {
	AuthTimeout    time.Duration
	MaxFrameBytes  int64
	OriginPatterns []string
}

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub      *core.Hub
	cfg      WSConfig
	resolver *identity.AddrResolver
	limiter  *ipLimiter
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. A nil limiter disables
// connection throttling; a nil resolver identifies clients by their
// transport address.
func NewWSHandler(hub *core.Hub, cfg WSConfig, resolver *identity.AddrResolver, limiter *ipLimiter, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, cfg: cfg, resolver: resolver, limiter: limiter, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	addr := h.resolver.SourceAddr(r)
	if !h.limiter.allow(addr) {
		stdhttp.Error(w, "too many connections", stdhttp.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(h.cfg.OriginPatterns) == 0,
		OriginPatterns:     h.cfg.OriginPatterns,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.cfg.MaxFrameBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxFrameBytes)
	}

	client := core.NewClient(uuid.NewString(), addr)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 3)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.authWatch(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutines
	<-errCh
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
	case errors.Is(err, errClosedByCore), errors.Is(err, errAuthTimeout):
		h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("ws connection closed by server")
	default:
		if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
			break
		}
		h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		status = websocket.StatusInternalError
		reason = "internal error"
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var env proto.Envelope
		if typ != websocket.MessageText || json.Unmarshal(data, &env) != nil || env.Type == "" {
			if err := wsjson.Write(ctx, conn, errorFrame(core.ErrCodeBadRequest, "malformed frame")); err != nil {
				return err
			}
			continue
		}

		cmd, err := inboundToCommand(env)
		if err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Str("type", env.Type).Msg("rejected inbound frame")
			if err := wsjson.Write(ctx, conn, errorFrame(core.ErrCodeBadRequest, err.Error())); err != nil {
				return err
			}
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-client.Done():
			// The write loop flushes and closes the connection.
			<-ctx.Done()
			return ctx.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events:
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return h.flushAndClose(ctx, conn, client)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flushAndClose writes the events queued before the hub closed the client,
// then closes the socket with the hub's reason.
func (h *WSHandler) flushAndClose(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events:
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				return err
			}
		default:
			status, reason := closeStatus(client.CloseReason())
			conn.Close(status, reason)
			return errClosedByCore
		}
	}
}

func closeStatus(reason string) (websocket.StatusCode, string) {
	switch reason {
	case "":
		return websocket.StatusNormalClosure, "closing"
	case core.CloseShutdown:
		return websocket.StatusGoingAway, reason
	case core.CloseRestart:
		return websocket.StatusServiceRestart, reason
	default:
		return websocket.StatusPolicyViolation, reason
	}
}

// authWatch closes connections that do not authenticate in time.
func (h *WSHandler) authWatch(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	if h.cfg.AuthTimeout <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	timer := time.NewTimer(h.cfg.AuthTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		if !client.Authenticated() {
			h.log.Debug().Str("conn_id", client.ID).Msg("auth timeout")
			conn.Close(websocket.StatusPolicyViolation, errAuthTimeout.Error())
			return errAuthTimeout
		}
		<-ctx.Done()
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
