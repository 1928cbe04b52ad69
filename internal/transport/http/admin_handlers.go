package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/msgroom-server/internal/auth"
	"github.com/vovakirdan/msgroom-server/internal/core"
	"github.com/vovakirdan/msgroom-server/internal/store"
)

// SuccessResponse is returned by mutating endpoints.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// TokenRequest is the body of POST /token.
type TokenRequest struct {
	Secret  string `json:"secret" binding:"required"`
	Subject string `json:"subject"`
}

// TokenResponse carries an issued admin token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse is the public record of a session.
type UserResponse struct {
	User        string    `json:"user"`
	Color       string    `json:"color"`
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Flags       []string  `json:"flags"`
	Channel     string    `json:"channel"`
	ConnectedAt time.Time `json:"connected_at"`
}

// AdminHandlers serves the control plane.
type AdminHandlers struct {
	hub         *core.Hub
	authService *auth.Service
	stop        func()
	log         *zerolog.Logger
}

// NewAdminHandlers creates the control-plane handlers. stop is invoked by
// POST /server/stop and may be nil.
func NewAdminHandlers(hub *core.Hub, authService *auth.Service, stop func(), logger *zerolog.Logger) *AdminHandlers {
	return &AdminHandlers{hub: hub, authService: authService, stop: stop, log: logger}
}

func toUserResponse(u core.UserInfo) UserResponse {
	flags := u.Flags
	if flags == nil {
		flags = []string{}
	}
	return UserResponse{
		User:        u.User,
		Color:       u.Color,
		ID:          u.ID,
		SessionID:   u.SessionID,
		Flags:       flags,
		Channel:     u.Channel,
		ConnectedAt: u.ConnectedAt,
	}
}

func (h *AdminHandlers) fail(c *gin.Context, op string, err error) {
	if errors.Is(err, core.ErrHubStopped) || errors.Is(err, context.Canceled) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "server unavailable"})
		return
	}
	h.log.Error().Err(err).Str("op", op).Msg("control plane request failed")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

func requireQuery(c *gin.Context, name string) (string, bool) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: name + " is required"})
		return "", false
	}
	return v, true
}

// Ping reports liveness.
// GET /ping
func (h *AdminHandlers) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "pong"})
}

// Token exchanges the admin secret for a short-lived token.
// POST /token
func (h *AdminHandlers) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := h.authService.Authorize("Bearer " + req.Secret); err != nil {
		if errors.Is(err, auth.ErrDisabled) {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "control plane disabled"})
			return
		}
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	}
	token, expires, err := h.authService.IssueToken(req.Subject)
	if err != nil {
		h.fail(c, "token", err)
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expires})
}

// ListUsers lists the visible sessions.
// GET /users/list
func (h *AdminHandlers) ListUsers(c *gin.Context) {
	users, err := h.hub.ListSessions(c.Request.Context())
	if err != nil {
		h.fail(c, "users.list", err)
		return
	}
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	c.JSON(http.StatusOK, out)
}

// UserInfo describes one session.
// GET /user/info?id=
func (h *AdminHandlers) UserInfo(c *gin.Context) {
	id, ok := requireQuery(c, "id")
	if !ok {
		return
	}
	info, found, err := h.hub.SessionInfo(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "user.info", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	c.JSON(http.StatusOK, toUserResponse(info))
}

// ListKeys lists staff keys.
// GET /keys/list
func (h *AdminHandlers) ListKeys(c *gin.Context) {
	keys, err := h.hub.Keys(c.Request.Context())
	if err != nil {
		h.fail(c, "keys.list", err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

// AddKey creates or updates a staff key.
// POST /keys/add?key=&flags=staff,bot
func (h *AdminHandlers) AddKey(c *gin.Context) {
	key, ok := requireQuery(c, "key")
	if !ok {
		return
	}
	var names []string
	if raw := c.Query("flags"); raw != "" {
		names = strings.Split(raw, ",")
	}
	flags, err := store.ParseFlags(names)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.hub.AddKey(c.Request.Context(), key, flags); err != nil {
		h.fail(c, "keys.add", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// DeleteKey removes a staff key.
// POST /keys/delete?key=
func (h *AdminHandlers) DeleteKey(c *gin.Context) {
	key, ok := requireQuery(c, "key")
	if !ok {
		return
	}
	deleted, err := h.hub.DeleteKey(c.Request.Context(), key)
	if err != nil {
		h.fail(c, "keys.delete", err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "key not found"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// Disconnect closes a session, or every session of an identity.
// POST /user/disconnect?id=
func (h *AdminHandlers) Disconnect(c *gin.Context) {
	id, ok := requireQuery(c, "id")
	if !ok {
		return
	}
	n, err := h.hub.Disconnect(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "user.disconnect", err)
		return
	}
	if n == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "disconnected": n})
}

// Ban bans the identity behind a session id or identity.
// POST /user/ban?id=
func (h *AdminHandlers) Ban(c *gin.Context) {
	id, ok := requireQuery(c, "id")
	if !ok {
		return
	}
	found, err := h.hub.Ban(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "user.ban", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// Unban lifts a ban.
// POST /user/unban?id=
func (h *AdminHandlers) Unban(c *gin.Context) {
	id, ok := requireQuery(c, "id")
	if !ok {
		return
	}
	changed, err := h.hub.Unban(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "user.unban", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: changed})
}

// SendMessage broadcasts a message from System.
// POST /message/send?content=&type=&channel=
func (h *AdminHandlers) SendMessage(c *gin.Context) {
	content, ok := requireQuery(c, "content")
	if !ok {
		return
	}
	typ := c.Query("type")
	switch typ {
	case "", core.NoticeInfo, core.NoticeError:
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "type must be info or error"})
		return
	}
	if err := h.hub.SystemMessage(c.Request.Context(), c.Query("channel"), typ, content); err != nil {
		h.fail(c, "message.send", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// LockChannel sets a channel password.
// POST /channel/lock?channel=&password=
func (h *AdminHandlers) LockChannel(c *gin.Context) {
	channel, ok := requireQuery(c, "channel")
	if !ok {
		return
	}
	err := h.hub.LockChannel(c.Request.Context(), channel, c.Query("password"))
	var cerr *core.CoreError
	switch {
	case errors.As(err, &cerr), errors.Is(err, auth.ErrPasswordTooLong):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		h.fail(c, "channel.lock", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// UnlockChannel removes a channel password.
// POST /channel/unlock?channel=
func (h *AdminHandlers) UnlockChannel(c *gin.Context) {
	channel, ok := requireQuery(c, "channel")
	if !ok {
		return
	}
	changed, err := h.hub.UnlockChannel(c.Request.Context(), channel)
	var cerr *core.CoreError
	switch {
	case errors.As(err, &cerr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		h.fail(c, "channel.unlock", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: changed})
}

// Restart disconnects everyone and reloads the moderation record.
// POST /server/restart
func (h *AdminHandlers) Restart(c *gin.Context) {
	if err := h.hub.Restart(c.Request.Context()); err != nil {
		h.fail(c, "server.restart", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// Stop triggers a graceful shutdown after the response is written.
// POST /server/stop
func (h *AdminHandlers) Stop(c *gin.Context) {
	if h.stop == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "stop not supported"})
		return
	}
	h.log.Warn().Msg("stop requested through control plane")
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
	go h.stop()
}
