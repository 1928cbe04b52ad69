package core

import (
	"context"
	"sort"

	"github.com/vovakirdan/msgroom-server/internal/identity"
	"github.com/vovakirdan/msgroom-server/internal/store"
)

// do runs fn on the hub goroutine and waits for it to finish. ctx only
// bounds the wait for a slot on the loop: once fn is queued the caller waits
// for it, since fn writes into the caller's variables.
func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	call := func() {
		defer close(finished)
		fn()
	}
	select {
	case h.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		// The loop may have exited with the call still queued.
		select {
		case <-finished:
			return nil
		default:
			return ErrHubStopped
		}
	}
}

// ListSessions returns the visible sessions ordered by connection time.
func (h *Hub) ListSessions(ctx context.Context) ([]UserInfo, error) {
	var out []UserInfo
	err := h.do(ctx, func() {
		out = make([]UserInfo, 0, len(h.sessions))
		for _, s := range h.sessions {
			if h.mod.IsShadowbanned(s.Identity) {
				continue
			}
			out = append(out, s.Info())
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out, err
}

// SessionInfo looks a session up by session id, or the first live session of
// an identity.
func (h *Hub) SessionInfo(ctx context.Context, target string) (UserInfo, bool, error) {
	var (
		info  UserInfo
		found bool
	)
	err := h.do(ctx, func() {
		s, ok := h.sessions[target]
		if !ok {
			sessions := h.sessionsOf(target)
			if len(sessions) == 0 {
				return
			}
			sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
			s = sessions[0]
		}
		if h.mod.IsShadowbanned(s.Identity) {
			return
		}
		info, found = s.Info(), true
	})
	return info, found, err
}

// Disconnect closes the session with the given id, or every session of an
// identity. It returns the number of sessions closed.
func (h *Hub) Disconnect(ctx context.Context, target string) (int, error) {
	var n int
	err := h.do(ctx, func() {
		var sessions []*Session
		if s, ok := h.sessions[target]; ok {
			sessions = []*Session{s}
		} else {
			sessions = h.sessionsOf(target)
		}
		for _, s := range sessions {
			h.kick(s, "You have been disconnected by a moderator.", "disconnected")
		}
		n = len(sessions)
	})
	return n, err
}

// Ban bans the identity behind target and disconnects its sessions. found is
// false when target is neither a live session nor an identity.
func (h *Hub) Ban(ctx context.Context, target string) (found bool, err error) {
	callErr := h.do(ctx, func() {
		id, _, ok := h.resolveTarget(target)
		if !ok {
			return
		}
		found = true
		_, err = h.banIdentity(id)
	})
	if callErr != nil {
		return false, callErr
	}
	return found, err
}

// Unban lifts a ban. It reports whether id was banned.
func (h *Hub) Unban(ctx context.Context, id string) (changed bool, err error) {
	if !identity.Valid(id) {
		return false, nil
	}
	callErr := h.do(ctx, func() {
		changed, err = h.mod.Unban(h.ctx, id)
	})
	if callErr != nil {
		return false, callErr
	}
	return changed, err
}

// Keys lists the staff keys.
func (h *Hub) Keys(ctx context.Context) ([]store.KeyInfo, error) {
	var keys []store.KeyInfo
	err := h.do(ctx, func() {
		keys = h.mod.Keys()
	})
	return keys, err
}

// AddKey creates or updates a staff key.
func (h *Hub) AddKey(ctx context.Context, key string, flags store.FlagSet) (err error) {
	if callErr := h.do(ctx, func() {
		err = h.mod.AddKey(h.ctx, key, flags)
	}); callErr != nil {
		return callErr
	}
	return err
}

// DeleteKey removes a staff key. Sessions keep flags they already hold until
// they reconnect.
func (h *Hub) DeleteKey(ctx context.Context, key string) (deleted bool, err error) {
	if callErr := h.do(ctx, func() {
		deleted, err = h.mod.DeleteKey(h.ctx, key)
	}); callErr != nil {
		return false, callErr
	}
	return deleted, err
}

// SystemMessage sends a message from System to channel, or to everyone when
// channel is empty. A non-empty typ sends a sys-message notice instead.
func (h *Hub) SystemMessage(ctx context.Context, channel, typ, content string) error {
	return h.do(ctx, func() {
		var ev *Event
		if typ == "" {
			ev = &Event{Kind: EventMessage, Message: systemMessage(content, channel)}
		} else {
			ev = &Event{Kind: EventSysMessage, Sys: &SysMessage{Type: typ, Content: content}}
		}
		if channel != "" {
			h.broadcast(channel, ev)
			return
		}
		for _, s := range h.sessions {
			s.client.send(ev)
		}
	})
}

// LockChannel sets a channel password.
func (h *Hub) LockChannel(ctx context.Context, channel, password string) (err error) {
	if callErr := h.do(ctx, func() {
		ch, ok := h.channelFor(channel)
		if !ok {
			err = coreError(ErrCodeInvalidChannel, "invalid channel name")
			return
		}
		err = h.mod.LockChannel(h.ctx, ch, password)
	}); callErr != nil {
		return callErr
	}
	return err
}

// UnlockChannel removes a channel password.
func (h *Hub) UnlockChannel(ctx context.Context, channel string) (changed bool, err error) {
	if callErr := h.do(ctx, func() {
		ch, ok := h.channelFor(channel)
		if !ok {
			err = coreError(ErrCodeInvalidChannel, "invalid channel name")
			return
		}
		changed, err = h.mod.UnlockChannel(h.ctx, ch)
	}); callErr != nil {
		return false, callErr
	}
	return changed, err
}

// Restart disconnects every client and reloads the moderation record.
func (h *Hub) Restart(ctx context.Context) (err error) {
	if callErr := h.do(ctx, func() {
		for c := range h.clients {
			if c.session != nil {
				h.notice(c.session, NoticeInfo, "The server is restarting.")
				h.endSession(c.session)
			}
			c.close(CloseRestart)
		}
		h.clients = make(map[*Client]struct{})
		err = h.mod.Reload(h.ctx)
		h.log.Info().Err(err).Msg("hub restarted")
	}); callErr != nil {
		return callErr
	}
	return err
}

// Count returns the number of live sessions.
func (h *Hub) Count(ctx context.Context) (int, error) {
	var n int
	err := h.do(ctx, func() { n = len(h.sessions) })
	return n, err
}
