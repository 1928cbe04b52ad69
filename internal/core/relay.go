package core

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vovakirdan/msgroom-server/internal/identity"
)

const tooFastNotice = "You are doing this too much - please wait!"

func (h *Hub) handleMessage(s *Session, content string) {
	if strings.TrimSpace(content) == "" || utf8.RuneCountInString(content) > h.settings.MaxMessageLength {
		h.sendError(s, ErrCodeInvalidMessage, "message must be between 1 and "+strconv.Itoa(h.settings.MaxMessageLength)+" characters")
		return
	}
	if strings.HasPrefix(content, "/") {
		h.handleCommandText(s, strings.Fields(content[1:]))
		return
	}
	if !h.allowAction(s, "message") {
		return
	}

	msg := &Message{
		Type:      "text",
		Content:   content,
		User:      s.Name,
		Color:     s.Color,
		ID:        s.Identity,
		SessionID: s.ID,
		Flags:     s.Flags.Names(),
		Channel:   s.Channel,
		Date:      time.Now().UTC(),
	}
	h.broadcastFrom(s, &Event{Kind: EventMessage, Message: msg})
	h.metrics.MessageRelayed()
}

// allowAction charges the session's message limiter. Commands share the
// budget with chat messages.
func (h *Hub) allowAction(s *Session, action string) bool {
	if s.limiter.allow() {
		return true
	}
	h.metrics.RateLimited(action)
	h.notice(s, NoticeError, tooFastNotice)
	return false
}

// handleCommandText runs a command typed as a chat message or sent as
// admin-action.
func (h *Hub) handleCommandText(s *Session, args []string) {
	if !h.allowAction(s, "command") {
		return
	}
	h.handleAdmin(s, args)
}

func (h *Hub) handleChangeName(s *Session, name string) {
	if !ValidName(name) {
		h.sendError(s, ErrCodeInvalidNickname, "This nickname is not allowed.")
		return
	}
	if !s.nickAllowed() {
		h.metrics.RateLimited("nick")
		h.notice(s, NoticeError, tooFastNotice)
		return
	}
	change := &NickChange{OldUser: s.Name, NewUser: name, ID: s.Identity, SessionID: s.ID}
	s.Name = name
	h.broadcastFrom(s, &Event{Kind: EventNickChanged, Nick: change})
	h.log.Debug().Str("session_id", s.ID).Str("user", name).Msg("nickname changed")
}

func (h *Hub) handleSwitchChannel(s *Session, name, password string) {
	if !h.settings.ChannelsEnabled {
		h.sendError(s, ErrCodeChannelsDisabled, "channels are disabled on this server")
		return
	}
	channel, ok := h.channelFor(name)
	if !ok {
		h.sendError(s, ErrCodeInvalidChannel, "This channel name is not allowed.")
		return
	}
	if channel == s.Channel {
		h.notice(s, NoticeInfo, "You are already in #"+channel+".")
		return
	}
	if h.mod.ChannelLocked(channel) {
		if password == "" {
			h.sendError(s, ErrCodeChannelLocked, "This channel is locked.")
			return
		}
		if !h.mod.CheckChannelPassword(channel, password) {
			h.sendError(s, ErrCodeBadPassword, "Wrong channel password.")
			return
		}
	}
	from := s.Channel
	h.moveSession(s, channel)
	h.log.Debug().Str("session_id", s.ID).Str("from", from).Str("channel", channel).Msg("channel switched")
}

func (h *Hub) handleBlock(s *Session, target string, block bool) {
	id := target
	if other, ok := h.sessions[target]; ok {
		id = other.Identity
	} else if !identity.Valid(target) {
		h.sendError(s, ErrCodeUnknownUser, "User doesn't exist.")
		return
	}
	if id == s.Identity {
		h.notice(s, NoticeError, "You cannot block yourself.")
		return
	}

	if block {
		if s.blocks(id) {
			h.notice(s, NoticeInfo, "User is already blocked.")
			return
		}
		s.blocked[id] = struct{}{}
		h.notice(s, NoticeInfo, "User blocked.")
		return
	}
	if !s.blocks(id) {
		h.notice(s, NoticeInfo, "User is not blocked.")
		return
	}
	delete(s.blocked, id)
	h.notice(s, NoticeInfo, "User unblocked.")
}
