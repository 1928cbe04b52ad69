package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/vovakirdan/msgroom-server/internal/identity"
	"github.com/vovakirdan/msgroom-server/internal/store"
)

// MaxNameLength is the longest accepted display name in runes.
const MaxNameLength = 18

// MaxChannelLength is the longest accepted channel name in runes.
const MaxChannelLength = 32

// ValidName reports whether name can be used as a display name.
func ValidName(name string) bool {
	n := utf8.RuneCountInString(name)
	if n < 1 || n > MaxNameLength || name == SystemName {
		return false
	}
	if strings.TrimSpace(name) == "" {
		return false
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// channelFor normalizes a requested channel name.
func (h *Hub) channelFor(name string) (string, bool) {
	if !h.settings.ChannelsEnabled {
		return h.settings.DefaultChannel, true
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return h.settings.DefaultChannel, true
	}
	if utf8.RuneCountInString(name) > MaxChannelLength {
		return "", false
	}
	for _, r := range name {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return "", false
		}
	}
	return name, true
}

func (h *Hub) handleAuth(c *Client, req *AuthRequest) {
	if c.state != stateAwaitingAuth {
		return
	}
	if req == nil {
		req = &AuthRequest{}
	}

	addrID := identity.Derive(c.Addr, false)
	id := addrID
	if h.settings.RandomIDs {
		id = identity.Derive(c.Addr, true)
	}
	log := h.log.With().Str("conn_id", c.ID).Str("identity", id).Logger()

	if req.DisconnectAll {
		for _, s := range h.sessionsOf(id) {
			h.notice(s, NoticeInfo, "You have been logged in from somewhere else.")
			h.disconnect(s, "replaced by another session")
		}
	}

	if limit := h.settings.UserLimit; limit > 0 && len(h.sessionsOf(id)) >= limit {
		h.reject(c, ReasonTooManySessions, fmt.Sprintf("You can only have %d sessions open.", limit))
		return
	}
	if !ValidName(req.User) {
		h.reject(c, ReasonInvalidNickname, "This nickname is not allowed.")
		return
	}
	channel, ok := h.channelFor(req.Channel)
	if !ok {
		h.reject(c, ReasonInvalidChannel, "This channel name is not allowed.")
		return
	}
	if h.mod.ChannelLocked(channel) {
		if req.ChannelPassword == "" {
			h.reject(c, ReasonChannelLocked, "This channel is locked.")
			return
		}
		if !h.mod.CheckChannelPassword(channel, req.ChannelPassword) {
			h.reject(c, ReasonBadPassword, "Wrong channel password.")
			return
		}
	}
	if h.settings.RequireLoginKey {
		if req.LoginKey == "" {
			h.reject(c, ReasonMissingLoginKey, "A login key is required.")
			return
		}
		if !h.mod.LoginKeyValid(req.LoginKey) {
			h.reject(c, ReasonUnknownLoginKey, "This login key is not valid.")
			return
		}
	}
	if h.mod.IsBanned(id) || h.mod.IPDenied(addrID) {
		h.reject(c, ReasonBanned, "You are banned. ID: "+id)
		return
	}

	flags := h.mod.FlagsFor(id)
	var staffKeyNotice string
	if req.StaffKey != "" {
		granted, err := h.mod.Authorize(h.ctx, req.StaffKey, id)
		switch {
		case errors.Is(err, store.ErrUnknownKey):
			staffKeyNotice = "The staff key was not accepted."
		case err != nil:
			log.Error().Err(err).Msg("staff key redemption failed")
			staffKeyNotice = internalErrorNotice
		default:
			flags = flags.Union(granted)
		}
	}
	if req.Bot {
		flags = flags.With(store.FlagBot)
	}

	s := &Session{
		ID:           h.nextSessionID(id),
		Identity:     id,
		AddrIdentity: addrID,
		Name:         req.User,
		Color:        identity.Color(id),
		Flags:        flags,
		Channel:      channel,
		ConnectedAt:  time.Now().UTC(),
		client:       c,
		bot:          req.Bot,
		limiter:      newRateLimiter(h.settings.RateLimit, h.settings.RateInterval),
		blocked:      make(map[string]struct{}),
	}
	if h.settings.NickRateLimit > 0 {
		s.nickLimiter = newRateLimiter(h.settings.NickRateLimit, h.settings.RateInterval)
	}

	h.sessions[s.ID] = s
	c.session = s
	c.state = stateAuthenticated
	c.authed.Store(true)
	h.metrics.SessionOpened()

	info := h.serverInfo()
	c.send(&Event{Kind: EventAuthComplete, Identity: s.Identity, SessionID: s.ID})
	c.send(&Event{Kind: EventServerInfo, Info: &info})
	if h.settings.WelcomeMessage != "" {
		c.send(&Event{Kind: EventMessage, Message: systemMessage(h.settings.WelcomeMessage, s.Channel)})
	}
	c.send(&Event{Kind: EventOnline, Users: h.online(s)})
	if staffKeyNotice != "" {
		h.notice(s, NoticeError, staffKeyNotice)
	}
	if !h.mod.IsShadowbanned(id) {
		joined := s.Info()
		h.broadcast(s.Channel, &Event{Kind: EventUserJoin, User: &joined})
	}

	log.Info().
		Str("session_id", s.ID).
		Str("channel", s.Channel).
		Str("user", s.Name).
		Msg("session started")
}

// nextSessionID returns id suffixed with the smallest ordinal not used by a
// live session.
func (h *Hub) nextSessionID(id string) string {
	for n := 0; ; n++ {
		candidate := fmt.Sprintf("%s-%d", id, n)
		if _, taken := h.sessions[candidate]; !taken {
			return candidate
		}
	}
}

func (h *Hub) reject(c *Client, reason, msg string) {
	c.send(&Event{Kind: EventAuthError, Error: coreError(reason, msg)})
	c.state = stateRejected
	delete(h.clients, c)
	c.close(reason)
	h.metrics.AuthRejected(reason)
	h.log.Info().Str("conn_id", c.ID).Str("reason", reason).Msg("handshake rejected")
}

func (h *Hub) serverInfo() ServerInfo {
	return ServerInfo{
		Name:             h.settings.ServerName,
		Version:          h.settings.ServerVersion,
		ChannelsEnabled:  h.settings.ChannelsEnabled,
		DefaultChannel:   h.settings.DefaultChannel,
		UserLimit:        h.settings.UserLimit,
		LoginKeyRequired: h.settings.RequireLoginKey,
		RateLimit:        h.settings.RateLimit,
		RateInterval:     h.settings.RateInterval,
		MaxMessageLength: h.settings.MaxMessageLength,
		MaxNameLength:    MaxNameLength,
	}
}
