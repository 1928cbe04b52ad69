package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/msgroom-server/internal/auth"
	"github.com/vovakirdan/msgroom-server/internal/identity"
	"github.com/vovakirdan/msgroom-server/internal/store"
)

const (
	internalErrorNotice = "Internal error, action not applied."
	unauthorizedNotice  = "Authorization check failed."
	unknownTargetNotice = "User doesn't exist."
)

func (h *Hub) handleAdmin(s *Session, args []string) {
	cmd, err := ParseAdminCommand(args)
	if err != nil {
		var cerr *CommandError
		if errors.As(err, &cerr) && cerr.Code == CmdErrMissingArgument &&
			RequiresElevation(cerr.Subcommand) && !s.Flags.Elevated() {
			h.notice(s, NoticeError, unauthorizedNotice)
			return
		}
		h.notice(s, NoticeError, err.Error())
		return
	}
	if RequiresElevation(cmd.Name()) && !s.Flags.Elevated() {
		h.log.Warn().Str("session_id", s.ID).Str("command", cmd.Name()).Msg("unauthorized admin command")
		h.notice(s, NoticeError, unauthorizedNotice)
		h.metrics.AdminCommand(cmd.Name(), false)
		return
	}

	ok := h.execAdmin(s, cmd)
	h.metrics.AdminCommand(cmd.Name(), ok)
	h.log.Info().
		Str("session_id", s.ID).
		Str("command", cmd.Name()).
		Bool("ok", ok).
		Msg("admin command")
}

func (h *Hub) execAdmin(s *Session, cmd AdminCommand) bool {
	switch c := cmd.(type) {
	case AuthCmd:
		return h.adminAuth(s, c.Key)
	case DisauthCmd:
		return h.adminDisauth(s)
	case StatusCmd:
		return h.adminStatus(s, c.Target)
	case BanCmd:
		return h.adminBan(s, c.Target)
	case UnbanCmd:
		return h.adminUnban(s, c.Target)
	case ShadowbanCmd:
		return h.adminShadowban(s, c.Target, true)
	case ShadowunbanCmd:
		return h.adminShadowban(s, c.Target, false)
	case WhitelistCmd:
		return h.adminIPList(s, c.Target, true)
	case BlacklistCmd:
		return h.adminIPList(s, c.Target, false)
	case DisconnectCmd:
		return h.adminDisconnect(s, c.Target)
	case AddLoginKeyCmd:
		return h.adminLoginKey(s, c.Key, true)
	case DelLoginKeyCmd:
		return h.adminLoginKey(s, c.Key, false)
	case LockCmd:
		return h.adminLock(s, c.Channel, c.Password)
	case UnlockCmd:
		return h.adminUnlock(s, c.Channel)
	case HelpCmd:
		h.notice(s, NoticeInfo, helpText())
		return true
	}
	return false
}

// resolveTarget maps a session id or identity to an identity and its live
// sessions.
func (h *Hub) resolveTarget(target string) (string, []*Session, bool) {
	if t, ok := h.sessions[target]; ok {
		return t.Identity, h.sessionsOf(t.Identity), true
	}
	if identity.Valid(target) {
		return target, h.sessionsOf(target), true
	}
	return "", nil, false
}

func (h *Hub) internalError(s *Session, op string, err error) bool {
	h.log.Error().Err(err).Str("session_id", s.ID).Str("command", op).Msg("admin command failed")
	h.notice(s, NoticeError, internalErrorNotice)
	return false
}

// kick notifies and disconnects t.
func (h *Hub) kick(t *Session, msg, reason string) {
	h.notice(t, NoticeError, msg)
	h.disconnect(t, reason)
}

func (h *Hub) adminAuth(s *Session, key string) bool {
	granted, err := h.mod.Authorize(h.ctx, key, s.Identity)
	if errors.Is(err, store.ErrUnknownKey) {
		h.notice(s, NoticeError, "Authorization failed.")
		return false
	}
	if err != nil {
		return h.internalError(s, "auth", err)
	}

	h.refreshFlags(s.Identity)
	h.notice(s, NoticeInfo, "You are now authenticated as "+granted.String()+".")
	return true
}

func (h *Hub) adminDisauth(s *Session) bool {
	revoked, err := h.mod.Disauthorize(h.ctx, s.Identity)
	if err != nil {
		return h.internalError(s, "disauth", err)
	}
	if revoked == 0 {
		h.notice(s, NoticeError, "You are not authenticated.")
		return false
	}

	h.refreshFlags(s.Identity)
	h.notice(s, NoticeInfo, "You are no longer authenticated.")
	return true
}

// refreshFlags recomputes the flags of every live session of id from the
// moderation record and announces the tags that changed.
func (h *Hub) refreshFlags(id string) {
	granted := h.mod.FlagsFor(id)
	for _, t := range h.sessionsOf(id) {
		next := granted
		if t.bot {
			next = next.With(store.FlagBot)
		}
		added := next.Without(t.Flags)
		removed := t.Flags.Without(next)
		t.Flags = next
		h.announceTags(t, UpdateTagAdd, added)
		h.announceTags(t, UpdateTagRemove, removed)
	}
}

// announceTags tells t's channel about flag changes on t. Shadowbanned
// sessions only hear about their own.
func (h *Hub) announceTags(t *Session, typ string, tags store.FlagSet) {
	hidden := h.mod.IsShadowbanned(t.Identity)
	for _, tag := range tags.Names() {
		ev := &Event{Kind: EventUserUpdate, Update: &UserUpdate{Type: typ, Tag: tag, Target: t.ID}}
		if hidden {
			t.client.send(ev)
			continue
		}
		h.broadcast(t.Channel, ev)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (h *Hub) adminStatus(s *Session, target string) bool {
	if target == "" {
		target = s.ID
	}
	id, sessions, ok := h.resolveTarget(target)
	if !ok {
		h.notice(s, NoticeError, unknownTargetNotice)
		return false
	}

	lines := []string{
		"ID: " + id,
		fmt.Sprintf("Sessions: %d", len(sessions)),
	}
	for _, t := range sessions {
		lines = append(lines, fmt.Sprintf("  %s %q #%s %s", t.ID, t.Name, t.Channel, t.Flags))
	}
	lines = append(lines,
		"Flags: "+h.mod.FlagsFor(id).String(),
		"Banned: "+yesNo(h.mod.IsBanned(id)),
		"Shadowbanned: "+yesNo(h.mod.IsShadowbanned(id)),
		"IP allow-listed: "+yesNo(h.mod.IsAllowListed(id)),
		"IP deny-listed: "+yesNo(h.mod.IPDenied(id)),
	)
	h.notice(s, NoticeInfo, strings.Join(lines, "\n"))
	return true
}

// banIdentity bans id and disconnects its live sessions. Nothing is
// disconnected when the flush fails.
func (h *Hub) banIdentity(id string) (bool, error) {
	changed, err := h.mod.Ban(h.ctx, id)
	if err != nil {
		return false, err
	}
	for _, t := range h.sessionsOf(id) {
		h.kick(t, "You have been banned.", ReasonBanned)
	}
	return changed, nil
}

func (h *Hub) adminBan(s *Session, target string) bool {
	id, _, ok := h.resolveTarget(target)
	if !ok {
		h.notice(s, NoticeError, unknownTargetNotice)
		return false
	}
	if id == s.Identity {
		h.notice(s, NoticeError, "You cannot ban yourself.")
		return false
	}
	changed, err := h.banIdentity(id)
	if err != nil {
		return h.internalError(s, "ban", err)
	}
	if !changed {
		h.notice(s, NoticeInfo, "User is already banned.")
		return true
	}
	h.notice(s, NoticeInfo, "User "+id+" banned.")
	return true
}

func (h *Hub) adminUnban(s *Session, target string) bool {
	id, _, ok := h.resolveTarget(target)
	if !ok {
		h.notice(s, NoticeError, unknownTargetNotice)
		return false
	}
	changed, err := h.mod.Unban(h.ctx, id)
	if err != nil {
		return h.internalError(s, "unban", err)
	}
	if !changed {
		h.notice(s, NoticeError, "User is not banned.")
		return false
	}
	h.notice(s, NoticeInfo, "User "+id+" unbanned.")
	return true
}

func (h *Hub) adminShadowban(s *Session, target string, on bool) bool {
	id, sessions, ok := h.resolveTarget(target)
	if !ok {
		h.notice(s, NoticeError, unknownTargetNotice)
		return false
	}
	if on && id == s.Identity {
		h.notice(s, NoticeError, "You cannot shadowban yourself.")
		return false
	}

	var (
		changed bool
		err     error
	)
	if on {
		changed, err = h.mod.Shadowban(h.ctx, id)
	} else {
		changed, err = h.mod.Shadowunban(h.ctx, id)
	}
	if err != nil {
		return h.internalError(s, "shadowban", err)
	}
	if !changed {
		if on {
			h.notice(s, NoticeInfo, "User is already shadowbanned.")
		} else {
			h.notice(s, NoticeError, "User is not shadowbanned.")
		}
		return on
	}

	for _, t := range sessions {
		info := t.Info()
		if on {
			h.broadcastExcept(t.Channel, &Event{Kind: EventUserLeave, User: &info}, t)
		} else {
			h.broadcastExcept(t.Channel, &Event{Kind: EventUserJoin, User: &info}, t)
		}
	}
	if on {
		h.notice(s, NoticeInfo, "User "+id+" shadowbanned.")
	} else {
		h.notice(s, NoticeInfo, "User "+id+" shadowunbanned.")
	}
	return true
}

// adminIPList edits the IP allow and deny lists. Session ids resolve to the
// address-derived identity of that session.
func (h *Hub) adminIPList(s *Session, target string, allow bool) bool {
	id := target
	if t, ok := h.sessions[target]; ok {
		id = t.AddrIdentity
	} else if !identity.Valid(target) {
		h.notice(s, NoticeError, unknownTargetNotice)
		return false
	}
	if !allow && id == s.AddrIdentity {
		h.notice(s, NoticeError, "You cannot blacklist yourself.")
		return false
	}

	if allow {
		changed, err := h.mod.Whitelist(h.ctx, id)
		if err != nil {
			return h.internalError(s, "whitelist", err)
		}
		if !changed {
			h.notice(s, NoticeInfo, "User is already whitelisted.")
			return true
		}
		h.notice(s, NoticeInfo, "User "+id+" whitelisted.")
		return true
	}

	changed, err := h.mod.Blacklist(h.ctx, id)
	if err != nil {
		return h.internalError(s, "blacklist", err)
	}
	for _, t := range h.sessions {
		if t.AddrIdentity == id {
			h.kick(t, "You have been banned.", ReasonBanned)
		}
	}
	if !changed {
		h.notice(s, NoticeInfo, "User is already blacklisted.")
		return true
	}
	h.notice(s, NoticeInfo, "User "+id+" blacklisted.")
	return true
}

func (h *Hub) adminDisconnect(s *Session, target string) bool {
	var sessions []*Session
	if t, ok := h.sessions[target]; ok {
		sessions = []*Session{t}
	} else if identity.Valid(target) {
		sessions = h.sessionsOf(target)
	}
	if len(sessions) == 0 {
		h.notice(s, NoticeError, unknownTargetNotice)
		return false
	}
	kicked := 0
	for _, t := range sessions {
		if t == s {
			continue
		}
		h.kick(t, "You have been disconnected by a moderator.", "disconnected")
		kicked++
	}
	h.notice(s, NoticeInfo, fmt.Sprintf("Disconnected %d session(s).", kicked))
	return true
}

func (h *Hub) adminLoginKey(s *Session, key string, add bool) bool {
	var (
		changed bool
		err     error
	)
	if add {
		changed, err = h.mod.AddLoginKey(h.ctx, key)
	} else {
		changed, err = h.mod.DeleteLoginKey(h.ctx, key)
	}
	if err != nil {
		return h.internalError(s, "loginkey", err)
	}
	switch {
	case add && !changed:
		h.notice(s, NoticeInfo, "Login key already exists.")
	case add:
		h.notice(s, NoticeInfo, "Login key added.")
	case !changed:
		h.notice(s, NoticeError, "Login key does not exist.")
		return false
	default:
		h.notice(s, NoticeInfo, "Login key removed.")
	}
	return true
}

func (h *Hub) adminLock(s *Session, name, password string) bool {
	channel, ok := h.channelFor(name)
	if !ok {
		h.notice(s, NoticeError, "This channel name is not allowed.")
		return false
	}
	err := h.mod.LockChannel(h.ctx, channel, password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		h.notice(s, NoticeError, "The password is too long.")
		return false
	}
	if err != nil {
		return h.internalError(s, "lock", err)
	}
	h.notice(s, NoticeInfo, "Channel #"+channel+" locked.")
	return true
}

func (h *Hub) adminUnlock(s *Session, name string) bool {
	channel, ok := h.channelFor(name)
	if !ok {
		h.notice(s, NoticeError, "This channel name is not allowed.")
		return false
	}
	changed, err := h.mod.UnlockChannel(h.ctx, channel)
	if err != nil {
		return h.internalError(s, "unlock", err)
	}
	if !changed {
		h.notice(s, NoticeError, "Channel #"+channel+" is not locked.")
		return false
	}
	h.notice(s, NoticeInfo, "Channel #"+channel+" unlocked.")
	return true
}
