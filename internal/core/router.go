package core

// broadcast delivers ev to every session in channel.
func (h *Hub) broadcast(channel string, ev *Event) {
	for _, s := range h.sessions {
		if s.Channel == channel {
			s.client.send(ev)
		}
	}
}

// broadcastExcept delivers ev to every session in channel but skip.
func (h *Hub) broadcastExcept(channel string, ev *Event, skip *Session) {
	for _, s := range h.sessions {
		if s != skip && s.Channel == channel {
			s.client.send(ev)
		}
	}
}

// broadcastFrom delivers an event originated by sender to its channel.
// Shadowbanned senders only see their own events. Recipients that blocked
// the sender are skipped.
func (h *Hub) broadcastFrom(sender *Session, ev *Event) {
	if h.mod.IsShadowbanned(sender.Identity) {
		sender.client.send(ev)
		return
	}
	for _, s := range h.sessions {
		if s.Channel != sender.Channel {
			continue
		}
		if s != sender && s.blocks(sender.Identity) {
			continue
		}
		s.client.send(ev)
	}
}

// unicast delivers ev to one session. A missing session is not an error.
func (h *Hub) unicast(sessionID string, ev *Event) bool {
	s, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	return s.client.send(ev)
}

func (h *Hub) sessionsOf(id string) []*Session {
	var out []*Session
	for _, s := range h.sessions {
		if s.Identity == id {
			out = append(out, s)
		}
	}
	return out
}

// online lists the members of viewer's channel that viewer may see.
func (h *Hub) online(viewer *Session) []UserInfo {
	out := make([]UserInfo, 0)
	for _, s := range h.sessions {
		if s.Channel != viewer.Channel {
			continue
		}
		if s != viewer && h.mod.IsShadowbanned(s.Identity) {
			continue
		}
		out = append(out, s.Info())
	}
	return out
}

func (h *Hub) notice(s *Session, typ, content string) {
	s.client.send(&Event{Kind: EventSysMessage, Sys: &SysMessage{Type: typ, Content: content}})
}

func (h *Hub) sendError(s *Session, code, msg string) {
	s.client.send(&Event{Kind: EventError, Error: coreError(code, msg)})
}

// moveSession moves s to channel and tells both channels.
func (h *Hub) moveSession(s *Session, channel string) {
	visible := !h.mod.IsShadowbanned(s.Identity)
	if visible {
		left := s.Info()
		h.broadcastExcept(s.Channel, &Event{Kind: EventUserLeave, User: &left}, s)
	}
	s.Channel = channel
	if visible {
		joined := s.Info()
		h.broadcastExcept(s.Channel, &Event{Kind: EventUserJoin, User: &joined}, s)
	}
	s.client.send(&Event{Kind: EventOnline, Users: h.online(s)})
}
