package core

import "time"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventAuthComplete confirms a successful handshake.
	EventAuthComplete EventKind = iota
	// EventAuthError rejects a handshake; the connection is closed after it.
	EventAuthError
	// EventError notifies a client about a domain error.
	EventError
	// EventServerInfo describes the server capabilities.
	EventServerInfo
	// EventOnline lists the sessions visible in the client's channel.
	EventOnline
	// EventUserJoin notifies a channel about a new member.
	EventUserJoin
	// EventUserLeave notifies a channel about a member leaving.
	EventUserLeave
	// EventNickChanged notifies a channel about a display name change.
	EventNickChanged
	// EventUserUpdate notifies about flag changes.
	EventUserUpdate
	// EventMessage delivers a chat message.
	EventMessage
	// EventSysMessage delivers a server notice.
	EventSysMessage
)

var eventNames = [...]string{
	EventAuthComplete: "auth-complete",
	EventAuthError:    "auth-error",
	EventError:        "mrcs-error",
	EventServerInfo:   "mrcs-serverinfo",
	EventOnline:       "online",
	EventUserJoin:     "user-join",
	EventUserLeave:    "user-leave",
	EventNickChanged:  "nick-changed",
	EventUserUpdate:   "user-update",
	EventMessage:      "message",
	EventSysMessage:   "sys-message",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind      EventKind
	Identity  string // EventAuthComplete
	SessionID string // EventAuthComplete
	Error     *CoreError
	Info      *ServerInfo
	Users     []UserInfo // EventOnline
	User      *UserInfo  // EventUserJoin, EventUserLeave
	Nick      *NickChange
	Update    *UserUpdate
	Message   *Message
	Sys       *SysMessage
}

// UserInfo is the public record of a session.
type UserInfo struct {
	ID          string
	SessionID   string
	User        string
	Color       string
	Flags       []string
	Channel     string
	ConnectedAt time.Time
}

// NickChange describes a display name change.
type NickChange struct {
	OldUser   string
	NewUser   string
	ID        string
	SessionID string
}

// User update types.
const (
	UpdateTagAdd    = "tag-add"
	UpdateTagRemove = "tag-remove"
)

// UserUpdate describes a flag being granted or revoked.
type UserUpdate struct {
	Type   string
	Tag    string
	Target string
}

// ServerInfo is the capability descriptor sent after a handshake.
type ServerInfo struct {
	Name             string
	Version          string
	ChannelsEnabled  bool
	DefaultChannel   string
	UserLimit        int
	LoginKeyRequired bool
	RateLimit        int
	RateInterval     time.Duration
	MaxMessageLength int
	MaxNameLength    int
}
