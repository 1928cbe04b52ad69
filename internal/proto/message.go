package proto

import "encoding/json"

// Envelope wraps every frame in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client to server event types.
const (
	InboundTypeAuth          = "auth"
	InboundTypeMessage       = "message"
	InboundTypeChangeUser    = "change-user"
	InboundTypeAdminAction   = "admin-action"
	InboundTypeSwitchChannel = "switch-channel"
	InboundTypeBlockUser     = "block-user"
	InboundTypeUnblockUser   = "unblock-user"
)

// AuthData starts the handshake.
type AuthData struct {
	User            string `json:"user"`
	LoginKey        string `json:"loginKey,omitempty"`
	Channel         string `json:"channel,omitempty"`
	ChannelPassword string `json:"channelPassword,omitempty"`
	DisconnectAll   bool   `json:"disconnectAll,omitempty"`
	StaffKey        string `json:"staffKey,omitempty"`
	Bot             bool   `json:"bot,omitempty"`
}

// MessageData is a chat message from the client.
type MessageData struct {
	Content string `json:"content"`
}

// ChangeUserData requests a display name change.
type ChangeUserData struct {
	Name string `json:"name"`
}

// AdminActionData carries a moderation command.
type AdminActionData struct {
	Args []string `json:"args"`
}

// SwitchChannelData moves the session to another channel.
type SwitchChannelData struct {
	Channel  string `json:"channel"`
	Password string `json:"password,omitempty"`
}

// BlockUserData names an identity or session id.
type BlockUserData struct {
	User string `json:"user"`
}

// AuthComplete confirms a handshake.
type AuthComplete struct {
	Identity  string `json:"identity"`
	SessionID string `json:"session_id"`
}

// AuthError rejects a handshake.
type AuthError struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// Error describes a protocol or domain error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// ServerInfo describes the server capabilities.
type ServerInfo struct {
	Name             string `json:"name"`
	Version          string `json:"version"`
	Channels         bool   `json:"channels"`
	DefaultChannel   string `json:"defaultChannel"`
	UserLimit        int    `json:"userLimit"`
	LoginKeyRequired bool   `json:"loginKeyRequired"`
	RateLimit        int    `json:"rateLimit"`
	RateIntervalMS   int64  `json:"rateIntervalMs"`
	MaxMessageLength int    `json:"maxMessageLength"`
	MaxNameLength    int    `json:"maxNameLength"`
}

// User is the public record of a session.
type User struct {
	User      string   `json:"user"`
	Color     string   `json:"color"`
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	Flags     []string `json:"flags"`
	Channel   string   `json:"channel,omitempty"`
}

// NickChanged notifies about a display name change.
type NickChanged struct {
	OldUser   string `json:"oldUser"`
	NewUser   string `json:"newUser"`
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
}

// UserUpdate notifies about a flag change.
type UserUpdate struct {
	Type   string `json:"type"`
	Tag    string `json:"tag"`
	Target string `json:"user"`
}

// Message is a relayed chat message.
type Message struct {
	Type      string   `json:"type"`
	Content   string   `json:"content"`
	User      string   `json:"user"`
	Color     string   `json:"color"`
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	Flags     []string `json:"flags"`
	Channel   string   `json:"channel,omitempty"`
	Date      string   `json:"date"`
}

// SysMessage is a server notice.
type SysMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}
