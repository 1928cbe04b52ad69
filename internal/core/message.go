package core

import "time"

// SystemName is the reserved display name used for server messages.
const SystemName = "System"

// SystemColor is the color of server messages.
const SystemColor = "rgb(0, 0, 128)"

// Message is the domain model for a relayed chat message.
type Message struct {
	Type      string
	Content   string
	User      string
	Color     string
	ID        string
	SessionID string
	Flags     []string
	Channel   string
	Date      time.Time
}

// SysMessage is a server notice.
type SysMessage struct {
	Type    string
	Content string
}

// Notice types.
const (
	NoticeInfo  = "info"
	NoticeError = "error"
)

func systemMessage(content, channel string) *Message {
	return &Message{
		Type:    "text",
		Content: content,
		User:    SystemName,
		Color:   SystemColor,
		Channel: channel,
		Date:    time.Now().UTC(),
	}
}
