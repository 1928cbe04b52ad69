package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandAuth starts the handshake.
	CommandAuth CommandKind = iota
	// CommandSendMessage relays a chat message to the sender's channel.
	CommandSendMessage
	// CommandChangeName changes the display name.
	CommandChangeName
	// CommandAdminAction runs a moderation command.
	CommandAdminAction
	// CommandSwitchChannel moves the session to another channel.
	CommandSwitchChannel
	// CommandBlockUser hides an identity's messages from the client.
	CommandBlockUser
	// CommandUnblockUser reverses CommandBlockUser.
	CommandUnblockUser
)

// Command represents an action requested by a client.
type Command struct {
	Kind     CommandKind
	Auth     *AuthRequest
	Content  string   // CommandSendMessage
	Name     string   // CommandChangeName
	Channel  string   // CommandSwitchChannel
	Password string   // CommandSwitchChannel
	Target   string   // CommandBlockUser, CommandUnblockUser
	Args     []string // CommandAdminAction
}

// AuthRequest is the handshake payload.
type AuthRequest struct {
	User            string
	LoginKey        string
	Channel         string
	ChannelPassword string
	DisconnectAll   bool
	StaffKey        string
	Bot             bool
}
