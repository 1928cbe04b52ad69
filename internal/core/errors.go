package core

import "errors"

// Error codes carried by mrcs-error events.
const (
	ErrCodeBadRequest       = "bad-request"
	ErrCodeNotAuthenticated = "not-authenticated"
	ErrCodeInvalidMessage   = "invalid-message"
	ErrCodeInvalidNickname  = "invalid-nickname"
	ErrCodeInvalidChannel   = "invalid-channel"
	ErrCodeChannelsDisabled = "channels-disabled"
	ErrCodeChannelLocked    = "channel-locked"
	ErrCodeBadPassword      = "bad-password"
	ErrCodeUnknownUser      = "unknown-user"
)

// Handshake rejection reasons carried by auth-error events.
const (
	ReasonTooManySessions = "too-many-sessions"
	ReasonInvalidNickname = "invalid-nickname"
	ReasonInvalidChannel  = "invalid-channel"
	ReasonChannelLocked   = "channel-locked"
	ReasonBadPassword     = "bad-password"
	ReasonMissingLoginKey = "missing-login-key"
	ReasonUnknownLoginKey = "unknown-login-key"
	ReasonBanned          = "banned"
)

// Close reasons for connections ended by the server itself.
const (
	CloseShutdown = "server shutting down"
	CloseRestart  = "server restarting"
)

// ErrHubStopped is returned by control-plane calls once the hub loop exited.
var ErrHubStopped = errors.New("hub stopped")

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
