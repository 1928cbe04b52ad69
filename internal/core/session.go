package core

import (
	"time"

	"github.com/vovakirdan/msgroom-server/internal/store"
)

// Session is an authenticated connection. It is owned by the hub loop.
type Session struct {
	ID           string
	Identity     string
	AddrIdentity string
	Name         string
	Color        string
	Flags        store.FlagSet
	Channel      string
	ConnectedAt  time.Time

	client      *Client
	bot         bool
	limiter     *rateLimiter
	nickLimiter *rateLimiter
	blocked     map[string]struct{}
}

// Info returns the public record of the session.
func (s *Session) Info() UserInfo {
	return UserInfo{
		ID:          s.Identity,
		SessionID:   s.ID,
		User:        s.Name,
		Color:       s.Color,
		Flags:       s.Flags.Names(),
		Channel:     s.Channel,
		ConnectedAt: s.ConnectedAt,
	}
}

func (s *Session) blocks(id string) bool {
	_, ok := s.blocked[id]
	return ok
}

func (s *Session) nickAllowed() bool {
	if s.nickLimiter == nil {
		return s.limiter.allow()
	}
	return s.nickLimiter.allow()
}

func (s *Session) release() {
	s.limiter.close()
	s.nickLimiter.close()
}
