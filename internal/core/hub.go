package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/msgroom-server/internal/store"
)

// Settings configures the hub.
type Settings struct {
	RandomIDs        bool
	ChannelsEnabled  bool
	DefaultChannel   string
	UserLimit        int
	RequireLoginKey  bool
	RateLimit        int
	RateInterval     time.Duration
	NickRateLimit    int
	MaxMessageLength int
	WelcomeMessage   string
	ServerName       string
	ServerVersion    string
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		ChannelsEnabled:  true,
		DefaultChannel:   "main",
		UserLimit:        3,
		RateLimit:        2,
		RateInterval:     time.Second,
		MaxMessageLength: 2048,
		WelcomeMessage:   "Welcome to msgroom! Be nice to each other.",
		ServerName:       "msgroom",
		ServerVersion:    "dev",
	}
}

// Metrics receives hub counters. Implementations must be safe for use from
// the hub goroutine.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	MessageRelayed()
	AuthRejected(reason string)
	RateLimited(action string)
	AdminCommand(name string, ok bool)
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened()            {}
func (nopMetrics) SessionClosed()            {}
func (nopMetrics) MessageRelayed()           {}
func (nopMetrics) AuthRejected(string)       {}
func (nopMetrics) RateLimited(string)        {}
func (nopMetrics) AdminCommand(string, bool) {}

// Option customizes a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

type inbound struct {
	client *Client
	cmd    *Command
}

// Hub coordinates clients, sessions and moderation state. All of its state
// is owned by the goroutine running Run.
type Hub struct {
	settings Settings
	mod      *store.Moderation
	log      *zerolog.Logger
	metrics  Metrics

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	calls      chan func()
	done       chan struct{}

	ctx      context.Context
	clients  map[*Client]struct{}
	sessions map[string]*Session
}

// NewHub creates a hub. A nil mod uses an empty in-memory moderation record.
func NewHub(mod *store.Moderation, settings Settings, opts ...Option) *Hub {
	if mod == nil {
		// Opening an empty memory backend cannot fail.
		mod, _ = store.Open(context.Background(), store.NewMemoryBackend(nil))
	}
	if settings.DefaultChannel == "" {
		settings.DefaultChannel = DefaultSettings().DefaultChannel
	}
	if settings.MaxMessageLength <= 0 {
		settings.MaxMessageLength = DefaultSettings().MaxMessageLength
	}
	nop := zerolog.Nop()
	h := &Hub{
		settings:   settings,
		mod:        mod,
		log:        &nop,
		metrics:    nopMetrics{},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		calls:      make(chan func()),
		done:       make(chan struct{}),
		ctx:        context.Background(),
		clients:    make(map[*Client]struct{}),
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Settings returns the hub settings.
func (h *Hub) Settings() Settings {
	return h.settings
}

// Done is closed after Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.ctx = ctx
	defer close(h.done)
	h.log.Info().Msg("hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case in := <-h.inbound:
			h.handleCommand(in.client, in.cmd)
		case fn := <-h.calls:
			fn()
		}
	}
}

// RegisterClient hands a new connection to the hub.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.close(CloseShutdown)
	}
}

// UnregisterClient tells the hub the connection is gone.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *Client) {
	c.state = stateAwaitingAuth
	h.clients[c] = struct{}{}
	h.log.Debug().Str("conn_id", c.ID).Msg("client registered")
	go h.pump(c)
}

// pump forwards the client's commands into the hub loop.
func (h *Hub) pump(c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.inbound <- inbound{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-h.done:
				return
			}
		case <-c.done:
			return
		case <-h.done:
			return
		}
	}
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	if c.session != nil {
		h.endSession(c.session)
	}
	delete(h.clients, c)
	c.close("")
	h.log.Debug().Str("conn_id", c.ID).Msg("client unregistered")
}

// disconnect closes a session's connection from the server side.
func (h *Hub) disconnect(s *Session, reason string) {
	h.endSession(s)
	delete(h.clients, s.client)
	s.client.close(reason)
}

// endSession removes s from the registry and tells its channel.
func (h *Hub) endSession(s *Session) {
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)
	s.release()
	s.client.session = nil
	h.metrics.SessionClosed()
	if !h.mod.IsShadowbanned(s.Identity) {
		info := s.Info()
		h.broadcast(s.Channel, &Event{Kind: EventUserLeave, User: &info})
	}
	h.log.Info().
		Str("session_id", s.ID).
		Str("channel", s.Channel).
		Msg("session ended")
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		if c.session != nil {
			h.endSession(c.session)
		}
		c.close(CloseShutdown)
	}
	h.clients = make(map[*Client]struct{})
	h.log.Info().Msg("hub stopped")
}

func (h *Hub) handleCommand(c *Client, cmd *Command) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	if cmd.Kind == CommandAuth {
		h.handleAuth(c, cmd.Auth)
		return
	}
	s := c.session
	if c.state != stateAuthenticated || s == nil {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeNotAuthenticated, "authenticate first")})
		return
	}

	switch cmd.Kind {
	case CommandSendMessage:
		h.handleMessage(s, cmd.Content)
	case CommandChangeName:
		h.handleChangeName(s, cmd.Name)
	case CommandAdminAction:
		h.handleCommandText(s, cmd.Args)
	case CommandSwitchChannel:
		h.handleSwitchChannel(s, cmd.Channel, cmd.Password)
	case CommandBlockUser:
		h.handleBlock(s, cmd.Target, true)
	case CommandUnblockUser:
		h.handleBlock(s, cmd.Target, false)
	default:
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "unknown command")})
	}
}
