package core

import (
	"sync"
	"sync/atomic"
)

const clientEventBuffer = 64

type connState int

const (
	stateAwaitingAuth connState = iota
	stateAuthenticated
	stateRejected
)

// Client is a connection as seen by the core layer. The transport writes
// commands to Commands and drains Events until Done is closed.
type Client struct {
	ID       string
	Addr     string
	Commands chan *Command
	Events   chan *Event

	done        chan struct{}
	closeOnce   sync.Once
	closeReason atomic.Value
	authed      atomic.Bool

	// owned by the hub loop
	state   connState
	session *Session
}

// NewClient constructs a client with initialized channels. addr is the
// source address identities are derived from.
func NewClient(id, addr string) *Client {
	return &Client{
		ID:       id,
		Addr:     addr,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, clientEventBuffer),
		done:     make(chan struct{}),
	}
}

// Done is closed when the hub has finished with the client, either because it
// disconnected the client or because the client was unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// CloseReason returns why the hub closed the client, if it did.
func (c *Client) CloseReason() string {
	if v, ok := c.closeReason.Load().(string); ok {
		return v
	}
	return ""
}

// Authenticated reports whether the handshake succeeded.
func (c *Client) Authenticated() bool {
	return c.authed.Load()
}

// send queues ev without blocking. Slow consumers lose events.
func (c *Client) send(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason.Store(reason)
		c.authed.Store(false)
		close(c.done)
	})
}
