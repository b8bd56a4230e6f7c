// Package channel is the notification side of a session: a set of long-lived
// websocket connections that receive state-change events and relay signal
// messages between peers. Delivery is best effort with no queuing; a client
// that misses events re-syncs from the snapshot it gets on attach.
package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Role is advisory only: it tags a connection at attach time but does not
// restrict which broadcasts or relayed signals it receives.
type Role string

const (
	RoleCaster Role = "caster"
	RoleViewer Role = "viewer"
)

// ParseRole maps the `role` query parameter to a Role, defaulting to viewer.
func ParseRole(s string) Role {
	if s == string(RoleCaster) {
		return RoleCaster
	}
	return RoleViewer
}

const sendTimeout = 5 * time.Second

// Conn is one attached client connection.
type Conn struct {
	ws   *websocket.Conn
	role Role
}

func (c *Conn) Role() Role { return c.role }

// Channel owns the live connection set of one session. Attach and Detach are
// called by the session's websocket handlers; broadcasts come from the
// coordinator within its serialized operation turn.
type Channel struct {
	mu     sync.Mutex
	conns  map[*Conn]struct{}
	logger zerolog.Logger
}

func New(logger *zerolog.Logger) *Channel {
	l := logger.With().Str("component", "Channel").Logger()
	return &Channel{
		conns:  make(map[*Conn]struct{}),
		logger: l,
	}
}

// Attach registers ws and returns its connection handle.
func (ch *Channel) Attach(ws *websocket.Conn, role Role) *Conn {
	conn := &Conn{ws: ws, role: role}
	ch.mu.Lock()
	ch.conns[conn] = struct{}{}
	n := len(ch.conns)
	ch.mu.Unlock()
	ch.logger.Debug().Str("role", string(role)).Int("connections", n).Msg("attached connection")
	return conn
}

// Detach removes conn from the broadcast set. It is safe to call more than
// once and does not close the underlying websocket.
func (ch *Channel) Detach(conn *Conn) {
	ch.mu.Lock()
	delete(ch.conns, conn)
	n := len(ch.conns)
	ch.mu.Unlock()
	ch.logger.Debug().Str("role", string(conn.role)).Int("connections", n).Msg("detached connection")
}

// Len reports the number of attached connections.
func (ch *Channel) Len() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.conns)
}

// Send writes one event to a single connection.
func (ch *Channel) Send(ctx context.Context, conn *Conn, event interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn.ws, event)
}

// Broadcast sends event to every attached connection regardless of role.
// Failed sends are skipped and the dead connection is pruned; a broadcast
// never fails the operation that emitted it.
func (ch *Channel) Broadcast(ctx context.Context, event interface{}) {
	for _, conn := range ch.snapshot() {
		if err := ch.Send(ctx, conn, event); err != nil {
			ch.logger.Debug().Err(err).Msg("dropping unreachable connection")
			ch.Detach(conn)
		}
	}
}

// Relay forwards a raw payload to every attached connection except from.
// Best effort, no queuing: peers absent at send time never see the message.
func (ch *Channel) Relay(ctx context.Context, from *Conn, payload json.RawMessage) {
	for _, conn := range ch.snapshot() {
		if conn == from {
			continue
		}
		if err := ch.Send(ctx, conn, payload); err != nil {
			ch.logger.Debug().Err(err).Msg("dropping unreachable connection")
			ch.Detach(conn)
		}
	}
}

func (ch *Channel) snapshot() []*Conn {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	conns := make([]*Conn, 0, len(ch.conns))
	for conn := range ch.conns {
		conns = append(conns, conn)
	}
	return conns
}
