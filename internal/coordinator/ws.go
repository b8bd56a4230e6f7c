package coordinator

import (
	"context"
	"encoding/json"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/benfoxall/cast/internal/coordinator/channel"
)

// handleWS upgrades the request and attaches the connection to the session's
// notification channel. The connection immediately receives a session-data
// snapshot, then state-change events in commit order. Inbound signal messages
// are relayed to every other attached connection.
func (co *Coordinator) handleWS(w http.ResponseWriter, r *http.Request) {
	role := channel.ParseRole(r.URL.Query().Get("role"))
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Sessions are access-controlled by id knowledge and token, not
		// origin, and casters embed the page anywhere.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		co.logger.Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close(websocket.StatusInternalError, "")

	conn := co.attach(r.Context(), ws, role)
	defer co.detach(conn)

	for {
		var raw json.RawMessage
		if err := wsjson.Read(r.Context(), ws, &raw); err != nil {
			// Disconnect or read error tears the connection down; the
			// client re-attaches and re-syncs from the snapshot.
			co.logger.Debug().Err(err).Str("role", string(role)).Msg("connection closed")
			return
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}
		if head.Type == channel.TypeSignal {
			co.relaySignal(r.Context(), conn, raw)
		}
	}
}

// attach registers the connection and pushes the snapshot within one
// operation turn, so the snapshot and the following event stream are
// consistent with the durable record.
func (co *Coordinator) attach(ctx context.Context, ws *websocket.Conn, role channel.Role) *channel.Conn {
	co.mu.Lock()
	defer co.mu.Unlock()

	conn := co.channel.Attach(ws, role)
	channelConnections.Inc()

	snapshot := channel.Snapshot{
		SessionID:      co.sessionID,
		CallsSessionID: co.machine.CallsSessionID(),
		TrackNames:     co.machine.TrackNames(),
	}
	if err := co.channel.Send(ctx, conn, channel.NewSessionData(snapshot)); err != nil {
		co.logger.Debug().Err(err).Msg("could not send snapshot")
	}
	return conn
}

func (co *Coordinator) detach(conn *channel.Conn) {
	co.channel.Detach(conn)
	channelConnections.Dec()
}

// relaySignal forwards a peer signal verbatim to every other connection,
// serialized like any other session operation.
func (co *Coordinator) relaySignal(ctx context.Context, from *channel.Conn, payload json.RawMessage) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.channel.Relay(ctx, from, payload)
}
