// Package events mirrors a session's notification-channel events onto MQTT
// so fleet tooling can observe live sessions without holding a websocket per
// session. Publishing is fire and forget; an unreachable broker never fails
// the operation that emitted the event.
package events

import (
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Options configures the bridge's publishing behavior.
type Options struct {
	TopicPrefix string
	Qos         uint
	Retained    bool
}

// Bridge publishes session events to per-session topics.
type Bridge struct {
	client  mqtt.Client
	logger  zerolog.Logger
	options Options
}

func New(client mqtt.Client, logger *zerolog.Logger, options Options) *Bridge {
	l := logger.With().Str("component", "EventBridge").Logger()
	return &Bridge{
		client:  client,
		logger:  l,
		options: options,
	}
}

// Publish sends event, JSON-encoded, to <prefix>/<sessionID>. A nil Bridge is
// a no-op so callers need not guard the optional wiring.
func (b *Bridge) Publish(sessionID string, event interface{}) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Err(err).Msg("could not encode event")
		return
	}

	topic := b.options.TopicPrefix + "/" + sessionID
	t := b.client.Publish(topic, byte(b.options.Qos), b.options.Retained, payload)
	// Handle the token in a goroutine so the session's operation turn keeps
	// going regardless of delivery status.
	go func() {
		<-t.Done()
		if t.Error() != nil {
			b.logger.Err(t.Error()).Msgf("could not publish to %s", topic)
		}
	}()
}
