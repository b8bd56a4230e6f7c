package channel

// Event types on the wire.
const (
	TypeSessionData  = "session-data"
	TypeSessionReady = "calls-session-ready"
	TypeTrackAdded   = "track-added"
	TypeTrackRemoved = "track-removed"
	TypeSignal       = "signal"
)

// Snapshot is the session state pushed to a connection at attach time.
type Snapshot struct {
	SessionID      string   `json:"sessionId"`
	CallsSessionID string   `json:"callsSessionId,omitempty"`
	TrackNames     []string `json:"trackNames"`
}

// SessionData wraps the attach-time snapshot.
type SessionData struct {
	Type string   `json:"type"`
	Data Snapshot `json:"data"`
}

func NewSessionData(data Snapshot) SessionData {
	return SessionData{Type: TypeSessionData, Data: data}
}

// SessionReady announces that the caster's SFU session exists.
type SessionReady struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

func NewSessionReady(sfuSessionID string) SessionReady {
	return SessionReady{Type: TypeSessionReady, SessionID: sfuSessionID}
}

// TrackEvent announces a change to the published track set.
type TrackEvent struct {
	Type      string `json:"type"`
	TrackName string `json:"trackName"`
}

func NewTrackAdded(name string) TrackEvent {
	return TrackEvent{Type: TypeTrackAdded, TrackName: name}
}

func NewTrackRemoved(name string) TrackEvent {
	return TrackEvent{Type: TypeTrackRemoved, TrackName: name}
}
