package sfu

import (
	"fmt"

	"github.com/pion/webrtc/v3"
)

// Track locations understood by the SFU tracks endpoint.
const (
	locationLocal  = "local"
	locationRemote = "remote"
)

// NewSessionResponse is the SFU's answer to session creation. The initial
// offer is present only when the SFU opens negotiation itself.
type NewSessionResponse struct {
	SessionID          string                     `json:"sessionId"`
	SessionDescription *webrtc.SessionDescription `json:"sessionDescription,omitempty"`
}

// RenegotiateResponse carries the SFU side of an SDP renegotiation.
type RenegotiateResponse struct {
	SessionDescription *webrtc.SessionDescription `json:"sessionDescription,omitempty"`
}

// TrackRequest describes one track to register or pull.
type TrackRequest struct {
	Location  string `json:"location"`
	TrackName string `json:"trackName"`
	// Mid and Kind apply to local tracks only.
	Mid  string `json:"mid,omitempty"`
	Kind string `json:"kind,omitempty"`
	// SessionID names the source SFU session for remote pulls.
	SessionID string `json:"sessionId,omitempty"`
}

// TrackResult is the SFU's per-track outcome. ErrorCode is set when the SFU
// could not satisfy the request for that track, e.g. the source track is not
// published yet.
type TrackResult struct {
	TrackName        string `json:"trackName"`
	Mid              string `json:"mid,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`
	ErrorCode        string `json:"errorCode,omitempty"`
	ErrorDescription string `json:"errorDescription,omitempty"`
}

// TracksResponse is the SFU's answer to a tracks request, local or remote.
type TracksResponse struct {
	RequiresImmediateRenegotiation bool                       `json:"requiresImmediateRenegotiation,omitempty"`
	Tracks                         []TrackResult              `json:"tracks"`
	SessionDescription             *webrtc.SessionDescription `json:"sessionDescription,omitempty"`
}

type tracksRequestBody struct {
	SessionDescription *webrtc.SessionDescription `json:"sessionDescription,omitempty"`
	Tracks             []TrackRequest             `json:"tracks"`
}

type renegotiateRequestBody struct {
	SessionDescription *webrtc.SessionDescription `json:"sessionDescription,omitempty"`
}

// UpstreamError is a non-success response from the SFU control plane. The
// body text is preserved verbatim for diagnosability.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("sfu: upstream status %d: %s", e.Status, e.Body)
}
