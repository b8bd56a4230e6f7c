package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/benfoxall/cast/internal/coordinator/channel"
	"github.com/benfoxall/cast/internal/coordinator/httpx"
	"github.com/benfoxall/cast/internal/coordinator/session"
	"github.com/benfoxall/cast/internal/coordinator/sfu"
	"github.com/benfoxall/cast/internal/events"
)

// pullAllTracks asks pull-tracks for every track the session publishes.
const pullAllTracks = "*"

// Coordinator is the single owner of one session. Operations, whether HTTP
// requests or channel messages, run strictly one at a time under mu: the next
// operation does not begin until the previous one's side effects (storage
// write, SFU call, broadcast) have completed or failed.
type Coordinator struct {
	mu sync.Mutex

	sessionID string
	machine   *session.Machine
	channel   *channel.Channel
	sfu       *sfu.Client
	bridge    *events.Bridge
	logger    zerolog.Logger
}

type initResponse struct {
	SessionID   string `json:"sessionId"`
	CasterToken string `json:"casterToken"`
}

type infoResponse struct {
	Ready          bool     `json:"ready"`
	CallsSessionID string   `json:"callsSessionId,omitempty"`
	TrackNames     []string `json:"trackNames"`
}

type renegotiateRequest struct {
	SessionDescription *webrtc.SessionDescription `json:"sessionDescription"`
}

type addTrackRequest struct {
	TrackName          string                     `json:"trackName"`
	Mid                string                     `json:"mid"`
	Kind               string                     `json:"kind"`
	SessionDescription *webrtc.SessionDescription `json:"sessionDescription"`
}

type removeTrackRequest struct {
	TrackName string `json:"trackName"`
}

type removeTrackResponse struct {
	TrackNames []string `json:"trackNames"`
}

type pullTracksRequest struct {
	CallsSessionID     string                     `json:"callsSessionId"`
	TrackName          string                     `json:"trackName"`
	SessionDescription *webrtc.SessionDescription `json:"sessionDescription"`
}

type viewerRenegotiateRequest struct {
	CallsSessionID     string                     `json:"callsSessionId"`
	SessionDescription *webrtc.SessionDescription `json:"sessionDescription"`
}

type viewerCallsStateRequest struct {
	CallsSessionID string `json:"callsSessionId"`
}

// handleInit creates the session's identity and caster token, or returns the
// existing ones. Idempotent by design so the caster page can simply re-init
// on reload.
func (co *Coordinator) handleInit(w http.ResponseWriter, r *http.Request) {
	co.mu.Lock()
	defer co.mu.Unlock()

	rec, err := co.machine.Init(r.Context())
	if err != nil {
		co.logger.Err(err).Msg("init failed")
		httpx.Error(w, http.StatusInternalServerError, httpx.ErrStorage, "")
		return
	}
	httpx.JSON(w, http.StatusOK, initResponse{
		SessionID:   rec.SessionID,
		CasterToken: rec.CasterToken,
	})
}

// handleCallsSession creates the caster's SFU session and links it. The SFU
// response goes back verbatim so the caster can complete negotiation.
func (co *Coordinator) handleCallsSession(w http.ResponseWriter, r *http.Request) {
	co.mu.Lock()
	defer co.mu.Unlock()

	if !co.authorized(w, r) {
		return
	}
	resp, err := co.sfu.NewSession(r.Context())
	if err != nil {
		co.upstreamError(w, err)
		return
	}
	if err := co.machine.LinkSFU(r.Context(), resp.SessionID); err != nil {
		co.logger.Err(err).Msg("could not link SFU session")
		httpx.Error(w, http.StatusInternalServerError, httpx.ErrStorage, "")
		return
	}
	co.broadcast(r.Context(), channel.NewSessionReady(resp.SessionID))
	httpx.JSON(w, http.StatusOK, resp)
}

// handleRenegotiate proxies the caster's SDP, or an empty renegotiation
// request, to the SFU for the caster's session.
func (co *Coordinator) handleRenegotiate(w http.ResponseWriter, r *http.Request) {
	co.mu.Lock()
	defer co.mu.Unlock()

	if !co.authorized(w, r) {
		return
	}
	if !co.machine.Linked() {
		httpx.Error(w, http.StatusNotFound, httpx.ErrSessionNotReady, "")
		return
	}
	var req renegotiateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := co.sfu.Renegotiate(r.Context(), co.machine.CallsSessionID(), req.SessionDescription)
	if err != nil {
		co.upstreamError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// handleAddTrack registers a local track with the linked SFU session and then
// records it, so the published set is never non-empty before the session is
// linked. The SFU call comes first: on upstream failure the track set is
// untouched and nothing is broadcast.
func (co *Coordinator) handleAddTrack(w http.ResponseWriter, r *http.Request) {
	co.mu.Lock()
	defer co.mu.Unlock()

	if !co.authorized(w, r) {
		return
	}
	if !co.machine.Linked() {
		httpx.Error(w, http.StatusNotFound, httpx.ErrSessionNotReady, "")
		return
	}
	var req addTrackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TrackName == "" {
		httpx.Error(w, http.StatusBadRequest, httpx.ErrUnmarshalJSON, "trackName is required")
		return
	}

	resp, err := co.sfu.AddLocalTrack(r.Context(), co.machine.CallsSessionID(), sfu.TrackRequest{
		TrackName: req.TrackName,
		Mid:       req.Mid,
		Kind:      req.Kind,
	}, req.SessionDescription)
	if err != nil {
		co.upstreamError(w, err)
		return
	}

	added, err := co.machine.AddTrack(r.Context(), req.TrackName)
	if err != nil {
		co.logger.Err(err).Str("track", req.TrackName).Msg("could not record track")
		httpx.Error(w, http.StatusInternalServerError, httpx.ErrStorage, "")
		return
	}
	if added {
		co.broadcast(r.Context(), channel.NewTrackAdded(req.TrackName))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// handleRemoveTrack drops a track from the session's bookkeeping. There is no
// SFU call to revoke it; the SFU-side track expires on its own.
func (co *Coordinator) handleRemoveTrack(w http.ResponseWriter, r *http.Request) {
	co.mu.Lock()
	defer co.mu.Unlock()

	if !co.authorized(w, r) {
		return
	}
	var req removeTrackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	removed, err := co.machine.RemoveTrack(r.Context(), req.TrackName)
	if err != nil {
		co.logger.Err(err).Str("track", req.TrackName).Msg("could not remove track")
		httpx.Error(w, http.StatusInternalServerError, httpx.ErrStorage, "")
		return
	}
	if removed {
		co.broadcast(r.Context(), channel.NewTrackRemoved(req.TrackName))
	}
	httpx.JSON(w, http.StatusOK, removeTrackResponse{TrackNames: co.machine.TrackNames()})
}

// handleNewSession creates an SFU session for a viewer. Unauthenticated:
// knowing the session id is what admits a viewer.
func (co *Coordinator) handleNewSession(w http.ResponseWriter, r *http.Request) {
	co.mu.Lock()
	defer co.mu.Unlock()

	resp, err := co.sfu.NewSession(r.Context())
	if err != nil {
		co.upstreamError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// handlePullTracks pulls one or all of the caster's tracks into a viewer's
// SFU session. Per-track errors from the SFU, e.g. a track that is not
// available yet, pass through verbatim for the client's retry loop.
func (co *Coordinator) handlePullTracks(w http.ResponseWriter, r *http.Request) {
	co.mu.Lock()
	defer co.mu.Unlock()

	if !co.machine.Linked() {
		httpx.Error(w, http.StatusNotFound, httpx.ErrSessionNotReady, "")
		return
	}
	var req pullTracksRequest
	if !decodeBody(w, r, &req) {
		return
	}
	names := []string{req.TrackName}
	if req.TrackName == "" || req.TrackName == pullAllTracks {
		names = co.machine.TrackNames()
	}
	resp, err := co.sfu.PullRemoteTracks(r.Context(), req.CallsSessionID, co.machine.CallsSessionID(), names)
	if err != nil {
		co.upstreamError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// handleViewerRenegotiate proxies a viewer's SDP answer for the viewer's own
// SFU session.
func (co *Coordinator) handleViewerRenegotiate(w http.ResponseWriter, r *http.Request) {
	co.mu.Lock()
	defer co.mu.Unlock()

	var req viewerRenegotiateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := co.sfu.Renegotiate(r.Context(), req.CallsSessionID, req.SessionDescription)
	if err != nil {
		co.upstreamError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// handleInfo reports the session's durable state. Never fails; an unlinked
// session is simply not ready.
func (co *Coordinator) handleInfo(w http.ResponseWriter, r *http.Request) {
	co.mu.Lock()
	defer co.mu.Unlock()

	httpx.JSON(w, http.StatusOK, infoResponse{
		Ready:          co.machine.Linked(),
		CallsSessionID: co.machine.CallsSessionID(),
		TrackNames:     co.machine.TrackNames(),
	})
}

// handleCallsState exposes the SFU's own view of the caster session, for
// debugging negotiation trouble.
func (co *Coordinator) handleCallsState(w http.ResponseWriter, r *http.Request) {
	co.mu.Lock()
	defer co.mu.Unlock()

	if !co.machine.Linked() {
		httpx.Error(w, http.StatusNotFound, httpx.ErrSessionNotReady, "")
		return
	}
	state, err := co.sfu.GetSessionState(r.Context(), co.machine.CallsSessionID())
	if err != nil {
		co.upstreamError(w, err)
		return
	}
	httpx.Raw(w, http.StatusOK, state)
}

// handleViewerCallsState is the viewer-side counterpart of handleCallsState.
func (co *Coordinator) handleViewerCallsState(w http.ResponseWriter, r *http.Request) {
	co.mu.Lock()
	defer co.mu.Unlock()

	var req viewerCallsStateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CallsSessionID == "" {
		httpx.Error(w, http.StatusBadRequest, httpx.ErrUnmarshalJSON, "callsSessionId is required")
		return
	}
	state, err := co.sfu.GetSessionState(r.Context(), req.CallsSessionID)
	if err != nil {
		co.upstreamError(w, err)
		return
	}
	httpx.Raw(w, http.StatusOK, state)
}

// broadcast fans an event out to every attached connection and mirrors it to
// the MQTT bridge. Called within the operation turn, so clients observe
// events in operation completion order.
func (co *Coordinator) broadcast(ctx context.Context, event interface{}) {
	co.channel.Broadcast(ctx, event)
	co.bridge.Publish(co.sessionID, event)
}

// authorized checks the bearer token against the caster token and writes the
// 401 itself on failure. An uninitialized session rejects every token.
func (co *Coordinator) authorized(w http.ResponseWriter, r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == r.Header.Get("Authorization") {
		token = ""
	}
	if !co.machine.Authorize(token) {
		httpx.Error(w, http.StatusUnauthorized, httpx.ErrUnauthorized, "")
		return false
	}
	return true
}

// upstreamError maps any SFU client failure to a 500 carrying the upstream
// error text verbatim. Nothing is retried and nothing already applied is
// rolled back.
func (co *Coordinator) upstreamError(w http.ResponseWriter, err error) {
	upstreamFailures.Inc()
	co.logger.Err(err).Msg("SFU control-plane call failed")
	var ue *sfu.UpstreamError
	if errors.As(err, &ue) {
		httpx.Error(w, http.StatusInternalServerError, httpx.ErrUpstreamSFU, ue.Body)
		return
	}
	httpx.Error(w, http.StatusInternalServerError, httpx.ErrUpstreamSFU, err.Error())
}

// decodeBody decodes a JSON request body into v, treating an empty body as
// the zero value. It writes the 400 itself on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	httpx.Error(w, http.StatusBadRequest, httpx.ErrUnmarshalJSON, "")
	return false
}
