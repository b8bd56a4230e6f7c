// Package sfu is the HTTP client for the external SFU control plane. The
// coordinator proxies every negotiation through it so the service credential
// stays server-side. Calls are never retried; a failure surfaces to the
// caller of the current operation.
package sfu

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/benfoxall/cast/internal/coordinator/cfg"
)

const defaultRequestTimeout = 10 * time.Second

// Client talks to one SFU app over its control-plane API.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// New returns a Client for the app named by config. Every request runs under
// the configured timeout so a hung upstream cannot stall a session's
// operation queue forever.
func New(logger *zerolog.Logger, config cfg.SFUConfigOptions) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	l := logger.With().Str("component", "SFUClient").Logger()
	http := resty.New().
		SetBaseURL(config.BaseURL + "/apps/" + config.AppID).
		SetAuthToken(config.AppSecret).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{http: http, logger: l}
}

// NewSession creates a fresh SFU session and returns its id along with the
// SFU's initial offer, if any.
func (c *Client) NewSession(ctx context.Context) (*NewSessionResponse, error) {
	var result NewSessionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(struct{}{}).
		SetResult(&result).
		Post("/sessions/new")
	if err := c.check(resp, err, "new session"); err != nil {
		return nil, err
	}
	c.logger.Debug().Str("sfu_session_id", result.SessionID).Msg("created SFU session")
	return &result, nil
}

// Renegotiate forwards an SDP payload, or an empty renegotiation request when
// desc is nil, for the given SFU session.
func (c *Client) Renegotiate(ctx context.Context, sfuSessionID string, desc *webrtc.SessionDescription) (*RenegotiateResponse, error) {
	var result RenegotiateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&renegotiateRequestBody{SessionDescription: desc}).
		SetResult(&result).
		Put("/sessions/" + sfuSessionID + "/renegotiate")
	if err := c.check(resp, err, "renegotiate"); err != nil {
		return nil, err
	}
	return &result, nil
}

// AddLocalTrack registers one locally published track with the SFU session,
// passing the caster's offer through when present.
func (c *Client) AddLocalTrack(ctx context.Context, sfuSessionID string, track TrackRequest, offer *webrtc.SessionDescription) (*TracksResponse, error) {
	track.Location = locationLocal
	track.SessionID = ""
	var result TracksResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&tracksRequestBody{
			SessionDescription: offer,
			Tracks:             []TrackRequest{track},
		}).
		SetResult(&result).
		Post("/sessions/" + sfuSessionID + "/tracks/new")
	if err := c.check(resp, err, "add local track"); err != nil {
		return nil, err
	}
	return &result, nil
}

// PullRemoteTracks asks the SFU to pull the named tracks from the source
// session into the viewer's session.
func (c *Client) PullRemoteTracks(ctx context.Context, viewerSFUSessionID, sourceSFUSessionID string, trackNames []string) (*TracksResponse, error) {
	tracks := make([]TrackRequest, 0, len(trackNames))
	for _, name := range trackNames {
		tracks = append(tracks, TrackRequest{
			Location:  locationRemote,
			TrackName: name,
			SessionID: sourceSFUSessionID,
		})
	}
	var result TracksResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&tracksRequestBody{Tracks: tracks}).
		SetResult(&result).
		Post("/sessions/" + viewerSFUSessionID + "/tracks/new")
	if err := c.check(resp, err, "pull remote tracks"); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSessionState returns the SFU's own view of the session, verbatim. It is
// a debugging surface, so the payload stays an opaque JSON document.
func (c *Client) GetSessionState(ctx context.Context, sfuSessionID string) (json.RawMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/sessions/" + sfuSessionID)
	if err := c.check(resp, err, "get session state"); err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body()), nil
}

func (c *Client) check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("sfu: %s: %w", op, err)
	}
	if resp.IsError() {
		return &UpstreamError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
