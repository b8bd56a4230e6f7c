package sfu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/benfoxall/cast/internal/coordinator/cfg"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := zerolog.Nop()
	return New(&logger, cfg.SFUConfigOptions{
		BaseURL:        srv.URL,
		AppID:          "app1",
		AppSecret:      "secret1",
		RequestTimeout: 5 * time.Second,
	})
}

func TestNewSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apps/app1/sessions/new" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret1" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sessionId":"sfu1"}`))
	})

	resp, err := client.NewSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "sfu1" {
		t.Fatalf("session id = %q, want sfu1", resp.SessionID)
	}
}

func TestUpstreamErrorPreservesBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "app quota exceeded", http.StatusForbidden)
	})

	_, err := client.NewSession(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error type %T, want *UpstreamError", err)
	}
	if ue.Status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", ue.Status)
	}
	if ue.Body != "app quota exceeded\n" {
		t.Fatalf("body = %q", ue.Body)
	}
}

func TestAddLocalTrackBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apps/app1/sessions/sfu1/tracks/new" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			SessionDescription *webrtc.SessionDescription `json:"sessionDescription"`
			Tracks             []TrackRequest             `json:"tracks"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(body.Tracks) != 1 || body.Tracks[0].Location != "local" || body.Tracks[0].TrackName != "screen" {
			t.Errorf("tracks = %+v", body.Tracks)
		}
		if body.SessionDescription == nil || body.SessionDescription.SDP != "v=0" {
			t.Errorf("sessionDescription = %+v", body.SessionDescription)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tracks":[{"trackName":"screen","mid":"0"}]}`))
	})

	offer := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	resp, err := client.AddLocalTrack(context.Background(), "sfu1", TrackRequest{TrackName: "screen", Kind: "video"}, offer)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Tracks) != 1 || resp.Tracks[0].Mid != "0" {
		t.Fatalf("tracks = %+v", resp.Tracks)
	}
}

func TestPullRemoteTracksBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apps/app1/sessions/viewer1/tracks/new" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Tracks []TrackRequest `json:"tracks"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(body.Tracks) != 2 {
			t.Fatalf("tracks = %+v", body.Tracks)
		}
		for _, track := range body.Tracks {
			if track.Location != "remote" || track.SessionID != "caster1" {
				t.Errorf("track = %+v", track)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tracks":[{"trackName":"a"},{"trackName":"b"}],"sessionDescription":{"type":"offer","sdp":"v=0"}}`))
	})

	resp, err := client.PullRemoteTracks(context.Background(), "viewer1", "caster1", []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.SessionDescription == nil || resp.SessionDescription.Type != webrtc.SDPTypeOffer {
		t.Fatalf("sessionDescription = %+v", resp.SessionDescription)
	}
}

func TestGetSessionStateVerbatim(t *testing.T) {
	const state = `{"tracks":[{"trackName":"screen","status":"active"}],"subscribers":3}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apps/app1/sessions/sfu1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(state))
	})

	raw, err := client.GetSessionState(context.Background(), "sfu1")
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != state {
		t.Fatalf("state = %s", raw)
	}
}
