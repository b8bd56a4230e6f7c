// Package coordinator hosts cast sessions: one caster publishing screen
// tracks through an external SFU, any number of viewers pulling them. Each
// session has exactly one Coordinator instance that serializes every
// operation addressed to it, owns its durable record and its set of attached
// notification connections, and proxies all SDP negotiation to the SFU
// control plane so the service credential never reaches a browser.
package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/benfoxall/cast/internal/coordinator/cfg"
	"github.com/benfoxall/cast/internal/coordinator/channel"
	"github.com/benfoxall/cast/internal/coordinator/httpx"
	"github.com/benfoxall/cast/internal/coordinator/session"
	"github.com/benfoxall/cast/internal/coordinator/sfu"
	"github.com/benfoxall/cast/internal/events"
	"github.com/benfoxall/cast/internal/store"
	mqttclient "github.com/benfoxall/cast/pkg/mqttclient"
)

// Service consists of many independent sessions. Sessions share nothing but
// the store, the SFU client, and the optional event bridge; they may execute
// concurrently with each other.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Coordinator

	store  store.Store
	sfu    *sfu.Client
	bridge *events.Bridge
	logger zerolog.Logger
	config *cfg.ConfigOptions
}

// New wires a Service from config. The logger and the optional MQTT client
// travel in ctx; without an MQTT client the event bridge is disabled.
func New(ctx context.Context, st store.Store, config *cfg.ConfigOptions) *Service {
	logger := *log.Ctx(ctx)

	var bridge *events.Bridge
	if mc := mqttclient.FromContext(ctx); mc != nil {
		bridge = events.New(mc, &logger, events.Options{
			TopicPrefix: config.TopicPrefix,
			Qos:         config.Qos,
			Retained:    config.Retained,
		})
	}

	return &Service{
		sessions: make(map[string]*Coordinator),
		store:    st,
		sfu:      sfu.New(&logger, config.SFUConfigOptions),
		bridge:   bridge,
		logger:   logger,
		config:   config,
	}
}

// Handler returns the HTTP surface: session-scoped operation routes plus
// Prometheus metrics. Session ids arrive in the URL; generating readable ids
// is the front end's concern.
func (svc *Service) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Error(w, http.StatusNotFound, httpx.ErrRouteNotFound, "")
	})
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s := r.PathPrefix("/s/{session}").Subrouter()
	s.HandleFunc("/init", svc.session("init", (*Coordinator).handleInit)).Methods(http.MethodPost)
	s.HandleFunc("/calls-session", svc.session("calls-session", (*Coordinator).handleCallsSession)).Methods(http.MethodPost)
	s.HandleFunc("/renegotiate", svc.session("renegotiate", (*Coordinator).handleRenegotiate)).Methods(http.MethodPost)
	s.HandleFunc("/add-track", svc.session("add-track", (*Coordinator).handleAddTrack)).Methods(http.MethodPost)
	s.HandleFunc("/remove-track", svc.session("remove-track", (*Coordinator).handleRemoveTrack)).Methods(http.MethodPost)
	s.HandleFunc("/new-session", svc.session("new-session", (*Coordinator).handleNewSession)).Methods(http.MethodPost)
	s.HandleFunc("/pull-tracks", svc.session("pull-tracks", (*Coordinator).handlePullTracks)).Methods(http.MethodPost)
	s.HandleFunc("/viewer-renegotiate", svc.session("viewer-renegotiate", (*Coordinator).handleViewerRenegotiate)).Methods(http.MethodPost)
	s.HandleFunc("/info", svc.session("info", (*Coordinator).handleInfo)).Methods(http.MethodGet)
	s.HandleFunc("/calls-state", svc.session("calls-state", (*Coordinator).handleCallsState)).Methods(http.MethodGet)
	s.HandleFunc("/viewer-calls-state", svc.session("viewer-calls-state", (*Coordinator).handleViewerCallsState)).Methods(http.MethodPost)
	s.HandleFunc("/ws", svc.session("ws", (*Coordinator).handleWS)).Methods(http.MethodGet)

	svc.logger.Debug().Msg("registered session HTTP handlers")
	return r
}

const shutdownTimeout = 5 * time.Second

// Serve starts the HTTP server and blocks until the server fails or ctx is
// canceled. On cancel it drains in-flight requests before returning.
func (svc *Service) Serve(ctx context.Context) error {
	addr := svc.config.Host + ":" + strconv.Itoa(svc.config.Port)
	srv := &http.Server{Addr: addr, Handler: svc.Handler()}

	errc := make(chan error, 1)
	go func() {
		svc.logger.Info().Str("host", svc.config.Host).Int("port", svc.config.Port).Msg("starting coordinator HTTP server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		svc.logger.Info().Msg("shutting down coordinator HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// session routes a request to the coordinator owning the session named in
// the URL, creating and restoring it on first use.
func (svc *Service) session(op string, h func(*Coordinator, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operationsTotal.WithLabelValues(op).Inc()
		co, err := svc.coordinator(r.Context(), mux.Vars(r)["session"])
		if err != nil {
			svc.logger.Err(err).Msg("could not restore session")
			httpx.Error(w, http.StatusInternalServerError, httpx.ErrStorage, "")
			return
		}
		h(co, w, r)
	}
}

// coordinator returns the Coordinator for sessionID. A new instance reads its
// record back in full before it accepts any operation, so no operation ever
// observes a partially restored state.
func (svc *Service) coordinator(ctx context.Context, sessionID string) (*Coordinator, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if co, ok := svc.sessions[sessionID]; ok {
		return co, nil
	}

	logger := svc.logger.With().Str("session_id", sessionID).Logger()
	machine := session.NewMachine(sessionID, svc.store, &logger)
	if err := machine.Load(ctx); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	co := &Coordinator{
		sessionID: sessionID,
		machine:   machine,
		channel:   channel.New(&logger),
		sfu:       svc.sfu,
		bridge:    svc.bridge,
		logger:    logger,
	}
	svc.sessions[sessionID] = co
	return co, nil
}
