// Package control serves the HTTP API the host uses to drive the voice
// session: start, stop, pause and resume capture, switch the endpoint, and
// replace the vehicle telemetry.
//
// Every route answers with the session status as JSON:
//
//	POST /session/start     starts a session (409 while one is active)
//	POST /session/stop      stops the session (no-op when none is active)
//	POST /session/pause     suppresses capture
//	POST /session/resume    lifts the capture pause
//	PUT  /session/endpoint  {"url","token"}, forces a reconnect
//	PUT  /vehicle           partial vehicle state, see [config.VehicleConfig]
//	GET  /session           current status
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/dashvoice/internal/config"
	"github.com/MrWong99/dashvoice/internal/observe"
	"github.com/MrWong99/dashvoice/internal/session"
	"github.com/MrWong99/dashvoice/pkg/audio"
	"github.com/MrWong99/dashvoice/pkg/telemetry"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// Sessions is the part of [session.Manager] the API drives.
type Sessions interface {
	Start(ctx context.Context) error
	Stop() error
	Pause() error
	Resume() error
	UpdateEndpoint(rawURL, token string) error
	Status() session.Status
	Vehicle() *telemetry.Store
	SetVehicle(s telemetry.Snapshot) error
}

var _ Sessions = (*session.Manager)(nil)

// Server handles the control routes.
type Server struct {
	sessions Sessions
	metrics  *observe.Metrics
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics used by the request middleware. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New returns a Server over sessions.
func New(sessions Sessions, opts ...Option) *Server {
	s := &Server{sessions: sessions}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Register adds the control routes to mux, each wrapped in
// [observe.Middleware].
func (s *Server) Register(mux *http.ServeMux) {
	mw := observe.Middleware(s.metrics)
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, mw(h))
	}
	route("GET /session", s.handleStatus)
	route("POST /session/start", s.handleStart)
	route("POST /session/stop", s.handleStop)
	route("POST /session/pause", s.handlePause)
	route("POST /session/resume", s.handleResume)
	route("PUT /session/endpoint", s.handleEndpoint)
	route("PUT /vehicle", s.handleVehicle)
}

// Handler returns a standalone handler serving only the control routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// statusResponse is the JSON body returned by every route.
type statusResponse struct {
	Active       bool   `json:"active"`
	SessionID    string `json:"session_id,omitempty"`
	State        string `json:"state"`
	Speaking     bool   `json:"speaking"`
	Paused       bool   `json:"paused"`
	ClientID     string `json:"client_id"`
	TemperatureC int    `json:"temperature_c"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// endpointRequest is the JSON body of PUT /session/endpoint.
type endpointRequest struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeStatus(w, http.StatusOK)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.sessions.Start(r.Context())
	switch {
	case err == nil:
		s.writeStatus(w, http.StatusOK)
	case errors.Is(err, session.ErrAlreadyActive):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, audio.ErrDeviceUnavailable):
		slog.Error("control: session start failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		slog.Error("control: session start failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.sessions.Stop(); err != nil && !errors.Is(err, session.ErrNotActive) {
		slog.Warn("control: session ended with error", "err", err)
	}
	s.writeStatus(w, http.StatusOK)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.toggle(w, s.sessions.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.toggle(w, s.sessions.Resume)
}

func (s *Server) toggle(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.writeStatus(w, http.StatusOK)
}

func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	if err := s.sessions.UpdateEndpoint(req.URL, req.Token); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeStatus(w, http.StatusOK)
}

func (s *Server) handleVehicle(w http.ResponseWriter, r *http.Request) {
	var req config.VehicleConfig
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := req.Apply(s.sessions.Vehicle().Load())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sessions.SetVehicle(snap); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeStatus(w, http.StatusOK)
}

func (s *Server) writeStatus(w http.ResponseWriter, code int) {
	st := s.sessions.Status()
	writeJSON(w, code, statusResponse{
		Active:       st.Active,
		SessionID:    st.SessionID,
		State:        st.State.String(),
		Speaking:     st.Speaking,
		Paused:       st.Paused,
		ClientID:     st.ClientID,
		TemperatureC: st.TemperatureC,
	})
}

// decode reads a single JSON object, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
