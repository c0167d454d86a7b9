package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/dashvoice/internal/observe"
	"github.com/MrWong99/dashvoice/internal/transport"
	"github.com/MrWong99/dashvoice/pkg/telemetry"
)

var (
	// ErrAlreadyActive is returned by [Manager.Start] while a session runs.
	ErrAlreadyActive = errors.New("session: a session is already active")

	// ErrNotActive is returned by operations that need a running session.
	ErrNotActive = errors.New("session: no active session")
)

// Info holds metadata about a session.
type Info struct {
	// SessionID is a random identifier for log correlation. It is not sent
	// to the server.
	SessionID string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// Status is a point-in-time view of the manager and its session.
type Status struct {
	Active       bool
	SessionID    string
	State        transport.State
	Speaking     bool
	Paused       bool
	ClientID     string
	TemperatureC int
}

// Manager manages the lifecycle of voice sessions. Only one session can be
// active at a time. Endpoint, client id, and gate settings given while no
// session runs are kept for the next one. All exported methods are safe for
// concurrent use.
type Manager struct {
	mu     sync.Mutex
	base   Config
	engine *Engine
	info   Info
}

// NewManager returns a Manager that builds every session from base.
func NewManager(base Config) (*Manager, error) {
	if base.Vehicle == nil {
		base.Vehicle = telemetry.NewStore(telemetry.Default())
	}
	if base.Metrics == nil {
		base.Metrics = observe.DefaultMetrics()
	}
	if _, err := transport.ValidateURL(base.Transport.URL); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &Manager{base: base}, nil
}

// Start begins a new session. The session outlives ctx; only [Manager.Stop]
// or a fatal loop error ends it. Returns [ErrAlreadyActive] when a session is
// running and a wrapped [audio.ErrDeviceUnavailable] when the devices cannot
// be opened.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine != nil {
		return fmt.Errorf("%w (id=%s)", ErrAlreadyActive, m.info.SessionID)
	}

	e, err := New(m.base)
	if err != nil {
		return err
	}
	if err := e.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	m.engine = e
	m.info = Info{SessionID: uuid.NewString(), StartedAt: time.Now().UTC()}
	m.base.Metrics.ActiveSessions.Add(ctx, 1)
	go m.reap(e)

	slog.Info("session manager: session started", "session_id", m.info.SessionID, "url", redactURL(m.base.Transport.URL))
	return nil
}

// Stop ends the active session and waits for it to shut down. Returns
// [ErrNotActive] when nothing is running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	e, info := m.engine, m.info
	m.mu.Unlock()
	if e == nil {
		return ErrNotActive
	}

	err := e.Stop()
	m.release(e)
	slog.Info("session manager: session stopped", "session_id", info.SessionID, "duration", time.Since(info.StartedAt).Round(time.Millisecond))
	return err
}

// reap clears a session that ended on its own.
func (m *Manager) reap(e *Engine) {
	<-e.Done()
	if m.release(e) {
		slog.Warn("session manager: session ended unexpectedly", "err", e.Err())
	}
}

// release forgets e if it is still the active engine, carrying its client
// id over to the next session.
func (m *Manager) release(e *Engine) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine != e {
		return false
	}
	m.base.Transport.ClientID = e.ClientID()
	m.engine = nil
	m.info = Info{}
	m.base.Metrics.ActiveSessions.Add(context.Background(), -1)
	return true
}

// IsActive reports whether a session is currently running.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine != nil
}

// Info returns metadata about the active session, or the zero value.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Status reports the manager's current view.
func (m *Manager) Status() Status {
	m.mu.Lock()
	e, info := m.engine, m.info
	clientID := m.base.Transport.ClientID
	m.mu.Unlock()

	st := Status{
		SessionID:    info.SessionID,
		State:        transport.StateDisconnected,
		ClientID:     clientID,
		TemperatureC: m.base.Vehicle.Load().TemperatureC,
	}
	if e != nil {
		st.Active = true
		st.State = e.State()
		st.Speaking = e.Speaking()
		st.Paused = e.Paused()
		st.ClientID = e.ClientID()
	}
	return st
}

// Pause suppresses capture of the active session.
func (m *Manager) Pause() error {
	e := m.active()
	if e == nil {
		return ErrNotActive
	}
	e.Pause()
	return nil
}

// Resume lifts a capture pause of the active session.
func (m *Manager) Resume() error {
	e := m.active()
	if e == nil {
		return ErrNotActive
	}
	e.Resume()
	return nil
}

// UpdateEndpoint stores a new endpoint and token and, when a session is
// running, forces it to reconnect.
func (m *Manager) UpdateEndpoint(rawURL, token string) error {
	if _, err := transport.ValidateURL(rawURL); err != nil {
		return err
	}
	m.mu.Lock()
	m.base.Transport.URL = rawURL
	m.base.Transport.Token = token
	e := m.engine
	m.mu.Unlock()

	if e == nil {
		return nil
	}
	return e.UpdateEndpoint(rawURL, token)
}

// SetClientID stores the identifier used on the next connect.
func (m *Manager) SetClientID(id string) {
	m.mu.Lock()
	m.base.Transport.ClientID = id
	e := m.engine
	m.mu.Unlock()
	if e != nil {
		e.SetClientID(id)
	}
}

// SetVAD retunes the gate of the running session and future ones.
func (m *Manager) SetVAD(threshold float64, silence time.Duration) {
	m.mu.Lock()
	m.base.EnergyThreshold = threshold
	m.base.SilenceDuration = silence
	e := m.engine
	m.mu.Unlock()
	if e != nil {
		e.SetVAD(threshold, silence)
	}
}

// Vehicle returns the shared telemetry store.
func (m *Manager) Vehicle() *telemetry.Store { return m.base.Vehicle }

// SetVehicle replaces the telemetry snapshot after validating it. The next
// turn of the running session picks it up.
func (m *Manager) SetVehicle(s telemetry.Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.base.Vehicle.Set(s)
	slog.Info("session manager: vehicle updated",
		"temperature_c", s.TemperatureC,
		"speed_kmh", s.SpeedKmh,
		"fuel_pct", s.FuelPct,
		"address", s.Address,
	)
	return nil
}

func (m *Manager) active() *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine
}

// redactURL hides the query string, which carries the token.
func redactURL(raw string) string {
	u, err := transport.ValidateURL(raw)
	if err != nil {
		return "<invalid>"
	}
	u.RawQuery = ""
	return u.String()
}
