// Package router dispatches inbound server messages to their handlers.
//
// The [Router] consumes raw messages from a channel on its own goroutine,
// parses them with [protocol.Parse], and maps each typed message to a
// playback action, a host capability call, or a session update. Malformed
// messages and unknown types are logged and dropped; neither affects the
// connection.
package router

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/dashvoice/internal/host"
	"github.com/MrWong99/dashvoice/internal/observe"
	"github.com/MrWong99/dashvoice/pkg/protocol"
	"github.com/MrWong99/dashvoice/pkg/telemetry"
)

// Playback is the subset of [audio.PlaybackBuffer] the router drives.
type Playback interface {
	Enqueue(pcm []byte)
	ClearAndStop()
}

// Session receives session-level effects of inbound messages.
type Session interface {
	// SetClientID stores the identifier for future reconnects.
	SetClientID(id string)

	// Pause suppresses capture until the host resumes it.
	Pause()
}

// Config holds the router's collaborators. Every field except PairingURL and
// Metrics is required.
type Config struct {
	Playback Playback
	Vehicle  *telemetry.Store
	Host     host.Host
	Session  Session

	// PairingURL is opened with the assigned client id. Empty disables
	// pairing.
	PairingURL string

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Router maps inbound messages to handlers. It has no concurrency of its
// own; [Router.Run] processes one message at a time.
type Router struct {
	playback   Playback
	vehicle    *telemetry.Store
	host       host.Host
	session    Session
	pairingURL string
	metrics    *observe.Metrics
}

// New returns a Router for cfg.
func New(cfg Config) (*Router, error) {
	var errs []error
	if cfg.Playback == nil {
		errs = append(errs, errors.New("router: playback is required"))
	}
	if cfg.Vehicle == nil {
		errs = append(errs, errors.New("router: vehicle store is required"))
	}
	if cfg.Host == nil {
		errs = append(errs, errors.New("router: host is required"))
	}
	if cfg.Session == nil {
		errs = append(errs, errors.New("router: session is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Router{
		playback:   cfg.Playback,
		vehicle:    cfg.Vehicle,
		host:       cfg.Host,
		session:    cfg.Session,
		pairingURL: cfg.PairingURL,
		metrics:    m,
	}, nil
}

// Run dispatches messages from in until ctx is cancelled or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-in:
			if !ok {
				return nil
			}
			r.Dispatch(ctx, data)
		}
	}
}

// Dispatch parses and handles one message.
func (r *Router) Dispatch(ctx context.Context, data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		var pe *protocol.ParseError
		if errors.As(err, &pe) {
			slog.Warn("dropping invalid message", "type", pe.Type, "field", pe.Field, "err", err)
			r.metrics.RecordDrop(ctx, string(pe.Type), "invalid")
		} else {
			slog.Warn("dropping malformed message", "err", err, "size", len(data))
			r.metrics.RecordDrop(ctx, "unknown", "malformed")
		}
		return
	}

	typ := msg.MessageType()
	r.metrics.RecordMessageReceived(ctx, string(typ))

	switch m := msg.(type) {
	case protocol.AudioDelta:
		r.playback.Enqueue(m.PCM)

	case protocol.AirControl:
		// Absolute set points are stored as given; only deltas are clamped.
		snap := r.vehicle.Update(func(s telemetry.Snapshot) telemetry.Snapshot {
			s.TemperatureC = m.Temperature
			return s
		})
		r.notifyTemperature(ctx, snap.TemperatureC)

	case protocol.AirControlDelta:
		snap := r.vehicle.Update(func(s telemetry.Snapshot) telemetry.Snapshot {
			return s.WithTemperature(s.TemperatureC + m.TemperatureDelta)
		})
		r.notifyTemperature(ctx, snap.TemperatureC)

	case protocol.SearchVideos:
		u, err := host.VideoSearchURL(m.Service, m.Input)
		if err != nil {
			slog.Warn("video search rejected", "service", m.Service, "err", err)
			r.metrics.RecordDrop(ctx, string(typ), "unsupported_service")
			return
		}
		r.call("open_search", r.host.OpenSearch(ctx, u))

	case protocol.LaunchNavigation:
		u := host.MapsURL(m.Destination, m.Latitude, m.Longitude)
		r.call("open_map", r.host.OpenMap(ctx, u))

	case protocol.ClientID:
		r.session.SetClientID(m.ClientID)
		slog.Info("client id assigned", "client_id", m.ClientID)
		if r.pairingURL == "" {
			return
		}
		u, err := host.PairingURL(r.pairingURL, m.ClientID)
		if err != nil {
			slog.Error("cannot build pairing url", "err", err)
			return
		}
		r.call("open_pairing", r.host.OpenPairing(ctx, u))

	case protocol.VideoProposal:
		r.playback.ClearAndStop()
		r.session.Pause()
		r.call("open_embedded", r.host.OpenEmbedded(ctx, m.VideoURL))

	case protocol.StopConversation:
		r.playback.ClearAndStop()

	case protocol.Unknown:
		slog.Debug("ignoring unhandled message type", "type", m.Type)
	}
}

func (r *Router) notifyTemperature(ctx context.Context, celsius int) {
	r.call("temperature", r.host.TemperatureChanged(ctx, celsius))
}

// call logs a failed host capability. Host failures never affect the session.
func (r *Router) call(command string, err error) {
	if err != nil {
		slog.Warn("host command failed", "command", command, "err", err)
	}
}
