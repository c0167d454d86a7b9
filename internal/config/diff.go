package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EndpointChanged is set when session.url, session.client_id, or
	// session.token changed. Applying it forces a reconnect.
	EndpointChanged bool

	// NewClientID is the session.client_id to push into the running
	// session. It is empty unless the file names a new, non-empty id, so a
	// reload never erases an id the server assigned.
	NewClientID string

	// VehicleChanged is set when any vehicle field changed. Applying it
	// replaces the telemetry snapshot.
	VehicleChanged bool

	// VADChanged is set when the energy threshold or silence duration changed.
	VADChanged bool

	// RestartRequired names changed fields that only take effect on the next
	// session or process start.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.EndpointChanged && !d.VehicleChanged &&
		!d.VADChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	os, ns := old.Session, new.Session
	if os.URL != ns.URL || os.ClientID != ns.ClientID || os.Token != ns.Token {
		d.EndpointChanged = true
	}
	if ns.ClientID != "" && ns.ClientID != os.ClientID {
		d.NewClientID = ns.ClientID
	}

	if !old.Vehicle.Equal(new.Vehicle) {
		d.VehicleChanged = true
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if os.PairingURL != ns.PairingURL || os.ReconnectDelay != ns.ReconnectDelay || os.SendTimeout != ns.SendTimeout {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Playback != new.Playback {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.Host != new.Host {
		d.RestartRequired = append(d.RestartRequired, "host")
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
