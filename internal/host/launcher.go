package host

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/MrWong99/dashvoice/internal/observe"
)

// Compile-time assertion that Launcher satisfies Host.
var _ Host = (*Launcher)(nil)

// Launcher is a desktop [Host]. It opens URLs with an external command and
// records the last temperature it was given.
type Launcher struct {
	command []string
	metrics *observe.Metrics

	mu          sync.Mutex
	temperature int
}

// LauncherOption configures a [Launcher].
type LauncherOption func(*Launcher)

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) LauncherOption {
	return func(l *Launcher) { l.metrics = m }
}

// NewLauncher returns a Launcher that runs openCommand with the URL appended
// as its last argument. An empty openCommand selects the platform opener
// (open, xdg-open, or cmd /c start); "none" disables launching so URLs are
// only logged.
func NewLauncher(openCommand string, opts ...LauncherOption) *Launcher {
	l := &Launcher{command: openerFor(openCommand, runtime.GOOS)}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

func openerFor(cmd, goos string) []string {
	switch strings.TrimSpace(cmd) {
	case "none":
		return nil
	case "":
		switch goos {
		case "darwin":
			return []string{"open"}
		case "windows":
			return []string{"cmd", "/c", "start"}
		default:
			return []string{"xdg-open"}
		}
	default:
		return strings.Fields(cmd)
	}
}

// TemperatureChanged implements [Climate].
func (l *Launcher) TemperatureChanged(ctx context.Context, celsius int) error {
	l.mu.Lock()
	l.temperature = celsius
	l.mu.Unlock()
	slog.Info("cabin temperature changed", "celsius", celsius)
	l.metrics.RecordHostCommand(ctx, "temperature", "ok")
	return nil
}

// OpenMap implements [Navigator].
func (l *Launcher) OpenMap(ctx context.Context, url string) error {
	return l.launch(ctx, "open_map", url)
}

// OpenSearch implements [Browser].
func (l *Launcher) OpenSearch(ctx context.Context, url string) error {
	return l.launch(ctx, "open_search", url)
}

// OpenEmbedded implements [Browser]. A desktop host has no embedded view, so
// the page opens in the external browser.
func (l *Launcher) OpenEmbedded(ctx context.Context, url string) error {
	return l.launch(ctx, "open_embedded", url)
}

// OpenPairing implements [Pairing].
func (l *Launcher) OpenPairing(ctx context.Context, url string) error {
	return l.launch(ctx, "open_pairing", url)
}

// ConnectionChanged implements [ConnectionStatus].
func (l *Launcher) ConnectionChanged(_ context.Context, open bool) {
	slog.Info("connection status changed", "open", open)
}

// Temperature returns the last temperature reported to the host.
func (l *Launcher) Temperature() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.temperature
}

// launch starts the opener without waiting for it to exit.
func (l *Launcher) launch(ctx context.Context, command, url string) error {
	slog.Info("host command", "command", command, "url", url)
	if len(l.command) == 0 {
		l.metrics.RecordHostCommand(ctx, command, "skipped")
		return nil
	}

	args := append(l.command[1:len(l.command):len(l.command)], url)
	cmd := exec.Command(l.command[0], args...)
	if err := cmd.Start(); err != nil {
		l.metrics.RecordHostCommand(ctx, command, "error")
		return fmt.Errorf("host: %s: start %s: %w", command, l.command[0], err)
	}
	l.metrics.RecordHostCommand(ctx, command, "ok")

	// Reap the child so it does not linger as a zombie.
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("opener exited with error", "command", command, "err", err)
		}
	}()
	return nil
}
