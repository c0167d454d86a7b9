// Package mock provides a recording implementation of [host.Host] for unit
// tests.
//
// Every call is appended to an exported slice guarded by the mock's mutex;
// use the accessor methods to read them from another goroutine. Set the
// *Err fields to make the corresponding capability fail.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dashvoice/internal/host"
)

var _ host.Host = (*Host)(nil)

// Host is a mock [host.Host].
type Host struct {
	mu sync.Mutex

	// TemperatureErr is returned by TemperatureChanged.
	TemperatureErr error

	// OpenErr is returned by every Open* method.
	OpenErr error

	Temperatures []int
	Maps         []string
	Searches     []string
	Embedded     []string
	Pairings     []string
	Connections  []bool

	// OnEmbedded, when set, is called after an OpenEmbedded call is recorded.
	OnEmbedded func(url string)
}

// TemperatureChanged implements [host.Climate].
func (h *Host) TemperatureChanged(_ context.Context, celsius int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Temperatures = append(h.Temperatures, celsius)
	return h.TemperatureErr
}

// OpenMap implements [host.Navigator].
func (h *Host) OpenMap(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Maps = append(h.Maps, url)
	return h.OpenErr
}

// OpenSearch implements [host.Browser].
func (h *Host) OpenSearch(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Searches = append(h.Searches, url)
	return h.OpenErr
}

// OpenEmbedded implements [host.Browser].
func (h *Host) OpenEmbedded(_ context.Context, url string) error {
	h.mu.Lock()
	h.Embedded = append(h.Embedded, url)
	err, fn := h.OpenErr, h.OnEmbedded
	h.mu.Unlock()
	if fn != nil {
		fn(url)
	}
	return err
}

// OpenPairing implements [host.Pairing].
func (h *Host) OpenPairing(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Pairings = append(h.Pairings, url)
	return h.OpenErr
}

// ConnectionChanged implements [host.ConnectionStatus].
func (h *Host) ConnectionChanged(_ context.Context, open bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Connections = append(h.Connections, open)
}

// TemperatureCalls returns a copy of Temperatures.
func (h *Host) TemperatureCalls() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.Temperatures...)
}

// MapCalls returns a copy of Maps.
func (h *Host) MapCalls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.Maps...)
}

// SearchCalls returns a copy of Searches.
func (h *Host) SearchCalls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.Searches...)
}

// EmbeddedCalls returns a copy of Embedded.
func (h *Host) EmbeddedCalls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.Embedded...)
}

// PairingCalls returns a copy of Pairings.
func (h *Host) PairingCalls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.Pairings...)
}

// ConnectionCalls returns a copy of Connections.
func (h *Host) ConnectionCalls() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.Connections...)
}
