package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/dashvoice/pkg/audio"
)

// ErrDeviceNotRegistered is returned by [Registry.CreateDevice] when no
// factory has been registered under the requested device name.
var ErrDeviceNotRegistered = errors.New("config: audio device not registered")

// DeviceFactory opens an [audio.Device] for the given audio settings.
type DeviceFactory func(AudioConfig) (audio.Device, error)

// Registry maps audio device names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]DeviceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]DeviceFactory)}
}

// RegisterDevice registers a device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDevice(name string, factory DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// CreateDevice instantiates the device named by cfg.Device.
// Returns [ErrDeviceNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDevice(cfg AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[cfg.Device]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrDeviceNotRegistered, cfg.Device, r.Names())
	}
	return factory(cfg)
}

// Names returns the registered device names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.devices))
	for name := range r.devices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
