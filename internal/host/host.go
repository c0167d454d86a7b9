// Package host defines the capabilities the session engine calls on the
// surrounding application: climate display, map navigation, browser,
// pairing page, and connection status.
//
// The engine treats every capability as an opaque side effect. [Launcher]
// is the desktop implementation that opens URLs with the platform's opener;
// package mock provides a recording implementation for tests.
package host

import "context"

// Climate receives cabin temperature changes requested by the server.
type Climate interface {
	TemperatureChanged(ctx context.Context, celsius int) error
}

// Navigator opens a map application at a navigation URL.
type Navigator interface {
	OpenMap(ctx context.Context, url string) error
}

// Browser opens web pages. OpenSearch uses the external browser;
// OpenEmbedded shows the page in the host's own view and pauses capture
// until the host resumes it.
type Browser interface {
	OpenSearch(ctx context.Context, url string) error
	OpenEmbedded(ctx context.Context, url string) error
}

// Pairing opens the device pairing page for a newly assigned client id.
type Pairing interface {
	OpenPairing(ctx context.Context, url string) error
}

// ConnectionStatus is told about every transport open/close transition.
type ConnectionStatus interface {
	ConnectionChanged(ctx context.Context, open bool)
}

// Host bundles every capability.
type Host interface {
	Climate
	Navigator
	Browser
	Pairing
	ConnectionStatus
}
