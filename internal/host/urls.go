package host

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	mapsDirURL        = "https://www.google.com/maps/dir/?api=1&destination="
	youtubeResultsURL = "https://www.youtube.com/results?search_query="

	// ServiceYouTube is the only supported video search service.
	ServiceYouTube = "youtube"
)

// ErrUnsupportedService is returned for video search services other than
// YouTube.
var ErrUnsupportedService = errors.New("host: unsupported video service")

// MapsURL returns a Google Maps directions URL. A non-empty destination wins
// over coordinates.
func MapsURL(destination string, latitude, longitude float64) string {
	if destination != "" {
		return mapsDirURL + url.QueryEscape(destination)
	}
	return mapsDirURL +
		strconv.FormatFloat(latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(longitude, 'f', -1, 64)
}

// VideoSearchURL returns the results page for query on service. Service
// matching is case-insensitive; an empty service means YouTube.
func VideoSearchURL(service, query string) (string, error) {
	if s := strings.ToLower(service); s != "" && s != ServiceYouTube {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedService, service)
	}
	return youtubeResultsURL + url.QueryEscape(query), nil
}

// PairingURL sets the client_id query parameter on base.
func PairingURL(base, clientID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("host: parse pairing url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("host: pairing url %q: scheme must be http or https", base)
	}
	q := u.Query()
	q.Set("client_id", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
