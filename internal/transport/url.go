package transport

import (
	"fmt"
	"net/url"
)

// Query parameter names carried on the session URL.
const (
	ParamClientID = "client_id"
	ParamToken    = "token"
)

// BuildURL returns base with the client id and bearer token set as query
// parameters. Existing values for those keys are replaced, so applying
// BuildURL to its own output yields the same URL. Empty values leave the
// corresponding parameter untouched.
func BuildURL(base, clientID, token string) (string, error) {
	u, err := ValidateURL(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if clientID != "" {
		q.Set(ParamClientID, clientID)
	}
	if token != "" {
		q.Set(ParamToken, token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ValidateURL parses raw and checks that it is an absolute ws:// or wss://
// URL.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("transport: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("transport: url %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("transport: url %q: missing host", raw)
	}
	return u, nil
}
