package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrMalformed reports a payload that is not a JSON object.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrMissingField reports an absent or empty required field.
	ErrMissingField = errors.New("protocol: missing required field")

	// ErrInvalidField reports a field whose value is present but unusable.
	ErrInvalidField = errors.New("protocol: invalid field")
)

// ParseError describes a structural problem in an inbound message of a known
// type. It wraps one of [ErrMissingField] or [ErrInvalidField] or a JSON
// decoding error.
type ParseError struct {
	Type  Type
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("protocol: %s: field %q: %v", e.Type, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Message is implemented by every inbound message type.
type Message interface {
	MessageType() Type
}

// AudioDelta is a decoded fragment of server speech.
type AudioDelta struct {
	PCM []byte
}

// AirControl sets an absolute cabin temperature in °C.
type AirControl struct {
	Temperature int
}

// AirControlDelta adjusts the cabin temperature by a non-zero amount.
type AirControlDelta struct {
	TemperatureDelta int
}

// SearchVideos asks the host to search a video service.
type SearchVideos struct {
	Service string
	Input   string
}

// LaunchNavigation asks the host to navigate to a place. Destination wins
// when both a destination and coordinates are present.
type LaunchNavigation struct {
	Destination string
	Latitude    float64
	Longitude   float64
	HasCoords   bool
}

// ClientID assigns the identifier to reuse on reconnects.
type ClientID struct {
	ClientID string
}

// VideoProposal asks the host to interrupt playback and open a URL in the
// embedded browser. Kind is [TypeProposalVideo] or [TypeDemoAction].
type VideoProposal struct {
	Kind     Type
	VideoURL string
}

// StopConversation interrupts playback.
type StopConversation struct{}

// Unknown is returned for any type this client does not handle.
type Unknown struct {
	Type Type
}

func (AudioDelta) MessageType() Type       { return TypeAudioDelta }
func (AirControl) MessageType() Type       { return TypeAirControl }
func (AirControlDelta) MessageType() Type  { return TypeAirControlDelta }
func (SearchVideos) MessageType() Type     { return TypeSearchVideos }
func (LaunchNavigation) MessageType() Type { return TypeLaunchNavigation }
func (ClientID) MessageType() Type         { return TypeClientID }
func (m VideoProposal) MessageType() Type  { return m.Kind }
func (StopConversation) MessageType() Type { return TypeStopConversation }
func (m Unknown) MessageType() Type        { return m.Type }

// ── Wire shapes ──────────────────────────────────────────────────────────────

type envelope struct {
	Type Type `json:"type"`
}

type audioDeltaWire struct {
	Delta *string `json:"delta"`
}

type airControlWire struct {
	Intent *struct {
		AirControl *struct {
			Temperature *int `json:"temperature"`
		} `json:"aircontrol"`
	} `json:"intent"`
}

type airControlDeltaWire struct {
	Intent *struct {
		AirControlDelta *struct {
			TemperatureDelta *int `json:"temperature_delta"`
		} `json:"aircontrol_delta"`
	} `json:"intent"`
}

type searchVideosWire struct {
	Intent *struct {
		WebBrowser *struct {
			SearchVideos *struct {
				Service *string `json:"service"`
				Input   *string `json:"input"`
			} `json:"search_videos"`
		} `json:"webbrowser"`
	} `json:"intent"`
}

type navigationWire struct {
	Intent *struct {
		Navigation *struct {
			Destination *string  `json:"destination"`
			Latitude    *float64 `json:"latitude"`
			Longitude   *float64 `json:"longitude"`
		} `json:"navigation"`
	} `json:"intent"`
}

type clientIDWire struct {
	ClientID *string `json:"client_id"`
}

type videoURLWire struct {
	VideoURL *string `json:"video_url"`
}

// ── Parse ────────────────────────────────────────────────────────────────────

// Parse decodes one inbound text message.
//
// It returns an error wrapping [ErrMalformed] when data is not a JSON object,
// a [*ParseError] when a known type lacks a valid required field, and
// [Unknown] (with a nil error) for unrecognised types. Type matching is exact
// and case-sensitive.
func Parse(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch env.Type {
	case TypeAudioDelta:
		return parseAudioDelta(data)
	case TypeAirControl:
		return parseAirControl(data)
	case TypeAirControlDelta:
		return parseAirControlDelta(data)
	case TypeSearchVideos:
		return parseSearchVideos(data)
	case TypeLaunchNavigation:
		return parseNavigation(data)
	case TypeClientID:
		return parseClientID(data)
	case TypeProposalVideo, TypeDemoAction:
		return parseVideoProposal(env.Type, data)
	case TypeStopConversation:
		return StopConversation{}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}

func missing(t Type, field string) error {
	return &ParseError{Type: t, Field: field, Err: ErrMissingField}
}

func invalid(t Type, field, reason string) error {
	return &ParseError{Type: t, Field: field, Err: fmt.Errorf("%w: %s", ErrInvalidField, reason)}
}

func decode(t Type, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &ParseError{Type: t, Field: typeErr.Field, Err: fmt.Errorf("%w: %w", ErrInvalidField, err)}
		}
		return &ParseError{Type: t, Err: err}
	}
	return nil
}

func parseAudioDelta(data []byte) (Message, error) {
	var w audioDeltaWire
	if err := decode(TypeAudioDelta, data, &w); err != nil {
		return nil, err
	}
	if w.Delta == nil || *w.Delta == "" {
		return nil, missing(TypeAudioDelta, "delta")
	}
	pcm, err := base64.StdEncoding.DecodeString(*w.Delta)
	if err != nil {
		return nil, invalid(TypeAudioDelta, "delta", "not base64")
	}
	if len(pcm) == 0 {
		return nil, missing(TypeAudioDelta, "delta")
	}
	return AudioDelta{PCM: pcm}, nil
}

func parseAirControl(data []byte) (Message, error) {
	var w airControlWire
	if err := decode(TypeAirControl, data, &w); err != nil {
		return nil, err
	}
	if w.Intent == nil || w.Intent.AirControl == nil || w.Intent.AirControl.Temperature == nil {
		return nil, missing(TypeAirControl, "intent.aircontrol.temperature")
	}
	return AirControl{Temperature: *w.Intent.AirControl.Temperature}, nil
}

func parseAirControlDelta(data []byte) (Message, error) {
	var w airControlDeltaWire
	if err := decode(TypeAirControlDelta, data, &w); err != nil {
		return nil, err
	}
	const field = "intent.aircontrol_delta.temperature_delta"
	if w.Intent == nil || w.Intent.AirControlDelta == nil || w.Intent.AirControlDelta.TemperatureDelta == nil {
		return nil, missing(TypeAirControlDelta, field)
	}
	d := *w.Intent.AirControlDelta.TemperatureDelta
	if d == 0 {
		return nil, invalid(TypeAirControlDelta, field, "delta is zero")
	}
	return AirControlDelta{TemperatureDelta: d}, nil
}

func parseSearchVideos(data []byte) (Message, error) {
	var w searchVideosWire
	if err := decode(TypeSearchVideos, data, &w); err != nil {
		return nil, err
	}
	if w.Intent == nil || w.Intent.WebBrowser == nil || w.Intent.WebBrowser.SearchVideos == nil {
		return nil, missing(TypeSearchVideos, "intent.webbrowser.search_videos")
	}
	sv := w.Intent.WebBrowser.SearchVideos
	if sv.Input == nil || *sv.Input == "" {
		return nil, missing(TypeSearchVideos, "intent.webbrowser.search_videos.input")
	}
	service := "youtube"
	if sv.Service != nil && *sv.Service != "" {
		service = *sv.Service
	}
	return SearchVideos{Service: service, Input: *sv.Input}, nil
}

func parseNavigation(data []byte) (Message, error) {
	var w navigationWire
	if err := decode(TypeLaunchNavigation, data, &w); err != nil {
		return nil, err
	}
	if w.Intent == nil || w.Intent.Navigation == nil {
		return nil, missing(TypeLaunchNavigation, "intent.navigation")
	}
	nav := w.Intent.Navigation
	if nav.Destination != nil && *nav.Destination != "" {
		return LaunchNavigation{Destination: *nav.Destination}, nil
	}
	if nav.Latitude == nil || nav.Longitude == nil {
		return nil, missing(TypeLaunchNavigation, "intent.navigation.destination")
	}
	lat, lon := *nav.Latitude, *nav.Longitude
	if lat < -90 || lat > 90 {
		return nil, invalid(TypeLaunchNavigation, "intent.navigation.latitude", "out of range")
	}
	if lon < -180 || lon > 180 {
		return nil, invalid(TypeLaunchNavigation, "intent.navigation.longitude", "out of range")
	}
	return LaunchNavigation{Latitude: lat, Longitude: lon, HasCoords: true}, nil
}

func parseClientID(data []byte) (Message, error) {
	var w clientIDWire
	if err := decode(TypeClientID, data, &w); err != nil {
		return nil, err
	}
	if w.ClientID == nil || *w.ClientID == "" {
		return nil, missing(TypeClientID, "client_id")
	}
	return ClientID{ClientID: *w.ClientID}, nil
}

func parseVideoProposal(t Type, data []byte) (Message, error) {
	var w videoURLWire
	if err := decode(t, data, &w); err != nil {
		return nil, err
	}
	if w.VideoURL == nil || *w.VideoURL == "" {
		return nil, missing(t, "video_url")
	}
	u, err := url.Parse(*w.VideoURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalid(t, "video_url", "not an absolute http(s) URL")
	}
	return VideoProposal{Kind: t, VideoURL: *w.VideoURL}, nil
}
