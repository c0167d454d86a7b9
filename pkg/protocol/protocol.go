// Package protocol defines the JSON wire messages exchanged with the remote
// conversational service.
//
// Outbound messages are plain structs marshalled with encoding/json. Inbound
// messages are decoded by [Parse] into one concrete type per "type" value;
// every required field is validated and a missing or ill-typed field yields
// a [*ParseError] instead of a sentinel default.
package protocol

// Type is the value of the "type" field of a wire message.
type Type string

// Outbound message types.
const (
	TypeAudioAppend            Type = "input_audio_buffer.append"
	TypeConversationItemCreate Type = "conversation.item.create"
)

// Inbound message types.
const (
	TypeAudioDelta       Type = "response.audio.delta"
	TypeAirControl       Type = "tools.aircontrol"
	TypeAirControlDelta  Type = "tools.aircontrol_delta"
	TypeSearchVideos     Type = "tools.search_videos"
	TypeLaunchNavigation Type = "tools.launch_navigation"
	TypeClientID         Type = "client_id"
	TypeProposalVideo    Type = "proposal_video"
	TypeDemoAction       Type = "demo_action"
	TypeStopConversation Type = "stop_conversation"
)
