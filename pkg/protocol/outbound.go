package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AudioAppend carries one captured PCM block.
type AudioAppend struct {
	Type  Type   `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// NewAudioAppend base64-encodes block into an append message.
func NewAudioAppend(block []byte) AudioAppend {
	return AudioAppend{
		Type:  TypeAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(block),
	}
}

// ConversationItemCreate inserts a user text item into the conversation. It
// is used to attach the vehicle status at the start of each speech turn.
type ConversationItemCreate struct {
	EventID        string           `json:"event_id"`
	Type           Type             `json:"type"`
	PreviousItemID *string          `json:"previous_item_id"`
	Item           ConversationItem `json:"item"`
}

// ConversationItem is the item body of a [ConversationItemCreate].
type ConversationItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one element of a conversation item's content.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewUserText wraps text in a conversation.item.create envelope with fresh
// event and item identifiers. previous_item_id is always null.
func NewUserText(text string) ConversationItemCreate {
	return ConversationItemCreate{
		EventID: newID("event_"),
		Type:    TypeConversationItemCreate,
		Item: ConversationItem{
			ID:   newID("msg_"),
			Type: "message",
			Role: "user",
			Content: []ContentPart{
				{Type: "input_text", Text: text},
			},
		},
	}
}

// Marshal encodes an outbound message.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	return data, nil
}

// newID returns prefix followed by 24 random hex characters, keeping ids
// within the 32 character limit realtime servers impose on item ids.
func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
