package events

import (
	"encoding/json"

	"abyss-chat-backend/internal/chat"
)

// TypeSnapshot is sent once when a socket subscribes.
const TypeSnapshot = "snapshot"

// Envelope is the wire form of every frame written to a socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage encodes a frame with the given type and payload.
func NewMessage(messageType string, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: messageType, Payload: p})
}

// NewSnapshotMessage encodes the state a new subscriber starts from.
func NewSnapshotMessage(s chat.Snapshot) ([]byte, error) {
	return NewMessage(TypeSnapshot, s)
}

// NewEventMessage encodes one session event. Only the field relevant to the
// event type ends up in the payload.
func NewEventMessage(e chat.Event) ([]byte, error) {
	var payload any
	switch e.Type {
	case chat.EventMessageAppended:
		payload = e.Message
	case chat.EventTypingChanged:
		typing := e.Typing != nil && *e.Typing
		payload = struct {
			Typing bool `json:"typing"`
		}{typing}
	case chat.EventMenuChanged:
		payload = struct {
			Menu chat.MenuState `json:"menu"`
		}{e.Menu}
	case chat.EventSound:
		payload = struct {
			Sound chat.Sound `json:"sound"`
		}{e.Sound}
	default:
		payload = struct{}{}
	}
	return NewMessage(string(e.Type), payload)
}
