package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. Assistant content may carry the small
// HTML subset used by the templates (<a>, <br>); user content is plain text.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// MenuState is the option panel currently offered to the visitor.
type MenuState string

const (
	MenuInitialOptions MenuState = "initial_options"
	MenuQuickActions   MenuState = "quick_actions"
	MenuHidden         MenuState = "hidden"
)

// Sound is the kind of audio cue the view should play.
type Sound string

const (
	SoundUser      Sound = "user"
	SoundAssistant Sound = "assistant"
	SoundTyping    Sound = "typing"
)

type EventType string

const (
	EventMessageAppended EventType = "message_appended"
	EventTypingChanged   EventType = "typing_changed"
	EventMenuChanged     EventType = "menu_changed"
	EventSessionCleared  EventType = "session_cleared"
	EventSound           EventType = "sound"
)

// Event is a presentation notification. Only the field matching Type is set.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Message   *Message  `json:"message,omitempty"`
	Typing    *bool     `json:"typing,omitempty"`
	Menu      MenuState `json:"menu,omitempty"`
	Sound     Sound     `json:"sound,omitempty"`
}

// Listener receives session events in order. It is called with the session
// lock held and must neither block nor call back into the session.
type Listener interface {
	OnEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID         string    `json:"id"`
	Generation uint64    `json:"generation"`
	Pending    bool      `json:"pending"`
	Menu       MenuState `json:"menu"`
	Transcript []Message `json:"transcript"`
}
