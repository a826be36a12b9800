package models

// EventKind discriminates inbound chat events.
type EventKind string

const (
	EventMessage EventKind = "message" // free-text message
	EventSelect  EventKind = "select"  // quick-reply selection
)

// Event is the transport-independent inbound chat event. The dialog engine
// consumes these uniformly regardless of how the transport represents a
// typed message versus a button tap.
type Event struct {
	Kind  EventKind
	Text  string // set for EventMessage
	Token string // set for EventSelect
}

func TextEvent(text string) Event { return Event{Kind: EventMessage, Text: text} }

func SelectEvent(token string) Event { return Event{Kind: EventSelect, Token: token} }

// QuickReply is one tappable option attached to an outbound message.
type QuickReply struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// Response is the single outbound message produced by one dialog turn.
type Response struct {
	Text         string       `json:"text"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
}

// WSMessage is the envelope for everything sent over the chat websocket.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}
