package broker

// Inbound event names accepted from clients.
const (
	EventUserJoin             = "user-join"
	EventSendMessage          = "send-message"
	EventTyping               = "typing"
	EventAdminRequestMessages = "admin-request-messages"
	EventAdminClearMessages   = "admin-clear-messages"
)

// Event is an inbound client event. The set of implementations is closed;
// Dispatch handles every one of them.
type Event interface {
	eventName() string
}

// JoinEvent announces a session with an optional display name.
type JoinEvent struct {
	Name string
}

// SendMessageEvent carries either a text or a video message. When IsVideo is
// set, VideoURL is used and Text is ignored.
type SendMessageEvent struct {
	Text     string
	IsVideo  bool
	VideoURL string
}

// TypingEvent reports whether the sender is currently typing.
type TypingEvent struct {
	IsTyping bool
}

// AdminRequestMessagesEvent asks for the full history buffer.
type AdminRequestMessagesEvent struct{}

// AdminClearMessagesEvent clears the history buffer.
type AdminClearMessagesEvent struct{}

func (JoinEvent) eventName() string                 { return EventUserJoin }
func (SendMessageEvent) eventName() string          { return EventSendMessage }
func (TypingEvent) eventName() string               { return EventTyping }
func (AdminRequestMessagesEvent) eventName() string { return EventAdminRequestMessages }
func (AdminClearMessagesEvent) eventName() string   { return EventAdminClearMessages }

// EventName returns the wire name of an inbound event.
func EventName(e Event) string {
	if e == nil {
		return ""
	}
	return e.eventName()
}
