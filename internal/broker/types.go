// Package broker owns the chat relay's shared state: the roster of joined
// sessions and the bounded message history. It turns inbound client events
// into state changes and outbound deliveries through a Transport, and has no
// knowledge of the network layer that carries them.
package broker

import "time"

// Outbound event names delivered through the Transport.
const (
	EventMessageHistory    = "message-history"
	EventNewMessage        = "new-message"
	EventUsersUpdate       = "users-update"
	EventUserTyping        = "user-typing"
	EventAdminMessagesData = "admin-messages-data"
	EventAdminClearSuccess = "admin-clear-success"
	EventMessagesCleared   = "messages-cleared"
)

const (
	// DefaultHistoryLimit is the number of messages retained for replay.
	DefaultHistoryLimit = 100

	systemAuthor    = "System"
	anonymousAuthor = "Anonymous"
)

// Kind identifies the type of a ChatMessage.
type Kind string

const (
	KindText   Kind = "text"
	KindVideo  Kind = "video"
	KindSystem Kind = "system"
)

// Session is a joined client as seen by other clients.
type Session struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"username"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// ChatMessage is an immutable record of one broadcast event.
type ChatMessage struct {
	ID                string    `json:"id"`
	Kind              Kind      `json:"kind"`
	Text              string    `json:"text,omitempty"`
	VideoURL          string    `json:"videoUrl,omitempty"`
	AuthorDisplayName string    `json:"username"`
	AuthorSessionID   string    `json:"userId,omitempty"`
	Timestamp         time.Time `json:"timestamp"`

	// Mirrors of Kind kept for browser clients.
	IsSystemMessage bool `json:"isSystemMessage,omitempty"`
	IsVideo         bool `json:"isVideo,omitempty"`
}

// TypingStatus is the payload of a user-typing notification.
type TypingStatus struct {
	SessionID   string `json:"userId"`
	DisplayName string `json:"username"`
	IsTyping    bool   `json:"isTyping"`
}

// Stats summarizes the broker state for status endpoints.
type Stats struct {
	MessageCount int `json:"messageCount"`
	UserCount    int `json:"userCount"`
}

// Transport delivers outbound events to connected sessions. Implementations
// must not call back into the Broker from these methods.
type Transport interface {
	// SendTo delivers an event to a single session.
	SendTo(sessionID, event string, payload any)
	// BroadcastAll delivers an event to every connected session.
	BroadcastAll(event string, payload any)
	// BroadcastExcept delivers an event to every connected session but one.
	BroadcastExcept(sessionID, event string, payload any)
}
