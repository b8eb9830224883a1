package broker

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Broker is the single authority over the Roster and History Log. Every
// operation runs under one mutex, so each one observes and leaves the state
// consistent and its deliveries are issued in processing order.
type Broker struct {
	mu        sync.Mutex
	roster    *Roster
	history   *HistoryLog
	transport Transport

	log     zerolog.Logger
	now     func() time.Time
	newID   func() string
	newName func() string
}

// Option configures a Broker.
type Option func(*Broker)

// WithHistoryLimit sets the number of messages retained for replay.
func WithHistoryLimit(limit int) Option {
	return func(b *Broker) {
		b.history = NewHistoryLog(limit)
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Broker) {
		b.log = l
	}
}

// WithClock overrides the time source for message and join timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.now = now
	}
}

// WithIDGenerator overrides how message ids are produced.
func WithIDGenerator(fn func() string) Option {
	return func(b *Broker) {
		b.newID = fn
	}
}

// WithNameGenerator overrides how placeholder display names are produced.
func WithNameGenerator(fn func() string) Option {
	return func(b *Broker) {
		b.newName = fn
	}
}

// New creates a Broker that delivers through t.
func New(t Transport, opts ...Option) *Broker {
	b := &Broker{
		roster:    NewRoster(),
		history:   NewHistoryLog(DefaultHistoryLimit),
		transport: t,
		log:       zerolog.Nop(),
		now:       time.Now,
		newID:     uuid.NewString,
		newName:   PlaceholderName,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PlaceholderName returns a generated display name of the form User<n> with
// n in [0, 1000). Names are not checked for uniqueness.
func PlaceholderName() string {
	return fmt.Sprintf("User%d", rand.IntN(1000))
}

// Dispatch routes an inbound event from sessionID to its operation.
func (b *Broker) Dispatch(sessionID string, e Event) {
	switch ev := e.(type) {
	case JoinEvent:
		b.Join(sessionID, ev.Name)
	case SendMessageEvent:
		if ev.IsVideo {
			b.SendVideoMessage(sessionID, ev.VideoURL)
			return
		}
		b.SendTextMessage(sessionID, ev.Text)
	case TypingEvent:
		b.SetTyping(sessionID, ev.IsTyping)
	case AdminRequestMessagesEvent:
		b.AdminFetchHistory(sessionID)
	case AdminClearMessagesEvent:
		b.AdminClearHistory(sessionID)
	default:
		b.log.Debug().Str("session", sessionID).Msgf("ignoring unsupported event %T", e)
	}
}

// Join adds sessionID to the roster, replays the history to it and announces
// the join to everyone.
func (b *Broker) Join(sessionID, requestedName string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := strings.TrimSpace(requestedName)
	if name == "" {
		name = b.newName()
	}

	b.roster.Put(Session{
		ID:          sessionID,
		DisplayName: name,
		JoinedAt:    b.now(),
	})

	b.transport.SendTo(sessionID, EventMessageHistory, b.history.Snapshot())

	b.publishSystem(name + " joined the chat")
	b.transport.BroadcastAll(EventUsersUpdate, b.roster.Snapshot())

	b.log.Info().Str("session", sessionID).Str("name", name).Int("users", b.roster.Len()).Msg("session joined")
}

// SendTextMessage records and broadcasts a text message. Empty or
// whitespace-only text is dropped.
func (b *Broker) SendTextMessage(sessionID, rawText string) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		b.log.Debug().Str("session", sessionID).Msg("dropping empty message")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	msg := ChatMessage{
		ID:                b.newID(),
		Kind:              KindText,
		Text:              text,
		AuthorDisplayName: b.authorName(sessionID),
		AuthorSessionID:   sessionID,
		Timestamp:         b.now(),
	}
	b.history.Append(msg)
	b.transport.BroadcastAll(EventNewMessage, msg)
}

// SendVideoMessage broadcasts a video message. Video messages are never
// retained in the history.
func (b *Broker) SendVideoMessage(sessionID, videoURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := ChatMessage{
		ID:                b.newID(),
		Kind:              KindVideo,
		VideoURL:          videoURL,
		AuthorDisplayName: b.authorName(sessionID),
		AuthorSessionID:   sessionID,
		Timestamp:         b.now(),
		IsVideo:           true,
	}
	b.transport.BroadcastAll(EventNewMessage, msg)
}

// SetTyping tells every other session whether sessionID is typing. Sessions
// that have not joined are ignored.
func (b *Broker) SetTyping(sessionID string, isTyping bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.roster.Get(sessionID)
	if !ok {
		return
	}
	b.transport.BroadcastExcept(sessionID, EventUserTyping, TypingStatus{
		SessionID:   sessionID,
		DisplayName: s.DisplayName,
		IsTyping:    isTyping,
	})
}

// Leave removes sessionID from the roster and announces the departure. It is
// a no-op for sessions that never joined or already left.
func (b *Broker) Leave(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.roster.Remove(sessionID)
	if !ok {
		return
	}

	b.publishSystem(s.DisplayName + " left the chat")
	b.transport.BroadcastAll(EventUsersUpdate, b.roster.Snapshot())

	b.log.Info().Str("session", sessionID).Str("name", s.DisplayName).Int("users", b.roster.Len()).Msg("session left")
}

// AdminFetchHistory sends the full history to the requesting session only.
func (b *Broker) AdminFetchHistory(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.log.Info().Str("session", sessionID).Int("messages", b.history.Len()).Msg("admin requested history")
	b.transport.SendTo(sessionID, EventAdminMessagesData, b.history.Snapshot())
}

// AdminClearHistory empties the history, acknowledges the requester and tells
// every session to clear its view.
func (b *Broker) AdminClearHistory(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cleared := b.history.Len()
	b.history.Clear()

	b.transport.SendTo(sessionID, EventAdminClearSuccess, nil)
	b.transport.BroadcastAll(EventMessagesCleared, nil)

	b.log.Info().Str("session", sessionID).Int("cleared", cleared).Msg("history cleared")
}

// History returns a copy of the retained messages, oldest first.
func (b *Broker) History() []ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.Snapshot()
}

// Roster returns a copy of the joined sessions.
func (b *Broker) Roster() []Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.roster.Snapshot()
}

// Stats returns the current message and user counts.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		MessageCount: b.history.Len(),
		UserCount:    b.roster.Len(),
	}
}

// authorName must be called with mu held.
func (b *Broker) authorName(sessionID string) string {
	if s, ok := b.roster.Get(sessionID); ok {
		return s.DisplayName
	}
	return anonymousAuthor
}

// publishSystem must be called with mu held.
func (b *Broker) publishSystem(text string) {
	msg := ChatMessage{
		ID:                b.newID(),
		Kind:              KindSystem,
		Text:              text,
		AuthorDisplayName: systemAuthor,
		Timestamp:         b.now(),
		IsSystemMessage:   true,
	}
	b.history.Append(msg)
	b.transport.BroadcastAll(EventNewMessage, msg)
}
