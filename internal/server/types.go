// Package server defines the JSON envelope exchanged with browser clients and
// the decoding of inbound envelopes into broker events.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/broker"
)

// ErrUnknownEvent is returned when an envelope names an event the relay does
// not handle.
var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the JSON frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// sendMessagePayload keeps every field raw so that a wrongly typed field only
// degrades that field.
type sendMessagePayload struct {
	Text     json.RawMessage `json:"text"`
	IsVideo  json.RawMessage `json:"isVideo"`
	VideoURL json.RawMessage `json:"videoUrl"`
}

// encodeEnvelope marshals an outbound event.
func encodeEnvelope(event string, payload any) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Event: event, Data: payload})
}

// decodeEvent parses a raw client frame into a broker event. Malformed
// payloads decode to zero values rather than errors and are logged at debug;
// only an unreadable envelope or an unknown event name fails.
func decodeEvent(raw []byte, log zerolog.Logger) (broker.Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case broker.EventUserJoin:
		return broker.JoinEvent{Name: rawString(env.Data)}, nil

	case broker.EventSendMessage:
		var p sendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Debug().Err(err).Msg("malformed send-message payload")
		}
		if rawTruthy(p.IsVideo) {
			return broker.SendMessageEvent{IsVideo: true, VideoURL: rawString(p.VideoURL)}, nil
		}
		return broker.SendMessageEvent{Text: rawString(p.Text)}, nil

	case broker.EventTyping:
		return broker.TypingEvent{IsTyping: rawBool(env.Data)}, nil

	case broker.EventAdminRequestMessages:
		return broker.AdminRequestMessagesEvent{}, nil

	case broker.EventAdminClearMessages:
		return broker.AdminClearMessagesEvent{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func rawString(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return ""
	}
	return s
}

func rawBool(data json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return false
	}
	return b
}

// rawTruthy reports whether a JSON value is truthy the way browser clients
// treat flags: true, non-zero numbers, non-empty strings, objects and arrays.
func rawTruthy(data json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
