// Package protocol defines the JSON vocabulary exchanged over the chat socket:
// server-pushed events and client commands, in both directions. It does no I/O.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"repodash/internal/models"
)

// EventType is the `type` discriminator of a server-to-client frame.
type EventType string

const (
	EventConnection        EventType = "connection"
	EventUserMessage       EventType = "user_message"
	EventTyping            EventType = "typing"
	EventAssistantChunk    EventType = "assistant_message_chunk"
	EventAssistantComplete EventType = "assistant_message_complete"
	EventHistory           EventType = "history"
	EventNewConversation   EventType = "new_conversation"
	EventError             EventType = "error"
)

// Event is a decoded server-to-client frame. The concrete types below are the
// only implementations.
type Event interface {
	EventType() EventType
}

// ConnectionAck is sent once after the server accepts the socket.
type ConnectionAck struct {
	Message string
	User    string
}

// UserMessageEcho is the server's persisted copy of a message the user sent.
type UserMessageEcho struct {
	Message        string
	MessageID      int64
	ConversationID models.ConversationID
	Timestamp      time.Time
	TurnID         string
}

// Typing toggles the assistant typing indicator.
type Typing struct {
	On bool
}

// AssistantChunk carries one increment of streamed assistant text.
type AssistantChunk struct {
	Content string
	TurnID  string
}

// AssistantComplete closes the streamed assistant reply.
type AssistantComplete struct {
	MessageID      int64
	TokensUsed     int
	ProcessingTime float64
	TurnID         string
}

// History is a full snapshot of a conversation's messages.
type History struct {
	ConversationID models.ConversationID
	Messages       []models.ChatMessage
}

// NewConversation reports the id of a conversation the server just created.
type NewConversation struct {
	ConversationID models.ConversationID
}

// ServerError is a logical error reported by the server.
type ServerError struct {
	Message string
}

func (ConnectionAck) EventType() EventType     { return EventConnection }
func (UserMessageEcho) EventType() EventType   { return EventUserMessage }
func (Typing) EventType() EventType            { return EventTyping }
func (AssistantChunk) EventType() EventType    { return EventAssistantChunk }
func (AssistantComplete) EventType() EventType { return EventAssistantComplete }
func (History) EventType() EventType           { return EventHistory }
func (NewConversation) EventType() EventType   { return EventNewConversation }
func (ServerError) EventType() EventType       { return EventError }

// DecodeError reports a frame that could not be turned into an Event or Command.
// It is never fatal to the connection.
type DecodeError struct {
	Type   string
	Reason string
	Err    error
	// UnknownType is set when the frame parsed but its type tag is not recognised.
	UnknownType bool
}

func (e *DecodeError) Error() string {
	msg := "protocol: " + e.Reason
	if e.Type != "" {
		msg = fmt.Sprintf("protocol: %s frame: %s", e.Type, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsUnknownType reports whether err is a DecodeError for an unrecognised type tag.
func IsUnknownType(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.UnknownType
}

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// wire shapes

type envelope struct {
	Type string `json:"type"`
}

type connectionWire struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	User    string    `json:"user,omitempty"`
}

type userMessageWire struct {
	Type           EventType             `json:"type"`
	Message        *string               `json:"message"`
	MessageID      int64                 `json:"message_id,omitempty"`
	ConversationID models.ConversationID `json:"conversation_id,omitempty"`
	Timestamp      string                `json:"timestamp,omitempty"`
	TurnID         string                `json:"turn_id,omitempty"`
}

type typingWire struct {
	Type     EventType `json:"type"`
	IsTyping *bool     `json:"is_typing"`
}

type chunkWire struct {
	Type    EventType `json:"type"`
	Content *string   `json:"content"`
	TurnID  string    `json:"turn_id,omitempty"`
}

type completeWire struct {
	Type           EventType `json:"type"`
	MessageID      int64     `json:"message_id,omitempty"`
	TokensUsed     int       `json:"tokens_used"`
	ProcessingTime float64   `json:"processing_time"`
	TurnID         string    `json:"turn_id,omitempty"`
}

type historyMessageWire struct {
	ID        int64       `json:"id,omitempty"`
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
}

type historyWire struct {
	Type           EventType             `json:"type"`
	ConversationID models.ConversationID `json:"conversation_id,omitempty"`
	Messages       *[]historyMessageWire `json:"messages"`
}

type newConversationWire struct {
	Type           EventType             `json:"type"`
	ConversationID models.ConversationID `json:"conversation_id"`
}

type errorWire struct {
	Type    EventType `json:"type"`
	Message *string   `json:"message"`
}

// Decode turns one raw frame into an Event. Malformed payloads and unknown
// type tags yield a *DecodeError.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed frame", Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}

	switch EventType(env.Type) {
	case EventConnection:
		var w connectionWire
		if err := unmarshalFrame(frame, env.Type, &w); err != nil {
			return nil, err
		}
		return ConnectionAck{Message: w.Message, User: w.User}, nil

	case EventUserMessage:
		var w userMessageWire
		if err := unmarshalFrame(frame, env.Type, &w); err != nil {
			return nil, err
		}
		if w.Message == nil {
			return nil, &DecodeError{Type: env.Type, Reason: "missing message"}
		}
		return UserMessageEcho{
			Message:        *w.Message,
			MessageID:      w.MessageID,
			ConversationID: w.ConversationID,
			Timestamp:      ParseTimestamp(w.Timestamp),
			TurnID:         w.TurnID,
		}, nil

	case EventTyping:
		var w typingWire
		if err := unmarshalFrame(frame, env.Type, &w); err != nil {
			return nil, err
		}
		if w.IsTyping == nil {
			return nil, &DecodeError{Type: env.Type, Reason: "missing is_typing"}
		}
		return Typing{On: *w.IsTyping}, nil

	case EventAssistantChunk:
		var w chunkWire
		if err := unmarshalFrame(frame, env.Type, &w); err != nil {
			return nil, err
		}
		if w.Content == nil {
			return nil, &DecodeError{Type: env.Type, Reason: "missing content"}
		}
		return AssistantChunk{Content: *w.Content, TurnID: w.TurnID}, nil

	case EventAssistantComplete:
		var w completeWire
		if err := unmarshalFrame(frame, env.Type, &w); err != nil {
			return nil, err
		}
		return AssistantComplete{
			MessageID:      w.MessageID,
			TokensUsed:     w.TokensUsed,
			ProcessingTime: w.ProcessingTime,
			TurnID:         w.TurnID,
		}, nil

	case EventHistory:
		var w historyWire
		if err := unmarshalFrame(frame, env.Type, &w); err != nil {
			return nil, err
		}
		if w.Messages == nil {
			return nil, &DecodeError{Type: env.Type, Reason: "missing messages"}
		}
		msgs := make([]models.ChatMessage, 0, len(*w.Messages))
		for i, m := range *w.Messages {
			if !m.Role.Valid() {
				return nil, &DecodeError{Type: env.Type, Reason: fmt.Sprintf("message %d has unknown role %q", i, m.Role)}
			}
			msgs = append(msgs, models.ChatMessage{
				ID:        m.ID,
				Role:      m.Role,
				Content:   m.Content,
				Timestamp: ParseTimestamp(m.Timestamp),
			})
		}
		return History{ConversationID: w.ConversationID, Messages: msgs}, nil

	case EventNewConversation:
		var w newConversationWire
		if err := unmarshalFrame(frame, env.Type, &w); err != nil {
			return nil, err
		}
		if w.ConversationID.IsZero() {
			return nil, &DecodeError{Type: env.Type, Reason: "missing conversation_id"}
		}
		return NewConversation{ConversationID: w.ConversationID}, nil

	case EventError:
		var w errorWire
		if err := unmarshalFrame(frame, env.Type, &w); err != nil {
			return nil, err
		}
		if w.Message == nil {
			return nil, &DecodeError{Type: env.Type, Reason: "missing message"}
		}
		return ServerError{Message: *w.Message}, nil
	}

	return nil, &DecodeError{Type: env.Type, Reason: "unknown event type", UnknownType: true}
}

// EncodeEvent serializes an Event for the wire. Used by the server side.
func EncodeEvent(ev Event) []byte {
	var v interface{}
	switch e := ev.(type) {
	case ConnectionAck:
		v = connectionWire{Type: EventConnection, Message: e.Message, User: e.User}
	case UserMessageEcho:
		v = userMessageWire{
			Type:           EventUserMessage,
			Message:        &e.Message,
			MessageID:      e.MessageID,
			ConversationID: e.ConversationID,
			Timestamp:      FormatTimestamp(e.Timestamp),
			TurnID:         e.TurnID,
		}
	case Typing:
		v = typingWire{Type: EventTyping, IsTyping: &e.On}
	case AssistantChunk:
		v = chunkWire{Type: EventAssistantChunk, Content: &e.Content, TurnID: e.TurnID}
	case AssistantComplete:
		v = completeWire{
			Type:           EventAssistantComplete,
			MessageID:      e.MessageID,
			TokensUsed:     e.TokensUsed,
			ProcessingTime: e.ProcessingTime,
			TurnID:         e.TurnID,
		}
	case History:
		msgs := make([]historyMessageWire, 0, len(e.Messages))
		for _, m := range e.Messages {
			msgs = append(msgs, historyMessageWire{
				ID:        m.ID,
				Role:      m.Role,
				Content:   m.Content,
				Timestamp: FormatTimestamp(m.Timestamp),
			})
		}
		v = historyWire{Type: EventHistory, ConversationID: e.ConversationID, Messages: &msgs}
	case NewConversation:
		v = newConversationWire{Type: EventNewConversation, ConversationID: e.ConversationID}
	case ServerError:
		v = errorWire{Type: EventError, Message: &e.Message}
	default:
		return nil
	}
	data, _ := json.Marshal(v)
	return data
}

func unmarshalFrame(frame []byte, typ string, v interface{}) error {
	if err := json.Unmarshal(frame, v); err != nil {
		return &DecodeError{Type: typ, Reason: "malformed payload", Err: err}
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the ISO-8601 forms servers emit. Unparseable input
// yields the zero time.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FormatTimestamp is the inverse of ParseTimestamp; the zero time formats as "".
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
