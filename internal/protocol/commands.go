package protocol

import (
	"encoding/json"

	"repodash/internal/models"
)

// CommandType is the `type` discriminator of a client-to-server frame.
type CommandType string

const (
	CommandChatMessage     CommandType = "chat_message"
	CommandLoadHistory     CommandType = "load_history"
	CommandNewConversation CommandType = "new_conversation"
)

// Command is a client-to-server instruction.
type Command interface {
	CommandType() CommandType
}

// SendMessage asks the server to persist Text and produce an assistant reply.
// A zero ConversationID asks the server to create a conversation.
type SendMessage struct {
	Text           string
	ConversationID models.ConversationID
	TurnID         string
}

// LoadHistory asks for a full snapshot of a conversation.
type LoadHistory struct {
	ConversationID models.ConversationID
}

// StartNewConversation asks the server to create an empty conversation.
type StartNewConversation struct{}

func (SendMessage) CommandType() CommandType          { return CommandChatMessage }
func (LoadHistory) CommandType() CommandType          { return CommandLoadHistory }
func (StartNewConversation) CommandType() CommandType { return CommandNewConversation }

type chatMessageWire struct {
	Type           CommandType           `json:"type"`
	Message        string                `json:"message"`
	ConversationID models.ConversationID `json:"conversation_id"`
	TurnID         string                `json:"turn_id,omitempty"`
}

type loadHistoryWire struct {
	Type           CommandType           `json:"type"`
	ConversationID models.ConversationID `json:"conversation_id"`
}

type newConversationCommandWire struct {
	Type CommandType `json:"type"`
}

// Encode serializes a command. Commands are built internally and always
// marshal cleanly.
func Encode(cmd Command) []byte {
	var v interface{}
	switch c := cmd.(type) {
	case SendMessage:
		v = chatMessageWire{Type: CommandChatMessage, Message: c.Text, ConversationID: c.ConversationID, TurnID: c.TurnID}
	case LoadHistory:
		v = loadHistoryWire{Type: CommandLoadHistory, ConversationID: c.ConversationID}
	case StartNewConversation:
		v = newConversationCommandWire{Type: CommandNewConversation}
	default:
		return nil
	}
	data, _ := json.Marshal(v)
	return data
}

// DecodeCommand is the server-side counterpart of Encode. Unknown command
// types yield a *DecodeError the caller may ignore.
func DecodeCommand(frame []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed frame", Err: err}
	}

	switch CommandType(env.Type) {
	case CommandChatMessage:
		var w chatMessageWire
		if err := unmarshalFrame(frame, env.Type, &w); err != nil {
			return nil, err
		}
		return SendMessage{Text: w.Message, ConversationID: w.ConversationID, TurnID: w.TurnID}, nil
	case CommandLoadHistory:
		var w loadHistoryWire
		if err := unmarshalFrame(frame, env.Type, &w); err != nil {
			return nil, err
		}
		return LoadHistory{ConversationID: w.ConversationID}, nil
	case CommandNewConversation:
		return StartNewConversation{}, nil
	}

	return nil, &DecodeError{Type: env.Type, Reason: "unknown command type", UnknownType: true}
}
