package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultConversationTitle is assigned on creation and replaced after the first exchange.
const DefaultConversationTitle = "New Conversation"

// Conversation is the server-side record owning a message list.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationSummary is the sidebar view of a conversation.
type ConversationSummary struct {
	ID           ConversationID `json:"id"`
	Title        string         `json:"title"`
	UpdatedAt    time.Time      `json:"updated_at"`
	MessageCount int            `json:"message_count"`
}

// ConversationDetail is a conversation together with its full message list.
type ConversationDetail struct {
	ConversationSummary
	Messages []ChatMessage `json:"messages"`
}

type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
