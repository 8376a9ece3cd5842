package session

import (
	"context"
	"html/template"

	"repodash/internal/connection"
	"repodash/internal/models"
)

// Phase is the primary state of a Session.
type Phase int

const (
	// PhaseIdle has no conversation loaded.
	PhaseIdle Phase = iota
	// PhaseAwaitingHistory waits for the snapshot of a conversation being switched to.
	PhaseAwaitingHistory
	// PhaseActive has a conversation loaded and accepts input.
	PhaseActive
	// PhaseStreaming is PhaseActive with an assistant reply in progress.
	PhaseStreaming
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingHistory:
		return "awaiting-history"
	case PhaseActive:
		return "active"
	case PhaseStreaming:
		return "streaming"
	}
	return "unknown"
}

// Conn is the slice of connection.Manager a Session consumes.
type Conn interface {
	Send(data []byte) error
	Events() <-chan connection.Event
	State() connection.State
}

// Directory is the REST catalog of conversation summaries.
type Directory interface {
	List(ctx context.Context) ([]models.ConversationSummary, error)
	Create(ctx context.Context) (models.ConversationSummary, error)
	Get(ctx context.Context, id models.ConversationID) (models.ConversationDetail, error)
	Delete(ctx context.Context, id models.ConversationID) error
}

// Renderer turns message text into HTML. *markdown.Assembler satisfies it.
type Renderer interface {
	Render(raw string, isUserAuthored bool) template.HTML
}

// UpdateKind discriminates Update.
type UpdateKind string

const (
	UpdateConnection       UpdateKind = "connection"
	UpdateConversation     UpdateKind = "conversation"
	UpdateMessagesReplaced UpdateKind = "messages-replaced"
	UpdateMessageAppended  UpdateKind = "message-appended"
	UpdateStreamUpdated    UpdateKind = "stream-updated"
	UpdateStreamFinalized  UpdateKind = "stream-finalized"
	UpdateStreamAborted    UpdateKind = "stream-aborted"
	UpdateTyping           UpdateKind = "typing"
	UpdateNotice           UpdateKind = "notice"
	UpdateConversations    UpdateKind = "conversations"
)

// Message is a chat message together with its rendered HTML.
type Message struct {
	models.ChatMessage
	HTML template.HTML
}

// Update is one UI-facing state change. Only the fields relevant to Kind are set.
type Update struct {
	Kind UpdateKind

	// UpdateConnection
	Connected       bool
	ConnectionState connection.State

	// UpdateConversation
	ConversationID models.ConversationID
	Phase          Phase

	// UpdateMessagesReplaced
	Messages []Message

	// UpdateMessageAppended and the stream kinds
	Message Message

	// UpdateTyping
	Typing bool

	// UpdateNotice
	Notice string

	// UpdateConversations
	Conversations []models.ConversationSummary
}

// Listener receives updates on the session loop goroutine. Handle must not
// call back into the Session synchronously.
type Listener interface {
	Handle(Update)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Update)

func (f ListenerFunc) Handle(u Update) { f(u) }

// Snapshot is a copy of the session state at one point in the loop.
type Snapshot struct {
	Phase          Phase
	ConversationID models.ConversationID
	Messages       []Message
	Streaming      *Message
	Typing         bool
	Connected      bool
	User           string
	Conversations  []models.ConversationSummary
}
