package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"repodash/internal/models"
	"repodash/internal/repository"
)

// titleLength is how many characters of the first user message become the
// conversation title.
const titleLength = 50

// ConversationStore is the persistence the service needs; *repository.ConversationRepo
// implements it.
type ConversationStore interface {
	Create(ctx context.Context, userID uuid.UUID) (*models.Conversation, error)
	Get(ctx context.Context, id int64, userID uuid.UUID) (*models.Conversation, error)
	ListSummaries(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error)
	Delete(ctx context.Context, id int64, userID uuid.UUID) error
	SetTitle(ctx context.Context, id int64, title string) error
	AddMessage(ctx context.Context, conversationID int64, role models.Role, content string, tokensUsed int) (*models.ChatMessage, error)
	Messages(ctx context.Context, conversationID int64) ([]models.ChatMessage, error)
	RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.ChatMessage, error)
	CountMessages(ctx context.Context, conversationID int64) (int, error)
}

type ConversationService struct {
	store        ConversationStore
	historyLimit int
}

// NewConversationService replays at most historyLimit earlier messages to the
// assistant.
func NewConversationService(store ConversationStore, historyLimit int) *ConversationService {
	return &ConversationService{store: store, historyLimit: historyLimit}
}

func (s *ConversationService) List(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	return s.store.ListSummaries(ctx, userID)
}

func (s *ConversationService) Create(ctx context.Context, userID uuid.UUID) (*models.Conversation, error) {
	return s.store.Create(ctx, userID)
}

// Get returns one of the user's conversations.
func (s *ConversationService) Get(ctx context.Context, userID uuid.UUID, id models.ConversationID) (*models.Conversation, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}
	c, err := s.store.Get(ctx, n, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "Conversation not found"}
	}
	return c, err
}

// Detail returns a conversation with every message in arrival order.
func (s *ConversationService) Detail(ctx context.Context, userID uuid.UUID, id models.ConversationID) (*models.ConversationDetail, error) {
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return &models.ConversationDetail{
		ConversationSummary: models.ConversationSummary{
			ID:           models.ConversationIDFromInt64(c.ID),
			Title:        c.Title,
			UpdatedAt:    c.UpdatedAt,
			MessageCount: len(msgs),
		},
		Messages: msgs,
	}, nil
}

func (s *ConversationService) Delete(ctx context.Context, userID uuid.UUID, id models.ConversationID) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, n, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Message: "Conversation not found"}
		}
		return err
	}
	return nil
}

// Resolve returns the conversation a chat message belongs to. A zero id, or an
// id the user does not own, starts a new conversation.
func (s *ConversationService) Resolve(ctx context.Context, userID uuid.UUID, id models.ConversationID) (*models.Conversation, error) {
	if !id.IsZero() {
		c, err := s.Get(ctx, userID, id)
		if err == nil {
			return c, nil
		}
		var nf *NotFoundError
		var ve *ValidationError
		if !errors.As(err, &nf) && !errors.As(err, &ve) {
			return nil, err
		}
	}
	return s.store.Create(ctx, userID)
}

func (s *ConversationService) AddMessage(ctx context.Context, c *models.Conversation, role models.Role, content string, tokensUsed int) (*models.ChatMessage, error) {
	return s.store.AddMessage(ctx, c.ID, role, content, tokensUsed)
}

// Context returns the messages preceding the one identified by latestID, oldest
// first, for replay to the assistant.
func (s *ConversationService) Context(ctx context.Context, c *models.Conversation, latestID int64) ([]models.ChatMessage, error) {
	msgs, err := s.store.RecentMessages(ctx, c.ID, s.historyLimit+1)
	if err != nil {
		return nil, err
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.ID != latestID {
			out = append(out, m)
		}
	}
	if len(out) > s.historyLimit {
		out = out[len(out)-s.historyLimit:]
	}
	return out, nil
}

// MaybeTitle names a still-untitled conversation after its first exchange.
func (s *ConversationService) MaybeTitle(ctx context.Context, c *models.Conversation, firstMessage string) error {
	if c.Title != models.DefaultConversationTitle {
		return nil
	}
	n, err := s.store.CountMessages(ctx, c.ID)
	if err != nil {
		return err
	}
	if n > 2 {
		return nil
	}
	title := TitleFrom(firstMessage)
	if err := s.store.SetTitle(ctx, c.ID, title); err != nil {
		return err
	}
	c.Title = title
	return nil
}

// TitleFrom returns the first titleLength characters of message on one line.
func TitleFrom(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if r := []rune(title); len(r) > titleLength {
		title = string(r[:titleLength])
	}
	return title
}

func parseID(id models.ConversationID) (int64, error) {
	n, err := id.Int64()
	if err != nil {
		return 0, &ValidationError{Fields: map[string]string{"id": "Invalid conversation ID"}}
	}
	return n, nil
}
