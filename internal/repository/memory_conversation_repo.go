package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"repodash/internal/models"
)

// MemoryConversationRepo keeps conversations in process memory. It backs the
// server when no database is configured and stands in for postgres in tests.
type MemoryConversationRepo struct {
	mu            sync.Mutex
	now           func() time.Time
	nextConv      int64
	nextMsg       int64
	conversations map[int64]*models.Conversation
	messages      map[int64][]models.ChatMessage
}

func NewMemoryConversationRepo() *MemoryConversationRepo {
	return &MemoryConversationRepo{
		now:           time.Now,
		conversations: make(map[int64]*models.Conversation),
		messages:      make(map[int64][]models.ChatMessage),
	}
}

func (r *MemoryConversationRepo) Create(ctx context.Context, userID uuid.UUID) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextConv++
	now := r.now()
	c := &models.Conversation{
		ID:        r.nextConv,
		UserID:    userID,
		Title:     models.DefaultConversationTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.conversations[c.ID] = c
	copied := *c
	return &copied, nil
}

func (r *MemoryConversationRepo) Get(ctx context.Context, id int64, userID uuid.UUID) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *MemoryConversationRepo) ListSummaries(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summaries := []models.ConversationSummary{}
	for _, c := range r.conversations {
		if c.UserID != userID {
			continue
		}
		summaries = append(summaries, models.ConversationSummary{
			ID:           models.ConversationIDFromInt64(c.ID),
			Title:        c.Title,
			UpdatedAt:    c.UpdatedAt,
			MessageCount: len(r.messages[c.ID]),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].ID > summaries[j].ID
		}
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (r *MemoryConversationRepo) Delete(ctx context.Context, id int64, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[id]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	delete(r.conversations, id)
	delete(r.messages, id)
	return nil
}

func (r *MemoryConversationRepo) SetTitle(ctx context.Context, id int64, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conversations[id]; ok {
		c.Title = title
	}
	return nil
}

func (r *MemoryConversationRepo) AddMessage(ctx context.Context, conversationID int64, role models.Role, content string, tokensUsed int) (*models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	r.nextMsg++
	m := models.ChatMessage{ID: r.nextMsg, Role: role, Content: content, Timestamp: r.now()}
	r.messages[conversationID] = append(r.messages[conversationID], m)
	c.UpdatedAt = m.Timestamp
	return &m, nil
}

func (r *MemoryConversationRepo) Messages(ctx context.Context, conversationID int64) ([]models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]models.ChatMessage{}, r.messages[conversationID]...), nil
}

func (r *MemoryConversationRepo) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := r.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.ChatMessage{}, msgs...), nil
}

func (r *MemoryConversationRepo) CountMessages(ctx context.Context, conversationID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.messages[conversationID]), nil
}
