package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"repodash/internal/models"
)

// ErrNotFound is returned when a row does not exist or belongs to another user.
var ErrNotFound = errors.New("repository: not found")

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) Create(ctx context.Context, userID uuid.UUID) (*models.Conversation, error) {
	c := &models.Conversation{UserID: userID, Title: models.DefaultConversationTitle}
	query := `INSERT INTO conversations (user_id, title) VALUES ($1, $2)
		RETURNING id, created_at, updated_at`

	if err := r.pool.QueryRow(ctx, query, userID, c.Title).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// Get returns the conversation only if userID owns it.
func (r *ConversationRepo) Get(ctx context.Context, id int64, userID uuid.UUID) (*models.Conversation, error) {
	c := &models.Conversation{}
	query := `SELECT id, user_id, title, created_at, updated_at
		FROM conversations WHERE id = $1 AND user_id = $2`

	err := r.pool.QueryRow(ctx, query, id, userID).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return c, nil
}

// ListSummaries returns the user's conversations, most recently updated first.
func (r *ConversationRepo) ListSummaries(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.title, c.updated_at, COUNT(m.id)
		FROM conversations c
		LEFT JOIN chat_messages m ON m.conversation_id = c.id
		WHERE c.user_id = $1
		GROUP BY c.id
		ORDER BY c.updated_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	summaries := []models.ConversationSummary{}
	for rows.Next() {
		var (
			id int64
			s  models.ConversationSummary
		)
		if err := rows.Scan(&id, &s.Title, &s.UpdatedAt, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		s.ID = models.ConversationIDFromInt64(id)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *ConversationRepo) Delete(ctx context.Context, id int64, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ConversationRepo) SetTitle(ctx context.Context, id int64, title string) error {
	_, err := r.pool.Exec(ctx, "UPDATE conversations SET title = $2 WHERE id = $1", id, title)
	return err
}

// AddMessage stores a message and bumps the conversation's updated_at.
func (r *ConversationRepo) AddMessage(ctx context.Context, conversationID int64, role models.Role, content string, tokensUsed int) (*models.ChatMessage, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin add message: %w", err)
	}
	defer tx.Rollback(ctx)

	m := &models.ChatMessage{Role: role, Content: content}
	query := `INSERT INTO chat_messages (conversation_id, role, content, tokens_used)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	if err := tx.QueryRow(ctx, query, conversationID, string(role), content, tokensUsed).Scan(&m.ID, &m.Timestamp); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx, "UPDATE conversations SET updated_at = NOW() WHERE id = $1", conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	return m, nil
}

// Messages returns the conversation's messages in arrival order.
func (r *ConversationRepo) Messages(ctx context.Context, conversationID int64) ([]models.ChatMessage, error) {
	query := `SELECT id, role, content, created_at FROM chat_messages
		WHERE conversation_id = $1 ORDER BY created_at, id`
	return r.queryMessages(ctx, query, conversationID)
}

// RecentMessages returns at most limit of the newest messages, oldest first.
func (r *ConversationRepo) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.ChatMessage, error) {
	query := `SELECT id, role, content, created_at FROM (
			SELECT id, role, content, created_at FROM chat_messages
			WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
		) recent ORDER BY created_at, id`
	return r.queryMessages(ctx, query, conversationID, limit)
}

func (r *ConversationRepo) CountMessages(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM chat_messages WHERE conversation_id = $1", conversationID).Scan(&n)
	return n, err
}

func (r *ConversationRepo) queryMessages(ctx context.Context, query string, args ...interface{}) ([]models.ChatMessage, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []models.ChatMessage{}
	for rows.Next() {
		var (
			m    models.ChatMessage
			role string
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
