package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"repodash/internal/middleware"
	"repodash/internal/models"
)

type conversationService interface {
	List(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error)
	Create(ctx context.Context, userID uuid.UUID) (*models.Conversation, error)
	Detail(ctx context.Context, userID uuid.UUID, id models.ConversationID) (*models.ConversationDetail, error)
	Delete(ctx context.Context, userID uuid.UUID, id models.ConversationID) error
}

type ConversationHandler struct {
	conversations conversationService
	logger        *zap.Logger
}

func NewConversationHandler(conversations conversationService, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{conversations: conversations, logger: logger}
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	summaries, err := h.conversations.List(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Stringer("user_id", userID), zap.Error(err))
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": summaries,
	})
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	c, err := h.conversations.Create(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Stringer("user_id", userID), zap.Error(err))
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.ConversationSummary{
		ID:        models.ConversationIDFromInt64(c.ID),
		Title:     c.Title,
		UpdatedAt: c.UpdatedAt,
	})
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := models.ConversationID(chi.URLParam(r, "id"))

	detail, err := h.conversations.Detail(r.Context(), userID, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := models.ConversationID(chi.URLParam(r, "id"))

	if err := h.conversations.Delete(r.Context(), userID, id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted"})
}
