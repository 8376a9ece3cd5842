package websocket

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"repodash/internal/models"
	"repodash/internal/protocol"
)

var errClientClosed = errors.New("websocket: client closed")

// client is one accepted socket. readPump decodes commands and queues them for
// work, which runs them one at a time; writePump owns every write to conn.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	outbox chan []byte
	queue  chan protocol.Command

	closeOnce sync.Once
	closeCode int
	done      chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn, userID uuid.UUID) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		hub:       h,
		conn:      conn,
		userID:    userID,
		logger:    h.logger.With(zap.Stringer("user_id", userID)),
		ctx:       ctx,
		cancel:    cancel,
		outbox:    make(chan []byte, sendBuffer),
		queue:     make(chan protocol.Command, workBuffer),
		closeCode: websocket.CloseNormalClosure,
		done:      make(chan struct{}),
	}
}

// send queues ev for writing. It blocks while the outbox is full, so a slow
// reader throttles the assistant stream instead of losing chunks.
func (c *client) send(ev protocol.Event) error {
	data := protocol.EncodeEvent(ev)
	select {
	case c.outbox <- data:
		return nil
	case <-c.done:
		return errClientClosed
	}
}

func (c *client) closeWith(code int) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.cancel()
		close(c.done)
	})
}

func (c *client) readPump() {
	defer c.closeWith(websocket.CloseNormalClosure)

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			if protocol.IsUnknownType(err) {
				c.logger.Debug("ignoring unknown command", zap.Error(err))
				continue
			}
			c.logger.Warn("invalid command frame", zap.Int("bytes", len(data)), zap.Error(err))
			c.send(protocol.ServerError{Message: "Invalid message format"})
			continue
		}

		select {
		case c.queue <- cmd:
		case <-c.done:
			return
		default:
			c.send(protocol.ServerError{Message: "Too many pending messages"})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure)
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, ""))
			return
		}
	}
}

func (c *client) work() {
	for {
		select {
		case <-c.done:
			return
		case cmd := <-c.queue:
			switch cmd := cmd.(type) {
			case protocol.SendMessage:
				c.handleChatMessage(cmd)
			case protocol.LoadHistory:
				c.handleLoadHistory(cmd)
			case protocol.StartNewConversation:
				c.handleNewConversation()
			}
		}
	}
}

func (c *client) handleChatMessage(cmd protocol.SendMessage) {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return
	}
	ctx := c.ctx
	svc := c.hub.conversations

	d, err := c.hub.limiter.Allow(ctx, userKey(c.userID))
	if err != nil {
		c.logger.Warn("rate limiter unavailable", zap.Error(err))
	} else if !d.Allowed {
		c.send(protocol.ServerError{Message: "rate limited"})
		return
	}

	conv, err := svc.Resolve(ctx, c.userID, cmd.ConversationID)
	if err != nil {
		c.logger.Error("failed to resolve conversation", zap.Error(err))
		c.send(protocol.ServerError{Message: "Failed to start conversation"})
		return
	}
	convID := models.ConversationIDFromInt64(conv.ID)

	userMsg, err := svc.AddMessage(ctx, conv, models.RoleUser, text, 0)
	if err != nil {
		c.logger.Error("failed to save user message", zap.Int64("conversation_id", conv.ID), zap.Error(err))
		c.send(protocol.ServerError{Message: "Failed to save message"})
		return
	}
	c.send(protocol.UserMessageEcho{
		Message:        text,
		MessageID:      userMsg.ID,
		ConversationID: convID,
		Timestamp:      userMsg.Timestamp,
		TurnID:         cmd.TurnID,
	})

	history, err := svc.Context(ctx, conv, userMsg.ID)
	if err != nil {
		c.logger.Error("failed to load context", zap.Int64("conversation_id", conv.ID), zap.Error(err))
		c.send(protocol.ServerError{Message: "Failed to get response from AI assistant"})
		return
	}

	c.send(protocol.Typing{On: true})
	defer c.send(protocol.Typing{On: false})

	start := time.Now()
	var reply strings.Builder
	tokens, err := c.hub.assistant.Stream(ctx, history, text, func(chunk string) error {
		reply.WriteString(chunk)
		return c.send(protocol.AssistantChunk{Content: chunk, TurnID: cmd.TurnID})
	})
	if err != nil {
		if !errors.Is(err, errClientClosed) && ctx.Err() == nil {
			c.logger.Error("assistant stream failed", zap.Int64("conversation_id", conv.ID), zap.Error(err))
			c.send(protocol.ServerError{Message: "Failed to get response from AI assistant"})
		}
		return
	}

	saved, err := svc.AddMessage(ctx, conv, models.RoleAssistant, reply.String(), tokens)
	if err != nil {
		c.logger.Error("failed to save assistant message", zap.Int64("conversation_id", conv.ID), zap.Error(err))
		c.send(protocol.ServerError{Message: "Failed to save message"})
		return
	}
	c.send(protocol.AssistantComplete{
		MessageID:      saved.ID,
		TokensUsed:     tokens,
		ProcessingTime: time.Since(start).Seconds(),
		TurnID:         cmd.TurnID,
	})

	if err := svc.MaybeTitle(ctx, conv, text); err != nil {
		c.logger.Warn("failed to update conversation title", zap.Int64("conversation_id", conv.ID), zap.Error(err))
	}
}

func (c *client) handleLoadHistory(cmd protocol.LoadHistory) {
	detail, err := c.hub.conversations.Detail(c.ctx, c.userID, cmd.ConversationID)
	if err != nil {
		c.logger.Debug("history unavailable", zap.Stringer("conversation_id", cmd.ConversationID), zap.Error(err))
		c.send(protocol.ServerError{Message: "Conversation not found"})
		return
	}
	c.send(protocol.History{ConversationID: detail.ID, Messages: detail.Messages})
}

func (c *client) handleNewConversation() {
	conv, err := c.hub.conversations.Create(c.ctx, c.userID)
	if err != nil {
		c.logger.Error("failed to create conversation", zap.Error(err))
		c.send(protocol.ServerError{Message: "Failed to create conversation"})
		return
	}
	c.send(protocol.NewConversation{ConversationID: models.ConversationIDFromInt64(conv.ID)})
}
