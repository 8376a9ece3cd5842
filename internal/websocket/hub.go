package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"repodash/internal/middleware"
	"repodash/internal/protocol"
	"repodash/internal/services"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 * 1024
	sendBuffer   = 64
	workBuffer   = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub accepts chat sockets and tracks them until they close.
type Hub struct {
	auth          *middleware.JWTAuth
	conversations *services.ConversationService
	assistant     services.Assistant
	limiter       middleware.Limiter
	logger        *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewHub builds a Hub. limiter caps chat_message commands per user.
func NewHub(auth *middleware.JWTAuth, conversations *services.ConversationService, assistant services.Assistant, limiter middleware.Limiter, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		auth:          auth,
		conversations: conversations,
		assistant:     assistant,
		limiter:       limiter,
		logger:        logger,
		clients:       make(map[*client]struct{}),
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on sockets, so the token may come in the query.
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if h.isClosing() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(h, conn, userID)
	if !h.register(c) {
		c.cancel()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	c.send(protocol.ConnectionAck{Message: "Connected to chat", User: userID.String()})

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.work()
	}()
	go func() {
		defer h.wg.Done()
		defer h.unregister(c)
		c.readPump()
	}()
}

// Count returns the number of open sockets.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every socket with "going away" and waits for their
// goroutines, or for ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for c := range h.clients {
		c.closeWith(websocket.CloseGoingAway)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register adds c and reserves its three goroutines in wg. It refuses once
// Shutdown has started, so wg.Add never races wg.Wait.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(3)
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket connected", zap.Stringer("user_id", c.userID), zap.Int("total", total))
	return true
}

func (h *Hub) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	h.logger.Info("websocket disconnected", zap.Stringer("user_id", c.userID))
}

// userKey is the rate limit key of a user's chat messages.
func userKey(id uuid.UUID) string {
	return "chat:" + id.String()
}
