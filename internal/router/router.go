package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"repodash/internal/handlers"
	"repodash/internal/middleware"
	"repodash/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	restLimiter func(http.Handler) http.Handler,
	conversationHandler *handlers.ConversationHandler,
	wsHub *websocket.Hub,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// ──── Conversation Routes ────
	r.Route("/api/conversations", func(r chi.Router) {
		r.Use(jwtAuth.Middleware)
		r.Use(restLimiter)
		r.Get("/", conversationHandler.List)
		r.Post("/create/", conversationHandler.Create)
		r.Get("/{id}/", conversationHandler.Get)
		r.Delete("/{id}/delete/", conversationHandler.Delete)
	})

	// ──── WebSocket ────
	r.Get("/ws/chat/", wsHub.HandleWebSocket)

	return r
}
