package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"repodash/internal/directory"
	"repodash/internal/handlers"
	"repodash/internal/middleware"
	"repodash/internal/protocol"
	"repodash/internal/repository"
	"repodash/internal/services"
	ws "repodash/internal/websocket"
)

func newServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	auth := middleware.NewJWTAuth("test-secret")
	svc := services.NewConversationService(repository.NewMemoryConversationRepo(), 50)
	hub := ws.NewHub(auth, svc, services.EchoAssistant{}, middleware.NewRateLimiter(100, time.Minute), nil)

	h := New(auth, middleware.RateLimit(middleware.NewRateLimiter(100, time.Minute), nil),
		handlers.NewConversationHandler(svc, nil), hub)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	token, err := auth.GenerateAccessToken(uuid.New(), "", time.Hour)
	if err != nil {
		t.Fatalf("Failed to mint token: %v", err)
	}
	return srv, token
}

func TestRouter_Health(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("Unexpected health response: %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}
}

func TestRouter_ConversationsRequireAuth(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/api/conversations/")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}
}

// The chat client's directory speaks to the same routes the server mounts.
func TestRouter_DirectoryClientRoundTrip(t *testing.T) {
	srv, token := newServer(t)
	client, err := directory.NewClient(srv.URL, token, srv.Client(), nil)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	ctx := t.Context()

	created, err := client.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	list, err := client.List(ctx)
	if err != nil || len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("Expected created conversation in list, got %+v (%v)", list, err)
	}

	detail, err := client.Get(ctx, created.ID)
	if err != nil || detail.ID != created.ID {
		t.Fatalf("Get failed: %+v (%v)", detail, err)
	}

	if err := client.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := client.Delete(ctx, created.ID); err != directory.ErrNotFound {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRouter_SocketMounted(t *testing.T) {
	srv, token := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	ev, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := ev.(protocol.ConnectionAck); !ok {
		t.Errorf("Expected connection ack, got %T", ev)
	}
}
