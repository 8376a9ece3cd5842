package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repodash/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, "tok", nil, nil)
	require.NoError(t, err)
	return c
}

func TestClient_List(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/conversations/", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"conversations":[{"id":3,"title":"Hello","updated_at":"2024-05-01T10:00:00Z","message_count":4}]}`))
	})

	got, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.ConversationID("3"), got[0].ID)
	assert.Equal(t, "Hello", got[0].Title)
	assert.Equal(t, 4, got[0].MessageCount)
}

func TestClient_CreateAndGet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/conversations/create/":
			assert.Equal(t, http.MethodPost, r.Method)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":9,"title":"New Conversation","message_count":0}`))
		case "/api/conversations/9/":
			_, _ = w.Write([]byte(`{"id":9,"title":"t","message_count":1,"messages":[{"id":1,"role":"user","content":"hi","timestamp":"2024-05-01T10:00:00Z"}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	created, err := c.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ConversationID("9"), created.ID)

	detail, err := c.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "hi", detail.Messages[0].Content)
}

func TestClient_DeleteNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/conversations/4/delete/", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"Conversation not found"}}`))
	})

	err := c.Delete(context.Background(), "4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_ErrorEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"slow down"}}`))
	})

	err := c.Delete(context.Background(), "4")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "RATE_LIMITED", apiErr.Code)
	assert.Equal(t, "slow down", apiErr.Message)
}

func TestClient_PlainTextError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := c.List(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestNewClient_RejectsBadScheme(t *testing.T) {
	_, err := NewClient("ftp://example.com", "", nil, nil)
	assert.Error(t, err)
}
