package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"repodash/internal/models"
	"repodash/internal/repository"
)

func TestEchoAssistant_ChunksConcatenateToReply(t *testing.T) {
	var chunks []string
	tokens, err := EchoAssistant{}.Stream(context.Background(), nil, "hello   there\nfriend", func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("Expected several chunks, got %d", len(chunks))
	}
	if tokens != len(chunks) {
		t.Errorf("Expected %d tokens, got %d", len(chunks), tokens)
	}
	reply := strings.Join(chunks, "")
	if !strings.Contains(reply, "> hello   there\nfriend") {
		t.Errorf("Expected prompt to be quoted verbatim, got %q", reply)
	}
}

func TestEchoAssistant_StopsOnCallbackError(t *testing.T) {
	stop := errors.New("client gone")
	calls := 0
	_, err := EchoAssistant{}.Stream(context.Background(), nil, "a b c d", func(string) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected streaming to stop after 1 chunk, got %d", calls)
	}
}

func TestEchoAssistant_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := EchoAssistant{Delay: time.Second}.Stream(ctx, nil, "hi", func(string) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"one", []string{"one"}},
		{"one two", []string{"one ", "two"}},
		{"  lead", []string{"  ", "lead"}},
		{"a\n\nb ", []string{"a\n\n", "b "}},
	}
	for _, tc := range tests {
		got := splitWords(tc.in)
		if strings.Join(got, "|") != strings.Join(tc.want, "|") || len(got) != len(tc.want) {
			t.Errorf("splitWords(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestToGeminiHistory(t *testing.T) {
	var history []models.ChatMessage
	for i := 0; i < 13; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		history = append(history, models.ChatMessage{Role: role, Content: string(rune('a' + i))})
	}

	got := toGeminiHistory(history)
	// The 10-message window starts on an assistant turn, which is dropped.
	if len(got) != 9 {
		t.Fatalf("Expected 9 entries, got %d", len(got))
	}
	if got[0].Role != "user" {
		t.Errorf("Expected history to open with a user turn, got %q", got[0].Role)
	}
	if got[1].Role != "model" {
		t.Errorf("Expected assistant turns to map to model, got %q", got[1].Role)
	}
}

func TestTitleFrom(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Short question", "Short question"},
		{"  spaced\n\nout  ", "spaced out"},
		{strings.Repeat("x", 60), strings.Repeat("x", 50)},
		{strings.Repeat("é", 60), strings.Repeat("é", 50)},
	}
	for _, tc := range tests {
		if got := TitleFrom(tc.in); got != tc.want {
			t.Errorf("TitleFrom(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConversationService_ResolveAndTitle(t *testing.T) {
	ctx := context.Background()
	svc := NewConversationService(repository.NewMemoryConversationRepo(), 50)
	user := uuid.New()

	c, err := svc.Resolve(ctx, user, "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.Title != models.DefaultConversationTitle {
		t.Errorf("Expected default title, got %q", c.Title)
	}

	same, err := svc.Resolve(ctx, user, models.ConversationIDFromInt64(c.ID))
	if err != nil || same.ID != c.ID {
		t.Fatalf("Expected to resolve conversation %d, got %+v (%v)", c.ID, same, err)
	}

	other, err := svc.Resolve(ctx, uuid.New(), models.ConversationIDFromInt64(c.ID))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if other.ID == c.ID {
		t.Error("Another user's id must not resolve to the same conversation")
	}

	svc.AddMessage(ctx, c, models.RoleUser, "How do I rebase?", 0)
	svc.AddMessage(ctx, c, models.RoleAssistant, "Use git rebase.", 3)
	if err := svc.MaybeTitle(ctx, c, "How do I rebase?"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.Title != "How do I rebase?" {
		t.Errorf("Expected title from first message, got %q", c.Title)
	}

	if err := svc.MaybeTitle(ctx, c, "second question"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c.Title != "How do I rebase?" {
		t.Errorf("Title must not change once set, got %q", c.Title)
	}
}

func TestConversationService_ContextExcludesLatest(t *testing.T) {
	ctx := context.Background()
	svc := NewConversationService(repository.NewMemoryConversationRepo(), 2)
	user := uuid.New()
	c, _ := svc.Create(ctx, user)

	svc.AddMessage(ctx, c, models.RoleUser, "one", 0)
	svc.AddMessage(ctx, c, models.RoleAssistant, "two", 0)
	svc.AddMessage(ctx, c, models.RoleUser, "three", 0)
	latest, _ := svc.AddMessage(ctx, c, models.RoleUser, "four", 0)

	history, err := svc.Context(ctx, c, latest.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(history) != 2 || history[0].Content != "two" || history[1].Content != "three" {
		t.Errorf("Expected [two three], got %+v", history)
	}
}

func TestConversationService_DetailAndDelete(t *testing.T) {
	ctx := context.Background()
	svc := NewConversationService(repository.NewMemoryConversationRepo(), 50)
	user := uuid.New()
	c, _ := svc.Create(ctx, user)
	svc.AddMessage(ctx, c, models.RoleUser, "hi", 0)

	id := models.ConversationIDFromInt64(c.ID)
	detail, err := svc.Detail(ctx, user, id)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if detail.MessageCount != 1 || len(detail.Messages) != 1 {
		t.Errorf("Expected 1 message, got %+v", detail)
	}

	if _, err := svc.Detail(ctx, user, "abc"); err == nil {
		t.Error("Expected validation error for non-numeric id")
	} else if _, ok := err.(*ValidationError); !ok {
		t.Errorf("Expected *ValidationError, got %T", err)
	}

	if err := svc.Delete(ctx, user, id); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	err = svc.Delete(ctx, user, id)
	if _, ok := err.(*NotFoundError); !ok {
		t.Errorf("Expected *NotFoundError on second delete, got %v", err)
	}
}
