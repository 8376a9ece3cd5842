package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repodash/internal/models"
)

func TestDecode_Events(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{
			name:  "connection ack",
			frame: `{"type":"connection","message":"Connected to AI Assistant","user":"octocat"}`,
			want:  ConnectionAck{Message: "Connected to AI Assistant", User: "octocat"},
		},
		{
			name:  "typing on",
			frame: `{"type":"typing","is_typing":true}`,
			want:  Typing{On: true},
		},
		{
			name:  "typing off",
			frame: `{"type":"typing","is_typing":false}`,
			want:  Typing{On: false},
		},
		{
			name:  "chunk keeps whitespace verbatim",
			frame: `{"type":"assistant_message_chunk","content":"  lo \n"}`,
			want:  AssistantChunk{Content: "  lo \n"},
		},
		{
			name:  "empty chunk is valid",
			frame: `{"type":"assistant_message_chunk","content":""}`,
			want:  AssistantChunk{Content: ""},
		},
		{
			name:  "complete with extras",
			frame: `{"type":"assistant_message_complete","message_id":9,"tokens_used":120,"processing_time":1.5,"turn_id":"t1"}`,
			want:  AssistantComplete{MessageID: 9, TokensUsed: 120, ProcessingTime: 1.5, TurnID: "t1"},
		},
		{
			name:  "bare complete",
			frame: `{"type":"assistant_message_complete"}`,
			want:  AssistantComplete{},
		},
		{
			name:  "new conversation numeric id",
			frame: `{"type":"new_conversation","conversation_id":17}`,
			want:  NewConversation{ConversationID: "17"},
		},
		{
			name:  "server error",
			frame: `{"type":"error","message":"rate limited"}`,
			want:  ServerError{Message: "rate limited"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.frame))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecode_UserMessageEcho(t *testing.T) {
	frame := `{"type":"user_message","message":"hi","message_id":3,"conversation_id":5,"timestamp":"2025-03-01T10:20:30.123456+00:00","turn_id":"abc"}`

	ev, err := Decode([]byte(frame))
	require.NoError(t, err)

	echo, ok := ev.(UserMessageEcho)
	require.True(t, ok, "expected UserMessageEcho, got %T", ev)
	assert.Equal(t, "hi", echo.Message)
	assert.Equal(t, int64(3), echo.MessageID)
	assert.Equal(t, models.ConversationID("5"), echo.ConversationID)
	assert.Equal(t, "abc", echo.TurnID)
	assert.True(t, echo.Timestamp.Equal(time.Date(2025, 3, 1, 10, 20, 30, 123456000, time.UTC)))
}

func TestDecode_History(t *testing.T) {
	frame := `{"type":"history","conversation_id":"c1","messages":[
		{"id":1,"role":"user","content":"q","timestamp":"2025-03-01T10:00:00Z"},
		{"id":2,"role":"assistant","content":"a","timestamp":"bogus"}]}`

	ev, err := Decode([]byte(frame))
	require.NoError(t, err)

	hist := ev.(History)
	assert.Equal(t, models.ConversationID("c1"), hist.ConversationID)
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, models.RoleUser, hist.Messages[0].Role)
	assert.Equal(t, "a", hist.Messages[1].Content)
	assert.True(t, hist.Messages[1].Timestamp.IsZero(), "unparseable timestamp should decode as zero")
}

func TestDecode_EmptyHistoryIsValid(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"history","messages":[]}`))
	require.NoError(t, err)
	assert.Empty(t, ev.(History).Messages)
}

func TestDecode_Failures(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"unknown tag", `{"type":"unknown_tag"}`},
		{"not json", `not json`},
		{"missing type", `{"content":"x"}`},
		{"chunk without content", `{"type":"assistant_message_chunk"}`},
		{"chunk with wrong content type", `{"type":"assistant_message_chunk","content":5}`},
		{"typing without flag", `{"type":"typing"}`},
		{"history without messages", `{"type":"history"}`},
		{"history with bad role", `{"type":"history","messages":[{"role":"system","content":"x"}]}`},
		{"new conversation without id", `{"type":"new_conversation"}`},
		{"error without message", `{"type":"error"}`},
		{"user message without text", `{"type":"user_message"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode([]byte(tc.frame))
			require.Error(t, err)
			assert.Nil(t, ev)
			assert.True(t, IsDecodeError(err), "expected DecodeError, got %T", err)
		})
	}
}

func TestEncode_Commands(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want map[string]interface{}
	}{
		{
			name: "send without conversation",
			cmd:  SendMessage{Text: "hello"},
			want: map[string]interface{}{"type": "chat_message", "message": "hello", "conversation_id": nil},
		},
		{
			name: "send with conversation and turn",
			cmd:  SendMessage{Text: "hello", ConversationID: "12", TurnID: "t-1"},
			want: map[string]interface{}{"type": "chat_message", "message": "hello", "conversation_id": float64(12), "turn_id": "t-1"},
		},
		{
			name: "load history",
			cmd:  LoadHistory{ConversationID: "abc"},
			want: map[string]interface{}{"type": "load_history", "conversation_id": "abc"},
		},
		{
			name: "leading zeros stay a string",
			cmd:  LoadHistory{ConversationID: "007"},
			want: map[string]interface{}{"type": "load_history", "conversation_id": "007"},
		},
		{
			name: "explicit plus stays a string",
			cmd:  LoadHistory{ConversationID: "+5"},
			want: map[string]interface{}{"type": "load_history", "conversation_id": "+5"},
		},
		{
			name: "negative zero stays a string",
			cmd:  SendMessage{Text: "hi", ConversationID: "-0"},
			want: map[string]interface{}{"type": "chat_message", "message": "hi", "conversation_id": "-0"},
		},
		{
			name: "negative id is a number",
			cmd:  LoadHistory{ConversationID: "-3"},
			want: map[string]interface{}{"type": "load_history", "conversation_id": float64(-3)},
		},
		{
			name: "new conversation",
			cmd:  StartNewConversation{},
			want: map[string]interface{}{"type": "new_conversation"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got map[string]interface{}
			require.NoError(t, json.Unmarshal(Encode(tc.cmd), &got))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand(Encode(SendMessage{Text: "x", ConversationID: "4", TurnID: "t"}))
	require.NoError(t, err)
	assert.Equal(t, SendMessage{Text: "x", ConversationID: "4", TurnID: "t"}, cmd)

	cmd, err = DecodeCommand([]byte(`{"type":"load_history","conversation_id":8}`))
	require.NoError(t, err)
	assert.Equal(t, LoadHistory{ConversationID: "8"}, cmd)

	_, err = DecodeCommand([]byte(`{"type":"ping"}`))
	assert.True(t, IsDecodeError(err))
	assert.True(t, IsUnknownType(err))

	_, err = DecodeCommand([]byte(`{"type":`))
	assert.True(t, IsDecodeError(err))
	assert.False(t, IsUnknownType(err))
}

func TestEncodeEvent_DecodesBack(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	events := []Event{
		ConnectionAck{Message: "Connected", User: "u"},
		UserMessageEcho{Message: "hi", MessageID: 1, ConversationID: "2", Timestamp: ts, TurnID: "t"},
		Typing{On: true},
		AssistantChunk{Content: "Hel", TurnID: "t"},
		AssistantComplete{MessageID: 3, TokensUsed: 4, ProcessingTime: 0.5, TurnID: "t"},
		History{ConversationID: "2", Messages: []models.ChatMessage{{ID: 1, Role: models.RoleUser, Content: "hi", Timestamp: ts}}},
		NewConversation{ConversationID: "9"},
		ServerError{Message: "boom"},
	}

	for _, ev := range events {
		t.Run(string(ev.EventType()), func(t *testing.T) {
			got, err := Decode(EncodeEvent(ev))
			require.NoError(t, err)
			assert.Equal(t, ev, got)
		})
	}
}
