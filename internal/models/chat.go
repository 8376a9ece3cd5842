package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ConversationID is the opaque, server-assigned identifier of a conversation.
// The zero value means "no conversation yet".
type ConversationID string

// IsZero reports whether no conversation is identified.
func (id ConversationID) IsZero() bool { return id == "" }

func (id ConversationID) String() string { return string(id) }

// Int64 returns the numeric form of id, for servers that key conversations by integer.
func (id ConversationID) Int64() (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("conversation id %q is not numeric: %w", string(id), err)
	}
	return n, nil
}

// ConversationIDFromInt64 formats a numeric key as a ConversationID.
func ConversationIDFromInt64(n int64) ConversationID {
	return ConversationID(strconv.FormatInt(n, 10))
}

// MarshalJSON emits null for the zero value, a number for canonical integer
// ids and a string otherwise, so "007" and "+5" stay strings.
func (id ConversationID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a JSON number, a JSON string or null.
func (id *ConversationID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ConversationID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("conversation id must be a number or string: %w", err)
	}
	*id = ConversationID(n.String())
	return nil
}

// ChatMessage represents a single message in a conversation.
// Content is mutable only while the message is streaming; Rendered marks
// messages whose content is final and eligible for cached rendering.
type ChatMessage struct {
	ID        int64     `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Rendered  bool      `json:"-"`
}
