// Package terminal is the line-oriented UI of the chat client: it prints
// session updates, parses input commands and optionally keeps an HTML
// transcript of the conversation on disk.
package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"repodash/internal/models"
	"repodash/internal/session"
)

// UI prints session updates to out. It implements session.Listener.
type UI struct {
	mu         sync.Mutex
	out        io.Writer
	transcript *Transcript
	printed    int
	streaming  bool
}

// NewUI creates a UI. transcript may be nil.
func NewUI(out io.Writer, transcript *Transcript) *UI {
	return &UI{out: out, transcript: transcript}
}

func (u *UI) Handle(up session.Update) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch up.Kind {
	case session.UpdateConnection:
		if up.Connected {
			u.line("✓ connected")
		} else {
			u.line("✗ " + up.ConnectionState.String() + ", reconnecting")
		}

	case session.UpdateConversation:
		switch {
		case up.Phase == session.PhaseAwaitingHistory:
			u.line(fmt.Sprintf("… loading conversation %s", up.ConversationID))
		case up.Phase == session.PhaseIdle:
			u.line("── new chat (type a message to start)")
		case up.Phase == session.PhaseActive && !up.ConversationID.IsZero():
			u.line(fmt.Sprintf("── conversation %s", up.ConversationID))
		}

	case session.UpdateMessagesReplaced:
		for _, m := range up.Messages {
			u.printMessage(m.ChatMessage)
		}
		u.transcript.Replace(up.Messages)

	case session.UpdateMessageAppended:
		u.printMessage(up.Message.ChatMessage)
		u.transcript.Append(up.Message)

	case session.UpdateStreamUpdated:
		if !u.streaming {
			u.endStream()
			fmt.Fprint(u.out, "assistant> ")
			u.streaming = true
			u.printed = 0
		}
		content := up.Message.Content
		if len(content) > u.printed {
			fmt.Fprint(u.out, content[u.printed:])
			u.printed = len(content)
		}

	case session.UpdateStreamFinalized:
		if !u.streaming {
			u.printMessage(up.Message.ChatMessage)
		} else {
			if rest := up.Message.Content; len(rest) > u.printed {
				fmt.Fprint(u.out, rest[u.printed:])
			}
			fmt.Fprintln(u.out)
			u.streaming = false
			u.printed = 0
		}
		u.transcript.Append(up.Message)

	case session.UpdateStreamAborted:
		if u.streaming {
			fmt.Fprintln(u.out, " [interrupted]")
			u.streaming = false
			u.printed = 0
		}

	case session.UpdateTyping:
		if up.Typing && !u.streaming {
			u.line("… assistant is typing")
		}

	case session.UpdateNotice:
		u.line("! " + up.Notice)

	case session.UpdateConversations:
		if len(up.Conversations) == 0 {
			u.line("(no conversations)")
			return
		}
		for _, c := range up.Conversations {
			u.line(formatSummary(c))
		}
	}
}

// line prints s on its own line, closing any partially printed stream first.
func (u *UI) line(s string) {
	u.endStream()
	fmt.Fprintln(u.out, s)
}

func (u *UI) endStream() {
	if u.streaming {
		fmt.Fprintln(u.out)
		u.streaming = false
		u.printed = 0
	}
}

func (u *UI) printMessage(m models.ChatMessage) {
	prefix := "assistant> "
	if m.Role == models.RoleUser {
		prefix = "you> "
	}
	u.line(prefix + strings.TrimRight(m.Content, "\n"))
}

func formatSummary(c models.ConversationSummary) string {
	title := c.Title
	if title == "" {
		title = models.DefaultConversationTitle
	}
	updated := ""
	if !c.UpdatedAt.IsZero() {
		updated = ", " + c.UpdatedAt.Local().Format("2006-01-02 15:04")
	}
	return fmt.Sprintf("  [%s] %s (%d messages%s)", c.ID, title, c.MessageCount, updated)
}
