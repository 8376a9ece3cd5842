package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"repodash/internal/models"
	"repodash/internal/session"
)

// CommandKind is what one input line asks for.
type CommandKind int

const (
	CommandSend CommandKind = iota
	CommandNew
	CommandCreate
	CommandLoad
	CommandList
	CommandDelete
	CommandHelp
	CommandQuit
)

// Command is a parsed input line.
type Command struct {
	Kind           CommandKind
	Text           string
	ConversationID models.ConversationID
}

const helpText = `commands:
  <text>          send a message
  /new            start a new conversation
  /create         create a conversation and switch to it
  /load <id>      switch to a conversation
  /list           list conversations
  /delete [id]    delete a conversation (current when id is omitted)
  /help           show this help
  /quit           exit`

// ParseCommand parses one input line. Lines that do not start with "/" are messages.
func ParseCommand(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: CommandSend, Text: line}, nil
	}

	fields := strings.Fields(trimmed)
	name, args := fields[0], fields[1:]
	switch name {
	case "/new":
		return Command{Kind: CommandNew}, nil
	case "/create":
		return Command{Kind: CommandCreate}, nil
	case "/load":
		if len(args) != 1 {
			return Command{}, errors.New("usage: /load <id>")
		}
		return Command{Kind: CommandLoad, ConversationID: models.ConversationID(args[0])}, nil
	case "/list":
		return Command{Kind: CommandList}, nil
	case "/delete":
		if len(args) > 1 {
			return Command{}, errors.New("usage: /delete [id]")
		}
		cmd := Command{Kind: CommandDelete}
		if len(args) == 1 {
			cmd.ConversationID = models.ConversationID(args[0])
		}
		return cmd, nil
	case "/help":
		return Command{Kind: CommandHelp}, nil
	case "/quit", "/exit":
		return Command{Kind: CommandQuit}, nil
	}
	return Command{}, fmt.Errorf("unknown command %s (try /help)", name)
}

// Chat is the part of *session.Session the input loop drives.
type Chat interface {
	Send(ctx context.Context, text string) error
	StartNewConversation(ctx context.Context) error
	CreateConversation(ctx context.Context) (models.ConversationID, error)
	Load(ctx context.Context, id models.ConversationID) error
	DeleteConversation(ctx context.Context, id models.ConversationID) error
	RefreshConversations(ctx context.Context) error
}

// RunInput reads commands from in until EOF, /quit or ctx ends. Operation
// errors are printed to out and do not stop the loop.
func RunInput(ctx context.Context, in io.Reader, out io.Writer, chat Chat) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := ParseCommand(line)
			if err != nil {
				fmt.Fprintln(out, "! "+err.Error())
				continue
			}
			if cmd.Kind == CommandQuit {
				return nil
			}
			err = execute(ctx, chat, out, cmd)
			// Failed deletes already surface as a session notice.
			if err != nil && (cmd.Kind != CommandDelete || errors.Is(err, session.ErrNoConversation)) {
				fmt.Fprintln(out, "! "+describe(err))
			}
		}
	}
}

func execute(ctx context.Context, chat Chat, out io.Writer, cmd Command) error {
	switch cmd.Kind {
	case CommandSend:
		return chat.Send(ctx, cmd.Text)
	case CommandNew:
		return chat.StartNewConversation(ctx)
	case CommandCreate:
		id, err := chat.CreateConversation(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created conversation %s\n", id)
	case CommandLoad:
		return chat.Load(ctx, cmd.ConversationID)
	case CommandList:
		return chat.RefreshConversations(ctx)
	case CommandDelete:
		return chat.DeleteConversation(ctx, cmd.ConversationID)
	case CommandHelp:
		fmt.Fprintln(out, helpText)
	}
	return nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return "not connected yet, try again in a moment"
	case errors.Is(err, session.ErrHistoryPending):
		return "still loading the conversation"
	case errors.Is(err, session.ErrReplyInProgress):
		return "wait for the assistant to finish"
	case errors.Is(err, session.ErrNoConversation):
		return "no conversation selected"
	case errors.Is(err, session.ErrUnknownConversation):
		return "no such conversation"
	}
	return err.Error()
}
