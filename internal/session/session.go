// Package session holds the chat state machine. A Session consumes the
// connection's event stream, tracks the current conversation and the
// in-progress assistant reply, and reports every change to a Listener.
//
// All state is owned by the goroutine running Run; public methods post work
// to it and wait for the result.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"repodash/internal/connection"
	"repodash/internal/directory"
	"repodash/internal/models"
	"repodash/internal/protocol"
)

var (
	ErrEmptyMessage        = errors.New("session: message is empty")
	ErrNotConnected        = errors.New("session: not connected")
	ErrHistoryPending      = errors.New("session: conversation is still loading")
	ErrReplyInProgress     = errors.New("session: assistant reply in progress")
	ErrNoConversation      = errors.New("session: no conversation selected")
	ErrUnknownConversation = errors.New("session: conversation not found")
	ErrStopped             = errors.New("session: stopped")
)

const (
	defaultStreamRenderLimit = 64 * 1024
	defaultDirectoryTimeout  = 10 * time.Second
)

// Options tunes a Session. Zero values select defaults.
type Options struct {
	// StreamRenderLimit is the raw size above which in-progress replies are
	// rendered as plain text. The final render is always full markdown.
	StreamRenderLimit int
	// DirectoryTimeout bounds background list refreshes.
	DirectoryTimeout time.Duration
	NewTurnID        func() string
	Now              func() time.Time
	Logger           *zap.Logger
}

type stream struct {
	turnID string
	raw    strings.Builder
	msg    Message
}

// Session is the chat state machine. Create one per client and run it with Run.
type Session struct {
	conn     Conn
	dir      Directory
	render   Renderer
	listener Listener
	opts     Options
	logger   *zap.Logger

	actions chan func()
	done    chan struct{}
	runCtx  context.Context

	// owned by the Run goroutine
	phase         Phase
	current       models.ConversationID
	pending       models.ConversationID
	messages      []Message
	stream        *stream
	turnID        string
	typing        bool
	connected     bool
	user          string
	conversations []models.ConversationSummary
}

// New creates a Session. listener may be nil.
func New(conn Conn, dir Directory, render Renderer, listener Listener, opts Options) *Session {
	if opts.StreamRenderLimit <= 0 {
		opts.StreamRenderLimit = defaultStreamRenderLimit
	}
	if opts.DirectoryTimeout <= 0 {
		opts.DirectoryTimeout = defaultDirectoryTimeout
	}
	if opts.NewTurnID == nil {
		opts.NewTurnID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if listener == nil {
		listener = ListenerFunc(func(Update) {})
	}
	return &Session{
		conn:     conn,
		dir:      dir,
		render:   render,
		listener: listener,
		opts:     opts,
		logger:   opts.Logger,
		actions:  make(chan func()),
		done:     make(chan struct{}),
		runCtx:   context.Background(),
	}
}

// Run processes connection events and posted operations until ctx ends.
// It must be called exactly once.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	s.runCtx = ctx
	s.connected = s.conn.State() == connection.StateOpen

	events := s.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			s.handleConnectionEvent(ev)
		case fn := <-s.actions:
			fn()
		}
	}
}

// do runs fn on the loop and returns its error.
func (s *Session) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	select {
	case s.actions <- func() { result <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn on the loop without waiting.
func (s *Session) post(fn func()) {
	select {
	case s.actions <- fn:
	case <-s.done:
	}
}

// StartNewConversation clears the view and asks the server for a new
// conversation. The id arrives later as a new_conversation event.
func (s *Session) StartNewConversation(ctx context.Context) error {
	return s.do(ctx, func() error {
		if err := s.sendCommand(protocol.StartNewConversation{}); err != nil {
			return err
		}
		s.abortStream()
		s.resetConversation()
		return nil
	})
}

// Load switches to conversation id. Messages are replaced once its history
// arrives. The directory is asked first so an unknown id fails without
// touching the current view; a directory outage does not block the load.
func (s *Session) Load(ctx context.Context, id models.ConversationID) error {
	if id.IsZero() {
		return ErrNoConversation
	}
	if err := s.checkExists(ctx, id); err != nil {
		return err
	}
	return s.do(ctx, func() error {
		if err := s.sendCommand(protocol.LoadHistory{ConversationID: id}); err != nil {
			return err
		}
		s.abortStream()
		s.pending = id
		s.setPhase(PhaseAwaitingHistory)
		return nil
	})
}

// Send submits user text for the current conversation. The message appears
// in the list only when the server echoes it back.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	return s.do(ctx, func() error {
		switch {
		case !s.connected:
			return ErrNotConnected
		case s.phase == PhaseAwaitingHistory:
			return ErrHistoryPending
		case s.phase == PhaseStreaming || s.turnID != "":
			return ErrReplyInProgress
		}
		turn := s.opts.NewTurnID()
		cmd := protocol.SendMessage{Text: text, ConversationID: s.current, TurnID: turn}
		if err := s.sendCommand(cmd); err != nil {
			return err
		}
		s.turnID = turn
		return nil
	})
}

// CreateConversation creates an empty conversation through the directory and
// switches to it.
func (s *Session) CreateConversation(ctx context.Context) (models.ConversationID, error) {
	summary, err := s.dir.Create(ctx)
	if err != nil {
		s.logger.Error("create conversation failed", zap.Error(err))
		return "", fmt.Errorf("session: create conversation: %w", err)
	}
	s.post(s.refreshAsync)
	if err := s.Load(ctx, summary.ID); err != nil {
		return summary.ID, err
	}
	return summary.ID, nil
}

func (s *Session) checkExists(ctx context.Context, id models.ConversationID) error {
	lookupCtx, cancel := context.WithTimeout(ctx, s.opts.DirectoryTimeout)
	defer cancel()
	_, err := s.dir.Get(lookupCtx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, directory.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	case ctx.Err() != nil:
		return ctx.Err()
	}
	s.logger.Warn("conversation lookup failed, loading anyway", zap.String("conversation_id", id.String()), zap.Error(err))
	return nil
}

// DeleteConversation deletes id (the current conversation when id is zero)
// through the directory. Local state changes only after the delete succeeds;
// an already-deleted conversation counts as success.
func (s *Session) DeleteConversation(ctx context.Context, id models.ConversationID) error {
	if id.IsZero() {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			return err
		}
		id = snap.ConversationID
	}
	if id.IsZero() {
		return ErrNoConversation
	}

	if err := s.dir.Delete(ctx, id); err != nil && !errors.Is(err, directory.ErrNotFound) {
		s.logger.Error("delete conversation failed", zap.String("conversation_id", id.String()), zap.Error(err))
		s.post(func() { s.notice("Could not delete conversation: " + err.Error()) })
		return fmt.Errorf("session: delete conversation %s: %w", id, err)
	}

	wasCurrent := false
	if err := s.do(ctx, func() error {
		if s.current != id && s.pending != id {
			return nil
		}
		wasCurrent = true
		s.abortStream()
		s.current = ""
		s.pending = ""
		return nil
	}); err != nil {
		return err
	}

	summaries, listErr := s.dir.List(ctx)
	if listErr != nil {
		s.logger.Error("refresh conversations failed", zap.Error(listErr))
	}

	return s.do(ctx, func() error {
		if listErr != nil {
			s.notice("Could not refresh conversations: " + listErr.Error())
		} else {
			s.setConversations(summaries)
		}
		if wasCurrent {
			s.resetConversation()
		}
		return nil
	})
}

// RefreshConversations reloads the sidebar list from the directory.
func (s *Session) RefreshConversations(ctx context.Context) error {
	summaries, err := s.dir.List(ctx)
	if err != nil {
		s.logger.Error("refresh conversations failed", zap.Error(err))
		return fmt.Errorf("session: list conversations: %w", err)
	}
	return s.do(ctx, func() error {
		s.setConversations(summaries)
		return nil
	})
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		snap = Snapshot{
			Phase:          s.phase,
			ConversationID: s.current,
			Messages:       append([]Message(nil), s.messages...),
			Typing:         s.typing,
			Connected:      s.connected,
			User:           s.user,
			Conversations:  append([]models.ConversationSummary(nil), s.conversations...),
		}
		if s.stream != nil {
			m := s.stream.msg
			snap.Streaming = &m
		}
		return nil
	})
	return snap, err
}

// refreshAsync lists conversations off the loop and applies the result on it.
func (s *Session) refreshAsync() {
	if s.dir == nil {
		return
	}
	parent := s.runCtx
	go func() {
		ctx, cancel := context.WithTimeout(parent, s.opts.DirectoryTimeout)
		defer cancel()
		summaries, err := s.dir.List(ctx)
		if err != nil {
			if parent.Err() == nil {
				s.logger.Error("background conversation refresh failed", zap.Error(err))
			}
			return
		}
		s.post(func() { s.setConversations(summaries) })
	}()
}

func (s *Session) sendCommand(cmd protocol.Command) error {
	if !s.connected {
		return ErrNotConnected
	}
	if err := s.conn.Send(protocol.Encode(cmd)); err != nil {
		if errors.Is(err, connection.ErrNotOpen) {
			return ErrNotConnected
		}
		return fmt.Errorf("session: send %s: %w", cmd.CommandType(), err)
	}
	return nil
}
