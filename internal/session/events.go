package session

import (
	"go.uber.org/zap"

	"repodash/internal/connection"
	"repodash/internal/models"
	"repodash/internal/protocol"
)

func (s *Session) handleConnectionEvent(ev connection.Event) {
	switch ev.Kind {
	case connection.EventState:
		s.handleConnectionState(ev.State)
	case connection.EventError:
		// A disconnected state event follows; the status indicator is enough.
		s.logger.Warn("transport failure", zap.Error(ev.Err))
	case connection.EventFrame:
		event, err := protocol.Decode(ev.Data)
		if err != nil {
			s.logger.Warn("discarding undecodable frame", zap.Int("bytes", len(ev.Data)), zap.Error(err))
			return
		}
		s.handleEvent(event)
	}
}

func (s *Session) handleConnectionState(state connection.State) {
	connected := state == connection.StateOpen
	changed := connected != s.connected
	s.connected = connected

	if !connected && changed {
		// Events after a reconnect belong to a different connection, so
		// nothing in flight on the old one can be completed.
		s.abortStream()
		if s.phase == PhaseAwaitingHistory {
			s.logger.Info("conversation load interrupted by disconnect", zap.String("conversation_id", s.pending.String()))
			s.pending = ""
			s.setPhase(s.restingPhase())
		}
	}
	s.emit(Update{Kind: UpdateConnection, Connected: connected, ConnectionState: state})
}

func (s *Session) handleEvent(event protocol.Event) {
	switch e := event.(type) {
	case protocol.ConnectionAck:
		s.user = e.User
		s.logger.Info("chat connection acknowledged", zap.String("user", e.User))
	case protocol.UserMessageEcho:
		s.onUserMessage(e)
	case protocol.Typing:
		s.setTyping(e.On)
	case protocol.AssistantChunk:
		s.onChunk(e)
	case protocol.AssistantComplete:
		s.onComplete(e)
	case protocol.History:
		s.onHistory(e)
	case protocol.NewConversation:
		s.onNewConversation(e)
	case protocol.ServerError:
		s.onServerError(e)
	}
}

func (s *Session) onUserMessage(e protocol.UserMessageEcho) {
	if s.phase == PhaseAwaitingHistory {
		s.logger.Debug("dropping echo while history is pending")
		return
	}
	if !e.ConversationID.IsZero() && !s.current.IsZero() && e.ConversationID != s.current {
		s.logger.Debug("dropping echo for another conversation", zap.String("conversation_id", e.ConversationID.String()))
		return
	}
	if s.current.IsZero() && !e.ConversationID.IsZero() {
		s.current = e.ConversationID
		s.setPhaseForce(PhaseActive)
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.opts.Now()
	}
	msg := Message{ChatMessage: models.ChatMessage{
		ID:        e.MessageID,
		Role:      models.RoleUser,
		Content:   e.Message,
		Timestamp: ts,
		Rendered:  true,
	}}
	msg.HTML = s.render.Render(msg.Content, true)
	s.messages = append(s.messages, msg)
	s.emit(Update{Kind: UpdateMessageAppended, Message: msg})
}

// ownsTurn reports whether an event tagged with turnID belongs to the
// in-flight turn. Untagged events are correlated by position.
func (s *Session) ownsTurn(turnID string) bool {
	if turnID == "" {
		return true
	}
	if s.stream != nil && s.stream.turnID != "" {
		return s.stream.turnID == turnID
	}
	return s.turnID == turnID
}

func (s *Session) onChunk(e protocol.AssistantChunk) {
	if s.phase == PhaseAwaitingHistory {
		s.logger.Debug("dropping chunk while history is pending")
		return
	}
	if !s.ownsTurn(e.TurnID) {
		s.logger.Debug("dropping chunk for another turn", zap.String("turn_id", e.TurnID))
		return
	}
	if s.stream == nil {
		turn := e.TurnID
		if turn == "" {
			turn = s.turnID
		}
		s.stream = &stream{turnID: turn}
		s.stream.msg.Role = models.RoleAssistant
		s.stream.msg.Timestamp = s.opts.Now()
		s.setPhase(PhaseStreaming)
	}

	s.stream.raw.WriteString(e.Content)
	raw := s.stream.raw.String()
	s.stream.msg.Content = raw
	if len(raw) > s.opts.StreamRenderLimit {
		s.stream.msg.HTML = s.render.Render(raw, true)
	} else {
		s.stream.msg.HTML = s.render.Render(raw, false)
	}
	s.emit(Update{Kind: UpdateStreamUpdated, Message: s.stream.msg})
}

func (s *Session) onComplete(e protocol.AssistantComplete) {
	if s.stream == nil {
		if s.turnID == "" || !s.ownsTurn(e.TurnID) {
			s.logger.Debug("completion without an open stream")
			return
		}
		// A reply with no text chunks still ends the turn.
		s.turnID = ""
		s.logger.Debug("empty assistant reply", zap.Int64("message_id", e.MessageID))
		s.setTyping(false)
		s.setPhase(s.restingPhase())
		s.refreshAsync()
		return
	}
	if e.TurnID != "" && s.stream.turnID != "" && e.TurnID != s.stream.turnID {
		s.logger.Debug("dropping completion for another turn", zap.String("turn_id", e.TurnID))
		return
	}

	msg := s.stream.msg
	msg.ID = e.MessageID
	msg.HTML = s.render.Render(msg.Content, false)
	msg.Rendered = true
	s.messages = append(s.messages, msg)
	s.stream = nil
	s.turnID = ""

	s.logger.Debug("assistant reply finalized",
		zap.Int64("message_id", e.MessageID),
		zap.Int("tokens", e.TokensUsed),
		zap.Float64("processing_time", e.ProcessingTime),
	)
	s.emit(Update{Kind: UpdateStreamFinalized, Message: msg})
	s.setTyping(false)
	s.setPhase(s.restingPhase())
	s.refreshAsync()
}

func (s *Session) onHistory(e protocol.History) {
	if s.phase == PhaseAwaitingHistory {
		if !e.ConversationID.IsZero() && e.ConversationID != s.pending {
			s.logger.Debug("dropping stale history", zap.String("conversation_id", e.ConversationID.String()))
			return
		}
		s.current = s.pending
		s.pending = ""
	} else if !e.ConversationID.IsZero() && e.ConversationID != s.current {
		s.logger.Debug("dropping history for another conversation", zap.String("conversation_id", e.ConversationID.String()))
		return
	}

	s.abortStream()
	messages := make([]Message, 0, len(e.Messages))
	for _, m := range e.Messages {
		m.Rendered = true
		messages = append(messages, Message{ChatMessage: m, HTML: s.render.Render(m.Content, m.Role == models.RoleUser)})
	}
	s.messages = messages
	s.emit(Update{Kind: UpdateMessagesReplaced, Messages: append([]Message(nil), messages...)})
	s.setPhaseForce(s.restingPhase())
}

func (s *Session) onNewConversation(e protocol.NewConversation) {
	s.pending = ""
	s.current = e.ConversationID
	s.setPhaseForce(PhaseActive)
	s.refreshAsync()
}

func (s *Session) onServerError(e protocol.ServerError) {
	s.logger.Warn("server reported error", zap.String("message", e.Message))
	s.abortStream()
	if s.phase == PhaseAwaitingHistory {
		s.pending = ""
		s.setPhase(s.restingPhase())
	}
	s.notice(e.Message)
}

// abortStream releases the streaming slot, leaving any partial reply visible
// but unfinalized, and clears the typing indicator.
func (s *Session) abortStream() {
	if s.stream != nil {
		msg := s.stream.msg
		s.stream = nil
		s.emit(Update{Kind: UpdateStreamAborted, Message: msg})
	}
	s.turnID = ""
	s.setTyping(false)
	if s.phase == PhaseStreaming {
		s.setPhase(s.restingPhase())
	}
}

func (s *Session) resetConversation() {
	s.current = ""
	s.pending = ""
	s.messages = nil
	s.emit(Update{Kind: UpdateMessagesReplaced})
	s.setPhaseForce(PhaseIdle)
}

func (s *Session) restingPhase() Phase {
	if s.current.IsZero() {
		return PhaseIdle
	}
	return PhaseActive
}

func (s *Session) setPhase(p Phase) {
	if s.phase == p {
		return
	}
	s.setPhaseForce(p)
}

// setPhaseForce reports the phase even when unchanged, for conversation switches.
func (s *Session) setPhaseForce(p Phase) {
	s.phase = p
	id := s.current
	if p == PhaseAwaitingHistory {
		id = s.pending
	}
	s.emit(Update{Kind: UpdateConversation, ConversationID: id, Phase: p})
}

func (s *Session) setTyping(on bool) {
	if s.typing == on {
		return
	}
	s.typing = on
	s.emit(Update{Kind: UpdateTyping, Typing: on})
}

func (s *Session) setConversations(summaries []models.ConversationSummary) {
	s.conversations = summaries
	s.emit(Update{Kind: UpdateConversations, Conversations: append([]models.ConversationSummary(nil), summaries...)})
}

func (s *Session) notice(text string) {
	s.emit(Update{Kind: UpdateNotice, Notice: text})
}

func (s *Session) emit(u Update) {
	s.listener.Handle(u)
}
