package core

import (
	"fmt"
	"strings"
)

// SetInput reports the current content of the message input. A typing event
// is emitted only when the input switches between blank and non-blank, so
// keystrokes within a word cost nothing. The flag is updated before the emit
// and is not acknowledged by the server.
func (s *Session) SetInput(text string) error {
	hasText := strings.TrimSpace(text) != ""

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view.state != Active || hasText == s.typingSent {
		return nil
	}
	s.typingSent = hasText
	if err := s.channel.Emit(EventTyping, TypingPayload{RoomID: s.view.roomID, IsTyping: hasText}); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// Typing reports what the server was last told about the local typing state.
func (s *Session) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typingSent
}

// stopTypingLocked emits a single stop-typing event if the server believes we
// are typing.
func (s *Session) stopTypingLocked() error {
	if !s.typingSent {
		return nil
	}
	s.typingSent = false
	if err := s.channel.Emit(EventTyping, TypingPayload{RoomID: s.view.roomID, IsTyping: false}); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}
