package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Channel is the push channel a Session borrows while a room is joined.
type Channel interface {
	// Subscribe registers h for the named event and returns a function that
	// removes it again.
	Subscribe(event string, h func(payload json.RawMessage)) (unsubscribe func())
	// Emit sends an event. It must not block on the network.
	Emit(event string, payload any) error
}

// RoomAPI is the part of the request/response API a Session needs.
type RoomAPI interface {
	JoinRoom(ctx context.Context, roomID, token string) error
	// Messages returns the room history newest first.
	Messages(ctx context.Context, roomID, token string) ([]Message, error)
	SendMessage(ctx context.Context, roomID, token, content string) (*Message, error)
}

// Delivery selects how SendMessage delivers a message.
type Delivery int

const (
	// DeliverPush emits the message on the push channel.
	DeliverPush Delivery = iota
	// DeliverRequest posts the message through the request API.
	DeliverRequest
)

// Session owns the current room: it joins and leaves rooms, merges pushed
// events with API responses into one view and keeps the typing flag in sync
// with the server.
//
// At most one room is joined at a time. Results of network calls are only
// applied if the room they were issued for is still the session's room.
type Session struct {
	mu   sync.Mutex
	view roomView
	// epoch changes every time the session moves to another room or back
	// to idle. In-flight calls compare it on resume.
	epoch uint64
	// joinEmitted is set once the join event for the current room is out.
	joinEmitted bool
	// typingSent is what the server was last told about our typing state.
	typingSent bool
	// subs removes the handlers bound for the current room.
	subs []func()

	channel       Channel
	api           RoomAPI
	creds         TokenSource
	logger        *slog.Logger
	updates       chan struct{}
	onAuthFailure func(error)
}

type SessionOption func(*Session)

func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithAuthFailureHandler sets the function called whenever an operation
// fails because the credential was rejected.
func WithAuthFailureHandler(f func(error)) SessionOption {
	return func(s *Session) {
		s.onAuthFailure = f
	}
}

func NewSession(channel Channel, api RoomAPI, creds TokenSource, opts ...SessionOption) *Session {
	s := &Session{
		view:    newRoomView(),
		channel: channel,
		api:     api,
		creds:   creds,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		updates: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnAuthFailure replaces the auth failure handler.
func (s *Session) OnAuthFailure(f func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAuthFailure = f
}

// Updates delivers a value after state changes. Notifications are coalesced,
// so readers should take a fresh Snapshot for each one.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.snapshot()
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.state
}

// RoomID returns the joined or joining room, or an empty string when idle.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.roomID
}

// SelectRoom makes roomID the session's room. A joined room is left first.
// If another SelectRoom or a leave supersedes this call while it waits on the
// network, its result is discarded and nil is returned.
func (s *Session) SelectRoom(ctx context.Context, roomID string) error {
	roomID, err := NormalizeRoomID(roomID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if (s.view.state == Active || s.view.state == Joining) && s.view.roomID == roomID {
		s.mu.Unlock()
		return nil
	}
	token := s.creds.Token()
	if token == "" {
		s.mu.Unlock()
		s.authFailed(ErrNoCredential)
		return ErrNoCredential
	}
	leaveErr := s.leaveLocked()
	if leaveErr != nil {
		s.logger.Warn("leave previous room", slog.String("error", leaveErr.Error()))
	}
	epoch := s.enterLocked(roomID)
	s.mu.Unlock()
	s.notify()

	s.logger.Debug("joining room", slog.String("room", roomID))

	err = s.api.JoinRoom(ctx, roomID, token)
	s.mu.Lock()
	if s.staleLocked(epoch) {
		s.mu.Unlock()
		s.logger.Debug("discarding join result", slog.String("room", roomID))
		return nil
	}
	if err != nil {
		return s.abortJoinLocked(wrapRemote(ErrJoinFailed, err))
	}
	if err := s.channel.Emit(EventJoinRoom, RoomPayload{RoomID: roomID}); err != nil {
		return s.abortJoinLocked(fmt.Errorf("%w: %w", ErrJoinFailed, err))
	}
	s.joinEmitted = true
	s.mu.Unlock()

	history, err := s.api.Messages(ctx, roomID, token)
	s.mu.Lock()
	if s.staleLocked(epoch) {
		s.mu.Unlock()
		s.logger.Debug("discarding history", slog.String("room", roomID))
		return nil
	}
	if err != nil {
		return s.abortJoinLocked(wrapRemote(ErrHistoryFetchFailed, err))
	}
	s.view.install(history)
	s.view.state = Active
	s.mu.Unlock()
	s.notify()

	s.logger.Info("joined room", slog.String("room", roomID), slog.Int("history", len(history)))
	return nil
}

// LeaveCurrentRoom leaves the session's room. It is a no-op when idle.
// Local state is cleared even if the leave notification cannot be sent.
func (s *Session) LeaveCurrentRoom() error {
	s.mu.Lock()
	if s.view.state == Idle {
		s.mu.Unlock()
		return nil
	}
	roomID := s.view.roomID
	err := s.leaveLocked()
	s.mu.Unlock()
	s.notify()
	s.logger.Info("left room", slog.String("room", roomID))
	return err
}

// SendMessage sends text to the session's room. It is a no-op when idle or
// when text is blank. The message is not added to the log here: it arrives
// through the push channel like everybody else's.
func (s *Session) SendMessage(ctx context.Context, text string, delivery Delivery) error {
	content := strings.TrimSpace(text)

	s.mu.Lock()
	if s.view.state != Active || content == "" {
		s.mu.Unlock()
		return nil
	}
	roomID := s.view.roomID

	if delivery == DeliverPush {
		defer s.mu.Unlock()
		if err := s.channel.Emit(EventChatMessage, ChatMessagePayload{RoomID: roomID, Content: content}); err != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		return s.stopTypingLocked()
	}

	epoch := s.epoch
	token := s.creds.Token()
	s.mu.Unlock()

	if _, err := s.api.SendMessage(ctx, roomID, token, content); err != nil {
		err = wrapRemote(ErrSendFailed, err)
		if IsAuthFailure(err) {
			s.authFailed(err)
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleLocked(epoch) {
		return nil
	}
	return s.stopTypingLocked()
}

// Reset returns the session to idle without notifying the server. It is used
// when the connection or the credential is gone.
func (s *Session) Reset() {
	s.mu.Lock()
	s.unbindLocked()
	s.view.reset()
	s.epoch++
	s.joinEmitted = false
	s.typingSent = false
	s.mu.Unlock()
	s.notify()
}

// Close leaves the current room and releases every handler the session
// registered on the channel.
func (s *Session) Close() error {
	err := s.LeaveCurrentRoom()
	s.Reset()
	return err
}

// enterLocked moves the session to Joining for roomID and binds the receive
// handlers for it.
func (s *Session) enterLocked(roomID string) uint64 {
	s.view.reset()
	s.view.state = Joining
	s.view.roomID = roomID
	s.epoch++
	s.joinEmitted = false
	s.typingSent = false
	s.bindLocked(roomID, s.epoch)
	return s.epoch
}

// leaveLocked stops typing, notifies the server, removes the handlers and
// clears the view. It returns the first emit failure.
func (s *Session) leaveLocked() error {
	if s.view.state == Idle {
		return nil
	}
	roomID := s.view.roomID
	announced := s.view.state == Active || s.joinEmitted
	s.view.state = Leaving

	err := s.stopTypingLocked()
	if announced {
		if emitErr := s.channel.Emit(EventLeaveRoom, RoomPayload{RoomID: roomID}); emitErr != nil && err == nil {
			err = fmt.Errorf("%w: %w", ErrTransport, emitErr)
		}
	}

	s.unbindLocked()
	s.view.reset()
	s.epoch++
	s.joinEmitted = false
	s.typingSent = false
	return err
}

// abortJoinLocked unwinds a failed join to Idle. It releases the lock.
func (s *Session) abortJoinLocked(err error) error {
	roomID := s.view.roomID
	if s.joinEmitted {
		if emitErr := s.channel.Emit(EventLeaveRoom, RoomPayload{RoomID: roomID}); emitErr != nil {
			s.logger.Warn("leave abandoned room", slog.String("room", roomID), slog.String("error", emitErr.Error()))
		}
	}
	s.unbindLocked()
	s.view.reset()
	s.epoch++
	s.joinEmitted = false
	s.typingSent = false
	s.mu.Unlock()
	s.notify()

	s.logger.Error("join room", slog.String("room", roomID), slog.String("error", err.Error()))
	if IsAuthFailure(err) {
		s.authFailed(err)
	}
	return err
}

func (s *Session) staleLocked(epoch uint64) bool {
	return s.epoch != epoch
}

// bindLocked subscribes the receive handlers for one visit to roomID. The
// handlers carry epoch so a handler left over from an earlier visit to the
// same room never applies.
func (s *Session) bindLocked(roomID string, epoch uint64) {
	s.unbindLocked()
	for _, event := range receiveEvents {
		s.subs = append(s.subs, s.channel.Subscribe(event, func(payload json.RawMessage) {
			s.dispatch(event, roomID, epoch, payload)
		}))
	}
}

func (s *Session) unbindLocked() {
	for _, unsubscribe := range s.subs {
		unsubscribe()
	}
	s.subs = nil
}

// dispatch runs the reducer for event against the view.
func (s *Session) dispatch(event, boundRoom string, epoch uint64, payload json.RawMessage) {
	reduce, ok := reducers[event]
	if !ok {
		return
	}
	s.mu.Lock()
	err := ErrStaleResult
	if !s.staleLocked(epoch) {
		err = reduce(&s.view, boundRoom, payload)
	}
	s.mu.Unlock()

	if errors.Is(err, ErrStaleResult) {
		s.logger.Debug("dropping event", slog.String("event", event), slog.String("room", boundRoom))
		return
	}
	if err != nil {
		s.logger.Error(fmt.Sprintf("%s handler: %s", event, err))
		return
	}
	s.notify()
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) authFailed(err error) {
	s.mu.Lock()
	f := s.onAuthFailure
	s.mu.Unlock()
	if f != nil {
		f(err)
	}
}
