package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// roomView is the state a Session exposes for one room. Reducers mutate it
// while the session lock is held.
type roomView struct {
	state  SessionState
	roomID string
	// messages is the reconciled log, oldest first.
	messages []Message
	// pending holds pushed messages that arrived while the history fetch
	// was in flight.
	pending  []Message
	presence map[string]string
	typing   map[string]bool
}

func newRoomView() roomView {
	return roomView{
		presence: make(map[string]string),
		typing:   make(map[string]bool),
	}
}

// reset clears everything scoped to the current room in one step.
func (v *roomView) reset() {
	v.state = Idle
	v.roomID = ""
	v.messages = nil
	v.pending = nil
	v.presence = make(map[string]string)
	v.typing = make(map[string]bool)
}

// install replaces the log with history, which the server returns newest
// first, and appends the buffered pushes it does not already contain.
func (v *roomView) install(history []Message) {
	messages := make([]Message, 0, len(history)+len(v.pending))
	seen := make(map[string]bool, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		messages = append(messages, history[i])
		if history[i].ID != "" {
			seen[history[i].ID] = true
		}
	}
	for _, m := range v.pending {
		if m.ID != "" && seen[m.ID] {
			continue
		}
		messages = append(messages, m)
	}
	v.messages = messages
	v.pending = nil
}

// current reports whether an event tagged eventRoom and delivered to a
// handler bound for boundRoom still pertains to the view. An empty eventRoom
// matches only when allowUnqualified is set.
func (v *roomView) current(boundRoom, eventRoom string, allowUnqualified bool) bool {
	if v.state != Joining && v.state != Active {
		return false
	}
	if v.roomID != boundRoom {
		return false
	}
	if eventRoom == "" {
		return allowUnqualified
	}
	return strings.EqualFold(eventRoom, v.roomID)
}

// reducer applies one push event to the view. It returns ErrStaleResult when
// the event does not pertain to the current room.
type reducer func(v *roomView, boundRoom string, payload json.RawMessage) error

var reducers = map[string]reducer{
	EventChatMessage: reduceChatMessage,
	EventTyping:      reduceTyping,
	EventPresence:    reducePresence,
	EventUserOnline:  reduceUserOnline,
	EventUserOffline: reduceUserOffline,
}

// receiveEvents fixes the subscription order.
var receiveEvents = []string{
	EventChatMessage,
	EventTyping,
	EventPresence,
	EventUserOnline,
	EventUserOffline,
}

func decodePayload(event string, payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", event, err)
	}
	return nil
}

func reduceChatMessage(v *roomView, boundRoom string, payload json.RawMessage) error {
	var m Message
	if err := decodePayload(EventChatMessage, payload, &m); err != nil {
		return err
	}
	if !v.current(boundRoom, m.RoomID, false) {
		return ErrStaleResult
	}
	if v.state == Joining {
		v.pending = append(v.pending, m)
		return nil
	}
	v.messages = append(v.messages, m)
	return nil
}

func reduceTyping(v *roomView, boundRoom string, payload json.RawMessage) error {
	var e TypingEvent
	if err := decodePayload(EventTyping, payload, &e); err != nil {
		return err
	}
	if !v.current(boundRoom, e.RoomID, false) {
		return ErrStaleResult
	}
	v.typing[e.UserID] = e.IsTyping
	if e.Username != "" {
		v.presence[e.UserID] = e.Username
	}
	return nil
}

func reducePresence(v *roomView, boundRoom string, payload json.RawMessage) error {
	var e PresenceEvent
	if err := decodePayload(EventPresence, payload, &e); err != nil {
		return err
	}
	if !v.current(boundRoom, e.RoomID, false) {
		return ErrStaleResult
	}
	presence := make(map[string]string, len(e.Users))
	for _, u := range e.Users {
		presence[u.UserID] = u.Username
	}
	v.presence = presence
	return nil
}

func reduceUserOnline(v *roomView, boundRoom string, payload json.RawMessage) error {
	var e UserOnlineEvent
	if err := decodePayload(EventUserOnline, payload, &e); err != nil {
		return err
	}
	if !v.current(boundRoom, e.RoomID, true) {
		return ErrStaleResult
	}
	name := e.Username
	if name == "" {
		name = v.presence[e.UserID]
	}
	if name == "" {
		name = "user"
	}
	v.presence[e.UserID] = name
	return nil
}

// reduceUserOffline removes the user from both maps so no typing indicator
// outlives the user's presence.
func reduceUserOffline(v *roomView, boundRoom string, payload json.RawMessage) error {
	var e UserOfflineEvent
	if err := decodePayload(EventUserOffline, payload, &e); err != nil {
		return err
	}
	if !v.current(boundRoom, e.RoomID, true) {
		return ErrStaleResult
	}
	delete(v.presence, e.UserID)
	delete(v.typing, e.UserID)
	return nil
}
