package core

import (
	"maps"
	"slices"
)

// Snapshot is a read-only copy of a Session's state for presentation.
type Snapshot struct {
	State    SessionState
	RoomID   string
	Messages []Message
	// Presence maps user id to display name.
	Presence map[string]string
	// Typing maps user id to whether the user is typing.
	Typing map[string]bool
}

func (v *roomView) snapshot() Snapshot {
	return Snapshot{
		State:    v.state,
		RoomID:   v.roomID,
		Messages: slices.Clone(v.messages),
		Presence: maps.Clone(v.presence),
		Typing:   maps.Clone(v.typing),
	}
}

func (s Snapshot) OnlineCount() int {
	return len(s.Presence)
}

// TypingUsers returns the display names of users currently typing, sorted.
// Users without a known name are labelled by the tail of their id.
func (s Snapshot) TypingUsers() []string {
	var names []string
	for id, typing := range s.Typing {
		if !typing {
			continue
		}
		name, ok := s.Presence[id]
		if !ok || name == "" {
			name = "user-" + idSuffix(id, 4)
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func idSuffix(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[len(id)-n:]
}
