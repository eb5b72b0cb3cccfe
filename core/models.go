package core

import (
	"encoding/json"
	"time"
)

// User is a chat participant as the server describes it.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// Room is a chat room listed by the server.
type Room struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	// Members is kept raw because servers send either user ids or user objects.
	Members []json.RawMessage `json:"members"`
}

func (r Room) MemberCount() int {
	return len(r.Members)
}

// Message represents a chat message sent by a user to a room.
type Message struct {
	ID        string    `json:"_id"`
	RoomID    string    `json:"room"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	// Idle means no room is joined.
	Idle SessionState = iota
	// Joining means a join sequence for a target room is in flight.
	Joining
	// Active means the room is joined and its history installed.
	Active
	// Leaving means the leave notification for the room is being emitted.
	Leaving
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case Active:
		return "active"
	case Leaving:
		return "leaving"
	default:
		return "unknown"
	}
}
