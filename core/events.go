package core

// Push channel event names.
const (
	// Client to server.
	EventJoinRoom  = "joinRoom"
	EventLeaveRoom = "leaveRoom"

	// Both directions. The client emits TypingPayload and ChatMessagePayload,
	// the server pushes TypingEvent and Message.
	EventTyping      = "typing"
	EventChatMessage = "chatMessage"

	// Server to client.
	EventPresence    = "presence"
	EventUserOnline  = "userOnline"
	EventUserOffline = "userOffline"
)

type RoomPayload struct {
	RoomID string `json:"roomId"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type ChatMessagePayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type TypingEvent struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

type PresenceUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// PresenceEvent is the full list of users online in a room.
type PresenceEvent struct {
	RoomID string         `json:"roomId"`
	Users  []PresenceUser `json:"users"`
}

// UserOnlineEvent may omit RoomID when the server broadcasts presence
// changes without a room qualifier.
type UserOnlineEvent struct {
	RoomID   string `json:"roomId,omitempty"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type UserOfflineEvent struct {
	RoomID string `json:"roomId,omitempty"`
	UserID string `json:"userId"`
}
