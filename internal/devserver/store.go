package devserver

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/putto11262002/chatline/core"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrConflictedUser = errors.New("user already exists")
	ErrBadCredentials = errors.New("invalid username or password")
	ErrUserNotFound   = errors.New("user not found")
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotMember      = errors.New("not a member of the room")
)

// Room is the server side view of a room. Members holds user ids.
type Room struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

type user struct {
	core.User
	hash []byte
}

// Store keeps users, rooms and messages in memory.
type Store struct {
	mu         sync.RWMutex
	users      map[string]*user
	byUsername map[string]string
	rooms      map[string]*Room
	roomOrder  []string
	messages   map[string][]core.Message
	now        func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:      make(map[string]*user),
		byUsername: make(map[string]string),
		rooms:      make(map[string]*Room),
		messages:   make(map[string][]core.Message),
		now:        time.Now,
	}
}

func (s *Store) CreateUser(username, password string) (core.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return core.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(username)
	if _, ok := s.byUsername[key]; ok {
		return core.User{}, ErrConflictedUser
	}
	u := &user{
		User: core.User{ID: primitive.NewObjectID().Hex(), Username: username},
		hash: hash,
	}
	s.users[u.ID] = u
	s.byUsername[key] = u.ID
	return u.User, nil
}

func (s *Store) Authenticate(username, password string) (core.User, error) {
	s.mu.RLock()
	id, ok := s.byUsername[strings.ToLower(username)]
	var u *user
	if ok {
		u = s.users[id]
	}
	s.mu.RUnlock()
	if u == nil {
		return core.User{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return core.User{}, ErrBadCredentials
	}
	return u.User, nil
}

func (s *Store) User(id string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return core.User{}, ErrUserNotFound
	}
	return u.User, nil
}

func (s *Store) CreateRoom(name, ownerID string) Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Room{
		ID:        primitive.NewObjectID().Hex(),
		Name:      name,
		Members:   []string{ownerID},
		CreatedBy: ownerID,
		CreatedAt: s.now(),
	}
	s.rooms[r.ID] = r
	s.roomOrder = append(s.roomOrder, r.ID)
	return cloneRoom(r)
}

func (s *Store) Rooms() []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]Room, 0, len(s.roomOrder))
	for _, id := range s.roomOrder {
		rooms = append(rooms, cloneRoom(s.rooms[id]))
	}
	return rooms
}

func (s *Store) Room(id string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return cloneRoom(r), nil
}

// JoinRoom adds userID to the room members. Joining twice is harmless.
func (s *Store) JoinRoom(roomID, userID string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	if !slices.Contains(r.Members, userID) {
		r.Members = append(r.Members, userID)
	}
	return cloneRoom(r), nil
}

func (s *Store) AddMessage(roomID string, sender core.User, content string) (core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return core.Message{}, ErrRoomNotFound
	}
	if !slices.Contains(r.Members, sender.ID) {
		return core.Message{}, ErrNotMember
	}
	m := core.Message{
		ID:        primitive.NewObjectID().Hex(),
		RoomID:    roomID,
		Sender:    sender,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	s.messages[roomID] = append(s.messages[roomID], m)
	return m, nil
}

// Messages returns the history of a room newest first.
func (s *Store) Messages(roomID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, ErrRoomNotFound
	}
	msgs := slices.Clone(s.messages[roomID])
	slices.Reverse(msgs)
	return msgs, nil
}

func cloneRoom(r *Room) Room {
	c := *r
	c.Members = slices.Clone(r.Members)
	return c
}
