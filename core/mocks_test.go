package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

type emitted struct {
	Event   string
	Payload any
}

// MockChannel records emits and lets tests push events to subscribers.
type MockChannel struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]func(json.RawMessage)
	emits    []emitted
	emitErr  error
}

func NewMockChannel() *MockChannel {
	return &MockChannel{handlers: make(map[string]map[int]func(json.RawMessage))}
}

func (c *MockChannel) Subscribe(event string, h func(json.RawMessage)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]func(json.RawMessage))
	}
	c.handlers[event][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

func (c *MockChannel) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emits = append(c.emits, emitted{Event: event, Payload: payload})
	return nil
}

// Push delivers payload to every handler subscribed to event.
func (c *MockChannel) Push(event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	hs := make([]func(json.RawMessage), 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(b)
	}
}

func (c *MockChannel) Emits() []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]emitted(nil), c.emits...)
}

func (c *MockChannel) EmitsOf(event string) []emitted {
	var out []emitted
	for _, e := range c.Emits() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Handlers returns the handlers currently subscribed to event, the way a
// transport snapshots them before delivering.
func (c *MockChannel) Handlers(event string) []func(json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := make([]func(json.RawMessage), 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	return hs
}

func (c *MockChannel) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n
}

type statusErr struct {
	status int
}

func (e statusErr) Error() string   { return "remote failure" }
func (e statusErr) StatusCode() int { return e.status }

var errNetwork = errors.New("network unreachable")

// MockRoomAPI answers from in-memory history unless a hook is set.
type MockRoomAPI struct {
	mu        sync.Mutex
	history   map[string][]Message
	joined    []string
	fetched   []string
	sent      []string
	joinFn    func(ctx context.Context, roomID string) error
	historyFn func(ctx context.Context, roomID string) ([]Message, error)
	sendFn    func(ctx context.Context, roomID, content string) error
}

func NewMockRoomAPI() *MockRoomAPI {
	return &MockRoomAPI{history: make(map[string][]Message)}
}

func (a *MockRoomAPI) JoinRoom(ctx context.Context, roomID, token string) error {
	a.mu.Lock()
	a.joined = append(a.joined, roomID)
	fn := a.joinFn
	a.mu.Unlock()
	if fn != nil {
		return fn(ctx, roomID)
	}
	return nil
}

func (a *MockRoomAPI) Messages(ctx context.Context, roomID, token string) ([]Message, error) {
	a.mu.Lock()
	a.fetched = append(a.fetched, roomID)
	fn := a.historyFn
	history := append([]Message(nil), a.history[roomID]...)
	a.mu.Unlock()
	if fn != nil {
		return fn(ctx, roomID)
	}
	return history, nil
}

func (a *MockRoomAPI) SendMessage(ctx context.Context, roomID, token, content string) (*Message, error) {
	a.mu.Lock()
	a.sent = append(a.sent, content)
	fn := a.sendFn
	a.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, roomID, content); err != nil {
			return nil, err
		}
	}
	return &Message{RoomID: roomID, Content: content}, nil
}

func (a *MockRoomAPI) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.joined) + len(a.fetched) + len(a.sent)
}

type staticToken string

func (t staticToken) Token() string { return string(t) }
