package devserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/putto11262002/chatline/core"
	"github.com/putto11262002/chatline/pkg/router"
	"github.com/putto11262002/chatline/pkg/syncmap"
	"github.com/putto11262002/chatline/pkg/ws"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	writeStreamSize = 100
)

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type peer struct {
	id          uuid.UUID
	user        core.User
	conn        *websocket.Conn
	writeStream chan *ws.Event
	done        chan struct{}
	logger      *slog.Logger

	mu   sync.Mutex
	room string
}

func (p *peer) currentRoom() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

func (p *peer) setRoom(room string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.room = room
}

// send queues e without blocking. Events for a peer that cannot keep up are
// dropped.
func (p *peer) send(e *ws.Event) {
	select {
	case <-p.done:
	case p.writeStream <- e:
	default:
		p.logger.Warn(fmt.Sprintf("write stream full, dropping %v", e))
	}
}

type eventHandler func(p *peer, payload json.RawMessage) error

// Hub tracks push connections and routes room events between them. Incoming
// events are applied one at a time.
type Hub struct {
	store    *Store
	peers    *syncmap.Map[uuid.UUID, *peer]
	handlers map[string]eventHandler
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewHub(store *Store, logger *slog.Logger) *Hub {
	h := &Hub{
		store:    store,
		peers:    syncmap.New[uuid.UUID, *peer](),
		upgrader: defaultUpgrader,
		logger:   logger,
	}
	h.handlers = map[string]eventHandler{
		core.EventJoinRoom:    h.joinRoomHandler,
		core.EventLeaveRoom:   h.leaveRoomHandler,
		core.EventTyping:      h.typingHandler,
		core.EventChatMessage: h.chatMessageHandler,
	}
	return h
}

// Connect upgrades an authenticated request and starts serving the peer.
func (h *Hub) Connect(user core.User, w http.ResponseWriter, r *http.Request) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return router.NewError(http.StatusServiceUnavailable, "server is shutting down")
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		h.logger.Error(fmt.Sprintf("upgrade: %v", err))
		return nil
	}

	p := &peer{
		id:          uuid.New(),
		user:        user,
		conn:        conn,
		writeStream: make(chan *ws.Event, writeStreamSize),
		done:        make(chan struct{}),
	}
	p.logger = h.logger.With(slog.String("connection", fmt.Sprintf("%s:%s", user.Username, p.id)))

	h.mu.Lock()
	first := !h.userConnected(user.ID)
	h.peers.Store(p.id, p)
	if first {
		h.broadcast(core.EventUserOnline, core.UserOnlineEvent{UserID: user.ID, Username: user.Username}, p.id)
	}
	h.mu.Unlock()

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.readLoop(p)
	}()
	go func() {
		defer h.wg.Done()
		h.writeLoop(p)
	}()
	return nil
}

// Connections returns the number of open push connections.
func (h *Hub) Connections() int {
	return h.peers.Len()
}

// Close disconnects every peer and waits for their loops to finish.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.peers.RRange(func(_ uuid.UUID, p *peer) bool {
		go h.disconnect(p)
		return true
	})
	h.wg.Wait()
}

func (h *Hub) userConnected(userID string) bool {
	found := false
	h.peers.RRange(func(_ uuid.UUID, p *peer) bool {
		found = p.user.ID == userID
		return !found
	})
	return found
}

func (h *Hub) disconnect(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers.LoadAndDelete(p.id); !ok {
		return
	}
	close(p.done)

	if room := p.currentRoom(); room != "" {
		p.setRoom("")
		h.leftRoom(p, room)
	}
	if !h.userConnected(p.user.ID) {
		h.broadcast(core.EventUserOffline, core.UserOfflineEvent{UserID: p.user.ID})
	}
	p.logger.Info("disconnected")
}

func (h *Hub) dispatch(p *peer, e *ws.Event) {
	handler, ok := h.handlers[e.Type]
	if !ok {
		p.logger.Debug(fmt.Sprintf("no handler: %v", e))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := handler(p, e.Payload); err != nil {
		p.logger.Error(fmt.Sprintf("%s handler: %v", e.Type, err))
	}
}

func (h *Hub) joinRoomHandler(p *peer, payload json.RawMessage) error {
	var in core.RoomPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	roomID, err := core.NormalizeRoomID(in.RoomID)
	if err != nil {
		return err
	}
	if _, err := h.store.JoinRoom(roomID, p.user.ID); err != nil {
		return err
	}

	old := p.currentRoom()
	if old == roomID {
		return nil
	}
	p.setRoom(roomID)
	if old != "" {
		h.leftRoom(p, old)
	}

	h.broadcastToRoomExcept(roomID, p.id, core.EventUserOnline,
		core.UserOnlineEvent{RoomID: roomID, UserID: p.user.ID, Username: p.user.Username})
	h.broadcastToRoom(roomID, core.EventPresence, h.presence(roomID))
	return nil
}

func (h *Hub) leaveRoomHandler(p *peer, payload json.RawMessage) error {
	var in core.RoomPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	roomID := strings.ToLower(in.RoomID)
	if p.currentRoom() != roomID {
		return nil
	}
	p.setRoom("")
	h.leftRoom(p, roomID)
	return nil
}

func (h *Hub) typingHandler(p *peer, payload json.RawMessage) error {
	var in core.TypingPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	roomID := strings.ToLower(in.RoomID)
	if p.currentRoom() != roomID {
		return nil
	}
	h.broadcastToRoomExcept(roomID, p.id, core.EventTyping, core.TypingEvent{
		RoomID:   roomID,
		UserID:   p.user.ID,
		Username: p.user.Username,
		IsTyping: in.IsTyping,
	})
	return nil
}

func (h *Hub) chatMessageHandler(p *peer, payload json.RawMessage) error {
	var in core.ChatMessagePayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	roomID, err := core.NormalizeRoomID(in.RoomID)
	if err != nil {
		return err
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return core.ErrEmptyMessage
	}
	m, err := h.store.AddMessage(roomID, p.user, content)
	if err != nil {
		return err
	}
	h.broadcastToRoom(roomID, core.EventChatMessage, m)
	return nil
}

// leftRoom tells the remaining peers of room that p is gone.
func (h *Hub) leftRoom(p *peer, room string) {
	h.broadcastToRoom(room, core.EventUserOffline, core.UserOfflineEvent{RoomID: room, UserID: p.user.ID})
	h.broadcastToRoom(room, core.EventPresence, h.presence(room))
}

func (h *Hub) presence(room string) core.PresenceEvent {
	seen := make(map[string]bool)
	users := make([]core.PresenceUser, 0)
	h.peers.RRange(func(_ uuid.UUID, p *peer) bool {
		if p.currentRoom() == room && !seen[p.user.ID] {
			seen[p.user.ID] = true
			users = append(users, core.PresenceUser{UserID: p.user.ID, Username: p.user.Username})
		}
		return true
	})
	slices.SortFunc(users, func(a, b core.PresenceUser) int {
		return strings.Compare(a.Username, b.Username)
	})
	return core.PresenceEvent{RoomID: room, Users: users}
}

func (h *Hub) broadcast(event string, payload any, except ...uuid.UUID) {
	h.sendWhere(event, payload, func(p *peer) bool {
		return !slices.Contains(except, p.id)
	})
}

func (h *Hub) broadcastToRoom(room, event string, payload any) {
	h.sendWhere(event, payload, func(p *peer) bool {
		return p.currentRoom() == room
	})
}

func (h *Hub) broadcastToRoomExcept(room string, except uuid.UUID, event string, payload any) {
	h.sendWhere(event, payload, func(p *peer) bool {
		return p.id != except && p.currentRoom() == room
	})
}

func (h *Hub) sendWhere(event string, payload any, match func(*peer) bool) {
	e, err := ws.NewEvent(event, payload)
	if err != nil {
		h.logger.Error(err.Error())
		return
	}
	h.peers.RRange(func(_ uuid.UUID, p *peer) bool {
		if match(p) {
			p.send(e)
		}
		return true
	})
}

func (h *Hub) readLoop(p *peer) {
	p.logger.Debug("read loop started")
	defer func() {
		h.disconnect(p)
		p.conn.Close()
		p.logger.Debug("read loop stopped")
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := p.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Info(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				p.logger.Error(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			p.logger.Error(fmt.Sprintf("NextReader: %v", err))
			return
		}

		if format != websocket.TextMessage {
			p.logger.Error(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}

		var event ws.Event
		if err := ws.DecodeEvent(r, &event); err != nil {
			p.logger.Error(err.Error())
			continue
		}
		p.logger.Debug(event.String())
		h.dispatch(p, &event)
	}
}

func (h *Hub) writeLoop(p *peer) {
	p.logger.Debug("write loop started")
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case e := <-p.writeStream:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := p.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				p.logger.Error(fmt.Sprintf("getting next writer: %v", err))
				p.conn.Close()
				return
			}
			if err := ws.EncodeEvent(w, e); err != nil {
				p.logger.Error(err.Error())
			}
			w.Close()
		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			p.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			p.conn.Close()
			return
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.logger.Error(fmt.Sprintf("writing ping: %v", err))
				p.conn.Close()
				return
			}
		}
	}
}
