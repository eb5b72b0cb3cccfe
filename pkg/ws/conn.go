package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/putto11262002/chatline/pkg/syncmap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 16

	// Time to wait for the peer to answer our close message.
	closeGrace = time.Second

	defaultWriteQueueSize = 64
)

var (
	// ErrUnauthenticated is returned by Dial when the server rejects the credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrClosed          = errors.New("connection closed")
	ErrWriteQueueFull  = errors.New("write queue full")
	// ErrDisconnected is reported to the disconnect handler when the
	// connection ends without Close being called.
	ErrDisconnected = errors.New("disconnected")
)

// HandlerFunc handles the payload of one event.
type HandlerFunc func(payload json.RawMessage)

// Subscription identifies one registered handler.
type Subscription struct {
	Event string
	ID    uuid.UUID
}

// Conn is the client side of the push channel. Handlers are invoked on the
// connection's read goroutine in arrival order.
type Conn struct {
	conn *websocket.Conn
	// listeners maps an event name to its handlers. The inner maps are never
	// mutated in place so readers can iterate them without holding a lock.
	listeners *syncmap.Map[string, map[uuid.UUID]HandlerFunc]

	mu           sync.Mutex
	closed       bool
	writeStream  chan *Event
	done         chan struct{}
	readDone     chan struct{}
	writeDone    chan struct{}
	onDisconnect func(error)
	once         sync.Once

	logger         *slog.Logger
	dialer         *websocket.Dialer
	writeQueueSize int
}

type Option func(*Conn)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		c.logger = logger
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Conn) {
		c.dialer = dialer
	}
}

func WithWriteQueueSize(n int) Option {
	return func(c *Conn) {
		c.writeQueueSize = n
	}
}

// Dial opens the push channel at url authenticating with token.
func Dial(ctx context.Context, url, token string, opts ...Option) (*Conn, error) {
	c := &Conn{
		listeners:      syncmap.New[string, map[uuid.UUID]HandlerFunc](),
		done:           make(chan struct{}),
		readDone:       make(chan struct{}),
		writeDone:      make(chan struct{}),
		onDisconnect:   func(error) {},
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		dialer:         websocket.DefaultDialer,
		writeQueueSize: defaultWriteQueueSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.writeStream = make(chan *Event, c.writeQueueSize)

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, res, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		if res != nil && res.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial: %w", ErrUnauthenticated)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)

	go c.readLoop()
	go c.writeLoop()

	c.logger.Info("connected", slog.String("url", url))
	return c, nil
}

// OnDisconnect sets the function called once when the connection ends
// without Close. It receives an error wrapping ErrDisconnected.
func (c *Conn) OnDisconnect(f func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = f
}

// On registers h for the named event.
func (c *Conn) On(event string, h HandlerFunc) Subscription {
	sub := Subscription{Event: event, ID: uuid.New()}
	c.listeners.LoadAndStore(event, func(hs map[uuid.UUID]HandlerFunc, _ bool) map[uuid.UUID]HandlerFunc {
		next := maps.Clone(hs)
		if next == nil {
			next = make(map[uuid.UUID]HandlerFunc)
		}
		next[sub.ID] = h
		return next
	})
	return sub
}

// Off removes the handler registered under sub. Removing twice is harmless.
func (c *Conn) Off(sub Subscription) {
	c.listeners.LoadAndStore(sub.Event, func(hs map[uuid.UUID]HandlerFunc, _ bool) map[uuid.UUID]HandlerFunc {
		if _, ok := hs[sub.ID]; !ok {
			return hs
		}
		next := maps.Clone(hs)
		delete(next, sub.ID)
		return next
	})
}

// Subscribe is On returning a function that calls Off.
func (c *Conn) Subscribe(event string, h func(payload json.RawMessage)) func() {
	sub := c.On(event, h)
	return func() {
		c.Off(sub)
	}
}

// ListenerCount returns the number of handlers registered for event.
func (c *Conn) ListenerCount(event string) int {
	hs, _ := c.listeners.Load(event)
	return len(hs)
}

// Emit queues an event for sending. It never blocks: when the queue is full
// the event is rejected with ErrWriteQueueFull.
func (c *Conn) Emit(event string, payload any) error {
	e, err := NewEvent(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.writeStream <- e:
		return nil
	default:
		return ErrWriteQueueFull
	}
}

// Close sends a close message, waits briefly for the peer to answer and
// releases the connection. Registered handlers are dropped.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	<-c.writeDone
	select {
	case <-c.readDone:
	case <-time.After(closeGrace):
		c.logger.Warn("peer did not answer close message")
		c.conn.Close()
	}

	c.listeners.Clear()
	c.logger.Info("closed")
	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) dispatch(e *Event) {
	hs, ok := c.listeners.Load(e.Type)
	if !ok {
		c.logger.Debug(fmt.Sprintf("no handler: %v", e))
		return
	}
	for _, h := range hs {
		h(e.Payload)
	}
}

func (c *Conn) readLoop() {
	c.logger.Debug("read loop started")
	var readErr error
	defer func() {
		close(c.readDone)
		c.conn.Close()
		c.logger.Debug("read loop stopped")
		if !c.isClosed() {
			c.disconnected(readErr)
		}
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		format, r, err := c.conn.NextReader()
		if err != nil {
			readErr = err
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Error(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			c.logger.Error(fmt.Sprintf("NextReader: %v", err))
			return
		}

		if format != websocket.TextMessage {
			c.logger.Error(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}

		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			c.logger.Error(err.Error())
			continue
		}
		c.logger.Debug(event.String())
		c.dispatch(&event)
	}
}

func (c *Conn) writeLoop() {
	c.logger.Debug("write loop started")
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writeDone)
		c.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case e := <-c.writeStream:
			if err := c.writeEvent(e); err != nil {
				c.logger.Error(err.Error())
				c.conn.Close()
				return
			}
		case <-c.done:
			// Emit refuses new events once done is closed, so the queue
			// only shrinks here.
			for drained := false; !drained; {
				select {
				case e := <-c.writeStream:
					if err := c.writeEvent(e); err != nil {
						c.logger.Error(err.Error())
						c.conn.Close()
						return
					}
				default:
					drained = true
				}
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.readDone:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("writing ping: %v", err))
				c.conn.Close()
				return
			}
		}
	}
}

func (c *Conn) writeEvent(e *Event) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("getting next writer: %w", err)
	}
	if err := EncodeEvent(w, e); err != nil {
		c.logger.Error(err.Error())
	}
	return w.Close()
}

func (c *Conn) disconnected(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		f := c.onDisconnect
		c.mu.Unlock()
		if err == nil {
			err = ErrDisconnected
		} else {
			err = fmt.Errorf("%w: %w", ErrDisconnected, err)
		}
		f(err)
	})
}
