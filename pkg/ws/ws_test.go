package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "good-token"

type testServer struct {
	ts       *httptest.Server
	received chan Event
	conns    chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	s := &testServer{
		received: make(chan Event, 16),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{}
	s.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.conns <- conn
		for {
			var e Event
			if err := conn.ReadJSON(&e); err != nil {
				return
			}
			s.received <- e
		}
	}))
	t.Cleanup(s.ts.Close)
	return s
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http")
}

func (s *testServer) dial(t *testing.T) (*Conn, *websocket.Conn) {
	c, err := Dial(context.Background(), s.url(), testToken)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	select {
	case peer := <-s.conns:
		return c, peer
	case <-time.After(time.Second):
		t.Fatal("server did not accept connection")
		return nil, nil
	}
}

func push(t *testing.T, peer *websocket.Conn, event string, payload any) {
	e, err := NewEvent(event, payload)
	require.NoError(t, err)
	require.NoError(t, peer.WriteJSON(e))
}

func TestDial_Unauthenticated(t *testing.T) {
	s := newTestServer(t)

	_, err := Dial(context.Background(), s.url(), "bad-token")
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = Dial(context.Background(), s.url(), "")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestEmit(t *testing.T) {
	s := newTestServer(t)
	c, _ := s.dial(t)

	require.NoError(t, c.Emit("joinRoom", map[string]string{"roomId": "abc"}))

	select {
	case e := <-s.received:
		assert.Equal(t, "joinRoom", e.Type)
		assert.JSONEq(t, `{"roomId":"abc"}`, string(e.Payload))
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
}

func TestEmit_PreservesOrder(t *testing.T) {
	s := newTestServer(t)
	c, _ := s.dial(t)

	for _, name := range []string{"typing", "chatMessage", "leaveRoom"} {
		require.NoError(t, c.Emit(name, struct{}{}))
	}
	for _, want := range []string{"typing", "chatMessage", "leaveRoom"} {
		select {
		case e := <-s.received:
			assert.Equal(t, want, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("%s not received", want)
		}
	}
}

func TestOnOff(t *testing.T) {
	s := newTestServer(t)
	c, peer := s.dial(t)

	got := make(chan string, 4)
	sub := c.On("typing", func(payload json.RawMessage) {
		got <- "typing:" + string(payload)
	})
	unsubscribe := c.Subscribe("presence", func(payload json.RawMessage) {
		got <- "presence"
	})
	assert.Equal(t, 1, c.ListenerCount("typing"))
	assert.Equal(t, 1, c.ListenerCount("presence"))

	push(t, peer, "typing", map[string]bool{"isTyping": true})
	select {
	case v := <-got:
		assert.Equal(t, `typing:{"isTyping":true}`, v)
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}

	c.Off(sub)
	c.Off(sub)
	assert.Equal(t, 0, c.ListenerCount("typing"))

	// Events are dispatched in order so the presence event arriving proves
	// the earlier typing event was dropped.
	push(t, peer, "typing", map[string]bool{"isTyping": false})
	push(t, peer, "presence", struct{}{})
	select {
	case v := <-got:
		assert.Equal(t, "presence", v)
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}

	unsubscribe()
	assert.Equal(t, 0, c.ListenerCount("presence"))
}

func TestOnDisconnect(t *testing.T) {
	s := newTestServer(t)
	c, peer := s.dial(t)

	errs := make(chan error, 1)
	c.OnDisconnect(func(err error) { errs <- err })

	peer.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not reported")
	}
}

func TestClose_FlushesQueuedEvents(t *testing.T) {
	s := newTestServer(t)
	c, _ := s.dial(t)

	want := []string{"typing", "leaveRoom", "typing", "leaveRoom", "typing", "leaveRoom"}
	for _, name := range want {
		require.NoError(t, c.Emit(name, struct{}{}))
	}
	require.NoError(t, c.Close())

	for _, name := range want {
		select {
		case e := <-s.received:
			assert.Equal(t, name, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("%s not received before close", name)
		}
	}
}

func TestClose(t *testing.T) {
	s := newTestServer(t)
	c, _ := s.dial(t)

	disconnected := make(chan error, 1)
	c.OnDisconnect(func(err error) { disconnected <- err })
	c.On("typing", func(json.RawMessage) {})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Emit("typing", struct{}{}), ErrClosed)
	assert.Equal(t, 0, c.ListenerCount("typing"))

	select {
	case err := <-disconnected:
		t.Fatalf("unexpected disconnect report: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
