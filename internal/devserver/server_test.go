package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/putto11262002/chatline/core"
	"github.com/putto11262002/chatline/pkg/apiclient"
	"github.com/putto11262002/chatline/pkg/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	server *Server
	ts     *httptest.Server
	api    *apiclient.Client
}

func setUp(t *testing.T) *fixture {
	s, err := New(WithSecret([]byte("test-secret")))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		server: s,
		ts:     ts,
		api:    apiclient.New(ts.URL),
	}
}

func (f *fixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
}

func (f *fixture) login(username string) *apiclient.Session {
	_, err := f.api.Register(f.ctx, username, "password")
	require.NoError(f.t, err)
	s, err := f.api.Login(f.ctx, username, "password")
	require.NoError(f.t, err)
	return s
}

type received struct {
	event   string
	payload json.RawMessage
}

// dial connects with token and records every server event.
func (f *fixture) dial(token string) (*ws.Conn, chan received) {
	c, err := ws.Dial(f.ctx, f.wsURL(), token)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { c.Close() })

	events := make(chan received, 64)
	for _, name := range []string{core.EventChatMessage, core.EventTyping, core.EventPresence, core.EventUserOnline, core.EventUserOffline} {
		c.On(name, func(payload json.RawMessage) {
			events <- received{event: name, payload: payload}
		})
	}
	return c, events
}

// expect waits for the next event named event, skipping others, and decodes
// it into v.
func expect(t *testing.T, events chan received, event string, v any) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.event != event {
				continue
			}
			require.NoError(t, json.Unmarshal(e.payload, v))
			return
		case <-timeout:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func TestAPI_Flow(t *testing.T) {
	f := setUp(t)
	session := f.login("alice")
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "alice", session.User.Username)

	me, err := f.api.Me(f.ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User, *me)

	room, err := f.api.CreateRoom(f.ctx, "general", session.Token)
	require.NoError(t, err)
	assert.True(t, core.ValidRoomID(room.ID))
	assert.Equal(t, 1, room.MemberCount())

	rooms, err := f.api.Rooms(f.ctx, "")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "general", rooms[0].Name)

	require.NoError(t, f.api.JoinRoom(f.ctx, room.ID, session.Token))
	for _, content := range []string{"first", "second"} {
		_, err := f.api.SendMessage(f.ctx, room.ID, session.Token, content)
		require.NoError(t, err)
	}

	msgs, err := f.api.Messages(f.ctx, strings.ToUpper(room.ID), session.Token)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, "alice", msgs[0].Sender.Username)
}

func TestAPI_Errors(t *testing.T) {
	f := setUp(t)
	session := f.login("alice")

	tcs := []struct {
		name   string
		call   func() error
		status int
	}{
		{
			name: "duplicate user",
			call: func() error {
				_, err := f.api.Register(f.ctx, "alice", "password")
				return err
			},
			status: http.StatusConflict,
		},
		{
			name: "short password",
			call: func() error {
				_, err := f.api.Register(f.ctx, "bob", "pw")
				return err
			},
			status: http.StatusBadRequest,
		},
		{
			name: "bad credentials",
			call: func() error {
				_, err := f.api.Login(f.ctx, "alice", "wrong-password")
				return err
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "missing token",
			call: func() error {
				_, err := f.api.Me(f.ctx, "")
				return err
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "invalid token",
			call: func() error {
				_, err := f.api.Me(f.ctx, "not-a-token")
				return err
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "unknown room",
			call: func() error {
				return f.api.JoinRoom(f.ctx, "507f1f77bcf86cd799439011", session.Token)
			},
			status: http.StatusNotFound,
		},
		{
			name: "malformed room id",
			call: func() error {
				_, err := f.api.Messages(f.ctx, "general", session.Token)
				return err
			},
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			var apiErr *apiclient.Error
			require.ErrorAs(t, tc.call(), &apiErr)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

func TestHub_RejectsUnauthenticated(t *testing.T) {
	f := setUp(t)

	_, err := ws.Dial(f.ctx, f.wsURL(), "")
	assert.ErrorIs(t, err, ws.ErrUnauthenticated)

	_, err = ws.Dial(f.ctx, f.wsURL(), "forged")
	assert.ErrorIs(t, err, ws.ErrUnauthenticated)
}

func TestHub_RoomEvents(t *testing.T) {
	f := setUp(t)
	alice := f.login("alice")
	bob := f.login("bob")
	room, err := f.api.CreateRoom(f.ctx, "general", alice.Token)
	require.NoError(t, err)

	aliceConn, aliceEvents := f.dial(alice.Token)
	bobConn, bobEvents := f.dial(bob.Token)

	var online core.UserOnlineEvent
	expect(t, aliceEvents, core.EventUserOnline, &online)
	assert.Equal(t, bob.User.ID, online.UserID)
	assert.Empty(t, online.RoomID)

	require.NoError(t, aliceConn.Emit(core.EventJoinRoom, core.RoomPayload{RoomID: room.ID}))
	var presence core.PresenceEvent
	expect(t, aliceEvents, core.EventPresence, &presence)
	assert.Equal(t, room.ID, presence.RoomID)
	assert.Equal(t, []core.PresenceUser{{UserID: alice.User.ID, Username: "alice"}}, presence.Users)

	require.NoError(t, bobConn.Emit(core.EventJoinRoom, core.RoomPayload{RoomID: strings.ToUpper(room.ID)}))
	expect(t, aliceEvents, core.EventUserOnline, &online)
	assert.Equal(t, room.ID, online.RoomID)
	assert.Equal(t, "bob", online.Username)
	expect(t, bobEvents, core.EventPresence, &presence)
	assert.Len(t, presence.Users, 2)

	require.NoError(t, bobConn.Emit(core.EventTyping, core.TypingPayload{RoomID: room.ID, IsTyping: true}))
	var typing core.TypingEvent
	expect(t, aliceEvents, core.EventTyping, &typing)
	assert.Equal(t, core.TypingEvent{RoomID: room.ID, UserID: bob.User.ID, Username: "bob", IsTyping: true}, typing)

	require.NoError(t, bobConn.Emit(core.EventChatMessage, core.ChatMessagePayload{RoomID: room.ID, Content: "hello"}))
	var msg core.Message
	expect(t, aliceEvents, core.EventChatMessage, &msg)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, room.ID, msg.RoomID)
	expect(t, bobEvents, core.EventChatMessage, &msg)
	assert.Equal(t, bob.User.ID, msg.Sender.ID)

	require.NoError(t, bobConn.Emit(core.EventLeaveRoom, core.RoomPayload{RoomID: room.ID}))
	var offline core.UserOfflineEvent
	expect(t, aliceEvents, core.EventUserOffline, &offline)
	assert.Equal(t, core.UserOfflineEvent{RoomID: room.ID, UserID: bob.User.ID}, offline)

	require.NoError(t, bobConn.Close())
	expect(t, aliceEvents, core.EventUserOffline, &offline)
	assert.Equal(t, core.UserOfflineEvent{UserID: bob.User.ID}, offline)
}

func TestHub_RequestSendIsPushed(t *testing.T) {
	f := setUp(t)
	alice := f.login("alice")
	room, err := f.api.CreateRoom(f.ctx, "general", alice.Token)
	require.NoError(t, err)

	conn, events := f.dial(alice.Token)
	require.NoError(t, conn.Emit(core.EventJoinRoom, core.RoomPayload{RoomID: room.ID}))
	var presence core.PresenceEvent
	expect(t, events, core.EventPresence, &presence)

	_, err = f.api.SendMessage(f.ctx, room.ID, alice.Token, "over http")
	require.NoError(t, err)

	var msg core.Message
	expect(t, events, core.EventChatMessage, &msg)
	assert.Equal(t, "over http", msg.Content)
}
