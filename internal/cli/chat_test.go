package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/putto11262002/chatline/app"
	"github.com/putto11262002/chatline/core"
	"github.com/putto11262002/chatline/internal/devserver"
	"github.com/putto11262002/chatline/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the render goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func setUpApp(t *testing.T) (*app.App, context.Context) {
	server, err := devserver.New()
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Hub().Close()
		ts.Close()
	})

	var config app.Config
	config.Server.URL = ts.URL
	config.Credential.Store = app.CredentialStoreMemory
	config.Request.Timeout = 5 * time.Second
	config.Serve.Port = 4000

	ctx := context.Background()
	a, err := app.New(ctx, &config, app.WithLogger(logger.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	_, err = a.Register(ctx, "alice", "password")
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	return a, ctx
}

func TestREPL_Commands(t *testing.T) {
	a, ctx := setUpApp(t)
	var out syncBuffer
	r := newREPL(a, strings.NewReader(""), &out)

	require.NoError(t, r.exec(ctx, "/create \"team chat\""))
	assert.Contains(t, out.String(), "Created team chat")

	require.NoError(t, r.exec(ctx, "/rooms"))
	assert.Contains(t, out.String(), "team chat")

	require.NoError(t, r.exec(ctx, "/join #1"))
	assert.Contains(t, out.String(), "Joined team chat.")
	assert.Equal(t, core.Active, a.Session().State())

	require.NoError(t, r.exec(ctx, "/draft hel"))
	assert.True(t, a.Session().Typing())
	require.NoError(t, r.exec(ctx, "hello there"))
	assert.False(t, a.Session().Typing())

	require.Eventually(t, func() bool {
		return len(a.Session().Snapshot().Messages) == 1
	}, 2*time.Second, 10*time.Millisecond)
	r.draw(a.Session().Snapshot())
	assert.Contains(t, out.String(), "alice: hello there")

	require.NoError(t, r.exec(ctx, "/who"))
	assert.Contains(t, out.String(), "online")

	require.NoError(t, r.exec(ctx, "/leave"))
	assert.Equal(t, core.Idle, a.Session().State())
	assert.ErrorIs(t, r.exec(ctx, "/leave"), core.ErrNotInRoom)
	assert.ErrorIs(t, r.exec(ctx, "hello again"), core.ErrNotInRoom)
	assert.ErrorIs(t, r.exec(ctx, "/http hello again"), core.ErrNotInRoom)

	assert.ErrorIs(t, r.exec(ctx, "/quit"), errQuit)
	assert.Error(t, r.exec(ctx, "/dance"))
	assert.ErrorIs(t, r.exec(ctx, "/join nope"), core.ErrInvalidIdentifier)
}

func TestREPL_Run(t *testing.T) {
	a, ctx := setUpApp(t)
	room, err := a.CreateRoom(ctx, "general")
	require.NoError(t, err)

	var out syncBuffer
	in := strings.NewReader("/join " + room.ID + "\n/http via request\n/quit\n")
	r := newREPL(a, in, &out)

	require.NoError(t, r.run(ctx))
	assert.Contains(t, out.String(), "Signed in as alice.")
	assert.Contains(t, out.String(), "Joined general.")
}
