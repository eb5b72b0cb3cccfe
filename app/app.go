package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/putto11262002/chatline/core"
	"github.com/putto11262002/chatline/pkg/apiclient"
	"github.com/putto11262002/chatline/pkg/logger"
	"github.com/putto11262002/chatline/pkg/ws"
	"github.com/putto11262002/chatline/store"
	"golang.org/x/sync/errgroup"
)

// App owns the credential, the API clients and the room session of one
// signed in user. Any authentication failure, and any loss of the push
// channel, tears the whole session down and clears the credential.
type App struct {
	config *Config
	logger *slog.Logger
	creds  *core.CredentialHolder
	api    *apiclient.Client

	mu         sync.Mutex
	conn       *ws.Conn
	session    *core.Session
	user       *core.User
	rooms      []core.Room
	onTeardown []func(error)

	cleanupFuncs []func() error
}

type Option func(*App)

func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		a.logger = l
	}
}

// WithCredentialStore replaces the store selected by the configuration.
func WithCredentialStore(s core.CredentialStore) Option {
	return func(a *App) {
		a.creds = core.NewCredentialHolder(s)
	}
}

func New(ctx context.Context, config *Config, opts ...Option) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	a := &App{config: config}
	for _, opt := range opts {
		opt(a)
	}

	if a.logger == nil {
		l, err := logger.New(logger.Options{Level: config.Log.Level, Format: config.Log.Format})
		if err != nil {
			return nil, err
		}
		a.logger = l
	}

	if a.creds == nil {
		credStore, err := a.openCredentialStore()
		if err != nil {
			return nil, err
		}
		a.creds = core.NewCredentialHolder(credStore)
	}
	if err := a.creds.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load credential: %w", err)
	}

	a.api = apiclient.New(config.Server.URL,
		apiclient.WithTimeout(config.Request.Timeout),
		apiclient.WithLogger(a.logger.WithGroup("api")))
	return a, nil
}

func (a *App) openCredentialStore() (core.CredentialStore, error) {
	switch a.config.Credential.Store {
	case CredentialStoreSQLite:
		if err := os.MkdirAll(filepath.Dir(a.config.Credential.File), 0o700); err != nil {
			return nil, fmt.Errorf("create credential dir: %w", err)
		}
		s, db, err := store.OpenSQLiteCredentialStore(a.config.Credential.File)
		if err != nil {
			return nil, fmt.Errorf("open credential store: %w", err)
		}
		a.AddCleanupFunc(db.Close)
		return s, nil
	default:
		return &core.MemoryCredentialStore{}, nil
	}
}

func (a *App) AddCleanupFunc(f func() error) {
	a.cleanupFuncs = append(a.cleanupFuncs, f)
}

// OnTeardown registers f to be called after a forced teardown with the
// error that caused it.
func (a *App) OnTeardown(f func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onTeardown = append(a.onTeardown, f)
}

func (a *App) Credentials() *core.CredentialHolder {
	return a.creds
}

func (a *App) API() *apiclient.Client {
	return a.api
}

// Register creates the account and signs in with it.
func (a *App) Register(ctx context.Context, username, password string) (*core.User, error) {
	if _, err := a.api.Register(ctx, username, password); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return a.Login(ctx, username, password)
}

// Login stores the credential issued for username.
func (a *App) Login(ctx context.Context, username, password string) (*core.User, error) {
	s, err := a.api.Login(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if err := a.creds.Set(ctx, s.Token); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	a.mu.Lock()
	a.user = &s.User
	a.mu.Unlock()
	a.logger.Info("logged in", slog.String("user", s.User.Username))
	return &s.User, nil
}

// Start loads the user and the room list, then opens the push channel and
// creates the room session. Any failure after the credential check tears the
// app down and clears the credential.
func (a *App) Start(ctx context.Context) error {
	if a.Session() != nil {
		return nil
	}
	if !a.creds.Present() {
		return core.ErrNoCredential
	}
	if a.creds.Expired(time.Now()) {
		err := fmt.Errorf("%w: credential expired", core.ErrAuth)
		a.teardown(err)
		return err
	}
	token := a.creds.Token()

	var (
		me    *core.User
		rooms []core.Room
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := a.api.Me(gctx, token)
		if err != nil {
			return fmt.Errorf("fetch user: %w", err)
		}
		me = u
		return nil
	})
	g.Go(func() error {
		r, err := a.api.Rooms(gctx, token)
		if err != nil {
			return fmt.Errorf("fetch rooms: %w", err)
		}
		rooms = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return a.authFailed(err)
	}

	pushURL, err := a.config.PushURL()
	if err != nil {
		return a.authFailed(err)
	}
	conn, err := ws.Dial(ctx, pushURL, token, ws.WithLogger(a.logger.WithGroup("ws")))
	if err != nil {
		return a.authFailed(err)
	}

	session := core.NewSession(conn, a.api, a.creds,
		core.WithLogger(a.logger.WithGroup("session")),
		core.WithAuthFailureHandler(a.teardown))
	conn.OnDisconnect(a.teardown)

	a.mu.Lock()
	a.conn = conn
	a.session = session
	a.user = me
	a.rooms = rooms
	a.mu.Unlock()

	a.logger.Info("session started", slog.String("user", me.Username), slog.Int("rooms", len(rooms)))
	return nil
}

// Session returns the room session, or nil when the app is not started.
func (a *App) Session() *core.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *App) User() *core.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

func (a *App) Rooms() []core.Room {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.rooms)
}

func (a *App) RefreshRooms(ctx context.Context) ([]core.Room, error) {
	rooms, err := a.api.Rooms(ctx, a.creds.Token())
	if err != nil {
		return nil, a.remoteFailed(fmt.Errorf("fetch rooms: %w", err))
	}
	a.mu.Lock()
	a.rooms = rooms
	a.mu.Unlock()
	return slices.Clone(rooms), nil
}

// CreateRoom creates a room and appends it to the room list.
func (a *App) CreateRoom(ctx context.Context, name string) (*core.Room, error) {
	r, err := a.api.CreateRoom(ctx, name, a.creds.Token())
	if err != nil {
		return nil, a.remoteFailed(fmt.Errorf("create room: %w", err))
	}
	a.mu.Lock()
	a.rooms = append(a.rooms, *r)
	a.mu.Unlock()
	return r, nil
}

// remoteFailed tears the session down when err is an authentication
// failure and returns err tagged with core.ErrAuth.
func (a *App) remoteFailed(err error) error {
	if !core.IsAuthFailure(err) {
		return err
	}
	return a.authFailed(err)
}

// authFailed treats err as an authentication failure: it is tagged with
// core.ErrAuth and the app is torn down.
func (a *App) authFailed(err error) error {
	if !errors.Is(err, core.ErrAuth) {
		err = fmt.Errorf("%w: %w", core.ErrAuth, err)
	}
	a.teardown(err)
	return err
}

// Logout leaves the current room, closes the push channel and clears the
// credential.
func (a *App) Logout(ctx context.Context) error {
	a.mu.Lock()
	session, conn := a.session, a.conn
	a.session, a.conn, a.user, a.rooms = nil, nil, nil, nil
	a.mu.Unlock()

	if session != nil {
		session.Close()
	}
	if conn != nil {
		conn.Close()
	}
	if err := a.creds.Clear(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	a.logger.Info("logged out")
	return nil
}

// teardown discards all session state after an authentication failure or a
// lost push channel. It is safe to call more than once.
func (a *App) teardown(cause error) {
	a.mu.Lock()
	session, conn := a.session, a.conn
	a.session, a.conn, a.user, a.rooms = nil, nil, nil, nil
	callbacks := slices.Clone(a.onTeardown)
	a.mu.Unlock()

	if session != nil {
		session.Reset()
	}
	if conn != nil {
		conn.Close()
	}
	if err := a.creds.Clear(context.Background()); err != nil {
		a.logger.Error("clear credential", slog.String("err", err.Error()))
	}
	a.logger.Warn("session torn down", slog.String("cause", fmt.Sprint(cause)))
	for _, f := range callbacks {
		f(cause)
	}
}

// Close releases the session and the local resources. The credential is
// kept for the next run.
func (a *App) Close() error {
	a.mu.Lock()
	session, conn := a.session, a.conn
	a.session, a.conn = nil, nil
	a.mu.Unlock()

	if session != nil {
		session.Close()
	}
	var errs []error
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	for _, f := range a.cleanupFuncs {
		errs = append(errs, f())
	}
	a.cleanupFuncs = nil
	return errors.Join(errs...)
}
