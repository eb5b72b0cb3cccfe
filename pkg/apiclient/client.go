package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/putto11262002/chatline/core"
	"github.com/putto11262002/chatline/pkg/validate"
)

var (
	// ErrInvalidRequest is returned before any network call when a request
	// body fails validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEmptyResponse is returned by single value endpoints that answer
	// without data.
	ErrEmptyResponse = errors.New("empty response")
)

type Credentials struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type CreateRoomRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type SendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// Session is the data of a successful login.
type Session struct {
	Token string    `json:"token"`
	User  core.User `json:"user"`
}

// Client is the request/response side of the chat server API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.http = c
	}
}

func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.http.Timeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register creates an account. The user is nil when the server accepted the
// registration without echoing it.
func (c *Client) Register(ctx context.Context, username, password string) (*core.User, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/auth/register", "", &Credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	var u core.User
	ok, err := env.First(&u)
	if err != nil || !ok {
		return nil, err
	}
	return &u, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/auth/login", "", &Credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	var s Session
	if err := first(env, &s); err != nil {
		return nil, err
	}
	if s.Token == "" {
		return nil, fmt.Errorf("login: %w", ErrEmptyResponse)
	}
	return &s, nil
}

func (c *Client) Me(ctx context.Context, token string) (*core.User, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/users/me", token, nil)
	if err != nil {
		return nil, err
	}
	var u core.User
	if err := first(env, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) Rooms(ctx context.Context, token string) ([]core.Room, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/rooms", token, nil)
	if err != nil {
		return nil, err
	}
	return All[core.Room](env)
}

func (c *Client) CreateRoom(ctx context.Context, name, token string) (*core.Room, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/rooms", token, &CreateRoomRequest{Name: name})
	if err != nil {
		return nil, err
	}
	var r core.Room
	if err := first(env, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID, token string) error {
	_, err := c.do(ctx, http.MethodPost, roomPath(roomID, "join"), token, nil)
	return err
}

// Messages returns the room history newest first.
func (c *Client) Messages(ctx context.Context, roomID, token string) ([]core.Message, error) {
	env, err := c.do(ctx, http.MethodGet, roomPath(roomID, "messages"), token, nil)
	if err != nil {
		return nil, err
	}
	return All[core.Message](env)
}

func (c *Client) SendMessage(ctx context.Context, roomID, token, content string) (*core.Message, error) {
	env, err := c.do(ctx, http.MethodPost, roomPath(roomID, "messages"), token, &SendMessageRequest{Content: content})
	if err != nil {
		return nil, err
	}
	var m core.Message
	ok, err := env.First(&m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func roomPath(roomID, action string) string {
	return "/api/rooms/" + url.PathEscape(roomID) + "/" + action
}

func first(env *Envelope, v any) error {
	ok, err := env.First(v)
	if err != nil {
		return err
	}
	if !ok {
		return ErrEmptyResponse
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body any) (*Envelope, error) {
	var reqBody io.Reader
	if body != nil {
		if err := validate.Struct(body); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	env, err := ReadEnvelope(res.StatusCode, b)
	c.logger.Debug("request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", env.Status),
		slog.Duration("took", time.Since(start)))
	if err != nil {
		return nil, err
	}
	return env, nil
}
