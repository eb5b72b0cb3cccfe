// Package devserver is a small in-memory chat server speaking the same
// request and push protocol as the production backend. It backs the
// integration tests and the serve command.
package devserver

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/putto11262002/chatline/pkg/logger"
	"github.com/putto11262002/chatline/pkg/router"
)

// https://github.com/ssllabs/research/wiki/ssl-and-tls-deployment-best-practices
var defaultTLSConfig = tls.Config{
	MinVersion: tls.VersionTLS12,
	CurvePreferences: []tls.CurveID{
		tls.CurveP521,
		tls.CurveP384,
		tls.CurveP256,
	},
}

type Server struct {
	store          *Store
	hub            *Hub
	router         *router.Router
	secret         []byte
	tokenExp       time.Duration
	allowedOrigins []string
	logger         *slog.Logger
}

type Option func(*Server)

func WithSecret(secret []byte) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

func WithTokenExp(exp time.Duration) Option {
	return func(s *Server) {
		s.tokenExp = exp
	}
}

func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func New(opts ...Option) (*Server, error) {
	s := &Server{
		store:          NewStore(),
		tokenExp:       24 * time.Hour,
		allowedOrigins: []string{"*"},
		logger:         logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.secret) == 0 {
		s.secret = make([]byte, 32)
		if _, err := rand.Read(s.secret); err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
	}
	s.hub = NewHub(s.store, s.logger.WithGroup("hub"))
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := router.New(router.WithLogger(s.logger.WithGroup("http")))

	r.RegisterErrorMapper(ErrConflictedUser, statusMapper(http.StatusConflict))
	r.RegisterErrorMapper(ErrBadCredentials, statusMapper(http.StatusUnauthorized))
	r.RegisterErrorMapper(ErrUserNotFound, statusMapper(http.StatusNotFound))
	r.RegisterErrorMapper(ErrRoomNotFound, statusMapper(http.StatusNotFound))
	r.RegisterErrorMapper(ErrNotMember, statusMapper(http.StatusForbidden))

	r.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.With(s.authMiddleware).Get("/ws", func(w http.ResponseWriter, r *http.Request) error {
		return s.hub.Connect(UserFromRequest(r), w, r)
	})

	r.Route("/api", func(r *router.Router) {
		r.Post("/auth/register", s.registerHandler)
		r.Post("/auth/login", s.loginHandler)
		r.Get("/rooms", s.roomsHandler)

		r.Group(func(r *router.Router) {
			r.Use(s.authMiddleware)
			r.Get("/users/me", s.meHandler)
			r.Post("/rooms", s.createRoomHandler)
			r.Post("/rooms/{roomID}/join", s.joinRoomHandler)
			r.Get("/rooms/{roomID}/messages", s.messagesHandler)
			r.Post("/rooms/{roomID}/messages", s.sendMessageHandler)
		})
	})

	s.router = r
}

func statusMapper(code int) router.ErrorMapper {
	return func(err error) router.Error {
		return router.NewError(code, err.Error())
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Store() *Store {
	return s.store
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. TLS is used when both certFile and keyFile are set.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
	}
	useTLS := certFile != "" && keyFile != ""
	if useTLS {
		srv.TLSConfig = defaultTLSConfig.Clone()
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info(fmt.Sprintf("listening on %s", addr), slog.Bool("tls", useTLS))
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errs <- err
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(closeCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server shutdown gracefully")
	return nil
}
