package devserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/putto11262002/chatline/core"
	"github.com/putto11262002/chatline/pkg/router"
)

type userKey struct{}

func contextWithUser(ctx context.Context, u core.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromRequest extracts the authenticated user from the request context.
// It panics when called outside a handler protected by the auth middleware.
func UserFromRequest(r *http.Request) core.User {
	u, ok := r.Context().Value(userKey{}).(core.User)
	if !ok {
		panic("user not found in request context: call this function in handlers that are protected by authMiddleware")
	}
	return u
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// authenticate resolves the bearer token of r to a known user.
func (s *Server) authenticate(r *http.Request) (core.User, bool) {
	token := bearerToken(r)
	if token == "" {
		return core.User{}, false
	}
	claims, err := VerifyToken(token, s.secret)
	if err != nil {
		return core.User{}, false
	}
	u, err := s.store.User(claims.Subject)
	if err != nil {
		return core.User{}, false
	}
	return u, true
}

// authMiddleware rejects requests without a valid bearer token and attaches
// the user to the request context.
func (s *Server) authMiddleware(next http.Handler) router.HandlerFunc {
	authErr := router.NewError(http.StatusUnauthorized, "unauthenticated")

	return func(w http.ResponseWriter, r *http.Request) error {
		u, ok := s.authenticate(r)
		if !ok {
			return authErr
		}
		next.ServeHTTP(w, r.WithContext(contextWithUser(r.Context(), u)))
		return nil
	}
}
