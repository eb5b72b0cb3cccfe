package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/putto11262002/chatline/core"
	"github.com/putto11262002/chatline/pkg/router"
	"github.com/putto11262002/chatline/pkg/validate"
)

type CredentialsPayload struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type CreateRoomPayload struct {
	Name string `json:"name" validate:"required,max=64"`
}

type SendMessagePayload struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      core.User `json:"user"`
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return router.NewError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := validate.Struct(v); err != nil {
		return router.NewError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func roomIDParam(r *http.Request) (string, error) {
	id, err := core.NormalizeRoomID(chi.URLParam(r, "roomID"))
	if err != nil {
		return "", router.NewError(http.StatusBadRequest, "invalid room id")
	}
	return id, nil
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) error {
	var payload CredentialsPayload
	if err := decodeBody(r, &payload); err != nil {
		return err
	}
	u, err := s.store.CreateUser(payload.Username, payload.Password)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return router.WriteJSON(w, http.StatusCreated, "registered", u)
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) error {
	var payload CredentialsPayload
	if err := decodeBody(r, &payload); err != nil {
		return err
	}
	u, err := s.store.Authenticate(payload.Username, payload.Password)
	if err != nil {
		return err
	}
	token, exp, err := NewToken(u, s.tokenExp, s.secret)
	if err != nil {
		return fmt.Errorf("new token: %w", err)
	}
	return router.WriteJSON(w, http.StatusOK, "logged in", LoginResponse{Token: token, ExpiresAt: exp, User: u})
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) error {
	return router.WriteJSON(w, http.StatusOK, "ok", UserFromRequest(r))
}

func (s *Server) roomsHandler(w http.ResponseWriter, r *http.Request) error {
	rooms := s.store.Rooms()
	data := make([]any, 0, len(rooms))
	for _, room := range rooms {
		data = append(data, room)
	}
	return router.WriteJSON(w, http.StatusOK, "ok", data...)
}

func (s *Server) createRoomHandler(w http.ResponseWriter, r *http.Request) error {
	var payload CreateRoomPayload
	if err := decodeBody(r, &payload); err != nil {
		return err
	}
	room := s.store.CreateRoom(payload.Name, UserFromRequest(r).ID)
	return router.WriteJSON(w, http.StatusCreated, "room created", room)
}

func (s *Server) joinRoomHandler(w http.ResponseWriter, r *http.Request) error {
	roomID, err := roomIDParam(r)
	if err != nil {
		return err
	}
	room, err := s.store.JoinRoom(roomID, UserFromRequest(r).ID)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, "joined", room)
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) error {
	roomID, err := roomIDParam(r)
	if err != nil {
		return err
	}
	msgs, err := s.store.Messages(roomID)
	if err != nil {
		return err
	}
	data := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data = append(data, m)
	}
	return router.WriteJSON(w, http.StatusOK, "ok", data...)
}

// sendMessageHandler stores the message and pushes it to everyone in the
// room, the sender included.
func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) error {
	roomID, err := roomIDParam(r)
	if err != nil {
		return err
	}
	var payload SendMessagePayload
	if err := decodeBody(r, &payload); err != nil {
		return err
	}
	m, err := s.store.AddMessage(roomID, UserFromRequest(r), payload.Content)
	if err != nil {
		return err
	}
	s.hub.broadcastToRoom(roomID, core.EventChatMessage, m)
	return router.WriteJSON(w, http.StatusCreated, "sent", m)
}
