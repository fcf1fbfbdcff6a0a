package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/database"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/server"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"github.com/gorilla/websocket"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *PagePulseApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *PagePulseApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil {
		s.log.Println(errResp.Error())
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func toUser(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		Avatar:       u.Avatar,
		EmailAddress: u.EmailAddress,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// toPublicUser strips fields only the account owner may see.
func toPublicUser(u database.User) types.User {
	return types.User{Id: u.Id, Username: u.Username, Avatar: u.Avatar}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func (s *PagePulseApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *PagePulseApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	id, err := s.generateShortId()
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newUser, err := s.db.CreateAccount(database.CreateAccountParams{
		Id:           id,
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		if isUniqueViolation(err) {
			s.writeError(w, NewConflictError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	u := toUser(newUser)
	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if s.stats != nil {
		s.stats.Incr(metricRegistrations)
	}
	s.notify(u.Id, protocol.KindWelcome, "Welcome to PagePulse, "+u.Username+"!")

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))
	s.writeJson(w, http.StatusCreated, types.AuthResponse{User: u, Token: token})
}

func (s *PagePulseApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		s.writeError(w, dbError(err))
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	u := toUser(dbUser)
	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))
	s.writeJson(w, http.StatusOK, types.AuthResponse{User: u, Token: token})
}

func (s *PagePulseApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		s.writeError(w, dbError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toUser(user))
}

func (s *PagePulseApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one
	http.SetCookie(w, createJwtCookie("", -defaultJwtExpiration))
	w.WriteHeader(http.StatusNoContent)
}

// notify persists a notification for userId and pushes it to any of the
// user's live sessions.
func (s *PagePulseApp) notify(userId, kind, message string) {
	id, err := s.generateShortId()
	if err != nil {
		s.log.Println("generate notification id:", err)
		return
	}

	if _, err := s.db.CreateNotification(database.CreateNotificationParams{
		Id:      id,
		UserId:  userId,
		Kind:    kind,
		Message: message,
	}); err != nil {
		s.log.Println("CreateNotification:", err)
		return
	}

	if s.cs != nil {
		s.cs.Notify(userId, protocol.Notification{Type: kind, Message: message})
	}
}

func (s *PagePulseApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		s.writeError(w, dbError(err))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients send no origin
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(toPublicUser(user), conn, s.cs, s.log)
	s.cs.RegisterClient(client)

	go client.Write()
	go client.Read()
}
