package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/database"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

type FriendRequestRequest struct {
	UserId string `json:"userId"`
}

type InvitationRequest struct {
	UserId string `json:"userId"`
	BookId string `json:"bookId"`
}

func toFriendRequest(fr database.FriendRequest) types.FriendRequest {
	return types.FriendRequest{
		Id:        fr.Id,
		From:      types.User{Id: fr.FromId, Username: fr.FromUsername},
		To:        types.User{Id: fr.ToId, Username: fr.ToUsername},
		Status:    fr.Status,
		CreatedAt: fr.CreatedAt,
	}
}

func (s *PagePulseApp) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.db.GetAccountById(r.PathValue("id"))
	if err != nil {
		s.writeError(w, dbError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toPublicUser(user))
}

func (s *PagePulseApp) searchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	limit := defaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxSearchLimit {
			s.writeError(w, NewBadRequestError())
			return
		}
		limit = n
	}

	users, err := s.db.SearchAccounts(q, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	res := make([]types.User, len(users))
	for i, u := range users {
		res[i] = toPublicUser(u)
	}
	s.writeJson(w, http.StatusOK, res)
}

func (s *PagePulseApp) listFriends(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	friends, err := s.db.ListFriends(userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	res := make([]types.User, len(friends))
	for i, u := range friends {
		res[i] = toPublicUser(u)
	}
	s.writeJson(w, http.StatusOK, res)
}

func (s *PagePulseApp) listFriendRequests(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	requests, err := s.db.ListFriendRequests(userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	res := make([]types.FriendRequest, len(requests))
	for i, fr := range requests {
		res[i] = toFriendRequest(fr)
	}
	s.writeJson(w, http.StatusOK, res)
}

func (s *PagePulseApp) createFriendRequest(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req FriendRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == "" || req.UserId == userId {
		s.writeError(w, NewBadRequestError())
		return
	}

	if _, err := s.db.GetAccountById(req.UserId); err != nil {
		s.writeError(w, dbError(err))
		return
	}

	friends, err := s.db.AreFriends(userId, req.UserId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	if friends {
		s.writeError(w, NewConflictError())
		return
	}

	id, err := s.generateShortId()
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	fr, err := s.db.CreateFriendRequest(database.CreateFriendRequestParams{
		Id:     id,
		FromId: userId,
		ToId:   req.UserId,
	})
	if err != nil {
		if isUniqueViolation(err) {
			s.writeError(w, NewConflictError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.notify(fr.ToId, protocol.KindFriendRequested, fmt.Sprintf("%s sent you a friend request", fr.FromUsername))
	s.writeJson(w, http.StatusCreated, toFriendRequest(fr))
}

func (s *PagePulseApp) acceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	s.answerFriendRequest(w, r, database.RequestAccepted)
}

func (s *PagePulseApp) rejectFriendRequest(w http.ResponseWriter, r *http.Request) {
	s.answerFriendRequest(w, r, database.RequestRejected)
}

// answerFriendRequest settles a pending request addressed to the caller.
func (s *PagePulseApp) answerFriendRequest(w http.ResponseWriter, r *http.Request, status string) {
	userId, _ := UserId(r.Context())

	fr, err := s.db.GetFriendRequest(r.PathValue("id"))
	if err != nil {
		s.writeError(w, dbError(err))
		return
	}
	if fr.ToId != userId {
		s.writeError(w, NewForbiddenError())
		return
	}
	if fr.Status != database.RequestPending {
		s.writeError(w, NewConflictError())
		return
	}

	updated, err := s.db.UpdateFriendRequest(fr.Id, status)
	if err != nil {
		s.writeError(w, dbError(err))
		return
	}

	if status == database.RequestAccepted {
		s.notify(updated.FromId, protocol.KindFriendAccepted, fmt.Sprintf("%s accepted your friend request", updated.ToUsername))
	}
	s.writeJson(w, http.StatusOK, toFriendRequest(updated))
}

func (s *PagePulseApp) createInvitation(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req InvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == "" || req.BookId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	book, err := s.db.GetBook(req.BookId)
	if err != nil {
		s.writeError(w, dbError(err))
		return
	}

	friends, err := s.db.AreFriends(userId, req.UserId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	if !friends {
		s.writeError(w, NewForbiddenError())
		return
	}

	sender, err := s.db.GetAccountById(userId)
	if err != nil {
		s.writeError(w, dbError(err))
		return
	}

	code, err := s.generateShortId()
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	inv, err := s.db.CreateInvitation(database.CreateInvitationParams{
		Code:   code,
		BookId: book.Id,
		FromId: userId,
		ToId:   req.UserId,
	})
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.notify(req.UserId, protocol.KindInvitation, fmt.Sprintf("%s invited you to read %s", sender.Username, book.Title))
	s.writeJson(w, http.StatusCreated, types.Invitation{Code: inv.Code, BookId: inv.BookId, To: inv.ToId})
}

func (s *PagePulseApp) listNotifications(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	notifications, err := s.db.ListNotifications(userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	res := make([]types.Notification, len(notifications))
	for i, n := range notifications {
		res[i] = types.Notification{Id: n.Id, Kind: n.Kind, Message: n.Message, CreatedAt: n.CreatedAt}
	}
	s.writeJson(w, http.StatusOK, res)
}

func (s *PagePulseApp) deleteNotification(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	if err := s.db.DeleteNotification(userId, r.PathValue("id")); err != nil {
		s.writeError(w, dbError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
