package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/database"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
)

const (
	defaultPageLimit    = 20
	maxPageLimit        = 100
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func toBook(b database.Book) types.Book {
	return types.Book{
		Id:         b.Id,
		Title:      b.Title,
		Author:     b.Author,
		CoverURL:   b.CoverURL,
		TotalPages: b.TotalPages,
		Status:     b.Status,
	}
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string, def, max int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || (max > 0 && n > max) {
		return 0, false
	}
	return n, true
}

func (s *PagePulseApp) getBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.db.GetBook(r.PathValue("id"))
	if err != nil {
		s.writeError(w, dbError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toBook(book))
}

func (s *PagePulseApp) getPages(w http.ResponseWriter, r *http.Request) {
	offset, ok := intParam(r, "offset", 0, 0)
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}
	limit, ok := intParam(r, "limit", defaultPageLimit, maxPageLimit)
	if !ok || limit == 0 {
		s.writeError(w, NewBadRequestError())
		return
	}

	book, err := s.db.GetBook(r.PathValue("id"))
	if err != nil {
		s.writeError(w, dbError(err))
		return
	}

	batch := types.PageBatch{TotalPages: book.TotalPages, Pages: []types.Page{}}
	if book.Status == types.BookProcessing {
		batch.Status = types.BookProcessing
		batch.Message = book.StatusMessage
		s.writeJson(w, http.StatusOK, batch)
		return
	}

	pages, err := s.db.GetPages(book.Id, offset, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	for _, p := range pages {
		batch.Pages = append(batch.Pages, types.Page{Index: p.Index, HTML: p.HTML})
	}
	s.writeJson(w, http.StatusOK, batch)
}

func (s *PagePulseApp) getIngestionStatus(w http.ResponseWriter, r *http.Request) {
	book, err := s.db.GetBook(r.PathValue("id"))
	if err != nil {
		s.writeError(w, dbError(err))
		return
	}

	s.writeJson(w, http.StatusOK, types.IngestionStatus{
		Status:     book.Status,
		Message:    book.StatusMessage,
		Error:      book.Error,
		TotalPages: book.TotalPages,
	})
}

func (s *PagePulseApp) getBookMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	book, err := s.db.GetBook(r.PathValue("id"))
	if err != nil {
		s.writeError(w, dbError(err))
		return
	}

	page, errResp := s.history(r, protocol.RoomConversationId(book.Id), userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, page)
}

func (s *PagePulseApp) getConversationMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	conversationId := r.PathValue("id")
	a, b, ok := protocol.Participants(conversationId)
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}
	if userId != a && userId != b {
		s.writeError(w, NewForbiddenError())
		return
	}

	page, errResp := s.history(r, protocol.DirectConversationId(a, b), userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, page)
}

// history loads one page of a conversation as seen by viewerId, ending before
// the "before" query parameter, oldest message first. One extra row is read
// to learn whether older messages remain.
func (s *PagePulseApp) history(r *http.Request, conversationId, viewerId string) (types.MessagePage, *ApiError) {
	limit, ok := intParam(r, "limit", defaultHistoryLimit, maxHistoryLimit)
	if !ok || limit == 0 {
		return types.MessagePage{}, NewBadRequestError()
	}

	var before time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return types.MessagePage{}, NewBadRequestError()
		}
		before = t
	}

	rows, err := s.db.GetMessages(conversationId, viewerId, before, limit+1)
	if err != nil {
		return types.MessagePage{}, NewInternalServerError(err)
	}

	page := types.MessagePage{Messages: make([]types.Message, 0, limit)}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}

	for i := len(rows) - 1; i >= 0; i-- {
		m := rows[i]
		page.Messages = append(page.Messages, types.Message{
			Id:             m.Id,
			ConversationId: m.ConversationId,
			Sender: types.Profile{
				Id:       m.SenderId,
				Username: m.SenderUsername,
				Avatar:   m.SenderAvatar,
			},
			Content:     m.Content,
			FriendsOnly: m.FriendsOnly,
			ClientId:    m.ClientId,
			SentAt:      m.CreatedAt,
		})
	}

	return page, nil
}
