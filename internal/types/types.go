package types

import (
	"time"
)

// DefaultAvatar is shown for users whose profile could not be resolved.
const DefaultAvatar = "/static/default-avatar.png"

type User struct {
	Id           string    `json:"id"`
	Username     string    `json:"username"`
	Avatar       string    `json:"avatar,omitempty"`
	EmailAddress string    `json:"email_address,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Profile is the display identity of a user.
type Profile struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func (u User) Profile() Profile {
	return Profile{Id: u.Id, Username: u.Username, Avatar: u.Avatar}
}

// FallbackProfile is used when a user id cannot be resolved.
func FallbackProfile(id string) Profile {
	return Profile{Id: id, Username: id, Avatar: DefaultAvatar}
}

// Session is the authenticated identity driving realtime operations.
type Session struct {
	UserId   string    `json:"user_id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar,omitempty"`
	Token    string    `json:"token"`
	Expires  time.Time `json:"expires,omitempty"`
}

func (s Session) Profile() Profile {
	return Profile{Id: s.UserId, Username: s.Username, Avatar: s.Avatar}
}

type AuthResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

type FriendRequest struct {
	Id        string    `json:"id"`
	From      User      `json:"from"`
	To        User      `json:"to"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Invitation struct {
	Code   string `json:"code"`
	BookId string `json:"book_id"`
	To     string `json:"to"`
}

type Notification struct {
	Id        string    `json:"id"`
	Kind      string    `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	BookProcessing = "processing"
	BookComplete   = "complete"
	BookFailed     = "failed"
)

type Book struct {
	Id         string `json:"id"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	CoverURL   string `json:"cover_url,omitempty"`
	TotalPages int    `json:"total_pages"`
	Status     string `json:"status"`
}

type Page struct {
	Index int    `json:"index"`
	HTML  string `json:"html"`
}

// PageBatch is one fixed-size run of pages. Status is set to "processing"
// while the book's content is still being ingested.
type PageBatch struct {
	TotalPages int    `json:"total_pages"`
	Pages      []Page `json:"pages"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
}

type IngestionStatus struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	TotalPages int    `json:"total_pages,omitempty"`
}

// Message is a persisted chat message as served by the history endpoints.
type Message struct {
	Id             string    `json:"id"`
	ConversationId string    `json:"conversation_id"`
	Sender         Profile   `json:"sender"`
	Content        string    `json:"content"`
	FriendsOnly    bool      `json:"friends_only,omitempty"`
	ClientId       string    `json:"client_id,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}
