package database

import "time"

type User struct {
	Id           string
	Username     string
	Avatar       string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

type FriendRequest struct {
	Id           string
	FromId       string
	FromUsername string
	ToId         string
	ToUsername   string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Invitation struct {
	Code      string
	BookId    string
	FromId    string
	ToId      string
	CreatedAt time.Time
}

type Notification struct {
	Id        string
	UserId    string
	Kind      string
	Message   string
	CreatedAt time.Time
}

type Book struct {
	Id            string
	Title         string
	Author        string
	CoverURL      string
	TotalPages    int
	Status        string
	StatusMessage string
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Page struct {
	BookId string
	Index  int
	HTML   string
}

type Message struct {
	Id             string
	ConversationId string
	SenderId       string
	SenderUsername string
	SenderAvatar   string
	Content        string
	FriendsOnly    bool
	ClientId       string
	CreatedAt      time.Time
}

type CreateAccountParams struct {
	Id           string
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateFriendRequestParams struct {
	Id     string
	FromId string
	ToId   string
}

type CreateInvitationParams struct {
	Code   string
	BookId string
	FromId string
	ToId   string
}

type CreateNotificationParams struct {
	Id      string
	UserId  string
	Kind    string
	Message string
}
