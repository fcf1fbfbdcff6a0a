package database

import "time"

type Repository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(id string) (User, error)
	GetAccountByEmail(email string) (User, error)
	SearchAccounts(query string, limit int) ([]User, error)
	ListFriends(userId string) ([]User, error)
	AreFriends(userId, otherId string) (bool, error)
	CreateFriendRequest(params CreateFriendRequestParams) (FriendRequest, error)
	GetFriendRequest(id string) (FriendRequest, error)
	ListFriendRequests(userId string) ([]FriendRequest, error)
	UpdateFriendRequest(id, status string) (FriendRequest, error)
	CreateInvitation(params CreateInvitationParams) (Invitation, error)
	CreateNotification(params CreateNotificationParams) (Notification, error)
	ListNotifications(userId string) ([]Notification, error)
	DeleteNotification(userId, id string) error
	GetBook(id string) (Book, error)
	GetPages(bookId string, offset, limit int) ([]Page, error)
	CreateMessage(msg Message) error
	GetMessages(conversationId, viewerId string, before time.Time, limit int) ([]Message, error)
}
