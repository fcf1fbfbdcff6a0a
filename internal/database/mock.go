package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(id string) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) SearchAccounts(query string, limit int) ([]User, error) {
	args := m.Called(query, limit)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockRepository) ListFriends(userId string) ([]User, error) {
	args := m.Called(userId)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockRepository) AreFriends(userId, otherId string) (bool, error) {
	args := m.Called(userId, otherId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) CreateFriendRequest(params CreateFriendRequestParams) (FriendRequest, error) {
	args := m.Called(params)
	return args.Get(0).(FriendRequest), args.Error(1)
}
func (m *MockRepository) GetFriendRequest(id string) (FriendRequest, error) {
	args := m.Called(id)
	return args.Get(0).(FriendRequest), args.Error(1)
}
func (m *MockRepository) ListFriendRequests(userId string) ([]FriendRequest, error) {
	args := m.Called(userId)
	return args.Get(0).([]FriendRequest), args.Error(1)
}
func (m *MockRepository) UpdateFriendRequest(id, status string) (FriendRequest, error) {
	args := m.Called(id, status)
	return args.Get(0).(FriendRequest), args.Error(1)
}
func (m *MockRepository) CreateInvitation(params CreateInvitationParams) (Invitation, error) {
	args := m.Called(params)
	return args.Get(0).(Invitation), args.Error(1)
}
func (m *MockRepository) CreateNotification(params CreateNotificationParams) (Notification, error) {
	args := m.Called(params)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockRepository) ListNotifications(userId string) ([]Notification, error) {
	args := m.Called(userId)
	return args.Get(0).([]Notification), args.Error(1)
}
func (m *MockRepository) DeleteNotification(userId, id string) error {
	args := m.Called(userId, id)
	return args.Error(0)
}
func (m *MockRepository) GetBook(id string) (Book, error) {
	args := m.Called(id)
	return args.Get(0).(Book), args.Error(1)
}
func (m *MockRepository) GetPages(bookId string, offset, limit int) ([]Page, error) {
	args := m.Called(bookId, offset, limit)
	return args.Get(0).([]Page), args.Error(1)
}
func (m *MockRepository) CreateMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockRepository) GetMessages(conversationId, viewerId string, before time.Time, limit int) ([]Message, error) {
	args := m.Called(conversationId, viewerId, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
