package apiclient

import (
	"context"
	"net/http"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
)

func (c *Client) Friends(ctx context.Context) ([]types.User, error) {
	var friends []types.User
	err := c.do(ctx, http.MethodGet, "/api/friends", nil, nil, &friends)
	return friends, err
}

// FriendRequests lists the pending requests sent to the caller.
func (c *Client) FriendRequests(ctx context.Context) ([]types.FriendRequest, error) {
	var requests []types.FriendRequest
	err := c.do(ctx, http.MethodGet, "/api/friends/requests", nil, nil, &requests)
	return requests, err
}

func (c *Client) SendFriendRequest(ctx context.Context, userId string) (types.FriendRequest, error) {
	var fr types.FriendRequest
	err := c.do(ctx, http.MethodPost, "/api/friends/requests", nil, map[string]string{"userId": userId}, &fr)
	return fr, err
}

func (c *Client) AcceptFriendRequest(ctx context.Context, id string) (types.FriendRequest, error) {
	var fr types.FriendRequest
	err := c.do(ctx, http.MethodPost, "/api/friends/requests/"+id+"/accept", nil, nil, &fr)
	return fr, err
}

func (c *Client) RejectFriendRequest(ctx context.Context, id string) (types.FriendRequest, error) {
	var fr types.FriendRequest
	err := c.do(ctx, http.MethodPost, "/api/friends/requests/"+id+"/reject", nil, nil, &fr)
	return fr, err
}

func (c *Client) Invite(ctx context.Context, userId, bookId string) (types.Invitation, error) {
	var inv types.Invitation
	err := c.do(ctx, http.MethodPost, "/api/invitations", nil, map[string]string{
		"userId": userId,
		"bookId": bookId,
	}, &inv)
	return inv, err
}

func (c *Client) Notifications(ctx context.Context) ([]types.Notification, error) {
	var list []types.Notification
	err := c.do(ctx, http.MethodGet, "/api/notifications", nil, nil, &list)
	return list, err
}

func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications/"+id, nil, nil, nil)
}
