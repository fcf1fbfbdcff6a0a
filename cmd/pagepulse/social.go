package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/apiclient"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"github.com/urfave/cli/v3"
)

// findUser resolves a username to a user. Anything that matches no username
// exactly is tried as a user id.
func findUser(ctx context.Context, api *apiclient.Client, name string) (types.User, error) {
	users, err := api.SearchUsers(ctx, name, 20)
	if err != nil {
		return types.User{}, fmt.Errorf("searching users: %w", err)
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, name) {
			return u, nil
		}
	}

	u, err := api.FetchUser(ctx, name)
	if err != nil {
		if apiclient.IsStatus(err, http.StatusNotFound) {
			return types.User{}, fmt.Errorf("no user named %q", name)
		}
		return types.User{}, err
	}
	return u, nil
}

func requireArg(c *cli.Command, name string) (string, error) {
	v := strings.TrimSpace(c.Args().First())
	if v == "" {
		return "", fmt.Errorf("missing %s", name)
	}
	return v, nil
}

func friendsCommand() *cli.Command {
	return &cli.Command{
		Name:   "friends",
		Usage:  "Manage friends",
		Action: listFriends,
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List friends",
				Action: listFriends,
			},
			{
				Name:      "search",
				Usage:     "Search users by name",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of users to show",
						Value: 20,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					q, err := requireArg(c, "query")
					if err != nil {
						return err
					}
					a, err := newApp(c)
					if err != nil {
						return err
					}
					_, api, err := a.authed()
					if err != nil {
						return err
					}

					users, err := api.SearchUsers(ctx, q, c.Int("limit"))
					if err != nil {
						return err
					}
					if len(users) == 0 {
						a.out.println(metaStyle.Render("no users found"))
					}
					for _, u := range users {
						a.out.printf("%s %s\n", senderStyle.Render(u.Username), metaStyle.Render(u.Id))
					}
					return nil
				},
			},
			{
				Name:      "add",
				Usage:     "Send a friend request",
				ArgsUsage: "<username>",
				Action: func(ctx context.Context, c *cli.Command) error {
					name, err := requireArg(c, "username")
					if err != nil {
						return err
					}
					a, err := newApp(c)
					if err != nil {
						return err
					}
					_, api, err := a.authed()
					if err != nil {
						return err
					}

					u, err := findUser(ctx, api, name)
					if err != nil {
						return err
					}
					if _, err := api.SendFriendRequest(ctx, u.Id); err != nil {
						return fmt.Errorf("sending friend request: %w", err)
					}
					a.out.println("Friend request sent to " + senderStyle.Render(u.Username))
					return nil
				},
			},
			{
				Name:   "requests",
				Usage:  "List pending friend requests",
				Action: listFriendRequests,
			},
			{
				Name:      "accept",
				Usage:     "Accept a friend request",
				ArgsUsage: "<request id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					return answerFriendRequest(ctx, c, true)
				},
			},
			{
				Name:      "reject",
				Usage:     "Reject a friend request",
				ArgsUsage: "<request id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					return answerFriendRequest(ctx, c, false)
				},
			},
		},
	}
}

func listFriends(ctx context.Context, c *cli.Command) error {
	a, err := newApp(c)
	if err != nil {
		return err
	}
	_, api, err := a.authed()
	if err != nil {
		return err
	}

	friends, err := api.Friends(ctx)
	if err != nil {
		return fmt.Errorf("listing friends: %w", err)
	}
	if len(friends) == 0 {
		a.out.println(metaStyle.Render("no friends yet, try pagepulse friends add <username>"))
		return nil
	}
	for _, f := range friends {
		a.out.println(senderStyle.Render(f.Username))
	}
	return nil
}

func listFriendRequests(ctx context.Context, c *cli.Command) error {
	a, err := newApp(c)
	if err != nil {
		return err
	}
	_, api, err := a.authed()
	if err != nil {
		return err
	}

	requests, err := api.FriendRequests(ctx)
	if err != nil {
		return fmt.Errorf("listing friend requests: %w", err)
	}
	if len(requests) == 0 {
		a.out.println(metaStyle.Render("no pending requests"))
	}
	for _, fr := range requests {
		a.out.printf("%s from %s\n", metaStyle.Render(fr.Id), senderStyle.Render(fr.From.Username))
	}
	return nil
}

func answerFriendRequest(ctx context.Context, c *cli.Command, accept bool) error {
	id, err := requireArg(c, "request id")
	if err != nil {
		return err
	}
	a, err := newApp(c)
	if err != nil {
		return err
	}
	_, api, err := a.authed()
	if err != nil {
		return err
	}

	if !accept {
		if _, err := api.RejectFriendRequest(ctx, id); err != nil {
			return fmt.Errorf("rejecting friend request: %w", err)
		}
		a.out.println("Friend request rejected")
		return nil
	}

	fr, err := api.AcceptFriendRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("accepting friend request: %w", err)
	}
	a.out.println("You are now friends with " + senderStyle.Render(fr.From.Username))
	return nil
}

func inviteCommand() *cli.Command {
	return &cli.Command{
		Name:      "invite",
		Usage:     "Invite a friend to read a book with you",
		ArgsUsage: "<username> <book id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("usage: pagepulse invite <username> <book id>")
			}
			a, err := newApp(c)
			if err != nil {
				return err
			}
			_, api, err := a.authed()
			if err != nil {
				return err
			}

			u, err := findUser(ctx, api, c.Args().Get(0))
			if err != nil {
				return err
			}
			if _, err := api.Invite(ctx, u.Id, c.Args().Get(1)); err != nil {
				return fmt.Errorf("sending invitation: %w", err)
			}
			a.out.println("Invitation sent to " + senderStyle.Render(u.Username))
			return nil
		},
	}
}

func notificationsCommand() *cli.Command {
	return &cli.Command{
		Name:    "notifications",
		Aliases: []string{"inbox"},
		Usage:   "List notifications",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			_, api, err := a.authed()
			if err != nil {
				return err
			}

			list, err := api.Notifications(ctx)
			if err != nil {
				return fmt.Errorf("listing notifications: %w", err)
			}
			if len(list) == 0 {
				a.out.println(metaStyle.Render("no notifications"))
			}
			for _, n := range list {
				a.out.printf("%s %s %s\n",
					metaStyle.Render(n.CreatedAt.Local().Format("Jan 2 15:04")),
					n.Message,
					metaStyle.Render(n.Id),
				)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "rm",
				Usage:     "Delete a notification",
				ArgsUsage: "<notification id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id, err := requireArg(c, "notification id")
					if err != nil {
						return err
					}
					a, err := newApp(c)
					if err != nil {
						return err
					}
					_, api, err := a.authed()
					if err != nil {
						return err
					}

					if err := api.DeleteNotification(ctx, id); err != nil {
						return fmt.Errorf("deleting notification: %w", err)
					}
					a.out.println("Notification deleted")
					return nil
				},
			},
		},
	}
}
