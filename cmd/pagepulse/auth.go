package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"
)

func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "email",
			Usage:    "Account email address",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "password",
			Usage:    "Account password",
			Sources:  cli.EnvVars("PAGEPULSE_PASSWORD"),
			Required: true,
		},
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Create an account and sign in",
		Flags: append(credentialFlags(), &cli.StringFlag{
			Name:     "username",
			Usage:    "Display name",
			Required: true,
		}),
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}

			resp, err := a.api.Register(ctx, c.String("username"), c.String("email"), c.String("password"))
			if err != nil {
				return fmt.Errorf("registering: %w", err)
			}
			s, err := a.signIn(resp)
			if err != nil {
				return err
			}

			a.out.println(titleStyle.Render("Welcome to PagePulse, " + s.Username + "!"))
			return nil
		},
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in and remember the session",
		Flags: credentialFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}

			resp, err := a.api.Login(ctx, c.String("email"), c.String("password"))
			if err != nil {
				return fmt.Errorf("signing in: %w", err)
			}
			s, err := a.signIn(resp)
			if err != nil {
				return err
			}

			a.out.println("Signed in as " + titleStyle.Render(s.Username))
			return nil
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Sign out and forget the session",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}

			_, api, err := a.authed()
			if err != nil && !errors.Is(err, errSignedOut) {
				a.log.Printf("error loading session: %v", err)
			}
			if api != nil {
				if err := api.Logout(ctx); err != nil {
					a.log.Printf("error signing out remotely: %v", err)
				}
			}

			if err := a.store.Clear(); err != nil {
				return fmt.Errorf("clearing session: %w", err)
			}
			a.out.println("Signed out")
			return nil
		},
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the signed-in user",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}

			s, api, err := a.authed()
			if err != nil {
				return err
			}
			u, err := api.Session(ctx)
			if err != nil {
				return fmt.Errorf("checking session: %w", err)
			}

			a.out.printf("%s %s\n", titleStyle.Render(u.Username), metaStyle.Render(u.Id))
			if !s.Expires.IsZero() {
				a.out.println(metaStyle.Render("session expires " + s.Expires.Local().Format("2006-01-02 15:04")))
			}
			return nil
		},
	}
}

