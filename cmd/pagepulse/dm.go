package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"
)

func dmCommand() *cli.Command {
	return &cli.Command{
		Name:      "dm",
		Usage:     "Chat privately with a friend",
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

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			l, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			peer, err := findUser(ctx, l.api, name)
			if err != nil {
				return err
			}
			l.resolver.Cache().Store(peer.Profile())

			var popups popupWatcher
			seen := newTranscript()
			key := l.merger.OpenDirect(peer.Id)
			printNew := func() {
				for _, m := range seen.fresh(l.merger.Messages(key)) {
					a.out.println(renderMessage(m, l.session.UserId))
				}
			}
			l.merger.OnChange(func(k string) {
				switch k {
				case "":
				case key:
					printNew()
				default:
					popups.check(l.merger, a.out)
				}
			})
			defer l.merger.OnChange(nil)
			l.merger.Focus(key)

			a.out.println(titleStyle.Render("Chatting with " + peer.Username))
			if err := l.merger.LoadOlder(ctx, key); err != nil {
				return err
			}
			a.out.println(metaStyle.Render("type a message, :more for earlier messages, :q to quit"))

			lines := readLines(ctx, os.Stdin)
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					cmd, arg := parseInput(line)
					switch cmd {
					case "next":
					case "say":
						if _, err := l.merger.SendDirect(peer.Id, arg); err != nil {
							a.out.errorln(fmt.Errorf("message not sent: %w", err))
						}
					case "more":
						if !l.merger.HasMore(key) {
							a.out.println(metaStyle.Render("no earlier messages"))
							continue
						}
						if err := l.merger.LoadOlder(ctx, key); err != nil {
							a.out.errorln(err)
						}
					case "exit":
						return nil
					default:
						a.out.errorln(fmt.Errorf("unknown command :%s", cmd))
					}
				}
			}
		},
	}
}
