package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/config"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "pagepulse",
		Usage: "Read books together from the terminal",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Configuration file path",
				Value: defaultConfigPathOrExit(),
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			registerCommand(),
			loginCommand(),
			logoutCommand(),
			whoamiCommand(),
			readCommand(),
			dmCommand(),
			friendsCommand(),
			inviteCommand(),
			notificationsCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func defaultConfigPathOrExit() string {
	dir, err := config.GetDefaultConfigDir()
	if err != nil {
		log.Fatalf("failed to get default config dir: %v", err)
	}
	return filepath.Join(dir, "config.toml")
}
