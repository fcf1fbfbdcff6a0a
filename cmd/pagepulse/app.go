package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/apiclient"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/config"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/conversation"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/notify"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/pager"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/profile"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/realtime"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/session"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

var (
	_ pager.Source                = (*apiclient.Client)(nil)
	_ profile.Fetcher             = (*apiclient.Client)(nil)
	_ conversation.HistoryFetcher = (*apiclient.Client)(nil)
	_ realtime.Socket             = (*realtime.Manager)(nil)
)

var errSignedOut = errors.New("not signed in, run pagepulse login")

type app struct {
	cfg   *config.ClientConfig
	log   *log.Logger
	api   *apiclient.Client
	store *session.Store
	out   *console
}

func newApp(c *cli.Command) (*app, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.LoadClientConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	var w io.Writer = io.Discard
	if c.Bool("debug") {
		w = os.Stderr
	}
	logger := log.New(w, "[pagepulse] ", log.LstdFlags)

	api, err := apiclient.New(cfg.Server, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:   cfg,
		log:   logger,
		api:   api,
		store: session.NewStore(cfg.SessionFile, logger),
		out:   &console{out: os.Stdout},
	}, nil
}

// signIn persists the credential from a successful login or registration.
func (a *app) signIn(resp types.AuthResponse) (types.Session, error) {
	s, err := session.FromToken(resp.Token)
	if err != nil {
		return types.Session{}, err
	}
	if s.Username == "" {
		s.Username = resp.User.Username
	}
	s.Avatar = resp.User.Avatar

	if err := a.store.Save(s); err != nil {
		return types.Session{}, fmt.Errorf("saving session: %w", err)
	}
	return s, nil
}

// authed returns the stored session and a client that sends its token.
func (a *app) authed() (types.Session, *apiclient.Client, error) {
	s, err := a.store.Load()
	switch {
	case errors.Is(err, session.ErrNoSession):
		return types.Session{}, nil, errSignedOut
	case errors.Is(err, session.ErrExpired):
		return types.Session{}, nil, fmt.Errorf("session expired, run pagepulse login")
	case err != nil:
		return types.Session{}, nil, err
	}
	return s, a.api.WithToken(s.Token), nil
}

// live is a realtime session with the components every interactive command
// shares.
type live struct {
	session  types.Session
	api      *apiclient.Client
	sock     *realtime.Manager
	resolver *profile.Resolver
	merger   *conversation.Merger
	alerts   *notify.Dispatcher
	cancel   func()
}

func (a *app) connect(ctx context.Context) (*live, error) {
	s, api, err := a.authed()
	if err != nil {
		return nil, err
	}

	cache := profile.NewCache()
	cache.Store(s.Profile())
	friends, err := api.Friends(ctx)
	if err != nil {
		if apiclient.IsStatus(err, http.StatusUnauthorized) {
			a.store.Clear()
			return nil, errSignedOut
		}
		a.log.Printf("error loading friends: %v", err)
	}
	cache.StoreFriends(friends)
	resolver := profile.NewResolver(cache, api, a.log)

	sock := realtime.NewManager(
		a.cfg.WebsocketURL(),
		a.log,
		realtime.WithBackoff(a.cfg.ReconnectMin.Duration, a.cfg.ReconnectMax.Duration),
	)
	var wasConnected atomic.Bool
	cancelState := sock.OnStateChange(func(st realtime.State) {
		a.log.Printf("connection %s", st)
		switch {
		case st == realtime.Connected:
			wasConnected.Store(true)
		case st == realtime.Connecting && wasConnected.Swap(false):
			a.out.println(metaStyle.Render("connection lost, reconnecting..."))
		}
	})
	if err := sock.Connect(ctx, s); err != nil {
		cancelState()
		return nil, fmt.Errorf("connecting to %s: %w", a.cfg.WebsocketURL(), err)
	}

	merger := conversation.NewMerger(
		sock,
		api,
		s,
		a.log,
		conversation.WithPopups(a.cfg.Popups),
		conversation.WithPopupDuration(a.cfg.PopupDuration.Duration),
		conversation.WithPageSize(a.cfg.BatchSize),
		conversation.WithProfiles(resolver),
	)

	alerts := notify.NewDispatcher(sock, a.log, notify.WithDuration(a.cfg.AlertDuration.Duration))
	alerts.OnChange(func(al *notify.Alert) {
		if al != nil {
			a.out.println(renderAlert(*al))
		}
	})

	return &live{
		session:  s,
		api:      api,
		sock:     sock,
		resolver: resolver,
		merger:   merger,
		alerts:   alerts,
		cancel:   cancelState,
	}, nil
}

func (l *live) Close() {
	l.alerts.Close()
	l.merger.Close()
	l.cancel()
	l.sock.Disconnect()
}
