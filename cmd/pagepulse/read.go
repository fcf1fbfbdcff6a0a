package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/pager"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/presence"
	"github.com/urfave/cli/v3"
)

const readHelp = `commands:
  <enter>, :n         next page
  :p                  previous page
  :g <page>           go to page
  <text>              send to the room
  :f <text>           send to friends in the room
  :view all|friends   switch between the public and friends-only chat
  :more               load earlier messages
  :who                show who is reading
  :invite <user>      invite a user to this book
  :dm <user> <text>   send a private message
  :q                  quit`

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Open a book and chat with everyone reading it",
		ArgsUsage: "<book id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "page",
				Usage: "Page to open the book at",
			},
			&cli.BoolFlag{
				Name:  "friends",
				Usage: "Start in the friends-only chat",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			bookId, err := requireArg(c, "book id")
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

			r := newReader(a, l, bookId, c.Bool("friends"))
			defer r.close()
			return r.run(ctx, c.Int("page"))
		},
	}
}

// reader is an interactive reading session of one book.
type reader struct {
	app     *app
	live    *live
	bookId  string
	roomKey string
	pager   *pager.Pager
	tracker *presence.Tracker
	seen    *transcript
	popups  popupWatcher

	friendsOnly  atomic.Bool
	loadingOlder atomic.Bool

	mu        sync.Mutex
	page      int
	lastState pager.State
	lastCount int
}

func newReader(a *app, l *live, bookId string, friendsOnly bool) *reader {
	r := &reader{
		app:    a,
		live:   l,
		bookId: bookId,
		seen:   newTranscript(),
	}
	r.friendsOnly.Store(friendsOnly)

	r.pager = pager.New(
		l.api,
		a.log,
		pager.WithBatchSize(a.cfg.BatchSize),
		pager.WithPreloadThreshold(a.cfg.PreloadThreshold),
		pager.WithPollInterval(a.cfg.PollInterval.Duration),
	)
	r.tracker = presence.NewTracker(
		l.sock,
		l.resolver,
		a.log,
		presence.WithActiveUsersDelay(a.cfg.ActiveUsersDelay.Duration),
	)
	return r
}

func (r *reader) run(ctx context.Context, startPage int) error {
	out := r.app.out

	r.pager.OnChange(r.pagerChanged)
	if err := r.pager.Initialize(ctx, r.bookId); err != nil {
		return fmt.Errorf("opening book: %w", err)
	}

	book := r.pager.Book()
	out.println(titleStyle.Render(book.Title) + " " + metaStyle.Render(book.Author))

	r.tracker.OnChange(r.presenceChanged)
	if err := r.tracker.Join(r.bookId, r.live.session.UserId); err != nil {
		r.app.log.Printf("error joining room %s: %v", r.bookId, err)
	}

	r.roomKey = r.live.merger.OpenRoom(r.bookId)
	r.live.merger.OnChange(r.chatChanged)
	r.live.merger.Focus(r.roomKey)
	r.loadOlder(ctx)

	r.show(ctx, startPage)
	out.println(metaStyle.Render("type :help for commands"))

	lines := readLines(ctx, os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := r.handle(ctx, line); done {
				return nil
			}
		}
	}
}

func (r *reader) close() {
	r.live.merger.OnChange(nil)
	if err := r.tracker.Leave(); err != nil {
		r.app.log.Printf("error leaving room %s: %v", r.bookId, err)
	}
	r.pager.Close()
}

func (r *reader) handle(ctx context.Context, line string) bool {
	out := r.app.out
	cmd, arg := parseInput(line)

	switch cmd {
	case "next":
		r.turn(ctx, 1)
	case "prev":
		r.turn(ctx, -1)
	case "goto":
		n, err := strconv.Atoi(arg)
		if err != nil {
			out.errorln(fmt.Errorf("invalid page %q", arg))
			return false
		}
		r.show(ctx, n)
	case "say", "fsay":
		if arg == "" {
			return false
		}
		if _, err := r.live.merger.SendBroadcast(r.bookId, arg, cmd == "fsay"); err != nil {
			out.errorln(fmt.Errorf("message not sent: %w", err))
		}
	case "view":
		switch arg {
		case "friends":
			r.friendsOnly.Store(true)
		case "all", "":
			r.friendsOnly.Store(false)
		default:
			out.errorln(fmt.Errorf("unknown view %q", arg))
			return false
		}
		r.seen.reset()
		r.printChat("")
	case "more":
		r.loadOlder(ctx)
	case "who":
		visible, more := r.tracker.Visible(r.app.cfg.VisibleUsers)
		out.println(renderPresence(visible, more))
	case "invite":
		u, err := findUser(ctx, r.live.api, arg)
		if err != nil {
			out.errorln(err)
			return false
		}
		if _, err := r.live.api.Invite(ctx, u.Id, r.bookId); err != nil {
			out.errorln(fmt.Errorf("sending invitation: %w", err))
			return false
		}
		out.println("Invitation sent to " + senderStyle.Render(u.Username))
	case "dm":
		name, body, _ := cutArg(arg)
		if name == "" || body == "" {
			out.errorln(errors.New("usage: :dm <user> <text>"))
			return false
		}
		u, err := findUser(ctx, r.live.api, name)
		if err != nil {
			out.errorln(err)
			return false
		}
		if _, err := r.live.merger.SendDirect(u.Id, body); err != nil {
			out.errorln(fmt.Errorf("message not sent: %w", err))
		}
	case "help":
		out.println(readHelp)
	case "exit":
		return true
	default:
		out.errorln(fmt.Errorf("unknown command :%s, type :help", cmd))
	}
	return false
}

func (r *reader) turn(ctx context.Context, delta int) {
	r.mu.Lock()
	target := r.page + delta
	r.mu.Unlock()

	if target < 0 || target >= r.pager.Len() {
		r.app.out.println(metaStyle.Render("no more pages"))
		return
	}
	r.show(ctx, target)
}

// show loads and prints page target, then preloads ahead of it.
func (r *reader) show(ctx context.Context, target int) {
	out := r.app.out

	err := r.pager.JumpTo(ctx, target)
	switch {
	case errors.Is(err, pager.ErrNotReady):
		out.println(metaStyle.Render(r.pager.Status().Message))
		target = 0
	case errors.Is(err, pager.ErrOutOfRange):
		out.errorln(fmt.Errorf("page %d is out of range 0-%d", target, r.pager.Len()-1))
		return
	case err != nil:
		out.errorln(err)
		return
	}

	content, ok := r.pager.Page(target)
	if !ok {
		out.errorln(fmt.Errorf("page %d is not loaded", target))
		return
	}

	r.mu.Lock()
	r.page = target
	r.mu.Unlock()
	out.println(renderPage(target, content))

	if err := r.pager.MaybePreload(ctx, pager.Spread(target)); err != nil {
		r.app.log.Printf("error preloading: %v", err)
	}
}

func (r *reader) pagerChanged(st pager.Status) {
	r.mu.Lock()
	prev := r.lastState
	r.lastState = st.State
	r.mu.Unlock()

	if st.State == prev {
		return
	}
	switch st.State {
	case pager.Waiting:
		r.app.out.println(metaStyle.Render(st.Message))
	case pager.Ready:
		if prev == pager.Waiting {
			r.app.out.println(titleStyle.Render(fmt.Sprintf("The book is ready, %d pages. Press enter to start.", st.TotalPages)))
		}
	case pager.Failed:
		r.app.out.errorln(errors.New(st.Message))
	}
}

func (r *reader) presenceChanged(snap presence.Snapshot) {
	r.mu.Lock()
	changed := snap.Count != r.lastCount
	r.lastCount = snap.Count
	r.mu.Unlock()

	if changed {
		r.app.out.println(metaStyle.Render(fmt.Sprintf("%d reading", snap.Count)))
	}
}

func (r *reader) chatChanged(key string) {
	switch {
	case key == "":
	case key == r.roomKey:
		if !r.loadingOlder.Load() {
			r.printChat("")
		}
	default:
		r.popups.check(r.live.merger, r.app.out)
	}
}

// printChat prints the messages of the current view that were not printed
// yet, under header when there are any.
func (r *reader) printChat(header string) {
	msgs := r.seen.fresh(r.live.merger.View(r.roomKey, r.friendsOnly.Load()))
	if len(msgs) > 0 && header != "" {
		r.app.out.println(metaStyle.Render(header))
	}
	for _, m := range msgs {
		r.app.out.println(renderMessage(m, r.live.session.UserId))
	}
}

func (r *reader) loadOlder(ctx context.Context) {
	if !r.live.merger.HasMore(r.roomKey) {
		r.app.out.println(metaStyle.Render("no earlier messages"))
		return
	}

	r.loadingOlder.Store(true)
	err := r.live.merger.LoadOlder(ctx, r.roomKey)
	r.loadingOlder.Store(false)
	if err != nil {
		r.app.out.errorln(err)
		return
	}
	r.printChat("earlier messages")
}
