package main

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/conversation"
)

// transcript remembers which messages were already printed. Messages are
// identified by client id when they carry one so the confirmation of an
// optimistic send is not printed twice.
type transcript struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newTranscript() *transcript {
	return &transcript{seen: make(map[string]struct{})}
}

func messageKey(m conversation.Message) string {
	if m.ClientId != "" {
		return m.ClientId
	}
	return m.Id
}

// fresh returns the messages not seen before and marks them as seen.
func (t *transcript) fresh(msgs []conversation.Message) []conversation.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []conversation.Message
	for _, m := range msgs {
		k := messageKey(m)
		if _, ok := t.seen[k]; ok {
			continue
		}
		t.seen[k] = struct{}{}
		out = append(out, m)
	}
	return out
}

func (t *transcript) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = make(map[string]struct{})
}

// popupWatcher prints each popup of the merger once.
type popupWatcher struct {
	mu      sync.Mutex
	lastSeq uint64
}

func (w *popupWatcher) check(m *conversation.Merger, out *console) {
	p, ok := m.Popup()
	if !ok {
		return
	}

	w.mu.Lock()
	if p.Seq <= w.lastSeq {
		w.mu.Unlock()
		return
	}
	w.lastSeq = p.Seq
	w.mu.Unlock()

	out.println(renderPopup(p))
}

// parseInput splits an input line into a command and its argument. Plain
// text is a "say" command and an empty line turns the page.
func parseInput(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "next", ""
	}
	if !strings.HasPrefix(line, ":") {
		return "say", line
	}

	cmd, arg, _ = strings.Cut(line[1:], " ")
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "n":
		cmd = "next"
	case "p":
		cmd = "prev"
	case "g":
		cmd = "goto"
	case "f":
		cmd = "fsay"
	case "q", "quit":
		cmd = "exit"
	}
	return cmd, strings.TrimSpace(arg)
}

// readLines feeds the lines of r to the returned channel until r is
// exhausted or ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// cutArg splits the first word off arg.
func cutArg(arg string) (first, rest string, ok bool) {
	first, rest, ok = strings.Cut(strings.TrimSpace(arg), " ")
	return first, strings.TrimSpace(rest), ok
}
