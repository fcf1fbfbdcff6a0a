package main

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/conversation"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/notify"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	pageStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Width(72)

	senderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	selfStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("33"))

	friendsOnlyStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("213"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	popupStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)

	alertColors = map[notify.Category]lipgloss.Color{
		notify.Info:    lipgloss.Color("33"),
		notify.Success: lipgloss.Color("42"),
		notify.Invite:  lipgloss.Color("213"),
		notify.Welcome: lipgloss.Color("86"),
	}
)

var (
	blockEnd   = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|blockquote)>|<br\s*/?>`)
	anyTag     = regexp.MustCompile(`(?s)<[^>]*>`)
	blankLines = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+`)
)

// htmlToText flattens page markup to plain text, one paragraph per block.
func htmlToText(s string) string {
	s = blockEnd.ReplaceAllString(s, "\n\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func renderPage(index int, content string) string {
	header := metaStyle.Render(fmt.Sprintf("page %d", index))
	if index == 0 {
		header = metaStyle.Render("cover")
	}
	return header + "\n" + pageStyle.Render(htmlToText(content))
}

func renderMessage(m conversation.Message, selfId string) string {
	name := senderStyle.Render(m.Sender.Username)
	if m.Sender.Id == selfId {
		name = selfStyle.Render(m.Sender.Username)
	}

	line := fmt.Sprintf("%s %s %s", metaStyle.Render(m.SentAt.Local().Format("15:04")), name, m.Body)
	if m.FriendsOnly {
		line += " " + friendsOnlyStyle.Render("[friends]")
	}
	if m.Status == conversation.Sending {
		line += " " + metaStyle.Render("(sending)")
	}
	return line
}

// renderPresence lists the first limit readers and how many more there are.
func renderPresence(visible []types.Profile, more int) string {
	if len(visible) == 0 && more == 0 {
		return metaStyle.Render("no readers yet")
	}

	names := make([]string, len(visible))
	for i, p := range visible {
		names[i] = p.Username
	}
	line := strings.Join(names, ", ")
	if more > 0 {
		line += fmt.Sprintf(" +%d", more)
	}
	return metaStyle.Render("reading now: ") + line
}

func renderAlert(a notify.Alert) string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(alertColors[a.Category]).
		Render("● " + a.Message)
}

func renderPopup(p conversation.Popup) string {
	return popupStyle.Render(senderStyle.Render(p.Sender.Username) + ": " + p.Body)
}

// console serializes output from the input loop and event callbacks.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *console) println(a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, a...)
}

func (c *console) printf(format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, a...)
}

func (c *console) errorln(err error) {
	c.println(errorStyle.Render("error: " + err.Error()))
}
