// Package notify turns realtime notification events into transient alerts.
// Only one alert is shown at a time; a newer alert replaces the current one.
package notify

import (
	"log"
	"sync"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/realtime"
)

const DefaultDuration = 5 * time.Second

type Category string

const (
	Info    Category = "info"
	Success Category = "success"
	Invite  Category = "invite"
	Welcome Category = "welcome"
)

var categories = map[string]Category{
	protocol.KindFriendRequested: Info,
	protocol.KindFriendAccepted:  Success,
	protocol.KindInvitation:      Invite,
	protocol.KindWelcome:         Welcome,
}

// CategoryOf returns the presentation category of a notification kind.
func CategoryOf(kind string) (Category, bool) {
	c, ok := categories[kind]
	return c, ok
}

type Alert struct {
	Kind     string
	Message  string
	Category Category
}

type Option func(*Dispatcher)

func WithDuration(dur time.Duration) Option {
	return func(d *Dispatcher) { d.duration = dur }
}

type Dispatcher struct {
	log      *log.Logger
	duration time.Duration
	unsub    func()

	mu       sync.Mutex
	current  *Alert
	timer    *time.Timer
	gen      uint64
	onChange func(*Alert)
}

// NewDispatcher subscribes to notification events on sock.
func NewDispatcher(sock realtime.Socket, l *log.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{log: l, duration: DefaultDuration}
	for _, opt := range opts {
		opt(d)
	}
	d.unsub = sock.Subscribe(protocol.EventNotification, d.handle)
	return d
}

func (d *Dispatcher) handle(env *protocol.Envelope) {
	var n protocol.Notification
	if err := env.Decode(&n); err != nil {
		d.log.Println("notify:", err)
		return
	}
	d.Show(n.Type, n.Message)
}

// Show displays an alert for kind, replacing any alert on screen. Unknown
// kinds are dropped.
func (d *Dispatcher) Show(kind, message string) bool {
	cat, ok := CategoryOf(kind)
	if !ok {
		d.log.Printf("notify: unknown notification kind %q", kind)
		return false
	}

	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.current = &Alert{Kind: kind, Message: message, Category: cat}
	d.timer = time.AfterFunc(d.duration, func() { d.expire(gen) })
	a, fn := *d.current, d.onChange
	d.mu.Unlock()

	if fn != nil {
		fn(&a)
	}
	return true
}

func (d *Dispatcher) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.current = nil
	d.timer = nil
	fn := d.onChange
	d.mu.Unlock()

	if fn != nil {
		fn(nil)
	}
}

// Current returns the alert on screen, if any.
func (d *Dispatcher) Current() (Alert, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return Alert{}, false
	}
	return *d.current, true
}

// Dismiss hides the current alert.
func (d *Dispatcher) Dismiss() {
	d.mu.Lock()
	if d.current == nil {
		d.mu.Unlock()
		return
	}
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.current = nil
	fn := d.onChange
	d.mu.Unlock()

	if fn != nil {
		fn(nil)
	}
}

// OnChange sets the callback invoked with the new alert, or nil when the
// alert is hidden.
func (d *Dispatcher) OnChange(fn func(*Alert)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

func (d *Dispatcher) Close() {
	d.Dismiss()
	d.unsub()
}
