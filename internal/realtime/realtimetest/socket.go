// Package realtimetest provides an in-memory realtime.Socket for tests.
package realtimetest

import (
	"sync"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/realtime"
)

type Emitted struct {
	Event   string
	Payload any
}

// Socket records emitted events and lets tests deliver inbound ones
// synchronously, the way the read goroutine of a real connection would.
type Socket struct {
	mu       sync.Mutex
	emitted  []Emitted
	handlers map[string]map[int]realtime.Handler
	nextId   int
	err      error
	stateFns map[int]func(realtime.State)
}

func New() *Socket {
	return &Socket{
		handlers: make(map[string]map[int]realtime.Handler),
		stateFns: make(map[int]func(realtime.State)),
	}
}

// SetErr makes subsequent Emit calls fail with err. Failed emits are not
// recorded.
func (s *Socket) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Socket) Emit(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.emitted = append(s.emitted, Emitted{Event: event, Payload: payload})
	return nil
}

func (s *Socket) Subscribe(event string, h realtime.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextId++
	id := s.nextId
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[int]realtime.Handler)
	}
	s.handlers[event][id] = h

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers[event], id)
	}
}

func (s *Socket) OnStateChange(fn func(realtime.State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextId++
	id := s.nextId
	s.stateFns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.stateFns, id)
	}
}

// SetState notifies every state observer.
func (s *Socket) SetState(st realtime.State) {
	s.mu.Lock()
	fns := make([]func(realtime.State), 0, len(s.stateFns))
	for _, fn := range s.stateFns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// Deliver encodes payload as an inbound event and runs every handler
// subscribed to it.
func (s *Socket) Deliver(event string, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		panic(err)
	}

	s.mu.Lock()
	hs := make([]realtime.Handler, 0, len(s.handlers[event]))
	for _, h := range s.handlers[event] {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	for _, h := range hs {
		h(env)
	}
}

// Emitted returns every recorded emit of event, or all of them when event
// is empty.
func (s *Socket) Emitted(event string) []Emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Emitted
	for _, e := range s.emitted {
		if event == "" || e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Subscribers returns how many handlers are registered for event.
func (s *Socket) Subscribers(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers[event])
}
